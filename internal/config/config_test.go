package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.Hub.DirectURL = "https://chat.example.com/hubs/direct"
	cfg.Attachments.Expiration = Duration{5 * time.Minute}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Hub.DirectURL != cfg.Hub.DirectURL {
		t.Errorf("Hub.DirectURL = %q, want %q", loaded.Hub.DirectURL, cfg.Hub.DirectURL)
	}
	if loaded.Attachments.Expiration.Duration != 5*time.Minute {
		t.Errorf("Attachments.Expiration = %v, want 5m", loaded.Attachments.Expiration)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}

	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.History.PageSize != 20 {
		t.Errorf("PageSize = %d, want default 20", cfg.History.PageSize)
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
default_profile = "main"

[hub]
group_url = "wss://chat.example.com/hubs/group"

[attachments]
wait_timeout = "3s"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Attachments.WaitTimeout.Duration != 3*time.Second {
		t.Errorf("WaitTimeout = %v, want 3s", cfg.Attachments.WaitTimeout)
	}
	if cfg.Attachments.Expiration.Duration != 10*time.Minute {
		t.Errorf("Expiration = %v, want default 10m", cfg.Attachments.Expiration)
	}
	if cfg.Reconnect.MaxAttempts != 10 {
		t.Errorf("Reconnect.MaxAttempts = %d, want default 10", cfg.Reconnect.MaxAttempts)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[hub]\nkeepalive = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for malformed duration")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestForProfile(t *testing.T) {
	cfg := Default()
	cfg.Hub.DirectURL = "https://global.example.com/direct"
	cfg.Hub.AccessToken = "global-token"
	cfg.Profiles = map[string]ProfileOverride{
		"staging": {DirectURL: "https://staging.example.com/direct", Viewer: "bob"},
	}

	got := cfg.ForProfile("staging")
	if got.Hub.DirectURL != "https://staging.example.com/direct" {
		t.Errorf("DirectURL = %q, want staging override", got.Hub.DirectURL)
	}
	if got.Hub.AccessToken != "global-token" {
		t.Errorf("AccessToken = %q, want global value kept", got.Hub.AccessToken)
	}
	if got.Hub.Viewer != "bob" {
		t.Errorf("Viewer = %q, want %q", got.Hub.Viewer, "bob")
	}
	if cfg.Hub.DirectURL != "https://global.example.com/direct" {
		t.Error("ForProfile modified the receiver")
	}

	if other := cfg.ForProfile("unknown"); other.Hub.DirectURL != cfg.Hub.DirectURL {
		t.Errorf("unknown profile DirectURL = %q, want global", other.Hub.DirectURL)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CHATSYNC_DIRECT_URL":     "https://env.example.com/direct",
		"CHATSYNC_ACCESS_TOKEN":   "env-token",
		"CHATSYNC_PAGE_SIZE":      "50",
		"CHATSYNC_URL_EXPIRATION": "15m",
		"CHATSYNC_RECONNECT":      "false",
		"CHATSYNC_RESOLVER":       "s3",
	}
	cfg := Default()
	if err := cfg.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.Hub.DirectURL != env["CHATSYNC_DIRECT_URL"] {
		t.Errorf("DirectURL = %q", cfg.Hub.DirectURL)
	}
	if cfg.Hub.AccessToken != "env-token" {
		t.Errorf("AccessToken = %q", cfg.Hub.AccessToken)
	}
	if cfg.History.PageSize != 50 {
		t.Errorf("PageSize = %d, want 50", cfg.History.PageSize)
	}
	if cfg.Attachments.Expiration.Duration != 15*time.Minute {
		t.Errorf("Expiration = %v, want 15m", cfg.Attachments.Expiration)
	}
	if !cfg.Reconnect.Disabled {
		t.Error("Reconnect.Disabled = false, want true")
	}
	if cfg.Attachments.Resolver != ResolverS3 {
		t.Errorf("Resolver = %q, want s3", cfg.Attachments.Resolver)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"CHATSYNC_PAGE_SIZE", "many"},
		{"CHATSYNC_URL_EXPIRATION", "later"},
		{"CHATSYNC_RECONNECT", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := Default().ApplyEnv(func(k string) string {
				if k == tt.key {
					return tt.value
				}
				return ""
			})
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("ApplyEnv() error = %v, want error naming %s", err, tt.key)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CHATSYNC_TEST_VIEWER=carol\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHATSYNC_TEST_VIEWER", "")
	os.Unsetenv("CHATSYNC_TEST_VIEWER")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}
	if got := os.Getenv("CHATSYNC_TEST_VIEWER"); got != "carol" {
		t.Errorf("CHATSYNC_TEST_VIEWER = %q, want %q", got, "carol")
	}

	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("LoadEnvFile(missing) error = %v, want nil", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Hub.DirectURL = "https://chat.example.com/hubs/direct"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no hubs", func(c *Config) { c.Hub.DirectURL = "" }, "at least one"},
		{"bad scheme", func(c *Config) { c.Hub.GroupURL = "ftp://x" }, "group_url"},
		{"page size", func(c *Config) { c.History.PageSize = 0 }, "page_size"},
		{"margin", func(c *Config) { c.Attachments.ProactiveMargin = Duration{time.Hour} }, "proactive_margin"},
		{"s3 without bucket", func(c *Config) { c.Attachments.Resolver = ResolverS3 }, "bucket"},
		{"unknown resolver", func(c *Config) { c.Attachments.Resolver = "ftp" }, "unknown resolver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
