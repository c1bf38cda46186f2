package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration is a time.Duration written as a string ("10m", "1s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultProfile string                     `toml:"default_profile"`
	Hub            Hub                        `toml:"hub"`
	Reconnect      Reconnect                  `toml:"reconnect"`
	History        History                    `toml:"history"`
	Attachments    Attachments                `toml:"attachments"`
	S3             S3                         `toml:"s3"`
	Metrics        Metrics                    `toml:"metrics"`
	Outbox         Outbox                     `toml:"outbox"`
	Profiles       map[string]ProfileOverride `toml:"profiles,omitempty"`
}

// Hub configures the two realtime hub endpoints.
type Hub struct {
	DirectURL        string   `toml:"direct_url"`
	GroupURL         string   `toml:"group_url"`
	AccessToken      string   `toml:"access_token"`
	Viewer           string   `toml:"viewer"`
	KeepAlive        Duration `toml:"keepalive"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	CallTimeout      Duration `toml:"call_timeout"`
}

// Reconnect configures the automatic reconnect policy.
type Reconnect struct {
	Disabled    bool     `toml:"disabled"`
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
	MaxAttempts int      `toml:"max_attempts"`
}

type History struct {
	PageSize int `toml:"page_size"`
}

// Attachments configures the download URL cache.
type Attachments struct {
	Resolver        string   `toml:"resolver"`
	Expiration      Duration `toml:"expiration"`
	ProactiveMargin Duration `toml:"proactive_margin"`
	WaitTimeout     Duration `toml:"wait_timeout"`
	Capacity        int      `toml:"capacity"`
	RefreshInterval Duration `toml:"refresh_interval"`
}

// S3 is used when Attachments.Resolver is "s3".
type S3 struct {
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

type Metrics struct {
	Listen string `toml:"listen"`
}

type Outbox struct {
	Interval    Duration `toml:"interval"`
	MaxAttempts int      `toml:"max_attempts"`
}

// ProfileOverride replaces hub settings for one profile. Empty fields keep the global value.
type ProfileOverride struct {
	DirectURL   string `toml:"direct_url"`
	GroupURL    string `toml:"group_url"`
	AccessToken string `toml:"access_token"`
	Viewer      string `toml:"viewer"`
}

// Resolver names.
const (
	ResolverHub = "hub"
	ResolverS3  = "s3"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Hub: Hub{
			KeepAlive:        Duration{15 * time.Second},
			HandshakeTimeout: Duration{15 * time.Second},
			CallTimeout:      Duration{30 * time.Second},
		},
		Reconnect: Reconnect{
			BaseDelay:   Duration{time.Second},
			MaxDelay:    Duration{30 * time.Second},
			MaxAttempts: 10,
		},
		History: History{PageSize: 20},
		Attachments: Attachments{
			Resolver:        ResolverHub,
			Expiration:      Duration{10 * time.Minute},
			ProactiveMargin: Duration{2 * time.Minute},
			WaitTimeout:     Duration{10 * time.Second},
			Capacity:        4096,
			RefreshInterval: Duration{time.Minute},
		},
		Metrics: Metrics{Listen: "127.0.0.1:9464"},
		Outbox: Outbox{
			Interval:    Duration{500 * time.Millisecond},
			MaxAttempts: 5,
		},
	}
}

// Load reads config from the given path on top of the defaults.
// Returns nil and an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment. Variables already set are left alone and a missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ForProfile returns a copy of cfg with the named profile's overrides applied.
func (c *Config) ForProfile(name string) *Config {
	out := *c
	p, ok := c.Profiles[name]
	if !ok {
		return &out
	}
	if p.DirectURL != "" {
		out.Hub.DirectURL = p.DirectURL
	}
	if p.GroupURL != "" {
		out.Hub.GroupURL = p.GroupURL
	}
	if p.AccessToken != "" {
		out.Hub.AccessToken = p.AccessToken
	}
	if p.Viewer != "" {
		out.Hub.Viewer = p.Viewer
	}
	return &out
}

// ApplyEnv overrides fields from CHATSYNC_* variables looked up with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("CHATSYNC_DIRECT_URL", &c.Hub.DirectURL)
	str("CHATSYNC_GROUP_URL", &c.Hub.GroupURL)
	str("CHATSYNC_ACCESS_TOKEN", &c.Hub.AccessToken)
	str("CHATSYNC_VIEWER", &c.Hub.Viewer)
	str("CHATSYNC_RESOLVER", &c.Attachments.Resolver)
	str("CHATSYNC_S3_REGION", &c.S3.Region)
	str("CHATSYNC_S3_BUCKET", &c.S3.Bucket)
	str("CHATSYNC_S3_ENDPOINT", &c.S3.Endpoint)
	str("CHATSYNC_S3_ACCESS_KEY_ID", &c.S3.AccessKeyID)
	str("CHATSYNC_S3_SECRET_ACCESS_KEY", &c.S3.SecretAccessKey)
	str("CHATSYNC_METRICS_LISTEN", &c.Metrics.Listen)

	if v := getenv("CHATSYNC_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHATSYNC_PAGE_SIZE: %w", err)
		}
		c.History.PageSize = n
	}
	if v := getenv("CHATSYNC_URL_EXPIRATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CHATSYNC_URL_EXPIRATION: %w", err)
		}
		c.Attachments.Expiration = Duration{d}
	}
	if v := getenv("CHATSYNC_RECONNECT"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CHATSYNC_RECONNECT: %w", err)
		}
		c.Reconnect.Disabled = !on
	}
	return nil
}

// Validate checks the settings a daemon needs to start.
func (c *Config) Validate() error {
	var errs []error
	if c.Hub.DirectURL == "" && c.Hub.GroupURL == "" {
		errs = append(errs, errors.New("hub: at least one of direct_url and group_url is required"))
	}
	for name, u := range map[string]string{"direct_url": c.Hub.DirectURL, "group_url": c.Hub.GroupURL} {
		if u != "" && !hasScheme(u, "http://", "https://", "ws://", "wss://") {
			errs = append(errs, fmt.Errorf("hub: %s %q must be an http(s) or ws(s) URL", name, u))
		}
	}
	if c.History.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("history: page_size must be positive, got %d", c.History.PageSize))
	}
	if c.Attachments.Expiration.Duration <= c.Attachments.ProactiveMargin.Duration {
		errs = append(errs, errors.New("attachments: expiration must exceed proactive_margin"))
	}
	switch c.Attachments.Resolver {
	case ResolverHub:
	case ResolverS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("s3: bucket is required when resolver is s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("attachments: unknown resolver %q", c.Attachments.Resolver))
	}
	return errors.Join(errs...)
}

func hasScheme(u string, schemes ...string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(u, s) {
			return true
		}
	}
	return false
}
