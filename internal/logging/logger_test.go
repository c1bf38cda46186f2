package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSONFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "logs", "chatsyncd.log")

	logger, err := New(logPath, "work", false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("hello", zap.String("domain", "direct"))
	logger.Debug("hidden")
	_ = logger.Sync()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1 (debug filtered): %q", len(lines), data)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	for key, want := range map[string]any{"msg": "hello", "profile": "work", "domain": "direct"} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %v", key, entry[key], want)
		}
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("missing ts field")
	}
}

func TestBuildDebugLevel(t *testing.T) {
	var file, console bytes.Buffer
	logger := build(zapcore.AddSync(&file), zapcore.AddSync(&console), zapcore.DebugLevel, "main")
	logger.Debug("verbose")

	if !strings.Contains(file.String(), `"msg":"verbose"`) {
		t.Errorf("file sink = %q, want debug entry", file.String())
	}
	if !strings.Contains(console.String(), "verbose") {
		t.Errorf("console sink = %q, want debug entry", console.String())
	}
}
