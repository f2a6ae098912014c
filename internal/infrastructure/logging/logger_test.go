package logging

import (
	"bytes"
	"log/slog"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/brulejr/autohome/internal/infrastructure/config"
)

// decodeLines parses each JSON log line in buf.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("failed to parse JSON output %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{"json stdout", config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}},
		{"text stderr", config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if New(tt.cfg, "1.0.0", "hall-pi") == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := parseLevel(tt.input); result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewLogger_DefaultFields(t *testing.T) {
	tests := []struct {
		name     string
		node     string
		wantNode any
	}{
		{"with node", "hall-pi", "hall-pi"},
		{"before config", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, config.LoggingConfig{Level: "info"}, "1.2.3", tt.node)
			logger.Info("relay started", "role", "MASTER")

			entries := decodeLines(t, &buf)
			if len(entries) != 1 {
				t.Fatalf("got %d entries, want 1", len(entries))
			}
			e := entries[0]
			if e["service"] != serviceName || e["version"] != "1.2.3" {
				t.Errorf("service/version = %v/%v", e["service"], e["version"])
			}
			if e["node"] != tt.wantNode {
				t.Errorf("node = %v, want %v", e["node"], tt.wantNode)
			}
			if e["msg"] != "relay started" || e["role"] != "MASTER" {
				t.Errorf("entry = %v", e)
			}
		})
	}
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "warn"}, "test", "n1")

	logger.Info("dropped")
	logger.Warn("kept")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["msg"] != "kept" {
		t.Errorf("entries = %v, want only the warning", entries)
	}
}

func TestLogger_Component(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "info"}, "test", "n1")

	child := logger.Component("broker")
	if child == logger {
		t.Error("expected child logger to be different from parent")
	}
	child.Info("x")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["component"] != "broker" {
		t.Errorf("entries = %v, want component=broker", entries)
	}
}

func TestLogger_StdLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "debug"}, "test", "n1")

	std := logger.Component("zmq").StdLogger(slog.LevelWarn)
	std.Print("zmq4: dial failed")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0]["level"] != "WARN" {
		t.Errorf("expected level=WARN, got %v", entries[0]["level"])
	}
	if entries[0]["msg"] != "zmq4: dial failed" {
		t.Errorf("expected msg to be forwarded, got %v", entries[0]["msg"])
	}
	if entries[0]["component"] != "zmq" {
		t.Errorf("expected component=zmq, got %v", entries[0]["component"])
	}
}

func TestDefaultAndDiscard(t *testing.T) {
	if Default() == nil {
		t.Fatal("expected non-nil default logger")
	}
	d := Discard()
	d.Error("never seen")
}
