package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWithOptionsWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "escrowd.log")
	logger := SetupWithOptions(Options{
		Service: "escrowd",
		Env:     "test",
		Level:   "warn",
		File:    file,
		Output:  &buf,
	})
	defer slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	logger.Info("hidden")
	logger.Warn("visible", MaskField("contact", "alice@example.com"), MaskField("trade_id", "7"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected a single warn line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["message"] != "visible" || entry["severity"] != "WARN" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["service"] != "escrowd" || entry["env"] != "test" {
		t.Fatalf("missing service attributes: %v", entry)
	}
	if entry["contact"] != RedactedValue {
		t.Fatalf("expected contact to be redacted, got %v", entry["contact"])
	}
	if entry["trade_id"] != "7" {
		t.Fatalf("expected trade_id to pass through, got %v", entry["trade_id"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("missing timestamp key: %v", entry)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read rotated file: %v", err)
	}
	if !strings.Contains(string(data), `"visible"`) {
		t.Fatalf("file sink missing log line: %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("") != slog.LevelInfo || ParseLevel("warning") != slog.LevelWarn {
		t.Fatalf("unexpected level mapping")
	}
}
