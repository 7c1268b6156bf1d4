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

func TestSetupEmitsServiceFields(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "repd", "test", Options{Level: "warn"})
	logger.Info("dropped")
	logger.Warn("kept", "module", "lending")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected only the warn line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["service"] != "repd" || entry["env"] != "test" {
		t.Fatalf("missing service fields: %v", entry)
	}
	if entry["severity"] != "WARN" || entry["message"] != "kept" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestSetupWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repd.log")
	var buf bytes.Buffer
	logger := setup(&buf, "repd", "", Options{File: path})
	logger.Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"message":"hello"`) {
		t.Fatalf("log file missing entry: %q", data)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("authorization", "Bearer abc"); attr.Value.String() != RedactedValue {
		t.Fatalf("expected authorization to be redacted, got %q", attr.Value.String())
	}
	if attr := MaskField("user", "rep1xyz"); attr.Value.String() != "rep1xyz" {
		t.Fatalf("expected allowlisted key to pass through, got %q", attr.Value.String())
	}
	if attr := MaskField("passphrase", " "); attr.Value.String() != " " {
		t.Fatalf("blank values should not be masked")
	}
}

func TestMaskValue(t *testing.T) {
	if got := MaskValue("Bearer abc"); got != RedactedValue {
		t.Fatalf("expected redaction, got %q", got)
	}
	if got := MaskValue(""); got != "" {
		t.Fatalf("empty value should pass through, got %q", got)
	}
}
