package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerTo_Attributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "info")
	logger = WithDevice(WithBatchID(WithComponent(logger, "runner"), "b-1"), "0123456789abcdef")

	logger.Debug("hidden")
	logger.Info("visible")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"msg":       "visible",
		"component": "runner",
		"batch_id":  "b-1",
		"device_id": "0123456789abcdef",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %q", key, entry[key], want)
		}
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken("short"); got != "****" {
		t.Errorf("SanitizeToken(short) = %q", got)
	}
	if got := SanitizeToken("abcdefghijkl"); got != "abcd...ijkl" {
		t.Errorf("SanitizeToken() = %q", got)
	}
}

func TestSanitizePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" || home == "/" {
		t.Skip("no usable home directory")
	}
	if got := SanitizePath(filepath.Join(home, "rec")); got != "~"+string(os.PathSeparator)+"rec" {
		t.Errorf("SanitizePath() = %q", got)
	}
	if got := SanitizePath(home + "other"); got != home+"other" {
		t.Errorf("SanitizePath() should not mask sibling dirs, got %q", got)
	}
}
