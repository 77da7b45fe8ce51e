package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/kestrelproxy/kestrel/internal/theme"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestPlainStyledLoggerFormatsSession(t *testing.T) {
	var buf bytes.Buffer
	sl := NewPlainStyledLogger(newTestLogger(&buf))

	sl.InfoWithSession("session connected", 42)

	if got := buf.String(); !strings.Contains(got, "#42") {
		t.Fatalf("expected output to contain #42, got %q", got)
	}
}

func TestPlainStyledLoggerInfoWithBytes(t *testing.T) {
	var buf bytes.Buffer
	sl := NewPlainStyledLogger(newTestLogger(&buf))

	sl.InfoWithBytes("forwarded", 2048)

	if got := buf.String(); !strings.Contains(got, "2048 bytes") {
		t.Fatalf("expected output to contain byte count, got %q", got)
	}
}

func TestPrettyStyledLoggerFormatsEndpoint(t *testing.T) {
	var buf bytes.Buffer
	sl := NewPrettyStyledLogger(newTestLogger(&buf), theme.Default())

	sl.WarnWithEndpoint("origin unreachable", "10.0.0.5:443")

	if got := buf.String(); !strings.Contains(got, "10.0.0.5:443") {
		t.Fatalf("expected output to contain endpoint, got %q", got)
	}
}

func TestStyledLoggerWithPreservesAttrs(t *testing.T) {
	var buf bytes.Buffer
	var sl StyledLogger = NewPlainStyledLogger(newTestLogger(&buf))

	withID := sl.With("session_id", 7)
	withID.Info("hello")

	if got := buf.String(); !strings.Contains(got, "session_id=7") {
		t.Fatalf("expected attrs to be preserved, got %q", got)
	}
}
