package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DEBUG,
		"WARN":    WARN,
		"warning": WARN,
		"error":   ERROR,
		"":        INFO,
		"bogus":   INFO,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerWritesFileWithRequestID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	l, err := NewLogger(INFO, path)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	ctx := WithRequestID(context.Background(), "req-1")
	l.Info(ctx, "order placed")
	l.Debug(ctx, "hidden")
	_ = l.Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, "order placed") || !strings.Contains(out, `"request_id":"req-1"`) {
		t.Errorf("unexpected log output: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug entry written at info level")
	}
}

func TestGetLoggerFromContext(t *testing.T) {
	l := NewNop()
	ctx := WithLogger(context.Background(), l)
	if GetLogger(ctx) != l {
		t.Errorf("logger not taken from context")
	}
	if GetLogger(context.Background()) == nil {
		t.Errorf("fallback logger is nil")
	}
}
