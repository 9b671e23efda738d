package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestRedactedHidesValue(t *testing.T) {
	f := Redacted("token", "super-secret")
	if strings.Contains(f.String, "super-secret") {
		t.Fatalf("redacted field leaks value: %q", f.String)
	}
	if f.String != "[redacted len=12]" {
		t.Fatalf("field=%q", f.String)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v, want %v", in, got, want)
		}
	}
}

func TestNewWithFileSink(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: dir, Name: "t.log"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.Info("hello")
	_ = l.Sync()
	data, err := os.ReadFile(filepath.Join(dir, "t.log"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("log file = %q", string(data))
	}
}
