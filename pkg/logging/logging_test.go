package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"fatal", FatalLevel},
		{"bogus", InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestComponentSharesOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "debug", Output: &buf})

	l.Component("ledger").Debug("snapshot published", "seq", 3)

	out := buf.String()
	if !strings.Contains(out, "ledger") || !strings.Contains(out, "snapshot published") {
		t.Errorf("component output missing from parent writer: %q", out)
	}
}

func TestComponentInheritsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "warn", Output: &buf})

	l.Component("engine").Info("should be filtered")
	if buf.Len() != 0 {
		t.Errorf("info line written at warn level: %q", buf.String())
	}
}

func TestNewWithFile(t *testing.T) {
	dir, err := os.MkdirTemp("", "logging-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	var console bytes.Buffer
	path := filepath.Join(dir, "logs", "crypwalletd.log")
	l, closer, err := NewWithFile(&Config{Level: "info", Output: &console, File: path})
	if err != nil {
		t.Fatalf("NewWithFile failed: %v", err)
	}

	l.Info("hello file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if !strings.Contains(console.String(), "hello file") {
		t.Errorf("console output missing line: %q", console.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Errorf("log file missing line: %q", string(data))
	}
}

func TestNewWithFileNoFile(t *testing.T) {
	var buf bytes.Buffer
	l, closer, err := NewWithFile(&Config{Output: &buf})
	if err != nil {
		t.Fatalf("NewWithFile failed: %v", err)
	}
	defer closer.Close()

	l.Info("console only")
	if !strings.Contains(buf.String(), "console only") {
		t.Errorf("missing console output: %q", buf.String())
	}
}
