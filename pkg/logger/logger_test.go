package logger

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNewWithFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "packet-nexus.log")
	l, err := New(Config{Level: "info", Format: "json", File: file, MaxSize: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Info("hello")
	l.Sync()
}

func TestComponentAndProfileFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewTestLogger(&buf).WithComponent("link").WithProfile("default")

	l.Info("RX", Int("size", 24), Bool("valid", true), Hex("head", []byte{0xde, 0xad}))

	out := buf.String()
	for _, want := range []string{"RX", "link", "default", "24", "dead"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log output to contain %q, got: %s", want, out)
		}
	}
}

func TestWithErrorAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewTestLogger(&buf).
		WithError(errors.New("boom")).
		WithFields(map[string]interface{}{"stage": 1})

	l.Warn("stage failed")

	out := buf.String()
	if !strings.Contains(out, "boom") || !strings.Contains(out, "stage") {
		t.Errorf("Expected error and field in output, got: %s", out)
	}
}
