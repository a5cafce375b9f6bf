package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var smallPipeline = []string{"--crc", "crc16", "--fec0", "hamming74", "--fec1", "none"}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEncodeDecodeCommands(t *testing.T) {
	args := append([]string{"encode"}, smallPipeline...)
	out, err := run(t, append(args, "0102030405060708")...)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	packet := strings.TrimSpace(out)
	if len(packet) != 40 {
		t.Fatalf("Expected 20-byte packet, got %q", packet)
	}

	args = append([]string{"decode"}, smallPipeline...)
	out, err = run(t, append(args, packet)...)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !strings.Contains(out, "0102030405060708") || !strings.Contains(out, "valid: true") {
		t.Errorf("Unexpected decode output: %q", out)
	}

	raw, _ := hex.DecodeString(packet)
	raw[0] ^= 0x7F
	out, err = run(t, append(args, hex.EncodeToString(raw))...)
	if !errors.Is(err, errInvalidPacket) {
		t.Errorf("Expected errInvalidPacket, got %v", err)
	}
	if !strings.Contains(out, "valid: false") {
		t.Errorf("Expected invalid output, got %q", out)
	}
}

func TestEncodeRejectsBadInput(t *testing.T) {
	if _, err := run(t, "encode", "zz"); err == nil {
		t.Error("Expected error for bad hex")
	}
	if _, err := run(t, "encode", "--fec0", "turbo", "00"); err == nil {
		t.Error("Expected error for unknown scheme")
	}
	if _, err := run(t, "encode", "--length", "4", "00"); err == nil {
		t.Error("Expected error for payload of the wrong length")
	}
}

func TestLengthsCommand(t *testing.T) {
	args := append([]string{"lengths"}, smallPipeline...)
	out, err := run(t, append(args, "-n", "8", "-k", "23")...)
	if err != nil {
		t.Fatalf("lengths failed: %v", err)
	}
	if !strings.Contains(out, "message 8 -> packet 20") {
		t.Errorf("Missing forward length: %q", out)
	}
	if !strings.Contains(out, "packet 23 -> message 9") {
		t.Errorf("Missing inverse length: %q", out)
	}

	if _, err := run(t, "lengths"); err == nil {
		t.Error("Expected error without --message or --packet")
	}
}

func TestInfoCommand(t *testing.T) {
	args := append([]string{"info", "--length", "8"}, smallPipeline...)
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	if !strings.HasPrefix(out, "packetizer [dec: 8, enc: 20]") {
		t.Errorf("Unexpected text output: %q", out)
	}

	out, err = run(t, append(args, "--format", "yaml")...)
	if err != nil {
		t.Fatalf("info yaml failed: %v", err)
	}
	if !strings.Contains(out, "packet_length: 20") || !strings.Contains(out, "crc: crc16") {
		t.Errorf("Unexpected yaml output: %q", out)
	}

	if _, err := run(t, append(args, "--format", "xml")...); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestSchemesCommand(t *testing.T) {
	out, err := run(t, "schemes")
	if err != nil {
		t.Fatalf("schemes failed: %v", err)
	}
	for _, name := range []string{"crc32", "checksum", "golay2412", "v27", "hamming84"} {
		if !strings.Contains(out, name) {
			t.Errorf("Expected %s in output", name)
		}
	}
}

func TestProfileFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `profiles:
  - name: tlm
    message_length: 4
    crc: crc8
    fec0: rep3
    fec1: none
link:
  profile: tlm
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	out, err := run(t, "encode", "--config", path, "--profile", "tlm", "deadbeef")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if got := len(strings.TrimSpace(out)); got != 30 {
		t.Errorf("Expected 15-byte packet, got %d hex chars", got)
	}

	if _, err := run(t, "encode", "--config", path, "--profile", "missing", "deadbeef"); err == nil {
		t.Error("Expected error for unknown profile")
	}
}
