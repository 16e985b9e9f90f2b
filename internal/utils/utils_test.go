package utils

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestGenerateSourceID(t *testing.T) {
	// Integration test using the OS filesystem
	tmp, err := os.CreateTemp("", "target_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	// Write dummy content
	if _, err := tmp.Write([]byte("fake video content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := GenerateSourceID(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	// Verify Determinism
	id2, _ := GenerateSourceID(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := GenerateSourceID(tmp.Name())
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}

	if _, err := GenerateSourceID("/nonexistent/file.mp4"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestFmtTime(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00"},
		{65, "00:01:05"},
		{3661, "01:01:01"},
	}

	for _, tt := range tests {
		if got := FmtTime(tt.seconds); got != tt.want {
			t.Errorf("FmtTime(%v) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestShowErrorTo(t *testing.T) {
	var buf bytes.Buffer
	cmd := NewSafeCommand(context.Background(), "true")
	cmd.Stderr.WriteString("Traceback: boom")

	ShowErrorTo(&buf, "Encoder failed", errors.New("exit status 1"), cmd)

	out := buf.String()
	for _, want := range []string{"Encoder failed", "exit status 1", "Traceback: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in error box, got:\n%s", want, out)
		}
	}
}

func TestRequireBinary(t *testing.T) {
	if err := RequireBinary("definitely-not-a-real-binary-xyz"); err == nil {
		t.Error("Expected missing binary to fail")
	}
}
