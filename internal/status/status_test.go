package status

import (
	"bytes"
	"testing"
)

func TestWriterFormat(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf).Update(ScopeCore, "Extracting frames with 30 FPS...")
	if got, want := buf.String(), "[MIRAGE.CORE] Extracting frames with 30 FPS...\n"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestMultiAndRecorder(t *testing.T) {
	var a, b Recorder
	r := Multi(&a, &b, Discard)
	r.Update(ScopeMedia, "one")
	r.Update(ScopeFaces, "two")

	for _, rec := range []*Recorder{&a, &b} {
		lines := rec.Lines()
		if len(lines) != 2 || lines[1].Scope != ScopeFaces || lines[1].Message != "two" {
			t.Errorf("Unexpected lines: %+v", lines)
		}
	}
}
