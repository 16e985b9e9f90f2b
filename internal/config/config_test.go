package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("Defaults() should validate, got %v", err)
	}
	d := Defaults()
	if d.SimilarityThreshold != 0.85 || d.DefaultFPS != 30 || d.GifSkipThreshold != 200 || d.GifSkipFactor != 2 || d.ReferenceFrameNumber != -1 {
		t.Errorf("Unexpected defaults: %+v", d)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{"Valid", func(o *Options) {}, false},
		{"Zero threshold", func(o *Options) { o.SimilarityThreshold = 0 }, true},
		{"Bad policy", func(o *Options) { o.MatchPolicy = "closest" }, true},
		{"Negative position", func(o *Options) { o.ReferenceFacePosition = -1 }, true},
		{"No processors", func(o *Options) { o.FrameProcessors = nil }, true},
		{"Bad frame format", func(o *Options) { o.TempFrameFormat = "bmp" }, true},
		{"Quality out of range", func(o *Options) { o.OutputVideoQuality = 101 }, true},
		{"Unknown encoder", func(o *Options) { o.OutputVideoEncoder = "mpeg2" }, true},
		{"Skip factor zero", func(o *Options) { o.GifSkipFactor = 0 }, true},
		{"Max dimension above threshold", func(o *Options) { o.GifMaxDimension = 2000 }, true},
		{"Zero threads", func(o *Options) { o.ExecutionThreads = 0 }, true},
		{"Nearest policy", func(o *Options) { o.MatchPolicy = "nearest" }, false},
		{"Reference frame set", func(o *Options) { o.ReferenceFrameNumber = 12 }, false},
		{"Reference frame below -1", func(o *Options) { o.ReferenceFrameNumber = -2 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Defaults()
			tt.mutate(&o)
			if err := o.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mirage.yaml")
	content := []byte("keep_fps: true\nsimilarity_threshold: 0.6\nreference_frame_number: 3\nframe_processors: [face_swapper, face_enhancer]\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MIRAGE_EXECUTION_THREADS", "4")

	o, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !o.KeepFPS || o.SimilarityThreshold != 0.6 || o.ReferenceFrameNumber != 3 || len(o.FrameProcessors) != 2 {
		t.Errorf("YAML not applied: %+v", o)
	}
	if o.ExecutionThreads != 4 {
		t.Errorf("Expected env override of threads, got %d", o.ExecutionThreads)
	}
	// Untouched keys keep their defaults.
	if o.GifQuality != 95 {
		t.Errorf("Expected default gif quality, got %d", o.GifQuality)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("keep_fps: [nope"), 0644)
	if _, err := Load(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestEnvInt_Invalid(t *testing.T) {
	t.Setenv("MIRAGE_TEST_INT", "abc")
	if got := envInt("MIRAGE_TEST_INT", 7); got != 7 {
		t.Errorf("Expected default for invalid value, got %d", got)
	}
}
