package cmd

import (
	"bufio"
	"bytes"
	"context"
	"image"
	"image/color"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/mirage/internal/config"
	"github.com/andresmejia3/mirage/internal/media"
	"github.com/andresmejia3/mirage/internal/pipeline"
	"github.com/andresmejia3/mirage/internal/processor"
	"github.com/andresmejia3/mirage/internal/store"
	"github.com/andresmejia3/mirage/internal/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func TestApplyRunFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, o config.Options)
	}{
		{
			name: "Unset flags keep config values",
			args: []string{"--keep-fps"},
			check: func(t *testing.T, o config.Options) {
				if !o.KeepFPS {
					t.Error("KeepFPS not applied")
				}
				if o.SimilarityThreshold != 0.5 || o.OutputVideoQuality != 10 {
					t.Errorf("config values overwritten: %+v", o)
				}
			},
		},
		{
			name: "Explicit flags win",
			args: []string{"--similarity-threshold", "0.7", "--match-policy", "NEAREST", "-n", "4"},
			check: func(t *testing.T, o config.Options) {
				if o.SimilarityThreshold != 0.7 || o.MatchPolicy != "nearest" || o.ExecutionThreads != 4 {
					t.Errorf("flags not applied: %+v", o)
				}
			},
		},
		{
			name: "Reference frame",
			args: []string{"--reference-frame-number", "12"},
			check: func(t *testing.T, o config.Options) {
				if o.ReferenceFrameNumber != 12 {
					t.Errorf("reference frame %d, want 12", o.ReferenceFrameNumber)
				}
			},
		},
		{
			name: "Reference frame defaults to lazy",
			args: nil,
			check: func(t *testing.T, o config.Options) {
				if o.ReferenceFrameNumber != -1 {
					t.Errorf("reference frame %d, want -1", o.ReferenceFrameNumber)
				}
			},
		},
		{
			name: "Processor list",
			args: []string{"--frame-processor", "face_swapper,face_enhancer"},
			check: func(t *testing.T, o config.Options) {
				want := []string{"face_swapper", "face_enhancer"}
				if !reflect.DeepEqual(o.FrameProcessors, want) {
					t.Errorf("got %v, want %v", o.FrameProcessors, want)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rf RunFlags
			fs := newRunFlagSet(&rf)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatal(err)
			}
			o := config.Defaults()
			o.SimilarityThreshold = 0.5
			o.OutputVideoQuality = 10
			applyRunFlags(fs, &rf, &o)
			tt.check(t, o)
		})
	}
}

func TestStageIDs(t *testing.T) {
	got := stageIDs([]string{" face_swapper", "face_enhancer "})
	want := []processor.ID{processor.FaceSwapper, processor.FaceEnhancer}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolveDBURL(t *testing.T) {
	old := dbURL
	defer func() { dbURL = old }()

	dbURL = ""
	t.Setenv("POSTGRES_HOST", "")
	if got := resolveDBURL(); got != "" {
		t.Errorf("expected history disabled, got %q", got)
	}

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "mirage")
	t.Setenv("POSTGRES_PORT", "")
	if got := resolveDBURL(); got != "postgres://u:p@db:5432/mirage" {
		t.Errorf("got %q", got)
	}

	dbURL = "postgres://flag/x"
	if got := resolveDBURL(); got != dbURL {
		t.Errorf("flag should win, got %q", got)
	}
}

func TestPrintJobs(t *testing.T) {
	var buf bytes.Buffer
	printJobs(&buf, nil)
	if !strings.Contains(buf.String(), "No jobs found") {
		t.Errorf("unexpected output: %q", buf.String())
	}

	buf.Reset()
	id := uuid.MustParse("12345678-1234-1234-1234-123456789abc")
	printJobs(&buf, []store.Job{{
		ID: id, Kind: "video", State: "done", TotalFrames: 10, ProcessedFrames: 8,
		FramesWithoutFace: 2, StartedAt: time.Now(), OutputPath: "/out/x.mp4",
	}})
	out := buf.String()
	for _, want := range []string{"12345678", "video", "done", "8/10", "/out/x.mp4"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	pngPath := filepath.Join(dir, "still.png")
	if err := media.SaveImage(pngPath, img, 0); err != nil {
		t.Fatal(err)
	}

	frames := make([]types.Frame, 250)
	for i := range frames {
		f := image.NewRGBA(image.Rect(0, 0, 2, 2))
		f.SetRGBA(0, 0, color.RGBA{R: uint8(i), A: 255})
		frames[i] = types.Frame{Index: i, Image: f, Delay: 4}
	}
	gifPath := filepath.Join(dir, "loop.gif")
	if err := media.SaveGIF(gifPath, frames, 50); err != nil {
		t.Fatal(err)
	}

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())

	tests := []struct {
		path string
		want []string
	}{
		{pngPath, []string{"Kind:        image", "Resolution:  3x2"}},
		{gifPath, []string{"Kind:        gif", "Frames:      250", "Skip factor: 2 (125 frames processed)", "Duration:    00:00:10"}},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := probe(cmd, &buf, tt.path, config.Defaults(), &media.FFmpeg{}); err != nil {
			t.Fatalf("probe(%s): %v", tt.path, err)
		}
		for _, w := range tt.want {
			if !strings.Contains(buf.String(), w) {
				t.Errorf("probe(%s) missing %q:\n%s", filepath.Base(tt.path), w, buf.String())
			}
		}
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := confirm(bufio.NewReader(strings.NewReader(tt.input)), &out, "Sure?")
		if got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Sure? [y/N]") {
			t.Errorf("prompt not shown: %q", out.String())
		}
	}
}

func TestJobRow(t *testing.T) {
	res := &pipeline.Result{
		JobID:             uuid.New(),
		State:             pipeline.Done,
		Kind:              types.Gif,
		OutputPath:        "/out/a.gif",
		TotalFrames:       150,
		ProcessedFrames:   140,
		FramesWithoutFace: 10,
	}
	row := jobRow(res)
	if row.ID != res.JobID || row.Kind != "gif" || row.State != "done" || row.FramesWithoutFace != 10 {
		t.Errorf("unexpected row %+v", row)
	}
}
