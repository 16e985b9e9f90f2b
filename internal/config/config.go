package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Options is the per-job configuration. A job takes a copy when it starts, so
// changing defaults never leaks into a running or later job.
type Options struct {
	KeepFPS    bool `yaml:"keep_fps"`
	KeepFrames bool `yaml:"keep_frames"`
	SkipAudio  bool `yaml:"skip_audio"`

	// Face selection
	ManyFaces             bool     `yaml:"many_faces"`
	ReferenceFacePosition int      `yaml:"reference_face_position"`
	ReferenceFrameNumber  int      `yaml:"reference_frame_number"` // -1 tracks the first face found
	SimilarityThreshold   float64  `yaml:"similarity_threshold"`
	MatchPolicy           string   `yaml:"match_policy"` // first | nearest
	FrameProcessors       []string `yaml:"frame_processors"`

	// Video
	DefaultFPS         float64 `yaml:"default_fps"`
	TempFrameFormat    string  `yaml:"temp_frame_format"`  // png | jpg
	TempFrameQuality   int     `yaml:"temp_frame_quality"` // 0-100
	OutputVideoEncoder string  `yaml:"output_video_encoder"`
	OutputVideoQuality int     `yaml:"output_video_quality"` // 0-100

	// GIF
	GifSkipThreshold   int `yaml:"gif_skip_threshold"` // frame count above which frames are skipped
	GifSkipFactor      int `yaml:"gif_skip_factor"`
	GifResizeThreshold int `yaml:"gif_resize_threshold"`
	GifMaxDimension    int `yaml:"gif_max_dimension"`
	GifQuality         int `yaml:"gif_quality"` // 1-100

	// Image
	ImageQuality int `yaml:"image_quality"` // JPEG output quality

	// Runtime
	TempRoot         string `yaml:"temp_root"`
	ExecutionThreads int    `yaml:"execution_threads"`
	WorkerScript     string `yaml:"worker_script"`
}

var validEncoders = map[string]bool{
	"libx264":    true,
	"libx265":    true,
	"libvpx-vp9": true,
	"h264_nvenc": true,
	"hevc_nvenc": true,
}

// Defaults returns the stock configuration.
func Defaults() Options {
	return Options{
		SimilarityThreshold:  0.85,
		ReferenceFrameNumber: -1,
		MatchPolicy:          "first",
		FrameProcessors:      []string{"face_swapper"},
		DefaultFPS:           30,
		TempFrameFormat:      "png",
		TempFrameQuality:     0,
		OutputVideoEncoder:   "libx264",
		OutputVideoQuality:   35,
		GifSkipThreshold:     200,
		GifSkipFactor:        2,
		GifResizeThreshold:   1024,
		GifMaxDimension:      720,
		GifQuality:           95,
		ImageQuality:         95,
		TempRoot:             os.TempDir(),
		ExecutionThreads:     1,
		WorkerScript:         "python/worker.py",
	}
}

// Load starts from Defaults, overlays the YAML file at path (if any) and then
// MIRAGE_* environment variables.
func Load(path string) (Options, error) {
	opts := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return opts, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return opts, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	applyEnv(&opts)
	return opts, nil
}

func applyEnv(o *Options) {
	o.SimilarityThreshold = envFloat("MIRAGE_SIMILARITY_THRESHOLD", o.SimilarityThreshold)
	o.ExecutionThreads = envInt("MIRAGE_EXECUTION_THREADS", o.ExecutionThreads)
	o.ReferenceFrameNumber = envInt("MIRAGE_REFERENCE_FRAME_NUMBER", o.ReferenceFrameNumber)
	o.OutputVideoQuality = envInt("MIRAGE_OUTPUT_VIDEO_QUALITY", o.OutputVideoQuality)
	if v := os.Getenv("MIRAGE_OUTPUT_VIDEO_ENCODER"); v != "" {
		o.OutputVideoEncoder = v
	}
	if v := os.Getenv("MIRAGE_TEMP_ROOT"); v != "" {
		o.TempRoot = v
	}
	if v := os.Getenv("MIRAGE_WORKER_SCRIPT"); v != "" {
		o.WorkerScript = v
	}
}

// envInt reads an environment variable and parses it as a non-negative integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// Validate checks ranges before any heavy work starts.
func (o Options) Validate() error {
	if o.SimilarityThreshold <= 0 || o.SimilarityThreshold > 4 {
		return fmt.Errorf("similarity threshold must be in (0, 4], got %f", o.SimilarityThreshold)
	}
	if o.MatchPolicy != "first" && o.MatchPolicy != "nearest" {
		return fmt.Errorf("match policy must be 'first' or 'nearest', got %q", o.MatchPolicy)
	}
	if o.ReferenceFacePosition < 0 {
		return fmt.Errorf("reference face position must be >= 0, got %d", o.ReferenceFacePosition)
	}
	if o.ReferenceFrameNumber < -1 {
		return fmt.Errorf("reference frame number must be >= -1, got %d", o.ReferenceFrameNumber)
	}
	if len(o.FrameProcessors) == 0 {
		return fmt.Errorf("at least one frame processor is required")
	}
	if o.DefaultFPS <= 0 {
		return fmt.Errorf("default fps must be > 0, got %f", o.DefaultFPS)
	}
	format := strings.ToLower(o.TempFrameFormat)
	if format != "png" && format != "jpg" {
		return fmt.Errorf("temp frame format must be 'png' or 'jpg', got %q", o.TempFrameFormat)
	}
	for name, q := range map[string]int{
		"temp frame quality":   o.TempFrameQuality,
		"output video quality": o.OutputVideoQuality,
		"image quality":        o.ImageQuality,
	} {
		if q < 0 || q > 100 {
			return fmt.Errorf("%s must be between 0 and 100, got %d", name, q)
		}
	}
	if o.GifQuality < 1 || o.GifQuality > 100 {
		return fmt.Errorf("gif quality must be between 1 and 100, got %d", o.GifQuality)
	}
	if !validEncoders[o.OutputVideoEncoder] {
		return fmt.Errorf("unsupported output video encoder %q", o.OutputVideoEncoder)
	}
	if o.GifSkipFactor < 1 {
		return fmt.Errorf("gif skip factor must be >= 1, got %d", o.GifSkipFactor)
	}
	if o.GifSkipThreshold < 1 {
		return fmt.Errorf("gif skip threshold must be >= 1, got %d", o.GifSkipThreshold)
	}
	if o.GifMaxDimension < 1 || o.GifResizeThreshold < o.GifMaxDimension {
		return fmt.Errorf("gif max dimension (%d) must be >= 1 and <= resize threshold (%d)", o.GifMaxDimension, o.GifResizeThreshold)
	}
	if o.ExecutionThreads < 1 {
		return fmt.Errorf("execution threads must be >= 1, got %d", o.ExecutionThreads)
	}
	return nil
}
