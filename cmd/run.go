package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/mirage/internal/config"
	"github.com/andresmejia3/mirage/internal/media"
	"github.com/andresmejia3/mirage/internal/pipeline"
	"github.com/andresmejia3/mirage/internal/processor"
	"github.com/andresmejia3/mirage/internal/status"
	"github.com/andresmejia3/mirage/internal/types"
	"github.com/andresmejia3/mirage/internal/utils"
	"github.com/andresmejia3/mirage/internal/worker"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RunFlags are the per-invocation overrides for a swap job.
type RunFlags struct {
	SourcePath string
	TargetPath string
	OutputPath string

	KeepFPS               bool
	KeepFrames            bool
	SkipAudio             bool
	ManyFaces             bool
	ReferenceFacePosition int
	ReferenceFrameNumber  int
	SimilarityThreshold   float64
	MatchPolicy           string
	FrameProcessors       []string
	TempFrameFormat       string
	TempFrameQuality      int
	OutputVideoEncoder    string
	OutputVideoQuality    int
	GifQuality            int
	ExecutionThreads      int
	WorkerScript          string
}

var runFlags RunFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Swap the face from a source image onto a target image, video or GIF",
	Example: `  mirage run -s face.jpg -t clip.mp4 -o out/
  mirage run -s face.jpg -t loop.gif -o swapped.gif --many-faces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		o := opts
		applyRunFlags(cmd.Flags(), &runFlags, &o)
		if err := o.Validate(); err != nil {
			return err
		}
		return runSwap(cmd, runFlags, o)
	},
}

func init() {
	runCmd.Flags().AddFlagSet(newRunFlagSet(&runFlags))
	runCmd.MarkFlagRequired("target")
	runCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(runCmd)
}

func newRunFlagSet(r *RunFlags) *pflag.FlagSet {
	f := pflag.NewFlagSet("run", pflag.ContinueOnError)
	f.StringVarP(&r.SourcePath, "source", "s", "", "Source image with the face to use")
	f.StringVarP(&r.TargetPath, "target", "t", "", "Target image, video or GIF")
	f.StringVarP(&r.OutputPath, "output", "o", "", "Output file or directory")
	f.BoolVar(&r.KeepFPS, "keep-fps", false, "Keep the target's frame rate instead of 30 FPS")
	f.BoolVar(&r.KeepFrames, "keep-frames", false, "Keep extracted frames in the temp directory")
	f.BoolVar(&r.SkipAudio, "skip-audio", false, "Do not copy the target's audio track")
	f.BoolVar(&r.ManyFaces, "many-faces", false, "Swap every face instead of tracking one")
	f.IntVar(&r.ReferenceFacePosition, "reference-face-position", 0, "Which face (by priority) to track")
	f.IntVar(&r.ReferenceFrameNumber, "reference-frame-number", -1, "Frame that seeds the tracked face (-1 uses the first frame with a face)")
	f.Float64Var(&r.SimilarityThreshold, "similarity-threshold", 0.85, "Max squared embedding distance for a match")
	f.StringVar(&r.MatchPolicy, "match-policy", "first", "Candidate selection: first or nearest")
	f.StringSliceVar(&r.FrameProcessors, "frame-processor", []string{string(processor.FaceSwapper)}, "Stages to run, in order")
	f.StringVar(&r.TempFrameFormat, "temp-frame-format", "png", "Extracted frame format: png or jpg")
	f.IntVar(&r.TempFrameQuality, "temp-frame-quality", 0, "Extracted frame compression 0-100 (lower is better)")
	f.StringVar(&r.OutputVideoEncoder, "output-video-encoder", "libx264", "Video encoder")
	f.IntVar(&r.OutputVideoQuality, "output-video-quality", 35, "Video compression 0-100 (lower is better)")
	f.IntVar(&r.GifQuality, "gif-quality", 95, "GIF palette quality 1-100")
	f.IntVarP(&r.ExecutionThreads, "threads", "n", 1, "Number of model worker processes")
	f.StringVar(&r.WorkerScript, "worker-script", "python/worker.py", "Path to the python model worker")
	return f
}

// applyRunFlags overlays only the flags the user actually set, so config
// file and environment values survive unless overridden.
func applyRunFlags(fs *pflag.FlagSet, f *RunFlags, o *config.Options) {
	set := func(name string) bool { return fs.Changed(name) }
	if set("keep-fps") {
		o.KeepFPS = f.KeepFPS
	}
	if set("keep-frames") {
		o.KeepFrames = f.KeepFrames
	}
	if set("skip-audio") {
		o.SkipAudio = f.SkipAudio
	}
	if set("many-faces") {
		o.ManyFaces = f.ManyFaces
	}
	if set("reference-face-position") {
		o.ReferenceFacePosition = f.ReferenceFacePosition
	}
	if set("reference-frame-number") {
		o.ReferenceFrameNumber = f.ReferenceFrameNumber
	}
	if set("similarity-threshold") {
		o.SimilarityThreshold = f.SimilarityThreshold
	}
	if set("match-policy") {
		o.MatchPolicy = strings.ToLower(f.MatchPolicy)
	}
	if set("frame-processor") {
		o.FrameProcessors = f.FrameProcessors
	}
	if set("temp-frame-format") {
		o.TempFrameFormat = strings.ToLower(f.TempFrameFormat)
	}
	if set("temp-frame-quality") {
		o.TempFrameQuality = f.TempFrameQuality
	}
	if set("output-video-encoder") {
		o.OutputVideoEncoder = f.OutputVideoEncoder
	}
	if set("output-video-quality") {
		o.OutputVideoQuality = f.OutputVideoQuality
	}
	if set("gif-quality") {
		o.GifQuality = f.GifQuality
	}
	if set("threads") {
		o.ExecutionThreads = f.ExecutionThreads
	}
	if set("worker-script") {
		o.WorkerScript = f.WorkerScript
	}
}

func stageIDs(names []string) []processor.ID {
	ids := make([]processor.ID, 0, len(names))
	for _, n := range names {
		ids = append(ids, processor.ID(strings.TrimSpace(n)))
	}
	return ids
}

func runSwap(cmd *cobra.Command, f RunFlags, o config.Options) error {
	ctx := cmd.Context()

	if err := utils.RequireBinary("python3"); err != nil {
		return err
	}
	if kind, err := media.Classify(f.TargetPath); err == nil && kind == types.Video {
		if err := media.CheckInstallation(); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "🚀 Starting %d model worker(s)...\n", o.ExecutionThreads)
	pool, err := worker.NewPool(ctx, o.ExecutionThreads, o.WorkerScript)
	if err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	defer pool.Close()

	registry := processor.NewRegistry()
	worker.Register(registry, pool, o.ImageQuality)
	chain, err := registry.Build(stageIDs(o.FrameProcessors))
	if err != nil {
		return err
	}

	codec := &media.FFmpeg{
		FrameFormat:  o.TempFrameFormat,
		FrameQuality: o.TempFrameQuality,
		Encoder:      o.OutputVideoEncoder,
		Quality:      o.OutputVideoQuality,
	}
	orch := pipeline.New(worker.Detector{Pool: pool}, chain, codec, codec)
	orch.Status = status.NewWriter(os.Stderr)
	orch.Progress = os.Stderr
	orch.Workers = pool.Size()
	if DB != nil {
		orch.Recorder = storeRecorder{db: DB}
	}

	res, err := orch.Run(ctx, pipeline.MediaJob{
		SourcePath: f.SourcePath,
		TargetPath: f.TargetPath,
		OutputPath: f.OutputPath,
		Options:    o,
	})
	if err != nil {
		return err
	}
	log.Info().Str("job", res.JobID.String()).Dur("elapsed", res.Elapsed).Msg("job finished")
	fmt.Fprintf(os.Stderr, "✅ Done in %s: %s\n", utils.FmtTime(res.Elapsed.Seconds()), res.OutputPath)
	return nil
}
