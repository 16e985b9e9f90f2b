package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/mirage/internal/face"
	"github.com/andresmejia3/mirage/internal/media"
	"github.com/andresmejia3/mirage/internal/processor"
	"github.com/andresmejia3/mirage/internal/status"
	"github.com/andresmejia3/mirage/internal/types"
	"github.com/andresmejia3/mirage/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

// Orchestrator runs swap jobs. It holds only collaborators; all per-job
// state lives in a JobContext, so one Orchestrator can run jobs back to back.
type Orchestrator struct {
	detector *face.Detector
	chain    *processor.Chain
	video    media.VideoCodec
	audio    media.AudioMuxer

	// Status receives the plain-text progress stream. Defaults to status.Discard.
	Status status.Reporter
	// Recorder is optional job history.
	Recorder Recorder
	// Progress receives per-frame progress bars. nil disables them.
	Progress io.Writer
	// Now is the clock used for derived output names.
	Now func() time.Time
	// Workers is how many video or GIF frames are analyzed at once. Results
	// are still applied in frame order. Values below 1 mean one.
	Workers int
}

// New builds an Orchestrator.
func New(svc face.Service, chain *processor.Chain, video media.VideoCodec, audio media.AudioMuxer) *Orchestrator {
	return &Orchestrator{
		detector: face.NewDetector(svc),
		chain:    chain,
		video:    video,
		audio:    audio,
		Status:   status.Discard,
		Now:      time.Now,
	}
}

// Run executes job to a terminal state. The returned Result is never nil;
// on failure its Err equals the returned error.
func (o *Orchestrator) Run(ctx context.Context, job MediaJob) (*Result, error) {
	res := &Result{JobID: uuid.New(), StartedAt: o.Now(), SkipFactor: 1}
	jc := &JobContext{
		Job:      job,
		Result:   res,
		status:   o.Status,
		recorder: o.Recorder,
	}
	if jc.status == nil {
		jc.status = status.Discard
	}
	jc.transition(Idle)

	err := o.run(ctx, jc)
	o.finish(ctx, jc, err)
	return res, res.Err
}

func (o *Orchestrator) run(ctx context.Context, jc *JobContext) error {
	jc.transition(Validating)
	if err := o.validate(jc); err != nil {
		return err
	}
	jc.Result.Kind = jc.Job.Kind
	jc.Result.OutputPath = jc.Job.OutputPath
	o.recordStart(ctx, jc)

	if err := o.gate(ctx, jc); err != nil {
		return err
	}
	defer o.chain.PostProcess(context.WithoutCancel(ctx))

	policy, _ := face.ParseMatchPolicy(jc.Job.Options.MatchPolicy)
	jc.Resolver = face.NewResolver(o.detector, jc.Job.Options.SimilarityThreshold, policy, jc.Job.Options.ReferenceFacePosition)

	if o.needsSource() {
		if err := o.loadSource(ctx, jc); err != nil {
			return err
		}
	}

	var err error
	switch jc.Job.Kind {
	case types.Image:
		jc.transition(ImageFlow)
		err = o.runImage(ctx, jc)
	case types.Video:
		jc.transition(VideoFlow)
		err = o.runVideo(ctx, jc)
	case types.Gif:
		jc.transition(GifFlow)
		err = o.runGIF(ctx, jc)
	}
	if err != nil {
		return err
	}

	jc.transition(Finalizing)
	if !media.NonEmptyFile(jc.Job.OutputPath) {
		return fmt.Errorf("%w: %s", ErrOutputMissing, jc.Job.OutputPath)
	}
	return nil
}

// finish settles the terminal state, cleans up and records the result.
func (o *Orchestrator) finish(ctx context.Context, jc *JobContext, err error) {
	res := jc.Result
	if err != nil && !errors.Is(err, ErrCancelled) && ctx.Err() != nil && jc.State().inFlow() {
		err = fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	switch {
	case err == nil:
		jc.transition(Done)
		jc.report(status.ScopeCore, "Processing to %s succeeded: %s", jc.Job.Kind, jc.Job.OutputPath)
	case errors.Is(err, ErrCancelled):
		jc.transition(Cancelled)
		jc.report(status.ScopeCore, "Processing cancelled")
	default:
		jc.transition(Failed)
		jc.report(status.ScopeCore, "Processing failed: %v", err)
	}
	res.Err = err

	if jc.Temp != nil {
		if jc.Job.Options.KeepFrames {
			jc.report(status.ScopeMedia, "Keeping temp frames in %s", jc.Temp.Path)
		} else if rmErr := jc.Temp.Remove(); rmErr != nil {
			log.Warn().Err(rmErr).Str("dir", jc.Temp.Path).Msg("failed to remove temp dir")
		}
	}

	res.Elapsed = o.Now().Sub(res.StartedAt)
	if o.Recorder != nil && res.Kind != types.Unknown {
		if recErr := o.Recorder.JobFinished(context.WithoutCancel(ctx), res); recErr != nil {
			log.Warn().Err(recErr).Msg("failed to record job result")
		}
	}
}

func (o *Orchestrator) recordStart(ctx context.Context, jc *JobContext) {
	if o.Recorder == nil {
		return
	}
	if err := o.Recorder.JobStarted(ctx, jc.Job, jc.Result); err != nil {
		log.Warn().Err(err).Msg("failed to record job start")
	}
}

// validate checks paths and classifies the target. It never writes to disk.
func (o *Orchestrator) validate(jc *JobContext) error {
	job := &jc.Job
	if job.SourcePath == "" && o.needsSource() {
		return fmt.Errorf("%w: no source path", ErrValidation)
	}
	if job.TargetPath == "" {
		return fmt.Errorf("%w: no target path", ErrValidation)
	}
	if job.OutputPath == "" {
		return fmt.Errorf("%w: no output path", ErrValidation)
	}
	if err := job.Options.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, err := face.ParseMatchPolicy(job.Options.MatchPolicy); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if job.SourcePath != "" {
		if _, err := os.Stat(job.SourcePath); err != nil {
			return fmt.Errorf("%w: source: %v", ErrValidation, err)
		}
	}
	if info, err := os.Stat(job.TargetPath); err != nil {
		return fmt.Errorf("%w: target: %v", ErrValidation, err)
	} else if info.IsDir() {
		return fmt.Errorf("%w: target %s is a directory", ErrValidation, job.TargetPath)
	}

	kind, err := media.Classify(job.TargetPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	job.Kind = kind

	if info, err := os.Stat(job.OutputPath); err == nil && info.IsDir() {
		job.OutputPath = DeriveOutputPath(job.OutputPath, kind, o.Now())
	}
	if sameFile(job.OutputPath, job.TargetPath) {
		return fmt.Errorf("%w: output would overwrite target", ErrValidation)
	}
	if kind == types.Image && !media.CanWriteImage(job.OutputPath) {
		return fmt.Errorf("%w: cannot write image format %q", ErrValidation, filepath.Ext(job.OutputPath))
	}
	if kind != types.Image && media.KindFromExtension(job.OutputPath) != kind {
		return fmt.Errorf("%w: output %s cannot hold a %s", ErrValidation, filepath.Base(job.OutputPath), kind)
	}
	if dir := filepath.Dir(job.OutputPath); dir != "" {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return fmt.Errorf("%w: output directory %s does not exist", ErrValidation, dir)
		}
	}
	return nil
}

// DeriveOutputPath names the output inside dir as output_<unix><ext>.
func DeriveOutputPath(dir string, kind types.MediaKind, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("output_%d%s", now.Unix(), media.OutputExtension(kind)))
}

func sameFile(a, b string) bool {
	aa, errA := filepath.Abs(a)
	bb, errB := filepath.Abs(b)
	return errA == nil && errB == nil && aa == bb
}

// gate asks every stage whether it can run, before any frame I/O.
func (o *Orchestrator) gate(ctx context.Context, jc *JobContext) error {
	if o.chain == nil || o.chain.Len() == 0 {
		return fmt.Errorf("%w: no frame processors configured", ErrStageUnavailable)
	}
	if id, ok := o.chain.PreCheck(ctx); !ok {
		return fmt.Errorf("%w: %s failed pre-check", ErrStageUnavailable, id)
	}
	info := processor.JobInfo{
		SourcePath: jc.Job.SourcePath,
		TargetPath: jc.Job.TargetPath,
		OutputPath: jc.Job.OutputPath,
		Kind:       jc.Job.Kind,
	}
	if id, ok := o.chain.PreStart(ctx, info); !ok {
		return fmt.Errorf("%w: %s cannot start this job", ErrStageUnavailable, id)
	}
	return nil
}

func (o *Orchestrator) needsSource() bool {
	if o.chain == nil {
		return true
	}
	for _, s := range o.chain.Stages() {
		if s.Name() == processor.FaceSwapper {
			return true
		}
	}
	return false
}

func (o *Orchestrator) loadSource(ctx context.Context, jc *JobContext) error {
	img, err := media.LoadImage(jc.Job.SourcePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	src, err := o.detector.PrimaryFace(ctx, img, 0)
	if err != nil {
		return fmt.Errorf("%w: source detection: %v", ErrIO, err)
	}
	if src == nil {
		return fmt.Errorf("%w: %s", ErrNoSourceFace, jc.Job.SourcePath)
	}
	jc.source = src
	return nil
}

// analyzedFrame is the part of a frame's work that does not depend on other
// frames, so it can run ahead of frame order.
type analyzedFrame struct {
	index int
	frame *image.RGBA
	faces []types.DetectedFace
	// out is set when every face was already transformed.
	out *image.RGBA
}

// processFrame runs detection, identity resolution and the chain on one frame.
// Frames without a usable face come back unchanged.
func (o *Orchestrator) processFrame(ctx context.Context, jc *JobContext, index int, frame *image.RGBA) (*image.RGBA, error) {
	a, err := o.analyze(ctx, jc, index, frame)
	if err != nil {
		return nil, err
	}
	return o.apply(ctx, jc, a)
}

// analyze detects faces in frame. With ManyFaces it also runs the chain on
// every face. It only reads jc and is safe to call from several goroutines.
func (o *Orchestrator) analyze(ctx context.Context, jc *JobContext, index int, frame *image.RGBA) (*analyzedFrame, error) {
	a := &analyzedFrame{index: index, frame: frame}
	var err error
	if jc.Job.Options.ManyFaces {
		a.faces, err = o.detector.ManyFaces(ctx, frame)
	} else {
		a.faces, err = o.detector.Detect(ctx, frame)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: detection on frame %d: %v", ErrIO, index, err)
	}
	if !jc.Job.Options.ManyFaces || len(a.faces) == 0 {
		return a, nil
	}
	out := frame
	for i := range a.faces {
		if out, err = o.chain.ProcessFrame(ctx, jc.source, &a.faces[i], out); err != nil {
			return nil, fmt.Errorf("frame %d: %w", index, err)
		}
	}
	a.out = out
	return a, nil
}

// apply settles an analyzed frame in order: counters, identity tracking and
// the chain for the tracked face.
func (o *Orchestrator) apply(ctx context.Context, jc *JobContext, a *analyzedFrame) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	jc.Result.TotalFrames++

	if jc.Job.Options.ManyFaces {
		if len(a.faces) == 0 {
			jc.noFace(a.index)
			return a.frame, nil
		}
		jc.Result.FacesFound += len(a.faces)
		jc.Result.ProcessedFrames++
		return a.out, nil
	}

	hadRef := jc.Resolver.Reference() != nil
	target := jc.Resolver.ResolveFaces(a.faces, a.index)
	if target == nil {
		jc.noFace(a.index)
		return a.frame, nil
	}
	if !hadRef {
		o.referenceSet(ctx, jc)
	}
	out, err := o.chain.ProcessFrame(ctx, jc.source, target, a.frame)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", a.index, err)
	}
	jc.Result.FacesFound++
	jc.Result.ProcessedFrames++
	return out, nil
}

// seedReference fixes the tracked identity from the frame at index before any
// frame is transformed. A frame without faces leaves seeding to the first
// frame that has one.
func (o *Orchestrator) seedReference(ctx context.Context, jc *JobContext, index int, frame *image.RGBA) error {
	faces, err := o.detector.Detect(ctx, frame)
	if err != nil {
		return fmt.Errorf("%w: reference frame %d: %v", ErrIO, index, err)
	}
	if jc.Resolver.ResolveFaces(faces, index) == nil {
		jc.report(status.ScopeFaces, "No face in reference frame %d, tracking the first face found", index)
		return nil
	}
	o.referenceSet(ctx, jc)
	return nil
}

func (o *Orchestrator) referenceSet(ctx context.Context, jc *JobContext) {
	ref := jc.Resolver.Reference()
	jc.report(status.ScopeFaces, "Tracking face found in frame %d", ref.FrameIndex)
	if o.Recorder != nil {
		if err := o.Recorder.ReferenceSet(ctx, jc.Result.JobID, *ref); err != nil {
			log.Warn().Err(err).Msg("failed to record face reference")
		}
	}
}

func (o *Orchestrator) workers() int {
	if o.Workers < 1 {
		return 1
	}
	return o.Workers
}

func (o *Orchestrator) newBar(total int, description string) *progressbar.ProgressBar {
	w := o.Progress
	if w == nil {
		w = io.Discard
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
	)
}

// tempDirFor builds the job's temp directory, keyed by the target's identity.
func tempDirFor(jc *JobContext) (*media.TempDir, error) {
	id, err := utils.GenerateSourceID(jc.Job.TargetPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	td := media.NewTempDir(jc.Job.Options.TempRoot, id)
	return &td, nil
}
