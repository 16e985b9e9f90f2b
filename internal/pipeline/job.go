package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/mirage/internal/config"
	"github.com/andresmejia3/mirage/internal/face"
	"github.com/andresmejia3/mirage/internal/media"
	"github.com/andresmejia3/mirage/internal/status"
	"github.com/andresmejia3/mirage/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// State is a step of the job state machine.
type State int

const (
	Idle State = iota
	Validating
	ImageFlow
	VideoFlow
	GifFlow
	Finalizing
	Done
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case ImageFlow:
		return "image"
	case VideoFlow:
		return "video"
	case GifFlow:
		return "gif"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Done || s == Failed || s == Cancelled
}

// inFlow reports whether frame I/O has started.
func (s State) inFlow() bool {
	return s == ImageFlow || s == VideoFlow || s == GifFlow || s == Finalizing
}

// MediaJob is one swap request. Kind is filled in during validation and
// OutputPath is rewritten when it names a directory.
type MediaJob struct {
	SourcePath string
	TargetPath string
	OutputPath string
	Kind       types.MediaKind
	Options    config.Options
}

// Result summarizes a finished job.
type Result struct {
	JobID             uuid.UUID
	State             State
	Kind              types.MediaKind
	OutputPath        string
	TotalFrames       int
	ProcessedFrames   int
	FramesWithoutFace int
	FacesFound        int
	SkipFactor        int
	FPS               float64
	StartedAt         time.Time
	Elapsed           time.Duration
	History           []State
	Err               error
}

// Recorder persists job history. Failures are logged and never fail the job.
type Recorder interface {
	JobStarted(ctx context.Context, job MediaJob, res *Result) error
	JobFinished(ctx context.Context, res *Result) error
	ReferenceSet(ctx context.Context, jobID uuid.UUID, ref types.FaceReference) error
}

// maxNoFaceWarnings caps per-frame "no face" lines on the status stream.
const maxNoFaceWarnings = 3

// JobContext is everything one run owns: the tracked identity, the temp
// directory, counters and the state history. Nothing in it is shared
// between runs.
type JobContext struct {
	Job      MediaJob
	Result   *Result
	Resolver *face.Resolver
	Temp     *media.TempDir
	History  []State

	source   *types.DetectedFace
	status   status.Reporter
	recorder Recorder
}

func (jc *JobContext) transition(s State) {
	jc.History = append(jc.History, s)
	jc.Result.State = s
	jc.Result.History = jc.History
	log.Debug().Str("job", jc.Result.JobID.String()).Str("state", s.String()).Msg("job state")
}

// State is the current state.
func (jc *JobContext) State() State {
	if len(jc.History) == 0 {
		return Idle
	}
	return jc.History[len(jc.History)-1]
}

func (jc *JobContext) report(scope, format string, args ...any) {
	jc.status.Update(scope, fmt.Sprintf(format, args...))
}

// noFace counts a frame without a usable face. Only the first few are reported.
func (jc *JobContext) noFace(index int) {
	jc.Result.FramesWithoutFace++
	n := jc.Result.FramesWithoutFace
	if n <= maxNoFaceWarnings {
		jc.report(status.ScopeFaces, "No face detected in frame %d, leaving it unchanged", index)
	}
	if n == maxNoFaceWarnings {
		jc.report(status.ScopeFaces, "Further frames without faces will not be reported")
	}
}

func (jc *JobContext) reportFaceStats() {
	jc.report(status.ScopeFaces, "%d faces found, %d frames without faces", jc.Result.FacesFound, jc.Result.FramesWithoutFace)
}
