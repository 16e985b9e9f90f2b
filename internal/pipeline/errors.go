package pipeline

import "errors"

// Fatal job errors. Everything the orchestrator returns wraps one of these.
var (
	ErrValidation       = errors.New("validation failed")
	ErrStageUnavailable = errors.New("stage unavailable")
	ErrNoSourceFace     = errors.New("no face in source image")
	ErrIO               = errors.New("media i/o failed")
	ErrCancelled        = errors.New("job cancelled")
	ErrOutputMissing    = errors.New("output missing or empty")
)
