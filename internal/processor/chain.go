package processor

import (
	"context"
	"fmt"
	"image"

	"github.com/andresmejia3/mirage/internal/types"
	"github.com/rs/zerolog/log"
)

// Chain runs stages in registration order.
type Chain struct {
	stages []Stage
}

func NewChain(stages ...Stage) *Chain {
	return &Chain{stages: stages}
}

// Stages returns the stages in run order.
func (c *Chain) Stages() []Stage {
	return c.stages
}

// Len returns the number of stages.
func (c *Chain) Len() int {
	return len(c.stages)
}

// PreCheck returns the ID of the first stage that is not globally ready.
func (c *Chain) PreCheck(ctx context.Context) (ID, bool) {
	for _, s := range c.stages {
		if !s.PreCheck(ctx) {
			return s.Name(), false
		}
	}
	return "", true
}

// PreStart returns the ID of the first stage that cannot run this job.
func (c *Chain) PreStart(ctx context.Context, job JobInfo) (ID, bool) {
	for _, s := range c.stages {
		if !s.PreStart(ctx, job) {
			return s.Name(), false
		}
	}
	return "", true
}

// ProcessFrame feeds frame through every stage. Each stage's output is the
// next stage's input.
func (c *Chain) ProcessFrame(ctx context.Context, source, target *types.DetectedFace, frame *image.RGBA) (*image.RGBA, error) {
	bounds := frame.Bounds()
	for _, s := range c.stages {
		out, err := s.ProcessFrame(ctx, source, target, frame)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name(), err)
		}
		if out == nil {
			return nil, fmt.Errorf("%s: returned no frame", s.Name())
		}
		if out.Bounds().Size() != bounds.Size() {
			return nil, fmt.Errorf("%s: changed frame size from %v to %v", s.Name(), bounds.Size(), out.Bounds().Size())
		}
		frame = out
	}
	return frame, nil
}

// PostProcess runs every stage's PostProcess.
func (c *Chain) PostProcess(ctx context.Context) {
	for _, s := range c.stages {
		log.Debug().Str("stage", string(s.Name())).Msg("Post-processing stage")
		s.PostProcess(ctx)
	}
}
