package worker

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/andresmejia3/mirage/internal/face"
	"github.com/andresmejia3/mirage/internal/media"
	"github.com/andresmejia3/mirage/internal/processor"
	"github.com/andresmejia3/mirage/internal/types"
	"github.com/rs/zerolog/log"
)

// Detector adapts a Pool to face.Service.
type Detector struct {
	Pool *Pool
}

func (d Detector) Detect(ctx context.Context, frame *image.RGBA) ([]types.DetectedFace, error) {
	return d.Pool.Detect(ctx, frame)
}

// Stage is a processor.Stage backed by the worker pool. The swapper needs a
// source face; the enhancer only needs the target.
type Stage struct {
	id          processor.ID
	pool        *Pool
	detector    *face.Detector
	jpegQuality int

	mu         sync.Mutex
	sourcePath string
	sourceFace *types.DetectedFace
}

// NewSwapStage builds the face_swapper stage.
func NewSwapStage(pool *Pool, jpegQuality int) *Stage {
	return &Stage{id: processor.FaceSwapper, pool: pool, detector: face.NewDetector(Detector{Pool: pool}), jpegQuality: jpegQuality}
}

// NewEnhanceStage builds the face_enhancer stage.
func NewEnhanceStage(pool *Pool, jpegQuality int) *Stage {
	return &Stage{id: processor.FaceEnhancer, pool: pool, detector: face.NewDetector(Detector{Pool: pool}), jpegQuality: jpegQuality}
}

// Register adds both worker-backed stages to r.
func Register(r *processor.Registry, pool *Pool, jpegQuality int) {
	r.Register(processor.FaceSwapper, func() (processor.Stage, error) {
		return NewSwapStage(pool, jpegQuality), nil
	})
	r.Register(processor.FaceEnhancer, func() (processor.Stage, error) {
		return NewEnhanceStage(pool, jpegQuality), nil
	})
}

func (s *Stage) Name() processor.ID {
	return s.id
}

func (s *Stage) PreCheck(ctx context.Context) bool {
	if err := s.pool.Ping(ctx); err != nil {
		log.Error().Err(err).Str("stage", string(s.id)).Msg("stage backend unavailable")
		return false
	}
	return true
}

func (s *Stage) PreStart(ctx context.Context, job processor.JobInfo) bool {
	if job.Kind == types.Unknown {
		return false
	}
	if s.id == processor.FaceSwapper {
		if _, err := os.Stat(job.SourcePath); err != nil {
			log.Error().Err(err).Msg("source image not readable")
			return false
		}
	}
	return true
}

func (s *Stage) ProcessFrame(ctx context.Context, source, target *types.DetectedFace, frame *image.RGBA) (*image.RGBA, error) {
	if target == nil {
		return frame, nil
	}
	var out *image.RGBA
	err := s.pool.Do(ctx, func(w *PythonWorker) error {
		var err error
		switch s.id {
		case processor.FaceEnhancer:
			out, err = w.Enhance(target, frame)
		default:
			if source == nil {
				return fmt.Errorf("%s needs a source face", s.id)
			}
			out, err = w.Swap(source, target, frame)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// source returns the primary face of path, cached until PostProcess.
func (s *Stage) source(ctx context.Context, path string) (*types.DetectedFace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sourceFace != nil && s.sourcePath == path {
		return s.sourceFace, nil
	}
	img, err := media.LoadImage(path)
	if err != nil {
		return nil, err
	}
	f, err := s.detector.PrimaryFace(ctx, img, 0)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("no face in source image %s", path)
	}
	s.sourcePath, s.sourceFace = path, f
	return f, nil
}

// processFile transforms the primary face of the image at in and writes out.
// Files without a face are written unchanged.
func (s *Stage) processFile(ctx context.Context, source *types.DetectedFace, in, out string) error {
	img, err := media.LoadImage(in)
	if err != nil {
		return err
	}
	target, err := s.detector.PrimaryFace(ctx, img, 0)
	if err != nil {
		return err
	}
	if target == nil {
		log.Debug().Str("frame", in).Msg("no face, frame left unchanged")
		if in == out {
			return nil
		}
		return media.CopyFile(in, out)
	}
	res, err := s.ProcessFrame(ctx, source, target, img)
	if err != nil {
		return err
	}
	return media.SaveImage(out, res, s.jpegQuality)
}

// ProcessImage runs the stage on a whole still image.
func (s *Stage) ProcessImage(ctx context.Context, sourcePath, targetPath, outputPath string) error {
	var src *types.DetectedFace
	if s.id == processor.FaceSwapper {
		var err error
		if src, err = s.source(ctx, sourcePath); err != nil {
			return err
		}
	}
	return s.processFile(ctx, src, targetPath, outputPath)
}

// ProcessVideo rewrites every extracted frame file in place. Frames are
// spread over the pool's workers and completed in order.
func (s *Stage) ProcessVideo(ctx context.Context, sourcePath string, framePaths []string) error {
	var src *types.DetectedFace
	if s.id == processor.FaceSwapper {
		var err error
		if src, err = s.source(ctx, sourcePath); err != nil {
			return err
		}
	}
	return processor.Ordered(ctx, s.pool.Size(), len(framePaths),
		func(ctx context.Context, i int) (struct{}, error) {
			p := framePaths[i]
			if err := s.processFile(ctx, src, p, p); err != nil {
				return struct{}{}, fmt.Errorf("%s: %w", p, err)
			}
			return struct{}{}, nil
		},
		func(i int, _ struct{}) error {
			log.Debug().Str("frame", framePaths[i]).Msg("frame rewritten")
			return nil
		})
}

func (s *Stage) PostProcess(ctx context.Context) {
	s.mu.Lock()
	s.sourcePath, s.sourceFace = "", nil
	s.mu.Unlock()
}
