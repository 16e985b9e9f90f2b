package processor

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/andresmejia3/mirage/internal/types"
)

// ID identifies a stage implementation in the Registry.
type ID string

const (
	FaceSwapper  ID = "face_swapper"
	FaceEnhancer ID = "face_enhancer"
)

// JobInfo is what a stage may inspect in PreStart to decide whether it can run.
type JobInfo struct {
	SourcePath string
	TargetPath string
	OutputPath string
	Kind       types.MediaKind
}

// Stage is a pluggable frame transform with a fixed lifecycle.
//
// ProcessFrame must return a buffer of the same dimensions and must not keep a
// reference to frame after returning. target is the face picked by the caller;
// stages do not re-detect it.
type Stage interface {
	Name() ID
	// PreCheck reports global readiness (models, backends).
	PreCheck(ctx context.Context) bool
	// PreStart reports per-job readiness (required inputs present).
	PreStart(ctx context.Context, job JobInfo) bool
	ProcessFrame(ctx context.Context, source, target *types.DetectedFace, frame *image.RGBA) (*image.RGBA, error)
	ProcessImage(ctx context.Context, sourcePath, targetPath, outputPath string) error
	ProcessVideo(ctx context.Context, sourcePath string, framePaths []string) error
	// PostProcess releases resources and flushes caches after a job.
	PostProcess(ctx context.Context)
}

// Factory builds a stage instance.
type Factory func() (Stage, error)

// Registry maps stage IDs to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[ID]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[ID]Factory)}
}

// Register adds or replaces the factory for id.
func (r *Registry) Register(id ID, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// IDs lists registered stage IDs in lexical order.
func (r *Registry) IDs() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ID, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Build instantiates the stages for ids, in that order.
func (r *Registry) Build(ids []ID) (*Chain, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("no frame processors selected")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	stages := make([]Stage, 0, len(ids))
	for _, id := range ids {
		f, ok := r.factories[id]
		if !ok {
			return nil, fmt.Errorf("unknown frame processor %q", id)
		}
		s, err := f()
		if err != nil {
			return nil, fmt.Errorf("failed to build frame processor %q: %w", id, err)
		}
		stages = append(stages, s)
	}
	return NewChain(stages...), nil
}
