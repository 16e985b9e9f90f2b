package face

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/andresmejia3/mirage/internal/types"
)

// DefaultSimilarityThreshold is the squared L2 distance under which two
// normalized embeddings are treated as the same person.
const DefaultSimilarityThreshold = 0.85

// MatchPolicy decides which qualifying candidate FindSimilar returns.
type MatchPolicy int

const (
	// MatchFirst returns the first candidate, in priority order, under the threshold.
	MatchFirst MatchPolicy = iota
	// MatchNearest returns the candidate with the smallest distance under the threshold.
	MatchNearest
)

func (p MatchPolicy) String() string {
	if p == MatchNearest {
		return "nearest"
	}
	return "first"
}

// ParseMatchPolicy accepts "first" or "nearest".
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch s {
	case "", "first":
		return MatchFirst, nil
	case "nearest":
		return MatchNearest, nil
	}
	return MatchFirst, fmt.Errorf("unknown match policy %q (use 'first' or 'nearest')", s)
}

// SquaredDistance returns the squared Euclidean distance between two embeddings.
// Vectors of different length, or with NaN or infinite components, are
// infinitely far apart.
func SquaredDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return math.Inf(1)
	}
	return sum
}

// Resolver keeps the tracked identity for one job and matches faces against it.
// It is not safe for concurrent use; each job owns its own Resolver.
type Resolver struct {
	detector  *Detector
	threshold float64
	policy    MatchPolicy
	position  int
	ref       *types.FaceReference
}

// NewResolver creates a Resolver with no reference. position selects which
// prioritized face seeds the reference.
func NewResolver(d *Detector, threshold float64, policy MatchPolicy, position int) *Resolver {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Resolver{detector: d, threshold: threshold, policy: policy, position: position}
}

// Reference returns the current reference, or nil.
func (r *Resolver) Reference() *types.FaceReference {
	return r.ref
}

// Set promotes face to the tracked identity.
func (r *Resolver) Set(face types.DetectedFace, frameIndex int) {
	emb := make([]float32, len(face.Embedding))
	copy(emb, face.Embedding)
	r.ref = &types.FaceReference{Embedding: emb, Box: face.Box, FrameIndex: frameIndex}
}

// Clear drops the reference. Call it whenever a new target medium is selected.
func (r *Resolver) Clear() {
	r.ref = nil
}

// Match picks a candidate from already prioritized faces according to the policy.
func (r *Resolver) Match(faces []types.DetectedFace, ref *types.FaceReference) *types.DetectedFace {
	if ref == nil {
		return nil
	}
	best := -1
	bestDist := r.threshold
	for i := range faces {
		dist := SquaredDistance(faces[i].Embedding, ref.Embedding)
		if !(dist < r.threshold) {
			continue
		}
		if r.policy == MatchFirst {
			f := faces[i]
			return &f
		}
		if dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	f := faces[best]
	return &f
}

// FindSimilar detects faces in frame and returns the one matching ref, or nil.
func (r *Resolver) FindSimilar(ctx context.Context, frame *image.RGBA, ref *types.FaceReference) (*types.DetectedFace, error) {
	faces, err := r.detector.Detect(ctx, frame)
	if err != nil {
		return nil, err
	}
	return r.Match(faces, ref), nil
}

// Resolve returns the face to transform in frame. Without a reference the
// primary face is chosen and becomes the reference; afterwards only faces
// similar to the reference are returned.
func (r *Resolver) Resolve(ctx context.Context, frame *image.RGBA, frameIndex int) (*types.DetectedFace, error) {
	faces, err := r.detector.Detect(ctx, frame)
	if err != nil {
		return nil, err
	}
	return r.ResolveFaces(faces, frameIndex), nil
}

// ResolveFaces is Resolve over faces that were already detected and
// prioritized, so detection can run ahead of resolution.
func (r *Resolver) ResolveFaces(faces []types.DetectedFace, frameIndex int) *types.DetectedFace {
	if r.ref != nil {
		return r.Match(faces, r.ref)
	}
	f := pick(faces, r.position)
	if f == nil {
		return nil
	}
	r.Set(*f, frameIndex)
	return f
}
