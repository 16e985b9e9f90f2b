package face

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/andresmejia3/mirage/internal/types"
	"github.com/rs/zerolog/log"
)

// PosePenaltyWeight is subtracted per degree of |yaw| from a face's area when ranking.
// It is large enough that a profile face always ranks below a comparably sized frontal one.
const PosePenaltyWeight = 1000

// Service is the raw face-detection capability. Results are unordered.
type Service interface {
	Detect(ctx context.Context, frame *image.RGBA) ([]types.DetectedFace, error)
}

// ServiceFunc adapts a plain function to Service.
type ServiceFunc func(ctx context.Context, frame *image.RGBA) ([]types.DetectedFace, error)

func (f ServiceFunc) Detect(ctx context.Context, frame *image.RGBA) ([]types.DetectedFace, error) {
	return f(ctx, frame)
}

// Score ranks a face: larger and more frontal is better.
func Score(f types.DetectedFace) float64 {
	penalty := 0.0
	if f.Pose != nil {
		penalty = math.Abs(f.Pose.Yaw) * PosePenaltyWeight
	}
	return f.Box.Area() - penalty
}

// Prioritize returns a copy of faces sorted by descending Score.
// Equal scores keep the detector's order.
func Prioritize(faces []types.DetectedFace) []types.DetectedFace {
	out := make([]types.DetectedFace, len(faces))
	copy(out, faces)
	sort.SliceStable(out, func(i, j int) bool {
		return Score(out[i]) > Score(out[j])
	})
	return out
}

// Detector wraps a Service and orders its results by priority.
type Detector struct {
	svc Service
}

func NewDetector(svc Service) *Detector {
	return &Detector{svc: svc}
}

// Detect returns all faces in frame, best first.
func (d *Detector) Detect(ctx context.Context, frame *image.RGBA) ([]types.DetectedFace, error) {
	raw, err := d.svc.Detect(ctx, frame)
	if err != nil {
		return nil, err
	}
	faces := Prioritize(raw)
	log.Debug().Int("faces", len(faces)).Msg("Faces detected")
	return faces, nil
}

// PrimaryFace returns the face at position in priority order. A position past
// the end yields the lowest-priority face; no detections yield nil.
func (d *Detector) PrimaryFace(ctx context.Context, frame *image.RGBA, position int) (*types.DetectedFace, error) {
	faces, err := d.Detect(ctx, frame)
	if err != nil {
		return nil, err
	}
	return pick(faces, position), nil
}

func pick(faces []types.DetectedFace, position int) *types.DetectedFace {
	if len(faces) == 0 {
		return nil
	}
	if position < 0 {
		position = 0
	}
	if position >= len(faces) {
		position = len(faces) - 1
	}
	f := faces[position]
	return &f
}

// ManyFaces returns every face in frame, best first. It backs the mode that
// transforms all faces instead of tracking one identity.
func (d *Detector) ManyFaces(ctx context.Context, frame *image.RGBA) ([]types.DetectedFace, error) {
	return d.Detect(ctx, frame)
}
