package types

import (
	"image"
	"strings"
)

// MediaKind is the classification of a target medium.
type MediaKind int

const (
	Unknown MediaKind = iota
	Image
	Video
	Gif
)

func (k MediaKind) String() string {
	switch k {
	case Image:
		return "image"
	case Video:
		return "video"
	case Gif:
		return "gif"
	default:
		return "unknown"
	}
}

// ParseMediaKind is the inverse of MediaKind.String. Unrecognized names map to Unknown.
func ParseMediaKind(s string) MediaKind {
	switch strings.ToLower(s) {
	case "image":
		return Image
	case "video":
		return Video
	case "gif":
		return Gif
	}
	return Unknown
}

// BoundingBox is a face location in pixel coordinates: [X1, Y1] top-left, [X2, Y2] bottom-right.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Area returns the box area. Inverted boxes have zero area.
func (b BoundingBox) Area() float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Rect converts the box to an integer rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

// Pose holds head rotation angles in degrees.
type Pose struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// DetectedFace is a single detection result. It is created fresh per detection
// call and must not be mutated afterwards.
type DetectedFace struct {
	Box       BoundingBox `json:"box"`
	Embedding []float32   `json:"embedding"` // normalized identity vector
	Pose      *Pose       `json:"pose,omitempty"`
	Score     float64     `json:"score"` // detector confidence
}

// FaceReference is the identity currently being tracked across frames.
type FaceReference struct {
	Embedding  []float32
	Box        BoundingBox
	FrameIndex int
}

// Frame is an indexed pixel buffer. Delay is the GIF display time in
// hundredths of a second and is zero for video frames.
type Frame struct {
	Index int
	Image *image.RGBA
	Delay int
}
