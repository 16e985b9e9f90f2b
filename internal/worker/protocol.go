package worker

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"

	"github.com/andresmejia3/mirage/internal/types"
)

// Op is the first byte of every request.
type Op byte

const (
	OpPing    Op = 0
	OpDetect  Op = 1
	OpSwap    Op = 2
	OpEnhance Op = 3
)

const (
	statusOK    byte = 0
	statusError byte = 1
)

// Request layout: [Op] then op-specific fields, all big endian.
//   detect:  [Frame]
//   swap:    [Face source] [Face target] [Frame]
//   enhance: [Face target] [Frame]
// Response layout: [Status] then on OK the op result, on error [MsgLen][Msg].
//   detect:        [NumFaces] [Face]...
//   swap, enhance: [Frame]
// Frame: [W uint32][H uint32][W*H*4 RGBA bytes]
// Face:  [Box 4xfloat32][Score float32][HasPose byte][Pose 3xfloat32]?[EmbLen uint32][Emb float32...]

// minFaceSize is the encoded size of a face without pose or embedding.
const minFaceSize = 5*4 + 1 + 4

func writeFrame(buf *bytes.Buffer, img *image.RGBA) {
	b := img.Bounds()
	binary.Write(buf, binary.BigEndian, [2]uint32{uint32(b.Dx()), uint32(b.Dy())})
	for y := b.Min.Y; y < b.Max.Y; y++ {
		buf.Write(img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)])
	}
}

func readFrame(r *bytes.Reader) (*image.RGBA, error) {
	var dims [2]uint32
	if err := binary.Read(r, binary.BigEndian, &dims); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}
	if size := uint64(dims[0]) * uint64(dims[1]) * 4; size > uint64(r.Len()) {
		return nil, fmt.Errorf("frame %dx%d needs %d bytes, only %d left", dims[0], dims[1], size, r.Len())
	}
	img := image.NewRGBA(image.Rect(0, 0, int(dims[0]), int(dims[1])))
	if _, err := io.ReadFull(r, img.Pix); err != nil {
		return nil, fmt.Errorf("failed to read frame pixels: %w", err)
	}
	return img, nil
}

func writeFace(buf *bytes.Buffer, f *types.DetectedFace) {
	box := [5]float32{float32(f.Box.X1), float32(f.Box.Y1), float32(f.Box.X2), float32(f.Box.Y2), float32(f.Score)}
	binary.Write(buf, binary.BigEndian, box)
	if f.Pose != nil {
		buf.WriteByte(1)
		binary.Write(buf, binary.BigEndian, [3]float32{float32(f.Pose.Pitch), float32(f.Pose.Yaw), float32(f.Pose.Roll)})
	} else {
		buf.WriteByte(0)
	}
	binary.Write(buf, binary.BigEndian, uint32(len(f.Embedding)))
	binary.Write(buf, binary.BigEndian, f.Embedding)
}

func readFace(r *bytes.Reader) (types.DetectedFace, error) {
	var f types.DetectedFace
	var box [5]float32
	if err := binary.Read(r, binary.BigEndian, &box); err != nil {
		return f, fmt.Errorf("failed to read face box: %w", err)
	}
	f.Box = types.BoundingBox{X1: float64(box[0]), Y1: float64(box[1]), X2: float64(box[2]), Y2: float64(box[3])}
	f.Score = float64(box[4])

	var hasPose [1]byte
	if _, err := io.ReadFull(r, hasPose[:]); err != nil {
		return f, fmt.Errorf("failed to read pose flag: %w", err)
	}
	if hasPose[0] == 1 {
		var pose [3]float32
		if err := binary.Read(r, binary.BigEndian, &pose); err != nil {
			return f, fmt.Errorf("failed to read pose: %w", err)
		}
		f.Pose = &types.Pose{Pitch: float64(pose[0]), Yaw: float64(pose[1]), Roll: float64(pose[2])}
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return f, fmt.Errorf("failed to read embedding length: %w", err)
	}
	if uint64(n)*4 > uint64(r.Len()) {
		return f, fmt.Errorf("embedding length %d exceeds remaining %d bytes", n, r.Len())
	}
	f.Embedding = make([]float32, n)
	if err := binary.Read(r, binary.BigEndian, f.Embedding); err != nil {
		return f, fmt.Errorf("failed to read embedding: %w", err)
	}
	return f, nil
}

// readStatus consumes the status byte and turns an error status into a Go error.
func readStatus(r io.Reader) error {
	var status [1]byte
	if _, err := io.ReadFull(r, status[:]); err != nil {
		return fmt.Errorf("empty response from python worker: %w", err)
	}
	if status[0] == statusOK {
		return nil
	}
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return fmt.Errorf("python worker error (unreadable message): %w", err)
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		return fmt.Errorf("python worker error (truncated message): %w", err)
	}
	return fmt.Errorf("python worker error: %s", msg)
}
