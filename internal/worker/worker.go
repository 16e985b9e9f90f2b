package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"os"
	"sync"

	"github.com/andresmejia3/mirage/internal/types"
	"github.com/andresmejia3/mirage/internal/utils"
	"github.com/rs/zerolog/log"
)

// PythonWorker is one model process. Requests go over stdin and responses come
// back on a dedicated pipe so stray prints in the child never corrupt the stream.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu sync.Mutex
}

// NewPythonWorker starts `python3 -u script`. The process is killed when ctx ends.
func NewPythonWorker(ctx context.Context, id int, script string) (*PythonWorker, error) {
	py := utils.NewSafeCommand(ctx, "python3", "-u", script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	log.Debug().Int("worker", id).Str("script", script).Msg("python worker started")
	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one length-prefixed request and reads one length-prefixed response.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, w.crashed(err)
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, w.crashed(err)
	}
	return respBody, nil
}

// crashed attaches whatever the child printed to stderr, which is usually the traceback.
func (w *PythonWorker) crashed(err error) error {
	if w.Cmd != nil && w.Cmd.Stderr.Len() > 0 {
		return fmt.Errorf("worker %d: %w\n%s", w.ID, err, w.Cmd.Stderr.String())
	}
	return fmt.Errorf("worker %d: %w", w.ID, err)
}

// call runs op and returns a reader positioned after the OK status byte.
func (w *PythonWorker) call(op Op, body *bytes.Buffer) (*bytes.Reader, error) {
	req := make([]byte, 0, 1+body.Len())
	req = append(req, byte(op))
	req = append(req, body.Bytes()...)
	resp, err := w.Communicate(req)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(resp)
	if err := readStatus(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Ping checks that models are loaded and the process answers.
func (w *PythonWorker) Ping() error {
	_, err := w.call(OpPing, &bytes.Buffer{})
	return err
}

// Detect returns the raw (unordered) faces found in frame.
func (w *PythonWorker) Detect(frame *image.RGBA) ([]types.DetectedFace, error) {
	body := &bytes.Buffer{}
	writeFrame(body, frame)
	r, err := w.call(OpDetect, body)
	if err != nil {
		return nil, err
	}
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("failed to read face count: %w", err)
	}
	if uint64(n)*minFaceSize > uint64(r.Len()) {
		return nil, fmt.Errorf("face count %d exceeds remaining %d bytes", n, r.Len())
	}
	faces := make([]types.DetectedFace, 0, n)
	for i := uint32(0); i < n; i++ {
		f, err := readFace(r)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		faces = append(faces, f)
	}
	return faces, nil
}

// Swap pastes the identity of source onto target inside frame.
func (w *PythonWorker) Swap(source, target *types.DetectedFace, frame *image.RGBA) (*image.RGBA, error) {
	body := &bytes.Buffer{}
	writeFace(body, source)
	writeFace(body, target)
	writeFrame(body, frame)
	r, err := w.call(OpSwap, body)
	if err != nil {
		return nil, err
	}
	return readFrame(r)
}

// Enhance restores detail in the target face region of frame.
func (w *PythonWorker) Enhance(target *types.DetectedFace, frame *image.RGBA) (*image.RGBA, error) {
	body := &bytes.Buffer{}
	writeFace(body, target)
	writeFrame(body, frame)
	r, err := w.call(OpEnhance, body)
	if err != nil {
		return nil, err
	}
	return readFrame(r)
}

func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
