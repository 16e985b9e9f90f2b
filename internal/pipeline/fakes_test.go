package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/mirage/internal/config"
	"github.com/andresmejia3/mirage/internal/media"
	"github.com/andresmejia3/mirage/internal/processor"
	"github.com/andresmejia3/mirage/internal/types"
	"github.com/google/uuid"
)

// Test frames encode their meaning in pixel (0,0): R is the frame index,
// G names the person in the frame (0 for nobody) and B is painted by the stage.
const painted = 200

const (
	nobody  uint8 = 0
	personA uint8 = 1
	personB uint8 = 2
)

func frameImage(index int, hasFace bool) *image.RGBA {
	if hasFace {
		return personImage(index, personA)
	}
	return personImage(index, nobody)
}

func personImage(index int, person uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	c := color.RGBA{R: uint8(index), G: person, A: 255}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// pixelFaces reports the person named by the marker pixel. Person A and
// person B have orthogonal embeddings. With perFrame > 1 the person shows up
// that many times, each copy smaller than the last.
type pixelFaces struct {
	perFrame int

	mu    sync.Mutex
	calls int
}

func (p *pixelFaces) Detect(ctx context.Context, frame *image.RGBA) ([]types.DetectedFace, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	person := frame.RGBAAt(0, 0).G
	if person == nobody {
		return nil, nil
	}
	emb := []float32{1, 0}
	if person == personB {
		emb = []float32{0, 1}
	}
	n := max(p.perFrame, 1)
	faces := make([]types.DetectedFace, n)
	for i := range faces {
		size := float64(2 * (n - i))
		faces[i] = types.DetectedFace{
			Box:       types.BoundingBox{X1: 0, Y1: 0, X2: size, Y2: size},
			Embedding: emb,
			Score:     0.9,
		}
	}
	return faces, nil
}

// paintStage marks every frame it sees.
type paintStage struct {
	id        processor.ID
	ready     bool
	jobReady  bool
	postCalls int
	onFrame   func(n int)

	mu     sync.Mutex
	frames int
}

func newPaintStage() *paintStage {
	return &paintStage{id: processor.FaceSwapper, ready: true, jobReady: true}
}

func (s *paintStage) Name() processor.ID                { return s.id }
func (s *paintStage) PreCheck(ctx context.Context) bool { return s.ready }
func (s *paintStage) PreStart(ctx context.Context, job processor.JobInfo) bool {
	return s.jobReady
}
func (s *paintStage) ProcessFrame(ctx context.Context, source, target *types.DetectedFace, frame *image.RGBA) (*image.RGBA, error) {
	s.mu.Lock()
	s.frames++
	n := s.frames
	s.mu.Unlock()
	if s.onFrame != nil {
		s.onFrame(n)
	}
	if s.id == processor.FaceSwapper && source == nil {
		return nil, fmt.Errorf("no source face")
	}
	out := media.CloneRGBA(frame)
	c := out.RGBAAt(0, 0)
	c.B = painted
	out.SetRGBA(0, 0, c)
	return out, nil
}
func (s *paintStage) ProcessImage(ctx context.Context, src, tgt, out string) error { return nil }
func (s *paintStage) ProcessVideo(ctx context.Context, src string, p []string) error {
	return nil
}
func (s *paintStage) PostProcess(ctx context.Context) { s.postCalls++ }

// fakeCodec writes PNG frames on extract and snapshots them on encode.
type fakeCodec struct {
	frames     []bool  // hasFace per frame
	people     []uint8 // person per frame, used instead of frames when set
	emptyOut   bool    // Encode writes a zero-byte file
	fps        float64
	extractFPS float64
	encodeFPS  float64
	encoded    []color.RGBA
	audioCalls int
	failEncode error
}

func (c *fakeCodec) DetectFPS(ctx context.Context, path string) (float64, error) {
	return c.fps, nil
}

func (c *fakeCodec) CountFrames(ctx context.Context, path string) int {
	return len(c.frames)
}

func (c *fakeCodec) ExtractFrames(ctx context.Context, path string, fps float64, dir string) ([]string, error) {
	c.extractFPS = fps
	people := c.people
	if people == nil {
		for _, hasFace := range c.frames {
			if hasFace {
				people = append(people, personA)
			} else {
				people = append(people, nobody)
			}
		}
	}
	for i, person := range people {
		p := filepath.Join(dir, fmt.Sprintf("%04d.png", i+1))
		if err := media.SaveImage(p, personImage(i, person), 0); err != nil {
			return nil, err
		}
	}
	return media.FramePaths(dir, "png")
}

func (c *fakeCodec) Encode(ctx context.Context, dir string, fps float64, out string) error {
	if c.failEncode != nil {
		return c.failEncode
	}
	c.encodeFPS = fps
	paths, err := media.FramePaths(dir, "png")
	if err != nil {
		return err
	}
	for _, p := range paths {
		img, err := media.LoadImage(p)
		if err != nil {
			return err
		}
		c.encoded = append(c.encoded, img.RGBAAt(0, 0))
	}
	if c.emptyOut {
		return os.WriteFile(out, nil, 0644)
	}
	return os.WriteFile(out, []byte("video"), 0644)
}

func (c *fakeCodec) RestoreAudio(ctx context.Context, source, silent, out string) error {
	c.audioCalls++
	return media.CopyFile(silent, out)
}

type fakeRecorder struct {
	started  []MediaJob
	finished []*Result
	refs     []types.FaceReference
}

func (r *fakeRecorder) JobStarted(ctx context.Context, job MediaJob, res *Result) error {
	r.started = append(r.started, job)
	return nil
}

func (r *fakeRecorder) JobFinished(ctx context.Context, res *Result) error {
	r.finished = append(r.finished, res)
	return nil
}

func (r *fakeRecorder) ReferenceSet(ctx context.Context, jobID uuid.UUID, ref types.FaceReference) error {
	r.refs = append(r.refs, ref)
	return nil
}

// fixture lays out a source image and an options value rooted in a temp dir.
type fixture struct {
	dir    string
	source string
	opts   config.Options
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	source := filepath.Join(dir, "source.png")
	if err := media.SaveImage(source, frameImage(0, true), 0); err != nil {
		t.Fatal(err)
	}
	opts := config.Defaults()
	opts.TempRoot = filepath.Join(dir, "tmp")
	if err := os.MkdirAll(opts.TempRoot, 0755); err != nil {
		t.Fatal(err)
	}
	return fixture{dir: dir, source: source, opts: opts}
}

func (f fixture) path(name string) string {
	return filepath.Join(f.dir, name)
}

// tempEntries lists what the job left under the temp root.
func (f fixture) tempEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(f.opts.TempRoot, "mirage"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func fixedClock() time.Time {
	return time.Unix(1700000000, 0)
}
