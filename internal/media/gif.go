package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"io"
	"os"

	"github.com/andresmejia3/mirage/internal/types"
	"golang.org/x/image/draw"
)

const (
	// DefaultGifDelay is used for frames that declare no delay (hundredths of a second).
	DefaultGifDelay = 10
	// MinGifDelay keeps playback from racing on frames with tiny delays.
	MinGifDelay = 2
)

// NormalizeDelay applies the default and minimum frame delays.
func NormalizeDelay(d int) int {
	if d <= 0 {
		return DefaultGifDelay
	}
	if d < MinGifDelay {
		return MinGifDelay
	}
	return d
}

// DecodeGIF loads every frame of an animated GIF, composited onto the full
// canvas so each frame is a standalone picture, together with its delay.
func DecodeGIF(r io.Reader) ([]types.Frame, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode gif: %w", err)
	}
	if len(g.Image) == 0 {
		return nil, fmt.Errorf("gif has no frames")
	}

	w, h := g.Config.Width, g.Config.Height
	if w == 0 || h == 0 {
		b := g.Image[0].Bounds()
		w, h = b.Max.X, b.Max.Y
	}
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))

	frames := make([]types.Frame, 0, len(g.Image))
	for i, pm := range g.Image {
		var disposal byte
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		var restore *image.RGBA
		if disposal == gif.DisposalPrevious {
			restore = CloneRGBA(canvas)
		}

		draw.Draw(canvas, pm.Bounds(), pm, pm.Bounds().Min, draw.Over)

		delay := 0
		if i < len(g.Delay) {
			delay = g.Delay[i]
		}
		frames = append(frames, types.Frame{
			Index: i,
			Image: CloneRGBA(canvas),
			Delay: NormalizeDelay(delay),
		})

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, pm.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = restore
		}
	}
	return frames, nil
}

// LoadGIF is DecodeGIF for a file path.
func LoadGIF(path string) ([]types.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeGIF(bytes.NewReader(data))
}

// SkipFactor returns factor when frameCount exceeds threshold, otherwise 1.
func SkipFactor(frameCount, threshold, factor int) int {
	if factor < 1 {
		factor = 1
	}
	if frameCount > threshold {
		return factor
	}
	return 1
}

// ApplySkip keeps every factor-th frame starting at the first one and
// stretches each kept frame's delay by factor so total playback time holds.
func ApplySkip(frames []types.Frame, factor int) []types.Frame {
	if factor <= 1 {
		return frames
	}
	kept := make([]types.Frame, 0, (len(frames)+factor-1)/factor)
	for i := 0; i < len(frames); i += factor {
		f := frames[i]
		f.Delay *= factor
		kept = append(kept, f)
	}
	return kept
}

// TotalDelay sums the frame delays in hundredths of a second.
func TotalDelay(frames []types.Frame) int {
	total := 0
	for _, f := range frames {
		total += f.Delay
	}
	return total
}

// ScaledSize returns the size that fits w x h inside maxDim on the longest side.
func ScaledSize(w, h, maxDim int) (int, int) {
	if w >= h {
		nh := h * maxDim / w
		if nh < 1 {
			nh = 1
		}
		return maxDim, nh
	}
	nw := w * maxDim / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxDim
}

// Downscale shrinks every frame to fit maxDim when either side of the canvas
// exceeds threshold. It reports whether a resize happened.
func Downscale(frames []types.Frame, threshold, maxDim int) ([]types.Frame, bool) {
	if len(frames) == 0 {
		return frames, false
	}
	b := frames[0].Image.Bounds()
	if b.Dx() <= threshold && b.Dy() <= threshold {
		return frames, false
	}
	nw, nh := ScaledSize(b.Dx(), b.Dy(), maxDim)
	out := make([]types.Frame, len(frames))
	for i, f := range frames {
		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), f.Image, f.Image.Bounds(), draw.Src, nil)
		f.Image = dst
		out[i] = f
	}
	return out, true
}

// ColorsForQuality maps a 1-100 quality to a palette size of 2-256.
func ColorsForQuality(quality int) int {
	n := quality * 256 / 100
	if n < 2 {
		return 2
	}
	if n > 256 {
		return 256
	}
	return n
}

// EncodeGIF writes frames as a looping GIF. Each frame after the first only
// carries the rectangle that changed since the previous frame, with a palette
// quantized for that rectangle.
func EncodeGIF(w io.Writer, frames []types.Frame, quality int) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to encode")
	}
	bounds := frames[0].Image.Bounds()
	numColors := ColorsForQuality(quality)

	out := &gif.GIF{
		Image:     make([]*image.Paletted, 0, len(frames)),
		Delay:     make([]int, 0, len(frames)),
		Disposal:  make([]byte, 0, len(frames)),
		LoopCount: 0,
		Config:    image.Config{Width: bounds.Dx(), Height: bounds.Dy()},
	}

	var prev *image.RGBA
	for _, f := range frames {
		if f.Image.Bounds() != bounds {
			return fmt.Errorf("frame %d has bounds %v, expected %v", f.Index, f.Image.Bounds(), bounds)
		}
		img := flatten(f.Image)
		rect := bounds
		if prev != nil {
			rect = changedRect(prev, img)
			if rect.Empty() {
				// Nothing changed; a 1x1 block keeps the frame's timing.
				rect = image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Min.X+1, bounds.Min.Y+1)
			}
		}
		sub := img.SubImage(rect)
		palette := medianCut(sub, numColors)
		pm := image.NewPaletted(rect, palette)
		draw.FloydSteinberg.Draw(pm, rect, sub, rect.Min)

		out.Image = append(out.Image, pm)
		out.Delay = append(out.Delay, f.Delay)
		out.Disposal = append(out.Disposal, gif.DisposalNone)
		prev = img
	}
	return gif.EncodeAll(w, out)
}

// SaveGIF encodes frames to path via a temp file and rename.
func SaveGIF(path string, frames []types.Frame, quality int) error {
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := EncodeGIF(f, frames, quality); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// changedRect returns the smallest rectangle containing every differing pixel.
func changedRect(a, b *image.RGBA) image.Rectangle {
	r := b.Bounds()
	minX, minY, maxX, maxY := r.Max.X, r.Max.Y, r.Min.X, r.Min.Y
	for y := r.Min.Y; y < r.Max.Y; y++ {
		ra := a.Pix[a.PixOffset(r.Min.X, y):a.PixOffset(r.Max.X, y)]
		rb := b.Pix[b.PixOffset(r.Min.X, y):b.PixOffset(r.Max.X, y)]
		if bytes.Equal(ra, rb) {
			continue
		}
		if y < minY {
			minY = y
		}
		maxY = y + 1
		for x := 0; x < len(ra); x += 4 {
			if ra[x] != rb[x] || ra[x+1] != rb[x+1] || ra[x+2] != rb[x+2] || ra[x+3] != rb[x+3] {
				px := r.Min.X + x/4
				if px < minX {
					minX = px
				}
				if px+1 > maxX {
					maxX = px + 1
				}
			}
		}
	}
	if maxX <= minX || maxY <= minY {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX, maxY)
}

// flatten composites img over opaque black. GIF output carries no transparency.
func flatten(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}
