package media

import (
	"image"
	"image/color"
	"sort"
)

type colorBox struct {
	pixels []color.RGBA
}

// span returns the channel (0=r, 1=g, 2=b) with the widest range and that range.
func (b colorBox) span() (int, int) {
	lo := [3]uint8{255, 255, 255}
	hi := [3]uint8{}
	for _, p := range b.pixels {
		c := [3]uint8{p.R, p.G, p.B}
		for i := 0; i < 3; i++ {
			if c[i] < lo[i] {
				lo[i] = c[i]
			}
			if c[i] > hi[i] {
				hi[i] = c[i]
			}
		}
	}
	best, width := 0, -1
	for i := 0; i < 3; i++ {
		if d := int(hi[i]) - int(lo[i]); d > width {
			best, width = i, d
		}
	}
	return best, width
}

func (b colorBox) average() color.RGBA {
	var r, g, bl int
	for _, p := range b.pixels {
		r += int(p.R)
		g += int(p.G)
		bl += int(p.B)
	}
	n := len(b.pixels)
	return color.RGBA{uint8(r / n), uint8(g / n), uint8(bl / n), 255}
}

// medianCut builds a palette of at most n opaque colors for img.
func medianCut(img image.Image, n int) color.Palette {
	bounds := img.Bounds()
	pixels := make([]color.RGBA, 0, bounds.Dx()*bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			pixels = append(pixels, color.RGBAModel.Convert(img.At(x, y)).(color.RGBA))
		}
	}
	if len(pixels) == 0 {
		return color.Palette{color.Black, color.White}
	}

	boxes := []colorBox{{pixels: pixels}}
	for len(boxes) < n {
		// Split the box with the widest channel range.
		idx, axis, width := -1, 0, 0
		for i, b := range boxes {
			if len(b.pixels) < 2 {
				continue
			}
			a, w := b.span()
			if w > width {
				idx, axis, width = i, a, w
			}
		}
		if idx < 0 {
			break
		}
		b := boxes[idx]
		sort.Slice(b.pixels, func(i, j int) bool {
			return channel(b.pixels[i], axis) < channel(b.pixels[j], axis)
		})
		mid := len(b.pixels) / 2
		boxes[idx] = colorBox{pixels: b.pixels[:mid]}
		boxes = append(boxes, colorBox{pixels: b.pixels[mid:]})
	}

	palette := make(color.Palette, 0, len(boxes))
	seen := make(map[color.RGBA]bool, len(boxes))
	for _, b := range boxes {
		c := b.average()
		if seen[c] {
			continue
		}
		seen[c] = true
		palette = append(palette, c)
	}
	if len(palette) < 2 {
		// image.Paletted needs room for dithering error to land somewhere.
		if palette[0] == (color.RGBA{0, 0, 0, 255}) {
			palette = append(palette, color.RGBA{255, 255, 255, 255})
		} else {
			palette = append(palette, color.RGBA{0, 0, 0, 255})
		}
	}
	return palette
}

func channel(c color.RGBA, axis int) uint8 {
	switch axis {
	case 0:
		return c.R
	case 1:
		return c.G
	default:
		return c.B
	}
}
