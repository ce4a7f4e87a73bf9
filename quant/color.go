// Package quant maps images onto a fixed palette.
//
// A palette is extracted from a reference pixel buffer, then every pixel of a
// source buffer is replaced by its nearest palette entry under a Metric. The
// work is split into chunks processed by a pool of goroutines, and the whole
// pipeline is driven by a Job that reports progress and honors cancellation.
//
// The package operates on in-memory pixel buffers only. Decoding and encoding
// images is left to the caller.
package quant

import (
	"fmt"
	"image/color"
	"math"
)

// Color is a pixel with float channels, each conceptually in [0,1].
// Values are not clamped.
type Color struct {
	R, G, B, A float32
}

// ColorFromNRGBA converts an 8-bit non-premultiplied color.
func ColorFromNRGBA(c color.NRGBA) Color {
	return Color{
		R: float32(c.R) / 255,
		G: float32(c.G) / 255,
		B: float32(c.B) / 255,
		A: float32(c.A) / 255,
	}
}

// ColorFromColor converts any color.Color by way of color.NRGBA.
func ColorFromColor(c color.Color) Color {
	return ColorFromNRGBA(color.NRGBAModel.Convert(c).(color.NRGBA))
}

// NRGBA converts c to 8 bits per channel, clamping out of range values.
func (c Color) NRGBA() color.NRGBA {
	return color.NRGBA{R: to8(c.R), G: to8(c.G), B: to8(c.B), A: to8(c.A)}
}

// Hex returns the color as #rrggbb, ignoring alpha.
func (c Color) Hex() string {
	n := c.NRGBA()
	return fmt.Sprintf("#%02x%02x%02x", n.R, n.G, n.B)
}

func (c Color) finite() bool {
	for _, v := range [4]float32{c.R, c.G, c.B, c.A} {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func to8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// Buffer is a row-major pixel buffer.
type Buffer struct {
	Width  int
	Height int
	Pix    []Color
}

// NewBuffer allocates a zeroed buffer of the given size.
func NewBuffer(width, height int) Buffer {
	return Buffer{Width: width, Height: height, Pix: make([]Color, width*height)}
}

// Len returns the number of pixels in the buffer.
func (b Buffer) Len() int { return len(b.Pix) }

// Validate reports whether the buffer can be read as Width×Height pixels.
// Buffers that are empty, inconsistent with their dimensions, or contain
// non-finite channel values are rejected with ErrInvalidInput.
func (b Buffer) Validate() error {
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidInput, b.Width, b.Height)
	}
	if len(b.Pix) != b.Width*b.Height {
		return fmt.Errorf("%w: %d pixels for %dx%d", ErrInvalidInput, len(b.Pix), b.Width, b.Height)
	}
	for i, c := range b.Pix {
		if !c.finite() {
			return fmt.Errorf("%w: non-finite value at pixel %d", ErrInvalidInput, i)
		}
	}
	return nil
}

// Palette is an ordered set of distinct colors. It must not be modified once
// built.
type Palette []Color

// Contains reports whether c is exactly one of the palette entries.
func (p Palette) Contains(c Color) bool {
	for _, pc := range p {
		if pc == c {
			return true
		}
	}
	return false
}

// Colors returns the palette as image colors, for use with image/draw and
// the standard encoders.
func (p Palette) Colors() color.Palette {
	out := make(color.Palette, len(p))
	for i, c := range p {
		out[i] = c.NRGBA()
	}
	return out
}
