package main

import (
	"image"
	"image/color"
)

// paletteQuantizer implements draw.Quantizer. It ignores the provided image
// and returns its palette each time, for places that only take the palette
// through a draw.Quantizer, like the image/gif package.
type paletteQuantizer struct {
	p color.Palette
}

func (pq *paletteQuantizer) Quantize(p color.Palette, m image.Image) color.Palette {
	return append(p[:0], pq.p...)
}
