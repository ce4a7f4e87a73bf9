package quant

import "time"

// Collector receives job measurements. Implementations must be safe for
// concurrent use.
type Collector interface {
	// PaletteExtracted records a finished extraction.
	PaletteExtracted(colors, pruned int)

	// PixelsQuantized records source pixels mapped by a successful pass.
	PixelsQuantized(n int)

	// JobFinished records a job reaching a terminal phase.
	JobFinished(space ColorSpace, phase Phase, elapsed time.Duration)
}

type nopCollector struct{}

func (nopCollector) PaletteExtracted(int, int)                    {}
func (nopCollector) PixelsQuantized(int)                          {}
func (nopCollector) JobFinished(ColorSpace, Phase, time.Duration) {}
