package quant

import "errors"

// Nearest returns the palette entry closest to source under metric. Ties go
// to the earliest entry. It fails only for an empty palette.
func Nearest(source Color, palette Palette, metric Metric) (Color, error) {
	if len(palette) == 0 {
		return Color{}, ErrEmptyPalette
	}

	nearest := palette[0]
	minDist := metric.Distance(source, palette[0])
	for _, c := range palette[1:] {
		if d := metric.Distance(source, c); d < minDist {
			minDist = d
			nearest = c
		}
	}
	return nearest, nil
}

// Index answers nearest-color queries against a fixed palette. When the
// metric is a Projector, palette coordinates are computed once up front.
//
// An Index is read-only after construction and safe for concurrent use.
type Index struct {
	palette Palette
	metric  Metric
	proj    Projector
	coords  []Vec3
}

// NewIndex builds an index over palette. The palette must not be empty.
func NewIndex(palette Palette, metric Metric) (*Index, error) {
	if len(palette) == 0 {
		return nil, ErrEmptyPalette
	}
	if metric == nil {
		return nil, errors.New("nil metric")
	}

	idx := &Index{palette: palette, metric: metric}
	if p, ok := metric.(Projector); ok {
		idx.proj = p
		idx.coords = make([]Vec3, len(palette))
		for i, c := range palette {
			idx.coords[i] = p.Project(c)
		}
	}
	return idx, nil
}

// Palette returns the indexed palette.
func (idx *Index) Palette() Palette { return idx.palette }

// NearestIndex returns the position in the palette of the entry closest to c.
func (idx *Index) NearestIndex(c Color) int {
	best := 0
	if idx.proj != nil {
		v := idx.proj.Project(c)
		minDist := v.SquaredDistance(idx.coords[0])
		for i := 1; i < len(idx.coords); i++ {
			if d := v.SquaredDistance(idx.coords[i]); d < minDist {
				minDist = d
				best = i
			}
		}
		return best
	}

	minDist := idx.metric.Distance(c, idx.palette[0])
	for i := 1; i < len(idx.palette); i++ {
		if d := idx.metric.Distance(c, idx.palette[i]); d < minDist {
			minDist = d
			best = i
		}
	}
	return best
}

// Nearest returns the palette entry closest to c.
func (idx *Index) Nearest(c Color) Color {
	return idx.palette[idx.NearestIndex(c)]
}
