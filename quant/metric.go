package quant

import (
	"fmt"
	"math"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Metric computes a non-negative dissimilarity between two colors.
// Distances are only meaningful relative to each other.
type Metric interface {
	Distance(a, b Color) float64
}

// Projector is a Metric whose distance is the squared Euclidean distance
// between two projected coordinates. Index uses it to project each palette
// entry only once.
type Projector interface {
	Metric
	Project(c Color) Vec3
}

// Vec3 is a point in a three-channel color space.
type Vec3 [3]float64

// SquaredDistance returns the squared Euclidean distance between v and w.
func (v Vec3) SquaredDistance(w Vec3) float64 {
	d0 := v[0] - w[0]
	d1 := v[1] - w[1]
	d2 := v[2] - w[2]
	return d0*d0 + d1*d1 + d2*d2
}

// RGB is the squared Euclidean distance over the red, green and blue
// channels. Alpha is ignored.
type RGB struct{}

var _ Projector = RGB{}

// Project returns the color's RGB channels.
func (RGB) Project(c Color) Vec3 {
	return Vec3{float64(c.R), float64(c.G), float64(c.B)}
}

// Distance implements Metric.
func (m RGB) Distance(a, b Color) float64 {
	return m.Project(a).SquaredDistance(m.Project(b))
}

// LAB is the squared Euclidean distance in CIE L*a*b*, treating colors as
// sRGB with a D65 white point. It is several times slower than RGB.
//
// The RGB to XYZ step uses the Lindbloom sRGB D65 matrix rather than
// colorful.LinearRgbToXyz, whose coefficients differ in the fifth digit.
type LAB struct{}

var _ Projector = LAB{}

const (
	labEpsilon = 0.008856
	labKappa   = 7.787
	labOffset  = 16.0 / 116.0
)

// Project converts c to L*a*b*.
func (LAB) Project(c Color) Vec3 {
	r, g, b := colorful.Color{R: float64(c.R), G: float64(c.G), B: float64(c.B)}.LinearRgb()
	x := 0.4124564*r + 0.3575761*g + 0.1804375*b
	y := 0.2126729*r + 0.7151522*g + 0.0721750*b
	z := 0.0193339*r + 0.1191920*g + 0.9503041*b

	fx := labF(x / colorful.D65[0])
	fy := labF(y / colorful.D65[1])
	fz := labF(z / colorful.D65[2])

	return Vec3{
		116*fy - 16,
		500 * (fx - fy),
		200 * (fy - fz),
	}
}

// Distance implements Metric.
func (m LAB) Distance(a, b Color) float64 {
	return m.Project(a).SquaredDistance(m.Project(b))
}

func labF(t float64) float64 {
	if t > labEpsilon {
		return math.Cbrt(t)
	}
	return labKappa*t + labOffset
}

// ColorSpace selects the metric a job uses.
type ColorSpace int

const (
	// SpaceRGB compares colors by their RGB channels.
	SpaceRGB ColorSpace = iota
	// SpaceLAB compares colors perceptually in CIE L*a*b*.
	SpaceLAB
)

// String returns the lowercase name of the color space.
func (s ColorSpace) String() string {
	switch s {
	case SpaceRGB:
		return "rgb"
	case SpaceLAB:
		return "lab"
	default:
		return "unknown"
	}
}

// Metric returns the distance function for the color space.
func (s ColorSpace) Metric() Metric {
	if s == SpaceLAB {
		return LAB{}
	}
	return RGB{}
}

// ParseColorSpace parses "rgb" or "lab", case-insensitively.
func ParseColorSpace(s string) (ColorSpace, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rgb":
		return SpaceRGB, nil
	case "lab":
		return SpaceLAB, nil
	}
	return SpaceRGB, fmt.Errorf("%w: '%s'", ErrUnknownColorSpace, s)
}
