package quant

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
)

// DefaultEpsilon is the RGB distance under which two reference pixels are
// treated as the same palette color.
const DefaultEpsilon = 0.1

// cancelCheckInterval is how many pixels are processed between checks of
// the cancellation signal.
const cancelCheckInterval = 1000

// ExtractOptions configures Extract.
type ExtractOptions struct {
	// Epsilon is the RGB Euclidean distance below which two pixels share a
	// group. Zero means DefaultEpsilon.
	Epsilon float64

	// MinOccurrences drops groups with fewer pixels than this. Values of 1 or
	// less keep every group.
	MinOccurrences int

	// OnProgress, if set, is called periodically with the number of pixels
	// scanned so far.
	OnProgress func(done, total int)
}

// ExtractStats describes an extraction. Counts[i] is the number of
// reference pixels that fell into the group of palette entry i.
type ExtractStats struct {
	Pixels      int
	Groups      int
	Pruned      int
	Counts      []int
	MaxDistance float64
}

type colorGroup struct {
	rep   Color
	count int
}

// Extract reduces ref to its distinct colors.
//
// Pixels are grouped by RGB distance: a pixel joins the first existing group
// whose representative is closer than the epsilon, otherwise it starts a new
// group and becomes its representative. Groups smaller than MinOccurrences
// are discarded as noise. The palette keeps the order in which groups were
// first seen.
//
// The grouping is a linear scan over the groups found so far, so the cost is
// O(pixels × groups). A memo of exact pixel values skips the scan for repeated
// colors; it always agrees with the scan because groups are only appended and
// representatives never change.
func Extract(ctx context.Context, ref Buffer, opts ExtractOptions) (Palette, ExtractStats, error) {
	var stats ExtractStats

	if err := ref.Validate(); err != nil {
		return nil, stats, fmt.Errorf("reference buffer: %w", err)
	}

	eps := opts.Epsilon
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	epsSq := eps * eps

	var (
		groups []colorGroup
		memo   = make(map[Color]int)
		metric RGB
		total  = ref.Len()
	)

	for i, c := range ref.Pix {
		if i%cancelCheckInterval == 0 {
			if ctx.Err() != nil {
				return nil, stats, ErrCancelled
			}
			if opts.OnProgress != nil && i > 0 {
				opts.OnProgress(i, total)
			}
		}

		if g, ok := memo[c]; ok {
			groups[g].count++
			continue
		}

		found := -1
		for g := range groups {
			d := metric.Distance(c, groups[g].rep)
			if d > stats.MaxDistance {
				stats.MaxDistance = d
			}
			if d < epsSq {
				found = g
				break
			}
		}
		if found < 0 {
			groups = append(groups, colorGroup{rep: c})
			found = len(groups) - 1
		}
		groups[found].count++
		memo[c] = found
	}

	if opts.OnProgress != nil {
		opts.OnProgress(total, total)
	}

	// Squared distances are compared above; report the real distance.
	stats.MaxDistance = math.Sqrt(stats.MaxDistance)
	stats.Pixels = total
	stats.Groups = len(groups)

	logGroups(groups)

	palette := make(Palette, 0, len(groups))
	for _, g := range groups {
		if g.count < opts.MinOccurrences {
			stats.Pruned++
			continue
		}
		palette = append(palette, g.rep)
		stats.Counts = append(stats.Counts, g.count)
	}

	Logger().Info("extracted palette",
		"colors", len(palette),
		"groups", stats.Groups,
		"pruned", stats.Pruned,
		"max_distance", stats.MaxDistance,
	)

	return palette, stats, nil
}

func logGroups(groups []colorGroup) {
	if !Logger().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	sorted := make([]colorGroup, len(groups))
	copy(sorted, groups)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].count < sorted[j].count })
	for _, g := range sorted {
		Logger().Debug("palette group", "color", g.rep.Hex(), "count", g.count)
	}
}
