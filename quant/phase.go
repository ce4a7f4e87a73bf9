package quant

// Phase is the lifecycle stage of a Job.
//
// A job normally moves through
//
//	PhaseIdle → PhaseExtractingPalette → PhaseQuantizing → PhaseFinalizing → PhaseCompleted
//
// and can end in PhaseCancelled or PhaseFailed from any non-terminal phase.
// Completed, Cancelled and Failed are terminal.
type Phase int32

const (
	// PhaseIdle is the state of a job that has not been run.
	PhaseIdle Phase = iota

	// PhaseExtractingPalette indicates the reference buffer is being reduced
	// to a palette.
	PhaseExtractingPalette

	// PhaseQuantizing indicates source pixels are being mapped to the palette.
	PhaseQuantizing

	// PhaseFinalizing indicates the output buffer is being handed over.
	PhaseFinalizing

	// PhaseCompleted indicates the job produced its output.
	PhaseCompleted

	// PhaseCancelled indicates the job stopped on request. No output exists.
	PhaseCancelled

	// PhaseFailed indicates the job stopped on an error. No output exists.
	PhaseFailed
)

// String returns the name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseExtractingPalette:
		return "ExtractingPalette"
	case PhaseQuantizing:
		return "Quantizing"
	case PhaseFinalizing:
		return "Finalizing"
	case PhaseCompleted:
		return "Completed"
	case PhaseCancelled:
		return "Cancelled"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Label returns the short status text shown to users for the phase.
func (p Phase) Label() string {
	switch p {
	case PhaseExtractingPalette:
		return "Extracting palette…"
	case PhaseQuantizing:
		return "Quantizing…"
	case PhaseFinalizing:
		return "Finalizing…"
	case PhaseCompleted, PhaseCancelled, PhaseFailed:
		return p.String()
	default:
		return ""
	}
}

// Terminal reports whether the phase is final.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseFailed
}

var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:              {PhaseExtractingPalette, PhaseCancelled, PhaseFailed},
	PhaseExtractingPalette: {PhaseQuantizing, PhaseCancelled, PhaseFailed},
	PhaseQuantizing:        {PhaseFinalizing, PhaseCancelled, PhaseFailed},
	PhaseFinalizing:        {PhaseCompleted, PhaseCancelled, PhaseFailed},
}

func canTransition(from, to Phase) bool {
	for _, p := range phaseTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Progress bands. Each working phase fills its own part of [0, 1].
type progressBand struct {
	lo, hi float64
}

var (
	extractBand  = progressBand{0, 0.2}
	quantizeBand = progressBand{0.2, 0.9}
	finalizeBand = progressBand{0.9, 1}
)

func (b progressBand) at(done, total int) float64 {
	if total <= 0 {
		return b.hi
	}
	return b.lo + (b.hi-b.lo)*float64(done)/float64(total)
}
