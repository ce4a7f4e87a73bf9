package quant

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Status is a snapshot of a job for presentation.
type Status struct {
	Phase    Phase
	Progress float64
	Label    string
	Err      error
}

// Option configures a Job.
type Option func(*Job)

// WithColorSpace selects the metric used for the nearest-color search.
func WithColorSpace(space ColorSpace) Option {
	return func(j *Job) { j.space = space }
}

// WithMinOccurrences sets the palette noise threshold. See ExtractOptions.
func WithMinOccurrences(n int) Option {
	return func(j *Job) { j.minOccurrences = n }
}

// WithEpsilon sets the palette grouping distance. See ExtractOptions.
func WithEpsilon(eps float64) Option {
	return func(j *Job) { j.epsilon = eps }
}

// WithWorkers sets the number of quantization goroutines.
func WithWorkers(n int) Option {
	return func(j *Job) { j.workers = n }
}

// WithChunkSize sets the number of pixels per work unit.
func WithChunkSize(n int) Option {
	return func(j *Job) { j.chunkSize = n }
}

// WithFinalizer sets a function that receives the output buffer during
// PhaseFinalizing, typically to materialize it as an image. An error from it
// fails the job.
func WithFinalizer(fn func(Buffer) error) Option {
	return func(j *Job) { j.finalizer = fn }
}

// WithStatusHandler subscribes fn to phase and progress changes. It is
// called from worker goroutines while quantizing and must be safe for
// concurrent use.
func WithStatusHandler(fn func(Status)) Option {
	return func(j *Job) { j.onStatus = fn }
}

// WithCollector sets the metrics collector.
func WithCollector(c Collector) Option {
	return func(j *Job) {
		if c != nil {
			j.collector = c
		}
	}
}

// Job quantizes one source buffer against the palette of one reference
// buffer. A Job runs at most once; start a new one for each quantization.
//
// Run sequences the phases on the calling goroutine. Status, Phase, Progress
// and Cancel may be called from any goroutine.
type Job struct {
	source    Buffer
	reference Buffer

	space          ColorSpace
	minOccurrences int
	epsilon        float64
	workers        int
	chunkSize      int
	finalizer      func(Buffer) error
	onStatus       func(Status)
	collector      Collector

	// notifyMu orders status delivery, so handlers see progress in the
	// same order it was reached.
	notifyMu sync.Mutex

	started  atomic.Bool
	phase    atomic.Int32
	progress atomic.Uint64 // float64 bits

	mu              sync.Mutex
	cancel          context.CancelFunc
	cancelRequested bool
	err             error
	palette         Palette
	stats           ExtractStats
}

// NewJob creates an idle job.
func NewJob(source, reference Buffer, opts ...Option) *Job {
	j := &Job{
		source:    source,
		reference: reference,
		epsilon:   DefaultEpsilon,
		chunkSize: DefaultChunkSize,
		collector: nopCollector{},
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run executes the job and returns the quantized buffer.
//
// The job ends in exactly one terminal phase. On cancellation, through
// Cancel or ctx, Run returns ErrCancelled and no buffer. Invalid buffers
// fail with ErrInvalidInput before any work starts, and a palette pruned to
// nothing fails with ErrEmptyPalette.
func (j *Job) Run(ctx context.Context) (Buffer, error) {
	if !j.started.CompareAndSwap(false, true) {
		return Buffer{}, ErrJobReused
	}

	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	j.mu.Lock()
	requested := j.cancelRequested
	j.cancel = cancel
	j.mu.Unlock()
	if requested || ctx.Err() != nil {
		return Buffer{}, j.finish(ErrCancelled, start)
	}

	if err := j.source.Validate(); err != nil {
		return Buffer{}, j.finish(fmt.Errorf("source buffer: %w", err), start)
	}
	if err := j.reference.Validate(); err != nil {
		return Buffer{}, j.finish(fmt.Errorf("reference buffer: %w", err), start)
	}

	if err := j.transition(PhaseExtractingPalette); err != nil {
		return Buffer{}, j.finish(err, start)
	}
	palette, stats, err := Extract(ctx, j.reference, ExtractOptions{
		Epsilon:        j.epsilon,
		MinOccurrences: j.minOccurrences,
		OnProgress: func(done, total int) {
			j.advance(extractBand.at(done, total))
		},
	})
	if err != nil {
		return Buffer{}, j.finish(err, start)
	}
	if len(palette) == 0 {
		return Buffer{}, j.finish(ErrEmptyPalette, start)
	}
	j.mu.Lock()
	j.palette = palette
	j.stats = stats
	j.mu.Unlock()
	j.collector.PaletteExtracted(len(palette), stats.Pruned)

	idx, err := NewIndex(palette, j.space.Metric())
	if err != nil {
		return Buffer{}, j.finish(err, start)
	}

	if err := j.transition(PhaseQuantizing); err != nil {
		return Buffer{}, j.finish(err, start)
	}
	pix, err := Quantize(ctx, j.source.Pix, idx, QuantizeOptions{
		Workers:   j.workers,
		ChunkSize: j.chunkSize,
		OnProgress: func(done, total int) {
			j.advance(quantizeBand.at(done, total))
		},
	})
	if err != nil {
		return Buffer{}, j.finish(err, start)
	}
	j.collector.PixelsQuantized(len(pix))

	if err := j.transition(PhaseFinalizing); err != nil {
		return Buffer{}, j.finish(err, start)
	}
	if ctx.Err() != nil {
		return Buffer{}, j.finish(ErrCancelled, start)
	}

	out := Buffer{Width: j.source.Width, Height: j.source.Height, Pix: pix}
	if j.finalizer != nil {
		if err := j.finalizer(out); err != nil {
			return Buffer{}, j.finish(fmt.Errorf("finalize: %w", err), start)
		}
	}
	j.advance(finalizeBand.hi)

	if err := j.finish(nil, start); err != nil {
		return Buffer{}, err
	}
	return out, nil
}

// Cancel requests cancellation. Workers finish their current chunk and start
// no new ones. Cancelling a job that has not started makes Run return
// ErrCancelled immediately; cancelling a finished job has no effect.
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Phase().Terminal() {
		return
	}
	j.cancelRequested = true
	if j.cancel != nil {
		j.cancel()
	}
}

// Phase returns the current phase.
func (j *Job) Phase() Phase {
	return Phase(j.phase.Load())
}

// Progress returns the completed fraction in [0, 1]. It never decreases.
func (j *Job) Progress() float64 {
	return math.Float64frombits(j.progress.Load())
}

// Status returns a snapshot of the job.
func (j *Job) Status() Status {
	j.mu.Lock()
	err := j.err
	cancelling := j.cancelRequested
	j.mu.Unlock()

	p := j.Phase()
	label := p.Label()
	if cancelling && !p.Terminal() {
		label = "Cancelling…"
	}
	return Status{Phase: p, Progress: j.Progress(), Label: label, Err: err}
}

// Palette returns the extracted palette, or nil before extraction finished.
func (j *Job) Palette() Palette {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.palette
}

// ExtractStats returns statistics of the palette extraction.
func (j *Job) ExtractStats() ExtractStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

// Err returns the error the job ended with, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) transition(to Phase) error {
	from := j.Phase()
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	j.phase.Store(int32(to))
	Logger().Debug("job phase", "from", from.String(), "to", to.String())
	j.notify()
	return nil
}

// advance raises progress to v. Lower values are ignored, since workers
// report out of order.
func (j *Job) advance(v float64) {
	v = min(max(v, 0), 1)
	for {
		old := j.progress.Load()
		if math.Float64frombits(old) >= v {
			return
		}
		if j.progress.CompareAndSwap(old, math.Float64bits(v)) {
			break
		}
	}
	j.notify()
}

// notify delivers a status snapshot to the handler. The snapshot is taken
// under notifyMu, so concurrent workers can't deliver an older progress after
// a newer one.
func (j *Job) notify() {
	if j.onStatus == nil {
		return
	}
	j.notifyMu.Lock()
	defer j.notifyMu.Unlock()
	j.onStatus(j.Status())
}

// finish moves the job into its terminal phase. A nil err completes the job,
// ErrCancelled cancels it, and anything else fails it. The returned error is
// the one Run reports.
func (j *Job) finish(err error, start time.Time) error {
	to := PhaseCompleted
	switch {
	case err == nil:
	case errors.Is(err, ErrCancelled):
		to = PhaseCancelled
		err = ErrCancelled
	default:
		to = PhaseFailed
	}

	j.mu.Lock()
	j.err = err
	j.mu.Unlock()

	if terr := j.transition(to); terr != nil {
		// Only reachable from a bug in the phase sequencing above.
		j.phase.Store(int32(PhaseFailed))
		err = errors.Join(err, terr)
		j.mu.Lock()
		j.err = err
		j.mu.Unlock()
		to = PhaseFailed
	}

	elapsed := time.Since(start)
	j.collector.JobFinished(j.space, to, elapsed)

	log := Logger().With("space", j.space.String(), "elapsed", elapsed)
	switch to {
	case PhaseCompleted:
		log.Info("quantization completed", "pixels", j.source.Len(), "colors", len(j.Palette()))
	case PhaseCancelled:
		log.Info("quantization cancelled")
	default:
		log.Error("quantization failed", "error", err)
	}
	return err
}
