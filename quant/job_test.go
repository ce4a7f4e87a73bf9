package quant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCollector struct {
	mu       sync.Mutex
	colors   int
	pruned   int
	pixels   int
	finished []Phase
}

func (c *recordingCollector) PaletteExtracted(colors, pruned int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.colors, c.pruned = colors, pruned
}

func (c *recordingCollector) PixelsQuantized(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pixels += n
}

func (c *recordingCollector) JobFinished(_ ColorSpace, phase Phase, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = append(c.finished, phase)
}

type statusLog struct {
	mu       sync.Mutex
	statuses []Status
}

func (l *statusLog) record(s Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, s)
}

func (l *statusLog) phases() []Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Phase
	for _, s := range l.statuses {
		if len(out) == 0 || out[len(out)-1] != s.Phase {
			out = append(out, s.Phase)
		}
	}
	return out
}

func fourPixelSource() Buffer {
	return Buffer{Width: 2, Height: 2, Pix: []Color{
		black, white,
		{0.9, 0.9, 0.9, 1}, {0.1, 0.1, 0.1, 1},
	}}
}

func TestJob_EndToEnd(t *testing.T) {
	for _, space := range []ColorSpace{SpaceRGB, SpaceLAB} {
		t.Run(space.String(), func(t *testing.T) {
			log := &statusLog{}
			col := &recordingCollector{}
			job := NewJob(fourPixelSource(), bufferOf([]Color{black, white}, []int{1, 1}),
				WithColorSpace(space),
				WithStatusHandler(log.record),
				WithCollector(col),
			)

			out, err := job.Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, 2, out.Width)
			assert.Equal(t, 2, out.Height)
			assert.Equal(t, []Color{black, white, white, black}, out.Pix)

			assert.Equal(t, PhaseCompleted, job.Phase())
			assert.Equal(t, 1.0, job.Progress())
			assert.Equal(t, "Completed", job.Status().Label)
			assert.NoError(t, job.Err())
			assert.Equal(t, Palette{black, white}, job.Palette())

			assert.Equal(t, []Phase{
				PhaseExtractingPalette, PhaseQuantizing, PhaseFinalizing, PhaseCompleted,
			}, log.phases())

			assert.Equal(t, 2, col.colors)
			assert.Equal(t, 4, col.pixels)
			assert.Equal(t, []Phase{PhaseCompleted}, col.finished)
		})
	}
}

func TestJob_ProgressIsMonotonic(t *testing.T) {
	log := &statusLog{}
	job := NewJob(
		Buffer{Width: 100, Height: 50, Pix: randomColors(20, 5000)},
		bufferOf([]Color{black, white, red}, []int{3000, 3000, 3000}),
		WithWorkers(1),
		WithChunkSize(250),
		WithStatusHandler(log.record),
	)

	_, err := job.Run(context.Background())
	require.NoError(t, err)

	last := 0.0
	for _, s := range log.statuses {
		assert.GreaterOrEqual(t, s.Progress, last)
		assert.LessOrEqual(t, s.Progress, 1.0)
		last = s.Progress
	}
	assert.Equal(t, 1.0, last)
}

func TestJob_ProgressIsMonotonicAcrossWorkers(t *testing.T) {
	log := &statusLog{}
	job := NewJob(
		Buffer{Width: 40, Height: 50, Pix: randomColors(21, 2000)},
		bufferOf([]Color{black, white, red}, []int{10, 10, 10}),
		WithColorSpace(SpaceLAB),
		WithWorkers(8),
		WithChunkSize(1),
		WithStatusHandler(log.record),
	)

	_, err := job.Run(context.Background())
	require.NoError(t, err)

	log.mu.Lock()
	defer log.mu.Unlock()
	last := 0.0
	for i, s := range log.statuses {
		require.GreaterOrEqual(t, s.Progress, last, "status %d", i)
		last = s.Progress
	}
	assert.Equal(t, 1.0, last)
}

func TestJob_Labels(t *testing.T) {
	labels := map[Phase]string{}
	var mu sync.Mutex
	job := NewJob(fourPixelSource(), bufferOf([]Color{black, white}, []int{1, 1}),
		WithStatusHandler(func(s Status) {
			mu.Lock()
			defer mu.Unlock()
			labels[s.Phase] = s.Label
		}),
	)

	_, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Extracting palette…", labels[PhaseExtractingPalette])
	assert.Equal(t, "Quantizing…", labels[PhaseQuantizing])
	assert.Equal(t, "Finalizing…", labels[PhaseFinalizing])
}

func TestJob_InvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		source    Buffer
		reference Buffer
	}{
		{"empty source", Buffer{}, bufferOf([]Color{black}, []int{1})},
		{"empty reference", fourPixelSource(), Buffer{}},
		{"short source", Buffer{Width: 3, Height: 3, Pix: make([]Color, 4)}, bufferOf([]Color{black}, []int{1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &statusLog{}
			job := NewJob(tt.source, tt.reference, WithStatusHandler(log.record))

			out, err := job.Run(context.Background())
			require.ErrorIs(t, err, ErrInvalidInput)
			assert.Nil(t, out.Pix)
			assert.Equal(t, PhaseFailed, job.Phase())
			assert.Equal(t, []Phase{PhaseFailed}, log.phases())
			assert.ErrorIs(t, job.Status().Err, ErrInvalidInput)
		})
	}
}

func TestJob_EmptyPalette(t *testing.T) {
	job := NewJob(fourPixelSource(), bufferOf([]Color{black, white}, []int{2, 3}), WithMinOccurrences(4))

	out, err := job.Run(context.Background())
	require.ErrorIs(t, err, ErrEmptyPalette)
	assert.Equal(t, "palette is empty after pruning", err.Error())
	assert.Nil(t, out.Pix)
	assert.Equal(t, PhaseFailed, job.Phase())
}

func TestJob_CancelBeforeRun(t *testing.T) {
	col := &recordingCollector{}
	job := NewJob(fourPixelSource(), bufferOf([]Color{black, white}, []int{1, 1}), WithCollector(col))
	job.Cancel()

	out, err := job.Run(context.Background())
	require.ErrorIs(t, err, ErrCancelled)
	assert.Nil(t, out.Pix)
	assert.Equal(t, PhaseCancelled, job.Phase())
	assert.Equal(t, 0, col.pixels)
	assert.Equal(t, []Phase{PhaseCancelled}, col.finished)
}

func TestJob_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := NewJob(fourPixelSource(), bufferOf([]Color{black, white}, []int{1, 1}))
	_, err := job.Run(ctx)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, PhaseCancelled, job.Phase())
}

func TestJob_CancelWhileQuantizing(t *testing.T) {
	var job *Job
	finalized := false
	job = NewJob(
		Buffer{Width: 1000, Height: 1, Pix: randomColors(21, 1000)},
		bufferOf([]Color{black, white}, []int{1, 1}),
		WithWorkers(1),
		WithChunkSize(10),
		WithFinalizer(func(Buffer) error {
			finalized = true
			return nil
		}),
		WithStatusHandler(func(s Status) {
			if s.Phase == PhaseQuantizing && s.Progress > quantizeBand.lo {
				job.Cancel()
			}
		}),
	)

	out, err := job.Run(context.Background())
	require.ErrorIs(t, err, ErrCancelled)
	assert.Nil(t, out.Pix)
	assert.False(t, finalized)
	assert.Equal(t, PhaseCancelled, job.Phase())
	assert.Less(t, job.Progress(), quantizeBand.hi)
	assert.Equal(t, "Cancelled", job.Status().Label)
}

func TestJob_CancellingLabel(t *testing.T) {
	var (
		job   *Job
		label string
	)
	job = NewJob(
		Buffer{Width: 100, Height: 1, Pix: randomColors(22, 100)},
		bufferOf([]Color{black, white}, []int{1, 1}),
		WithWorkers(1),
		WithChunkSize(10),
		WithStatusHandler(func(s Status) {
			if s.Phase == PhaseQuantizing && label == "" {
				job.Cancel()
				label = job.Status().Label
			}
		}),
	)

	_, err := job.Run(context.Background())
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, "Cancelling…", label)
}

func TestJob_FinalizerError(t *testing.T) {
	boom := errors.New("disk full")
	var handed Buffer
	job := NewJob(fourPixelSource(), bufferOf([]Color{black, white}, []int{1, 1}),
		WithFinalizer(func(b Buffer) error {
			handed = b
			return boom
		}),
	)

	out, err := job.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Nil(t, out.Pix)
	assert.Len(t, handed.Pix, 4)
	assert.Equal(t, PhaseFailed, job.Phase())
}

func TestJob_NotReusable(t *testing.T) {
	job := NewJob(fourPixelSource(), bufferOf([]Color{black, white}, []int{1, 1}))

	_, err := job.Run(context.Background())
	require.NoError(t, err)

	_, err = job.Run(context.Background())
	require.ErrorIs(t, err, ErrJobReused)
	assert.Equal(t, PhaseCompleted, job.Phase())

	// Cancelling a finished job changes nothing.
	job.Cancel()
	assert.Equal(t, PhaseCompleted, job.Phase())
}

func TestPhase_Transitions(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseIdle, PhaseExtractingPalette, true},
		{PhaseIdle, PhaseQuantizing, false},
		{PhaseExtractingPalette, PhaseQuantizing, true},
		{PhaseQuantizing, PhaseFinalizing, true},
		{PhaseFinalizing, PhaseCompleted, true},
		{PhaseQuantizing, PhaseCompleted, false},
		{PhaseExtractingPalette, PhaseCancelled, true},
		{PhaseFinalizing, PhaseFailed, true},
		{PhaseCompleted, PhaseFailed, false},
		{PhaseCancelled, PhaseExtractingPalette, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, canTransition(tt.from, tt.to))
		})
	}
}

func TestPhase_Terminal(t *testing.T) {
	for _, p := range []Phase{PhaseCompleted, PhaseCancelled, PhaseFailed} {
		assert.True(t, p.Terminal(), p.String())
	}
	for _, p := range []Phase{PhaseIdle, PhaseExtractingPalette, PhaseQuantizing, PhaseFinalizing} {
		assert.False(t, p.Terminal(), p.String())
	}
	assert.Equal(t, "Unknown", Phase(42).String())
}
