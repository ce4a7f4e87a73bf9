package quant

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the number of pixels a worker claims at a time.
const DefaultChunkSize = 1000

// QuantizeOptions configures Quantize.
type QuantizeOptions struct {
	// Workers is the number of goroutines. Zero or less uses GOMAXPROCS.
	Workers int

	// ChunkSize is the number of consecutive pixels a worker processes
	// between cancellation checks. Zero or less uses DefaultChunkSize.
	ChunkSize int

	// OnProgress, if set, is called after every finished chunk with the
	// number of pixels completed so far. It is called from worker goroutines,
	// possibly concurrently and out of order, and must be safe for that.
	OnProgress func(done, total int)
}

// Quantize maps every pixel of src to its nearest palette entry in idx.
//
// Pixels are split into chunks claimed by a fixed pool of workers. Each
// worker writes only the output slots of its own chunk. Cancellation of ctx
// is observed between chunks; a cancelled run returns ErrCancelled and no
// buffer. A panic inside a worker is returned as ErrWorkerFault and stops the
// other workers at their next chunk boundary.
func Quantize(ctx context.Context, src []Color, idx *Index, opts QuantizeOptions) ([]Color, error) {
	if idx == nil {
		return nil, ErrEmptyPalette
	}
	if ctx.Err() != nil {
		return nil, ErrCancelled
	}

	total := len(src)
	out := make([]Color, total)
	if total == 0 {
		return out, nil
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	numChunks := (total + chunkSize - 1) / chunkSize

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, numChunks)

	var (
		next      atomic.Int64
		completed atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}

				c := int(next.Add(1) - 1)
				if c >= numChunks {
					return nil
				}
				start := c * chunkSize
				end := min(start+chunkSize, total)

				if err := quantizeChunk(idx, src, out, start, end); err != nil {
					return err
				}

				n := completed.Add(int64(end - start))
				if opts.OnProgress != nil {
					opts.OnProgress(int(n), total)
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrWorkerFault) {
			return nil, err
		}
		return nil, ErrCancelled
	}
	return out, nil
}

func quantizeChunk(idx *Index, src, dst []Color, start, end int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: pixels [%d, %d): %v", ErrWorkerFault, start, end, r)
		}
	}()

	for i := start; i < end; i++ {
		dst[i] = idx.Nearest(src[i])
	}
	return nil
}
