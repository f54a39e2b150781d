// Package executor drives an iterator of row-chunks through a per-chunk
// function with serial or bounded-parallel scheduling and explicit release
// between chunks.
package executor

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"ocp-cost/internal/errors"
	"ocp-cost/internal/logging"
	"ocp-cost/internal/metrics"
)

// Iterator yields a lazy finite sequence of chunks. It is not restartable.
type Iterator[C any] interface {
	// Next returns the next chunk. ok is false when the sequence is
	// exhausted; err is non-nil when the underlying source failed.
	Next(ctx context.Context) (chunk C, ok bool, err error)

	// Close releases the underlying source.
	Close() error
}

// Func is the per-chunk transform. The reference data ref is kept resident
// for the run's lifetime and must not be mutated: in parallel mode a mutation
// is a latent race.
type Func[C, F, R any] func(ctx context.Context, chunk C, ref F, index int) (R, error)

// Combine folds per-chunk results. The default is concatenation with
// row-order irrelevant; callers supply their own when merging frames.
type Combine[R any] func(acc, next R) R

// Options tunes scheduling.
type Options struct {
	// Parallel materializes the sequence and dispatches up to MaxWorkers
	// concurrent invocations. Completion order is unspecified. It raises the
	// memory floor to MaxWorkers x chunk-size plus the materialization
	// buffer and must not be used when per-chunk work shares large mutable
	// reference frames.
	Parallel bool

	// MaxWorkers bounds the worker pool; defaults to 4.
	MaxWorkers int

	// GCInterval issues a reclamation hint every N chunks in serial mode.
	// Zero disables the hint.
	GCInterval int
}

func (o Options) workers() int {
	if o.MaxWorkers <= 0 {
		return 4
	}
	return o.MaxWorkers
}

// Concat is the default combine for slice-typed results.
func Concat[T any](acc, next []T) []T {
	return append(acc, next...)
}

// Run drives the iterator through fn and folds the outputs with combine.
// Serial mode bounds memory by the largest chunk plus accumulated output.
// Any error from fn aborts the run; in parallel mode in-flight chunks are
// drained best-effort, their errors logged, and the first error returned.
// Cancellation is honored at every chunk boundary.
func Run[C, F, R any](ctx context.Context, it Iterator[C], ref F, fn Func[C, F, R], combine Combine[R], opts Options) (R, error) {
	var zero R
	if opts.Parallel {
		return runParallel(ctx, it, ref, fn, combine, opts)
	}

	acc := zero
	index := 0
	for {
		if err := ctx.Err(); err != nil {
			return zero, errors.Wrap(errors.TypeInternal, "run cancelled", err)
		}

		chunk, ok, err := it.Next(ctx)
		if err != nil {
			return zero, err
		}
		if !ok {
			break
		}

		out, err := fn(ctx, chunk, ref, index)
		if err != nil {
			return zero, err
		}
		acc = combine(acc, out)
		metrics.ChunksProcessed.Inc()

		// Release the chunk before pulling the next one.
		var empty C
		chunk = empty
		_ = chunk
		index++
		if opts.GCInterval > 0 && index%opts.GCInterval == 0 {
			runtime.GC()
		}
	}
	return acc, nil
}

type indexed[C any] struct {
	chunk C
	index int
}

type result[R any] struct {
	out   R
	index int
	err   error
}

// runParallel materializes the sequence and submits chunks to a bounded
// worker pool. The first error wins; remaining workers finish their current
// chunk and their errors are logged.
func runParallel[C, F, R any](ctx context.Context, it Iterator[C], ref F, fn Func[C, F, R], combine Combine[R], opts Options) (R, error) {
	var zero R

	// Materialize. Parallel mode trades the serial memory bound for
	// scheduling freedom.
	var chunks []indexed[C]
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return zero, errors.Wrap(errors.TypeInternal, "run cancelled", err)
		}
		chunk, ok, err := it.Next(ctx)
		if err != nil {
			return zero, err
		}
		if !ok {
			break
		}
		chunks = append(chunks, indexed[C]{chunk: chunk, index: i})
	}
	if len(chunks) == 0 {
		return zero, nil
	}

	workers := opts.workers()
	if len(chunks) < workers {
		workers = len(chunks)
	}

	work := make(chan indexed[C], len(chunks))
	for _, c := range chunks {
		work <- c
	}
	close(work)

	results := make(chan result[R], len(chunks))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				select {
				case <-runCtx.Done():
					return
				default:
				}
				out, err := fn(runCtx, item.chunk, ref, item.index)
				results <- result[R]{out: out, index: item.index, err: err}
				if err != nil {
					// Stop handing out new chunks; in-flight workers drain.
					cancel()
				}
			}
		}()
	}

	wg.Wait()
	close(results)

	var firstErr error
	firstIndex := -1
	acc := zero
	for r := range results {
		if r.err != nil {
			if firstErr == nil || r.index < firstIndex {
				firstErr = r.err
				firstIndex = r.index
			} else {
				logging.Warn("chunk failed after first error",
					zap.Int("chunk", r.index), zap.Error(r.err))
			}
			continue
		}
		acc = combine(acc, r.out)
		metrics.ChunksProcessed.Inc()
	}
	if firstErr != nil {
		return zero, firstErr
	}
	return acc, nil
}
