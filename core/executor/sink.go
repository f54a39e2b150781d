// Package executor - incremental-write variant
package executor

import (
	"context"

	"ocp-cost/internal/errors"
	"ocp-cost/internal/metrics"
)

// Sink receives produced chunks within a single transaction. Begin is called
// once before the first write; a failed run rolls back, a successful run
// commits. Only one chunk writer is ever in flight: parallel scheduling is
// incompatible with the single open transaction.
type Sink[R any] interface {
	Begin(ctx context.Context) error
	Write(ctx context.Context, rows R) error
	Commit() error
	Rollback() error
}

// RunIncremental replaces the combine step with a streaming sink. Each
// per-chunk output is written as it is produced; the input chunk is released
// before the next is pulled.
func RunIncremental[C, F, R any](ctx context.Context, it Iterator[C], ref F, fn Func[C, F, R], sink Sink[R], opts Options) (err error) {
	if opts.Parallel {
		return errors.NotSupported("parallel scheduling with an incremental sink")
	}

	if err = sink.Begin(ctx); err != nil {
		return errors.Sink("begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := sink.Rollback(); rbErr != nil && err == nil {
				err = errors.Sink("rollback", rbErr)
			}
		}
	}()

	index := 0
	for {
		if cerr := ctx.Err(); cerr != nil {
			return errors.Wrap(errors.TypeInternal, "run cancelled", cerr)
		}

		chunk, ok, nerr := it.Next(ctx)
		if nerr != nil {
			return nerr
		}
		if !ok {
			break
		}

		out, ferr := fn(ctx, chunk, ref, index)
		if ferr != nil {
			return ferr
		}
		if werr := sink.Write(ctx, out); werr != nil {
			return errors.Sink("write chunk", werr)
		}
		metrics.ChunksProcessed.Inc()

		var empty C
		chunk = empty
		_ = chunk
		index++
	}

	if err = sink.Commit(); err != nil {
		return errors.Sink("commit", err)
	}
	committed = true
	return nil
}
