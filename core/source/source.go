// Package source provides row-chunk sources for the engine: in-memory slices
// cut into chunks, and CSV readers for the columnar report drops.
package source

import (
	"context"
)

// Chunked adapts an in-memory slice to the executor's iterator contract,
// yielding windows of at most chunkSize rows. The windows alias the backing
// slice; callers must not retain them across chunks.
type Chunked[T any] struct {
	rows      []T
	chunkSize int
	offset    int
}

// NewChunked creates a chunked iterator. A non-positive chunkSize yields the
// whole slice as one chunk.
func NewChunked[T any](rows []T, chunkSize int) *Chunked[T] {
	if chunkSize <= 0 {
		chunkSize = len(rows)
		if chunkSize == 0 {
			chunkSize = 1
		}
	}
	return &Chunked[T]{rows: rows, chunkSize: chunkSize}
}

// Next returns the next window, or ok=false at the end.
func (c *Chunked[T]) Next(ctx context.Context) ([]T, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if c.offset >= len(c.rows) {
		return nil, false, nil
	}
	end := c.offset + c.chunkSize
	if end > len(c.rows) {
		end = len(c.rows)
	}
	chunk := c.rows[c.offset:end]
	c.offset = end
	return chunk, true, nil
}

// Close releases the backing slice.
func (c *Chunked[T]) Close() error {
	c.rows = nil
	return nil
}
