package source

import (
	"context"
	"errors"

	"github.com/baldanca/dataset-exporter/record"
)

// ErrClosed is returned by Next after Close has been called.
var ErrClosed = errors.New("source: closed")

// Batches reads records from a backing store in bounded slices.
//
// Next blocks until a batch is available, the context is canceled, or the
// stream ends. It returns io.EOF once all records have been produced; after
// that, and after any other error, the stream is terminal and further calls
// return the same result. Callers must not mutate the returned slice and must
// not retain it across calls: implementations may reuse the backing array.
//
// Close releases the underlying resources. It is safe to call more than once.
type Batches interface {
	Next(ctx context.Context) ([]record.Record, error)
	Close() error
}

// Counter is an optional capability for sources that know their total size
// upfront. Consumers may use it for progress reporting; correctness must not
// depend on it.
type Counter interface {
	Count() (n int64, ok bool)
}

// ConnectionError reports a failure to acquire a database connection, such as
// pool exhaustion or a connect timeout.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "source: acquire connection: " + e.Err.Error() }

func (e *ConnectionError) Unwrap() error { return e.Err }

// CursorError reports a failure opening or reading the result cursor after a
// connection was established.
type CursorError struct {
	Err error
}

func (e *CursorError) Error() string { return "source: read cursor: " + e.Err.Error() }

func (e *CursorError) Unwrap() error { return e.Err }
