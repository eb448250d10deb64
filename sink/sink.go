package sink

import (
	"context"
	"errors"
)

// Result reports how a sink accepted a chunk.
type Result uint8

const (
	// Ready means the chunk was accepted and the sink can take the next
	// write immediately.
	Ready Result = iota
	// Pending means the chunk was accepted but the sink is saturated; the
	// producer must Await before writing again.
	Pending
)

func (r Result) String() string {
	if r == Pending {
		return "pending"
	}
	return "ready"
}

// ErrAborted marks a sink whose consumer has gone away or rejected a write.
// Destination failures wrap it.
var ErrAborted = errors.New("sink: aborted")

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("sink: closed")

// Sink is a byte destination with explicit backpressure.
//
// Write never blocks: it accepts p and reports Ready, or accepts p and
// reports Pending when the sink is saturated. After Pending the producer
// must not write again until Await returns. Sinks do not retain p; queueing
// implementations copy it.
//
// Await blocks until the sink can take the next write, the context is
// canceled, or the sink fails. With nothing outstanding it returns
// immediately, so stages can be composed.
//
// Close completes the accepted writes and finalizes the destination. It is
// idempotent.
type Sink interface {
	Write(p []byte) (Result, error)
	Await(ctx context.Context) error
	Close() error
}

// Aborter is an optional capability for sinks that can drop buffered data
// and tear the destination down without finalizing it.
type Aborter interface {
	Abort(reason error)
}

// Abort terminates s without finalizing when it supports that; otherwise it
// falls back to Close.
func Abort(s Sink, reason error) {
	if a, ok := s.(Aborter); ok {
		a.Abort(reason)
		return
	}
	s.Close()
}

// Writer adapts a Sink to io.Writer for encoders built on stdlib writers.
// The context bounds every Await issued on the producer's behalf.
//
// Write resolves an outstanding Pending before handing over the next chunk,
// keeping at most one write in flight.
type Writer struct {
	ctx     context.Context
	s       Sink
	pending bool
}

// NewWriter returns an adapter writing to s under ctx.
func NewWriter(ctx context.Context, s Sink) *Writer {
	if s == nil {
		panic("sink: nil sink")
	}
	return &Writer{ctx: ctx, s: s}
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.pending {
		if err := w.s.Await(w.ctx); err != nil {
			return 0, err
		}
		w.pending = false
	}

	res, err := w.s.Write(p)
	if err != nil {
		return 0, err
	}
	w.pending = res == Pending
	return len(p), nil
}

// Await resolves an outstanding Pending result, leaving the sink writable.
func (w *Writer) Await(ctx context.Context) error {
	if !w.pending {
		return nil
	}
	if err := w.s.Await(ctx); err != nil {
		return err
	}
	w.pending = false
	return nil
}

// Pending reports whether the last write left the sink saturated.
func (w *Writer) Pending() bool {
	return w.pending
}
