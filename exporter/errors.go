package exporter

import (
	"context"
	"errors"
	"fmt"

	"github.com/baldanca/dataset-exporter/encoder"
	"github.com/baldanca/dataset-exporter/sink"
	"github.com/baldanca/dataset-exporter/source"
)

// Kind classifies export failures by the failing stage.
type Kind uint8

const (
	// KindInternal covers failures outside the known taxonomy.
	KindInternal Kind = iota
	// KindInvalid marks a job rejected before it started.
	KindInvalid
	// KindConnection marks a failure to acquire the source connection.
	KindConnection
	// KindCursor marks a failure reading the source mid-scan.
	KindCursor
	// KindEncoding marks a record the target format could not serialize.
	KindEncoding
	// KindStaging marks a local staging artifact failure.
	KindStaging
	// KindSinkAbort marks a destination that went away or rejected a
	// write.
	KindSinkAbort
	// KindCanceled marks an export stopped by its context.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindConnection:
		return "connection"
	case KindCursor:
		return "cursor"
	case KindEncoding:
		return "encoding"
	case KindStaging:
		return "staging"
	case KindSinkAbort:
		return "sink_abort"
	case KindCanceled:
		return "canceled"
	default:
		return "internal"
	}
}

// Error is the structured failure returned when an export dies before the
// first byte reaches the destination.
type Error struct {
	Kind Kind
	Job  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("export %s: %s: %v", e.Job, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func classify(err error) Kind {
	switch {
	case errors.Is(err, sink.ErrAborted):
		return KindSinkAbort
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}

	var (
		connErr *source.ConnectionError
		curErr  *source.CursorError
		stgErr  *encoder.StagingError
		encErr  *encoder.EncodingError
	)
	switch {
	case errors.As(err, &connErr):
		return KindConnection
	case errors.As(err, &curErr):
		return KindCursor
	case errors.As(err, &stgErr):
		return KindStaging
	case errors.As(err, &encErr):
		return KindEncoding
	}
	return KindInternal
}
