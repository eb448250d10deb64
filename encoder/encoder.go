package encoder

import (
	"context"
	"errors"
	"io"

	"github.com/baldanca/dataset-exporter/record"
	"github.com/baldanca/dataset-exporter/sink"
	"github.com/baldanca/dataset-exporter/source"
)

// Encoder streams records from a source into a sink in one output format.
//
// Implementations read the source batch by batch and hold at most one batch
// plus a bounded amount of encoding state in memory. They do not close src
// or dst; the caller owns both lifecycles. Encoders carry only
// configuration, so one value can serve concurrent EncodeTo calls.
type Encoder interface {
	EncodeTo(ctx context.Context, src source.Batches, columns record.ColumnMapping, dst sink.Sink) error
	ContentType() string
	FileExtension() string
}

// EncodingError reports a record that could not be serialized in the target
// format, or an encoder configured with values it does not support.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string { return "encoder: " + e.Err.Error() }

func (e *EncodingError) Unwrap() error { return e.Err }

// StagingError reports a failure on the local staging artifact used by
// formats that cannot stream directly.
type StagingError struct {
	Op  string
	Err error
}

func (e *StagingError) Error() string { return "encoder: staging " + e.Op + ": " + e.Err.Error() }

func (e *StagingError) Unwrap() error { return e.Err }

// forEachBatch drains src, invoking fn once per batch until io.EOF.
func forEachBatch(ctx context.Context, src source.Batches, fn func(batch []record.Record) error) error {
	for {
		batch, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
}
