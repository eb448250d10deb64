package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/baldanca/dataset-exporter/encoder"
	"github.com/baldanca/dataset-exporter/record"
	"github.com/baldanca/dataset-exporter/sink"
	"github.com/baldanca/dataset-exporter/source"
)

// JobStore persists job lifecycle transitions. Implementations must be safe
// for concurrent use.
type JobStore interface {
	UpdateStatus(ctx context.Context, id string, status Status, detail string) error
}

// Options configures an Exporter.
type Options struct {
	// Store receives lifecycle transitions. Nil disables persistence.
	Store JobStore

	// StagingDir is where staged formats spill. Empty uses the system
	// temp directory.
	StagingDir string

	// ParquetCompression (optional): "", "snappy", "gzip", "zstd". Empty
	// selects snappy.
	ParquetCompression string

	// ChunkSize is the replay chunk size for staged formats. Zero uses
	// encoder.DefaultChunkSize.
	ChunkSize int

	// GzipLevel applies to compressed text exports. Zero selects the
	// default level.
	GzipLevel int

	// Metrics instruments jobs. Nil disables instrumentation.
	Metrics *Metrics

	// Logger receives lifecycle logs. Nil discards them.
	Logger *slog.Logger
}

// Exporter streams export jobs from sources into sinks.
//
// An Exporter carries only configuration and is safe for concurrent use; it
// imposes no per-job deadline of its own, so callers bound jobs through ctx.
type Exporter struct {
	opts Options
	log  *slog.Logger
}

// New validates opts and returns an Exporter.
func New(opts Options) (*Exporter, error) {
	switch opts.ParquetCompression {
	case "", "snappy", "gzip", "zstd":
	default:
		return nil, fmt.Errorf("exporter: unsupported parquet compression %q", opts.ParquetCompression)
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Exporter{opts: opts, log: log}, nil
}

// Export streams job from batches into dst.
//
// Export owns both ends: batches is closed before it returns, and dst is
// closed on success or aborted on failure. A job rejected by validation is
// the one exception: it leaves dst untouched. When the export dies before
// the first byte is accepted by dst, the returned error is a *Error carrying
// the failure kind and nothing has been delivered; after the first byte the
// raw failure is returned and the destination is torn down mid-stream.
func (e *Exporter) Export(ctx context.Context, job Job, batches source.Batches, dst sink.Sink) error {
	if batches == nil {
		panic("exporter: nil batches")
	}
	if dst == nil {
		panic("exporter: nil sink")
	}
	defer batches.Close()

	if err := job.Validate(); err != nil {
		return &Error{Kind: KindInvalid, Job: job.ID, Err: err}
	}
	// Formats that emit a preamble would otherwise deliver it before the
	// first Next notices the dead context.
	if err := ctx.Err(); err != nil {
		sink.Abort(dst, err)
		return &Error{Kind: KindCanceled, Job: job.ID, Err: err}
	}

	log := e.log.With("job", job.ID, "format", string(job.Format))
	start := time.Now()
	e.opts.Metrics.jobStarted()

	counted := &countingSink{next: dst}
	out := sink.Sink(counted)
	if job.Compress {
		gz, err := sink.NewGzip(ctx, out, e.opts.GzipLevel)
		if err != nil {
			e.opts.Metrics.jobDone(job.Format, "failed", 0, 0, time.Since(start))
			return &Error{Kind: KindInvalid, Job: job.ID, Err: err}
		}
		out = gz
	}
	rows := &countingBatches{next: batches}

	e.setStatus(ctx, job.ID, StatusStreaming, "")
	log.Info("export started")

	err := formatEncoder(job.Format, e.opts).EncodeTo(ctx, rows, job.columns(), out)
	if err == nil {
		err = out.Close()
	}
	if err != nil {
		sink.Abort(out, err)
		// Terminal bookkeeping survives the canceled job context.
		e.setStatus(context.WithoutCancel(ctx), job.ID, StatusFailed, err.Error())
		e.opts.Metrics.jobDone(job.Format, "failed", rows.n, counted.n, time.Since(start))
		log.Warn("export failed", "error", err, "rows", rows.n, "bytes", counted.n)

		if counted.n == 0 {
			return &Error{Kind: classify(err), Job: job.ID, Err: err}
		}
		return err
	}

	detail := fmt.Sprintf("rows=%d bytes=%d", rows.n, counted.n)
	e.setStatus(context.WithoutCancel(ctx), job.ID, StatusComplete, detail)
	e.opts.Metrics.jobDone(job.Format, "complete", rows.n, counted.n, time.Since(start))
	log.Info("export complete", "rows", rows.n, "bytes", counted.n, "elapsed", time.Since(start))
	return nil
}

func (e *Exporter) setStatus(ctx context.Context, id string, status Status, detail string) {
	if e.opts.Store == nil {
		return
	}
	if err := e.opts.Store.UpdateStatus(ctx, id, status, detail); err != nil {
		e.log.Warn("status update failed", "job", id, "status", string(status), "error", err)
	}
}

func formatEncoder(f Format, opts Options) encoder.Encoder {
	switch f {
	case JSON:
		return encoder.JSON{}
	case XML:
		return encoder.XML{}
	case Parquet:
		return encoder.Parquet{
			Compression: opts.ParquetCompression,
			StagingDir:  opts.StagingDir,
			ChunkSize:   opts.ChunkSize,
		}
	default:
		return encoder.CSV{}
	}
}

// countingSink counts bytes accepted by the destination.
type countingSink struct {
	next sink.Sink
	n    int64
}

func (c *countingSink) Write(p []byte) (sink.Result, error) {
	res, err := c.next.Write(p)
	if err != nil {
		return res, err
	}
	c.n += int64(len(p))
	return res, nil
}

func (c *countingSink) Await(ctx context.Context) error { return c.next.Await(ctx) }

func (c *countingSink) Close() error { return c.next.Close() }

func (c *countingSink) Abort(reason error) { sink.Abort(c.next, reason) }

// countingBatches counts rows handed to the encoder.
type countingBatches struct {
	next source.Batches
	n    int64
}

func (c *countingBatches) Next(ctx context.Context) ([]record.Record, error) {
	batch, err := c.next.Next(ctx)
	c.n += int64(len(batch))
	return batch, err
}

func (c *countingBatches) Close() error { return c.next.Close() }
