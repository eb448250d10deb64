package encoder

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/baldanca/dataset-exporter/record"
	"github.com/baldanca/dataset-exporter/sink"
)

// ---- fakes ----

// collectSink accumulates everything written and can be scripted to reject
// writes past a byte budget.
type collectSink struct {
	buf     bytes.Buffer
	failAt  int
	writes  int
	closes  int
	aborted error
}

func (c *collectSink) Write(p []byte) (sink.Result, error) {
	if c.failAt > 0 && c.buf.Len()+len(p) > c.failAt {
		return sink.Ready, fmt.Errorf("%w: byte budget exceeded", sink.ErrAborted)
	}
	c.writes++
	c.buf.Write(p)
	return sink.Ready, nil
}

func (c *collectSink) Await(ctx context.Context) error { return ctx.Err() }

func (c *collectSink) Close() error { c.closes++; return nil }

func (c *collectSink) Abort(reason error) { c.aborted = reason }

func (c *collectSink) String() string { return c.buf.String() }

type discardSink struct{}

func (discardSink) Write(p []byte) (sink.Result, error) { return sink.Ready, nil }
func (discardSink) Await(ctx context.Context) error     { return nil }
func (discardSink) Close() error                        { return nil }

// failingSource fails its first Next with err.
type failingSource struct{ err error }

func (f *failingSource) Next(ctx context.Context) ([]record.Record, error) { return nil, f.err }
func (f *failingSource) Close() error                                      { return nil }

// ---- fixtures ----

func testCreatedAt(i int) time.Time {
	return time.Date(2024, 3, 15, 10, 30, i, 120*1e6, time.UTC)
}

func testRecords() []record.Record {
	return []record.Record{
		{
			ID:        1,
			CreatedAt: testCreatedAt(0),
			Name:      "alpha",
			Value:     2.5,
			Metadata:  record.Map(record.Entry{Key: "a", Value: record.Int(1)}),
		},
		{
			ID:        2,
			CreatedAt: testCreatedAt(1),
			Name:      `say "hi", ok`,
			Value:     -0.25,
			Metadata:  record.Null(),
		},
		{
			ID:        3,
			CreatedAt: testCreatedAt(2),
			Name:      "<tag>&'q'",
			Value:     10,
			Metadata:  record.List(record.String("x"), record.String("y")),
		},
	}
}

func benchRecords(n int) []record.Record {
	recs := make([]record.Record, n)
	for i := range recs {
		recs[i] = record.Record{
			ID:        int64(i),
			CreatedAt: testCreatedAt(i % 60),
			Name:      fmt.Sprintf("item-%d", i),
			Value:     float64(i) * 1.337,
			Metadata:  record.Map(record.Entry{Key: "seq", Value: record.Int(int64(i))}),
		}
	}
	return recs
}
