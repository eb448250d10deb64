package source

import (
	"context"
	"io"
	"sync"

	"github.com/baldanca/dataset-exporter/record"
)

// sliceSource serves a fixed set of records in batches without copying.
type sliceSource struct {
	mu   sync.Mutex
	recs []record.Record
	size int
	off  int
	err  error
}

var (
	_ Batches = (*sliceSource)(nil)
	_ Counter = (*sliceSource)(nil)
)

// Slice returns a Batches over recs, served in batches of up to size rows.
// A size of zero or less falls back to DefaultBatchSize.
func Slice(recs []record.Record, size int) Batches {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &sliceSource{recs: recs, size: size}
}

func (s *sliceSource) Next(ctx context.Context) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	if err := ctx.Err(); err != nil {
		s.err = err
		return nil, err
	}
	if s.off >= len(s.recs) {
		s.err = io.EOF
		return nil, io.EOF
	}

	end := s.off + s.size
	if end > len(s.recs) {
		end = len(s.recs)
	}
	batch := s.recs[s.off:end]
	s.off = end
	return batch, nil
}

func (s *sliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err == nil {
		s.err = ErrClosed
	}
	return nil
}

func (s *sliceSource) Count() (int64, bool) {
	return int64(len(s.recs)), true
}

// Generator produces synthetic records on demand, holding only the current
// batch in memory. It is used by benchmarks and load tools to drive exports
// of arbitrary size.
type Generator struct {
	mu    sync.Mutex
	total int64
	size  int
	make  func(i int64) record.Record
	next  int64
	err   error
}

var (
	_ Batches = (*Generator)(nil)
	_ Counter = (*Generator)(nil)
)

// NewGenerator returns a source producing total records via fn, which is
// called with the zero-based record index. Each batch gets a fresh slice, so
// callers may retain batches.
func NewGenerator(total int64, batchSize int, fn func(i int64) record.Record) *Generator {
	if fn == nil {
		panic("source: nil generator func")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Generator{total: total, size: batchSize, make: fn}
}

func (g *Generator) Next(ctx context.Context) ([]record.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return nil, g.err
	}
	if err := ctx.Err(); err != nil {
		g.err = err
		return nil, err
	}
	if g.next >= g.total {
		g.err = io.EOF
		return nil, io.EOF
	}

	n := g.total - g.next
	if n > int64(g.size) {
		n = int64(g.size)
	}
	batch := make([]record.Record, n)
	for i := range batch {
		batch[i] = g.make(g.next + int64(i))
	}
	g.next += n
	return batch, nil
}

func (g *Generator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err == nil {
		g.err = ErrClosed
	}
	return nil
}

func (g *Generator) Count() (int64, bool) {
	return g.total, true
}
