package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Gzip compresses chunks before handing them to the next sink.
//
// The compressor flushes through the next sink's backpressure: a Write may
// emit several compressed chunks, awaiting the next sink between them, and
// reports Pending when the last of them saturated it. Close writes the gzip
// trailer and then closes the next sink.
type Gzip struct {
	dst Sink
	w   *Writer
	zw  *gzip.Writer
	err error

	closeOnce sync.Once
	closeErr  error
}

var (
	_ Sink    = (*Gzip)(nil)
	_ Aborter = (*Gzip)(nil)
)

// NewGzip returns a gzip stage in front of dst. A level of zero selects the
// default compression level; other values follow klauspost/compress/gzip.
func NewGzip(ctx context.Context, dst Sink, level int) (*Gzip, error) {
	if dst == nil {
		panic("sink: nil sink")
	}
	if level == 0 {
		level = gzip.DefaultCompression
	}

	w := NewWriter(ctx, dst)
	zw, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, fmt.Errorf("sink: gzip level %d: %w", level, err)
	}
	return &Gzip{dst: dst, w: w, zw: zw}, nil
}

func (g *Gzip) Write(p []byte) (Result, error) {
	if g.err != nil {
		return Ready, g.err
	}
	if _, err := g.zw.Write(p); err != nil {
		g.err = err
		return Ready, err
	}
	if g.w.Pending() {
		return Pending, nil
	}
	return Ready, nil
}

func (g *Gzip) Await(ctx context.Context) error {
	if g.err != nil {
		return g.err
	}
	return g.w.Await(ctx)
}

func (g *Gzip) Close() error {
	g.closeOnce.Do(func() {
		err := g.zw.Close()
		cerr := g.dst.Close()
		if err == nil {
			err = cerr
		}
		g.closeErr = err
	})
	return g.closeErr
}

// Abort skips the gzip trailer and forwards the termination to dst.
func (g *Gzip) Abort(reason error) {
	g.closeOnce.Do(func() {
		if g.err == nil {
			g.err = ErrAborted
		}
		Abort(g.dst, reason)
		g.closeErr = g.err
	})
}
