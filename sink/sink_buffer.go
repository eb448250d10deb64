package sink

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// BufferConfig tunes a Buffered sink.
type BufferConfig struct {
	// Depth is the number of chunks the queue holds before Write reports
	// Pending.
	Depth int
}

// DefaultBufferConfig is used for zero config fields.
var DefaultBufferConfig = BufferConfig{Depth: 8}

// Buffered decouples a producer from a blocking io.Writer with a bounded
// queue drained by a single background goroutine.
//
// Memory held by the sink is bounded by Depth queued chunks. If the
// destination also implements io.Closer it is closed by Close; if it
// implements Aborter, Abort is forwarded to it.
type Buffered struct {
	dst io.Writer

	queue chan []byte
	wake  chan struct{}
	done  chan struct{}

	mu       sync.Mutex
	err      error
	failedCh chan struct{}
	failOnce sync.Once
	closed   bool

	closeOnce sync.Once
	closeErr  error
}

var (
	_ Sink    = (*Buffered)(nil)
	_ Aborter = (*Buffered)(nil)
)

// NewBuffered starts a buffered sink writing to dst.
func NewBuffered(dst io.Writer, cfg BufferConfig) *Buffered {
	if dst == nil {
		panic("sink: nil destination")
	}
	if cfg.Depth <= 0 {
		cfg.Depth = DefaultBufferConfig.Depth
	}

	b := &Buffered{
		dst:      dst,
		queue:    make(chan []byte, cfg.Depth),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		failedCh: make(chan struct{}),
	}
	go b.consume()
	return b
}

// Write queues a copy of p. It reports Pending when the queue is full.
func (b *Buffered) Write(p []byte) (Result, error) {
	b.mu.Lock()
	closed, err := b.closed, b.err
	b.mu.Unlock()
	if err != nil {
		return Ready, err
	}
	if closed {
		return Ready, ErrClosed
	}

	chunk := make([]byte, len(p))
	copy(chunk, p)
	select {
	case b.queue <- chunk:
	default:
		panic("sink: Write with a write outstanding")
	}

	if len(b.queue) >= cap(b.queue) {
		return Pending, nil
	}
	return Ready, nil
}

// Await blocks until the queue has room for the next chunk.
func (b *Buffered) Await(ctx context.Context) error {
	for {
		if err := b.errNow(); err != nil {
			return err
		}
		// The producer is the only writer, so an observed free slot
		// cannot be taken away before the next Write.
		if len(b.queue) < cap(b.queue) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.failedCh:
			return b.errNow()
		case <-b.wake:
		}
	}
}

// Close drains the queue into the destination and closes it when it is an
// io.Closer.
func (b *Buffered) Close() error {
	b.closeOnce.Do(func() {
		b.shutdown()
		err := b.errNow()
		if c, ok := b.dst.(io.Closer); ok {
			cerr := c.Close()
			if err == nil {
				err = cerr
			}
		}
		b.closeErr = err
	})
	return b.closeErr
}

// Abort drops queued chunks and tears the destination down without
// finalizing it.
func (b *Buffered) Abort(reason error) {
	b.closeOnce.Do(func() {
		if reason == nil {
			reason = ErrAborted
		} else {
			reason = fmt.Errorf("%w: %w", ErrAborted, reason)
		}
		b.fail(reason)
		b.shutdown()

		switch d := b.dst.(type) {
		case Aborter:
			d.Abort(reason)
		case io.Closer:
			d.Close()
		}
		b.closeErr = b.errNow()
	})
}

func (b *Buffered) shutdown() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	close(b.queue)
	<-b.done
}

func (b *Buffered) consume() {
	defer close(b.done)
	for chunk := range b.queue {
		if b.errNow() != nil {
			continue
		}
		if _, err := b.dst.Write(chunk); err != nil {
			b.fail(fmt.Errorf("%w: %w", ErrAborted, err))
			continue
		}
		select {
		case b.wake <- struct{}{}:
		default:
		}
	}
}

func (b *Buffered) fail(err error) {
	b.failOnce.Do(func() {
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
		close(b.failedCh)
	})
}

func (b *Buffered) errNow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
