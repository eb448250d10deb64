package sink

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle caps the byte rate flowing into the next sink.
//
// Write forwards the chunk immediately and always reports Pending; Await
// then sleeps out the accrued byte debt against the token bucket before
// resolving the next sink. Producers honoring the backpressure contract are
// paced to the configured rate.
type Throttle struct {
	dst   Sink
	lim   *rate.Limiter
	burst int
	owed  int
	err   error
}

var (
	_ Sink    = (*Throttle)(nil)
	_ Aborter = (*Throttle)(nil)
)

// NewThrottle returns a stage limiting throughput into dst to bytesPerSec.
func NewThrottle(dst Sink, bytesPerSec int) *Throttle {
	if dst == nil {
		panic("sink: nil sink")
	}
	if bytesPerSec <= 0 {
		panic("sink: throttle rate must be positive")
	}
	return &Throttle{
		dst:   dst,
		lim:   rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec),
		burst: bytesPerSec,
	}
}

func (t *Throttle) Write(p []byte) (Result, error) {
	if t.err != nil {
		return Ready, t.err
	}
	if _, err := t.dst.Write(p); err != nil {
		t.err = err
		return Ready, err
	}
	t.owed += len(p)
	return Pending, nil
}

func (t *Throttle) Await(ctx context.Context) error {
	if t.err != nil {
		return t.err
	}
	// Chunks can exceed the bucket size; pay the debt in burst-sized
	// installments.
	for t.owed > 0 {
		n := t.owed
		if n > t.burst {
			n = t.burst
		}
		if err := t.lim.WaitN(ctx, n); err != nil {
			return err
		}
		t.owed -= n
	}
	return t.dst.Await(ctx)
}

func (t *Throttle) Close() error {
	return t.dst.Close()
}

func (t *Throttle) Abort(reason error) {
	Abort(t.dst, reason)
}
