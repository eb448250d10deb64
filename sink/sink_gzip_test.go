package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestGzip_RoundTrip(t *testing.T) {
	c := &captureSink{}
	g, err := NewGzip(context.Background(), c, 0)
	if err != nil {
		t.Fatalf("NewGzip: %v", err)
	}

	w := NewWriter(context.Background(), g)
	var want bytes.Buffer
	for i := 0; i < 50; i++ {
		line := []byte("id,name,value\n1,alpha,2.5\n")
		want.Write(line)
		if _, err := w.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.closes != 1 {
		t.Fatalf("dst closes=%d want=1", c.closes)
	}

	zr, err := gzip.NewReader(bytes.NewReader([]byte(c.String())))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	got, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, want.Bytes()) {
		t.Fatalf("payload mismatch: got %d bytes want %d", len(got), len(want.Bytes()))
	}
}

func TestGzip_PropagatesSaturationFromNextStage(t *testing.T) {
	c := &captureSink{result: Pending}
	g, err := NewGzip(context.Background(), c, gzip.BestSpeed)
	if err != nil {
		t.Fatalf("NewGzip: %v", err)
	}

	// Incompressible input forces the compressor to emit to the next stage
	// during the write itself.
	payload := make([]byte, 256*1024)
	rand.New(rand.NewSource(7)).Read(payload)

	res, err := g.Write(payload)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res != Pending {
		t.Fatalf("res=%v want=%v", res, Pending)
	}
	if c.writes == 0 {
		t.Fatalf("no writes reached the next stage")
	}
	if err := g.Await(context.Background()); err != nil {
		t.Fatalf("Await: %v", err)
	}
}

func TestGzip_AbortSkipsTrailer(t *testing.T) {
	c := &captureSink{}
	g, err := NewGzip(context.Background(), c, 0)
	if err != nil {
		t.Fatalf("NewGzip: %v", err)
	}
	if _, err := g.Write([]byte("partial")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reason := errors.New("downstream gone")
	g.Abort(reason)
	if c.aborted == nil || !errors.Is(c.aborted, reason) {
		t.Fatalf("aborted=%v", c.aborted)
	}
	if c.closes != 0 {
		t.Fatalf("dst closes=%d want=0", c.closes)
	}
	if _, err := g.Write([]byte("more")); !errors.Is(err, ErrAborted) {
		t.Fatalf("Write after Abort: %v", err)
	}
}

func TestNewGzip_RejectsInvalidLevel(t *testing.T) {
	if _, err := NewGzip(context.Background(), &captureSink{}, 42); err == nil {
		t.Fatalf("expected error")
	}
}
