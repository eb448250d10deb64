package tests

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/parquet-go/parquet-go"

	"github.com/baldanca/dataset-exporter/exporter"
	"github.com/baldanca/dataset-exporter/record"
	"github.com/baldanca/dataset-exporter/registry"
	"github.com/baldanca/dataset-exporter/sink"
	"github.com/baldanca/dataset-exporter/source"
)

//
// Fakes
//

type collectSink struct {
	buf    bytes.Buffer
	writes int
}

var _ sink.Sink = (*collectSink)(nil)

func (c *collectSink) Write(p []byte) (sink.Result, error) {
	c.buf.Write(p)
	c.writes++
	return sink.Ready, nil
}

func (c *collectSink) Await(ctx context.Context) error { return ctx.Err() }

func (c *collectSink) Close() error { return nil }

// budgetSink accepts bytes until the budget is exhausted, then rejects.
type budgetSink struct {
	collectSink
	budget int
}

func (b *budgetSink) Write(p []byte) (sink.Result, error) {
	if b.buf.Len()+len(p) > b.budget {
		return sink.Ready, fmt.Errorf("%w: byte budget exceeded", sink.ErrAborted)
	}
	return b.collectSink.Write(p)
}

type discardSink struct{ n int64 }

func (d *discardSink) Write(p []byte) (sink.Result, error) {
	d.n += int64(len(p))
	return sink.Ready, nil
}

func (d *discardSink) Await(ctx context.Context) error { return ctx.Err() }

func (d *discardSink) Close() error { return nil }

// pendingCounter records how often the wrapped sink pushed back.
type pendingCounter struct {
	next     sink.Sink
	pendings int
}

func (p *pendingCounter) Write(b []byte) (sink.Result, error) {
	res, err := p.next.Write(b)
	if res == sink.Pending {
		p.pendings++
	}
	return res, err
}

func (p *pendingCounter) Await(ctx context.Context) error { return p.next.Await(ctx) }

func (p *pendingCounter) Close() error { return p.next.Close() }

func (p *pendingCounter) Abort(reason error) { sink.Abort(p.next, reason) }

// slowWriter simulates a destination slower than the encoder.
type slowWriter struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	delay time.Duration
}

func (w *slowWriter) Write(p []byte) (int, error) {
	time.Sleep(w.delay)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

// cancelAfter cancels the job context once n batches were handed out.
type cancelAfter struct {
	inner  source.Batches
	cancel context.CancelFunc
	after  int
	seen   int
}

func (c *cancelAfter) Next(ctx context.Context) ([]record.Record, error) {
	batch, err := c.inner.Next(ctx)
	if err == nil {
		c.seen++
		if c.seen >= c.after {
			c.cancel()
		}
	}
	return batch, err
}

func (c *cancelAfter) Close() error { return c.inner.Close() }

type countNotifier struct {
	mu     sync.Mutex
	events []registry.Event
}

func (n *countNotifier) Notify(ctx context.Context, ev registry.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *countNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

//
// Helpers
//

const seedRows = 25

func seedDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := source.OpenDB("sqlite", ":memory:", 1)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `CREATE TABLE records (
		id INTEGER PRIMARY KEY,
		created_at TEXT NOT NULL,
		name TEXT NOT NULL,
		value REAL NOT NULL,
		metadata TEXT
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	for i := 1; i <= seedRows; i++ {
		metadata := any(fmt.Sprintf(`{"seq":%d,"tags":["a","b"]}`, i))
		if i%5 == 0 {
			metadata = nil
		}
		name := fmt.Sprintf("row %d", i)
		if i == 3 {
			name = `say "hi", ok`
		}
		_, err := db.ExecContext(ctx,
			`INSERT INTO records (id, created_at, name, value, metadata) VALUES (?, ?, ?, ?, ?)`,
			i, fmt.Sprintf("2024-03-15 10:30:%02d", i-1), name, float64(i)+0.5, metadata,
		)
		if err != nil {
			t.Fatalf("insert row %d: %v", i, err)
		}
	}
	return db
}

func openRecords(t *testing.T, db *sql.DB, batchSize int) source.Batches {
	t.Helper()
	batches, err := source.Open(context.Background(), db, source.Query{Table: "records", BatchSize: batchSize})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return batches
}

func newEngine(t *testing.T, store exporter.JobStore, stagingDir string) *exporter.Exporter {
	t.Helper()
	e, err := exporter.New(exporter.Options{Store: store, StagingDir: stagingDir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func makeRecords(n int) []record.Record {
	recs := make([]record.Record, n)
	for i := range recs {
		recs[i] = record.Record{
			ID:        int64(i + 1),
			CreatedAt: time.Unix(1710500000+int64(i), 0).UTC(),
			Name:      fmt.Sprintf("row %d", i+1),
			Value:     float64(i) + 0.5,
			Metadata:  record.Map(record.Entry{Key: "seq", Value: record.Int(int64(i + 1))}),
		}
	}
	return recs
}

//
// Tests
//

func TestExport_SQLiteAllFormats(t *testing.T) {
	db := seedDB(t)
	notifier := &countNotifier{}
	store := registry.NewMemory(registry.MemoryConfig{Notifier: notifier})
	defer store.Close()
	e := newEngine(t, store, t.TempDir())
	ctx := context.Background()

	exportAs := func(t *testing.T, job exporter.Job) []byte {
		t.Helper()
		if err := store.Create(ctx, registry.Job{ID: job.ID, Format: job.Format, Compress: job.Compress}); err != nil {
			t.Fatalf("Create: %v", err)
		}
		dst := &collectSink{}
		if err := e.Export(ctx, job, openRecords(t, db, 10), dst); err != nil {
			t.Fatalf("Export: %v", err)
		}

		stored, err := store.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if stored.Status != exporter.StatusComplete {
			t.Fatalf("status=%q want=%q", stored.Status, exporter.StatusComplete)
		}
		if !strings.HasPrefix(stored.Detail, fmt.Sprintf("rows=%d ", seedRows)) {
			t.Fatalf("detail=%q", stored.Detail)
		}
		return dst.buf.Bytes()
	}

	var plainCSV []byte

	t.Run("csv", func(t *testing.T) {
		out := exportAs(t, exporter.Job{ID: "it-csv", Format: exporter.CSV})
		plainCSV = out

		rows, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
		if err != nil {
			t.Fatalf("parse csv: %v", err)
		}
		if len(rows) != seedRows+1 {
			t.Fatalf("rows=%d want=%d", len(rows), seedRows+1)
		}
		if got := strings.Join(rows[0], ","); got != "id,created_at,name,value,metadata" {
			t.Fatalf("header=%q", got)
		}
		first := rows[1]
		if first[0] != "1" || first[1] != "2024-03-15T10:30:00.000Z" || first[3] != "1.5" {
			t.Fatalf("first row=%v", first)
		}
		if rows[3][2] != `say "hi", ok` {
			t.Fatalf("quoted name=%q", rows[3][2])
		}
	})

	t.Run("json", func(t *testing.T) {
		out := exportAs(t, exporter.Job{ID: "it-json", Format: exporter.JSON})

		var objs []map[string]any
		if err := json.Unmarshal(out, &objs); err != nil {
			t.Fatalf("parse json: %v", err)
		}
		if len(objs) != seedRows {
			t.Fatalf("objects=%d want=%d", len(objs), seedRows)
		}
		if objs[0]["id"].(float64) != 1 || objs[0]["created_at"] != "2024-03-15T10:30:00.000Z" {
			t.Fatalf("first object=%v", objs[0])
		}
		if objs[4]["metadata"] != nil {
			t.Fatalf("metadata of 5th row=%v want null", objs[4]["metadata"])
		}
		meta, ok := objs[0]["metadata"].(map[string]any)
		if !ok || meta["seq"].(float64) != 1 {
			t.Fatalf("metadata=%v", objs[0]["metadata"])
		}
	})

	t.Run("xml", func(t *testing.T) {
		out := exportAs(t, exporter.Job{ID: "it-xml", Format: exporter.XML})
		s := string(out)

		if !strings.HasPrefix(s, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<records>\n") {
			t.Fatalf("prefix=%q", s[:50])
		}
		if got := strings.Count(s, "<record>"); got != seedRows {
			t.Fatalf("records=%d want=%d", got, seedRows)
		}
		if !strings.Contains(s, "<metadata></metadata>") {
			t.Fatalf("missing empty metadata element")
		}
		if !strings.Contains(s, "say &quot;hi&quot;, ok") {
			t.Fatalf("missing escaped name")
		}
	})

	t.Run("parquet", func(t *testing.T) {
		out := exportAs(t, exporter.Job{ID: "it-parquet", Format: exporter.Parquet})

		pf, err := parquet.OpenFile(bytes.NewReader(out), int64(len(out)))
		if err != nil {
			t.Fatalf("open parquet: %v", err)
		}
		if pf.NumRows() != seedRows {
			t.Fatalf("rows=%d want=%d", pf.NumRows(), seedRows)
		}
	})

	t.Run("csv gzip", func(t *testing.T) {
		out := exportAs(t, exporter.Job{ID: "it-csv-gz", Format: exporter.CSV, Compress: true})

		zr, err := gzip.NewReader(bytes.NewReader(out))
		if err != nil {
			t.Fatalf("gzip reader: %v", err)
		}
		var plain bytes.Buffer
		if _, err := plain.ReadFrom(zr); err != nil {
			t.Fatalf("gunzip: %v", err)
		}
		if !bytes.Equal(plain.Bytes(), plainCSV) {
			t.Fatalf("gunzipped output differs from plain csv")
		}
	})

	if got := notifier.count(); got != 5 {
		t.Fatalf("terminal events=%d want=5", got)
	}
	if db.Stats().InUse != 0 {
		t.Fatalf("connections in use=%d want=0", db.Stats().InUse)
	}
}

func TestExport_OutputIndependentOfBatchSize(t *testing.T) {
	recs := makeRecords(200)
	e := newEngine(t, nil, t.TempDir())
	ctx := context.Background()

	for _, format := range []exporter.Format{exporter.CSV, exporter.JSON, exporter.Parquet} {
		t.Run(string(format), func(t *testing.T) {
			var want []byte
			for _, batchSize := range []int{1, 7, 10000} {
				dst := &collectSink{}
				job := exporter.Job{ID: fmt.Sprintf("bs-%s-%d", format, batchSize), Format: format}
				if err := e.Export(ctx, job, source.Slice(recs, batchSize), dst); err != nil {
					t.Fatalf("Export batch=%d: %v", batchSize, err)
				}
				if want == nil {
					want = append([]byte(nil), dst.buf.Bytes()...)
					continue
				}
				if !bytes.Equal(dst.buf.Bytes(), want) {
					t.Fatalf("batch=%d produced different bytes (%d vs %d)",
						batchSize, dst.buf.Len(), len(want))
				}
			}
		})
	}
}

func TestExport_BackpressurePreservesBytes(t *testing.T) {
	recs := makeRecords(500)
	e := newEngine(t, nil, t.TempDir())
	ctx := context.Background()

	// Reference output through an unconstrained sink.
	direct := &collectSink{}
	if err := e.Export(ctx, exporter.Job{ID: "bp-direct", Format: exporter.CSV}, source.Slice(recs, 25), direct); err != nil {
		t.Fatalf("direct Export: %v", err)
	}

	slow := &slowWriter{delay: 500 * time.Microsecond}
	buffered := sink.NewBuffered(slow, sink.BufferConfig{Depth: 1})
	counted := &pendingCounter{next: buffered}
	if err := e.Export(ctx, exporter.Job{ID: "bp-slow", Format: exporter.CSV}, source.Slice(recs, 25), counted); err != nil {
		t.Fatalf("backpressured Export: %v", err)
	}

	if counted.pendings == 0 {
		t.Fatalf("slow destination never pushed back")
	}
	if !bytes.Equal(slow.buf.Bytes(), direct.buf.Bytes()) {
		t.Fatalf("backpressured bytes differ: %d vs %d", slow.buf.Len(), direct.buf.Len())
	}
}

func TestExport_CancellationReleasesEverything(t *testing.T) {
	db := seedDB(t)
	store := registry.NewMemory(registry.MemoryConfig{})
	defer store.Close()
	staging := t.TempDir()
	e := newEngine(t, store, staging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := exporter.Job{ID: "it-cancel", Format: exporter.Parquet}
	if err := store.Create(context.Background(), registry.Job{ID: job.ID, Format: job.Format}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	batches := &cancelAfter{inner: openRecords(t, db, 10), cancel: cancel, after: 1}
	err := e.Export(ctx, job, batches, &collectSink{})
	if err == nil {
		t.Fatalf("expected error")
	}
	var exErr *exporter.Error
	if !errors.As(err, &exErr) || exErr.Kind != exporter.KindCanceled {
		t.Fatalf("err=%v want KindCanceled", err)
	}

	if names := dirNames(t, staging); len(names) != 0 {
		t.Fatalf("staging dir not empty: %v", names)
	}
	if db.Stats().InUse != 0 {
		t.Fatalf("connections in use=%d want=0", db.Stats().InUse)
	}
	stored, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != exporter.StatusFailed {
		t.Fatalf("status=%q want=%q", stored.Status, exporter.StatusFailed)
	}
}

func TestExport_SinkFailureCleansStaging(t *testing.T) {
	db := seedDB(t)
	store := registry.NewMemory(registry.MemoryConfig{})
	defer store.Close()
	staging := t.TempDir()
	e := newEngine(t, store, staging)
	ctx := context.Background()

	job := exporter.Job{ID: "it-sinkfail", Format: exporter.Parquet}
	if err := store.Create(ctx, registry.Job{ID: job.ID, Format: job.Format}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := e.Export(ctx, job, openRecords(t, db, 10), &budgetSink{budget: 64})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, sink.ErrAborted) {
		t.Fatalf("err=%v want ErrAborted in chain", err)
	}

	if names := dirNames(t, staging); len(names) != 0 {
		t.Fatalf("staging dir not empty: %v", names)
	}
	stored, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != exporter.StatusFailed {
		t.Fatalf("status=%q want=%q", stored.Status, exporter.StatusFailed)
	}
}

func TestExport_BoundedMemoryOverLargeDataset(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large dataset scan in -short")
	}

	e := newEngine(t, nil, t.TempDir())
	const total = 2_000_000

	gen := source.NewGenerator(total, 500, func(i int64) record.Record {
		return record.Record{
			ID:        i + 1,
			CreatedAt: time.Unix(1710500000+i, 0).UTC(),
			Name:      fmt.Sprintf("row %d", i),
			Value:     float64(i % 4096),
			Metadata:  record.Null(),
		}
	})

	runtime.GC()
	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	dst := &discardSink{}
	if err := e.Export(context.Background(), exporter.Job{ID: "it-mem", Format: exporter.CSV}, gen, dst); err != nil {
		t.Fatalf("Export: %v", err)
	}

	runtime.GC()
	var after runtime.MemStats
	runtime.ReadMemStats(&after)

	if dst.n == 0 {
		t.Fatalf("no bytes delivered")
	}
	if grew := after.Sys - before.Sys; grew > 128<<20 {
		t.Fatalf("memory grew by %d bytes streaming %d rows", grew, total)
	}
}
