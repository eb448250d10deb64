package encoder

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/baldanca/dataset-exporter/record"
	"github.com/baldanca/dataset-exporter/sink"
	"github.com/baldanca/dataset-exporter/source"
)

func TestCSV_EncodeTo_HeaderRowsAndQuoting(t *testing.T) {
	c := &collectSink{}
	src := source.Slice(testRecords(), 2)

	if err := (CSV{}).EncodeTo(context.Background(), src, record.DefaultMapping(), c); err != nil {
		t.Fatalf("EncodeTo: %v", err)
	}

	rows, err := csv.NewReader(strings.NewReader(c.String())).ReadAll()
	if err != nil {
		t.Fatalf("read csv back: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows=%d want=4", len(rows))
	}
	if got, want := strings.Join(rows[0], "|"), "id|created_at|name|value|metadata"; got != want {
		t.Fatalf("header=%q want=%q", got, want)
	}

	first := rows[1]
	if first[0] != "1" || first[1] != "2024-03-15T10:30:00.120Z" || first[2] != "alpha" || first[3] != "2.5" {
		t.Fatalf("first=%v", first)
	}
	// The nested metadata cell survives CSV quoting and parses back.
	meta, err := record.ParseJSON([]byte(first[4]))
	if err != nil {
		t.Fatalf("metadata cell: %v", err)
	}
	if a, ok := meta.Get("a"); !ok || a.Number() != "1" {
		t.Fatalf("metadata=%s", meta)
	}

	// Embedded quote and comma round-trip through standard quoting.
	if rows[2][2] != `say "hi", ok` {
		t.Fatalf("name=%q", rows[2][2])
	}
	// Null metadata is an empty cell.
	if rows[2][4] != "" {
		t.Fatalf("null cell=%q", rows[2][4])
	}
	if rows[3][4] != `["x","y"]` {
		t.Fatalf("list cell=%q", rows[3][4])
	}
}

func TestCSV_EncodeTo_RespectsMappingOrderAndNames(t *testing.T) {
	c := &collectSink{}
	mapping := record.ColumnMapping{
		{Source: record.FieldName, Name: "label"},
		{Source: record.FieldID, Name: "record_id"},
	}
	src := source.Slice(testRecords()[:1], 10)

	if err := (CSV{}).EncodeTo(context.Background(), src, mapping, c); err != nil {
		t.Fatalf("EncodeTo: %v", err)
	}
	rows, err := csv.NewReader(strings.NewReader(c.String())).ReadAll()
	if err != nil {
		t.Fatalf("read csv back: %v", err)
	}
	if rows[0][0] != "label" || rows[0][1] != "record_id" {
		t.Fatalf("header=%v", rows[0])
	}
	if rows[1][0] != "alpha" || rows[1][1] != "1" {
		t.Fatalf("row=%v", rows[1])
	}
}

func TestCSV_EncodeTo_EmptySourceYieldsHeaderOnly(t *testing.T) {
	c := &collectSink{}
	if err := (CSV{}).EncodeTo(context.Background(), source.Slice(nil, 10), record.DefaultMapping(), c); err != nil {
		t.Fatalf("EncodeTo: %v", err)
	}
	if got := c.String(); got != "id,created_at,name,value,metadata\n" {
		t.Fatalf("output=%q", got)
	}
}

func TestCSV_EncodeTo_PropagatesSinkFailure(t *testing.T) {
	c := &collectSink{failAt: 16}
	src := source.Slice(testRecords(), 1)

	err := (CSV{}).EncodeTo(context.Background(), src, record.DefaultMapping(), c)
	if !errors.Is(err, sink.ErrAborted) {
		t.Fatalf("err=%v want ErrAborted", err)
	}
}

func TestCSV_EncodeTo_PropagatesSourceFailure(t *testing.T) {
	boom := &source.CursorError{Err: errors.New("boom")}
	err := (CSV{}).EncodeTo(context.Background(), &failingSource{err: boom}, record.DefaultMapping(), &collectSink{})
	var curErr *source.CursorError
	if !errors.As(err, &curErr) {
		t.Fatalf("err=%v want *source.CursorError", err)
	}
}

func BenchmarkCSV_EncodeTo(b *testing.B) {
	for _, n := range []int{100, 1_000, 10_000} {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			recs := benchRecords(n)
			enc := CSV{}
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := enc.EncodeTo(ctx, source.Slice(recs, 500), record.DefaultMapping(), discardSink{}); err != nil {
					b.Fatalf("EncodeTo: %v", err)
				}
			}
		})
	}
}
