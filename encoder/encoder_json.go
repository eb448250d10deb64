package encoder

import (
	"context"

	"github.com/baldanca/dataset-exporter/record"
	"github.com/baldanca/dataset-exporter/sink"
	"github.com/baldanca/dataset-exporter/source"
)

// JSON streams records as a single array of objects.
//
// Object keys follow the column mapping order and numeric literals pass
// through unmodified. An export with no records produces [].
type JSON struct{}

var _ Encoder = JSON{}

func (JSON) ContentType() string { return "application/json" }

func (JSON) FileExtension() string { return ".json" }

func (JSON) EncodeTo(ctx context.Context, src source.Batches, columns record.ColumnMapping, dst sink.Sink) error {
	w := sink.NewWriter(ctx, dst)

	// Pre-quoted keys; the per-record loop only appends.
	keys := make([][]byte, len(columns))
	for i, col := range columns {
		keys[i] = record.AppendQuoted(nil, col.Name)
	}

	if _, err := w.Write([]byte{'['}); err != nil {
		return err
	}

	first := true
	buf := make([]byte, 0, 1024)
	err := forEachBatch(ctx, src, func(batch []record.Record) error {
		for i := range batch {
			buf = buf[:0]
			if first {
				first = false
			} else {
				buf = append(buf, ',')
			}
			buf = append(buf, '{')
			for j, col := range columns {
				if j > 0 {
					buf = append(buf, ',')
				}
				buf = append(buf, keys[j]...)
				buf = append(buf, ':')
				buf = batch[i].Field(col.Source).AppendJSON(buf)
			}
			buf = append(buf, '}')
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	_, err = w.Write([]byte{']'})
	return err
}
