package encoder

import (
	"context"
	"encoding/csv"

	"github.com/baldanca/dataset-exporter/record"
	"github.com/baldanca/dataset-exporter/sink"
	"github.com/baldanca/dataset-exporter/source"
)

// CSV streams records as an RFC 4180 table with a header row.
//
// Scalars render as bare text (nulls as empty cells); lists and maps render
// as canonical JSON inside a quoted cell.
type CSV struct{}

var _ Encoder = CSV{}

func (CSV) ContentType() string { return "text/csv" }

func (CSV) FileExtension() string { return ".csv" }

func (CSV) EncodeTo(ctx context.Context, src source.Batches, columns record.ColumnMapping, dst sink.Sink) error {
	w := csv.NewWriter(sink.NewWriter(ctx, dst))

	if err := w.Write(columns.Names()); err != nil {
		return err
	}

	row := make([]string, len(columns))
	var scratch []byte
	err := forEachBatch(ctx, src, func(batch []record.Record) error {
		for i := range batch {
			for j, col := range columns {
				row[j], scratch = cellText(batch[i].Field(col.Source), scratch)
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
	if err != nil {
		return err
	}

	w.Flush()
	return w.Error()
}

// cellText renders one value for a CSV cell, reusing scratch for JSON cells.
func cellText(v record.Value, scratch []byte) (string, []byte) {
	switch v.Kind() {
	case record.KindNull:
		return "", scratch
	case record.KindBool:
		if v.Bool() {
			return "true", scratch
		}
		return "false", scratch
	case record.KindNumber:
		return v.Number(), scratch
	case record.KindString:
		return v.Text(), scratch
	default:
		scratch = v.AppendJSON(scratch[:0])
		return string(scratch), scratch
	}
}
