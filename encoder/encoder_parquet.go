package encoder

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/baldanca/dataset-exporter/record"
	"github.com/baldanca/dataset-exporter/sink"
	"github.com/baldanca/dataset-exporter/source"
)

// DefaultChunkSize is the replay chunk size for staged artifacts.
const DefaultChunkSize = 256 * 1024

// Parquet writes the columnar artifact to a local staging file and, once the
// footer is finalized, replays it into the sink in fixed-size chunks. The
// staging file is removed on every path.
type Parquet struct {
	// Compression (optional): "", "snappy", "gzip", "zstd". Empty selects
	// snappy.
	Compression string

	// StagingDir is where the artifact is staged. Empty uses the system
	// temp directory.
	StagingDir string

	// ChunkSize is the replay chunk size. Zero uses DefaultChunkSize.
	ChunkSize int
}

var _ Encoder = Parquet{}

func (Parquet) ContentType() string { return "application/vnd.apache.parquet" }

func (Parquet) FileExtension() string { return ".parquet" }

func (p Parquet) EncodeTo(ctx context.Context, src source.Batches, columns record.ColumnMapping, dst sink.Sink) error {
	compression, err := compressionOption(p.Compression)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(p.StagingDir, "export-*.parquet")
	if err != nil {
		return &StagingError{Op: "create", Err: err}
	}
	defer os.Remove(f.Name())
	defer f.Close()

	schema := schemaFor(columns)
	pw := parquet.NewGenericWriter[any](f, schema, compression)

	leaves := make([]int, len(columns))
	for i, col := range columns {
		leaf, ok := schema.Lookup(col.Name)
		if !ok {
			return &EncodingError{Err: fmt.Errorf("no leaf column for %q", col.Name)}
		}
		leaves[i] = leaf.ColumnIndex
	}

	rb := parquet.NewRowBuilder(schema)
	rows := make([]parquet.Row, 1)
	var scratch []byte

	err = forEachBatch(ctx, src, func(batch []record.Record) error {
		for i := range batch {
			rb.Reset()
			for j, col := range columns {
				scratch = addCell(rb, leaves[j], batch[i], col.Source, scratch)
			}
			rows[0] = rb.AppendRow(rows[0][:0])
			if _, err := pw.WriteRows(rows); err != nil {
				return &StagingError{Op: "write", Err: err}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := pw.Close(); err != nil {
		return &StagingError{Op: "finalize", Err: err}
	}
	return replay(ctx, f, dst, p.ChunkSize)
}

func compressionOption(name string) (parquet.WriterOption, error) {
	switch name {
	case "", "snappy":
		return parquet.Compression(&parquet.Snappy), nil
	case "gzip":
		return parquet.Compression(&parquet.Gzip), nil
	case "zstd":
		return parquet.Compression(&parquet.Zstd), nil
	default:
		return nil, &EncodingError{Err: fmt.Errorf("unsupported parquet compression: %q", name)}
	}
}

// schemaFor builds a flat schema with one optional leaf per output column.
func schemaFor(columns record.ColumnMapping) *parquet.Schema {
	group := parquet.Group{}
	for _, col := range columns {
		group[col.Name] = parquet.Optional(fieldNode(col.Source))
	}
	return parquet.NewSchema("export", group)
}

// fieldNode picks the physical type for a source field. Unknown fields would
// have failed mapping validation, so anything else is plain text.
func fieldNode(field string) parquet.Node {
	switch field {
	case record.FieldID:
		return parquet.Int(64)
	case record.FieldValue:
		return parquet.Leaf(parquet.DoubleType)
	case record.FieldCreatedAt:
		return parquet.Timestamp(parquet.Millisecond)
	default:
		return parquet.String()
	}
}

// addCell fills one column of the row builder. Null metadata skips the Add,
// leaving a null in the optional column.
func addCell(rb *parquet.RowBuilder, leaf int, rec record.Record, field string, scratch []byte) []byte {
	switch field {
	case record.FieldID:
		rb.Add(leaf, parquet.Int64Value(rec.ID))
	case record.FieldValue:
		rb.Add(leaf, parquet.DoubleValue(rec.Value))
	case record.FieldCreatedAt:
		rb.Add(leaf, parquet.Int64Value(rec.CreatedAt.UTC().UnixMilli()))
	case record.FieldName:
		rb.Add(leaf, parquet.ByteArrayValue([]byte(rec.Name)))
	case record.FieldMetadata:
		if rec.Metadata.IsNull() {
			return scratch
		}
		scratch = rec.Metadata.AppendJSON(scratch[:0])
		rb.Add(leaf, parquet.ByteArrayValue(scratch))
	}
	return scratch
}

// replay streams the staged artifact into the sink, one fixed-size chunk in
// memory at a time.
func replay(ctx context.Context, f *os.File, dst sink.Sink, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return &StagingError{Op: "rewind", Err: err}
	}

	w := sink.NewWriter(ctx, dst)
	buf := make([]byte, chunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &StagingError{Op: "read", Err: err}
		}
	}
}
