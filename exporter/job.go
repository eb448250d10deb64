package exporter

import (
	"fmt"
	"strings"

	"github.com/baldanca/dataset-exporter/record"
)

// Format identifies an output format.
type Format string

const (
	CSV     Format = "csv"
	JSON    Format = "json"
	XML     Format = "xml"
	Parquet Format = "parquet"
)

// Formats lists the supported formats.
func Formats() []Format {
	return []Format{CSV, JSON, XML, Parquet}
}

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	switch f {
	case CSV, JSON, XML, Parquet:
		return true
	}
	return false
}

// ContentType returns the media type of artifacts in this format.
func (f Format) ContentType() string {
	if !f.Valid() {
		return "application/octet-stream"
	}
	return formatEncoder(f, Options{}).ContentType()
}

// Extension returns the filename extension, dot included.
func (f Format) Extension() string {
	if !f.Valid() {
		return ""
	}
	return formatEncoder(f, Options{}).FileExtension()
}

// Status is the lifecycle state of an export job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Job describes one export.
type Job struct {
	// ID identifies the job in the store and in notifications.
	ID string

	Format Format

	// Columns maps source fields to output columns, in order. Empty uses
	// the identity mapping over all fields.
	Columns record.ColumnMapping

	// Compress adds a gzip stage on the encoded stream. Text formats
	// only; parquet carries its own column compression.
	Compress bool
}

// Validate checks the job before any resource is acquired.
func (j Job) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return fmt.Errorf("exporter: job id is required")
	}
	if !j.Format.Valid() {
		return fmt.Errorf("exporter: unknown format %q", j.Format)
	}
	if j.Compress && j.Format == Parquet {
		return fmt.Errorf("exporter: gzip stage does not apply to parquet output")
	}
	if len(j.Columns) > 0 {
		if err := j.Columns.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Filename returns base plus the artifact extension, with .gz appended for
// compressed exports.
func (j Job) Filename(base string) string {
	name := base + j.Format.Extension()
	if j.Compress {
		name += ".gz"
	}
	return name
}

// ContentType returns the media type of the artifact. Compression changes
// the transport encoding, not the type.
func (j Job) ContentType() string {
	return j.Format.ContentType()
}

// ContentEncoding returns the transport encoding of the artifact.
func (j Job) ContentEncoding() string {
	if j.Compress {
		return "gzip"
	}
	return ""
}

func (j Job) columns() record.ColumnMapping {
	if len(j.Columns) == 0 {
		return record.DefaultMapping()
	}
	return j.Columns
}
