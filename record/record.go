package record

import "time"

// Source field names a ColumnMapping may refer to.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldName      = "name"
	FieldValue     = "value"
	FieldMetadata  = "metadata"
)

// TimeLayout is how timestamps are rendered in text outputs: UTC RFC 3339
// with fixed millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Record is one row of the source dataset. Metadata holds the row's
// free-form nested field; the other fields are scalar.
type Record struct {
	ID        int64
	CreatedAt time.Time
	Name      string
	Value     float64
	Metadata  Value
}

// Field renders the named source field as a Value.
//
// It panics on a name outside the source schema: mappings are validated
// before a job starts, so an unknown name here is a programming error, not a
// runtime condition.
func (r Record) Field(name string) Value {
	switch name {
	case FieldID:
		return Int(r.ID)
	case FieldCreatedAt:
		return String(r.CreatedAt.UTC().Format(TimeLayout))
	case FieldName:
		return String(r.Name)
	case FieldValue:
		return Float(r.Value)
	case FieldMetadata:
		return r.Metadata
	}
	panic("record: unknown field " + name)
}

// Fields returns the source field names in schema order.
func Fields() []string {
	return []string{FieldID, FieldCreatedAt, FieldName, FieldValue, FieldMetadata}
}

// KnownField reports whether name belongs to the source schema.
func KnownField(name string) bool {
	switch name {
	case FieldID, FieldCreatedAt, FieldName, FieldValue, FieldMetadata:
		return true
	}
	return false
}
