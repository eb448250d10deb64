package source

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/baldanca/dataset-exporter/record"
)

// DefaultBatchSize is the number of rows fetched per Next call when the Query
// does not set one.
const DefaultBatchSize = 500

// DefaultConnectTimeout bounds how long Open waits for a pooled connection.
const DefaultConnectTimeout = 5 * time.Second

// Query describes the table scan performed by a SQL source.
type Query struct {
	// Table is the table or view to export. Required.
	Table string

	// Fields restricts the selected columns. Empty selects every known field.
	Fields []string

	// OrderBy is the field that fixes the scan order. Defaults to "id".
	OrderBy string

	// BatchSize is the number of rows per batch. Defaults to DefaultBatchSize.
	BatchSize int

	// ConnectTimeout bounds the wait for a pooled connection in Open.
	// Defaults to DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

func (q Query) withDefaults() Query {
	if len(q.Fields) == 0 {
		q.Fields = record.Fields()
	}
	if q.OrderBy == "" {
		q.OrderBy = record.FieldID
	}
	if q.BatchSize <= 0 {
		q.BatchSize = DefaultBatchSize
	}
	if q.ConnectTimeout <= 0 {
		q.ConnectTimeout = DefaultConnectTimeout
	}
	return q
}

// Identifiers are interpolated into the statement, so they are restricted to
// the known field set and a safe identifier charset.
func (q Query) validate() error {
	if !validIdent(q.Table) {
		return fmt.Errorf("source: invalid table name %q", q.Table)
	}
	for _, f := range q.Fields {
		if !record.KnownField(f) {
			return fmt.Errorf("source: unknown query field %q", f)
		}
	}
	if !record.KnownField(q.OrderBy) {
		return fmt.Errorf("source: unknown order field %q", q.OrderBy)
	}
	return nil
}

func (q Query) selectSQL() string {
	return "SELECT " + strings.Join(q.Fields, ", ") + " FROM " + q.Table + " ORDER BY " + q.OrderBy
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9', r == '.':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// SQLSource streams records from a relational table over a dedicated
// connection.
//
// The scan holds one pooled connection and one open cursor for its whole
// lifetime, and only one batch of rows in memory at a time. A SQLSource is
// meant for a single consumer; Close may be called from any goroutine to
// abort a scan.
type SQLSource struct {
	query Query

	mu     sync.Mutex
	conn   *sql.Conn
	rows   *sql.Rows
	batch  []record.Record
	values []any
	ptrs   []any
	err    error

	releaseOnce sync.Once
	closeErr    error
}

var _ Batches = (*SQLSource)(nil)

// Open starts a table scan against db.
//
// It pins a dedicated connection so the cursor survives pool churn. Failure
// to acquire the connection within the query's ConnectTimeout is reported as
// a *ConnectionError; a rejected statement as a *CursorError.
func Open(ctx context.Context, db *sql.DB, query Query) (*SQLSource, error) {
	if db == nil {
		panic("source: nil db")
	}
	query = query.withDefaults()
	if err := query.validate(); err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithTimeout(ctx, query.ConnectTimeout)
	defer cancel()

	conn, err := db.Conn(connCtx)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	rows, err := conn.QueryContext(ctx, query.selectSQL())
	if err != nil {
		conn.Close()
		return nil, &CursorError{Err: err}
	}

	s := &SQLSource{
		query:  query,
		conn:   conn,
		rows:   rows,
		batch:  make([]record.Record, 0, query.BatchSize),
		values: make([]any, len(query.Fields)),
		ptrs:   make([]any, len(query.Fields)),
	}
	for i := range s.values {
		s.ptrs[i] = &s.values[i]
	}
	return s, nil
}

// Next returns the next batch of rows, reusing the storage of the previous
// batch. It returns io.EOF once the cursor is exhausted.
func (s *SQLSource) Next(ctx context.Context) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	if err := ctx.Err(); err != nil {
		s.failLocked(err)
		return nil, err
	}

	s.batch = s.batch[:0]
	for len(s.batch) < s.query.BatchSize && s.rows.Next() {
		rec, err := s.scanRowLocked()
		if err != nil {
			s.failLocked(&CursorError{Err: err})
			return nil, s.err
		}
		s.batch = append(s.batch, rec)
	}
	if len(s.batch) == s.query.BatchSize {
		return s.batch, nil
	}

	if err := s.rows.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.failLocked(ctxErr)
			return nil, ctxErr
		}
		s.failLocked(&CursorError{Err: err})
		return nil, s.err
	}
	if len(s.batch) == 0 {
		s.failLocked(io.EOF)
		return nil, io.EOF
	}
	return s.batch, nil
}

// Close releases the cursor and returns the connection to the pool.
func (s *SQLSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err == nil {
		s.err = ErrClosed
	}
	s.releaseLocked()
	return s.closeErr
}

func (s *SQLSource) failLocked(err error) {
	s.err = err
	s.releaseLocked()
}

func (s *SQLSource) releaseLocked() {
	s.releaseOnce.Do(func() {
		if err := s.rows.Close(); err != nil {
			s.closeErr = err
		}
		if err := s.conn.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
}

func (s *SQLSource) scanRowLocked() (record.Record, error) {
	if err := s.rows.Scan(s.ptrs...); err != nil {
		return record.Record{}, err
	}

	var rec record.Record
	for i, field := range s.query.Fields {
		if err := assignField(&rec, field, s.values[i]); err != nil {
			return record.Record{}, fmt.Errorf("column %s: %w", field, err)
		}
	}
	return rec, nil
}

func assignField(rec *record.Record, field string, v any) error {
	switch field {
	case record.FieldID:
		n, err := coerceInt(v)
		if err != nil {
			return err
		}
		rec.ID = n
	case record.FieldCreatedAt:
		t, err := coerceTime(v)
		if err != nil {
			return err
		}
		rec.CreatedAt = t
	case record.FieldName:
		str, err := coerceString(v)
		if err != nil {
			return err
		}
		rec.Name = str
	case record.FieldValue:
		f, err := coerceFloat(v)
		if err != nil {
			return err
		}
		rec.Value = f
	case record.FieldMetadata:
		val, err := coerceMetadata(v)
		if err != nil {
			return err
		}
		rec.Metadata = val
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	return nil
}

func coerceInt(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	case string:
		return strconv.ParseInt(x, 10, 64)
	default:
		return 0, fmt.Errorf("cannot read %T as int64", v)
	}
}

// Decimal columns arrive as their text form on postgres and mysql.
func coerceFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case []byte:
		return strconv.ParseFloat(string(x), 64)
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("cannot read %T as float64", v)
	}
}

func coerceString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("cannot read %T as string", v)
	}
}

func coerceMetadata(v any) (record.Value, error) {
	if v == nil {
		return record.Null(), nil
	}
	raw, err := coerceString(v)
	if err != nil {
		return record.Value{}, err
	}
	if raw == "" {
		return record.Null(), nil
	}
	val, err := record.ParseJSON([]byte(raw))
	if err != nil {
		return record.Value{}, fmt.Errorf("metadata: %w", err)
	}
	return val, nil
}

func coerceTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case []byte:
		return parseTime(string(x))
	case string:
		return parseTime(x)
	case int64:
		return time.Unix(x, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot read %T as time", v)
	}
}

// sqlite stores timestamps as text; the layouts cover the forms produced by
// the supported drivers.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
