// seeddb creates an export-shaped table and fills it with synthetic rows, so
// the exporter can be tried against a real database without production data.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/baldanca/dataset-exporter/source"
)

func main() {
	var (
		driver = flag.String("driver", "sqlite", "postgres | mysql | sqlite")
		dsn    = flag.String("dsn", "file:records.db", "connection string")
		rows   = flag.Int64("rows", 10_000, "rows to insert")
		table  = flag.String("table", "records", "target table")
		batch  = flag.Int("batch", 500, "rows per insert transaction")
	)
	flag.Parse()

	start := time.Now()
	if err := run(*driver, *dsn, *table, *rows, *batch); err != nil {
		fmt.Fprintf(os.Stderr, "seeddb: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded %d rows into %s (%s) in %s\n",
		*rows, *table, *driver, time.Since(start).Round(time.Millisecond))
}

func run(driver, dsn, table string, rows int64, batch int) error {
	if !validTable(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	if batch <= 0 {
		batch = 500
	}

	db, err := source.OpenDB(driver, dsn, 1)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, ddl(driver, table)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	insert := fmt.Sprintf(
		"INSERT INTO %s (id, created_at, name, value, metadata) VALUES %s",
		table, placeholders(driver))

	for offset := int64(0); offset < rows; offset += int64(batch) {
		end := offset + int64(batch)
		if end > rows {
			end = rows
		}
		if err := insertBatch(ctx, db, driver, insert, offset, end); err != nil {
			return fmt.Errorf("insert rows %d..%d: %w", offset+1, end, err)
		}
	}
	return nil
}

func insertBatch(ctx context.Context, db *sql.DB, driver, insert string, from, to int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		tx.Rollback()
		return err
	}

	for i := from; i < to; i++ {
		created := time.Unix(1710500000+i, 0).UTC()
		metadata := any(fmt.Sprintf(`{"seq":%d,"tags":["seed","synthetic"]}`, i+1))
		if i%10 == 9 {
			metadata = nil
		}
		_, err := stmt.ExecContext(ctx,
			i+1,
			createdArg(driver, created),
			fmt.Sprintf("synthetic-%d", i+1),
			float64(i%1000)+0.25,
			metadata,
		)
		if err != nil {
			stmt.Close()
			tx.Rollback()
			return err
		}
	}

	stmt.Close()
	return tx.Commit()
}

func ddl(driver, table string) string {
	switch driver {
	case "postgres":
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			name TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			metadata JSONB
		)`, table)
	case "mysql":
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			created_at DATETIME(3) NOT NULL,
			name VARCHAR(255) NOT NULL,
			value DOUBLE NOT NULL,
			metadata JSON
		)`, table)
	default: // sqlite
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			created_at TEXT NOT NULL,
			name TEXT NOT NULL,
			value REAL NOT NULL,
			metadata TEXT
		)`, table)
	}
}

func placeholders(driver string) string {
	if driver == "postgres" {
		return "($1, $2, $3, $4, $5)"
	}
	return "(?, ?, ?, ?, ?)"
}

// createdArg formats timestamps for drivers that store them as text.
func createdArg(driver string, t time.Time) any {
	if driver == "sqlite" {
		return t.UTC().Format("2006-01-02 15:04:05")
	}
	return t
}

func validTable(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
