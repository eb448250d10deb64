package source

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // mysql
	_ "github.com/lib/pq"              // postgres
	_ "modernc.org/sqlite"             // sqlite
)

// DefaultMaxConns caps the connection pool opened by OpenDB.
const DefaultMaxConns = 8

// OpenDB opens a bounded connection pool for one of the supported drivers:
// "postgres", "mysql" or "sqlite".
//
// The pool size is capped; a scan that cannot get a connection within its
// timeout fails with a *ConnectionError instead of growing the pool.
func OpenDB(driver, dsn string, maxConns int) (*sql.DB, error) {
	switch driver {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("source: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("source: open %s pool: %w", driver, err)
	}

	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}
