package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrEthical07/lockguard"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect selects placeholder syntax, column types and error classification.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return "dialect(" + strconv.Itoa(int(d)) + ")"
	}
}

// DriverName is the database/sql driver registered for d.
func (d Dialect) DriverName() string {
	if d == SQLite {
		return "sqlite"
	}
	return "pgx"
}

// ParseDialect accepts "postgres", "postgresql", "pgx" and "sqlite".
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return 0, fmt.Errorf("sqlstore: unknown dialect %q", s)
	}
}

// Open opens a pool for dsn with the driver matching d.
func Open(d Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", d, err)
	}
	return db, nil
}

func (d Dialect) placeholder(n int) string {
	if d == SQLite {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

func (d Dialect) customType(t lockguard.FieldType) string {
	switch t {
	case lockguard.FieldInteger:
		return "INTEGER"
	case lockguard.FieldBigInt, lockguard.FieldDate:
		return "BIGINT"
	case lockguard.FieldFloat:
		if d == SQLite {
			return "REAL"
		}
		return "DOUBLE PRECISION"
	case lockguard.FieldBoolean:
		return "BOOLEAN"
	case lockguard.FieldString:
		if d == Postgres {
			return "VARCHAR(255)"
		}
		return "TEXT"
	default:
		return "TEXT"
	}
}

// isUniqueViolation reports whether err is a unique or primary key clash.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		return strings.Contains(sqErr.Error(), "UNIQUE constraint failed")
	}
	return false
}
