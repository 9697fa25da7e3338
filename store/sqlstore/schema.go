package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

// Schema returns the DDL statements for the store's table and its lookup
// indexes. Every statement is idempotent.
func (s *Store) Schema() []string {
	f := s.fields
	tbl := quote(s.table)
	col := func(name, def string) string { return "\t" + quote(name) + " " + def }

	defs := []string{
		col(f.ID, "TEXT PRIMARY KEY"),
		col(f.Username, "TEXT NOT NULL UNIQUE"),
		col(f.Password, "TEXT NOT NULL"),
	}
	if !s.aliased {
		defs = append(defs, col(f.EmailAddress, "TEXT UNIQUE"))
	}
	defs = append(defs,
		col(f.EmailVerified, "BOOLEAN NOT NULL DEFAULT FALSE"),
		col(f.EmailVerificationHash, "TEXT"),
		col(f.EmailVerificationHashExpires, "BIGINT"),
		col(f.AccountLocked, "BOOLEAN NOT NULL DEFAULT FALSE"),
		col(f.AccountLockedUntil, "BIGINT"),
		col(f.AccountFailedAttempts, "INTEGER NOT NULL DEFAULT 0"),
		col(f.AccountLastFailedAttempt, "BIGINT"),
		col(f.PasswordResetToken, "TEXT"),
		col(f.PasswordResetTokenExpiration, "BIGINT"),
		col(f.Version, "BIGINT NOT NULL DEFAULT 1"),
	)
	for _, c := range s.custom {
		defs = append(defs, col(c.name, s.dialect.customType(c.typ)))
	}

	stmts := []string{
		"CREATE TABLE IF NOT EXISTS " + tbl + " (\n" + strings.Join(defs, ",\n") + "\n)",
	}
	for _, c := range []string{f.EmailVerificationHash, f.PasswordResetToken} {
		stmts = append(stmts, "CREATE INDEX IF NOT EXISTS "+quote(s.table+"_"+c+"_idx")+" ON "+tbl+" ("+quote(c)+")")
	}
	return stmts
}

// SchemaSQL joins Schema into one script.
func (s *Store) SchemaSQL() string {
	return strings.Join(s.Schema(), ";\n\n") + ";\n"
}

// Migrate executes Schema against the store's database.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}
