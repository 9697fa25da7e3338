package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/MrEthical07/lockguard"
	"github.com/google/uuid"
)

// ErrQuery wraps driver failures other than the gateway errors.
var ErrQuery = errors.New("sqlstore: query failed")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options configures a Store. Zero Fields means lockguard.DefaultConfig().User;
// an empty Table means "users".
type Options struct {
	Dialect Dialect
	Table   string
	Fields  lockguard.UserFieldConfig
	Custom  map[string]lockguard.FieldType
}

type customColumn struct {
	name string
	typ  lockguard.FieldType
}

// Store implements lockguard.Store over one table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string
	fields  lockguard.UserFieldConfig
	aliased bool
	custom  []customColumn

	// columns in bind order; columns[0] is the id column
	columns []string

	insertSQL  string
	updateSQL  string
	deleteSQL  string
	versionSQL string
	selectSQL  map[lockguard.Field]string
}

var _ lockguard.Store = (*Store)(nil)

// FromConfig builds a Store whose columns follow cfg's field mapping and
// custom fields.
func FromConfig(db *sql.DB, d Dialect, table string, cfg lockguard.Config) (*Store, error) {
	return New(db, Options{
		Dialect: d,
		Table:   table,
		Fields:  cfg.User,
		Custom:  cfg.CustomFields(),
	})
}

func New(db *sql.DB, opts Options) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: nil db")
	}
	if opts.Table == "" {
		opts.Table = "users"
	}
	if opts.Fields == (lockguard.UserFieldConfig{}) {
		opts.Fields = lockguard.DefaultConfig().User
	}

	s := &Store{
		db:      db,
		dialect: opts.Dialect,
		table:   opts.Table,
		fields:  opts.Fields,
		aliased: opts.Fields.EmailAliasesUsername(),
	}
	for name, t := range opts.Custom {
		s.custom = append(s.custom, customColumn{name: name, typ: t})
	}
	sort.Slice(s.custom, func(i, j int) bool { return s.custom[i].name < s.custom[j].name })

	f := opts.Fields
	s.columns = []string{f.ID, f.Username, f.Password}
	if !s.aliased {
		s.columns = append(s.columns, f.EmailAddress)
	}
	s.columns = append(s.columns,
		f.EmailVerified, f.EmailVerificationHash, f.EmailVerificationHashExpires,
		f.AccountLocked, f.AccountLockedUntil, f.AccountFailedAttempts,
		f.AccountLastFailedAttempt, f.PasswordResetToken, f.PasswordResetTokenExpiration,
		f.Version,
	)
	for _, c := range s.custom {
		s.columns = append(s.columns, c.name)
	}

	seen := make(map[string]struct{}, len(s.columns)+1)
	for _, name := range append([]string{s.table}, s.columns...) {
		if !identRe.MatchString(name) {
			return nil, fmt.Errorf("sqlstore: invalid identifier %q", name)
		}
	}
	for _, name := range s.columns {
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("sqlstore: column %q mapped twice", name)
		}
		seen[name] = struct{}{}
	}

	s.buildQueries()
	return s, nil
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func (s *Store) buildQueries() {
	d := s.dialect
	tbl := quote(s.table)
	quoted := make([]string, len(s.columns))
	for i, c := range s.columns {
		quoted[i] = quote(c)
	}
	list := strings.Join(quoted, ", ")

	marks := make([]string, len(s.columns))
	for i := range marks {
		marks[i] = d.placeholder(i + 1)
	}
	s.insertSQL = "INSERT INTO " + tbl + " (" + list + ") VALUES (" + strings.Join(marks, ", ") + ")"

	sets := make([]string, 0, len(s.columns)-1)
	for i, c := range quoted[1:] {
		sets = append(sets, c+" = "+d.placeholder(i+1))
	}
	n := len(sets)
	idCol, versionCol := quote(s.fields.ID), quote(s.fields.Version)
	s.updateSQL = "UPDATE " + tbl + " SET " + strings.Join(sets, ", ") +
		" WHERE " + idCol + " = " + d.placeholder(n+1) + " AND " + versionCol + " = " + d.placeholder(n+2)
	s.deleteSQL = "DELETE FROM " + tbl + " WHERE " + idCol + " = " + d.placeholder(1)
	s.versionSQL = "SELECT " + versionCol + " FROM " + tbl + " WHERE " + idCol + " = " + d.placeholder(1)

	s.selectSQL = make(map[lockguard.Field]string, 5)
	for _, f := range []lockguard.Field{
		lockguard.FieldID, lockguard.FieldUsername, lockguard.FieldEmailAddress,
		lockguard.FieldEmailVerificationToken, lockguard.FieldPasswordResetToken,
	} {
		s.selectSQL[f] = "SELECT " + list + " FROM " + tbl + " WHERE " + quote(s.fields.Column(f)) + " = " + d.placeholder(1)
	}
}

func (s *Store) FindOne(ctx context.Context, field lockguard.Field, value string) (*lockguard.UserRecord, error) {
	q, ok := s.selectSQL[field]
	if !ok {
		return nil, fmt.Errorf("sqlstore: unsupported field %s", field)
	}
	value = lockguard.NormalizeLookup(field, value)
	if value == "" {
		return nil, lockguard.ErrRecordNotFound
	}

	rec, err := s.scan(s.db.QueryRowContext(ctx, q, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lockguard.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return rec, nil
}

func (s *Store) Create(ctx context.Context, record *lockguard.UserRecord) (*lockguard.UserRecord, error) {
	rec := record.Clone()
	normalize(rec)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Version = 1
	if s.aliased {
		rec.EmailAddress = rec.Username
	}

	if _, err := s.db.ExecContext(ctx, s.insertSQL, s.args(rec)...); err != nil {
		if isUniqueViolation(err) {
			return nil, lockguard.ErrDuplicateRecord
		}
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return rec, nil
}

func (s *Store) Save(ctx context.Context, record *lockguard.UserRecord) (*lockguard.UserRecord, error) {
	rec := record.Clone()
	normalize(rec)
	if s.aliased {
		rec.EmailAddress = rec.Username
	}
	expected := rec.Version
	rec.Version = expected + 1

	args := append(s.args(rec)[1:], rec.ID, int64(expected))
	res, err := s.db.ExecContext(ctx, s.updateSQL, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, lockguard.ErrDuplicateRecord
		}
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	if n == 0 {
		return nil, s.missOrConflict(ctx, rec.ID)
	}
	return rec, nil
}

func (s *Store) missOrConflict(ctx context.Context, id string) error {
	var v int64
	err := s.db.QueryRowContext(ctx, s.versionSQL, id).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return lockguard.ErrRecordNotFound
	case err != nil:
		return fmt.Errorf("%w: %v", ErrQuery, err)
	default:
		return lockguard.ErrVersionConflict
	}
}

func (s *Store) Delete(ctx context.Context, record *lockguard.UserRecord) error {
	res, err := s.db.ExecContext(ctx, s.deleteSQL, record.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	if n == 0 {
		return lockguard.ErrRecordNotFound
	}
	return nil
}

func normalize(r *lockguard.UserRecord) {
	r.Username = lockguard.NormalizeLookup(lockguard.FieldUsername, r.Username)
	r.EmailAddress = lockguard.NormalizeLookup(lockguard.FieldEmailAddress, r.EmailAddress)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

// args returns bind values in column order.
func (s *Store) args(r *lockguard.UserRecord) []any {
	out := make([]any, 0, len(s.columns))
	out = append(out, r.ID, r.Username, r.PasswordHash)
	if !s.aliased {
		out = append(out, nullString(r.EmailAddress))
	}
	out = append(out,
		r.EmailVerified, nullString(r.EmailVerificationToken), nanos(r.EmailVerificationExpiresAt),
		r.AccountLocked, nanos(r.AccountLockedUntil), int64(r.FailedAttempts),
		nanos(r.LastFailedAttemptAt), nullString(r.PasswordResetToken), nanos(r.PasswordResetExpiresAt),
		int64(r.Version),
	)
	for _, c := range s.custom {
		v, ok := r.Custom[c.name]
		if !ok {
			out = append(out, nil)
			continue
		}
		out = append(out, customArg(c.typ, v))
	}
	return out
}

func customArg(t lockguard.FieldType, v lockguard.CustomValue) any {
	switch t {
	case lockguard.FieldInteger, lockguard.FieldBigInt:
		return v.Int
	case lockguard.FieldFloat:
		return v.Float
	case lockguard.FieldDate:
		return v.Date.UnixNano()
	case lockguard.FieldBoolean:
		return v.Bool
	default:
		return v.Str
	}
}

func (s *Store) scan(row *sql.Row) (*lockguard.UserRecord, error) {
	var (
		r                               lockguard.UserRecord
		email, vtok, rtok               sql.NullString
		vexp, lockUntil, lastFail, rexp sql.NullInt64
		failed, version                 int64
	)
	dest := []any{&r.ID, &r.Username, &r.PasswordHash}
	if !s.aliased {
		dest = append(dest, &email)
	}
	dest = append(dest,
		&r.EmailVerified, &vtok, &vexp,
		&r.AccountLocked, &lockUntil, &failed,
		&lastFail, &rtok, &rexp,
		&version,
	)
	holders := make([]any, len(s.custom))
	for i, c := range s.custom {
		holders[i] = customHolder(c.typ)
	}
	dest = append(dest, holders...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	r.EmailAddress = email.String
	if s.aliased {
		r.EmailAddress = r.Username
	}
	r.EmailVerificationToken = vtok.String
	r.EmailVerificationExpiresAt = fromNanos(vexp)
	r.AccountLockedUntil = fromNanos(lockUntil)
	r.FailedAttempts = int(failed)
	r.LastFailedAttemptAt = fromNanos(lastFail)
	r.PasswordResetToken = rtok.String
	r.PasswordResetExpiresAt = fromNanos(rexp)
	r.Version = uint64(version)

	for i, c := range s.custom {
		if v, ok := customFromHolder(c.typ, holders[i]); ok {
			if r.Custom == nil {
				r.Custom = make(map[string]lockguard.CustomValue, len(s.custom))
			}
			r.Custom[c.name] = v
		}
	}
	return &r, nil
}

func customHolder(t lockguard.FieldType) any {
	switch t {
	case lockguard.FieldInteger, lockguard.FieldBigInt, lockguard.FieldDate:
		return new(sql.NullInt64)
	case lockguard.FieldFloat:
		return new(sql.NullFloat64)
	case lockguard.FieldBoolean:
		return new(sql.NullBool)
	default:
		return new(sql.NullString)
	}
}

func customFromHolder(t lockguard.FieldType, h any) (lockguard.CustomValue, bool) {
	switch x := h.(type) {
	case *sql.NullInt64:
		if !x.Valid {
			return lockguard.CustomValue{}, false
		}
		if t == lockguard.FieldDate {
			return lockguard.DateValue(time.Unix(0, x.Int64).UTC()), true
		}
		return lockguard.CustomValue{Type: t, Int: x.Int64}, true
	case *sql.NullFloat64:
		return lockguard.FloatValue(x.Float64), x.Valid
	case *sql.NullBool:
		return lockguard.BoolValue(x.Bool), x.Valid
	case *sql.NullString:
		return lockguard.CustomValue{Type: t, Str: x.String}, x.Valid
	}
	return lockguard.CustomValue{}, false
}
