// Package storetest is the behavior suite every lockguard.Store implementation
// runs from its own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/lockguard"
	"github.com/stretchr/testify/require"
)

// CustomFields is the custom schema the suite writes when Options.Custom is
// set. Stores that need a schema up front should declare exactly these.
var CustomFields = map[string]lockguard.FieldType{
	"nickname": lockguard.FieldString,
	"age":      lockguard.FieldInteger,
	"balance":  lockguard.FieldDecimal,
	"joined":   lockguard.FieldDate,
	"active":   lockguard.FieldBoolean,
}

type Options struct {
	// New returns an empty store. It is called once per subtest.
	New func(t *testing.T) lockguard.Store
	// Custom enables the custom-field round trip.
	Custom bool
}

func Run(t *testing.T, opts Options) {
	t.Helper()

	t.Run("CreateAssignsIDAndVersion", func(t *testing.T) { testCreate(t, opts.New(t)) })
	t.Run("FindOneCaseFolds", func(t *testing.T) { testFindCaseFold(t, opts.New(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, opts.New(t)) })
	t.Run("SaveVersionCheck", func(t *testing.T) { testSaveVersion(t, opts.New(t)) })
	t.Run("SaveMissing", func(t *testing.T) { testSaveMissing(t, opts.New(t)) })
	t.Run("TokenIndexFollowsSave", func(t *testing.T) { testTokenIndex(t, opts.New(t)) })
	t.Run("TimestampsRoundTrip", func(t *testing.T) { testTimestamps(t, opts.New(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, opts.New(t)) })
	if opts.Custom {
		t.Run("CustomFieldsRoundTrip", func(t *testing.T) { testCustom(t, opts.New(t)) })
	}
}

func newRecord(username, email string) *lockguard.UserRecord {
	return lockguard.BuildAccountSecurity(&lockguard.UserRecord{
		Username:     username,
		EmailAddress: email,
		PasswordHash: "$2a$04$placeholder",
	})
}

func testCreate(t *testing.T, s lockguard.Store) {
	ctx := context.Background()
	created, err := s.Create(ctx, newRecord("alice", "alice@example.com"))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, uint64(1), created.Version)

	got, err := s.FindOne(ctx, lockguard.FieldID, created.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Username)
	require.Equal(t, "alice@example.com", got.EmailAddress)
	require.Equal(t, "$2a$04$placeholder", got.PasswordHash)
	require.False(t, got.AccountLocked)
	require.Nil(t, got.AccountLockedUntil)
	require.Zero(t, got.FailedAttempts)
}

func testFindCaseFold(t *testing.T, s lockguard.Store) {
	ctx := context.Background()
	_, err := s.Create(ctx, newRecord("Bob", "Bob@Example.com"))
	require.NoError(t, err)

	got, err := s.FindOne(ctx, lockguard.FieldUsername, "bob")
	require.NoError(t, err)
	require.Equal(t, "bob", got.Username)

	got, err = s.FindOne(ctx, lockguard.FieldEmailAddress, "bob@example.com")
	require.NoError(t, err)
	require.Equal(t, "bob", got.Username)

	_, err = s.FindOne(ctx, lockguard.FieldUsername, "nobody")
	require.ErrorIs(t, err, lockguard.ErrRecordNotFound)
}

func testCreateDuplicate(t *testing.T, s lockguard.Store) {
	ctx := context.Background()
	_, err := s.Create(ctx, newRecord("carol", "carol@example.com"))
	require.NoError(t, err)

	_, err = s.Create(ctx, newRecord("carol", "other@example.com"))
	require.ErrorIs(t, err, lockguard.ErrDuplicateRecord)

	_, err = s.Create(ctx, newRecord("carol2", "carol@example.com"))
	require.ErrorIs(t, err, lockguard.ErrDuplicateRecord)

	// the failed creates must not have claimed anything
	_, err = s.FindOne(ctx, lockguard.FieldUsername, "carol2")
	require.ErrorIs(t, err, lockguard.ErrRecordNotFound)
}

func testSaveVersion(t *testing.T, s lockguard.Store) {
	ctx := context.Background()
	created, err := s.Create(ctx, newRecord("dave", "dave@example.com"))
	require.NoError(t, err)

	first := created.Clone()
	first.FailedAttempts = 1
	saved, err := s.Save(ctx, first)
	require.NoError(t, err)
	require.Equal(t, uint64(2), saved.Version)
	require.Equal(t, 1, saved.FailedAttempts)

	stale := created.Clone()
	stale.FailedAttempts = 5
	_, err = s.Save(ctx, stale)
	require.ErrorIs(t, err, lockguard.ErrVersionConflict)

	got, err := s.FindOne(ctx, lockguard.FieldID, created.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.FailedAttempts)
	require.Equal(t, uint64(2), got.Version)
}

func testSaveMissing(t *testing.T, s lockguard.Store) {
	_, err := s.Save(context.Background(), &lockguard.UserRecord{ID: "00000000-0000-4000-8000-000000000000", Username: "ghost", Version: 1})
	require.ErrorIs(t, err, lockguard.ErrRecordNotFound)
}

func testTokenIndex(t *testing.T, s lockguard.Store) {
	ctx := context.Background()
	created, err := s.Create(ctx, newRecord("erin", "erin@example.com"))
	require.NoError(t, err)

	withToken := created.Clone()
	withToken.EmailVerificationToken = "verify-1"
	withToken.PasswordResetToken = "reset-1"
	saved, err := s.Save(ctx, withToken)
	require.NoError(t, err)

	got, err := s.FindOne(ctx, lockguard.FieldEmailVerificationToken, "verify-1")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	got, err = s.FindOne(ctx, lockguard.FieldPasswordResetToken, "reset-1")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)

	// tokens are case-sensitive
	_, err = s.FindOne(ctx, lockguard.FieldPasswordResetToken, "RESET-1")
	require.ErrorIs(t, err, lockguard.ErrRecordNotFound)

	cleared := saved.Clone()
	cleared.EmailVerificationToken = ""
	cleared.PasswordResetToken = "reset-2"
	_, err = s.Save(ctx, cleared)
	require.NoError(t, err)

	_, err = s.FindOne(ctx, lockguard.FieldEmailVerificationToken, "verify-1")
	require.ErrorIs(t, err, lockguard.ErrRecordNotFound)
	_, err = s.FindOne(ctx, lockguard.FieldPasswordResetToken, "reset-1")
	require.ErrorIs(t, err, lockguard.ErrRecordNotFound)
	got, err = s.FindOne(ctx, lockguard.FieldPasswordResetToken, "reset-2")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
}

func testTimestamps(t *testing.T, s lockguard.Store) {
	ctx := context.Background()
	created, err := s.Create(ctx, newRecord("frank", "frank@example.com"))
	require.NoError(t, err)

	base := time.Date(2026, 3, 14, 15, 9, 26, 535897000, time.UTC)
	rec := created.Clone()
	rec.AccountLocked = true
	rec.AccountLockedUntil = ptr(base.Add(30 * time.Minute))
	rec.LastFailedAttemptAt = ptr(base)
	rec.EmailVerificationExpiresAt = ptr(base.Add(12 * time.Hour))
	rec.PasswordResetExpiresAt = ptr(base.Add(time.Hour))
	_, err = s.Save(ctx, rec)
	require.NoError(t, err)

	got, err := s.FindOne(ctx, lockguard.FieldID, created.ID)
	require.NoError(t, err)
	require.True(t, got.AccountLocked)
	require.True(t, got.AccountLockedUntil.Equal(*rec.AccountLockedUntil))
	require.True(t, got.LastFailedAttemptAt.Equal(base))
	require.True(t, got.EmailVerificationExpiresAt.Equal(*rec.EmailVerificationExpiresAt))
	require.True(t, got.PasswordResetExpiresAt.Equal(*rec.PasswordResetExpiresAt))
}

func testDelete(t *testing.T, s lockguard.Store) {
	ctx := context.Background()
	created, err := s.Create(ctx, newRecord("grace", "grace@example.com"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, created))
	_, err = s.FindOne(ctx, lockguard.FieldID, created.ID)
	require.ErrorIs(t, err, lockguard.ErrRecordNotFound)
	_, err = s.FindOne(ctx, lockguard.FieldUsername, "grace")
	require.ErrorIs(t, err, lockguard.ErrRecordNotFound)

	require.ErrorIs(t, s.Delete(ctx, created), lockguard.ErrRecordNotFound)

	// the username is free again
	_, err = s.Create(ctx, newRecord("grace", "grace@example.com"))
	require.NoError(t, err)
}

func testCustom(t *testing.T, s lockguard.Store) {
	ctx := context.Background()
	joined := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	balance, err := lockguard.DecimalValue("1234.50")
	require.NoError(t, err)

	rec := newRecord("heidi", "heidi@example.com")
	rec.Custom = map[string]lockguard.CustomValue{
		"nickname": lockguard.StringValue("hh"),
		"age":      lockguard.IntegerValue(41),
		"balance":  balance,
		"joined":   lockguard.DateValue(joined),
		"active":   lockguard.BoolValue(true),
	}
	created, err := s.Create(ctx, rec)
	require.NoError(t, err)

	got, err := s.FindOne(ctx, lockguard.FieldID, created.ID)
	require.NoError(t, err)
	require.Equal(t, "hh", got.Custom["nickname"].Str)
	require.Equal(t, int64(41), got.Custom["age"].Int)
	require.Equal(t, "1234.50", got.Custom["balance"].Str)
	require.True(t, got.Custom["joined"].Date.Equal(joined))
	require.True(t, got.Custom["active"].Bool)
}

func ptr(t time.Time) *time.Time { return &t }
