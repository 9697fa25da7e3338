package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrEthical07/lockguard"
	"github.com/MrEthical07/lockguard/store/storetest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "test"), mr
}

func TestStoreBehavior(t *testing.T) {
	storetest.Run(t, storetest.Options{
		New: func(t *testing.T) lockguard.Store {
			s, _ := newTestStore(t)
			return s
		},
		Custom: true,
	})
}

func TestKeyLayout(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, &lockguard.UserRecord{
		Username:               "Alice",
		EmailAddress:           "alice@example.com",
		EmailVerificationToken: "tok",
	})
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:user:"+rec.ID))
	got, err := mr.Get("test:idx:username:alice")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got)
	got, err = mr.Get("test:idx:email_verification_token:tok")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got)

	// no expiry on any key
	assert.Zero(t, mr.TTL("test:user:"+rec.ID))
	assert.Zero(t, mr.TTL("test:idx:username:alice"))
}

func TestDefaultPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rec, err := New(client, "").Create(context.Background(), &lockguard.UserRecord{Username: "bob"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("lockguard:user:"+rec.ID))
}

func TestTakenOverTokenIndexSurvivesSave(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, &lockguard.UserRecord{Username: "a", PasswordResetToken: "shared"})
	require.NoError(t, err)
	b, err := s.Create(ctx, &lockguard.UserRecord{Username: "b", PasswordResetToken: "shared"})
	require.NoError(t, err)

	// a drops its token; the index now belongs to b and must stay
	a.PasswordResetToken = ""
	_, err = s.Save(ctx, a)
	require.NoError(t, err)

	owner, err := mr.Get("test:idx:password_reset_token:shared")
	require.NoError(t, err)
	assert.Equal(t, b.ID, owner)
}

func TestDanglingIndexIsNotFound(t *testing.T) {
	s, mr := newTestStore(t)
	require.NoError(t, mr.Set("test:idx:username:ghost", "missing-id"))

	_, err := s.FindOne(context.Background(), lockguard.FieldUsername, "ghost")
	assert.ErrorIs(t, err, lockguard.ErrRecordNotFound)
}

func TestCorruptRecord(t *testing.T) {
	s, mr := newTestStore(t)
	require.NoError(t, mr.Set("test:user:x", "{not json"))

	_, err := s.FindOne(context.Background(), lockguard.FieldID, "x")
	require.Error(t, err)
	assert.False(t, errors.Is(err, lockguard.ErrRecordNotFound))
}

func TestUnavailable(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.FindOne(context.Background(), lockguard.FieldUsername, "alice")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestConcurrentSaves(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	created, err := s.Create(ctx, &lockguard.UserRecord{Username: "carol"})
	require.NoError(t, err)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			rec := created.Clone()
			rec.FailedAttempts = 1
			_, err := s.Save(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, lockguard.ErrVersionConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)
}
