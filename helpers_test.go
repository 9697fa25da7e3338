package lockguard

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"
)

// fakeStore is a minimal versioned Store. Hooks run under no lock and may
// call back into the store.
type fakeStore struct {
	mu     sync.Mutex
	recs   map[string]*UserRecord
	nextID int
	saves  int

	findErr error
	saveErr error
	// beforeSave runs ahead of every Save; returning an error fails the call.
	beforeSave func(attempt int, r *UserRecord) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: make(map[string]*UserRecord)}
}

func fieldValue(r *UserRecord, f Field) string {
	switch f {
	case FieldID:
		return r.ID
	case FieldUsername:
		return r.Username
	case FieldEmailAddress:
		return r.EmailAddress
	case FieldEmailVerificationToken:
		return r.EmailVerificationToken
	case FieldPasswordResetToken:
		return r.PasswordResetToken
	}
	return ""
}

func (s *fakeStore) FindOne(_ context.Context, field Field, value string) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	if value == "" {
		return nil, ErrRecordNotFound
	}
	for _, r := range s.recs {
		if NormalizeLookup(field, fieldValue(r, field)) == value {
			return r.Clone(), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (s *fakeStore) Create(_ context.Context, record *UserRecord) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs {
		if r.Username == record.Username || (record.EmailAddress != "" && r.EmailAddress == record.EmailAddress) {
			return nil, ErrDuplicateRecord
		}
	}
	s.nextID++
	rec := record.Clone()
	rec.ID = "user-" + strconv.Itoa(s.nextID)
	rec.Version = 1
	s.recs[rec.ID] = rec
	return rec.Clone(), nil
}

func (s *fakeStore) Save(_ context.Context, record *UserRecord) (*UserRecord, error) {
	s.mu.Lock()
	s.saves++
	attempt := s.saves
	hook := s.beforeSave
	s.mu.Unlock()

	if hook != nil {
		if err := hook(attempt, record); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	old, ok := s.recs[record.ID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if old.Version != record.Version {
		return nil, ErrVersionConflict
	}
	rec := record.Clone()
	rec.Version++
	s.recs[rec.ID] = rec
	return rec.Clone(), nil
}

func (s *fakeStore) Delete(_ context.Context, record *UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[record.ID]; !ok {
		return ErrRecordNotFound
	}
	delete(s.recs, record.ID)
	return nil
}

// put stores r as-is, bypassing the engine, and returns the stored copy.
func (s *fakeStore) put(r *UserRecord) *UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := r.Clone()
	if rec.ID == "" {
		s.nextID++
		rec.ID = "user-" + strconv.Itoa(s.nextID)
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	s.recs[rec.ID] = rec
	return rec.Clone()
}

func (s *fakeStore) get(t *testing.T, id string) *UserRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok {
		t.Fatalf("record %s not stored", id)
	}
	return r.Clone()
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// sequentialTokens yields 40-character tokens "…0001", "…0002", …
func sequentialTokens() TokenGenerator {
	var (
		mu sync.Mutex
		n  int
	)
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%040d", n), nil
	}
}

type testEnv struct {
	engine *Engine
	store  *fakeStore
	clock  *testClock
}

// newTestEnv builds an engine with plaintext passwords, max 3 attempts, a 30
// minute lock and a 5 minute attempt window. mutate adjusts the config.
func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Security.HashPassword = false
	cfg.Security.MaxFailedLoginAttempts = 3
	cfg.Security.LockAccountForMinutes = 30
	cfg.Security.ResetAttemptsAfterMinutes = 5
	cfg.Metrics.Enabled = true
	for _, m := range mutate {
		m(&cfg)
	}

	env := &testEnv{store: newFakeStore(), clock: newTestClock()}
	engine, err := New().
		WithConfig(cfg).
		WithStore(env.store).
		WithClock(env.clock.Now).
		WithTokenGenerator(sequentialTokens()).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

// seed stores an unlocked account whose stored hash is the plaintext password.
func (env *testEnv) seed(username, password string) *UserRecord {
	return env.store.put(BuildAccountSecurity(&UserRecord{
		Username:     username,
		EmailAddress: username,
		PasswordHash: password,
	}))
}

func (env *testEnv) metric(id MetricID) uint64 {
	return env.engine.MetricsSnapshot().Counters[id]
}
