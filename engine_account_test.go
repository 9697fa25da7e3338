package lockguard

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateAccount(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Security.HashPassword = true; c.Security.HashSaltFactor = 4 })
	ctx := context.Background()

	rec, err := env.engine.CreateAccount(ctx, SignupRequest{Username: "  Alice@Example.com ", Password: "pw"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if rec.ID == "" || rec.Version != 1 {
		t.Fatalf("store did not assign identity: %+v", rec)
	}
	if rec.Username != "alice@example.com" || rec.EmailAddress != "alice@example.com" {
		t.Fatalf("username/email not normalized: %+v", rec)
	}
	if rec.PasswordHash == "pw" || rec.PasswordHash == "" {
		t.Fatal("password stored unhashed")
	}
	if rec.AccountLocked || rec.FailedAttempts != 0 || rec.EmailVerified || rec.EmailVerificationToken == "" {
		t.Fatalf("security fields not seeded: %+v", rec)
	}

	if _, err := env.engine.Authenticate(ctx, Credentials{Username: "ALICE@example.com", Password: "pw"}); err != nil {
		t.Fatalf("login after signup: %v", err)
	}
}

func TestCreateAccountRejectsTakenValues(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.User.EmailAddress = "email" })
	ctx := context.Background()
	if _, err := env.engine.CreateAccount(ctx, SignupRequest{Username: "bob", Password: "pw", EmailAddress: "bob@example.com"}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	for _, req := range []SignupRequest{
		{Username: "BOB", Password: "pw", EmailAddress: "other@example.com"},
		{Username: "robert", Password: "pw", EmailAddress: "Bob@Example.com"},
	} {
		_, err := env.engine.CreateAccount(ctx, req)
		if !errors.Is(err, ErrValueTaken) {
			t.Fatalf("%+v: want ErrValueTaken, got %v", req, err)
		}
		if err.Error() != "This username is taken. Please choose another." {
			t.Fatalf("message %q", err.Error())
		}
	}
	if env.metric(MetricAccountCreationDuplicate) != 2 {
		t.Fatalf("duplicate metric = %d", env.metric(MetricAccountCreationDuplicate))
	}
}

func TestCreateAccountLostRace(t *testing.T) {
	env := newTestEnv(t)
	store := &racingStore{fakeStore: env.store}
	engine, err := New().WithConfig(env.engine.Config()).WithStore(store).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	_, err = engine.CreateAccount(context.Background(), SignupRequest{Username: "a", Password: "pw"})
	if !errors.Is(err, ErrValueTaken) {
		t.Fatalf("want ErrValueTaken, got %v", err)
	}
}

// racingStore reports a duplicate on Create as if a concurrent signup won.
type racingStore struct {
	*fakeStore
}

func (s *racingStore) Create(context.Context, *UserRecord) (*UserRecord, error) {
	return nil, ErrDuplicateRecord
}

func TestCreateAccountValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.CreateAccount(ctx, SignupRequest{Username: "a"}); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("missing password: %v", err)
	}
	if _, err := env.engine.CreateAccount(ctx, SignupRequest{Username: "a", Password: "pw", Custom: map[string]any{"nope": 1}}); err == nil {
		t.Fatal("undeclared custom field accepted")
	}
}

func TestCreateAccountCustomFields(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Custom = map[string]CustomFieldConfig{
			"age":     {Type: "integer"},
			"joined":  {Type: "date"},
			"balance": {Type: "decimal"},
			"vip":     {Type: "boolean"},
			"bio":     {Type: "mystery"},
		}
	})
	rec, err := env.engine.CreateAccount(context.Background(), SignupRequest{
		Username: "a",
		Password: "pw",
		Custom: map[string]any{
			"age":     "42",
			"joined":  "2024-02-29",
			"balance": "10.50",
			"vip":     true,
			"bio":     7,
		},
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	c := rec.Custom
	if c["age"].Type != FieldInteger || c["age"].Int != 42 {
		t.Fatalf("age %+v", c["age"])
	}
	if !c["joined"].Date.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("joined %+v", c["joined"])
	}
	if c["balance"].Str != "10.50" || !c["vip"].Bool {
		t.Fatalf("balance/vip %+v %+v", c["balance"], c["vip"])
	}
	// unknown tags fall back to string
	if c["bio"].Type != FieldString || c["bio"].Str != "7" {
		t.Fatalf("bio %+v", c["bio"])
	}

	_, err = env.engine.CreateAccount(context.Background(), SignupRequest{
		Username: "b", Password: "pw", Custom: map[string]any{"age": "forty"},
	})
	if err == nil {
		t.Fatal("invalid integer accepted")
	}
}

func TestIsValueTaken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed("alice", "pw")

	for value, want := range map[string]bool{"alice": true, "ALICE": true, "bob": false, "  ": false} {
		got, err := env.engine.IsValueTaken(ctx, FieldUsername, value)
		if err != nil || got != want {
			t.Fatalf("IsValueTaken(%q) = %v, %v", value, got, err)
		}
	}

	env.store.findErr = errors.New("down")
	if _, err := env.engine.IsValueTaken(ctx, FieldUsername, "alice"); !errors.Is(err, ErrStoreFailure) {
		t.Fatalf("store failure: %v", err)
	}
}

func TestFindUserAndDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seeded := env.seed("alice", "pw")

	rec, err := env.engine.FindUser(ctx, FieldID, seeded.ID)
	if err != nil || rec.Username != "alice" {
		t.Fatalf("FindUser: %+v %v", rec, err)
	}
	if err := env.engine.DeleteAccount(ctx, rec); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if _, err := env.engine.FindUser(ctx, FieldUsername, "alice"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("deleted user still found: %v", err)
	}
	if err := env.engine.DeleteAccount(ctx, rec); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if err := env.engine.DeleteAccount(ctx, nil); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("nil record: %v", err)
	}
}
