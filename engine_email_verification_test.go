package lockguard

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"
)

func TestIssueEmailVerificationShape(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Security.HashPassword = false
	clock := newTestClock()
	engine, err := New().WithConfig(cfg).WithStore(newFakeStore()).WithClock(clock.Now).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	hex40 := regexp.MustCompile(`^[0-9a-f]{40}$`)

	in := &UserRecord{Username: "a", EmailVerified: true}
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		out, err := engine.IssueEmailVerification(context.Background(), in)
		if err != nil {
			t.Fatalf("IssueEmailVerification: %v", err)
		}
		if !hex40.MatchString(out.EmailVerificationToken) {
			t.Fatalf("token %q is not 40 hex chars", out.EmailVerificationToken)
		}
		if seen[out.EmailVerificationToken] {
			t.Fatal("token repeated")
		}
		seen[out.EmailVerificationToken] = true
		if out.EmailVerified {
			t.Fatal("issuing a token must clear email_verified")
		}
		want := clock.Now().Add(12 * time.Hour)
		if out.EmailVerificationExpiresAt == nil || !out.EmailVerificationExpiresAt.Equal(want) {
			t.Fatalf("expiry %v, want %v", out.EmailVerificationExpiresAt, want)
		}
		if engine.EmailVerificationExpired(out) {
			t.Fatal("fresh token reported expired")
		}
	}
	if !in.EmailVerified || in.EmailVerificationToken != "" {
		t.Fatal("input record was mutated")
	}
}

func TestIssueEmailVerificationDoesNotPersist(t *testing.T) {
	env := newTestEnv(t)
	rec := env.seed("a", "pw")
	if _, err := env.engine.IssueEmailVerification(context.Background(), rec); err != nil {
		t.Fatalf("IssueEmailVerification: %v", err)
	}
	if env.store.saveCount() != 0 {
		t.Fatal("issue must not write")
	}
}

func TestEmailVerificationExpired(t *testing.T) {
	env := newTestEnv(t)
	now := env.clock.Now()
	past, future := now.Add(-time.Second), now.Add(time.Second)

	cases := []struct {
		name string
		exp  *time.Time
		want bool
	}{
		{"no expiry", nil, true},
		{"past", &past, true},
		{"exactly now", &now, true},
		{"future", &future, false},
	}
	for _, tc := range cases {
		if got := env.engine.EmailVerificationExpired(&UserRecord{EmailVerificationExpiresAt: tc.exp}); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
	if !env.engine.EmailVerificationExpired(nil) {
		t.Fatal("nil record should count as expired")
	}
}

func TestEmailVerificationDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Security.EmailVerification = false })
	ctx := context.Background()
	rec := env.seed("a", "pw")

	if _, err := env.engine.IssueEmailVerification(ctx, rec); !errors.Is(err, ErrEmailVerificationDisabled) {
		t.Fatalf("issue: %v", err)
	}
	if _, err := env.engine.ConfirmEmailVerification(ctx, "x"); !errors.Is(err, ErrEmailVerificationDisabled) {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := env.engine.ResendEmailVerification(ctx, "a"); !errors.Is(err, ErrEmailVerificationDisabled) {
		t.Fatalf("resend: %v", err)
	}
}

func TestFindByVerificationToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.seed("a", "pw")
	rec.EmailVerificationToken = "Tok-Case"
	env.store.put(rec)

	got, err := env.engine.FindByVerificationToken(ctx, "Tok-Case")
	if err != nil || got.ID != rec.ID {
		t.Fatalf("FindByVerificationToken: %v %v", got, err)
	}
	for _, tok := range []string{"", "tok-case", "missing"} {
		_, err := env.engine.FindByVerificationToken(ctx, tok)
		if !errors.Is(err, ErrTokenNotFound) {
			t.Fatalf("%q: want ErrTokenNotFound, got %v", tok, err)
		}
		if err.Error() != "This token does not exist. Please try again." {
			t.Fatalf("message %q", err.Error())
		}
	}
}

func TestVerifyEmailAddressClearsToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issued, err := env.engine.IssueEmailVerification(ctx, env.seed("a", "pw"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	issued = env.store.put(issued)

	verified, err := env.engine.VerifyEmailAddress(ctx, issued)
	if err != nil {
		t.Fatalf("VerifyEmailAddress: %v", err)
	}
	if !verified.EmailVerified || verified.EmailVerificationToken != "" || verified.EmailVerificationExpiresAt != nil {
		t.Fatalf("record %+v", verified)
	}
	if _, err := env.engine.FindByVerificationToken(ctx, issued.EmailVerificationToken); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("consumed token still resolves: %v", err)
	}
}

func TestConfirmEmailVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.engine.CreateAccount(ctx, SignupRequest{Username: "a@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if created.EmailVerificationToken == "" {
		t.Fatal("signup should attach a verification token")
	}

	got, err := env.engine.ConfirmEmailVerification(ctx, created.EmailVerificationToken)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !got.EmailVerified {
		t.Fatal("email not marked verified")
	}

	// single use
	if _, err := env.engine.ConfirmEmailVerification(ctx, created.EmailVerificationToken); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("reuse: %v", err)
	}
	if env.metric(MetricEmailVerificationSuccess) != 1 {
		t.Fatalf("success metric = %d", env.metric(MetricEmailVerificationSuccess))
	}
}

func TestConfirmExpiredEmailVerificationReissues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.engine.CreateAccount(ctx, SignupRequest{Username: "a@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	old := created.EmailVerificationToken

	env.clock.Advance(13 * time.Hour)
	got, err := env.engine.ConfirmEmailVerification(ctx, old)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("want ErrTokenExpired, got %v", err)
	}
	if err.Error() != "This token has expired. A new one has been generated." {
		t.Fatalf("message %q", err.Error())
	}
	if got == nil || got.EmailVerificationToken == "" || got.EmailVerificationToken == old {
		t.Fatalf("expected a fresh token, got %+v", got)
	}
	if got.EmailVerified || env.engine.EmailVerificationExpired(got) {
		t.Fatalf("reissued token state %+v", got)
	}

	if _, err := env.engine.ConfirmEmailVerification(ctx, old); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("old token should be gone: %v", err)
	}
	if _, err := env.engine.ConfirmEmailVerification(ctx, got.EmailVerificationToken); err != nil {
		t.Fatalf("new token: %v", err)
	}
}

func TestResendEmailVerification(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.User.EmailAddress = "email"
		c.Security.RequireVerifiedEmail = true
	})
	ctx := context.Background()
	created, err := env.engine.CreateAccount(ctx, SignupRequest{Username: "bob", Password: "pw", EmailAddress: "Bob@Example.com"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	byEmail, err := env.engine.ResendEmailVerification(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("resend by email: %v", err)
	}
	if byEmail.EmailVerificationToken == created.EmailVerificationToken {
		t.Fatal("resend should rotate the token")
	}
	byName, err := env.engine.ResendEmailVerification(ctx, "BOB")
	if err != nil {
		t.Fatalf("resend by username: %v", err)
	}
	if _, err := env.engine.ResendEmailVerification(ctx, "nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown identifier: %v", err)
	}

	if _, err := env.engine.ConfirmEmailVerification(ctx, byName.EmailVerificationToken); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, Credentials{Username: "bob", Password: "pw"}); err != nil {
		t.Fatalf("login after confirm: %v", err)
	}

	// resending to a verified account changes nothing
	saves := env.store.saveCount()
	again, err := env.engine.ResendEmailVerification(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("resend after confirm: %v", err)
	}
	if !again.EmailVerified || again.EmailVerificationToken != "" {
		t.Fatalf("resend returned %+v", again)
	}
	if env.store.saveCount() != saves {
		t.Fatal("resend to a verified account must not write")
	}
	if stored := env.store.get(t, created.ID); !stored.EmailVerified {
		t.Fatal("resend un-verified the account")
	}
	if _, err := env.engine.Authenticate(ctx, Credentials{Username: "bob", Password: "pw"}); err != nil {
		t.Fatalf("login after resend: %v", err)
	}
}

func TestConfirmEmailVerificationRotatedConcurrently(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issued, err := env.engine.IssueEmailVerification(ctx, env.seed("a", "pw"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	issued = env.store.put(issued)
	presented := issued.EmailVerificationToken

	// a resend rotates the token between our lookup and our write
	env.store.beforeSave = func(attempt int, _ *UserRecord) error {
		if attempt == 1 {
			other := env.store.get(t, issued.ID)
			other.EmailVerificationToken = "NEWTOKEN"
			other.Version++
			env.store.put(other)
		}
		return nil
	}
	if _, err := env.engine.ConfirmEmailVerification(ctx, presented); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("want ErrTokenNotFound, got %v", err)
	}
	stored := env.store.get(t, issued.ID)
	if stored.EmailVerified || stored.EmailVerificationToken != "NEWTOKEN" {
		t.Fatalf("superseded token verified the account: %+v", stored)
	}
	if env.metric(MetricEmailVerificationSuccess) != 0 {
		t.Fatalf("success metric = %d", env.metric(MetricEmailVerificationSuccess))
	}
}
