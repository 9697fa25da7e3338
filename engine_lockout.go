package lockguard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/lockguard/password"
)

// BuildAccountSecurity returns a copy of record with the lockout fields at
// their signup defaults: unlocked, no lock expiry, zero failed attempts and no
// recorded failure. Nothing is persisted.
func BuildAccountSecurity(record *UserRecord) *UserRecord {
	out := record.Clone()
	if out == nil {
		out = &UserRecord{}
	}
	out.AccountLocked = false
	out.AccountLockedUntil = nil
	out.FailedAttempts = 0
	out.LastFailedAttemptAt = nil
	return out
}

// BuildAccountSecurity is the package function of the same name; it exists so
// callers holding only an Engine need not import the helper separately.
func (e *Engine) BuildAccountSecurity(record *UserRecord) *UserRecord {
	return BuildAccountSecurity(record)
}

// CheckCredentials rejects a login candidate missing either part.
func (e *Engine) CheckCredentials(creds Credentials) error {
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		return e.messageErr(ErrMissingCredentials, e.config.ErrMsg.UsernameAndPasswordNeeded)
	}
	return nil
}

// Authenticate runs the full login decision for creds:
//
//  1. reject missing credentials
//  2. load the record by username
//  3. refuse a locked account, lifting an expired lock first
//  4. forgive failed attempts older than the reset window
//  5. verify the password, counting and possibly locking on mismatch
//  6. clear the failed-attempt counter on success
//  7. re-hash the password when the stored hash uses outdated parameters
//
// On success the returned record is the persisted state. Policy errors are
// *PasswordIncorrectError, *AccountLockedError or a *MessageError wrapping
// ErrMissingCredentials, ErrUserNotFound or ErrEmailNotVerified.
func (e *Engine) Authenticate(ctx context.Context, creds Credentials) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() {
			e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
		}()
	}

	if err := e.CheckCredentials(creds); err != nil {
		e.emitAudit(ctx, auditEventLoginFailure, false, nil, err, nil)
		return nil, err
	}

	user, err := e.find(ctx, FieldUsername, creds.Username)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			e.metricInc(MetricLoginUserNotFound)
			err = e.messageErr(ErrUserNotFound, e.config.ErrMsg.UsernameNotFound)
		}
		e.emitAudit(ctx, auditEventLoginFailure, false, nil, err, nil)
		return nil, err
	}

	user, locked, err := e.checkLock(ctx, user)
	if err != nil {
		return nil, err
	}
	if locked {
		e.metricInc(MetricLoginLockedRejected)
		err := e.lockedErr(e.clock(), user.AccountLockedUntil)
		e.emitAudit(ctx, auditEventLoginFailure, false, user, err, nil)
		return nil, err
	}

	user, _, err = e.expireFailedAttempts(ctx, user)
	if err != nil {
		return nil, err
	}

	user, err = e.ComparePassword(ctx, user, creds.Password)
	if err != nil {
		e.emitAudit(ctx, auditEventLoginFailure, false, user, err, func() map[string]string {
			var pie *PasswordIncorrectError
			if errors.As(err, &pie) && pie.Remaining >= 0 {
				return map[string]string{"remaining": strconv.Itoa(pie.Remaining)}
			}
			return nil
		})
		return nil, err
	}

	if user.FailedAttempts != 0 || user.LastFailedAttemptAt != nil {
		user, err = e.ResetFailedLoginAttempts(ctx, user)
		if err != nil {
			return nil, err
		}
	}

	if e.config.Security.RequireVerifiedEmail && !user.EmailVerified {
		err := e.messageErr(ErrEmailNotVerified, e.config.ErrMsg.EmailNotVerified)
		e.emitAudit(ctx, auditEventLoginFailure, false, user, err, nil)
		return nil, err
	}

	user = e.upgradeHash(ctx, user, creds.Password)

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user, nil, nil)
	return user, nil
}

// upgradeHash re-hashes the verified password when the stored hash was made
// with weaker parameters than the hasher now uses. Failures are logged and
// never fail the login.
func (e *Engine) upgradeHash(ctx context.Context, user *UserRecord, plain string) *UserRecord {
	rh, ok := e.hasher.(password.Rehasher)
	if !ok {
		return user
	}
	stale, err := rh.NeedsRehash(user.PasswordHash)
	if err != nil || !stale {
		return user
	}
	upgraded, err := e.hasher.Hash(plain)
	if err != nil {
		e.logger.WarnContext(ctx, "password rehash failed", "user_id", user.ID, "error", err)
		return user
	}

	old := user.PasswordHash
	saved, err := e.mutate(ctx, "rehash_password", user, func(r *UserRecord) (bool, error) {
		// a reset may have replaced the hash since it was verified
		if r.PasswordHash != old {
			return false, nil
		}
		r.PasswordHash = upgraded
		return true, nil
	})
	if err != nil {
		e.logger.WarnContext(ctx, "password rehash not persisted", "user_id", user.ID, "error", err)
		return user
	}
	e.logger.InfoContext(ctx, "password hash upgraded", "user_id", saved.ID)
	return saved
}

// ComparePassword verifies candidate against user's stored hash. A match
// returns user unchanged; resetting the counter is the caller's success path.
// A mismatch with lockout configured is handed to IncrementFailedLogins, and
// otherwise yields *PasswordIncorrectError with Remaining -1.
func (e *Engine) ComparePassword(ctx context.Context, user *UserRecord, candidate string) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if user == nil {
		return nil, e.messageErr(ErrUserNotFound, e.config.ErrMsg.UsernameNotFound)
	}

	ok, err := e.hasher.Verify(candidate, user.PasswordHash)
	if err != nil {
		e.logger.ErrorContext(ctx, "password verification failed", "user_id", user.ID, "error", err)
		return user, fmt.Errorf("%w: %v", ErrHashFailure, err)
	}
	if ok {
		return user, nil
	}

	e.metricInc(MetricLoginFailure)
	if !e.config.Security.LockoutEnabled() {
		return user, e.passwordIncorrectErr(-1)
	}
	return e.IncrementFailedLogins(ctx, user)
}

// IncrementFailedLogins records one failed attempt. Reaching
// max_failed_login_attempts locks the account until now plus
// lock_account_for_minutes (indefinitely when that is 0) and resets the
// counter; the error is then *AccountLockedError. Below the threshold the
// error is *PasswordIncorrectError carrying the attempts left.
//
// The returned record is the persisted state even though err is always
// non-nil. A concurrent lock that is still active when the record is reloaded
// after a version conflict is reported as *AccountLockedError without a
// further increment.
func (e *Engine) IncrementFailedLogins(ctx context.Context, user *UserRecord) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	limit := e.config.Security.MaxFailedLoginAttempts
	if limit <= 0 {
		return user, e.passwordIncorrectErr(-1)
	}

	now := e.clock()
	lockFor := e.config.Security.LockDuration()

	saved, err := e.mutate(ctx, "increment_failed_logins", user, func(r *UserRecord) (bool, error) {
		if r.AccountLocked && (r.AccountLockedUntil == nil || now.Before(*r.AccountLockedUntil)) {
			return false, e.lockedErr(now, r.AccountLockedUntil)
		}
		count := r.FailedAttempts + 1
		r.LastFailedAttemptAt = timePtr(now)
		if count >= limit {
			r.AccountLocked = true
			r.AccountLockedUntil = nil
			if lockFor > 0 {
				r.AccountLockedUntil = timePtr(now.Add(lockFor))
			}
			r.FailedAttempts = 0
			return true, nil
		}
		r.AccountLocked = false
		r.AccountLockedUntil = nil
		r.FailedAttempts = count
		return true, nil
	})
	if err != nil {
		return saved, err
	}

	if saved.AccountLocked {
		e.metricInc(MetricAccountLocked)
		e.logger.InfoContext(ctx, "account locked after failed logins",
			"user_id", saved.ID, "until", saved.AccountLockedUntil)
		lockErr := e.lockedErr(now, saved.AccountLockedUntil)
		e.emitAudit(ctx, auditEventAccountLocked, true, saved, nil, func() map[string]string {
			if saved.AccountLockedUntil == nil {
				return map[string]string{"until": "manual"}
			}
			return map[string]string{"until": saved.AccountLockedUntil.UTC().Format(time.RFC3339)}
		})
		return saved, lockErr
	}
	return saved, e.passwordIncorrectErr(limit - saved.FailedAttempts)
}

// IsAccountLocked reports whether user is locked now. A lock whose expiry has
// passed is lifted and persisted before returning false; until is nil for
// unlocked accounts and for locks that only lift manually.
func (e *Engine) IsAccountLocked(ctx context.Context, user *UserRecord) (bool, *time.Time, error) {
	if err := e.ready(); err != nil {
		return false, nil, err
	}
	rec, locked, err := e.checkLock(ctx, user)
	if err != nil || !locked {
		return false, nil, err
	}
	return true, cloneTime(rec.AccountLockedUntil), nil
}

func (e *Engine) checkLock(ctx context.Context, user *UserRecord) (*UserRecord, bool, error) {
	if user == nil {
		return nil, false, e.messageErr(ErrUserNotFound, e.config.ErrMsg.UsernameNotFound)
	}
	until := user.AccountLockedUntil
	if !user.AccountLocked && until == nil {
		return user, false, nil
	}
	if user.AccountLocked && until == nil {
		return user, true, nil
	}
	if e.clock().Before(*until) {
		return user, user.AccountLocked, nil
	}

	now := e.clock()
	stillLocked := false
	lifted := false
	rec, err := e.mutate(ctx, "expire_lock", user, func(r *UserRecord) (bool, error) {
		lifted = false
		// the lock may have been renewed since the record was read
		stillLocked = r.AccountLocked && (r.AccountLockedUntil == nil || now.Before(*r.AccountLockedUntil))
		if stillLocked || (!r.AccountLocked && r.AccountLockedUntil == nil) {
			return false, nil
		}
		// a stale expiry on an unlocked record is dropped without touching
		// the counter of failures made since
		if r.AccountLocked {
			lifted = true
			r.FailedAttempts = 0
		}
		r.AccountLocked = false
		r.AccountLockedUntil = nil
		return true, nil
	})
	if err != nil {
		return nil, false, err
	}
	if lifted {
		e.metricInc(MetricAccountUnlocked)
		e.logger.InfoContext(ctx, "lock expired", "user_id", rec.ID)
		e.emitAudit(ctx, auditEventAccountUnlocked, true, rec, nil, func() map[string]string {
			return map[string]string{"source": "expiry"}
		})
	}
	return rec, stillLocked, nil
}

// FailedAttemptsExpired reports whether the last failed attempt is older than
// reset_attempts_after_minutes, strictly. When it is the counter is reset and
// persisted. A zero window or no recorded failure always reports false.
func (e *Engine) FailedAttemptsExpired(ctx context.Context, user *UserRecord) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	_, expired, err := e.expireFailedAttempts(ctx, user)
	return expired, err
}

func (e *Engine) expireFailedAttempts(ctx context.Context, user *UserRecord) (*UserRecord, bool, error) {
	if user == nil {
		return nil, false, e.messageErr(ErrUserNotFound, e.config.ErrMsg.UsernameNotFound)
	}
	window := e.config.Security.AttemptWindow()
	if window <= 0 || user.LastFailedAttemptAt == nil {
		return user, false, nil
	}
	now := e.clock()
	if !now.After(user.LastFailedAttemptAt.Add(window)) {
		return user, false, nil
	}

	applied := false
	saved, err := e.mutate(ctx, "expire_failed_attempts", user, func(r *UserRecord) (bool, error) {
		applied = false
		// a newer failure may have landed since the record was read
		if r.LastFailedAttemptAt == nil || !now.After(r.LastFailedAttemptAt.Add(window)) {
			return false, nil
		}
		r.FailedAttempts = 0
		r.LastFailedAttemptAt = nil
		applied = true
		return true, nil
	})
	if err != nil {
		return nil, false, err
	}
	if !applied {
		return saved, false, nil
	}

	e.metricInc(MetricFailedAttemptsExpired)
	e.emitAudit(ctx, auditEventFailedAttemptsExpired, true, saved, nil, nil)
	return saved, true, nil
}

// ResetFailedLoginAttempts zeroes the counter and forgets the last failure.
// It is idempotent and writes nothing when there is nothing to clear.
func (e *Engine) ResetFailedLoginAttempts(ctx context.Context, user *UserRecord) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.mutate(ctx, "reset_failed_logins", user, func(r *UserRecord) (bool, error) {
		if r.FailedAttempts == 0 && r.LastFailedAttemptAt == nil {
			return false, nil
		}
		r.FailedAttempts = 0
		r.LastFailedAttemptAt = nil
		return true, nil
	})
}

// UnlockUserAccount clears the lock, its expiry and the failed-attempt
// counter. Unlocking an unlocked account writes nothing.
func (e *Engine) UnlockUserAccount(ctx context.Context, user *UserRecord) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	wasLocked := false
	saved, err := e.mutate(ctx, "unlock_account", user, func(r *UserRecord) (bool, error) {
		wasLocked = r.AccountLocked
		if !r.AccountLocked && r.AccountLockedUntil == nil && r.FailedAttempts == 0 {
			return false, nil
		}
		r.AccountLocked = false
		r.AccountLockedUntil = nil
		r.FailedAttempts = 0
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if wasLocked {
		e.metricInc(MetricAccountUnlocked)
		e.logger.InfoContext(ctx, "account unlocked", "user_id", saved.ID)
		e.emitAudit(ctx, auditEventAccountUnlocked, true, saved, nil, nil)
	}
	return saved, nil
}

// LockAccount locks user until the given time, or until UnlockUserAccount
// when until is nil. The failed-attempt counter is reset as on an automatic lock.
func (e *Engine) LockAccount(ctx context.Context, user *UserRecord, until *time.Time) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	saved, err := e.mutate(ctx, "lock_account", user, func(r *UserRecord) (bool, error) {
		r.AccountLocked = true
		r.AccountLockedUntil = cloneTime(until)
		r.FailedAttempts = 0
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricAccountLocked)
	e.logger.InfoContext(ctx, "account locked by administrator", "user_id", saved.ID, "until", until)
	e.emitAudit(ctx, auditEventAccountLocked, true, saved, nil, func() map[string]string {
		return map[string]string{"source": "admin"}
	})
	return saved, nil
}
