package lockguard

import (
	"context"
	"fmt"
)

// IssuePasswordResetToken stores token on record with an expiry of now plus
// password_reset_expiration_minutes and persists it. An empty token is
// replaced by a generated one. A previously issued reset token stops working.
func (e *Engine) IssuePasswordResetToken(ctx context.Context, record *UserRecord, token string) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if token == "" {
		var err error
		if token, err = e.tokens(); err != nil {
			return nil, fmt.Errorf("generate reset token: %w", err)
		}
	}
	expires := e.clock().Add(e.config.Security.PasswordResetTTL())

	saved, err := e.mutate(ctx, "issue_password_reset", record, func(r *UserRecord) (bool, error) {
		r.PasswordResetToken = token
		r.PasswordResetExpiresAt = timePtr(expires)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricPasswordResetIssued)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, saved, nil, nil)
	return saved, nil
}

// ResetTokenExpired reports whether record's reset token is at or past its
// expiry. A record without a recorded expiry counts as expired.
func (e *Engine) ResetTokenExpired(record *UserRecord) bool {
	if record == nil || record.PasswordResetExpiresAt == nil {
		return true
	}
	return !e.clock().Before(*record.PasswordResetExpiresAt)
}

// FindByResetToken loads the record holding token, or a *MessageError
// wrapping ErrTokenNotFound.
func (e *Engine) FindByResetToken(ctx context.Context, token string) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.findByToken(ctx, FieldPasswordResetToken, token)
}

// ResetPassword hashes newPassword into record, clears the reset token fields
// and persists.
//
// Whether the record's token is still valid is the caller's concern unless
// security.enforce_reset_token_validity is set, in which case a record with
// no token fails with ErrTokenNotFound and an expired one with ErrTokenExpired.
func (e *Engine) ResetPassword(ctx context.Context, record *UserRecord, newPassword string) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if record == nil {
		return nil, e.messageErr(ErrUserNotFound, e.config.ErrMsg.UsernameNotFound)
	}
	if newPassword == "" {
		return nil, e.messageErr(ErrMissingCredentials, e.config.ErrMsg.UsernameAndPasswordNeeded)
	}
	if e.config.Security.EnforceResetTokenValidity {
		if err := e.checkResetToken(record); err != nil {
			return nil, err
		}
	}
	return e.resetPassword(ctx, record, newPassword, "", false)
}

func (e *Engine) checkResetToken(record *UserRecord) error {
	if record.PasswordResetToken == "" {
		e.metricInc(MetricTokenNotFound)
		return e.messageErr(ErrTokenNotFound, e.config.ErrMsg.TokenNotFound)
	}
	if e.ResetTokenExpired(record) {
		e.metricInc(MetricPasswordResetExpired)
		return e.messageErr(ErrTokenExpired, e.config.ErrMsg.TokenExpired)
	}
	return nil
}

// resetPassword writes the new hash. When presented is non-empty the write
// only goes through while that token is still the stored one, so a token
// consumed by a concurrent reset does not validate twice. With unlock set the
// same write also lifts any lock and clears the failed-attempt state.
func (e *Engine) resetPassword(ctx context.Context, record *UserRecord, newPassword, presented string, unlock bool) (*UserRecord, error) {
	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHashFailure, err)
	}

	wasLocked := false
	saved, err := e.mutate(ctx, "reset_password", record, func(r *UserRecord) (bool, error) {
		if presented != "" && r.PasswordResetToken != presented {
			return false, e.messageErr(ErrTokenNotFound, e.config.ErrMsg.TokenNotFound)
		}
		r.PasswordHash = hash
		r.PasswordResetToken = ""
		r.PasswordResetExpiresAt = nil
		wasLocked = false
		if unlock {
			wasLocked = r.AccountLocked
			r.AccountLocked = false
			r.AccountLockedUntil = nil
			r.FailedAttempts = 0
			r.LastFailedAttemptAt = nil
		}
		return true, nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, record, err, nil)
		return nil, err
	}
	if wasLocked {
		e.metricInc(MetricAccountUnlocked)
		e.logger.InfoContext(ctx, "account unlocked by password reset", "user_id", saved.ID)
	}
	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, saved, nil, nil)
	return saved, nil
}

// RequestPasswordReset finds the account by email address, falling back to
// username, and issues a generated reset token for it.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	rec, err := e.findByIdentifier(ctx, identifier)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, nil, err, nil)
		return nil, err
	}
	return e.IssuePasswordResetToken(ctx, rec, "")
}

// ConfirmPasswordReset is the token-checked reset: it rejects unknown and
// expired tokens regardless of enforce_reset_token_validity, sets the new
// password, and lifts any lock together with the failed-attempt counter, since
// proving control of the reset channel supersedes the lockout.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if newPassword == "" {
		return nil, e.messageErr(ErrMissingCredentials, e.config.ErrMsg.UsernameAndPasswordNeeded)
	}

	rec, err := e.FindByResetToken(ctx, token)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, nil, err, nil)
		return nil, err
	}
	if err := e.checkResetToken(rec); err != nil {
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, rec, err, nil)
		return nil, err
	}

	return e.resetPassword(ctx, rec, newPassword, token, true)
}
