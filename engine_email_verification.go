package lockguard

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// IssueEmailVerification returns a copy of record carrying a fresh 40-char
// verification token, an expiry of now plus email_verification_expiration_hours,
// and EmailVerified reset to false. Any previous token is overwritten.
// Nothing is persisted, so the result can feed CreateAccount or a Save.
func (e *Engine) IssueEmailVerification(ctx context.Context, record *UserRecord) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !e.config.Security.EmailVerification {
		return nil, ErrEmailVerificationDisabled
	}
	if record == nil {
		return nil, e.messageErr(ErrUserNotFound, e.config.ErrMsg.UsernameNotFound)
	}

	token, err := e.tokens()
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	out := record.Clone()
	applyVerificationToken(out, token, e.clock().Add(e.config.Security.EmailVerificationTTL()))
	e.metricInc(MetricEmailVerificationIssued)
	return out, nil
}

func applyVerificationToken(r *UserRecord, token string, expires time.Time) {
	r.EmailVerificationToken = token
	r.EmailVerificationExpiresAt = timePtr(expires)
	r.EmailVerified = false
}

// EmailVerificationExpired reports whether record's verification token is at
// or past its expiry. A record without a recorded expiry counts as expired.
func (e *Engine) EmailVerificationExpired(record *UserRecord) bool {
	if record == nil || record.EmailVerificationExpiresAt == nil {
		return true
	}
	return !e.clock().Before(*record.EmailVerificationExpiresAt)
}

// FindByVerificationToken loads the record holding token. An empty or unknown
// token yields a *MessageError wrapping ErrTokenNotFound.
func (e *Engine) FindByVerificationToken(ctx context.Context, token string) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.findByToken(ctx, FieldEmailVerificationToken, token)
}

func (e *Engine) findByToken(ctx context.Context, field Field, token string) (*UserRecord, error) {
	if token == "" {
		e.metricInc(MetricTokenNotFound)
		return nil, e.messageErr(ErrTokenNotFound, e.config.ErrMsg.TokenNotFound)
	}
	rec, err := e.find(ctx, field, token)
	if errors.Is(err, ErrRecordNotFound) {
		e.metricInc(MetricTokenNotFound)
		return nil, e.messageErr(ErrTokenNotFound, e.config.ErrMsg.TokenNotFound)
	}
	return rec, err
}

// VerifyEmailAddress marks the address verified and clears the token and its
// expiry, so the token cannot validate again.
func (e *Engine) VerifyEmailAddress(ctx context.Context, record *UserRecord) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.verifyEmail(ctx, record, "")
}

// verifyEmail writes the verified state. A non-empty presented token must
// still be the stored one when the write lands; a token rotated by a resend
// or consumed by another confirmation no longer verifies.
func (e *Engine) verifyEmail(ctx context.Context, record *UserRecord, presented string) (*UserRecord, error) {
	saved, err := e.mutate(ctx, "verify_email", record, func(r *UserRecord) (bool, error) {
		if presented != "" && r.EmailVerificationToken != presented {
			return false, e.messageErr(ErrTokenNotFound, e.config.ErrMsg.TokenNotFound)
		}
		r.EmailVerified = true
		r.EmailVerificationToken = ""
		r.EmailVerificationExpiresAt = nil
		return true, nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, record, err, nil)
		return nil, err
	}
	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, saved, nil, nil)
	return saved, nil
}

// ConfirmEmailVerification consumes a verification token. An expired token is
// replaced by a fresh one, which is persisted, and the call returns the updated
// record together with a *MessageError wrapping ErrTokenExpired so the caller
// can send the new token.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, token string) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !e.config.Security.EmailVerification {
		return nil, ErrEmailVerificationDisabled
	}

	rec, err := e.FindByVerificationToken(ctx, token)
	if err != nil {
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, nil, err, nil)
		return nil, err
	}

	if e.EmailVerificationExpired(rec) {
		e.metricInc(MetricEmailVerificationExpired)
		reissued, rerr := e.reissueVerification(ctx, rec, token)
		if rerr != nil {
			return nil, rerr
		}
		expErr := e.messageErr(ErrTokenExpired, e.config.ErrMsg.TokenExpired)
		e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, reissued, expErr, nil)
		return reissued, expErr
	}

	return e.verifyEmail(ctx, rec, token)
}

// reissueVerification replaces presented with a new token. If the stored token
// changed meanwhile, presented is treated as consumed.
func (e *Engine) reissueVerification(ctx context.Context, rec *UserRecord, presented string) (*UserRecord, error) {
	token, err := e.tokens()
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}
	expires := e.clock().Add(e.config.Security.EmailVerificationTTL())

	saved, err := e.mutate(ctx, "reissue_email_verification", rec, func(r *UserRecord) (bool, error) {
		if r.EmailVerificationToken != presented {
			return false, e.messageErr(ErrTokenNotFound, e.config.ErrMsg.TokenNotFound)
		}
		applyVerificationToken(r, token, expires)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricEmailVerificationIssued)
	return saved, nil
}

// ResendEmailVerification issues and persists a new token for the account
// whose email address (or username) is identifier. An account that is already
// verified is returned as stored and nothing is written.
func (e *Engine) ResendEmailVerification(ctx context.Context, identifier string) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !e.config.Security.EmailVerification {
		return nil, ErrEmailVerificationDisabled
	}

	rec, err := e.findByIdentifier(ctx, identifier)
	if err != nil {
		e.emitAudit(ctx, auditEventEmailVerificationRequest, false, nil, err, nil)
		return nil, err
	}

	if rec.EmailVerified {
		e.emitAudit(ctx, auditEventEmailVerificationRequest, true, rec, nil, alreadyVerified)
		return rec, nil
	}

	issued, err := e.IssueEmailVerification(ctx, rec)
	if err != nil {
		return nil, err
	}
	noop := false
	saved, err := e.mutate(ctx, "resend_email_verification", rec, func(r *UserRecord) (bool, error) {
		// verified by a concurrent confirmation
		noop = r.EmailVerified
		if noop {
			return false, nil
		}
		applyVerificationToken(r, issued.EmailVerificationToken, *issued.EmailVerificationExpiresAt)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if noop {
		e.emitAudit(ctx, auditEventEmailVerificationRequest, true, saved, nil, alreadyVerified)
		return saved, nil
	}
	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, saved, nil, nil)
	return saved, nil
}

func alreadyVerified() map[string]string {
	return map[string]string{"noop": "already_verified"}
}

// findByIdentifier tries the email attribute first, then the username.
func (e *Engine) findByIdentifier(ctx context.Context, identifier string) (*UserRecord, error) {
	if identifier == "" {
		return nil, e.messageErr(ErrUserNotFound, e.config.ErrMsg.UsernameNotFound)
	}
	rec, err := e.find(ctx, FieldEmailAddress, identifier)
	if errors.Is(err, ErrRecordNotFound) && !e.config.User.EmailAliasesUsername() {
		rec, err = e.find(ctx, FieldUsername, identifier)
	}
	if errors.Is(err, ErrRecordNotFound) {
		return nil, e.messageErr(ErrUserNotFound, e.config.ErrMsg.UsernameNotFound)
	}
	return rec, err
}
