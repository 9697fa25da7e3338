package lockguard

import (
	"context"
	"errors"

	internalaudit "github.com/MrEthical07/lockguard/internal/audit"
)

const (
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventAccountLocked            = "account_locked"
	auditEventAccountUnlocked          = "account_unlocked"
	auditEventFailedAttemptsExpired    = "failed_attempts_expired"
	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerificationConfirm = "email_verification_confirm"
	auditEventPasswordResetRequest     = "password_reset_request"
	auditEventPasswordResetConfirm     = "password_reset_confirm"
	auditEventAccountCreated           = "account_created"
	auditEventAccountCreationFailure   = "account_creation_failure"
	auditEventAccountDeleted           = "account_deleted"
)

// AuditErrorCode is the stable, message-free classification written to
// [AuditEvent.Error]. Configured user-facing messages never reach the audit log.
type AuditErrorCode string

const (
	auditErrMissingCredentials AuditErrorCode = "missing_credentials"
	auditErrPasswordIncorrect  AuditErrorCode = "password_incorrect"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrTokenNotFound      AuditErrorCode = "token_not_found"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrEmailNotVerified   AuditErrorCode = "email_not_verified"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrStore              AuditErrorCode = "store_failure"
	auditErrHash               AuditErrorCode = "hash_failure"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	rec *UserRecord,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	ts := e.clock().UTC()
	event := AuditEvent{
		ID:        internalaudit.NewEventID(ts),
		Timestamp: ts,
		EventType: eventType,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if rec != nil {
		event.UserID = rec.ID
		event.Username = rec.Username
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrMissingCredentials):
		return auditErrMissingCredentials
	case errors.Is(err, ErrPasswordIncorrect):
		return auditErrPasswordIncorrect
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrTokenNotFound):
		return auditErrTokenNotFound
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrEmailNotVerified):
		return auditErrEmailNotVerified
	case errors.Is(err, ErrValueTaken), errors.Is(err, ErrDuplicateRecord):
		return auditErrDuplicate
	case errors.Is(err, ErrStoreFailure):
		return auditErrStore
	case errors.Is(err, ErrHashFailure):
		return auditErrHash
	default:
		return auditErrInternal
	}
}
