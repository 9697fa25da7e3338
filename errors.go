package lockguard

import (
	"errors"
	"time"
)

var (
	// ErrMissingCredentials is returned when a username or password is absent.
	ErrMissingCredentials = errors.New("username and password required")
	// ErrPasswordIncorrect is matched by every *PasswordIncorrectError.
	ErrPasswordIncorrect = errors.New("password incorrect")
	// ErrAccountLocked is matched by every *AccountLockedError.
	ErrAccountLocked = errors.New("account locked")
	// ErrUserNotFound is returned when no record matches a username or email.
	ErrUserNotFound = errors.New("user not found")
	// ErrTokenNotFound is returned when no record carries the presented token.
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenExpired is returned when a presented token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrStoreFailure is matched by every *StoreError.
	ErrStoreFailure = errors.New("store failure")
	// ErrValueTaken is returned by account creation when a unique value is in use.
	ErrValueTaken = errors.New("value already taken")
	// ErrEmailVerificationDisabled is returned by verification operations when
	// security.email_verification is off.
	ErrEmailVerificationDisabled = errors.New("email verification disabled")
	// ErrEmailNotVerified is returned by Authenticate when verified email is required.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrHashFailure is returned when the hasher cannot produce or check a hash,
	// for example a stored value written by a different algorithm.
	ErrHashFailure = errors.New("password hash failure")
	// ErrEngineNotReady is returned when the engine was not built with a store.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Gateway errors. Store implementations return these (optionally wrapped) so the
// engine can tell a miss or a lost race apart from an outage.
var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrDuplicateRecord = errors.New("duplicate record")
	ErrVersionConflict = errors.New("record version conflict")
)

// MessageError pairs a sentinel kind with the configured user-facing message.
type MessageError struct {
	Kind    error
	Message string
}

func (e *MessageError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}

func (e *MessageError) Unwrap() error {
	return e.Kind
}

// PasswordIncorrectError reports a failed password comparison. Remaining is the
// number of attempts left before the account locks, or -1 when lockout is disabled.
type PasswordIncorrectError struct {
	Remaining int
	Message   string
}

func (e *PasswordIncorrectError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrPasswordIncorrect.Error()
}

func (e *PasswordIncorrectError) Is(target error) bool {
	return target == ErrPasswordIncorrect
}

// AccountLockedError reports a locked account. Until is nil for locks that only
// lift through UnlockUserAccount.
type AccountLockedError struct {
	Until   *time.Time
	Message string
}

func (e *AccountLockedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrAccountLocked.Error()
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// StoreError wraps a persistence failure with the gateway operation that failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return "store " + e.Op + " failed"
	}
	return "store " + e.Op + " failed: " + e.Err.Error()
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreFailure
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
