package redisstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrEthical07/lockguard"
)

const documentVersion = 1

type document struct {
	V                          int                              `json:"v"`
	ID                         string                           `json:"id"`
	Username                   string                           `json:"username"`
	PasswordHash               string                           `json:"password_hash"`
	EmailAddress               string                           `json:"email_address"`
	EmailVerified              bool                             `json:"email_verified"`
	EmailVerificationToken     string                           `json:"email_verification_token,omitempty"`
	EmailVerificationExpiresAt *time.Time                       `json:"email_verification_expires_at,omitempty"`
	AccountLocked              bool                             `json:"account_locked"`
	AccountLockedUntil         *time.Time                       `json:"account_locked_until,omitempty"`
	FailedAttempts             int                              `json:"failed_attempts"`
	LastFailedAttemptAt        *time.Time                       `json:"last_failed_attempt_at,omitempty"`
	PasswordResetToken         string                           `json:"password_reset_token,omitempty"`
	PasswordResetExpiresAt     *time.Time                       `json:"password_reset_expires_at,omitempty"`
	Version                    uint64                           `json:"version"`
	Custom                     map[string]lockguard.CustomValue `json:"custom,omitempty"`
}

func encode(r *lockguard.UserRecord) ([]byte, error) {
	return json.Marshal(document{
		V:                          documentVersion,
		ID:                         r.ID,
		Username:                   r.Username,
		PasswordHash:               r.PasswordHash,
		EmailAddress:               r.EmailAddress,
		EmailVerified:              r.EmailVerified,
		EmailVerificationToken:     r.EmailVerificationToken,
		EmailVerificationExpiresAt: r.EmailVerificationExpiresAt,
		AccountLocked:              r.AccountLocked,
		AccountLockedUntil:         r.AccountLockedUntil,
		FailedAttempts:             r.FailedAttempts,
		LastFailedAttemptAt:        r.LastFailedAttemptAt,
		PasswordResetToken:         r.PasswordResetToken,
		PasswordResetExpiresAt:     r.PasswordResetExpiresAt,
		Version:                    r.Version,
		Custom:                     r.Custom,
	})
}

func decode(data []byte) (*lockguard.UserRecord, error) {
	var d document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("redisstore: decode record: %w", err)
	}
	if d.V != documentVersion {
		return nil, fmt.Errorf("redisstore: unsupported record version %d", d.V)
	}
	return &lockguard.UserRecord{
		ID:                         d.ID,
		Username:                   d.Username,
		PasswordHash:               d.PasswordHash,
		EmailAddress:               d.EmailAddress,
		EmailVerified:              d.EmailVerified,
		EmailVerificationToken:     d.EmailVerificationToken,
		EmailVerificationExpiresAt: d.EmailVerificationExpiresAt,
		AccountLocked:              d.AccountLocked,
		AccountLockedUntil:         d.AccountLockedUntil,
		FailedAttempts:             d.FailedAttempts,
		LastFailedAttemptAt:        d.LastFailedAttemptAt,
		PasswordResetToken:         d.PasswordResetToken,
		PasswordResetExpiresAt:     d.PasswordResetExpiresAt,
		Version:                    d.Version,
		Custom:                     d.Custom,
	}, nil
}
