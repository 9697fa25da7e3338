package lockguard

import "time"

// SecurityReport is a read-only summary of the policy an engine enforces.
type SecurityReport struct {
	PasswordsHashed   bool
	HashAlgorithm     string
	BcryptCost        int
	Argon2            PasswordConfigReport
	LockoutEnabled    bool
	MaxFailedAttempts int
	AttemptWindow     time.Duration
	LockDuration      time.Duration
	// ManualUnlockOnly is set when locks never lift on their own.
	ManualUnlockOnly          bool
	EmailVerificationActive   bool
	EmailVerificationTTL      time.Duration
	RequireVerifiedEmail      bool
	PasswordResetTTL          time.Duration
	EnforceResetTokenValidity bool
	AuditEnabled              bool
	MetricsEnabled            bool
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	sec := e.config.Security

	r := SecurityReport{
		PasswordsHashed:           sec.HashPassword,
		LockoutEnabled:            sec.LockoutEnabled(),
		MaxFailedAttempts:         sec.MaxFailedLoginAttempts,
		AttemptWindow:             sec.AttemptWindow(),
		LockDuration:              sec.LockDuration(),
		ManualUnlockOnly:          sec.LockoutEnabled() && sec.LockAccountForMinutes == 0,
		EmailVerificationActive:   sec.EmailVerification,
		RequireVerifiedEmail:      sec.RequireVerifiedEmail,
		PasswordResetTTL:          sec.PasswordResetTTL(),
		EnforceResetTokenValidity: sec.EnforceResetTokenValidity,
		AuditEnabled:              e.config.Audit.Enabled,
		MetricsEnabled:            e.metrics.Enabled(),
	}
	if sec.EmailVerification {
		r.EmailVerificationTTL = sec.EmailVerificationTTL()
	}

	switch {
	case !sec.HashPassword:
		r.HashAlgorithm = "plaintext"
	case sec.HashAlgorithm == "argon2id":
		r.HashAlgorithm = "argon2id"
		r.Argon2 = PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		}
	default:
		r.HashAlgorithm = "bcrypt"
		r.BcryptCost = sec.HashSaltFactor
	}
	return r
}
