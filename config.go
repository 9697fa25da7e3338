package lockguard

import (
	"errors"
	"maps"
	"strings"
	"time"
)

// Config defines the engine's field mapping, security thresholds and message
// templates.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	User     UserFieldConfig              `toml:"user"`
	Security SecurityConfig               `toml:"security"`
	ErrMsg   MessageConfig                `toml:"errmsg"`
	Custom   map[string]CustomFieldConfig `toml:"custom"`
	Password PasswordConfig               `toml:"password"`
	Audit    AuditConfig                  `toml:"audit"`
	Metrics  MetricsConfig                `toml:"metrics"`
	DB       DatabaseConfig               `toml:"db"`
}

/*
====================================
FIELD MAPPING
====================================
*/

// UserFieldConfig binds each logical record attribute to a storage attribute
// name. EmailAddress may equal Username, in which case the username doubles as
// the email address.
type UserFieldConfig struct {
	ID                           string `toml:"id"`
	Username                     string `toml:"username"`
	Password                     string `toml:"password"`
	EmailAddress                 string `toml:"email_address"`
	EmailVerified                string `toml:"email_verified"`
	EmailVerificationHash        string `toml:"email_verification_hash"`
	EmailVerificationHashExpires string `toml:"email_verification_hash_expires"`
	AccountLocked                string `toml:"account_locked"`
	AccountLockedUntil           string `toml:"account_locked_until"`
	AccountFailedAttempts        string `toml:"account_failed_attempts"`
	AccountLastFailedAttempt     string `toml:"account_last_failed_attempt"`
	PasswordResetToken           string `toml:"password_reset_token"`
	PasswordResetTokenExpiration string `toml:"password_reset_token_expiration"`
	Version                      string `toml:"version"`
}

// Column returns the storage attribute bound to a lookup field.
func (u UserFieldConfig) Column(f Field) string {
	switch f {
	case FieldID:
		return u.ID
	case FieldUsername:
		return u.Username
	case FieldEmailAddress:
		return u.EmailAddress
	case FieldEmailVerificationToken:
		return u.EmailVerificationHash
	case FieldPasswordResetToken:
		return u.PasswordResetToken
	default:
		return ""
	}
}

// EmailAliasesUsername reports whether the email attribute is the username attribute.
func (u UserFieldConfig) EmailAliasesUsername() bool {
	return u.EmailAddress == u.Username
}

func (u UserFieldConfig) named() []string {
	names := []string{
		u.ID, u.Username, u.Password, u.EmailVerified, u.EmailVerificationHash,
		u.EmailVerificationHashExpires, u.AccountLocked, u.AccountLockedUntil,
		u.AccountFailedAttempts, u.AccountLastFailedAttempt, u.PasswordResetToken,
		u.PasswordResetTokenExpiration, u.Version,
	}
	if !u.EmailAliasesUsername() {
		names = append(names, u.EmailAddress)
	}
	return names
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig carries the lockout, hashing and token policy.
//
// SecurityConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SecurityConfig struct {
	HashPassword                     bool   `toml:"hash_password"`
	HashSaltFactor                   int    `toml:"hash_salt_factor"`
	HashAlgorithm                    string `toml:"hash_algorithm"` // "bcrypt" (default) or "argon2id"
	MaxFailedLoginAttempts           int    `toml:"max_failed_login_attempts"`
	ResetAttemptsAfterMinutes        int    `toml:"reset_attempts_after_minutes"`
	LockAccountForMinutes            int    `toml:"lock_account_for_minutes"` // 0 = manual unlock only
	EmailVerification                bool   `toml:"email_verification"`
	EmailVerificationExpirationHours int    `toml:"email_verification_expiration_hours"`
	PasswordResetExpirationMinutes   int    `toml:"password_reset_expiration_minutes"`
	EnforceResetTokenValidity        bool   `toml:"enforce_reset_token_validity"`
	RequireVerifiedEmail             bool   `toml:"require_verified_email"`
	ConflictRetries                  int    `toml:"conflict_retries"`
}

// LockoutEnabled reports whether failed logins are counted at all.
func (s SecurityConfig) LockoutEnabled() bool {
	return s.MaxFailedLoginAttempts > 0
}

// LockDuration is zero when locks never lift on their own.
func (s SecurityConfig) LockDuration() time.Duration {
	return time.Duration(s.LockAccountForMinutes) * time.Minute
}

// AttemptWindow is zero when failed attempts are never forgiven by time.
func (s SecurityConfig) AttemptWindow() time.Duration {
	return time.Duration(s.ResetAttemptsAfterMinutes) * time.Minute
}

func (s SecurityConfig) EmailVerificationTTL() time.Duration {
	return time.Duration(s.EmailVerificationExpirationHours) * time.Hour
}

func (s SecurityConfig) PasswordResetTTL() time.Duration {
	return time.Duration(s.PasswordResetExpirationMinutes) * time.Minute
}

/*
====================================
MESSAGES
====================================
*/

// MessageConfig holds user-facing error templates. "##i##" is replaced with the
// remaining-attempts count or the lock duration in minutes.
type MessageConfig struct {
	UsernameTaken              string `toml:"username_taken"`
	TokenNotFound              string `toml:"token_not_found"`
	TokenExpired               string `toml:"token_expired"`
	UsernameAndPasswordNeeded  string `toml:"un_and_pw_required"`
	UsernameNotFound           string `toml:"username_not_found"`
	PasswordIncorrect          string `toml:"password_incorrect"`
	PasswordIncorrectNoLockout string `toml:"password_incorrect_no_lockout"`
	AccountLocked              string `toml:"account_locked"`
	EmailNotVerified           string `toml:"email_not_verified"`
}

// CustomFieldConfig declares one caller-defined attribute.
type CustomFieldConfig struct {
	Type string `toml:"type"`
}

// CustomFields resolves every custom attribute to its FieldType.
func (c Config) CustomFields() map[string]FieldType {
	out := make(map[string]FieldType, len(c.Custom))
	for name, def := range c.Custom {
		out[name] = ParseFieldType(def.Type)
	}
	return out
}

/*
====================================
PASSWORD, AUDIT, METRICS
====================================
*/

// PasswordConfig tunes the argon2id hasher. It is ignored for bcrypt, whose
// cost comes from Security.HashSaltFactor.
type PasswordConfig struct {
	Memory      uint32 `toml:"memory_kb"`
	Time        uint32 `toml:"time"`
	Parallelism uint8  `toml:"parallelism"`
	SaltLength  uint32 `toml:"salt_length"`
	KeyLength   uint32 `toml:"key_length"`
}

// AuditConfig defines a public type used by lockguard APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool `toml:"enabled"`
	BufferSize int  `toml:"buffer_size"`
	DropIfFull bool `toml:"drop_if_full"`
}

// MetricsConfig defines a public type used by lockguard APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool `toml:"enabled"`
	EnableLatencyHistograms bool `toml:"enable_latency_histograms"`
}

// DatabaseConfig names the backing store. The engine itself never reads it;
// binaries use it to pick a store/ implementation.
type DatabaseConfig struct {
	Type       string `toml:"type"` // memory, redis, postgres or sqlite
	DSN        string `toml:"dsn"`  // connection string, or redis address
	Collection string `toml:"collection"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		User: UserFieldConfig{
			ID:                           "id",
			Username:                     "username",
			Password:                     "password",
			EmailAddress:                 "username",
			EmailVerified:                "email_verified",
			EmailVerificationHash:        "email_verification_hash",
			EmailVerificationHashExpires: "email_verification_expires",
			AccountLocked:                "account_locked",
			AccountLockedUntil:           "account_locked_until",
			AccountFailedAttempts:        "account_failed_attempts",
			AccountLastFailedAttempt:     "account_last_failed_attempt",
			PasswordResetToken:           "password_reset_token",
			PasswordResetTokenExpiration: "password_reset_token_expiration",
			Version:                      "version",
		},
		Security: SecurityConfig{
			HashPassword:                     true,
			HashSaltFactor:                   10,
			HashAlgorithm:                    "bcrypt",
			MaxFailedLoginAttempts:           10,
			ResetAttemptsAfterMinutes:        5,
			LockAccountForMinutes:            30,
			EmailVerification:                true,
			EmailVerificationExpirationHours: 12,
			PasswordResetExpirationMinutes:   60,
			EnforceResetTokenValidity:        false,
			RequireVerifiedEmail:             false,
			ConflictRetries:                  3,
		},
		ErrMsg: MessageConfig{
			UsernameTaken:              "This username is taken. Please choose another.",
			TokenNotFound:              "This token does not exist. Please try again.",
			TokenExpired:               "This token has expired. A new one has been generated.",
			UsernameAndPasswordNeeded:  "A username and password are required to log in.",
			UsernameNotFound:           "Username not found. Please try again or sign up.",
			PasswordIncorrect:          "Password incorrect. Your account will be locked after ##i## more failed attempts.",
			PasswordIncorrectNoLockout: "Password incorrect.",
			AccountLocked:              "Too many failed attempts. This account will be locked for ##i## minutes.",
			EmailNotVerified:           "Please verify your email address before logging in.",
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		DB: DatabaseConfig{
			Type:       "memory",
			Collection: "users",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Custom != nil {
		out.Custom = maps.Clone(cfg.Custom)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration once at build time.
//
// Validate does not mutate shared global state and can be used concurrently.
func (c *Config) Validate() error {
	// Field mapping
	seen := make(map[string]struct{}, 16)
	for _, name := range c.User.named() {
		if strings.TrimSpace(name) == "" {
			return errors.New("User field names must not be empty")
		}
		if _, dup := seen[name]; dup {
			return errors.New("User field name " + name + " is mapped twice")
		}
		seen[name] = struct{}{}
	}
	for name := range c.Custom {
		if strings.TrimSpace(name) == "" {
			return errors.New("Custom field names must not be empty")
		}
		if _, dup := seen[name]; dup {
			return errors.New("Custom field " + name + " collides with a user field")
		}
	}

	// Hashing
	switch c.Security.HashAlgorithm {
	case "", "bcrypt", "argon2id":
		// valid (empty treated as bcrypt)
	default:
		return errors.New("Security HashAlgorithm must be bcrypt or argon2id")
	}
	if c.Security.HashSaltFactor < 0 || c.Security.HashSaltFactor > 31 {
		return errors.New("Security HashSaltFactor must be between 0 and 31")
	}

	// Lockout
	if c.Security.MaxFailedLoginAttempts < 0 {
		return errors.New("Security MaxFailedLoginAttempts must be >= 0")
	}
	if c.Security.ResetAttemptsAfterMinutes < 0 {
		return errors.New("Security ResetAttemptsAfterMinutes must be >= 0")
	}
	if c.Security.LockAccountForMinutes < 0 {
		return errors.New("Security LockAccountForMinutes must be >= 0")
	}

	// Tokens
	if c.Security.EmailVerification && c.Security.EmailVerificationExpirationHours <= 0 {
		return errors.New("Security EmailVerificationExpirationHours must be > 0 when email verification is enabled")
	}
	if c.Security.RequireVerifiedEmail && !c.Security.EmailVerification {
		return errors.New("Security RequireVerifiedEmail requires EmailVerification")
	}
	if c.Security.PasswordResetExpirationMinutes <= 0 {
		return errors.New("Security PasswordResetExpirationMinutes must be > 0")
	}
	if c.Security.ConflictRetries < 0 {
		return errors.New("Security ConflictRetries must be >= 0")
	}

	switch c.DB.Type {
	case "", "memory", "redis", "postgres", "sqlite":
	default:
		return errors.New("DB Type must be memory, redis, postgres or sqlite")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
