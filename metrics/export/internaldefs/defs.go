package internaldefs

import (
	"github.com/MrEthical07/lockguard"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   lockguard.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   lockguard.MetricID
	Name string
	Help string
}

const AuditDroppedName = "lockguard_audit_dropped_total"
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: lockguard.MetricLoginSuccess, Name: "lockguard_login_success_total", Help: "Successful authentications."},
	{ID: lockguard.MetricLoginFailure, Name: "lockguard_login_failure_total", Help: "Password mismatches."},
	{ID: lockguard.MetricLoginUserNotFound, Name: "lockguard_login_user_not_found_total", Help: "Logins for unknown usernames."},
	{ID: lockguard.MetricLoginLockedRejected, Name: "lockguard_login_locked_rejected_total", Help: "Logins refused because the account was locked."},
	{ID: lockguard.MetricAccountLocked, Name: "lockguard_account_locked_total", Help: "Account lock transitions."},
	{ID: lockguard.MetricAccountUnlocked, Name: "lockguard_account_unlocked_total", Help: "Account unlocks, including lazy expiry."},
	{ID: lockguard.MetricFailedAttemptsExpired, Name: "lockguard_failed_attempts_expired_total", Help: "Failed-attempt counters forgiven by the reset window."},
	{ID: lockguard.MetricEmailVerificationIssued, Name: "lockguard_email_verification_issued_total", Help: "Email verification tokens issued."},
	{ID: lockguard.MetricEmailVerificationSuccess, Name: "lockguard_email_verification_success_total", Help: "Email addresses verified."},
	{ID: lockguard.MetricEmailVerificationExpired, Name: "lockguard_email_verification_expired_total", Help: "Expired email verification tokens presented."},
	{ID: lockguard.MetricPasswordResetIssued, Name: "lockguard_password_reset_issued_total", Help: "Password reset tokens issued."},
	{ID: lockguard.MetricPasswordResetSuccess, Name: "lockguard_password_reset_success_total", Help: "Passwords reset."},
	{ID: lockguard.MetricPasswordResetExpired, Name: "lockguard_password_reset_expired_total", Help: "Expired password reset tokens presented."},
	{ID: lockguard.MetricTokenNotFound, Name: "lockguard_token_not_found_total", Help: "Presented tokens that matched no record."},
	{ID: lockguard.MetricAccountCreated, Name: "lockguard_account_created_total", Help: "Accounts created."},
	{ID: lockguard.MetricAccountCreationDuplicate, Name: "lockguard_account_creation_duplicate_total", Help: "Account creations rejected as duplicate."},
	{ID: lockguard.MetricAccountDeleted, Name: "lockguard_account_deleted_total", Help: "Accounts deleted."},
	{ID: lockguard.MetricStoreConflictRetry, Name: "lockguard_store_conflict_retry_total", Help: "Saves re-applied after a version conflict."},
	{ID: lockguard.MetricStoreFailure, Name: "lockguard_store_failure_total", Help: "Operations failed by the persistence gateway."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: lockguard.MetricAuthenticateLatency, Name: "lockguard_authenticate_latency_seconds", Help: "Authenticate latency histogram."},
}

// HistogramBounds are the finite bucket upper bounds in seconds. The eighth
// bucket is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names every bucket, +Inf included, for exporters that
// flatten buckets into separate instruments.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a snapshot histogram to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into le-style running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
