package lockguard

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/lockguard/internal/audit"
)

// UserRecord is the persisted account as seen by the engine. Storage attribute
// names for each field come from [UserFieldConfig]; the struct itself is fixed.
//
// Empty token strings and nil timestamps represent null columns.
type UserRecord struct {
	ID           string
	Username     string
	PasswordHash string
	EmailAddress string

	EmailVerified              bool
	EmailVerificationToken     string
	EmailVerificationExpiresAt *time.Time

	AccountLocked       bool
	AccountLockedUntil  *time.Time
	FailedAttempts      int
	LastFailedAttemptAt *time.Time

	PasswordResetToken     string
	PasswordResetExpiresAt *time.Time

	// Version is owned by the store and advanced on every successful Save.
	Version uint64

	Custom map[string]CustomValue
}

// Clone returns a deep copy of r.
func (r *UserRecord) Clone() *UserRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.EmailVerificationExpiresAt = cloneTime(r.EmailVerificationExpiresAt)
	out.AccountLockedUntil = cloneTime(r.AccountLockedUntil)
	out.LastFailedAttemptAt = cloneTime(r.LastFailedAttemptAt)
	out.PasswordResetExpiresAt = cloneTime(r.PasswordResetExpiresAt)
	if r.Custom != nil {
		out.Custom = maps.Clone(r.Custom)
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// Credentials is the candidate presented at login.
type Credentials struct {
	Username string
	Password string
}

// SignupRequest is the input for [Engine.CreateAccount]. EmailAddress may be
// empty when the email attribute is mapped onto the username attribute.
type SignupRequest struct {
	Username     string
	Password     string
	EmailAddress string
	Custom       map[string]any
}

// Field names a lookup key understood by every [Store].
type Field uint8

const (
	FieldID Field = iota
	FieldUsername
	FieldEmailAddress
	FieldEmailVerificationToken
	FieldPasswordResetToken
)

func (f Field) String() string {
	switch f {
	case FieldID:
		return "id"
	case FieldUsername:
		return "username"
	case FieldEmailAddress:
		return "email_address"
	case FieldEmailVerificationToken:
		return "email_verification_token"
	case FieldPasswordResetToken:
		return "password_reset_token"
	default:
		return "field(" + strconv.Itoa(int(f)) + ")"
	}
}

// caseFolded reports whether lookups on f compare lower-cased values.
func (f Field) caseFolded() bool {
	return f == FieldUsername || f == FieldEmailAddress
}

// NormalizeLookup lower-cases username and email values and leaves the rest
// untouched. Stores call it on write so stored and queried values agree.
func NormalizeLookup(f Field, value string) string {
	if f.caseFolded() {
		return strings.ToLower(strings.TrimSpace(value))
	}
	return value
}

// FieldType is the semantic type tag of a custom field.
type FieldType string

const (
	FieldString       FieldType = "string"
	FieldStringBinary FieldType = "string.binary"
	FieldText         FieldType = "text"
	FieldInteger      FieldType = "integer"
	FieldBigInt       FieldType = "bigint"
	FieldFloat        FieldType = "float"
	FieldDecimal      FieldType = "decimal"
	FieldDate         FieldType = "date"
	FieldBoolean      FieldType = "boolean"
)

// ParseFieldType maps a config tag onto a FieldType. Unknown tags are strings.
func ParseFieldType(tag string) FieldType {
	switch t := FieldType(strings.ToLower(strings.TrimSpace(tag))); t {
	case FieldString, FieldStringBinary, FieldText, FieldInteger, FieldBigInt,
		FieldFloat, FieldDecimal, FieldDate, FieldBoolean:
		return t
	default:
		return FieldString
	}
}

// CustomValue is a tagged union holding one caller-defined field value. Only the
// member selected by Type is meaningful.
type CustomValue struct {
	Type  FieldType `json:"type"`
	Str   string    `json:"str,omitempty"`
	Int   int64     `json:"int,omitempty"`
	Float float64   `json:"float,omitempty"`
	Date  time.Time `json:"date,omitzero"`
	Bool  bool      `json:"bool,omitempty"`
}

func StringValue(s string) CustomValue  { return CustomValue{Type: FieldString, Str: s} }
func TextValue(s string) CustomValue    { return CustomValue{Type: FieldText, Str: s} }
func IntegerValue(n int64) CustomValue  { return CustomValue{Type: FieldInteger, Int: n} }
func BigIntValue(n int64) CustomValue   { return CustomValue{Type: FieldBigInt, Int: n} }
func FloatValue(f float64) CustomValue  { return CustomValue{Type: FieldFloat, Float: f} }
func DateValue(t time.Time) CustomValue { return CustomValue{Type: FieldDate, Date: t} }
func BoolValue(b bool) CustomValue      { return CustomValue{Type: FieldBoolean, Bool: b} }

// DecimalValue keeps the exact decimal text; it is validated but never rounded.
func DecimalValue(s string) (CustomValue, error) {
	s = strings.TrimSpace(s)
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return CustomValue{}, fmt.Errorf("invalid decimal %q", s)
	}
	return CustomValue{Type: FieldDecimal, Str: s}, nil
}

// Value returns the Go value for the active member.
func (v CustomValue) Value() any {
	switch v.Type {
	case FieldInteger, FieldBigInt:
		return v.Int
	case FieldFloat:
		return v.Float
	case FieldDate:
		return v.Date
	case FieldBoolean:
		return v.Bool
	default:
		return v.Str
	}
}

// CoerceCustomValue converts a caller-supplied value into a CustomValue of type t.
// Strings are parsed for numeric, date (RFC 3339 or YYYY-MM-DD) and boolean types.
func CoerceCustomValue(t FieldType, raw any) (CustomValue, error) {
	switch t {
	case FieldInteger, FieldBigInt:
		var n int64
		switch x := raw.(type) {
		case int:
			n = int64(x)
		case int32:
			n = int64(x)
		case int64:
			n = x
		case string:
			parsed, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return CustomValue{}, fmt.Errorf("invalid %s %q", t, x)
			}
			n = parsed
		default:
			return CustomValue{}, fmt.Errorf("cannot use %T as %s", raw, t)
		}
		return CustomValue{Type: t, Int: n}, nil
	case FieldFloat:
		switch x := raw.(type) {
		case float64:
			return FloatValue(x), nil
		case float32:
			return FloatValue(float64(x)), nil
		case int:
			return FloatValue(float64(x)), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return CustomValue{}, fmt.Errorf("invalid float %q", x)
			}
			return FloatValue(f), nil
		}
		return CustomValue{}, fmt.Errorf("cannot use %T as float", raw)
	case FieldDecimal:
		switch x := raw.(type) {
		case string:
			return DecimalValue(x)
		case float64:
			return DecimalValue(strconv.FormatFloat(x, 'f', -1, 64))
		case int:
			return DecimalValue(strconv.Itoa(x))
		}
		return CustomValue{}, fmt.Errorf("cannot use %T as decimal", raw)
	case FieldDate:
		switch x := raw.(type) {
		case time.Time:
			return DateValue(x), nil
		case string:
			x = strings.TrimSpace(x)
			if d, err := time.Parse(time.RFC3339, x); err == nil {
				return DateValue(d), nil
			}
			d, err := time.Parse(time.DateOnly, x)
			if err != nil {
				return CustomValue{}, fmt.Errorf("invalid date %q", x)
			}
			return DateValue(d), nil
		}
		return CustomValue{}, fmt.Errorf("cannot use %T as date", raw)
	case FieldBoolean:
		switch x := raw.(type) {
		case bool:
			return BoolValue(x), nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return CustomValue{}, fmt.Errorf("invalid boolean %q", x)
			}
			return BoolValue(b), nil
		}
		return CustomValue{}, fmt.Errorf("cannot use %T as boolean", raw)
	default:
		s, ok := raw.(string)
		if !ok {
			s = fmt.Sprint(raw)
		}
		return CustomValue{Type: ParseFieldType(string(t)), Str: s}, nil
	}
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink is an [AuditSink] that logs each event through a [slog.Logger].
type SlogSink = internalaudit.SlogSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink creates a [SlogSink]. A nil logger falls back to [slog.Default].
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
