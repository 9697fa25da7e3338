package lockguard

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CreateAccount validates req, rejects a username or email already in use,
// hashes the password, seeds the security fields and, when email verification
// is on, attaches a verification token before handing the record to the store.
//
// Custom values are coerced to the types declared under [custom.<name>];
// undeclared names are rejected.
func (e *Engine) CreateAccount(ctx context.Context, req SignupRequest) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	if err := e.CheckCredentials(Credentials{Username: req.Username, Password: req.Password}); err != nil {
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, nil, err, nil)
		return nil, err
	}

	rec := &UserRecord{
		Username:     NormalizeLookup(FieldUsername, req.Username),
		EmailAddress: NormalizeLookup(FieldEmailAddress, req.EmailAddress),
	}
	if e.config.User.EmailAliasesUsername() || rec.EmailAddress == "" {
		rec.EmailAddress = rec.Username
	}

	custom, err := e.coerceCustom(req.Custom)
	if err != nil {
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, nil, err, nil)
		return nil, err
	}
	rec.Custom = custom

	if err := e.rejectTaken(ctx, rec); err != nil {
		e.emitAudit(ctx, auditEventAccountCreationFailure, false, rec, err, nil)
		return nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHashFailure, err)
	}
	rec.PasswordHash = hash
	rec = BuildAccountSecurity(rec)

	if e.config.Security.EmailVerification {
		if rec, err = e.IssueEmailVerification(ctx, rec); err != nil {
			return nil, err
		}
	}

	created, err := e.store.Create(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			// lost a race with a concurrent signup
			e.metricInc(MetricAccountCreationDuplicate)
			taken := e.messageErr(ErrValueTaken, e.config.ErrMsg.UsernameTaken)
			e.emitAudit(ctx, auditEventAccountCreationFailure, false, rec, taken, nil)
			return nil, taken
		}
		return nil, e.storeFailure(ctx, "create", err)
	}

	e.metricInc(MetricAccountCreated)
	e.logger.InfoContext(ctx, "account created", "user_id", created.ID)
	e.emitAudit(ctx, auditEventAccountCreated, true, created, nil, nil)
	return created, nil
}

func (e *Engine) rejectTaken(ctx context.Context, rec *UserRecord) error {
	taken, err := e.IsValueTaken(ctx, FieldUsername, rec.Username)
	if err != nil {
		return err
	}
	if !taken && rec.EmailAddress != rec.Username {
		if taken, err = e.IsValueTaken(ctx, FieldEmailAddress, rec.EmailAddress); err != nil {
			return err
		}
	}
	if taken {
		e.metricInc(MetricAccountCreationDuplicate)
		return e.messageErr(ErrValueTaken, e.config.ErrMsg.UsernameTaken)
	}
	return nil
}

func (e *Engine) coerceCustom(in map[string]any) (map[string]CustomValue, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]CustomValue, len(in))
	for name, raw := range in {
		t, ok := e.custom[name]
		if !ok {
			return nil, fmt.Errorf("unknown custom field %q", name)
		}
		if v, ok := raw.(CustomValue); ok {
			raw = v.Value()
		}
		v, err := CoerceCustomValue(t, raw)
		if err != nil {
			return nil, fmt.Errorf("custom field %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// IsValueTaken reports whether any record holds value in field. Username and
// email comparisons are case-insensitive.
func (e *Engine) IsValueTaken(ctx context.Context, field Field, value string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	if strings.TrimSpace(value) == "" {
		return false, nil
	}
	_, err := e.find(ctx, field, value)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrRecordNotFound):
		return false, nil
	default:
		return false, err
	}
}

// FindUser loads one record by any lookup field, mapping a miss onto
// ErrUserNotFound.
func (e *Engine) FindUser(ctx context.Context, field Field, value string) (*UserRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	rec, err := e.find(ctx, field, value)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, e.messageErr(ErrUserNotFound, e.config.ErrMsg.UsernameNotFound)
	}
	return rec, err
}

// DeleteAccount removes record permanently. Deleting a record that is already
// gone succeeds.
func (e *Engine) DeleteAccount(ctx context.Context, record *UserRecord) error {
	if err := e.ready(); err != nil {
		return err
	}
	if record == nil {
		return e.messageErr(ErrUserNotFound, e.config.ErrMsg.UsernameNotFound)
	}
	if err := e.store.Delete(ctx, record); err != nil && !errors.Is(err, ErrRecordNotFound) {
		return e.storeFailure(ctx, "delete", err)
	}
	e.metricInc(MetricAccountDeleted)
	e.logger.InfoContext(ctx, "account deleted", "user_id", record.ID)
	e.emitAudit(ctx, auditEventAccountDeleted, true, record, nil, nil)
	return nil
}
