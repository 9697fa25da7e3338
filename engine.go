package lockguard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/lockguard/internal/audit"
	"github.com/MrEthical07/lockguard/password"
)

// TokenGenerator returns a fresh opaque token for verification and reset flows.
type TokenGenerator func() (string, error)

// Engine applies the account-security policy to records held by a [Store].
//
// An Engine is immutable after [Builder.Build] and safe for concurrent use.
// It keeps no per-user state; every decision is derived from the record as
// loaded, so a lock or attempt window that has run out is cleared by the
// next operation that reads the record rather than by a timer.
type Engine struct {
	config  Config
	store   Store
	hasher  password.Hasher
	tokens  TokenGenerator
	now     func() time.Time
	logger  *slog.Logger
	audit   *internalaudit.Dispatcher
	metrics *Metrics
	custom  map[string]FieldType
}

// Close flushes pending audit events. The store is owned by the caller and is
// not closed.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the validated configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// AuditDropped reports events discarded because the audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current counter values. It is empty when
// metrics are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) clock() time.Time {
	return e.now()
}

func (e *Engine) storeFailure(ctx context.Context, op string, err error) error {
	e.metricInc(MetricStoreFailure)
	e.logger.ErrorContext(ctx, "store operation failed", "op", op, "error", err)
	return &StoreError{Op: op, Err: err}
}

// find loads one record. A miss returns ErrRecordNotFound unwrapped so callers
// can map it onto their own not-found kind; anything else is a StoreError.
func (e *Engine) find(ctx context.Context, field Field, value string) (*UserRecord, error) {
	rec, err := e.store.FindOne(ctx, field, NormalizeLookup(field, value))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, e.storeFailure(ctx, "find", err)
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

// mutation edits r in place and reports whether anything changed. Returning
// an error aborts the write and is passed through to the caller unchanged.
type mutation func(r *UserRecord) (bool, error)

// mutate applies fn to a copy of rec and saves it. When the store reports a
// version conflict the record is reloaded by ID and fn is applied again to the
// fresh state, up to security.conflict_retries times. An unchanged record is
// returned without a write.
func (e *Engine) mutate(ctx context.Context, op string, rec *UserRecord, fn mutation) (*UserRecord, error) {
	if rec == nil {
		return nil, ErrUserNotFound
	}
	cur := rec.Clone()
	retries := e.config.Security.ConflictRetries

	for attempt := 0; ; attempt++ {
		changed, err := fn(cur)
		if err != nil {
			return cur, err
		}
		if !changed {
			return cur, nil
		}

		saved, err := e.store.Save(ctx, cur)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= retries {
			return nil, e.storeFailure(ctx, op, err)
		}

		e.metricInc(MetricStoreConflictRetry)
		e.logger.WarnContext(ctx, "version conflict, reapplying",
			"op", op, "user_id", cur.ID, "attempt", attempt+1)

		fresh, ferr := e.store.FindOne(ctx, FieldID, cur.ID)
		if ferr == nil && fresh == nil {
			ferr = ErrRecordNotFound
		}
		if ferr != nil {
			return nil, e.storeFailure(ctx, op, ferr)
		}
		cur = fresh.Clone()
	}
}
