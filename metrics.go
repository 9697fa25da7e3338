package lockguard

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	// MetricLoginSuccess counts Authenticate calls that returned a record.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts password mismatches.
	MetricLoginFailure
	// MetricLoginUserNotFound counts logins for unknown usernames.
	MetricLoginUserNotFound
	// MetricLoginLockedRejected counts logins refused because the account was locked.
	MetricLoginLockedRejected
	// MetricAccountLocked counts lock transitions, automatic and administrative.
	MetricAccountLocked
	// MetricAccountUnlocked counts unlocks, including lazy expiry.
	MetricAccountUnlocked
	// MetricFailedAttemptsExpired counts counters forgiven by the attempt window.
	MetricFailedAttemptsExpired
	MetricEmailVerificationIssued
	MetricEmailVerificationSuccess
	MetricEmailVerificationExpired
	MetricPasswordResetIssued
	MetricPasswordResetSuccess
	MetricPasswordResetExpired
	MetricTokenNotFound
	MetricAccountCreated
	MetricAccountCreationDuplicate
	MetricAccountDeleted
	// MetricStoreConflictRetry counts Save calls re-applied after a version conflict.
	MetricStoreConflictRetry
	// MetricStoreFailure counts operations that surfaced a *StoreError.
	MetricStoreFailure
	// MetricAuthenticateLatency is the only histogram.
	MetricAuthenticateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters plus one latency histogram.
// A disabled Metrics ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter. Histograms holds
// per-bucket (non-cumulative) counts and is empty unless latency histograms are on.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc is safe for concurrent use.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram for id. Only latency IDs are accepted.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricAuthenticateLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricAuthenticateLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricAuthenticateLatency].buckets[i])
		}
		s.Histograms[MetricAuthenticateLatency] = buckets
	}

	return s
}

// Bucket upper bounds in milliseconds: 5, 10, 25, 50, 100, 250, 500, +Inf.
// bcrypt at default cost lands in the 50-100ms buckets.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
