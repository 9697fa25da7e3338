package lockguard

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/lockguard/internal"
	internalaudit "github.com/MrEthical07/lockguard/internal/audit"
	"github.com/MrEthical07/lockguard/password"
)

// Builder assembles an [Engine]. A Builder can be used for a single Build.
type Builder struct {
	config Config
	store  Store
	hasher password.Hasher
	tokens TokenGenerator
	now    func() time.Time
	logger *slog.Logger

	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the persistence gateway. Required.
func (b *Builder) WithStore(s Store) *Builder {
	b.store = s
	return b
}

// WithHasher overrides the hasher selected from security.hash_password and
// security.hash_algorithm.
func (b *Builder) WithHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

// WithTokenGenerator overrides the crypto/rand hex token source.
func (b *Builder) WithTokenGenerator(g TokenGenerator) *Builder {
	b.tokens = g
	return b
}

// WithClock overrides time.Now. Every expiry decision reads this clock.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithLogger sets the logger for lock transitions, conflict retries and store
// failures. The default discards everything.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil {
		return nil, errors.New("store required")
	}

	// -------- HASHER --------
	hasher := b.hasher
	if hasher == nil {
		var err error
		hasher, err = hasherFromConfig(cfg)
		if err != nil {
			return nil, err
		}
	}

	tokens := b.tokens
	if tokens == nil {
		tokens = internal.NewToken
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	b.built = true

	return &Engine{
		config: cfg,
		store:  b.store,
		hasher: hasher,
		tokens: tokens,
		now:    now,
		logger: logger,
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
		custom:  cfg.CustomFields(),
	}, nil
}

func hasherFromConfig(cfg Config) (password.Hasher, error) {
	if !cfg.Security.HashPassword {
		return password.Plaintext{}, nil
	}
	switch cfg.Security.HashAlgorithm {
	case "argon2id":
		return password.NewArgon2(password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		})
	default:
		return password.NewBcrypt(cfg.Security.HashSaltFactor)
	}
}
