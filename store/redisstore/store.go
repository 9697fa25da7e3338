package redisstore

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/MrEthical07/lockguard"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "lockguard"
	maxRetries    = 4
)

var (
	// ErrUnavailable wraps transport and server failures.
	ErrUnavailable = errors.New("redisstore: redis unavailable")
	// ErrContention is returned by Create when its watched keys kept changing.
	ErrContention = errors.New("redisstore: too much contention")
)

var lookupFields = []lockguard.Field{
	lockguard.FieldUsername,
	lockguard.FieldEmailAddress,
	lockguard.FieldEmailVerificationToken,
	lockguard.FieldPasswordResetToken,
}

// Store implements lockguard.Store on a Redis client. It works with a single
// node, a failover client or miniredis; cluster deployments need a hash-tagged
// prefix so record and index keys share a slot.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ lockguard.Store = (*Store)(nil)

// New returns a store using prefix for every key. An empty prefix becomes
// "lockguard".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) recordKey(id string) string {
	return s.prefix + ":user:" + id
}

func (s *Store) indexKey(f lockguard.Field, value string) string {
	return s.prefix + ":idx:" + f.String() + ":" + value
}

// indexKeys maps each lookup field with a value on r to its index key.
func (s *Store) indexKeys(r *lockguard.UserRecord) map[lockguard.Field]string {
	values := map[lockguard.Field]string{
		lockguard.FieldUsername:               r.Username,
		lockguard.FieldEmailAddress:           r.EmailAddress,
		lockguard.FieldEmailVerificationToken: r.EmailVerificationToken,
		lockguard.FieldPasswordResetToken:     r.PasswordResetToken,
	}
	out := make(map[lockguard.Field]string, len(values))
	for f, v := range values {
		if v = lockguard.NormalizeLookup(f, v); v != "" {
			out[f] = s.indexKey(f, v)
		}
	}
	return out
}

func keyList(m map[lockguard.Field]string) []string {
	out := make([]string, 0, len(m))
	for _, k := range m {
		out = append(out, k)
	}
	return out
}

func normalize(r *lockguard.UserRecord) {
	r.Username = lockguard.NormalizeLookup(lockguard.FieldUsername, r.Username)
	r.EmailAddress = lockguard.NormalizeLookup(lockguard.FieldEmailAddress, r.EmailAddress)
}

func unique(f lockguard.Field) bool {
	return f == lockguard.FieldUsername || f == lockguard.FieldEmailAddress
}

func wrap(err error) error {
	switch {
	case errors.Is(err, lockguard.ErrRecordNotFound),
		errors.Is(err, lockguard.ErrDuplicateRecord),
		errors.Is(err, lockguard.ErrVersionConflict):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (s *Store) FindOne(ctx context.Context, field lockguard.Field, value string) (*lockguard.UserRecord, error) {
	id := value
	if field != lockguard.FieldID {
		if !slices.Contains(lookupFields, field) {
			return nil, fmt.Errorf("redisstore: unsupported field %s", field)
		}
		value = lockguard.NormalizeLookup(field, value)
		if value == "" {
			return nil, lockguard.ErrRecordNotFound
		}
		var err error
		id, err = s.client.Get(ctx, s.indexKey(field, value)).Result()
		if errors.Is(err, redis.Nil) {
			return nil, lockguard.ErrRecordNotFound
		}
		if err != nil {
			return nil, wrap(err)
		}
	}
	if id == "" {
		return nil, lockguard.ErrRecordNotFound
	}

	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		// index left behind by a writer that crashed between commands
		return nil, lockguard.ErrRecordNotFound
	}
	if err != nil {
		return nil, wrap(err)
	}
	return decode(data)
}

func (s *Store) Create(ctx context.Context, record *lockguard.UserRecord) (*lockguard.UserRecord, error) {
	rec := record.Clone()
	normalize(rec)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Version = 1

	data, err := encode(rec)
	if err != nil {
		return nil, err
	}
	recKey := s.recordKey(rec.ID)
	idx := s.indexKeys(rec)
	watched := append([]string{recKey}, keyList(idx)...)

	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, recKey).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return lockguard.ErrDuplicateRecord
			}
			if err := checkUnique(ctx, tx, rec.ID, idx); err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, recKey, data, 0)
				for _, k := range idx {
					pipe.Set(ctx, k, rec.ID, 0)
				}
				return nil
			})
			return err
		}, watched...)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, wrap(err)
		}
		return rec, nil
	}
	return nil, ErrContention
}

func (s *Store) Save(ctx context.Context, record *lockguard.UserRecord) (*lockguard.UserRecord, error) {
	rec := record.Clone()
	normalize(rec)
	recKey := s.recordKey(rec.ID)
	next := s.indexKeys(rec)

	for i := 0; i < maxRetries; i++ {
		var saved *lockguard.UserRecord
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, recKey).Bytes()
			if errors.Is(err, redis.Nil) {
				return lockguard.ErrRecordNotFound
			}
			if err != nil {
				return err
			}
			old, err := decode(data)
			if err != nil {
				return err
			}
			if old.Version != rec.Version {
				return lockguard.ErrVersionConflict
			}

			stale := staleKeys(s.indexKeys(old), next)
			if err := tx.Watch(ctx, append(keyList(next), stale...)...).Err(); err != nil {
				return err
			}
			if err := checkUnique(ctx, tx, rec.ID, next); err != nil {
				return err
			}
			owned, err := ownedKeys(ctx, tx, rec.ID, stale)
			if err != nil {
				return err
			}

			out := rec.Clone()
			out.Version = old.Version + 1
			enc, err := encode(out)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, recKey, enc, 0)
				for _, k := range next {
					pipe.Set(ctx, k, rec.ID, 0)
				}
				if len(owned) > 0 {
					pipe.Del(ctx, owned...)
				}
				return nil
			})
			if err == nil {
				saved = out
			}
			return err
		}, recKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, wrap(err)
		}
		return saved, nil
	}
	return nil, lockguard.ErrVersionConflict
}

func (s *Store) Delete(ctx context.Context, record *lockguard.UserRecord) error {
	recKey := s.recordKey(record.ID)

	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, recKey).Bytes()
			if errors.Is(err, redis.Nil) {
				return lockguard.ErrRecordNotFound
			}
			if err != nil {
				return err
			}
			old, err := decode(data)
			if err != nil {
				return err
			}
			keys := keyList(s.indexKeys(old))
			if len(keys) > 0 {
				if err := tx.Watch(ctx, keys...).Err(); err != nil {
					return err
				}
			}
			owned, err := ownedKeys(ctx, tx, old.ID, keys)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, append([]string{recKey}, owned...)...)
				return nil
			})
			return err
		}, recKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return wrap(err)
		}
		return nil
	}
	return ErrContention
}

// checkUnique fails when a username or email index already points at a
// different record.
func checkUnique(ctx context.Context, tx *redis.Tx, id string, idx map[lockguard.Field]string) error {
	for f, k := range idx {
		if !unique(f) {
			continue
		}
		owner, err := tx.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		if owner != id {
			return lockguard.ErrDuplicateRecord
		}
	}
	return nil
}

// ownedKeys filters keys down to those still pointing at id. Token indexes can
// be taken over by a later writer, and those must survive our cleanup.
func ownedKeys(ctx context.Context, tx *redis.Tx, id string, keys []string) ([]string, error) {
	var out []string
	for _, k := range keys {
		owner, err := tx.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if owner == id {
			out = append(out, k)
		}
	}
	return out, nil
}

// staleKeys returns keys present in prev but absent from next.
func staleKeys(prev, next map[lockguard.Field]string) []string {
	var out []string
	for f, k := range prev {
		if next[f] != k {
			out = append(out, k)
		}
	}
	return out
}
