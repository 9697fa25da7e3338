// Package memstore is an in-process lockguard.Store backed by maps. It is meant
// for tests, examples and single-process deployments.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrEthical07/lockguard"
	"github.com/google/uuid"
)

// Store keeps records by ID plus one index per lookup field. All methods copy
// records in and out.
type Store struct {
	mu      sync.RWMutex
	records map[string]*lockguard.UserRecord
	indexes map[lockguard.Field]map[string]string
}

var _ lockguard.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		records: make(map[string]*lockguard.UserRecord),
		indexes: map[lockguard.Field]map[string]string{
			lockguard.FieldUsername:               {},
			lockguard.FieldEmailAddress:           {},
			lockguard.FieldEmailVerificationToken: {},
			lockguard.FieldPasswordResetToken:     {},
		},
	}
}

func indexValues(r *lockguard.UserRecord) map[lockguard.Field]string {
	return map[lockguard.Field]string{
		lockguard.FieldUsername:               lockguard.NormalizeLookup(lockguard.FieldUsername, r.Username),
		lockguard.FieldEmailAddress:           lockguard.NormalizeLookup(lockguard.FieldEmailAddress, r.EmailAddress),
		lockguard.FieldEmailVerificationToken: r.EmailVerificationToken,
		lockguard.FieldPasswordResetToken:     r.PasswordResetToken,
	}
}

// unique fields reject a second owner; token fields follow last writer
func unique(f lockguard.Field) bool {
	return f == lockguard.FieldUsername || f == lockguard.FieldEmailAddress
}

func (s *Store) FindOne(_ context.Context, field lockguard.Field, value string) (*lockguard.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id := value
	if field != lockguard.FieldID {
		idx, ok := s.indexes[field]
		if !ok {
			return nil, fmt.Errorf("memstore: unsupported field %s", field)
		}
		if id, ok = idx[lockguard.NormalizeLookup(field, value)]; !ok {
			return nil, lockguard.ErrRecordNotFound
		}
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, lockguard.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) Create(_ context.Context, record *lockguard.UserRecord) (*lockguard.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := record.Clone()
	rec.Username = lockguard.NormalizeLookup(lockguard.FieldUsername, rec.Username)
	rec.EmailAddress = lockguard.NormalizeLookup(lockguard.FieldEmailAddress, rec.EmailAddress)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, exists := s.records[rec.ID]; exists {
		return nil, lockguard.ErrDuplicateRecord
	}
	if err := s.checkUnique(rec); err != nil {
		return nil, err
	}
	rec.Version = 1

	s.records[rec.ID] = rec
	s.index(nil, rec)
	return rec.Clone(), nil
}

func (s *Store) Save(_ context.Context, record *lockguard.UserRecord) (*lockguard.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.records[record.ID]
	if !ok {
		return nil, lockguard.ErrRecordNotFound
	}
	if old.Version != record.Version {
		return nil, lockguard.ErrVersionConflict
	}

	rec := record.Clone()
	rec.Username = lockguard.NormalizeLookup(lockguard.FieldUsername, rec.Username)
	rec.EmailAddress = lockguard.NormalizeLookup(lockguard.FieldEmailAddress, rec.EmailAddress)
	if err := s.checkUnique(rec); err != nil {
		return nil, err
	}
	rec.Version = old.Version + 1

	s.records[rec.ID] = rec
	s.index(old, rec)
	return rec.Clone(), nil
}

func (s *Store) Delete(_ context.Context, record *lockguard.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.records[record.ID]
	if !ok {
		return lockguard.ErrRecordNotFound
	}
	delete(s.records, old.ID)
	s.index(old, nil)
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) checkUnique(rec *lockguard.UserRecord) error {
	for f, v := range indexValues(rec) {
		if v == "" || !unique(f) {
			continue
		}
		if owner, ok := s.indexes[f][v]; ok && owner != rec.ID {
			return lockguard.ErrDuplicateRecord
		}
	}
	return nil
}

// index moves lookup keys from old to next. Either may be nil.
func (s *Store) index(old, next *lockguard.UserRecord) {
	if old != nil {
		for f, v := range indexValues(old) {
			if v != "" && s.indexes[f][v] == old.ID {
				delete(s.indexes[f], v)
			}
		}
	}
	if next != nil {
		for f, v := range indexValues(next) {
			if v != "" {
				s.indexes[f][v] = next.ID
			}
		}
	}
}
