package lockguard

import "context"

// Store is the persistence gateway the engine reads and writes user records
// through. Implementations live under store/.
//
// Contract:
//   - FindOne returns ErrRecordNotFound (optionally wrapped) on a miss. Username
//     and email values arrive already lower-cased.
//   - Create assigns ID and sets Version to 1. A unique username or email clash
//     returns ErrDuplicateRecord.
//   - Save is atomic for a single record and succeeds only when the stored Version
//     equals record.Version; the returned record carries the advanced Version.
//     A stale record returns ErrVersionConflict, a missing one ErrRecordNotFound.
//   - Delete removes the record and its lookup keys.
//
// Returned records must not alias store-internal memory.
type Store interface {
	FindOne(ctx context.Context, field Field, value string) (*UserRecord, error)
	Create(ctx context.Context, record *UserRecord) (*UserRecord, error)
	Save(ctx context.Context, record *UserRecord) (*UserRecord, error)
	Delete(ctx context.Context, record *UserRecord) error
}
