package shared

import "errors"

var (
	// ErrLockHeld occurs when another process holds a member lock.
	ErrLockHeld = errors.New("lock held by another process")
	// ErrIdempotencyConflict indicates a duplicate key.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
	// ErrInvalidAudit rejects an audit row missing its subject.
	ErrInvalidAudit = errors.New("audit entry incomplete")
)
