package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists managed positions, keyed by (owner, position_index).
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Get(ctx context.Context, owner string, index uint8) (Position, error)
	GetByID(ctx context.Context, id string) (Position, error)
	Update(ctx context.Context, pos Position) error
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]Position, error)
}

// DecisionStore persists rebalance decisions, keyed by (position_id,
// decision_index).
type DecisionStore interface {
	Create(ctx context.Context, d Decision) error
	Get(ctx context.Context, positionID string, index uint32) (Decision, error)
	Update(ctx context.Context, d Decision) error
	ListByPosition(ctx context.Context, positionID string, opts ListOpts) ([]Decision, error)
	// NextIndex returns the next free decision index for a position.
	NextIndex(ctx context.Context, positionID string) (uint32, error)
}

// AuditStore is the append-only compliance ledger. It exposes no update or
// delete; Append assigns the monotonic sequence key.
type AuditStore interface {
	Append(ctx context.Context, e AuditEvent) (int64, error)
	List(ctx context.Context, opts ListOpts) ([]AuditEvent, error)
	ListByPosition(ctx context.Context, positionID string, opts ListOpts) ([]AuditEvent, error)
	// ListAfter returns up to limit events with Seq strictly greater than
	// seq, in ascending sequence order. Used by the compliance archiver.
	ListAfter(ctx context.Context, seq int64, limit int) ([]AuditEvent, error)
	// Archive cursor, tracking the highest sequence already exported.
	ArchiveCursor(ctx context.Context) (int64, error)
	SetArchiveCursor(ctx context.Context, seq int64) error
}

// PaymentStore persists access payments.
type PaymentStore interface {
	Create(ctx context.Context, p AccessPayment) error
	Get(ctx context.Context, paymentID string) (AccessPayment, error)
	// LatestVerified returns the most recent verified, unexpired payment for
	// the payer and endpoint, or ErrNotFound.
	LatestVerified(ctx context.Context, payer, endpoint string, now time.Time) (AccessPayment, error)
}

// Stores bundles the record stores that participate in a commit boundary.
type Stores struct {
	Positions PositionStore
	Decisions DecisionStore
	Audit     AuditStore
	Payments  PaymentStore
}

// TxManager runs fn against transaction-scoped stores. Every state change and
// the audit events documenting it commit or roll back together.
type TxManager interface {
	InTx(ctx context.Context, fn func(s Stores) error) error
}

// LockManager provides exclusive per-entity scopes. Acquire returns an unlock
// function on success, or ErrLockHeld when another party holds the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter bounds how often an action may happen within a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter uploads an object to compliance archive storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
