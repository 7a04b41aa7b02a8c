package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fabrknt/flowguard/internal/domain"
)

// NewStores builds a domain.Stores bundle over the given query executor. Pass
// a pool for standalone use or a pgx.Tx for transaction-scoped stores.
func NewStores(db DBTX) domain.Stores {
	return domain.Stores{
		Positions: NewPositionStore(db),
		Decisions: NewDecisionStore(db),
		Audit:     NewAuditStore(db),
		Payments:  NewPaymentStore(db),
	}
}

// TxManager implements domain.TxManager over a pgx connection pool. Every
// state change and the audit events documenting it commit or roll back as one
// unit.
type TxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager creates a TxManager backed by the given pool.
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// InTx begins a transaction, runs fn against transaction-scoped stores, and
// commits. Any error from fn rolls the transaction back and is returned as-is
// so sentinel checks with errors.Is keep working.
func (m *TxManager) InTx(ctx context.Context, fn func(s domain.Stores) error) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(NewStores(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}
