package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fabrknt/flowguard/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	db DBTX
}

// NewPositionStore creates a new PositionStore over the given executor.
func NewPositionStore(db DBTX) *PositionStore {
	return &PositionStore{db: db}
}

const positionSelectCols = `id, owner, position_index, token_a, token_b,
	venue_kind, pool_address, tick_lower, tick_upper, price_lower, price_upper,
	liquidity_amount, fees_earned_a, fees_earned_b, total_value_locked,
	last_rebalance_slot, last_rebalance_timestamp, rebalance_count,
	status, auto_rebalance, min_rebalance_interval_sec,
	max_position_size, max_single_trade, created_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var venueKind, status string
	var lastRebalance *time.Time
	var intervalSec int64

	err := row.Scan(
		&p.ID, &p.Owner, &p.PositionIndex, &p.TokenA, &p.TokenB,
		&venueKind, &p.PoolAddress,
		&p.TickLower, &p.TickUpper, &p.PriceLower, &p.PriceUpper,
		&p.LiquidityAmount, &p.FeesEarnedA, &p.FeesEarnedB, &p.TotalValueLocked,
		&p.LastRebalanceSlot, &lastRebalance, &p.RebalanceCount,
		&status, &p.AutoRebalance, &intervalSec,
		&p.MaxPositionSize, &p.MaxSingleTrade,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.VenueKind = domain.VenueKind(venueKind)
	p.Status = domain.PositionStatus(status)
	p.MinRebalanceInterval = time.Duration(intervalSec) * time.Second
	if lastRebalance != nil {
		p.LastRebalanceTimestamp = *lastRebalance
	}
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// nullableTime maps the zero time onto SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Create inserts a new position. A duplicate (owner, position_index) pair maps
// to domain.ErrAlreadyExists.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, owner, position_index, token_a, token_b,
			venue_kind, pool_address, tick_lower, tick_upper, price_lower, price_upper,
			liquidity_amount, fees_earned_a, fees_earned_b, total_value_locked,
			last_rebalance_slot, last_rebalance_timestamp, rebalance_count,
			status, auto_rebalance, min_rebalance_interval_sec,
			max_position_size, max_single_trade, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18,
			$19, $20, $21,
			$22, $23, $24, NOW()
		)`

	_, err := s.db.Exec(ctx, query,
		p.ID, p.Owner, p.PositionIndex, p.TokenA, p.TokenB,
		string(p.VenueKind), p.PoolAddress,
		p.TickLower, p.TickUpper, p.PriceLower, p.PriceUpper,
		p.LiquidityAmount, p.FeesEarnedA, p.FeesEarnedB, p.TotalValueLocked,
		p.LastRebalanceSlot, nullableTime(p.LastRebalanceTimestamp), p.RebalanceCount,
		string(p.Status), p.AutoRebalance, int64(p.MinRebalanceInterval/time.Second),
		p.MaxPositionSize, p.MaxSingleTrade, p.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Get retrieves a position by its (owner, index) key.
func (s *PositionStore) Get(ctx context.Context, owner string, index uint8) (domain.Position, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE owner = $1 AND position_index = $2`, owner, index)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%d: %w", owner, index, err)
	}
	return p, nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			tick_lower               = $2,
			tick_upper               = $3,
			price_lower              = $4,
			price_upper              = $5,
			liquidity_amount         = $6,
			fees_earned_a            = $7,
			fees_earned_b            = $8,
			total_value_locked       = $9,
			last_rebalance_slot      = $10,
			last_rebalance_timestamp = $11,
			rebalance_count          = $12,
			status                   = $13,
			auto_rebalance           = $14,
			min_rebalance_interval_sec = $15,
			updated_at               = NOW()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query,
		p.ID,
		p.TickLower, p.TickUpper, p.PriceLower, p.PriceUpper,
		p.LiquidityAmount, p.FeesEarnedA, p.FeesEarnedB, p.TotalValueLocked,
		p.LastRebalanceSlot, nullableTime(p.LastRebalanceTimestamp), p.RebalanceCount,
		string(p.Status), p.AutoRebalance, int64(p.MinRebalanceInterval/time.Second),
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByOwner returns positions for the given owner with pagination and
// optional time filtering on created_at.
func (s *PositionStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE owner = $1`
	args := []any{owner}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY position_index ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}
