package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fabrknt/flowguard/internal/domain"
)

// DecisionStore implements domain.DecisionStore using PostgreSQL.
type DecisionStore struct {
	db DBTX
}

// NewDecisionStore creates a new DecisionStore over the given executor.
func NewDecisionStore(db DBTX) *DecisionStore {
	return &DecisionStore{db: db}
}

const decisionSelectCols = `id, position_id, decision_index,
	new_tick_lower, new_tick_upper, new_price_lower, new_price_upper,
	model_version, model_hash, confidence, sentiment, volatility, whale_activity,
	on_chain_indicators, reason, risk_tier, execution_status,
	execution_signature, execution_slippage_bps, external_swap_ref, expected_out,
	requires_human_approval, approver, approved_at, created_at, executed_at`

func scanDecisionRow(row pgx.Row) (domain.Decision, error) {
	var d domain.Decision
	var riskTier, execStatus string
	var slippage *int32

	err := row.Scan(
		&d.ID, &d.PositionID, &d.DecisionIndex,
		&d.NewTickLower, &d.NewTickUpper, &d.NewPriceLower, &d.NewPriceUpper,
		&d.AI.ModelVersion, &d.AI.ModelHash,
		&d.AI.Confidence, &d.AI.Sentiment, &d.AI.Volatility, &d.AI.WhaleActivity,
		&d.AI.OnChainIndicators, &d.Reason, &riskTier, &execStatus,
		&d.ExecutionSignature, &slippage, &d.ExternalSwapRef, &d.ExpectedOut,
		&d.RequiresHumanApproval, &d.Approver, &d.ApprovedAt,
		&d.CreatedAt, &d.ExecutedAt,
	)
	if err != nil {
		return domain.Decision{}, err
	}
	d.RiskTier = domain.RiskTier(riskTier)
	d.ExecutionStatus = domain.ExecutionStatus(execStatus)
	if slippage != nil {
		bps := uint16(*slippage)
		d.ExecutionSlippageBps = &bps
	}
	return d, nil
}

func scanDecisionRows(rows pgx.Rows) ([]domain.Decision, error) {
	var decisions []domain.Decision
	for rows.Next() {
		d, err := scanDecisionRow(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func slippageArg(bps *uint16) *int32 {
	if bps == nil {
		return nil
	}
	v := int32(*bps)
	return &v
}

// Create inserts a new decision. A duplicate (position_id, decision_index)
// pair maps to domain.ErrAlreadyExists.
func (s *DecisionStore) Create(ctx context.Context, d domain.Decision) error {
	const query = `
		INSERT INTO decisions (
			id, position_id, decision_index,
			new_tick_lower, new_tick_upper, new_price_lower, new_price_upper,
			model_version, model_hash, confidence, sentiment, volatility, whale_activity,
			on_chain_indicators, reason, risk_tier, execution_status,
			execution_signature, execution_slippage_bps, external_swap_ref, expected_out,
			requires_human_approval, approver, approved_at, created_at, executed_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21,
			$22, $23, $24, $25, $26
		)`

	_, err := s.db.Exec(ctx, query,
		d.ID, d.PositionID, d.DecisionIndex,
		d.NewTickLower, d.NewTickUpper, d.NewPriceLower, d.NewPriceUpper,
		d.AI.ModelVersion, d.AI.ModelHash,
		d.AI.Confidence, d.AI.Sentiment, d.AI.Volatility, d.AI.WhaleActivity,
		d.AI.OnChainIndicators, d.Reason, string(d.RiskTier), string(d.ExecutionStatus),
		d.ExecutionSignature, slippageArg(d.ExecutionSlippageBps), d.ExternalSwapRef, d.ExpectedOut,
		d.RequiresHumanApproval, d.Approver, d.ApprovedAt, d.CreatedAt, d.ExecutedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create decision %s: %w", d.ID, err)
	}
	return nil
}

// Get retrieves a decision by its (position_id, index) key.
func (s *DecisionStore) Get(ctx context.Context, positionID string, index uint32) (domain.Decision, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+decisionSelectCols+` FROM decisions
		 WHERE position_id = $1 AND decision_index = $2`, positionID, index)

	d, err := scanDecisionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Decision{}, domain.ErrNotFound
		}
		return domain.Decision{}, fmt.Errorf("postgres: get decision %s/%d: %w", positionID, index, err)
	}
	return d, nil
}

// Update replaces the mutable fields of a decision: execution outcome and the
// approval record. The proposal payload itself is immutable.
func (s *DecisionStore) Update(ctx context.Context, d domain.Decision) error {
	const query = `
		UPDATE decisions SET
			execution_status       = $2,
			execution_signature    = $3,
			execution_slippage_bps = $4,
			approver               = $5,
			approved_at            = $6,
			executed_at            = $7
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query,
		d.ID,
		string(d.ExecutionStatus), d.ExecutionSignature, slippageArg(d.ExecutionSlippageBps),
		d.Approver, d.ApprovedAt, d.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update decision %s: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByPosition returns decisions for the given position, newest first.
func (s *DecisionStore) ListByPosition(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.Decision, error) {
	query := `SELECT ` + decisionSelectCols + ` FROM decisions WHERE position_id = $1`
	args := []any{positionID}
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

	query += " ORDER BY decision_index DESC"

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
		return nil, fmt.Errorf("postgres: list decisions: %w", err)
	}
	defer rows.Close()

	decisions, err := scanDecisionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan decisions: %w", err)
	}
	return decisions, nil
}

// NextIndex returns the next free decision index for a position.
func (s *DecisionStore) NextIndex(ctx context.Context, positionID string) (uint32, error) {
	var next int64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(decision_index) + 1, 0) FROM decisions WHERE position_id = $1`,
		positionID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("postgres: next decision index for %s: %w", positionID, err)
	}
	return uint32(next), nil
}
