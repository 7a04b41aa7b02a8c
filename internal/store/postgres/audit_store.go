package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fabrknt/flowguard/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. The backing table
// is append-only; this type issues no UPDATE or DELETE against it.
type AuditStore struct {
	db DBTX
}

// NewAuditStore creates a new AuditStore over the given executor.
func NewAuditStore(db DBTX) *AuditStore {
	return &AuditStore{db: db}
}

// Append inserts a new ledger event and returns the sequence key the database
// assigned to it.
func (s *AuditStore) Append(ctx context.Context, e domain.AuditEvent) (int64, error) {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return 0, fmt.Errorf("postgres: marshal audit payload: %w", err)
	}

	const query = `
		INSERT INTO audit_ledger (event_type, position_id, actor, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq`

	var seq int64
	err = s.db.QueryRow(ctx, query,
		string(e.EventType), e.PositionID, e.Actor, payloadJSON, e.CreatedAt,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: append audit event %s: %w", e.EventType, err)
	}
	return seq, nil
}

func scanAuditRows(rows pgx.Rows) ([]domain.AuditEvent, error) {
	var events []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var eventType string
		var payloadJSON []byte

		if err := rows.Scan(&e.Seq, &eventType, &e.PositionID, &e.Actor, &payloadJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.EventType = domain.AuditEventType(eventType)
		if payloadJSON != nil {
			if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal audit payload: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

const auditSelectCols = `seq, event_type, position_id, actor, payload, created_at`

// List returns ledger events with pagination and optional time filtering, in
// ascending sequence order.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEvent, error) {
	query := `SELECT ` + auditSelectCols + ` FROM audit_ledger WHERE 1=1`
	args := []any{}
	argIdx := 1

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

	query += " ORDER BY seq ASC"

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
		return nil, fmt.Errorf("postgres: list audit events: %w", err)
	}
	defer rows.Close()

	events, err := scanAuditRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit events: %w", err)
	}
	return events, nil
}

// ListByPosition returns the ledger events for one position in ascending
// sequence order.
func (s *AuditStore) ListByPosition(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.AuditEvent, error) {
	query := `SELECT ` + auditSelectCols + ` FROM audit_ledger WHERE position_id = $1 ORDER BY seq ASC`
	args := []any{positionID}
	argIdx := 2

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
		return nil, fmt.Errorf("postgres: list audit events for %s: %w", positionID, err)
	}
	defer rows.Close()

	events, err := scanAuditRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit events: %w", err)
	}
	return events, nil
}

// ListAfter returns up to limit events with seq strictly greater than the
// given sequence, ascending. The compliance archiver pages through the ledger
// with it.
func (s *AuditStore) ListAfter(ctx context.Context, seq int64, limit int) ([]domain.AuditEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+auditSelectCols+` FROM audit_ledger WHERE seq > $1 ORDER BY seq ASC LIMIT $2`,
		seq, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit events after %d: %w", seq, err)
	}
	defer rows.Close()

	events, err := scanAuditRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan audit events: %w", err)
	}
	return events, nil
}

// ArchiveCursor returns the highest sequence already exported to the archive.
func (s *AuditStore) ArchiveCursor(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRow(ctx,
		`SELECT last_seq FROM audit_archive_cursor WHERE id = TRUE`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: read archive cursor: %w", err)
	}
	return seq, nil
}

// SetArchiveCursor advances the archive cursor to seq.
func (s *AuditStore) SetArchiveCursor(ctx context.Context, seq int64) error {
	_, err := s.db.Exec(ctx,
		`UPDATE audit_archive_cursor SET last_seq = $1, updated_at = NOW() WHERE id = TRUE`,
		seq)
	if err != nil {
		return fmt.Errorf("postgres: set archive cursor: %w", err)
	}
	return nil
}
