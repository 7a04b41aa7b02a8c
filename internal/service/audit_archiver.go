package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fabrknt/flowguard/internal/domain"
	"github.com/fabrknt/flowguard/internal/metrics"
)

// AuditArchiver exports ledger segments to blob storage as JSONL, tracking its
// progress with the store's archive cursor so each event is exported exactly
// once.
type AuditArchiver struct {
	audit  domain.AuditStore
	blob   domain.BlobWriter
	logger *slog.Logger

	interval  time.Duration
	batchSize int
	prefix    string
}

// NewAuditArchiver creates an archiver that polls every interval and exports
// up to batchSize events per segment.
func NewAuditArchiver(audit domain.AuditStore, blob domain.BlobWriter, interval time.Duration, batchSize int, prefix string, logger *slog.Logger) *AuditArchiver {
	if batchSize <= 0 {
		batchSize = 500
	}
	if prefix == "" {
		prefix = "audit"
	}
	return &AuditArchiver{
		audit:     audit,
		blob:      blob,
		logger:    logger.With(slog.String("component", "audit_archiver")),
		interval:  interval,
		batchSize: batchSize,
		prefix:    prefix,
	}
}

// Run polls the ledger until the context is cancelled. Errors are logged and
// retried on the next tick.
func (a *AuditArchiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.RunOnce(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed",
					slog.String("error", err.Error()),
				)
			} else if n > 0 {
				a.logger.InfoContext(ctx, "archived ledger segment",
					slog.Int("events", n),
				)
			}
		}
	}
}

// RunOnce exports one segment of unarchived events and advances the cursor.
// It returns the number of events exported.
func (a *AuditArchiver) RunOnce(ctx context.Context) (int, error) {
	cursor, err := a.audit.ArchiveCursor(ctx)
	if err != nil {
		return 0, err
	}

	events, err := a.audit.ListAfter(ctx, cursor, a.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range events {
		if err := enc.Encode(auditRecord(e)); err != nil {
			return 0, fmt.Errorf("audit_archiver: encode event %d: %w", e.Seq, err)
		}
	}

	first, last := events[0].Seq, events[len(events)-1].Seq
	path := fmt.Sprintf("%s/segment-%013d-%013d.jsonl", a.prefix, first, last)

	if err := a.blob.Put(ctx, path, buf.Bytes(), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("audit_archiver: upload %s: %w", path, err)
	}

	// Advance the cursor only after the segment is durable. A crash between
	// upload and cursor update re-exports the same segment to the same path,
	// which is idempotent.
	if err := a.audit.SetArchiveCursor(ctx, last); err != nil {
		return 0, fmt.Errorf("audit_archiver: advance cursor: %w", err)
	}

	metrics.AuditEventsArchived.Add(float64(len(events)))
	return len(events), nil
}

type archivedEvent struct {
	Seq        int64          `json:"seq"`
	EventType  string         `json:"event_type"`
	PositionID *string        `json:"position_id,omitempty"`
	Actor      string         `json:"actor"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

func auditRecord(e domain.AuditEvent) archivedEvent {
	return archivedEvent{
		Seq:        e.Seq,
		EventType:  string(e.EventType),
		PositionID: e.PositionID,
		Actor:      e.Actor,
		Payload:    e.Payload,
		CreatedAt:  e.CreatedAt,
	}
}
