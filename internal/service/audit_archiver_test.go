package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabrknt/flowguard/internal/domain"
)

func appendEvents(t *testing.T, audit *memAudit, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := audit.Append(context.Background(), domain.AuditEvent{
			EventType: domain.AuditDecisionProposed,
			Actor:     actorSystem,
			CreatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}
}

func TestArchiverExportsSegments(t *testing.T) {
	audit := newMemAudit()
	blob := newMemBlob()
	appendEvents(t, audit, 5)

	a := NewAuditArchiver(audit, blob, time.Minute, 3, "audit", testLogger())

	// First pass exports a full batch and advances the cursor.
	n, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	cursor, err := audit.ArchiveCursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), cursor)

	// Second pass picks up the remainder.
	n, err = a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Third pass finds nothing.
	n, err = a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Len(t, blob.objects, 2)
	assert.Contains(t, blob.objects, "audit/segment-0000000000001-0000000000003.jsonl")
	assert.Contains(t, blob.objects, "audit/segment-0000000000004-0000000000005.jsonl")
}

func TestArchiverSegmentIsValidJSONL(t *testing.T) {
	audit := newMemAudit()
	blob := newMemBlob()
	appendEvents(t, audit, 2)

	a := NewAuditArchiver(audit, blob, time.Minute, 100, "audit", testLogger())
	_, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	data, ok := blob.objects["audit/segment-0000000000001-0000000000002.jsonl"]
	require.True(t, ok)

	sc := bufio.NewScanner(bytes.NewReader(data))
	var seqs []int64
	for sc.Scan() {
		var rec struct {
			Seq       int64  `json:"seq"`
			EventType string `json:"event_type"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		assert.Equal(t, string(domain.AuditDecisionProposed), rec.EventType)
		seqs = append(seqs, rec.Seq)
	}
	assert.Equal(t, []int64{1, 2}, seqs)
}
