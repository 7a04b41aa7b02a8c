package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fabrknt/flowguard/internal/domain"
)

// In-memory store fakes shared by the service tests.

type memPositions struct {
	mu   sync.Mutex
	byID map[string]domain.Position
}

func newMemPositions() *memPositions {
	return &memPositions{byID: make(map[string]domain.Position)}
}

func (m *memPositions) Create(_ context.Context, p domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Owner == p.Owner && existing.PositionIndex == p.PositionIndex {
			return domain.ErrAlreadyExists
		}
	}
	m.byID[p.ID] = p
	return nil
}

func (m *memPositions) Get(_ context.Context, owner string, index uint8) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.Owner == owner && p.PositionIndex == index {
			return p, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (m *memPositions) GetByID(_ context.Context, id string) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[id]; ok {
		return p, nil
	}
	return domain.Position{}, domain.ErrNotFound
}

func (m *memPositions) Update(_ context.Context, p domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[p.ID]; !ok {
		return domain.ErrNotFound
	}
	m.byID[p.ID] = p
	return nil
}

func (m *memPositions) ListByOwner(_ context.Context, owner string, _ domain.ListOpts) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.byID {
		if p.Owner == owner {
			out = append(out, p)
		}
	}
	return out, nil
}

type memDecisions struct {
	mu   sync.Mutex
	byID map[string]domain.Decision
}

func newMemDecisions() *memDecisions {
	return &memDecisions{byID: make(map[string]domain.Decision)}
}

func (m *memDecisions) Create(_ context.Context, d domain.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.PositionID == d.PositionID && existing.DecisionIndex == d.DecisionIndex {
			return domain.ErrAlreadyExists
		}
	}
	m.byID[d.ID] = d
	return nil
}

func (m *memDecisions) Get(_ context.Context, positionID string, index uint32) (domain.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.byID {
		if d.PositionID == positionID && d.DecisionIndex == index {
			return d, nil
		}
	}
	return domain.Decision{}, domain.ErrNotFound
}

func (m *memDecisions) Update(_ context.Context, d domain.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[d.ID]; !ok {
		return domain.ErrNotFound
	}
	m.byID[d.ID] = d
	return nil
}

func (m *memDecisions) ListByPosition(_ context.Context, positionID string, _ domain.ListOpts) ([]domain.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Decision
	for _, d := range m.byID {
		if d.PositionID == positionID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDecisions) NextIndex(_ context.Context, positionID string) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next uint32
	for _, d := range m.byID {
		if d.PositionID == positionID && d.DecisionIndex >= next {
			next = d.DecisionIndex + 1
		}
	}
	return next, nil
}

type memAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	cursor int64
}

func newMemAudit() *memAudit {
	return &memAudit{}
}

func (m *memAudit) Append(_ context.Context, e domain.AuditEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Seq = int64(len(m.events) + 1)
	m.events = append(m.events, e)
	return e.Seq, nil
}

func (m *memAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEvent(nil), m.events...), nil
}

func (m *memAudit) ListByPosition(_ context.Context, positionID string, _ domain.ListOpts) ([]domain.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range m.events {
		if e.PositionID != nil && *e.PositionID == positionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAudit) ListAfter(_ context.Context, seq int64, limit int) ([]domain.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range m.events {
		if e.Seq > seq {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memAudit) ArchiveCursor(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, nil
}

func (m *memAudit) SetArchiveCursor(_ context.Context, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = seq
	return nil
}

// eventTypes returns the ledger event types in append order.
func (m *memAudit) eventTypes() []domain.AuditEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AuditEventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.EventType)
	}
	return out
}

type memPayments struct {
	mu   sync.Mutex
	byID map[string]domain.AccessPayment
}

func newMemPayments() *memPayments {
	return &memPayments{byID: make(map[string]domain.AccessPayment)}
}

func (m *memPayments) Create(_ context.Context, p domain.AccessPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[p.PaymentID]; ok {
		return domain.ErrAlreadyExists
	}
	m.byID[p.PaymentID] = p
	return nil
}

func (m *memPayments) Get(_ context.Context, paymentID string) (domain.AccessPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[paymentID]; ok {
		return p, nil
	}
	return domain.AccessPayment{}, domain.ErrNotFound
}

func (m *memPayments) LatestVerified(_ context.Context, payer, endpoint string, now time.Time) (domain.AccessPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *domain.AccessPayment
	for _, p := range m.byID {
		p := p
		if p.Payer != payer || p.Endpoint != endpoint || !p.AccessGranted {
			continue
		}
		if p.AccessExpiresAt != nil && !p.AccessExpiresAt.After(now) {
			continue
		}
		if best == nil || (p.VerifiedAt != nil && best.VerifiedAt != nil && p.VerifiedAt.After(*best.VerifiedAt)) {
			best = &p
		}
	}
	if best == nil {
		return domain.AccessPayment{}, domain.ErrNotFound
	}
	return *best, nil
}

// memTx runs fn directly against the backing stores. It does not emulate
// rollback; the tests assert on happy-path and precondition failures that
// never reach the commit.
type memTx struct {
	stores domain.Stores
}

func (m *memTx) InTx(_ context.Context, fn func(s domain.Stores) error) error {
	return fn(m.stores)
}

// memLocks is an in-process lock table with real mutual exclusion.
type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocks() *memLocks {
	return &memLocks{held: make(map[string]bool)}
}

func (m *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	released := false
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !released {
			released = true
			delete(m.held, key)
		}
	}, nil
}

// memLimiter counts per key, ignoring the window.
type memLimiter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMemLimiter() *memLimiter {
	return &memLimiter{counts: make(map[string]int)}
}

func (m *memLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[key] >= limit {
		return false, nil
	}
	m.counts[key]++
	return true, nil
}

// memBlob records uploaded objects by path.
type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (m *memBlob) Put(_ context.Context, path string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[path]; ok {
		return fmt.Errorf("object %s already exists", path)
	}
	m.objects[path] = append([]byte(nil), data...)
	return nil
}

// testEnv bundles the fakes behind the interfaces the services consume.
type testEnv struct {
	positions *memPositions
	decisions *memDecisions
	audit     *memAudit
	payments  *memPayments
	stores    domain.Stores
	tx        *memTx
	locks     *memLocks
	limiter   *memLimiter
}

func newTestEnv() *testEnv {
	env := &testEnv{
		positions: newMemPositions(),
		decisions: newMemDecisions(),
		audit:     newMemAudit(),
		payments:  newMemPayments(),
		locks:     newMemLocks(),
		limiter:   newMemLimiter(),
	}
	env.stores = domain.Stores{
		Positions: env.positions,
		Decisions: env.decisions,
		Audit:     env.audit,
		Payments:  env.payments,
	}
	env.tx = &memTx{stores: env.stores}
	return env
}
