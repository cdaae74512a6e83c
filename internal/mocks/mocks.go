// Package mocks holds in-memory doubles for the fairness store, ledger,
// audit sink, catalog, and notifier, with call recording and error
// injection for tests.
package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/slot-admission/internal/domain/item"
	"github.com/example/slot-admission/internal/domain/slot"
	"github.com/example/slot-admission/internal/event"
	"github.com/example/slot-admission/internal/fairness"
	"github.com/example/slot-admission/internal/ledger"
)

// MemoryFairness reproduces the fairness store scripts' semantics behind a
// mutex, which plays the role of Redis's single-threaded execution.
type MemoryFairness struct {
	mu     sync.Mutex
	stock  map[string]int64
	queues map[string]map[string]int64 // item -> requester -> arrival ms
	guards map[string]map[string]bool  // item -> requester
	warned map[string]map[string]bool

	AllocateErr error
	ReclaimErr  error
	ConsumeErr  error

	ReclaimCalls int
}

func NewMemoryFairness() *MemoryFairness {
	return &MemoryFairness{
		stock:  make(map[string]int64),
		queues: make(map[string]map[string]int64),
		guards: make(map[string]map[string]bool),
		warned: make(map[string]map[string]bool),
	}
}

func (m *MemoryFairness) SeedStock(ctx context.Context, itemID string, stock int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[itemID] = stock
	return nil
}

func (m *MemoryFairness) Allocate(ctx context.Context, itemID, requesterID string, arrivalAt time.Time, guardTTL time.Duration) (fairness.AllocateResult, error) {
	if m.AllocateErr != nil {
		return fairness.AllocateResult{}, m.AllocateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.guards[itemID][requesterID] {
		return fairness.AllocateResult{Outcome: fairness.OutcomeDuplicate}, nil
	}
	if m.stock[itemID] <= 0 {
		return fairness.AllocateResult{Outcome: fairness.OutcomeSoldOut}, nil
	}
	m.stock[itemID]--
	if m.queues[itemID] == nil {
		m.queues[itemID] = make(map[string]int64)
	}
	m.queues[itemID][requesterID] = arrivalAt.UnixMilli()
	if m.guards[itemID] == nil {
		m.guards[itemID] = make(map[string]bool)
	}
	m.guards[itemID][requesterID] = true

	return fairness.AllocateResult{
		Outcome:        fairness.OutcomeSuccess,
		Position:       m.rankLocked(itemID, requesterID),
		RemainingStock: m.stock[itemID],
	}, nil
}

// rankLocked computes the 1-indexed rank by (arrival ms, requester id),
// matching ZSET ordering.
func (m *MemoryFairness) rankLocked(itemID, requesterID string) int64 {
	entries := m.sortedLocked(itemID)
	for i, e := range entries {
		if e.RequesterID == requesterID {
			return int64(i + 1)
		}
	}
	return 0
}

func (m *MemoryFairness) sortedLocked(itemID string) []fairness.Entry {
	entries := make([]fairness.Entry, 0, len(m.queues[itemID]))
	for r, ms := range m.queues[itemID] {
		entries = append(entries, fairness.Entry{RequesterID: r, ArrivalAt: time.UnixMilli(ms).UTC()})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ArrivalAt.Equal(entries[j].ArrivalAt) {
			return entries[i].ArrivalAt.Before(entries[j].ArrivalAt)
		}
		return entries[i].RequesterID < entries[j].RequesterID
	})
	return entries
}

func (m *MemoryFairness) Reclaim(ctx context.Context, itemID, requesterID string) (bool, error) {
	if m.ReclaimErr != nil {
		return false, m.ReclaimErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReclaimCalls++

	if _, ok := m.queues[itemID][requesterID]; !ok {
		return false, nil
	}
	delete(m.queues[itemID], requesterID)
	delete(m.guards[itemID], requesterID)
	delete(m.warned[itemID], requesterID)
	m.stock[itemID]++
	return true, nil
}

func (m *MemoryFairness) Consume(ctx context.Context, itemID, requesterID string) (bool, error) {
	if m.ConsumeErr != nil {
		return false, m.ConsumeErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[itemID][requesterID]; !ok {
		return false, nil
	}
	delete(m.queues[itemID], requesterID)
	delete(m.guards[itemID], requesterID)
	delete(m.warned[itemID], requesterID)
	return true, nil
}

func (m *MemoryFairness) HasGuard(ctx context.Context, itemID, requesterID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guards[itemID][requesterID], nil
}

func (m *MemoryFairness) Items(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.stock))
	for id := range m.stock {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryFairness) Stock(ctx context.Context, itemID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[itemID], nil
}

func (m *MemoryFairness) QueueSize(ctx context.Context, itemID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.queues[itemID])), nil
}

func (m *MemoryFairness) Dump(ctx context.Context, itemID string) ([]fairness.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedLocked(itemID), nil
}

func (m *MemoryFairness) ExpiredBefore(ctx context.Context, itemID string, cutoff time.Time) ([]fairness.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []fairness.Entry
	for _, e := range m.sortedLocked(itemID) {
		if !e.ArrivalAt.After(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryFairness) ExpiringBetween(ctx context.Context, itemID string, from, to time.Time) ([]fairness.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []fairness.Entry
	for _, e := range m.sortedLocked(itemID) {
		if e.ArrivalAt.After(from) && !e.ArrivalAt.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryFairness) MarkWarned(ctx context.Context, itemID, requesterID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.warned[itemID][requesterID] {
		return false, nil
	}
	if m.warned[itemID] == nil {
		m.warned[itemID] = make(map[string]bool)
	}
	m.warned[itemID][requesterID] = true
	return true, nil
}

func (m *MemoryFairness) Restore(ctx context.Context, itemID, requesterID string, arrivalAt time.Time, guardTTL time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queues[itemID] == nil {
		m.queues[itemID] = make(map[string]int64)
	}
	m.queues[itemID][requesterID] = arrivalAt.UnixMilli()
	if m.guards[itemID] == nil {
		m.guards[itemID] = make(map[string]bool)
	}
	m.guards[itemID][requesterID] = true
	return nil
}

// MemoryLedger is an in-memory slot ledger with error injection.
type MemoryLedger struct {
	mu    sync.Mutex
	slots map[string]slot.Slot

	InsertErr      error
	InsertErrCount int // fail this many Insert calls, then succeed
	InsertCalls    int
	MarkExpiredErr error
	GetErr         error
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{slots: make(map[string]slot.Slot)}
}

func (m *MemoryLedger) InsertSlot(ctx context.Context, s slot.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertCalls++
	if m.InsertErr != nil && (m.InsertErrCount == 0 || m.InsertCalls <= m.InsertErrCount) {
		return m.InsertErr
	}
	m.slots[s.ID] = s
	return nil
}

func (m *MemoryLedger) GetSlot(ctx context.Context, id string) (slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return slot.Slot{}, m.GetErr
	}
	s, ok := m.slots[id]
	if !ok {
		return slot.Slot{}, slot.ErrSlotNotFound
	}
	return s, nil
}

func (m *MemoryLedger) FindActiveSlot(ctx context.Context, requesterID, itemID string) (*slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.RequesterID == requesterID && s.ItemID == itemID && s.Status == slot.StatusActive {
			out := s
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemoryLedger) ListRequesterSlots(ctx context.Context, requesterID, itemID string) ([]slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []slot.Slot
	for _, s := range m.slots {
		if s.RequesterID != requesterID {
			continue
		}
		if itemID != "" && s.ItemID != itemID {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AcquiredAt.After(out[j].AcquiredAt) })
	return out, nil
}

func (m *MemoryLedger) ListActiveSlots(ctx context.Context) ([]slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []slot.Slot
	for _, s := range m.slots {
		if s.Status == slot.StatusActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AcquiredAt.Before(out[j].AcquiredAt) })
	return out, nil
}

func (m *MemoryLedger) FindQueueSlot(ctx context.Context, itemID, requesterID string, acquiredAt time.Time) (*slot.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.ItemID == itemID && s.RequesterID == requesterID &&
			s.AcquiredAt.Equal(acquiredAt) && s.Status == slot.StatusActive {
			out := s
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemoryLedger) MarkExpired(ctx context.Context, id string, reason slot.ReclaimReason) (bool, error) {
	if m.MarkExpiredErr != nil {
		return false, m.MarkExpiredErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok || s.Status != slot.StatusActive {
		return false, nil
	}
	s.Status = slot.StatusExpired
	s.ReclaimReason = reason
	m.slots[id] = s
	return true, nil
}

func (m *MemoryLedger) MarkCompleted(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok || s.Status != slot.StatusActive {
		return false, nil
	}
	s.Status = slot.StatusCompleted
	m.slots[id] = s
	return true, nil
}

// MemoryAudit records appended entries.
type MemoryAudit struct {
	mu      sync.Mutex
	Entries []ledger.AuditEntry

	AppendErr error
}

func NewMemoryAudit() *MemoryAudit {
	return &MemoryAudit{}
}

func (m *MemoryAudit) Append(ctx context.Context, entry ledger.AuditEntry) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, entry)
	return nil
}

// RecordingNotifier captures emitted events.
type RecordingNotifier struct {
	mu     sync.Mutex
	Events []event.SlotEvent
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) Emit(ctx context.Context, ev event.SlotEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Events = append(n.Events, ev)
}

// ByType returns captured events of one type.
func (n *RecordingNotifier) ByType(eventType string) []event.SlotEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []event.SlotEvent
	for _, ev := range n.Events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// StubCatalog serves items from a map.
type StubCatalog struct {
	mu        sync.Mutex
	items     map[string]item.Item
	committed map[string]int64

	GetErr error
}

func NewStubCatalog(items ...item.Item) *StubCatalog {
	c := &StubCatalog{
		items:     make(map[string]item.Item),
		committed: make(map[string]int64),
	}
	for _, it := range items {
		c.items[it.ID] = it
	}
	return c
}

func (c *StubCatalog) InsertItem(ctx context.Context, it item.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[it.ID] = it
	return nil
}

func (c *StubCatalog) GetItem(ctx context.Context, id string) (item.Item, error) {
	if c.GetErr != nil {
		return item.Item{}, c.GetErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[id]
	if !ok {
		return item.Item{}, item.ErrItemNotFound
	}
	return it, nil
}

func (c *StubCatalog) CountCommittedStock(ctx context.Context, itemID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed[itemID], nil
}

// SetCommitted sets the ledger-recorded allocation count for an item.
func (c *StubCatalog) SetCommitted(itemID string, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed[itemID] = n
}
