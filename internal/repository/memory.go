package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mpokorn/EventGo-backend/internal/model"
)

// MemoryStore is a mutex-guarded in-memory implementation of Store. It
// backs the test suite and local demo mode. A WithinTx unit holds the
// store lock for its whole duration, which gives the same serialisation
// guarantees the PostgreSQL row locks provide; rollback-on-error is not
// emulated, so callers must (and do) run their checks before their writes.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState
}

type memoryState struct {
	events       map[string]*model.Event
	ticketTypes  map[string]*model.TicketType
	tickets      map[string]*model.Ticket
	transactions map[string]*model.Transaction
	entries      map[string]*model.WaitlistEntry
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memoryState{
			events:       make(map[string]*model.Event),
			ticketTypes:  make(map[string]*model.TicketType),
			tickets:      make(map[string]*model.Ticket),
			transactions: make(map[string]*model.Transaction),
			entries:      make(map[string]*model.WaitlistEntry),
		},
	}
}

// ─── Seeding helpers (not part of Store) ──────────────────────────────────

// SeedEvent inserts an event directly; event CRUD is outside the core.
func (m *MemoryStore) SeedEvent(e model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.events[e.ID] = &e
}

// SeedTicketType inserts a ticket type directly.
func (m *MemoryStore) SeedTicketType(t model.TicketType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ticketTypes[t.ID] = &t
}

// SeedTicket inserts a ticket directly.
func (m *MemoryStore) SeedTicket(t model.Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.tickets[t.ID] = &t
}

// SeedTransaction inserts a transaction directly.
func (m *MemoryStore) SeedTransaction(t model.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.transactions[t.ID] = &t
}

// AllTransactions snapshots every transaction, in no particular order.
func (m *MemoryStore) AllTransactions() []model.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Transaction, 0, len(m.state.transactions))
	for _, t := range m.state.transactions {
		out = append(out, *t)
	}
	return out
}

// AllTickets snapshots every ticket, in no particular order.
func (m *MemoryStore) AllTickets() []model.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Ticket, 0, len(m.state.tickets))
	for _, t := range m.state.tickets {
		out = append(out, *t)
	}
	return out
}

// ─── Store implementation ─────────────────────────────────────────────────

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, &memoryTx{state: &m.state})
}

func (m *MemoryStore) Event(ctx context.Context, id string) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.event(id)
}

func (m *MemoryStore) EventForUpdate(ctx context.Context, id string) (*model.Event, error) {
	return m.Event(ctx, id)
}

func (m *MemoryStore) RecomputeEventCounters(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.recomputeEventCounters(eventID)
}

func (m *MemoryStore) TicketType(ctx context.Context, id string) (*model.TicketType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ticketType(id)
}

func (m *MemoryStore) AdjustTicketTypeSold(ctx context.Context, id string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.adjustTicketTypeSold(id, delta)
}

func (m *MemoryStore) RecountTicketTypeSold(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.recountTicketTypeSold(id)
}

func (m *MemoryStore) Ticket(ctx context.Context, id string) (*model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ticket(id)
}

func (m *MemoryStore) TicketForUpdate(ctx context.Context, id string) (*model.Ticket, error) {
	return m.Ticket(ctx, id)
}

func (m *MemoryStore) ReservedTicketByTransaction(ctx context.Context, transactionID string) (*model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.reservedTicketByTransaction(transactionID)
}

func (m *MemoryStore) UnmatchedPendingReturnForUpdate(ctx context.Context, eventID string) (*model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.unmatchedPendingReturn(eventID), nil
}

func (m *MemoryStore) OldestPendingReturnForUpdate(ctx context.Context, eventID, ticketTypeID string) (*model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.oldestPendingReturn(eventID, ticketTypeID), nil
}

func (m *MemoryStore) ExpiredReservationTicketIDs(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.expiredReservationTicketIDs(now), nil
}

func (m *MemoryStore) ExpiredReservedTicketForUpdate(ctx context.Context, ticketID string, now time.Time) (*model.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.expiredReservedTicket(ticketID, now), nil
}

func (m *MemoryStore) CreateTicket(ctx context.Context, t *model.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.createTicket(t)
}

func (m *MemoryStore) UpdateTicketStatus(ctx context.Context, id string, status model.TicketStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateTicketStatus(id, status)
}

func (m *MemoryStore) DeleteTicket(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.deleteTicket(id)
}

func (m *MemoryStore) Transaction(ctx context.Context, id string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.transaction(id)
}

func (m *MemoryStore) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.createTransaction(t)
}

func (m *MemoryStore) UpdateTransactionStatus(ctx context.Context, id string, status model.TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateTransactionStatus(id, status)
}

func (m *MemoryStore) WaitlistEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.waitlistEntry(id)
}

func (m *MemoryStore) WaitlistEntryByUser(ctx context.Context, eventID, userID string) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.waitlistEntryByUser(eventID, userID)
}

func (m *MemoryStore) WaitlistPosition(ctx context.Context, eventID, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.waitlistPosition(eventID, userID)
}

func (m *MemoryStore) NextUnclaimedEntry(ctx context.Context, eventID string) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.nextUnclaimedEntry(eventID), nil
}

func (m *MemoryStore) CreateWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.createWaitlistEntry(e)
}

func (m *MemoryStore) MarkEntryOffered(ctx context.Context, id string, offeredAt, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.markEntryOffered(id, offeredAt, expiresAt)
}

func (m *MemoryStore) DeleteWaitlistEntry(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.deleteWaitlistEntry(id)
}

// memoryTx is the tx-bound view handed to WithinTx callbacks. The store
// lock is already held, so it delegates without locking; nested WithinTx
// joins the unit.
type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) WithinTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	return fn(ctx, t)
}

func (t *memoryTx) Event(ctx context.Context, id string) (*model.Event, error) {
	return t.state.event(id)
}

func (t *memoryTx) EventForUpdate(ctx context.Context, id string) (*model.Event, error) {
	return t.state.event(id)
}

func (t *memoryTx) RecomputeEventCounters(ctx context.Context, eventID string) error {
	return t.state.recomputeEventCounters(eventID)
}

func (t *memoryTx) TicketType(ctx context.Context, id string) (*model.TicketType, error) {
	return t.state.ticketType(id)
}

func (t *memoryTx) AdjustTicketTypeSold(ctx context.Context, id string, delta int) error {
	return t.state.adjustTicketTypeSold(id, delta)
}

func (t *memoryTx) RecountTicketTypeSold(ctx context.Context, id string) (int, error) {
	return t.state.recountTicketTypeSold(id)
}

func (t *memoryTx) Ticket(ctx context.Context, id string) (*model.Ticket, error) {
	return t.state.ticket(id)
}

func (t *memoryTx) TicketForUpdate(ctx context.Context, id string) (*model.Ticket, error) {
	return t.state.ticket(id)
}

func (t *memoryTx) ReservedTicketByTransaction(ctx context.Context, transactionID string) (*model.Ticket, error) {
	return t.state.reservedTicketByTransaction(transactionID)
}

func (t *memoryTx) UnmatchedPendingReturnForUpdate(ctx context.Context, eventID string) (*model.Ticket, error) {
	return t.state.unmatchedPendingReturn(eventID), nil
}

func (t *memoryTx) OldestPendingReturnForUpdate(ctx context.Context, eventID, ticketTypeID string) (*model.Ticket, error) {
	return t.state.oldestPendingReturn(eventID, ticketTypeID), nil
}

func (t *memoryTx) ExpiredReservationTicketIDs(ctx context.Context, now time.Time) ([]string, error) {
	return t.state.expiredReservationTicketIDs(now), nil
}

func (t *memoryTx) ExpiredReservedTicketForUpdate(ctx context.Context, ticketID string, now time.Time) (*model.Ticket, error) {
	return t.state.expiredReservedTicket(ticketID, now), nil
}

func (t *memoryTx) CreateTicket(ctx context.Context, tk *model.Ticket) error {
	return t.state.createTicket(tk)
}

func (t *memoryTx) UpdateTicketStatus(ctx context.Context, id string, status model.TicketStatus) error {
	return t.state.updateTicketStatus(id, status)
}

func (t *memoryTx) DeleteTicket(ctx context.Context, id string) error {
	return t.state.deleteTicket(id)
}

func (t *memoryTx) Transaction(ctx context.Context, id string) (*model.Transaction, error) {
	return t.state.transaction(id)
}

func (t *memoryTx) CreateTransaction(ctx context.Context, tr *model.Transaction) error {
	return t.state.createTransaction(tr)
}

func (t *memoryTx) UpdateTransactionStatus(ctx context.Context, id string, status model.TransactionStatus) error {
	return t.state.updateTransactionStatus(id, status)
}

func (t *memoryTx) WaitlistEntry(ctx context.Context, id string) (*model.WaitlistEntry, error) {
	return t.state.waitlistEntry(id)
}

func (t *memoryTx) WaitlistEntryByUser(ctx context.Context, eventID, userID string) (*model.WaitlistEntry, error) {
	return t.state.waitlistEntryByUser(eventID, userID)
}

func (t *memoryTx) WaitlistPosition(ctx context.Context, eventID, userID string) (int, error) {
	return t.state.waitlistPosition(eventID, userID)
}

func (t *memoryTx) NextUnclaimedEntry(ctx context.Context, eventID string) (*model.WaitlistEntry, error) {
	return t.state.nextUnclaimedEntry(eventID), nil
}

func (t *memoryTx) CreateWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error {
	return t.state.createWaitlistEntry(e)
}

func (t *memoryTx) MarkEntryOffered(ctx context.Context, id string, offeredAt, expiresAt time.Time) error {
	return t.state.markEntryOffered(id, offeredAt, expiresAt)
}

func (t *memoryTx) DeleteWaitlistEntry(ctx context.Context, id string) error {
	return t.state.deleteWaitlistEntry(id)
}

// ─── State operations ─────────────────────────────────────────────────────

func (s *memoryState) event(id string) (*model.Event, error) {
	e, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *memoryState) recomputeEventCounters(eventID string) error {
	e, ok := s.events[eventID]
	if !ok {
		return ErrNotFound
	}
	var total, sold int
	for _, tt := range s.ticketTypes {
		if tt.EventID == eventID {
			total += tt.Total
			sold += tt.Sold
		}
	}
	e.Total, e.Sold = total, sold
	return nil
}

func (s *memoryState) ticketType(id string) (*model.TicketType, error) {
	tt, ok := s.ticketTypes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tt
	return &cp, nil
}

func (s *memoryState) adjustTicketTypeSold(id string, delta int) error {
	tt, ok := s.ticketTypes[id]
	if !ok {
		return ErrNotFound
	}
	tt.Sold += delta
	return nil
}

func (s *memoryState) recountTicketTypeSold(id string) (int, error) {
	tt, ok := s.ticketTypes[id]
	if !ok {
		return 0, ErrNotFound
	}
	var sold int
	for _, tk := range s.tickets {
		if tk.TicketTypeID == id &&
			(tk.Status == model.TicketActive || tk.Status == model.TicketPendingReturn) {
			sold++
		}
	}
	tt.Sold = sold
	return sold, nil
}

func (s *memoryState) ticket(id string) (*model.Ticket, error) {
	tk, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tk
	return &cp, nil
}

func (s *memoryState) reservedTicketByTransaction(transactionID string) (*model.Ticket, error) {
	for _, tk := range s.tickets {
		if tk.TransactionID == transactionID && tk.Status == model.TicketReserved {
			cp := *tk
			return &cp, nil
		}
	}
	return nil, nil
}

// oldestPendingReturn returns the longest-waiting pending_return ticket,
// optionally filtered by ticket type.
func (s *memoryState) oldestPendingReturn(eventID, ticketTypeID string) *model.Ticket {
	var oldest *model.Ticket
	for _, tk := range s.tickets {
		if tk.EventID != eventID || tk.Status != model.TicketPendingReturn {
			continue
		}
		if ticketTypeID != "" && tk.TicketTypeID != ticketTypeID {
			continue
		}
		if oldest == nil || tk.UpdatedAt.Before(oldest.UpdatedAt) ||
			(tk.UpdatedAt.Equal(oldest.UpdatedAt) && tk.ID < oldest.ID) {
			oldest = tk
		}
	}
	if oldest == nil {
		return nil
	}
	cp := *oldest
	return &cp
}

// unmatchedPendingReturn reports the oldest pending_return ticket only
// while returns outnumber outstanding reserved offers for the event.
func (s *memoryState) unmatchedPendingReturn(eventID string) *model.Ticket {
	var returns, reserved int
	for _, tk := range s.tickets {
		if tk.EventID != eventID {
			continue
		}
		switch tk.Status {
		case model.TicketPendingReturn:
			returns++
		case model.TicketReserved:
			reserved++
		}
	}
	if returns <= reserved {
		return nil
	}
	return s.oldestPendingReturn(eventID, "")
}

func (s *memoryState) expiredReservationTicketIDs(now time.Time) []string {
	type cand struct {
		id      string
		expires time.Time
	}
	var cands []cand
	for _, tk := range s.tickets {
		if c := s.expiredReservedTicket(tk.ID, now); c != nil {
			entry, _ := s.waitlistEntryByUser(tk.EventID, tk.UserID)
			cands = append(cands, cand{id: tk.ID, expires: *entry.ExpiresAt})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if !cands[i].expires.Equal(cands[j].expires) {
			return cands[i].expires.Before(cands[j].expires)
		}
		return cands[i].id < cands[j].id
	})
	ids := make([]string, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.id)
	}
	return ids
}

func (s *memoryState) expiredReservedTicket(ticketID string, now time.Time) *model.Ticket {
	tk, ok := s.tickets[ticketID]
	if !ok || tk.Status != model.TicketReserved {
		return nil
	}
	tr, ok := s.transactions[tk.TransactionID]
	if !ok || tr.Status != model.TransactionPending {
		return nil
	}
	entry, err := s.waitlistEntryByUser(tk.EventID, tk.UserID)
	if err != nil || entry.ExpiresAt == nil || !entry.ExpiresAt.Before(now) {
		return nil
	}
	cp := *tk
	return &cp
}

func (s *memoryState) createTicket(t *model.Ticket) error {
	cp := *t
	s.tickets[t.ID] = &cp
	return nil
}

func (s *memoryState) updateTicketStatus(id string, status model.TicketStatus) error {
	tk, ok := s.tickets[id]
	if !ok {
		return ErrNotFound
	}
	tk.Status = status
	tk.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryState) deleteTicket(id string) error {
	if _, ok := s.tickets[id]; !ok {
		return ErrNotFound
	}
	delete(s.tickets, id)
	return nil
}

func (s *memoryState) transaction(id string) (*model.Transaction, error) {
	tr, ok := s.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tr
	return &cp, nil
}

func (s *memoryState) createTransaction(t *model.Transaction) error {
	cp := *t
	s.transactions[t.ID] = &cp
	return nil
}

func (s *memoryState) updateTransactionStatus(id string, status model.TransactionStatus) error {
	tr, ok := s.transactions[id]
	if !ok {
		return ErrNotFound
	}
	tr.Status = status
	tr.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryState) waitlistEntry(id string) (*model.WaitlistEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *memoryState) waitlistEntryByUser(eventID, userID string) (*model.WaitlistEntry, error) {
	for _, e := range s.entries {
		if e.EventID == eventID && e.UserID == userID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryState) eventEntriesByJoinTime(eventID string) []*model.WaitlistEntry {
	var entries []*model.WaitlistEntry
	for _, e := range s.entries {
		if e.EventID == eventID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].JoinedAt.Before(entries[j].JoinedAt)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries
}

func (s *memoryState) waitlistPosition(eventID, userID string) (int, error) {
	for i, e := range s.eventEntriesByJoinTime(eventID) {
		if e.UserID == userID {
			return i + 1, nil
		}
	}
	return 0, ErrNotFound
}

func (s *memoryState) nextUnclaimedEntry(eventID string) *model.WaitlistEntry {
	for _, e := range s.eventEntriesByJoinTime(eventID) {
		if e.OfferedAt == nil {
			cp := *e
			return &cp
		}
	}
	return nil
}

func (s *memoryState) createWaitlistEntry(e *model.WaitlistEntry) error {
	if _, err := s.waitlistEntryByUser(e.EventID, e.UserID); err == nil {
		return ErrDuplicateEntry
	}
	cp := *e
	s.entries[e.ID] = &cp
	return nil
}

func (s *memoryState) markEntryOffered(id string, offeredAt, expiresAt time.Time) error {
	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.OfferedAt = &offeredAt
	e.ExpiresAt = &expiresAt
	return nil
}

func (s *memoryState) deleteWaitlistEntry(id string) error {
	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	return nil
}
