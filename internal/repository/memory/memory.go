// Package memory is an in-process implementation of the event ledger,
// booking store and waiting queue. Each method is atomic on its own; it
// keeps the same contract as the Postgres repositories.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/ticket-allocation/internal/model"
)

// Store holds all records in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	events map[string]*model.Event

	bookings     map[string]*model.Booking
	eventBooking map[string][]string // booking ids per event, creation order

	entries    map[string]*model.WaitingQueueEntry
	eventQueue map[string][]string // entry ids per event
	lastPos    map[string]int

	now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		events:       make(map[string]*model.Event),
		bookings:     make(map[string]*model.Booking),
		eventBooking: make(map[string][]string),
		entries:      make(map[string]*model.WaitingQueueEntry),
		eventQueue:   make(map[string][]string),
		lastPos:      make(map[string]int),
		now:          time.Now,
	}
}

// ─── Event ledger ─────────────────────────────────────────────────────────────

// GetEvent returns a copy of the event, or model.ErrEventNotFound.
func (s *Store) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, model.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

// CreateEvent stores a copy of e.
func (s *Store) CreateEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; ok {
		return fmt.Errorf("event %s already exists", e.ID)
	}
	cp := *e
	s.events[e.ID] = &cp
	return nil
}

// IncrementAvailable adds delta to the event's available count, refusing
// with model.ErrLedgerBounds if the result would leave [0, total].
func (s *Store) IncrementAvailable(_ context.Context, id string, delta int) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, model.ErrEventNotFound
	}
	next := e.AvailableTickets + delta
	if next < 0 || next > e.TotalTickets {
		return nil, fmt.Errorf("event %s: %d%+d: %w", id, e.AvailableTickets, delta, model.ErrLedgerBounds)
	}
	e.AvailableTickets = next
	cp := *e
	return &cp, nil
}

// ─── Booking store ────────────────────────────────────────────────────────────

// FindBooking returns the requester's newest booking for the event whose
// status is one of statuses (any status when none are given), or
// model.ErrBookingNotFound.
func (s *Store) FindBooking(_ context.Context, eventID, requesterID string, statuses ...model.BookingStatus) (*model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.eventBooking[eventID]
	for i := len(ids) - 1; i >= 0; i-- {
		b := s.bookings[ids[i]]
		if b.RequesterID != requesterID {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, b.Status) {
			continue
		}
		return copyBooking(b), nil
	}
	return nil, model.ErrBookingNotFound
}

// CreateBooking rejects a second active booking for the same requester,
// mirroring the partial unique index of the Postgres schema.
func (s *Store) CreateBooking(_ context.Context, b *model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[b.ID]; ok {
		return fmt.Errorf("booking %s already exists", b.ID)
	}
	if b.Status != model.StatusCancelled {
		for _, id := range s.eventBooking[b.EventID] {
			other := s.bookings[id]
			if other.RequesterID == b.RequesterID && other.Status != model.StatusCancelled {
				return model.ErrDuplicateBooking
			}
		}
	}
	s.bookings[b.ID] = copyBooking(b)
	s.eventBooking[b.EventID] = append(s.eventBooking[b.EventID], b.ID)
	return nil
}

// UpdateBookingStatus sets the booking's status. Leaving the waiting state
// clears its queue position.
func (s *Store) UpdateBookingStatus(_ context.Context, id string, status model.BookingStatus) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, model.ErrBookingNotFound
	}
	b.Status = status
	if status != model.StatusWaiting {
		b.QueuePosition = nil
	}
	b.UpdatedAt = s.now().UTC()
	return copyBooking(b), nil
}

// CountBookings counts the event's bookings with the given status.
func (s *Store) CountBookings(_ context.Context, eventID string, status model.BookingStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, id := range s.eventBooking[eventID] {
		if s.bookings[id].Status == status {
			n++
		}
	}
	return n, nil
}

// ListBookings returns the event's bookings in creation order.
func (s *Store) ListBookings(_ context.Context, eventID string) ([]model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.eventBooking[eventID]
	out := make([]model.Booking, 0, len(ids))
	for _, id := range ids {
		out = append(out, *copyBooking(s.bookings[id]))
	}
	return out, nil
}

// ─── Waiting queue ────────────────────────────────────────────────────────────

// MaxWaitingPosition returns the highest position ever assigned for the
// event, promoted entries included, or 0.
func (s *Store) MaxWaitingPosition(_ context.Context, eventID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPos[eventID], nil
}

// CreateQueueEntry appends e, rejecting a reused position with
// model.ErrPositionTaken.
func (s *Store) CreateQueueEntry(_ context.Context, e *model.WaitingQueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.eventQueue[e.EventID] {
		if s.entries[id].Position == e.Position {
			return fmt.Errorf("event %s position %d: %w", e.EventID, e.Position, model.ErrPositionTaken)
		}
	}
	cp := *e
	s.entries[e.ID] = &cp
	s.eventQueue[e.EventID] = append(s.eventQueue[e.EventID], e.ID)
	if e.Position > s.lastPos[e.EventID] {
		s.lastPos[e.EventID] = e.Position
	}
	return nil
}

// FindEarliestWaiting returns the still-waiting entry with the lowest
// position, or nil when nobody waits.
func (s *Store) FindEarliestWaiting(_ context.Context, eventID string) (*model.WaitingQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var head *model.WaitingQueueEntry
	for _, id := range s.eventQueue[eventID] {
		e := s.entries[id]
		if e.State != model.QueueWaiting {
			continue
		}
		if head == nil || e.Position < head.Position {
			head = e
		}
	}
	if head == nil {
		return nil, nil
	}
	cp := *head
	return &cp, nil
}

// MarkPromoted moves the entry to the promoted state.
func (s *Store) MarkPromoted(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return model.ErrQueueEntryNotFound
	}
	e.State = model.QueuePromoted
	return nil
}

// CountWaiting counts the event's entries still waiting.
func (s *Store) CountWaiting(_ context.Context, eventID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, id := range s.eventQueue[eventID] {
		if s.entries[id].State == model.QueueWaiting {
			n++
		}
	}
	return n, nil
}

// ListWaiting returns the event's waiting entries in position order.
func (s *Store) ListWaiting(_ context.Context, eventID string) ([]model.WaitingQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.WaitingQueueEntry, 0)
	for _, id := range s.eventQueue[eventID] {
		if e := s.entries[id]; e.State == model.QueueWaiting {
			out = append(out, *e)
		}
	}
	slices.SortFunc(out, func(a, b model.WaitingQueueEntry) int { return a.Position - b.Position })
	return out, nil
}

func copyBooking(b *model.Booking) *model.Booking {
	cp := *b
	if b.QueuePosition != nil {
		pos := *b.QueuePosition
		cp.QueuePosition = &pos
	}
	return &cp
}
