// Package service implements the ticket allocation engine: per-event
// serialisation of book/cancel, the confirmed/waiting state machine and
// FIFO promotion from the waiting queue.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/ticket-allocation/internal/broker"
	"github.com/Shivanand-hulikatti/ticket-allocation/internal/lock"
	"github.com/Shivanand-hulikatti/ticket-allocation/internal/model"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AllocationService is the sole writer of events, bookings and queue
// entries. Every mutation of an event happens while holding that event's
// lock, so allocation sequences for one event never interleave.
type AllocationService struct {
	events    EventLedger
	bookings  BookingStore
	queue     WaitingQueue
	locks     *lock.EventLocks
	publisher broker.Publisher
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewAllocationService constructs an AllocationService with its dependencies.
func NewAllocationService(
	events EventLedger,
	bookings BookingStore,
	queue WaitingQueue,
	locks *lock.EventLocks,
	publisher broker.Publisher,
	log logrus.FieldLogger,
) *AllocationService {
	if publisher == nil {
		publisher = broker.Noop{}
	}
	return &AllocationService{
		events:    events,
		bookings:  bookings,
		queue:     queue,
		locks:     locks,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// InitializeEvent creates an event with every ticket available.
func (s *AllocationService) InitializeEvent(ctx context.Context, name string, totalTickets int) (*model.Event, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: event name is required", model.ErrInvalidArgument)
	}
	if totalTickets <= 0 {
		return nil, fmt.Errorf("%w: totalTickets must be a positive integer", model.ErrInvalidArgument)
	}

	event := &model.Event{
		ID:               uuid.NewString(),
		Name:             name,
		TotalTickets:     totalTickets,
		AvailableTickets: totalTickets,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.events.CreateEvent(ctx, event); err != nil {
		return nil, storageErr("create event", err)
	}

	s.log.WithFields(logrus.Fields{
		"event_id":      event.ID,
		"total_tickets": totalTickets,
	}).Info("event initialized")
	return event, nil
}

// BookTicket gives the requester a confirmed ticket if one is available and
// otherwise appends them to the event's waiting queue.
func (s *AllocationService) BookTicket(ctx context.Context, eventID, requesterID string) (*model.Booking, error) {
	eventID, requesterID, err := requireIDs(eventID, requesterID)
	if err != nil {
		return nil, err
	}

	booking, err := lock.Do(ctx, s.locks, eventID, func(ctx context.Context) (*model.Booking, error) {
		return s.book(ctx, eventID, requesterID)
	})
	if err != nil {
		s.logLockFailure(err, eventID, "book")
		return nil, err
	}

	key := broker.KeyBookingConfirmed
	if booking.Status == model.StatusWaiting {
		key = broker.KeyBookingWaitlisted
	}
	s.publish(ctx, key, booking)
	return booking, nil
}

// book must be called with the event lock held.
func (s *AllocationService) book(ctx context.Context, eventID, requesterID string) (*model.Booking, error) {
	existing, err := s.bookings.FindBooking(ctx, eventID, requesterID, model.ActiveStatuses...)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: booking %s is %s", model.ErrDuplicateBooking, existing.ID, existing.Status)
	case !errors.Is(err, model.ErrBookingNotFound):
		return nil, storageErr("find active booking", err)
	}

	event, err := s.getEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	booking := &model.Booking{
		ID:          uuid.NewString(),
		EventID:     eventID,
		RequesterID: requesterID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	fields := logrus.Fields{
		"event_id":     eventID,
		"requester_id": requesterID,
		"booking_id":   booking.ID,
	}

	if !event.SoldOut() {
		if _, err := s.events.IncrementAvailable(ctx, eventID, -1); err != nil {
			return nil, storageErr("claim ticket", err)
		}
		booking.Status = model.StatusConfirmed
		if err := s.bookings.CreateBooking(ctx, booking); err != nil {
			return nil, storageErr("create booking", err)
		}
		s.log.WithFields(fields).Info("booking confirmed")
		return booking, nil
	}

	last, err := s.queue.MaxWaitingPosition(ctx, eventID)
	if err != nil {
		return nil, storageErr("read queue tail", err)
	}
	position := last + 1

	booking.Status = model.StatusWaiting
	booking.QueuePosition = &position
	if err := s.bookings.CreateBooking(ctx, booking); err != nil {
		return nil, storageErr("create booking", err)
	}

	entry := &model.WaitingQueueEntry{
		ID:          uuid.NewString(),
		EventID:     eventID,
		BookingID:   booking.ID,
		RequesterID: requesterID,
		Position:    position,
		State:       model.QueueWaiting,
		EnqueuedAt:  now,
	}
	if err := s.queue.CreateQueueEntry(ctx, entry); err != nil {
		return nil, storageErr("enqueue", err)
	}

	fields["position"] = position
	s.log.WithFields(fields).Info("booking waitlisted")
	return booking, nil
}

// CancelBooking cancels the requester's confirmed booking and hands the
// freed ticket to the earliest waiter, if any. Waiting bookings cannot be
// cancelled through this path.
func (s *AllocationService) CancelBooking(ctx context.Context, eventID, requesterID string) (*model.CancelResult, error) {
	eventID, requesterID, err := requireIDs(eventID, requesterID)
	if err != nil {
		return nil, err
	}

	result, err := lock.Do(ctx, s.locks, eventID, func(ctx context.Context) (*model.CancelResult, error) {
		return s.cancel(ctx, eventID, requesterID)
	})
	if err != nil {
		s.logLockFailure(err, eventID, "cancel")
		return nil, err
	}

	s.publish(ctx, broker.KeyBookingCancelled, result.CancelledBooking)
	if result.AssignedBooking != nil {
		s.publish(ctx, broker.KeyBookingPromoted, result.AssignedBooking)
	}
	return result, nil
}

// cancel must be called with the event lock held.
//
// Committed steps are not rolled back if a later step fails. The freed
// ticket is returned to the ledger before promotion claims it again, so a
// failure part-way through can leave a ticket unsold but never oversold.
func (s *AllocationService) cancel(ctx context.Context, eventID, requesterID string) (*model.CancelResult, error) {
	booking, err := s.bookings.FindBooking(ctx, eventID, requesterID, model.StatusConfirmed)
	if err != nil {
		if errors.Is(err, model.ErrBookingNotFound) {
			return nil, fmt.Errorf("%w: no confirmed booking for requester %q", model.ErrBookingNotFound, requesterID)
		}
		return nil, storageErr("find confirmed booking", err)
	}

	cancelled, err := s.bookings.UpdateBookingStatus(ctx, booking.ID, model.StatusCancelled)
	if err != nil {
		return nil, storageErr("cancel booking", err)
	}
	if _, err := s.events.IncrementAvailable(ctx, eventID, 1); err != nil {
		return nil, storageErr("release ticket", err)
	}

	s.log.WithFields(logrus.Fields{
		"event_id":     eventID,
		"requester_id": requesterID,
		"booking_id":   cancelled.ID,
	}).Info("booking cancelled")

	result := &model.CancelResult{CancelledBooking: cancelled}

	entry, err := s.queue.FindEarliestWaiting(ctx, eventID)
	if err != nil {
		return nil, storageErr("read queue head", err)
	}
	if entry == nil {
		return result, nil
	}

	assigned, err := s.promote(ctx, entry)
	if err != nil {
		return nil, err
	}
	result.AssignedBooking = assigned
	return result, nil
}

// promote moves the queue head to confirmed, consuming the ticket that the
// cancellation just released.
func (s *AllocationService) promote(ctx context.Context, entry *model.WaitingQueueEntry) (*model.Booking, error) {
	if _, err := s.events.IncrementAvailable(ctx, entry.EventID, -1); err != nil {
		return nil, storageErr("claim ticket for promotion", err)
	}
	assigned, err := s.bookings.UpdateBookingStatus(ctx, entry.BookingID, model.StatusConfirmed)
	if err != nil {
		return nil, storageErr("confirm promoted booking", err)
	}
	if err := s.queue.MarkPromoted(ctx, entry.ID); err != nil {
		return nil, storageErr("mark queue entry promoted", err)
	}

	s.log.WithFields(logrus.Fields{
		"event_id":     entry.EventID,
		"requester_id": entry.RequesterID,
		"booking_id":   assigned.ID,
		"position":     entry.Position,
	}).Info("booking promoted")
	return assigned, nil
}

// GetEventStatus returns an advisory snapshot of the event. It does not
// take the event lock and may lag behind concurrent mutations.
func (s *AllocationService) GetEventStatus(ctx context.Context, eventID string) (*model.EventStatus, error) {
	event, err := s.requireEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	confirmed, err := s.bookings.CountBookings(ctx, event.ID, model.StatusConfirmed)
	if err != nil {
		return nil, storageErr("count confirmed bookings", err)
	}
	waiting, err := s.queue.CountWaiting(ctx, event.ID)
	if err != nil {
		return nil, storageErr("count waiting entries", err)
	}

	return &model.EventStatus{
		EventID:          event.ID,
		Name:             event.Name,
		TotalTickets:     event.TotalTickets,
		AvailableTickets: event.AvailableTickets,
		ConfirmedCount:   confirmed,
		WaitingCount:     waiting,
	}, nil
}

// GetBooking returns the requester's confirmed or waiting booking.
func (s *AllocationService) GetBooking(ctx context.Context, eventID, requesterID string) (*model.Booking, error) {
	eventID, requesterID, err := requireIDs(eventID, requesterID)
	if err != nil {
		return nil, err
	}
	if _, err := s.getEvent(ctx, eventID); err != nil {
		return nil, err
	}

	booking, err := s.bookings.FindBooking(ctx, eventID, requesterID, model.ActiveStatuses...)
	if err != nil {
		if errors.Is(err, model.ErrBookingNotFound) {
			return nil, err
		}
		return nil, storageErr("find booking", err)
	}
	return booking, nil
}

// ListBookings returns every booking for the event, oldest first.
func (s *AllocationService) ListBookings(ctx context.Context, eventID string) ([]model.Booking, error) {
	event, err := s.requireEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	bookings, err := s.bookings.ListBookings(ctx, event.ID)
	if err != nil {
		return nil, storageErr("list bookings", err)
	}
	return bookings, nil
}

// ListWaiting returns the event's waiting entries by ascending position.
// Positions are not renumbered after promotions, so gaps are expected.
func (s *AllocationService) ListWaiting(ctx context.Context, eventID string) ([]model.WaitingQueueEntry, error) {
	event, err := s.requireEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	entries, err := s.queue.ListWaiting(ctx, event.ID)
	if err != nil {
		return nil, storageErr("list waiting entries", err)
	}
	return entries, nil
}

func (s *AllocationService) requireEvent(ctx context.Context, eventID string) (*model.Event, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, fmt.Errorf("%w: event id is required", model.ErrInvalidArgument)
	}
	return s.getEvent(ctx, eventID)
}

func (s *AllocationService) getEvent(ctx context.Context, eventID string) (*model.Event, error) {
	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, model.ErrEventNotFound) {
			return nil, err
		}
		return nil, storageErr("get event", err)
	}
	return event, nil
}

// publish never fails the caller; the allocation is already committed.
func (s *AllocationService) publish(ctx context.Context, key string, b *model.Booking) {
	msg := broker.NewBookingMessage(b, s.now())
	if err := s.publisher.Publish(context.WithoutCancel(ctx), key, msg); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"routing_key": key,
			"booking_id":  b.ID,
		}).Error("failed to publish booking message")
	}
}

func (s *AllocationService) logLockFailure(err error, eventID, op string) {
	if errors.Is(err, lock.ErrTimeout) || errors.Is(err, lock.ErrSaturated) {
		s.log.WithError(err).WithFields(logrus.Fields{
			"event_id":  eventID,
			"operation": op,
		}).Warn("event lock unavailable")
	}
}

func requireIDs(eventID, requesterID string) (string, string, error) {
	eventID = strings.TrimSpace(eventID)
	requesterID = strings.TrimSpace(requesterID)
	if eventID == "" {
		return "", "", fmt.Errorf("%w: event id is required", model.ErrInvalidArgument)
	}
	if requesterID == "" {
		return "", "", fmt.Errorf("%w: requester id is required", model.ErrInvalidArgument)
	}
	return eventID, requesterID, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrStorage, err)
}
