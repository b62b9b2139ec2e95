package service

import (
	"context"

	"github.com/Shivanand-hulikatti/ticket-allocation/internal/model"
)

// EventLedger records each event's total and available ticket counts.
type EventLedger interface {
	// GetEvent returns model.ErrEventNotFound for unknown ids.
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	CreateEvent(ctx context.Context, e *model.Event) error
	// IncrementAvailable adds delta to the available count in one atomic
	// read-modify-write and returns the updated event.
	IncrementAvailable(ctx context.Context, id string, delta int) (*model.Event, error)
}

// BookingStore records each requester's booking state per event.
type BookingStore interface {
	// FindBooking returns the newest booking for the pair whose status is
	// one of statuses (any status when none are given), or
	// model.ErrBookingNotFound.
	FindBooking(ctx context.Context, eventID, requesterID string, statuses ...model.BookingStatus) (*model.Booking, error)
	CreateBooking(ctx context.Context, b *model.Booking) error
	// UpdateBookingStatus clears the queue position for any status other
	// than waiting.
	UpdateBookingStatus(ctx context.Context, id string, status model.BookingStatus) (*model.Booking, error)
	CountBookings(ctx context.Context, eventID string, status model.BookingStatus) (int, error)
	ListBookings(ctx context.Context, eventID string) ([]model.Booking, error)
}

// WaitingQueue keeps the per-event FIFO of waiting requesters.
type WaitingQueue interface {
	// MaxWaitingPosition returns the highest position ever assigned for
	// the event, or 0 when the queue has never been used.
	MaxWaitingPosition(ctx context.Context, eventID string) (int, error)
	CreateQueueEntry(ctx context.Context, e *model.WaitingQueueEntry) error
	// FindEarliestWaiting returns the waiting entry with the smallest
	// position, or nil when nobody is waiting.
	FindEarliestWaiting(ctx context.Context, eventID string) (*model.WaitingQueueEntry, error)
	MarkPromoted(ctx context.Context, entryID string) error
	CountWaiting(ctx context.Context, eventID string) (int, error)
	// ListWaiting returns waiting entries by ascending position.
	ListWaiting(ctx context.Context, eventID string) ([]model.WaitingQueueEntry, error)
}
