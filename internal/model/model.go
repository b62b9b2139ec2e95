// Package model defines the core domain types for the ticket allocation system.
package model

import "time"

// BookingStatus is the lifecycle state of a Booking.
type BookingStatus string

const (
	StatusConfirmed BookingStatus = "confirmed"
	StatusWaiting   BookingStatus = "waiting"
	StatusCancelled BookingStatus = "cancelled"
)

// ActiveStatuses are the states that count against a requester's
// one-booking-per-event allowance.
var ActiveStatuses = []BookingStatus{StatusConfirmed, StatusWaiting}

// QueueState is the lifecycle state of a WaitingQueueEntry.
type QueueState string

const (
	QueueWaiting  QueueState = "waiting"
	QueuePromoted QueueState = "promoted"
)

// Event is a finite pool of tickets.
type Event struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	TotalTickets     int       `json:"totalTickets"`
	AvailableTickets int       `json:"availableTickets"`
	CreatedAt        time.Time `json:"createdAt"`
}

// SoldOut returns true when no tickets remain.
func (e *Event) SoldOut() bool {
	return e.AvailableTickets <= 0
}

// Booking is one requester's claim on an event.
// QueuePosition is set only while Status is StatusWaiting.
type Booking struct {
	ID            string        `json:"id"`
	EventID       string        `json:"eventId"`
	RequesterID   string        `json:"requesterId"`
	Status        BookingStatus `json:"status"`
	QueuePosition *int          `json:"queuePosition"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// WaitingQueueEntry orders waiting requesters of one event by Position.
// Positions only grow; promotions leave gaps behind.
type WaitingQueueEntry struct {
	ID          string     `json:"id"`
	EventID     string     `json:"eventId"`
	BookingID   string     `json:"bookingId"`
	RequesterID string     `json:"requesterId"`
	Position    int        `json:"position"`
	State       QueueState `json:"state"`
	EnqueuedAt  time.Time  `json:"enqueuedAt"`
}

// EventStatus is the advisory read-only aggregate for an event.
type EventStatus struct {
	EventID          string `json:"eventId"`
	Name             string `json:"name"`
	TotalTickets     int    `json:"totalTickets"`
	AvailableTickets int    `json:"availableTickets"`
	ConfirmedCount   int    `json:"confirmedCount"`
	WaitingCount     int    `json:"waitingCount"`
}

// CancelResult is returned by a cancellation. AssignedBooking is the
// promoted waiter, or nil when the queue was empty.
type CancelResult struct {
	CancelledBooking *Booking `json:"cancelledBooking"`
	AssignedBooking  *Booking `json:"assignedBooking"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name         string `json:"name" validate:"required,max=200"`
	TotalTickets int    `json:"totalTickets" validate:"required,min=1"`
}

// BookRequest is the payload for booking a ticket.
type BookRequest struct {
	RequesterID string `json:"requesterId" validate:"required,max=200"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
