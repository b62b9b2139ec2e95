package model

import "errors"

// ErrInvalidArgument marks malformed or missing caller input.
var ErrInvalidArgument = errors.New("invalid argument")

var (
	ErrEventNotFound   = errors.New("event not found")
	ErrBookingNotFound = errors.New("booking not found")
)

// ErrDuplicateBooking is returned when the requester already holds a
// confirmed or waiting booking for the event.
var ErrDuplicateBooking = errors.New("requester already has an active booking for this event")

// ErrStorage wraps any failure reported by the record store.
var ErrStorage = errors.New("storage failure")

// Record store errors.
var (
	// ErrLedgerBounds is returned when an increment would push the
	// available count below zero or above the event's total.
	ErrLedgerBounds       = errors.New("available tickets out of range")
	ErrQueueEntryNotFound = errors.New("queue entry not found")
	ErrPositionTaken      = errors.New("queue position already assigned")
)
