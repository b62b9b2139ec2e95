// Package repository implements the event ledger, booking store and
// waiting queue on PostgreSQL. It uses pgx directly (no ORM); every method
// is a single statement, so each is atomic on its own. Cross-call atomicity
// is the allocation engine's job.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/ticket-allocation/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// EventRepository persists events and their available ticket counts.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// CreateEvent inserts a new event.
func (r *EventRepository) CreateEvent(ctx context.Context, e *model.Event) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO events (id, name, total_tickets, available_tickets, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.Name, e.TotalTickets, e.AvailableTickets, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvent returns a single event or model.ErrEventNotFound.
func (r *EventRepository) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	err := r.db.QueryRow(ctx,
		`SELECT id, name, total_tickets, available_tickets, created_at
		 FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Name, &e.TotalTickets, &e.AvailableTickets, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &e, nil
}

// IncrementAvailable adds delta to available_tickets in one UPDATE. The
// WHERE clause keeps the count within 0..total_tickets; when it would not,
// no row matches and model.ErrLedgerBounds is returned.
func (r *EventRepository) IncrementAvailable(ctx context.Context, id string, delta int) (*model.Event, error) {
	var e model.Event
	err := r.db.QueryRow(ctx,
		`UPDATE events
		 SET available_tickets = available_tickets + $2
		 WHERE id = $1
		   AND available_tickets + $2 BETWEEN 0 AND total_tickets
		 RETURNING id, name, total_tickets, available_tickets, created_at`,
		id, delta,
	).Scan(&e.ID, &e.Name, &e.TotalTickets, &e.AvailableTickets, &e.CreatedAt)
	if err == nil {
		return &e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("increment available tickets: %w", err)
	}

	// Distinguish a missing event from an out-of-range delta.
	if _, getErr := r.GetEvent(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("event %s delta %+d: %w", id, delta, model.ErrLedgerBounds)
}

// BookingRepository persists bookings.
type BookingRepository struct {
	db *pgxpool.Pool
}

// NewBookingRepository constructs a BookingRepository.
func NewBookingRepository(db *pgxpool.Pool) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `id, event_id, requester_id, status, queue_position, created_at, updated_at`

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var b model.Booking
	err := row.Scan(&b.ID, &b.EventID, &b.RequesterID, &b.Status, &b.QueuePosition, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBooking inserts a booking. The partial unique index on
// (event_id, requester_id) for non-cancelled rows surfaces as
// model.ErrDuplicateBooking.
func (r *BookingRepository) CreateBooking(ctx context.Context, b *model.Booking) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO bookings (`+bookingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.EventID, b.RequesterID, b.Status, b.QueuePosition, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.ErrDuplicateBooking
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// FindBooking returns the newest booking for the requester whose status is
// in statuses (any status when empty), or model.ErrBookingNotFound.
func (r *BookingRepository) FindBooking(ctx context.Context, eventID, requesterID string, statuses ...model.BookingStatus) (*model.Booking, error) {
	filter := make([]string, len(statuses))
	for i, st := range statuses {
		filter[i] = string(st)
	}

	b, err := scanBooking(r.db.QueryRow(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE event_id = $1
		   AND requester_id = $2
		   AND (cardinality($3::text[]) = 0 OR status = ANY($3))
		 ORDER BY created_at DESC
		 LIMIT 1`,
		eventID, requesterID, filter,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrBookingNotFound
		}
		return nil, fmt.Errorf("find booking: %w", err)
	}
	return b, nil
}

// UpdateBookingStatus sets the status and clears queue_position unless
// the new status is waiting.
func (r *BookingRepository) UpdateBookingStatus(ctx context.Context, id string, status model.BookingStatus) (*model.Booking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx,
		`UPDATE bookings
		 SET status = $2,
		     queue_position = CASE WHEN $2::text = 'waiting' THEN queue_position ELSE NULL END,
		     updated_at = now()
		 WHERE id = $1
		 RETURNING `+bookingColumns,
		id, status,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrBookingNotFound
		}
		return nil, fmt.Errorf("update booking status: %w", err)
	}
	return b, nil
}

// CountBookings counts the event's bookings in the given status.
func (r *BookingRepository) CountBookings(ctx context.Context, eventID string, status model.BookingStatus) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM bookings WHERE event_id = $1 AND status = $2`,
		eventID, status,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bookings: %w", err)
	}
	return n, nil
}

// ListBookings returns all bookings for an event, oldest first.
func (r *BookingRepository) ListBookings(ctx context.Context, eventID string) ([]model.Booking, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE event_id = $1
		 ORDER BY created_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// QueueRepository persists waiting queue entries.
type QueueRepository struct {
	db *pgxpool.Pool
}

// NewQueueRepository constructs a QueueRepository.
func NewQueueRepository(db *pgxpool.Pool) *QueueRepository {
	return &QueueRepository{db: db}
}

const entryColumns = `id, event_id, booking_id, requester_id, position, state, enqueued_at`

func scanEntry(row pgx.Row) (*model.WaitingQueueEntry, error) {
	var e model.WaitingQueueEntry
	err := row.Scan(&e.ID, &e.EventID, &e.BookingID, &e.RequesterID, &e.Position, &e.State, &e.EnqueuedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// MaxWaitingPosition returns the highest position ever assigned for the
// event, promoted entries included, or 0.
func (r *QueueRepository) MaxWaitingPosition(ctx context.Context, eventID string) (int, error) {
	var pos int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM waiting_queue WHERE event_id = $1`,
		eventID,
	).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("max waiting position: %w", err)
	}
	return pos, nil
}

// CreateQueueEntry inserts an entry; a reused position surfaces as
// model.ErrPositionTaken.
func (r *QueueRepository) CreateQueueEntry(ctx context.Context, e *model.WaitingQueueEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO waiting_queue (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.EventID, e.BookingID, e.RequesterID, e.Position, e.State, e.EnqueuedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("event %s position %d: %w", e.EventID, e.Position, model.ErrPositionTaken)
		}
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return nil
}

// FindEarliestWaiting returns the waiting entry with the lowest position,
// or nil when nobody is waiting.
func (r *QueueRepository) FindEarliestWaiting(ctx context.Context, eventID string) (*model.WaitingQueueEntry, error) {
	e, err := scanEntry(r.db.QueryRow(ctx,
		`SELECT `+entryColumns+`
		 FROM waiting_queue
		 WHERE event_id = $1 AND state = 'waiting'
		 ORDER BY position ASC
		 LIMIT 1`,
		eventID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find earliest waiting: %w", err)
	}
	return e, nil
}

// MarkPromoted flags an entry as promoted. Entries are never deleted.
func (r *QueueRepository) MarkPromoted(ctx context.Context, entryID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE waiting_queue SET state = 'promoted' WHERE id = $1`,
		entryID,
	)
	if err != nil {
		return fmt.Errorf("mark promoted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrQueueEntryNotFound
	}
	return nil
}

// CountWaiting counts the event's entries still waiting.
func (r *QueueRepository) CountWaiting(ctx context.Context, eventID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM waiting_queue WHERE event_id = $1 AND state = 'waiting'`,
		eventID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count waiting: %w", err)
	}
	return n, nil
}

// ListWaiting returns waiting entries by ascending position.
func (r *QueueRepository) ListWaiting(ctx context.Context, eventID string) ([]model.WaitingQueueEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+entryColumns+`
		 FROM waiting_queue
		 WHERE event_id = $1 AND state = 'waiting'
		 ORDER BY position ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list waiting: %w", err)
	}
	defer rows.Close()

	var entries []model.WaitingQueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
