package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/ticket-allocation/internal/database"
	"github.com/Shivanand-hulikatti/ticket-allocation/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPool connects to TEST_DATABASE_URL and applies the schema.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool))
	return pool
}

func newEvent(t *testing.T, repo *EventRepository, total int) *model.Event {
	t.Helper()
	e := &model.Event{
		ID:               uuid.NewString(),
		Name:             "Concert",
		TotalTickets:     total,
		AvailableTickets: total,
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, repo.CreateEvent(context.Background(), e))
	return e
}

func TestEventRepository_IncrementAvailable(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	repo := NewEventRepository(pool)
	event := newEvent(t, repo, 1)

	got, err := repo.IncrementAvailable(ctx, event.ID, -1)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableTickets)

	_, err = repo.IncrementAvailable(ctx, event.ID, -1)
	assert.ErrorIs(t, err, model.ErrLedgerBounds)

	_, err = repo.IncrementAvailable(ctx, uuid.NewString(), 1)
	assert.ErrorIs(t, err, model.ErrEventNotFound)

	_, err = repo.GetEvent(ctx, uuid.NewString())
	assert.ErrorIs(t, err, model.ErrEventNotFound)
}

func TestBookingAndQueueRepositories(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	events := NewEventRepository(pool)
	bookings := NewBookingRepository(pool)
	queue := NewQueueRepository(pool)
	event := newEvent(t, events, 1)
	now := time.Now().UTC()

	confirmed := &model.Booking{
		ID: uuid.NewString(), EventID: event.ID, RequesterID: "u1",
		Status: model.StatusConfirmed, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, bookings.CreateBooking(ctx, confirmed))

	dup := *confirmed
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, bookings.CreateBooking(ctx, &dup), model.ErrDuplicateBooking)

	pos := 1
	waiting := &model.Booking{
		ID: uuid.NewString(), EventID: event.ID, RequesterID: "u2",
		Status: model.StatusWaiting, QueuePosition: &pos,
		CreatedAt: now.Add(time.Millisecond), UpdatedAt: now,
	}
	require.NoError(t, bookings.CreateBooking(ctx, waiting))

	last, err := queue.MaxWaitingPosition(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, last)

	entry := &model.WaitingQueueEntry{
		ID: uuid.NewString(), EventID: event.ID, BookingID: waiting.ID,
		RequesterID: "u2", Position: 1, State: model.QueueWaiting, EnqueuedAt: now,
	}
	require.NoError(t, queue.CreateQueueEntry(ctx, entry))

	clash := *entry
	clash.ID = uuid.NewString()
	assert.ErrorIs(t, queue.CreateQueueEntry(ctx, &clash), model.ErrPositionTaken)

	found, err := bookings.FindBooking(ctx, event.ID, "u2", model.ActiveStatuses...)
	require.NoError(t, err)
	require.NotNil(t, found.QueuePosition)
	assert.Equal(t, 1, *found.QueuePosition)

	_, err = bookings.FindBooking(ctx, event.ID, "u2", model.StatusConfirmed)
	assert.ErrorIs(t, err, model.ErrBookingNotFound)

	head, err := queue.FindEarliestWaiting(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, entry.ID, head.ID)

	promoted, err := bookings.UpdateBookingStatus(ctx, waiting.ID, model.StatusConfirmed)
	require.NoError(t, err)
	assert.Nil(t, promoted.QueuePosition)
	require.NoError(t, queue.MarkPromoted(ctx, entry.ID))

	head, err = queue.FindEarliestWaiting(ctx, event.ID)
	require.NoError(t, err)
	assert.Nil(t, head)

	last, err = queue.MaxWaitingPosition(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, last)

	n, err := bookings.CountBookings(ctx, event.ID, model.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = queue.CountWaiting(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	all, err := bookings.ListBookings(ctx, event.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.ErrorIs(t, queue.MarkPromoted(ctx, uuid.NewString()), model.ErrQueueEntryNotFound)
}
