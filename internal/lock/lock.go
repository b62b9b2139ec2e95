// Package lock provides per-event mutual exclusion with FIFO admission.
//
// Every mutating allocation sequence for an event runs while holding that
// event's lock. Locks for different events are independent, so unrelated
// events never wait on each other. Waiters for the same event are admitted
// strictly in arrival order; the waiting-queue ordering of the allocation
// engine relies on that.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned when the lock could not be acquired within
	// the configured wait. Nothing has been mutated; safe to retry.
	ErrTimeout = errors.New("timed out waiting for event lock")

	// ErrSaturated is returned immediately when too many callers are
	// already queued for the same event.
	ErrSaturated = errors.New("event lock has too many pending waiters")
)

const (
	// DefaultTimeout bounds how long Acquire waits for a busy lock.
	DefaultTimeout = 5 * time.Second
	// DefaultMaxPending bounds how many callers may queue for one event.
	DefaultMaxPending = 1000
)

// Options tunes an EventLocks. Zero values select the defaults.
type Options struct {
	Timeout    time.Duration
	MaxPending int
}

// EventLocks is a lazily populated map from event id to an owned lock.
// An entry exists only while some caller holds or waits for it, so ids
// that are never contended again do not accumulate.
type EventLocks struct {
	timeout    time.Duration
	maxPending int

	mu    sync.Mutex
	locks map[string]*eventLock
}

type eventLock struct {
	refs int // guarded by EventLocks.mu

	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// New constructs an EventLocks.
func New(opts Options) *EventLocks {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultMaxPending
	}
	return &EventLocks{
		timeout:    opts.Timeout,
		maxPending: opts.MaxPending,
		locks:      make(map[string]*eventLock),
	}
}

// ref returns the entry for eventID, creating it if needed, and counts
// the caller as a user until unref.
func (l *EventLocks) ref(eventID string) *eventLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.locks[eventID]
	if !ok {
		el = &eventLock{}
		l.locks[eventID] = el
	}
	el.refs++
	return el
}

func (l *EventLocks) unref(eventID string, el *eventLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el.refs--
	if el.refs == 0 {
		delete(l.locks, eventID)
	}
}

// Acquire blocks until the caller holds the lock for eventID and returns
// the function that releases it. Release is idempotent.
//
// It fails with ErrSaturated without waiting when the pending-waiter bound
// is reached, with ErrTimeout when the bounded wait elapses, and with the
// context's error (wrapped) when ctx is done first.
func (l *EventLocks) Acquire(ctx context.Context, eventID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("event %s: %w", eventID, err)
	}

	el := l.ref(eventID)

	el.mu.Lock()
	if !el.held {
		el.held = true
		el.mu.Unlock()
		return l.releaser(eventID, el), nil
	}
	if len(el.waiters) >= l.maxPending {
		el.mu.Unlock()
		l.unref(eventID, el)
		return nil, fmt.Errorf("event %s: %w", eventID, ErrSaturated)
	}
	grant := make(chan struct{}, 1)
	el.waiters = append(el.waiters, grant)
	el.mu.Unlock()

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	var err error
	select {
	case <-grant:
		return l.releaser(eventID, el), nil
	case <-timer.C:
		err = fmt.Errorf("event %s: %w", eventID, ErrTimeout)
	case <-ctx.Done():
		err = fmt.Errorf("event %s: %w", eventID, ctx.Err())
	}

	if !el.abandon(grant) {
		// The lock was handed over while we were giving up. Pass it on.
		el.release()
	}
	l.unref(eventID, el)
	return nil, err
}

// Waiting returns how many callers are queued behind the current holder.
// It never creates an entry.
func (l *EventLocks) Waiting(eventID string) int {
	l.mu.Lock()
	el, ok := l.locks[eventID]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.waiters)
}

func (l *EventLocks) releaser(eventID string, el *eventLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			el.release()
			l.unref(eventID, el)
		})
	}
}

// release hands the lock directly to the oldest waiter, if any, so the
// lock is never observed free while someone is queued.
func (el *eventLock) release() {
	el.mu.Lock()
	defer el.mu.Unlock()
	if len(el.waiters) == 0 {
		el.held = false
		return
	}
	next := el.waiters[0]
	el.waiters[0] = nil
	el.waiters = el.waiters[1:]
	next <- struct{}{}
}

// abandon removes grant from the waiter list. It returns false when grant
// was already dequeued, meaning the caller now owns the lock.
func (el *eventLock) abandon(grant chan struct{}) bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	for i, w := range el.waiters {
		if w == grant {
			el.waiters = append(el.waiters[:i], el.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Do runs fn while holding the lock for eventID and returns its result.
// fn never runs if the lock cannot be acquired. Once admitted, fn runs on
// a context detached from ctx's cancellation so a departing caller cannot
// stop a multi-step write halfway; ctx values are still visible to fn.
func Do[T any](ctx context.Context, l *EventLocks, eventID string, fn func(ctx context.Context) (T, error)) (T, error) {
	release, err := l.Acquire(ctx, eventID)
	if err != nil {
		var zero T
		return zero, err
	}
	defer release()
	return fn(context.WithoutCancel(ctx))
}
