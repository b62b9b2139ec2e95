package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("connection refused")

func TestRetry_NoSleepAfterFinalAttempt(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	calls := 0

	start := time.Now()
	err := retry(context.Background(), 2, 200*time.Millisecond, log, func() error {
		calls++
		return errDown
	})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, errDown)
	assert.Equal(t, 2, calls)
	assert.Less(t, elapsed, 350*time.Millisecond, "slept after the last attempt")

	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, logrus.WarnLevel, hook.AllEntries()[0].Level)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "giving up")
}

func TestRetry_SucceedsAfterFailure(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	calls := 0

	err := retry(context.Background(), 5, time.Millisecond, log, func() error {
		calls++
		if calls < 3 {
			return errDown
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, hook.AllEntries(), 2)
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := retry(ctx, 5, time.Hour, log, func() error {
		calls++
		cancel()
		return errDown
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
