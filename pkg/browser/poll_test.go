package browser

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoll_ImmediateSuccess(t *testing.T) {
	var calls int32
	err := Poll(context.Background(), time.Millisecond, time.Second, func() (bool, error) {
		atomic.AddInt32(&calls, 1)
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPoll_SucceedsAfterRetries(t *testing.T) {
	var calls int32
	err := Poll(context.Background(), time.Millisecond, time.Second, func() (bool, error) {
		return atomic.AddInt32(&calls, 1) >= 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPoll_Timeout(t *testing.T) {
	err := Poll(context.Background(), time.Millisecond, 20*time.Millisecond, func() (bool, error) {
		return false, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestPoll_ZeroTimeoutChecksOnce(t *testing.T) {
	var calls int32
	err := Poll(context.Background(), time.Millisecond, 0, func() (bool, error) {
		atomic.AddInt32(&calls, 1)
		return false, nil
	})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPoll_ConditionErrorStops(t *testing.T) {
	boom := errors.New("boom")
	err := Poll(context.Background(), time.Millisecond, time.Second, func() (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestPoll_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Poll(ctx, time.Millisecond, time.Minute, func() (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}
