package xid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/sonyflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errClockBackward = errors.New("clock moved backward")

func stubGenerator(next func() (int64, error)) *Generator {
	return &Generator{
		maxWait:       50 * time.Millisecond,
		retryInterval: time.Millisecond,
		nextID:        next,
	}
}

func TestNewWithRetryRecovers(t *testing.T) {
	calls := 0
	g := stubGenerator(func() (int64, error) {
		calls++
		if calls < 3 {
			return 0, errClockBackward
		}
		return 42, nil
	})

	id, err := g.NewWithRetry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, 3, calls)
}

func TestNewWithRetryTimeout(t *testing.T) {
	g := stubGenerator(func() (int64, error) {
		return 0, errClockBackward
	})
	g.maxWait = 10 * time.Millisecond

	_, err := g.NewWithRetry(context.Background())
	assert.ErrorIs(t, err, ErrClockBackwardTimeout)
	assert.ErrorIs(t, err, errClockBackward)
}

func TestNewWithRetryOverTimeLimitNotRetried(t *testing.T) {
	calls := 0
	g := stubGenerator(func() (int64, error) {
		calls++
		return 0, sonyflake.ErrOverTimeLimit
	})

	_, err := g.NewWithRetry(context.Background())
	assert.ErrorIs(t, err, ErrOverTimeLimit)
	assert.Equal(t, 1, calls, "overflow is unrecoverable and must not be retried")
}

func TestNewWithRetryContextCancel(t *testing.T) {
	g := stubGenerator(func() (int64, error) {
		return 0, errClockBackward
	})
	g.maxWait = 10 * time.Second
	g.retryInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := g.NewWithRetry(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewMapsOverTimeLimit(t *testing.T) {
	g := stubGenerator(func() (int64, error) {
		return 0, sonyflake.ErrOverTimeLimit
	})

	_, err := g.New()
	assert.ErrorIs(t, err, ErrOverTimeLimit)
}
