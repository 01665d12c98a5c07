package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureResolve(t *testing.T) {

	fut := NewFuture[int]()
	assert.False(t, fut.Settled())

	go func() {
		time.Sleep(10 * time.Millisecond)
		fut.Resolve(42)
	}()

	value, err := fut.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, value)
	assert.True(t, fut.Settled())
}

func TestFutureReject(t *testing.T) {

	fut := NewFuture[string]()
	boom := errors.New("boom")

	require.True(t, fut.Reject(boom))

	_, err := fut.Await(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestFutureSettlesAtMostOnce(t *testing.T) {

	fut := NewFuture[int]()

	require.True(t, fut.Resolve(1))
	assert.False(t, fut.Resolve(2))
	assert.False(t, fut.Reject(errors.New("late")))

	value, err := fut.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, value)
}

func TestFutureAwaitContextDone(t *testing.T) {

	fut := NewFuture[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := fut.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The future itself is still unsettled and can settle later.
	assert.False(t, fut.Settled())
	require.True(t, fut.Resolve(7))

	value, err := fut.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, value)
}
