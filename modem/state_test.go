package modem

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	t.Run("Wait returns once set", func(t *testing.T) {
		l := newLatch()
		go func() {
			time.Sleep(5 * time.Millisecond)
			l.Set(true)
		}()
		require.NoError(t, l.Wait(context.Background(), time.Second))
		require.True(t, l.IsSet())
	})

	t.Run("Already set", func(t *testing.T) {
		l := newLatch()
		l.Set(true)
		l.Set(true)
		require.NoError(t, l.Wait(context.Background(), time.Millisecond))
	})

	t.Run("Cleared latch blocks again", func(t *testing.T) {
		l := newLatch()
		l.Set(true)
		l.Set(false)
		require.False(t, l.IsSet())
		require.ErrorIs(t, l.Wait(context.Background(), 5*time.Millisecond), ErrTimeout)
	})

	t.Run("Context ends the wait", func(t *testing.T) {
		l := newLatch()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := l.Wait(ctx, time.Second)
		require.ErrorIs(t, err, ErrTimeout)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestStateText(t *testing.T) {
	b, err := json.Marshal(map[string]State{"state": StateInitializing})
	require.NoError(t, err)
	require.JSONEq(t, `{"state":"initializing"}`, string(b))
	require.Equal(t, "unknown", State(42).String())
}
