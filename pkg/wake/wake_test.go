package wake

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLocker(t *testing.T) {
	t.Run("release", func(t *testing.T) {
		l := NewLocker(clock.NewMock(), zerolog.Nop())
		tok := l.Acquire(context.Background(), "test", time.Second)
		assert.Equal(t, 1, l.Held())
		assert.NoError(t, tok.Context().Err())

		tok.Release()
		tok.Release()

		assert.Equal(t, 0, l.Held())
		assert.False(t, tok.Expired())
		assert.Error(t, tok.Context().Err())
		select {
		case <-tok.Done():
		default:
			t.Fatal("token should be done")
		}
	})

	t.Run("expires after timeout", func(t *testing.T) {
		clk := clock.NewMock()
		l := NewLocker(clk, zerolog.Nop())
		tok := l.Acquire(context.Background(), "test", 30*time.Second)

		clk.Add(29 * time.Second)
		assert.Equal(t, 1, l.Held())

		clk.Add(time.Second)
		select {
		case <-tok.Done():
		case <-time.After(time.Second):
			t.Fatal("token did not expire")
		}
		assert.True(t, tok.Expired())
		assert.Equal(t, 0, l.Held())

		// Releasing after expiry is harmless
		tok.Release()
		assert.True(t, tok.Expired())
	})

	t.Run("default timeout", func(t *testing.T) {
		clk := clock.NewMock()
		l := NewLocker(clk, zerolog.Nop())
		tok := l.Acquire(context.Background(), "test", 0)

		clk.Add(DefaultTimeout - time.Millisecond)
		assert.Equal(t, 1, l.Held())
		clk.Add(time.Millisecond)
		assert.Eventually(t, func() bool { return l.Held() == 0 }, time.Second, 5*time.Millisecond)
		assert.True(t, tok.Expired())
	})

	t.Run("parent cancellation is visible through the token", func(t *testing.T) {
		l := NewLocker(clock.NewMock(), zerolog.Nop())
		ctx, cancel := context.WithCancel(context.Background())
		tok := l.Acquire(ctx, "test", time.Second)
		cancel()
		assert.Error(t, tok.Context().Err())
		tok.Release()
	})
}
