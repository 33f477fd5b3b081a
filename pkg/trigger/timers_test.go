package trigger

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type firedLog struct {
	mu    sync.Mutex
	fired []Handle
}

func (f *firedLog) fire(h Handle, _ time.Time) {
	f.mu.Lock()
	f.fired = append(f.fired, h)
	f.mu.Unlock()
}

func (f *firedLog) handles() []Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Handle(nil), f.fired...)
}

func TestTimers(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_000_000))

	t.Run("fires once at the time", func(t *testing.T) {
		svc := NewTimers(clk)
		log := &firedLog{}

		h, err := svc.Register(1, clk.Now().Add(time.Second), log.fire)
		require.NoError(t, err)
		assert.Equal(t, int64(1), h.ReminderID)
		assert.Equal(t, 1, svc.Len())

		clk.Add(500 * time.Millisecond)
		assert.Empty(t, log.handles())

		clk.Add(500 * time.Millisecond)
		assert.Eventually(t, func() bool { return len(log.handles()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, []Handle{h}, log.handles())
		assert.Equal(t, 0, svc.Len())

		clk.Add(time.Hour)
		time.Sleep(20 * time.Millisecond)
		assert.Len(t, log.handles(), 1)
	})

	t.Run("cancel prevents firing", func(t *testing.T) {
		svc := NewTimers(clk)
		log := &firedLog{}

		h, err := svc.Register(2, clk.Now().Add(time.Second), log.fire)
		require.NoError(t, err)
		svc.Cancel(h)
		svc.Cancel(h)
		assert.Equal(t, 0, svc.Len())

		clk.Add(2 * time.Second)
		time.Sleep(20 * time.Millisecond)
		assert.Empty(t, log.handles())
	})

	t.Run("same time different ids", func(t *testing.T) {
		svc := NewTimers(clk)
		log := &firedLog{}
		at := clk.Now().Add(time.Second)

		h1, err := svc.Register(10, at, log.fire)
		require.NoError(t, err)
		h2, err := svc.Register(11, at, log.fire)
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)

		clk.Add(time.Second)
		assert.Eventually(t, func() bool { return len(log.handles()) == 2 }, time.Second, 5*time.Millisecond)
		assert.ElementsMatch(t, []Handle{h1, h2}, log.handles())
	})

	t.Run("past due fires immediately", func(t *testing.T) {
		svc := NewTimers(clk)
		log := &firedLog{}

		_, err := svc.Register(3, clk.Now().Add(-time.Minute), log.fire)
		require.NoError(t, err)

		clk.Add(0)
		assert.Eventually(t, func() bool { return len(log.handles()) == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("closed service rejects registrations", func(t *testing.T) {
		svc := NewTimers(clk)
		log := &firedLog{}

		_, err := svc.Register(4, clk.Now().Add(time.Second), log.fire)
		require.NoError(t, err)
		require.NoError(t, svc.Close())
		assert.Equal(t, 0, svc.Len())

		_, err = svc.Register(5, clk.Now().Add(time.Second), log.fire)
		assert.ErrorIs(t, err, ErrClosed)

		clk.Add(time.Minute)
		time.Sleep(20 * time.Millisecond)
		assert.Empty(t, log.handles())
	})

	t.Run("reports precise wake", func(t *testing.T) {
		assert.True(t, NewTimers(clk).Capabilities().PreciseWake)
	})
}

func TestPermissionSwitch(t *testing.T) {
	p := NewPermissionSwitch(true)
	assert.True(t, p.CanScheduleExact())
	p.Set(false)
	assert.False(t, p.CanScheduleExact())
}
