package boot

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"medremind/pkg/registry"
	"medremind/pkg/reminders"
)

type mockMarker struct {
	mock.Mock
}

func (m *mockMarker) MarkAllForRearm(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("restart signals flag the registry", func(t *testing.T) {
		store := registry.NewMemory()
		require.NoError(t, store.Put(ctx, reminders.Reminder{ID: 1, FireTime: time.UnixMilli(1000)}))
		require.NoError(t, store.Put(ctx, reminders.Reminder{ID: 2, FireTime: time.UnixMilli(2000)}))
		hook := NewHook(store, zerolog.Nop())

		for _, sig := range []Signal{BootCompleted, LockedBootCompleted, QuickbootPowerOn, PackageReplaced} {
			n, err := hook.Handle(ctx, sig)
			require.NoError(t, err, sig)
			assert.Equal(t, 2, n, sig)
		}

		list, err := store.ListNeedingRearm(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("unknown signal", func(t *testing.T) {
		m := &mockMarker{}
		hook := NewHook(m, zerolog.Nop())

		_, err := hook.Handle(ctx, Signal("screen_on"))
		assert.True(t, errors.Is(err, ErrUnknownSignal))
		m.AssertNotCalled(t, "MarkAllForRearm", mock.Anything)
	})

	t.Run("store failure", func(t *testing.T) {
		m := &mockMarker{}
		m.On("MarkAllForRearm", mock.Anything).Return(0, errors.New("db locked"))
		hook := NewHook(m, zerolog.Nop())

		_, err := hook.Handle(ctx, BootCompleted)
		assert.EqualError(t, err, "db locked")
		m.AssertExpectations(t)
	})
}
