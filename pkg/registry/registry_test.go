package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medremind/pkg/reminders"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	sq, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			aspirin := reminders.Reminder{ID: 7, MedicineName: "Aspirin", Dosage: "100mg", Instructions: "Take with food", FireTime: time.UnixMilli(5000)}
			vitamin := reminders.Reminder{ID: 2, MedicineName: "Vitamin D", Dosage: "5mcg", FireTime: time.UnixMilli(1000)}

			t.Run("get missing", func(t *testing.T) {
				r, err := store.Get(ctx, 99)
				require.NoError(t, err)
				assert.Nil(t, r)
			})

			t.Run("put and get", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, aspirin))
				require.NoError(t, store.Put(ctx, vitamin))

				r, err := store.Get(ctx, 7)
				require.NoError(t, err)
				require.NotNil(t, r)
				assert.Equal(t, aspirin.MedicineName, r.MedicineName)
				assert.Equal(t, aspirin.Instructions, r.Instructions)
				assert.Equal(t, int64(5000), r.FireTimeMillis())
			})

			t.Run("put replaces", func(t *testing.T) {
				updated := aspirin
				updated.Dosage = "300mg"
				updated.FireTime = time.UnixMilli(6000)
				require.NoError(t, store.Put(ctx, updated))

				r, err := store.Get(ctx, 7)
				require.NoError(t, err)
				require.NotNil(t, r)
				assert.Equal(t, "300mg", r.Dosage)
				assert.Equal(t, int64(6000), r.FireTimeMillis())
			})

			t.Run("list ordered by fire time", func(t *testing.T) {
				list, err := store.List(ctx)
				require.NoError(t, err)
				require.Len(t, list, 2)
				assert.Equal(t, int64(2), list[0].ID)
				assert.Equal(t, int64(7), list[1].ID)
			})

			t.Run("rearm flags", func(t *testing.T) {
				list, err := store.ListNeedingRearm(ctx)
				require.NoError(t, err)
				assert.Empty(t, list)

				n, err := store.MarkAllForRearm(ctx)
				require.NoError(t, err)
				assert.Equal(t, 2, n)

				list, err = store.ListNeedingRearm(ctx)
				require.NoError(t, err)
				assert.Len(t, list, 2)

				// Storing the reminder again clears its flag
				require.NoError(t, store.Put(ctx, vitamin))
				list, err = store.ListNeedingRearm(ctx)
				require.NoError(t, err)
				require.Len(t, list, 1)
				assert.Equal(t, int64(7), list[0].ID)
			})

			t.Run("delete is idempotent", func(t *testing.T) {
				require.NoError(t, store.Delete(ctx, 7))
				require.NoError(t, store.Delete(ctx, 7))

				r, err := store.Get(ctx, 7)
				require.NoError(t, err)
				assert.Nil(t, r)
			})
		})
	}
}

func TestGetConnectionString(t *testing.T) {
	s := getConnectionString("data.db")
	assert.Contains(t, s, "file:data.db?")
	assert.Contains(t, s, "journal_mode%28WAL%29")
	assert.Contains(t, s, "busy_timeout%282000%29")
}
