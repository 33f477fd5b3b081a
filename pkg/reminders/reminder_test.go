package reminders

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		r := Reminder{ID: 7, MedicineName: "Aspirin", FireTime: time.UnixMilli(1000)}
		require.NoError(t, r.Validate())
	})

	t.Run("zero id", func(t *testing.T) {
		r := Reminder{ID: 0, FireTime: time.UnixMilli(1000)}
		err := r.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidReminder))
	})

	t.Run("negative fire time", func(t *testing.T) {
		r := Reminder{ID: 1, FireTime: time.UnixMilli(-5)}
		assert.True(t, errors.Is(r.Validate(), ErrInvalidReminder))
	})

	t.Run("epoch is allowed", func(t *testing.T) {
		r := Reminder{ID: 1, FireTime: time.UnixMilli(0)}
		require.NoError(t, r.Validate())
	})
}

func TestFired(t *testing.T) {
	r := Reminder{ID: 3, MedicineName: "Ibuprofen", Dosage: "200mg", Instructions: "After meals"}
	at := time.UnixMilli(42)
	f := r.Fired(at)
	assert.Equal(t, Fired{ID: 3, MedicineName: "Ibuprofen", Dosage: "200mg", Instructions: "After meals", FiredAt: at}, f)
}

func TestAlarmFiredJSON(t *testing.T) {
	b, err := json.Marshal(AlarmFired(7))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"alarm_fired","id":7}`, string(b))
}
