package reminders

import (
	"time"

	"github.com/cockroachdb/errors"
)

// EventAlarmFired is the event name sent to listeners when a reminder fires.
const EventAlarmFired = "alarm_fired"

// ErrInvalidReminder is returned when a reminder can't be scheduled because of its contents.
var ErrInvalidReminder = errors.New("invalid reminder")

type Reminder struct {
	ID           int64     `json:"id"`
	MedicineName string    `json:"medicineName"`
	Dosage       string    `json:"dosage"`
	Instructions string    `json:"instructions,omitempty"`
	FireTime     time.Time `json:"fireTime"`
}

// ScheduledTime returns the time the reminder is scheduled to fire at.
func (r Reminder) ScheduledTime() time.Time {
	return r.FireTime
}

// FireTimeMillis returns the fire time as milliseconds since the epoch.
func (r Reminder) FireTimeMillis() int64 {
	return r.FireTime.UnixMilli()
}

// Validate checks the identity and fire time of the reminder.
// The payload fields are free-form and are not validated.
func (r Reminder) Validate() error {
	if r.ID <= 0 {
		return errors.Wrapf(ErrInvalidReminder, "id must be positive, got %d", r.ID)
	}
	if r.FireTime.IsZero() || r.FireTime.UnixMilli() < 0 {
		return errors.Wrapf(ErrInvalidReminder, "fire time must be a non-negative epoch timestamp")
	}
	return nil
}

// Fired returns the event produced when this reminder's trigger elapses.
func (r Reminder) Fired(at time.Time) Fired {
	return Fired{
		ID:           r.ID,
		MedicineName: r.MedicineName,
		Dosage:       r.Dosage,
		Instructions: r.Instructions,
		FiredAt:      at,
	}
}

// Fired is the ephemeral message handed to the dispatcher when a trigger elapses.
type Fired struct {
	ID           int64
	MedicineName string
	Dosage       string
	Instructions string
	FiredAt      time.Time
}

// Event is the message sent to front-end listeners.
type Event struct {
	Event string `json:"event"`
	ID    int64  `json:"id"`
}

// AlarmFired returns the listener event for a fired reminder.
func AlarmFired(id int64) Event {
	return Event{Event: EventAlarmFired, ID: id}
}
