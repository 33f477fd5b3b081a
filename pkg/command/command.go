// Package command is the surface the application shell calls to schedule and
// cancel alarms. Results are a success flag plus an error carrying a
// distinguishable code, so a denied precise-alarm permission can be shown to
// the user instead of being dropped silently.
package command

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"medremind/pkg/reminders"
	"medremind/pkg/scheduler"
)

// Error codes returned by Code.
const (
	CodePermissionDenied = "permission_denied"
	CodeInvalidArgument  = "invalid_argument"
	CodeInternal         = "internal"
)

// defaultMedicineName is used when the caller didn't name the medicine.
const defaultMedicineName = "Medicine"

// Scheduler is what the surface drives.
type Scheduler interface {
	Schedule(ctx context.Context, r reminders.Reminder) error
	Cancel(ctx context.Context, id int64) error
}

type Surface struct {
	scheduler Scheduler
	log       zerolog.Logger
}

func New(s Scheduler, log zerolog.Logger) *Surface {
	return &Surface{
		scheduler: s,
		log:       log.With().Str("component", "command").Logger(),
	}
}

// ScheduleAlarm schedules (or replaces) the alarm with the given ID.
func (c *Surface) ScheduleAlarm(ctx context.Context, id int64, medicineName, dosage, instructions string, triggerTimeMillis int64) (bool, error) {
	if medicineName == "" {
		medicineName = defaultMedicineName
	}
	r := reminders.Reminder{
		ID:           id,
		MedicineName: medicineName,
		Dosage:       dosage,
		Instructions: instructions,
		FireTime:     time.UnixMilli(triggerTimeMillis),
	}
	err := c.scheduler.Schedule(ctx, r)
	if err != nil {
		c.log.Warn().Err(err).Int64("id", id).Str("code", Code(err)).Msg("scheduleAlarm failed")
		return false, err
	}
	c.log.Info().Int64("id", id).Time("at", r.FireTime).Msg("Alarm scheduled")
	return true, nil
}

// CancelAlarm cancels the alarm with the given ID. Cancelling an unknown ID succeeds.
func (c *Surface) CancelAlarm(ctx context.Context, id int64) (bool, error) {
	err := c.scheduler.Cancel(ctx, id)
	if err != nil {
		c.log.Warn().Err(err).Int64("id", id).Msg("cancelAlarm failed")
		return false, err
	}
	c.log.Info().Int64("id", id).Msg("Alarm cancelled")
	return true, nil
}

// Code classifies an error returned by the surface.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, scheduler.ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, reminders.ErrInvalidReminder):
		return CodeInvalidArgument
	default:
		return CodeInternal
	}
}
