// Package scheduler owns the single pending trigger per reminder ID.
//
// A schedule request for an ID that already has a pending trigger replaces
// it: the old trigger is invalidated and never fires. Cancel is idempotent.
// Firing is one-shot; the reminder is removed from the registry before it is
// handed to the fire handler.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"medremind/pkg/registry"
	"medremind/pkg/reminders"
	"medremind/pkg/trigger"
)

const (
	// Reminders that became due while the process was down are still re-armed if they're at most this late
	defaultLateGrace = 15 * time.Minute
)

var (
	// ErrPermissionDenied is returned when precise wake triggers are unavailable.
	// The scheduler never falls back to an imprecise trigger.
	ErrPermissionDenied = errors.New("precise alarm permission denied")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("scheduler is closed")
)

// FireHandler receives every reminder whose trigger elapsed.
type FireHandler func(ctx context.Context, f reminders.Fired)

// Options configures a Scheduler.
type Options struct {
	Triggers   trigger.Service
	Permission trigger.Permission
	Store      registry.Store
	OnFire     FireHandler
	Clock      clock.Clock
	Logger     zerolog.Logger
	// LateGrace is how late a reminder may be during Rearm and still be scheduled (it then fires immediately).
	LateGrace time.Duration
}

type pendingTrigger struct {
	handle   trigger.Handle
	reminder reminders.Reminder
}

type Scheduler struct {
	triggers   trigger.Service
	caps       trigger.Capabilities
	permission trigger.Permission
	store      registry.Store
	onFire     FireHandler
	clock      clock.Clock
	log        zerolog.Logger
	lateGrace  time.Duration

	mu      sync.Mutex
	pending map[int64]pendingTrigger
	closed  bool
}

// New returns a Scheduler. The trigger service capabilities are resolved once here.
func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Store == nil {
		opts.Store = registry.NewMemory()
	}
	if opts.LateGrace <= 0 {
		opts.LateGrace = defaultLateGrace
	}
	return &Scheduler{
		triggers:   opts.Triggers,
		caps:       opts.Triggers.Capabilities(),
		permission: opts.Permission,
		store:      opts.Store,
		onFire:     opts.OnFire,
		clock:      opts.Clock,
		log:        opts.Logger.With().Str("component", "scheduler").Logger(),
		lateGrace:  opts.LateGrace,
		pending:    map[int64]pendingTrigger{},
	}
}

// CanScheduleExact reports whether a Schedule call would currently pass the permission check.
func (s *Scheduler) CanScheduleExact() bool {
	if !s.caps.PreciseWake {
		return false
	}
	return s.permission == nil || s.permission.CanScheduleExact()
}

// Schedule installs a one-shot trigger for the reminder, replacing any pending trigger with the same ID.
// If the permission check fails, nothing is registered and a prior trigger stays in place.
func (s *Scheduler) Schedule(ctx context.Context, r reminders.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(ctx, r)
}

// scheduleLocked must be called with s.mu held.
func (s *Scheduler) scheduleLocked(ctx context.Context, r reminders.Reminder) error {
	err := r.Validate()
	if err != nil {
		return err
	}
	if !s.CanScheduleExact() {
		s.log.Error().Int64("id", r.ID).Msg("Cannot schedule exact alarm: permission denied")
		return errors.Wrapf(ErrPermissionDenied, "cannot schedule reminder %d", r.ID)
	}
	if s.closed {
		return ErrClosed
	}

	// Register the new trigger before touching the old one, so a failure leaves the prior state intact
	h, err := s.triggers.Register(r.ID, r.ScheduledTime(), s.fire)
	if err != nil {
		return errors.Wrapf(err, "failed to register trigger for reminder %d", r.ID)
	}
	err = s.store.Put(ctx, r)
	if err != nil {
		s.triggers.Cancel(h)
		return err
	}

	old, replaced := s.pending[r.ID]
	s.pending[r.ID] = pendingTrigger{handle: h, reminder: r}
	if replaced {
		s.triggers.Cancel(old.handle)
	}

	s.log.Debug().
		Int64("id", r.ID).
		Time("fireTime", r.ScheduledTime()).
		Bool("replaced", replaced).
		Msg("Alarm scheduled")
	return nil
}

// Cancel invalidates the pending trigger for the ID, if any, and removes the reminder from the registry.
// Cancelling an ID with nothing pending is a no-op. A dispatch already in progress is not affected.
func (s *Scheduler) Cancel(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[id]
	if ok {
		s.triggers.Cancel(p.handle)
		delete(s.pending, id)
		s.log.Debug().Int64("id", id).Msg("Alarm cancelled")
	}

	return s.store.Delete(ctx, id)
}

// Pending reports whether the ID has a trigger that hasn't fired yet.
func (s *Scheduler) Pending(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

// PendingCount returns the number of pending triggers.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Rearm schedules again every registry entry flagged by the boot hook.
// Entries that are due for longer than the late grace are dropped.
// Entries cancelled, fired or rescheduled since they were listed are left alone.
// It returns the number of reminders scheduled.
func (s *Scheduler) Rearm(ctx context.Context) (int, error) {
	list, err := s.store.ListNeedingRearm(ctx)
	if err != nil {
		return 0, err
	}

	var (
		n    int
		errs error
	)
	now := s.clock.Now()
	for _, r := range list {
		ok, err := s.rearmOne(ctx, r, now)
		if err != nil {
			errs = errors.CombineErrors(errs, err)
			continue
		}
		if ok {
			n++
		}
	}

	s.log.Info().Int("rearmed", n).Int("flagged", len(list)).Msg("Re-armed reminders")
	return n, errs
}

func (s *Scheduler) rearmOne(ctx context.Context, listed reminders.Reminder, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Get(ctx, listed.ID)
	if err != nil {
		return false, err
	}
	if current == nil || !current.ScheduledTime().Equal(listed.ScheduledTime()) {
		s.log.Debug().Int64("id", listed.ID).Msg("Reminder changed after it was flagged, not re-arming")
		return false, nil
	}

	if now.Sub(current.ScheduledTime()) > s.lateGrace {
		s.log.Warn().
			Int64("id", current.ID).
			Time("fireTime", current.ScheduledTime()).
			Msg("Dropping reminder that became due while the alarms were not armed")
		return false, s.store.Delete(ctx, current.ID)
	}

	err = s.scheduleLocked(ctx, *current)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close cancels all pending triggers. Reminders stay in the registry.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, p := range s.pending {
		s.triggers.Cancel(p.handle)
		delete(s.pending, id)
	}
	return nil
}

// Invoked by the trigger service when a registration elapses.
func (s *Scheduler) fire(h trigger.Handle, at time.Time) {
	ctx := context.Background()

	s.mu.Lock()
	p, ok := s.pending[h.ReminderID]
	if !ok || p.handle != h {
		// Replaced or cancelled after the trigger elapsed
		s.mu.Unlock()
		s.log.Debug().Int64("id", h.ReminderID).Uint64("seq", h.Seq).Msg("Ignoring stale trigger")
		return
	}
	delete(s.pending, h.ReminderID)
	err := s.store.Delete(ctx, h.ReminderID)
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Int64("id", h.ReminderID).Msg("Failed to remove fired reminder from the registry")
	}

	s.log.Info().
		Int64("id", p.reminder.ID).
		Str("medicine", p.reminder.MedicineName).
		Msg("Alarm fired")

	if s.onFire != nil {
		s.onFire(ctx, p.reminder.Fired(at))
	}
}
