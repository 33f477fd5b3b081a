// Package dispatch handles fired reminders: it keeps the host awake, shows the
// notification, speaks the reminder and tells attached listeners.
//
// Every step runs even if an earlier one failed. Failures are logged; a
// reminder that reached at least one channel is better than none.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"medremind/pkg/notify"
	"medremind/pkg/reminders"
	"medremind/pkg/speech"
	"medremind/pkg/wake"
)

// ErrEngineFailure marks failures of the notification or speech subsystem.
var ErrEngineFailure = errors.New("engine failure")

// Announcer speaks text asynchronously. The channel yields the outcome once.
type Announcer interface {
	Say(ctx context.Context, text string) <-chan error
}

// Publisher forwards listener events and returns how many listeners got them.
type Publisher interface {
	Publish(e reminders.Event) int
}

// Options configures a Dispatcher.
type Options struct {
	Wake        wake.Guard
	WakeTimeout time.Duration
	Notifier    notify.Renderer
	Speaker     Announcer
	Events      Publisher
	Logger      zerolog.Logger
}

type Dispatcher struct {
	wake        wake.Guard
	wakeTimeout time.Duration
	notifier    notify.Renderer
	speaker     Announcer
	events      Publisher
	log         zerolog.Logger
}

func New(opts Options) *Dispatcher {
	if opts.WakeTimeout <= 0 {
		opts.WakeTimeout = wake.DefaultTimeout
	}
	return &Dispatcher{
		wake:        opts.Wake,
		wakeTimeout: opts.WakeTimeout,
		notifier:    opts.Notifier,
		speaker:     opts.Speaker,
		events:      opts.Events,
		log:         opts.Logger.With().Str("component", "dispatch").Logger(),
	}
}

// Report describes what a dispatch achieved.
// Fields other than those guarded by Done are final when Dispatch returns.
type Report struct {
	ID            int64
	NotifyErr     error
	SpeechStarted bool
	// Listeners is the number of listeners that received the alarm_fired event.
	Listeners int

	done      chan struct{}
	speechErr error
}

// Done is closed once speech completed and the wake token was released.
func (r *Report) Done() <-chan struct{} {
	return r.done
}

// SpeechErr returns the speech outcome. It blocks until Done is closed.
func (r *Report) SpeechErr() error {
	<-r.done
	return r.speechErr
}

// Handle is a scheduler.FireHandler.
func (d *Dispatcher) Handle(ctx context.Context, f reminders.Fired) {
	d.Dispatch(ctx, f)
}

// Dispatch runs the firing sequence for one reminder. It does not wait for speech to finish;
// speech is bounded by the wake token and the token is released on every path.
func (d *Dispatcher) Dispatch(ctx context.Context, f reminders.Fired) *Report {
	log := d.log.With().Int64("id", f.ID).Str("medicine", f.MedicineName).Logger()
	report := &Report{ID: f.ID, done: make(chan struct{})}

	var token *wake.Token
	if d.wake != nil {
		token = d.wake.Acquire(ctx, fmt.Sprintf("alarm:%d", f.ID), d.wakeTimeout)
		ctx = token.Context()
	}

	handedOff := false
	defer func() {
		if handedOff {
			return
		}
		if token != nil {
			token.Release()
		}
		close(report.done)
	}()

	report.NotifyErr = d.step(log, "notification", func() error {
		return d.showNotification(ctx, f)
	})

	if d.speaker != nil {
		var speechCh <-chan error
		err := d.step(log, "speech", func() error {
			speechCh = d.speaker.Say(ctx, speech.Message(f.MedicineName, f.Dosage, f.Instructions))
			return nil
		})
		if err == nil && speechCh != nil {
			report.SpeechStarted = true
			handedOff = true
			go d.awaitSpeech(log, report, speechCh, token)
		}
	}

	if d.events != nil {
		_ = d.step(log, "event", func() error {
			report.Listeners = d.events.Publish(reminders.AlarmFired(f.ID))
			if report.Listeners == 0 {
				log.Debug().Msg("No listener attached for alarm event")
			}
			return nil
		})
	}

	return report
}

func (d *Dispatcher) showNotification(ctx context.Context, f reminders.Fired) error {
	if d.notifier == nil {
		return nil
	}
	err := d.notifier.EnsureChannel(ctx, notify.ReminderChannel)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to create notification channel"), ErrEngineFailure)
	}
	err = d.notifier.Render(ctx, notify.ForReminder(f.ID, f.MedicineName, f.Dosage, f.Instructions))
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to show notification"), ErrEngineFailure)
	}
	return nil
}

func (d *Dispatcher) awaitSpeech(log zerolog.Logger, report *Report, ch <-chan error, token *wake.Token) {
	var once sync.Once
	finish := func(err error) {
		once.Do(func() {
			report.speechErr = err
			if token != nil {
				token.Release()
			}
			close(report.done)
		})
	}
	defer func() {
		if r := recover(); r != nil {
			finish(errors.Newf("panic while waiting for speech: %v", r))
		}
	}()

	err := <-ch
	if err != nil {
		if token != nil && token.Context().Err() != nil {
			log.Warn().Err(err).Msg("Speech cut short by the wake timeout")
		} else {
			log.Error().Err(err).Msg("Speech failed")
		}
		err = errors.Mark(err, ErrEngineFailure)
	}
	finish(err)
}

// step runs fn and logs its failure, turning panics into errors so the remaining steps still run.
func (d *Dispatcher) step(log zerolog.Logger, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Mark(errors.Newf("panic in %s step: %v", name, r), ErrEngineFailure)
		}
		if err != nil {
			log.Error().Err(err).Str("step", name).Msg("Dispatch step failed")
		}
	}()
	return fn()
}
