package main

import (
	"context"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"medremind/pkg/boot"
	"medremind/pkg/claims"
	"medremind/pkg/command"
	"medremind/pkg/dispatch"
	"medremind/pkg/events"
	"medremind/pkg/notify"
	"medremind/pkg/registry"
	"medremind/pkg/scheduler"
	"medremind/pkg/speech"
	"medremind/pkg/trigger"
	"medremind/pkg/wake"
)

// AppOptions lists the collaborators the app is assembled from.
type AppOptions struct {
	Store         registry.Store
	Triggers      trigger.Service
	Clock         clock.Clock
	Speech        speech.EngineFactory
	SpeechOptions speech.Options
	ExactAlarms   bool
	WakeTimeout   time.Duration
	LateGrace     time.Duration
	EventBuffer   int
	// Claims and Auth are nil when no identity backend is configured.
	Claims *claims.Service
	Auth   *claims.Authenticator
	Logger zerolog.Logger
}

// App ties the scheduler, the dispatcher and the boot hook together.
type App struct {
	log         zerolog.Logger
	store       registry.Store
	triggers    trigger.Service
	scheduler   *scheduler.Scheduler
	surface     *command.Surface
	permission  *trigger.PermissionSwitch
	tray        *notify.Tray
	hub         *events.Hub
	hook        *boot.Hook
	claims      *claims.Service
	auth        *claims.Authenticator
	eventBuffer int
	validate    *validator.Validate
}

func NewApp(opts AppOptions) *App {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	log := opts.Logger

	permission := trigger.NewPermissionSwitch(opts.ExactAlarms)
	tray := notify.NewTray(opts.Clock, log)
	hub := events.NewHub(log)
	dispatcher := dispatch.New(dispatch.Options{
		Wake:        wake.NewLocker(opts.Clock, log),
		WakeTimeout: opts.WakeTimeout,
		Notifier:    tray,
		Speaker:     speech.NewSpeaker(opts.Speech, opts.SpeechOptions, log),
		Events:      hub,
		Logger:      log,
	})
	sched := scheduler.New(scheduler.Options{
		Triggers:   opts.Triggers,
		Permission: permission,
		Store:      opts.Store,
		OnFire:     dispatcher.Handle,
		Clock:      opts.Clock,
		Logger:     log,
		LateGrace:  opts.LateGrace,
	})

	return &App{
		log:         log,
		store:       opts.Store,
		triggers:    opts.Triggers,
		scheduler:   sched,
		surface:     command.New(sched, log),
		permission:  permission,
		tray:        tray,
		hub:         hub,
		hook:        boot.NewHook(opts.Store, log),
		claims:      opts.Claims,
		auth:        opts.Auth,
		eventBuffer: opts.EventBuffer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Start re-arms the stored reminders.
// Triggers live in this process, so every start counts as a restart.
func (a *App) Start(ctx context.Context) error {
	_, err := a.hook.Handle(ctx, boot.BootCompleted)
	if err != nil {
		return errors.Wrap(err, "failed to flag reminders for re-arm")
	}
	n, err := a.scheduler.Rearm(ctx)
	if err != nil {
		// Reminders that couldn't be re-armed stay flagged
		a.log.Error().Err(err).Int("rearmed", n).Msg("Some reminders could not be re-armed")
	}
	return nil
}

// Close stops all pending triggers and closes the registry.
func (a *App) Close() error {
	var errs error
	errs = errors.CombineErrors(errs, a.scheduler.Close())
	if c, ok := a.triggers.(io.Closer); ok {
		errs = errors.CombineErrors(errs, c.Close())
	}
	errs = errors.CombineErrors(errs, a.store.Close())
	return errs
}
