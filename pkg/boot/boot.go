// Package boot reacts to restart-class signals.
//
// The hook never schedules anything itself: the scheduler's payload store
// may not be ready yet when the signal arrives. It flags every stored
// reminder as needing re-registration and leaves re-arming to the
// application once it's ready (see scheduler.Scheduler.Rearm).
package boot

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// Signal is a restart-class notification from the host.
type Signal string

const (
	BootCompleted       Signal = "boot_completed"
	LockedBootCompleted Signal = "locked_boot_completed"
	QuickbootPowerOn    Signal = "quickboot_poweron"
	PackageReplaced     Signal = "package_replaced"
)

// ErrUnknownSignal is returned for signals the hook doesn't handle.
var ErrUnknownSignal = errors.New("unknown restart signal")

// Valid reports whether the signal is one the hook handles.
func (s Signal) Valid() bool {
	switch s {
	case BootCompleted, LockedBootCompleted, QuickbootPowerOn, PackageReplaced:
		return true
	}
	return false
}

// Marker flags stored reminders for re-registration.
type Marker interface {
	MarkAllForRearm(ctx context.Context) (int, error)
}

// Hook is the boot recovery hook.
type Hook struct {
	store Marker
	log   zerolog.Logger
}

func NewHook(store Marker, log zerolog.Logger) *Hook {
	return &Hook{
		store: store,
		log:   log.With().Str("component", "boot").Logger(),
	}
}

// Handle processes a restart signal and returns the number of reminders flagged for re-arm.
func (h *Hook) Handle(ctx context.Context, sig Signal) (int, error) {
	h.log.Debug().Str("signal", string(sig)).Msg("Received restart signal")

	if !sig.Valid() {
		h.log.Warn().Str("signal", string(sig)).Msg("Unknown restart signal")
		return 0, errors.Wrapf(ErrUnknownSignal, "%q", sig)
	}

	n, err := h.store.MarkAllForRearm(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to flag reminders for re-arm")
		return 0, err
	}

	h.log.Info().
		Str("signal", string(sig)).
		Int("flagged", n).
		Msg("Host restarted or app updated, reminders will be re-armed when the application is ready")
	return n, nil
}
