// Package trigger contains the contract for the time-based trigger service the
// scheduler registers one-shot alarms with, and an in-process implementation
// running on an injectable clock.
package trigger

import (
	"time"

	"github.com/cockroachdb/errors"
)

// ErrClosed is returned by Register after the service was stopped.
var ErrClosed = errors.New("trigger service is closed")

// Handle identifies one registration with the trigger service.
// Handles are comparable; two registrations for the same reminder never share a handle.
type Handle struct {
	ReminderID int64
	Seq        uint64
}

// FireFunc is invoked once when a registration elapses.
type FireFunc func(h Handle, at time.Time)

// Service is the external time-based trigger service.
type Service interface {
	// Register installs a one-shot trigger for the given time.
	// Times in the past fire immediately.
	Register(id int64, at time.Time, fire FireFunc) (Handle, error)
	// Cancel invalidates the registration. Cancelling an elapsed or unknown handle is a no-op.
	Cancel(h Handle)
	// Capabilities reports what this service can guarantee.
	Capabilities() Capabilities
}

// Capabilities describe the environment the trigger service runs in.
// They are resolved once when the service is created.
type Capabilities struct {
	// PreciseWake is true when triggers fire at the exact time, even while the host is in a low-power state.
	PreciseWake bool
}
