// Package registry keeps the durable mapping from a reminder ID to its fire
// time and payload. The scheduler writes to it; the boot hook and the re-arm
// pass read from it.
package registry

import (
	"context"

	"medremind/pkg/reminders"
)

// Store is the Reminder Registry.
type Store interface {
	// Put inserts or replaces the reminder with the same ID and clears its re-arm flag.
	Put(ctx context.Context, r reminders.Reminder) error
	// Get returns the reminder with the given ID, or nil if there's none.
	Get(ctx context.Context, id int64) (*reminders.Reminder, error)
	// Delete removes the reminder. Deleting a missing ID is not an error.
	Delete(ctx context.Context, id int64) error
	// List returns all reminders ordered by fire time.
	List(ctx context.Context) ([]reminders.Reminder, error)
	// MarkAllForRearm flags every stored reminder as needing re-registration and returns how many were flagged.
	MarkAllForRearm(ctx context.Context) (int, error)
	// ListNeedingRearm returns the flagged reminders ordered by fire time.
	ListNeedingRearm(ctx context.Context) ([]reminders.Reminder, error)
	Close() error
}
