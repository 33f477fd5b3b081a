package notify

import (
	"context"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ErrUnknownChannel is returned when rendering to a channel that was never registered.
var ErrUnknownChannel = errors.New("unknown notification channel")

// Tray is an in-memory Renderer. It keeps the currently visible notification per ID.
type Tray struct {
	clock clock.Clock
	log   zerolog.Logger

	mu       sync.RWMutex
	channels map[string]Channel
	shown    map[int64]Notification
}

// NewTray returns an empty tray.
func NewTray(clk clock.Clock, log zerolog.Logger) *Tray {
	if clk == nil {
		clk = clock.New()
	}
	return &Tray{
		clock:    clk,
		log:      log.With().Str("component", "notify").Logger(),
		channels: map[string]Channel{},
		shown:    map[int64]Notification{},
	}
}

func (t *Tray) EnsureChannel(_ context.Context, ch Channel) error {
	if ch.ID == "" {
		return errors.New("channel id is empty")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.channels[ch.ID]; !ok {
		t.channels[ch.ID] = ch
		t.log.Debug().Str("channel", ch.ID).Msg("Notification channel created")
	}
	return nil
}

func (t *Tray) Render(_ context.Context, n Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.channels[n.ChannelID]; !ok {
		return errors.Wrapf(ErrUnknownChannel, "channel %q", n.ChannelID)
	}
	if n.PostedAt.IsZero() {
		n.PostedAt = t.clock.Now()
	}
	_, replaced := t.shown[n.ID]
	t.shown[n.ID] = n
	t.log.Info().Int64("id", n.ID).Bool("replaced", replaced).Msg("Notification shown")
	return nil
}

// Get returns the visible notification with the given ID.
func (t *Tray) Get(id int64) (Notification, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.shown[id]
	return n, ok
}

// List returns the visible notifications, most recent first.
func (t *Tray) List() []Notification {
	t.mu.RLock()
	list := make([]Notification, 0, len(t.shown))
	for _, n := range t.shown {
		list = append(list, n)
	}
	t.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].PostedAt.Equal(list[j].PostedAt) {
			return list[i].PostedAt.After(list[j].PostedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// Dismiss removes the notification. It reports whether one was visible.
func (t *Tray) Dismiss(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.shown[id]
	delete(t.shown, id)
	return ok
}
