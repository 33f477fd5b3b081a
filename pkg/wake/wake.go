// Package wake hands out short-lived wake-guarantee tokens.
//
// A token keeps the host awake for at most its timeout. It's released either
// explicitly or automatically when the timeout elapses, whichever comes first;
// releasing twice is a no-op.
package wake

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds how long a dispatch can keep the host awake.
const DefaultTimeout = 30 * time.Second

// Guard acquires wake tokens.
type Guard interface {
	Acquire(ctx context.Context, tag string, timeout time.Duration) *Token
}

// Locker is a Guard that tracks held tokens on a clock.
type Locker struct {
	clock clock.Clock
	log   zerolog.Logger

	mu   sync.Mutex
	held map[*Token]struct{}
}

// NewLocker returns a Locker using the given clock.
func NewLocker(clk clock.Clock, log zerolog.Logger) *Locker {
	if clk == nil {
		clk = clock.New()
	}
	return &Locker{
		clock: clk,
		log:   log.With().Str("component", "wake").Logger(),
		held:  map[*Token]struct{}{},
	}
}

// Acquire returns a held token. The token's context is cancelled when the token is released or expires.
func (l *Locker) Acquire(ctx context.Context, tag string, timeout time.Duration) *Token {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tokCtx, cancel := context.WithCancel(ctx)
	t := &Token{
		Tag:      tag,
		ctx:      tokCtx,
		cancel:   cancel,
		released: make(chan struct{}),
	}
	t.onRelease = func(expired bool) {
		l.mu.Lock()
		delete(l.held, t)
		l.mu.Unlock()
		if expired {
			l.log.Warn().Str("tag", tag).Dur("timeout", timeout).Msg("Wake token expired before release")
		}
	}

	l.mu.Lock()
	l.held[t] = struct{}{}
	l.mu.Unlock()

	t.timer = l.clock.AfterFunc(timeout, func() {
		t.release(true)
	})
	return t
}

// Held returns the number of tokens currently held.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// Token is a held wake guarantee.
type Token struct {
	Tag string

	ctx       context.Context
	cancel    context.CancelFunc
	timer     *clock.Timer
	once      sync.Once
	released  chan struct{}
	onRelease func(expired bool)
	expired   bool
}

// Context is cancelled once the token is released or expires.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Done is closed once the token is released or expires.
func (t *Token) Done() <-chan struct{} {
	return t.released
}

// Expired reports whether the token ran out before it was released.
// Only meaningful after Done is closed.
func (t *Token) Expired() bool {
	<-t.released
	return t.expired
}

// Release gives the token back. It's safe to call multiple times.
func (t *Token) Release() {
	t.release(false)
}

func (t *Token) release(expired bool) {
	t.once.Do(func() {
		if !expired && t.timer != nil {
			t.timer.Stop()
		}
		t.expired = expired
		t.cancel()
		if t.onRelease != nil {
			t.onRelease(expired)
		}
		close(t.released)
	})
}
