// Package speech turns fired reminders into spoken announcements.
//
// Engines are one-shot: the Speaker creates a fresh engine for every
// announcement and shuts it down once the utterance completes, fails, or the
// context is cancelled.
package speech

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultRate     = 0.9
	DefaultPitch    = 1.0
	DefaultLanguage = "en-US"
)

// ErrEngineFailure marks errors coming from a speech engine.
var ErrEngineFailure = errors.New("speech engine failure")

// Utterance is a single piece of text to speak.
type Utterance struct {
	ID       string
	Text     string
	Rate     float64
	Pitch    float64
	Language string
}

// Engine speaks utterances.
type Engine interface {
	// Speak blocks until the utterance has been spoken, failed, or ctx is done.
	Speak(ctx context.Context, u Utterance) error
	// Shutdown releases the engine's resources.
	Shutdown() error
}

// EngineFactory creates a new engine for each announcement.
type EngineFactory func(ctx context.Context) (Engine, error)

// Options for the Speaker.
type Options struct {
	Rate     float64
	Pitch    float64
	Language string
}

// Speaker runs announcements on one-shot engines.
type Speaker struct {
	newEngine EngineFactory
	opts      Options
	log       zerolog.Logger
}

// NewSpeaker returns a Speaker. Zero options fall back to the defaults.
func NewSpeaker(factory EngineFactory, opts Options, log zerolog.Logger) *Speaker {
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	if opts.Pitch <= 0 {
		opts.Pitch = DefaultPitch
	}
	if opts.Language == "" {
		opts.Language = DefaultLanguage
	}
	return &Speaker{
		newEngine: factory,
		opts:      opts,
		log:       log.With().Str("component", "speech").Logger(),
	}
}

// Say speaks the text asynchronously. The returned channel receives the
// outcome (nil on success) once, then is closed. Cancelling ctx stops the
// engine.
func (s *Speaker) Say(ctx context.Context, text string) <-chan error {
	done := make(chan error, 1)

	u := Utterance{
		ID:       "reminder_" + uuid.NewString(),
		Text:     text,
		Rate:     s.opts.Rate,
		Pitch:    s.opts.Pitch,
		Language: s.opts.Language,
	}
	log := s.log.With().Str("utterance", u.ID).Logger()

	engine, err := s.newEngine(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Speech engine initialization failed")
		done <- errors.Mark(errors.Wrap(err, "failed to initialize speech engine"), ErrEngineFailure)
		close(done)
		return done
	}

	go func() {
		defer close(done)
		defer func() {
			shutdownErr := engine.Shutdown()
			if shutdownErr != nil {
				log.Warn().Err(shutdownErr).Msg("Speech engine shutdown failed")
			}
		}()

		log.Debug().Str("text", u.Text).Msg("Speech started")
		err := engine.Speak(ctx, u)
		if err != nil {
			log.Error().Err(err).Msg("Speech failed")
			done <- errors.Mark(errors.Wrap(err, "failed to speak reminder"), ErrEngineFailure)
			return
		}
		log.Debug().Msg("Speech finished")
		done <- nil
	}()

	return done
}
