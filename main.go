package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"medremind/pkg/claims"
	"medremind/pkg/config"
	"medremind/pkg/identity"
	"medremind/pkg/logging"
	"medremind/pkg/registry"
	"medremind/pkg/speech"
	"medremind/pkg/trigger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Exiting with error")
	}
	log.Info().Msg("Shut down")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	// Connect to the database and ensure that the tables exist
	store, err := registry.OpenSQLite(ctx, cfg.DBPath)
	if err != nil {
		return err
	}

	clk := clock.New()
	opts := AppOptions{
		Store:    store,
		Triggers: trigger.NewTimers(clk),
		Clock:    clk,
		Speech:   speech.CommandFactory(cfg.Speech.Command),
		SpeechOptions: speech.Options{
			Rate:     cfg.Speech.Rate,
			Pitch:    cfg.Speech.Pitch,
			Language: cfg.Speech.Language,
		},
		ExactAlarms: cfg.ExactAlarms,
		WakeTimeout: cfg.WakeTimeout,
		LateGrace:   cfg.LateGrace,
		EventBuffer: cfg.EventBuffer,
		Logger:      log,
	}

	if cfg.Identity.URL != "" {
		docs, err := claims.NewSQLiteDocuments(ctx, store.DB())
		if err != nil {
			store.Close()
			return err
		}
		directory := identity.NewClient(cfg.Identity.URL, cfg.Identity.Token)
		opts.Claims = claims.NewService(directory, docs, clk, log)
		opts.Auth = claims.NewAuthenticator(cfg.AuthSecret)
	} else {
		log.Warn().Msg("Identity backend is not configured; claim sync endpoints are disabled")
	}

	app := NewApp(opts)
	defer func() {
		closeErr := app.Close()
		if closeErr != nil {
			log.Error().Err(closeErr).Msg("Error closing the app")
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)
	// Ends event streams on shutdown
	srv.BaseContext = func(net.Listener) context.Context {
		return gctx
	}
	group.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msgf("Server listening on http://%s", srv.Addr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		// The dispatcher and listeners are wired: arm what's stored
		return app.Start(gctx)
	})
	group.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
