package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"live-transcription-service/internal/app"
	"live-transcription-service/internal/config"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init app")
	}

	// Initialize Sentry for error monitoring
	if cfg.Observability.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Observability.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.Observability.Environment,
		})
		if err != nil {
			log.Warn().Err(err).Msg("sentry init failed")
		} else {
			log.Info().Msg("sentry initialized")
			defer sentry.Flush(2 * time.Second)
		}
	}

	if err := a.Start(); err != nil {
		log.Fatal().Err(err).Msg("start app")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Live transcription service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http serve failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	log.Info().Msg("shutting down http server")
	_ = srv.Shutdown(shutdownCtx)
	a.Shutdown(shutdownCtx)
}
