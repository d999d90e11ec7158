package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vipulgupta28/DrawIt/internal/config"
	"github.com/vipulgupta28/DrawIt/internal/logging"
	"github.com/vipulgupta28/DrawIt/internal/otelutil"
	"github.com/vipulgupta28/DrawIt/internal/store"
)

func main() {
	cfg, err := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := otelutil.Init(); err != nil {
		if !errors.Is(err, otelutil.ErrNoExporter) {
			log.Warn().Err(err).Msg("tracing setup failed")
		}
	} else {
		log.Info().Msg("tracing enabled")
	}
	defer otelutil.Flush()

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open record store")
	}
	defer st.Close()

	s, err := NewServer(cfg, st)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build server")
	}
	s.Start()

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down server")

		// Hijacked WebSockets are not tracked by http.Server, so close them first.
		s.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
		} else {
			log.Info().Msg("server shutdown complete")
		}
	}()

	log.Info().Str("addr", cfg.Addr()).Str("version", version).Msg("starting DrawIt relay")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}
