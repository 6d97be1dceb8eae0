package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/cb3tech/moshcast/internal/adapters/http"
	"github.com/cb3tech/moshcast/internal/adapters/stream"
	"github.com/cb3tech/moshcast/internal/app"
	"github.com/cb3tech/moshcast/internal/catalog"
	"github.com/cb3tech/moshcast/internal/config"
	"github.com/cb3tech/moshcast/internal/identity"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	registry := app.NewRegistry()
	presence := app.NewPresence()
	rooms := app.NewRooms()
	gw := app.NewGateway(registry, presence, rooms)

	var verifier identity.Verifier
	if cfg.Auth.Enabled {
		verifier = identity.NewJWTVerifier(cfg.Auth.Secret)
	}
	var cat catalog.Client
	if cfg.Catalog.BaseURL != "" {
		cat = catalog.NewHTTPClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout)
	}

	ctrl := stream.NewController(gw, verifier, cat, cfg)
	r := router.SetupRouter(ctx, cfg, gw, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("moshcast server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	// Tell every live room the stream is over before the sockets go away.
	gw.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
