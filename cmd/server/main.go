package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go-httpcore/server"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// setupLogging applies the configured level and output format.
func setupLogging(cfg *AppServerConfig) {
	zerolog.TimeFieldFormat = "2006-01-02 15:04:05"

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.PrettyLogs {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}

//
// -------------------------------------------------------------
// MAIN SERVER SETUP
// -------------------------------------------------------------
//

func main() {
	root := getProjectRoot()
	cfg := loadConfig(root)
	setupLogging(cfg)

	secret := []byte(os.Getenv("APP_JWT_SECRET"))
	if len(secret) == 0 {
		log.Warn().Msg("APP_JWT_SECRET is not set, protected routes will reject every request")
	}

	metrics := NewMetrics()
	hub := server.NewHub()

	srv, err := buildServer(cfg, root, metrics, hub, secret)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server")
	}

	if cfg.HotReload {
		files := []string{filepath.Join(root, configFile)}
		if err := srv.EnableHotReload(files, func() int { return loadConfig(root).Workers }); err != nil {
			log.Error().Err(err).Msg("hot reload disabled")
		}
	}

	var admin *http.Server
	if cfg.AdminAddr != "" {
		admin = &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           newAdminMux(srv, metrics, hub, secret),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.AdminAddr).Msg("admin listening")
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("admin server error")
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")

		if err := srv.Shutdown(); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}

		if admin != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := admin.Shutdown(ctx); err != nil {
				log.Error().Err(err).Msg("admin shutdown")
			}
		}
	}()

	log.Info().
		Str("addr", cfg.Addr).
		Int("workers", cfg.Workers).
		Str("views", resolve(root, cfg.ViewRoot)).
		Str("static", resolve(root, cfg.StaticRoot)).
		Bool("hot_reload", cfg.HotReload).
		Msg("starting httpcore")

	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}

	<-done
	log.Info().Msg("bye")
}
