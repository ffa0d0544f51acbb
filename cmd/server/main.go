// Package main runs the newsletter HTTP server and its delivery workers.
//
// @title       Newsletter API
// @version     1.0
// @description Subscriptions and idempotent newsletter publishing with a delivery outbox.
// @description Admin routes require the X-User-ID header set by the upstream gateway.
// @BasePath    /api/v1
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-newsletter-backend/internal/config"
	"github.com/tbourn/go-newsletter-backend/internal/delivery"
	httpapi "github.com/tbourn/go-newsletter-backend/internal/http"
	"github.com/tbourn/go-newsletter-backend/internal/observability"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
	"github.com/tbourn/go-newsletter-backend/internal/supervisor"
	"github.com/tbourn/go-newsletter-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	sysutil.SetupLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ver := sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB.Driver, dsn(cfg.DB))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	sender := buildSender(cfg.Email)

	r := gin.New()
	httpapi.RegisterRoutes(r, db, sender, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	tree := supervisor.NewTree(log.Logger, supervisor.TreeConfig{ShutdownTimeout: cfg.ShutdownTimeout})
	tree.AddAPIService(supervisor.NewHTTPService(srv, cfg.ShutdownTimeout))
	for i := 0; i < cfg.Delivery.Workers; i++ {
		tree.AddDeliveryService(delivery.NewWorker(db, sender, delivery.Config{
			Name:        fmt.Sprintf("delivery-worker-%d", i+1),
			MaxRetries:  cfg.Delivery.MaxRetries,
			RetryDelay:  cfg.Delivery.RetryDelay,
			IdleMin:     cfg.Delivery.IdleMin,
			IdleMax:     cfg.Delivery.IdleMax,
			TaskTimeout: cfg.Delivery.TaskTimeout,
		}))
	}

	log.Info().
		Str("addr", srv.Addr).
		Str("version", ver).
		Str("db", cfg.DB.Driver).
		Str("email", cfg.Email.Transport).
		Int("workers", cfg.Delivery.Workers).
		Msg("starting")

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, s := range report {
			log.Warn().Str("service", s.Name).Msg("service did not stop in time")
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("stopped")
	return nil
}

func dsn(db config.DBConfig) string {
	if db.Driver == "postgres" {
		return db.URL
	}
	return db.Path
}
