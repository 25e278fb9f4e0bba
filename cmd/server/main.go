// Package main runs the review game API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"

	app "github.com/reviewgame/server/internal/app"
	"github.com/reviewgame/server/internal/app/httpapi"
	"github.com/reviewgame/server/internal/app/janitor"
	"github.com/reviewgame/server/internal/app/metrics"
	"github.com/reviewgame/server/internal/app/storage/postgres"
	"github.com/reviewgame/server/internal/config"
	"github.com/reviewgame/server/internal/logging"
	"github.com/reviewgame/server/internal/middleware"
	"github.com/reviewgame/server/internal/payments"
	"github.com/reviewgame/server/pkg/logger"
)

const rateLimitSweepInterval = 5 * time.Minute

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (overrides REVIEWGAME_CONFIG)")
	migrate := flag.Bool("migrate", false, "apply pending database migrations before serving")
	flag.Parse()

	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	}).WithField("component", "server")

	if err := run(cfg, log, *migrate); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func run(cfg *config.Config, log *logger.Logger, migrate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores := app.Stores{}
	var pinger app.Pinger

	switch strings.ToLower(cfg.Database.Driver) {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		if migrate {
			if err := postgres.Migrate(db, cfg.Database.MigrationsDir); err != nil {
				return err
			}
			log.WithField("dir", cfg.Database.MigrationsDir).Info("migrations applied")
		}

		store := postgres.New(db)
		stores = app.Stores{Profiles: store, Banks: store, Games: store, Admin: store}
		pinger = db
	case "memory":
		if migrate {
			return fmt.Errorf("migrations require the postgres driver")
		}
		log.Warn("using the in-memory store; state is lost on restart")
	}

	opts := app.Options{
		PlusPriceID:      cfg.Billing.PlusPriceID,
		ImpersonationTTL: time.Duration(cfg.Impersonation.TTLMinutes) * time.Minute,
		AuditRingSize:    cfg.Audit.RingSize,
		AuditFilePath:    cfg.Audit.FilePath,
		Retention: janitor.Config{
			LoginHistoryRetention: time.Duration(cfg.Retention.LoginHistoryDays) * 24 * time.Hour,
			LobbyGameMaxAge:       time.Duration(cfg.Retention.LobbyGameHours) * time.Hour,
		},
	}

	if cfg.Billing.StripeSecretKey != "" {
		opts.BillingProvider = payments.New(cfg.Billing)
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		defer rdb.Close()
		opts.PubSub = rdb
	}

	application, err := app.New(stores, opts, log)
	if err != nil {
		return err
	}
	if pinger != nil {
		application.AttachPinger(pinger)
	}

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	handler, cleanup, err := buildHandler(cfg, application)
	if err != nil {
		return err
	}
	defer cleanup()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.WithField("addr", addr).Info("server listening")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop application: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// buildHandler assembles the middleware chain around the router. Order
// matters: tracing stamps the request first, metrics observe every
// outcome, CORS answers preflights before auth, and the rate limiter
// runs after auth so it can key on the user id.
func buildHandler(cfg *config.Config, application *app.Application) (http.Handler, func(), error) {
	var publicKey interface{}
	if !cfg.Auth.Disabled {
		pem, err := cfg.PublicKeyBytes()
		if err != nil {
			return nil, nil, err
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return nil, nil, fmt.Errorf("parse auth public key: %w", err)
		}
		publicKey = key
	}

	auth := middleware.NewAuthMiddleware(publicKey, logging.NewLogger("auth"),
		[]string{"/healthz", "/metrics", "/webhooks/stripe"},
		[]string{"/play/"})
	auth.AttachImpersonation(application.Admin)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst,
		logging.NewLogger("ratelimit"))
	stopSweep := limiter.StartCleanup(rateLimitSweepInterval)

	handler := httpapi.NewHandler(application)
	handler = limiter.Handler(handler)
	handler = auth.Handler(handler)
	handler = middleware.NewCORSMiddleware(cfg.CORS.AllowedOrigins).Handler(handler)
	handler = metrics.InstrumentHandler(handler)
	handler = middleware.NewTracingMiddleware(logging.NewLogger("http")).Handler(handler)
	return handler, stopSweep, nil
}
