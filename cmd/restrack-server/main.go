package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/restrack/restrack/internal/config"
	"github.com/restrack/restrack/internal/domain/identity"
	"github.com/restrack/restrack/internal/domain/order"
	"github.com/restrack/restrack/internal/domain/worklist"
	"github.com/restrack/restrack/internal/platform/auth"
	"github.com/restrack/restrack/internal/platform/db"
	"github.com/restrack/restrack/internal/platform/logging"
	"github.com/restrack/restrack/internal/platform/metrics"
	"github.com/restrack/restrack/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "restrack-server",
		Short:        "Radiology order worklist API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the worklist API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Pretty:     cfg.IsDev(),
		File:       cfg.LogFile,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		Schema:   cfg.DBSchema,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")

	warehouse, err := order.Connect(ctx, order.WarehouseConfig{
		URL:          cfg.WarehouseURL,
		MaxConns:     cfg.WarehouseMaxConns,
		QueryTimeout: cfg.WarehouseQueryTimeout,
		Table:        cfg.WarehouseOrdersTable,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to order warehouse")
	}
	defer warehouse.Close()
	logger.Info().Str("table", cfg.WarehouseOrdersTable).Msg("connected to order warehouse")

	revocations, err := newRevocationStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer revocations.Close()

	e := newServer(cfg, logger, pool, warehouse, revocations)

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newRevocationStore uses redis when a URL is configured so logouts are
// shared between instances, and process memory otherwise.
func newRevocationStore(ctx context.Context, redisURL string) (auth.RevocationStore, error) {
	if redisURL == "" {
		return auth.NewMemoryRevocationStore(), nil
	}
	store, err := auth.NewRedisRevocationStore(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	return store, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthChecks lists the dependencies /health/db pings besides the local
// pool. The revocation store is only checked when it is remote.
func healthChecks(warehouse pinger, revocations auth.RevocationStore) []db.Check {
	checks := []db.Check{{Name: "warehouse", Ping: warehouse.Ping}}
	if remote, ok := revocations.(pinger); ok {
		checks = append(checks, db.Check{Name: "redis", Ping: remote.Ping})
	}
	return checks
}

func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, warehouse *order.Warehouse, revocations auth.RevocationStore) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecretKey), cfg.TokenTTL())
	e.Use(auth.JWTMiddleware(auth.JWTConfig{
		Issuer:      tokens,
		Revocations: revocations,
	}))
	e.Use(auth.RequirePasswordChanged(identity.PasswordChangeExempt()...))

	// Infrastructure
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, healthChecks(warehouse, revocations)...))
	e.GET("/metrics", metrics.Handler())

	api := e.Group("/api/v1", db.ConnMiddleware(pool, cfg.DBSchema))

	// Identity
	identitySvc := identity.NewService(identity.NewUserRepo(pool), tokens, identity.Policy{
		AllowedEmailDomains: cfg.AllowedEmailDomains,
	})
	identity.NewHandler(identitySvc, identity.HandlerConfig{
		Logger:          logger,
		Revocations:     revocations,
		LoginMiddleware: []echo.MiddlewareFunc{middleware.RateLimit(middleware.LoginRateLimitConfig())},
		SecureCookies:   cfg.IsProduction(),
	}).RegisterRoutes(api)

	// Worklists
	worklistSvc := worklist.NewService(
		db.NewTxManager(pool),
		worklist.NewWorklistRepoPG(pool),
		worklist.NewSubscriptionRepoPG(pool),
		worklist.NewMembershipRepoPG(pool),
		identitySvc,
		warehouse,
		logger,
	)
	worklist.NewHandler(worklistSvc, identitySvc, logger).RegisterRoutes(api)

	return e
}

// openLocalPool connects to the local store for the CLI commands, which
// never touch the warehouse.
func openLocalPool(ctx context.Context, cfg *config.Config, schema string) (*pgxpool.Pool, error) {
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		Schema:   schema,
		MaxConns: 2,
		MinConns: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, nil
}
