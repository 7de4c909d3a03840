package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/afyatrack/afyatrack-api/internal/access"
	"github.com/afyatrack/afyatrack-api/internal/auth"
	"github.com/afyatrack/afyatrack-api/internal/config"
	"github.com/afyatrack/afyatrack-api/internal/database"
	"github.com/afyatrack/afyatrack-api/internal/handler"
	"github.com/afyatrack/afyatrack-api/internal/middleware"
	"github.com/afyatrack/afyatrack-api/internal/notes"
	"github.com/afyatrack/afyatrack-api/internal/queue"
	"github.com/afyatrack/afyatrack-api/internal/repository"
	"github.com/afyatrack/afyatrack-api/internal/repository/gormrepo"
	"github.com/afyatrack/afyatrack-api/internal/router"
	"github.com/afyatrack/afyatrack-api/internal/service"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "afyatrack",
		Short:        "AfyaTrack clinical documentation API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// app holds what every command needs: configuration, logger and an open
// database handle.
type app struct {
	cfg config.Config
	log zerolog.Logger
	db  *sql.DB
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)

	db, err := database.Open(ctx, database.DSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info().Str("host", cfg.DBHost).Str("db", cfg.DBName).Msg("connected to database")
	return &app{cfg: cfg, log: log, db: db}, nil
}

// stores returns the credential and refresh-token stores for the
// configured STORE_DRIVER.
func (a *app) stores() (auth.UserStore, auth.TokenStore, error) {
	if a.cfg.StoreDriver == "gorm" {
		gdb, err := gormrepo.Open(a.db)
		if err != nil {
			return nil, nil, fmt.Errorf("open gorm: %w", err)
		}
		return gormrepo.NewUserStore(gdb), gormrepo.NewTokenStore(gdb), nil
	}
	return repository.NewUserRepo(a.db), repository.NewTokenRepo(a.db), nil
}

func (a *app) tokenService(events auth.EventPublisher) (*auth.TokenService, error) {
	users, tokens, err := a.stores()
	if err != nil {
		return nil, err
	}
	return auth.NewTokenService(users, tokens, events, auth.Options{
		Secret:     a.cfg.JWTSecret,
		AccessTTL:  a.cfg.AccessTTL(),
		RefreshTTL: a.cfg.RefreshTTL(),
		BcryptCost: a.cfg.BcryptCost,
	}, a.log), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.db.Close()
	log := a.log

	if err := database.MigrateUp(ctx, a.db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var events auth.EventPublisher = service.LogPublisher{Log: log}
	if a.cfg.AMQPURL != "" {
		events = service.NewAMQPPublisher(a.cfg.AMQPURL, log)
		consumer := &queue.Consumer{URL: a.cfg.AMQPURL, Writer: &queue.AuthLogWriter{Path: "logs/auth.log"}, Log: log}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("auth-consumer stopped")
			}
		}()
	}

	svc, err := a.tokenService(events)
	if err != nil {
		return err
	}
	go auth.NewSweeper(svc, a.cfg.SweepInterval, log).Run(ctx)

	rdb := config.NewRedisClient(ctx)
	if rdb != nil {
		defer rdb.Close()
	} else {
		log.Warn().Msg("redis unavailable; rate limiting and response cache disabled")
	}

	patients := repository.NewPatientRepo(a.db)
	visits := repository.NewVisitRepo(a.db)
	policy := access.NewPolicy(patients, log)
	drafter := notes.NewHTTPDrafter(notes.Config{
		URL:     a.cfg.DrafterURL,
		APIKey:  a.cfg.DrafterAPIKey,
		Model:   a.cfg.DrafterModel,
		Timeout: a.cfg.DrafterTimeout,
	}, log)

	e := router.New(log)
	router.RegisterRoutes(e, a.db)
	api := router.Protected(e, svc, middleware.RateLimit(config.LoadRateLimitConfig(), rdb, log))
	router.RegisterAuth(e, api, handler.NewAuthHandler(svc),
		middleware.RateLimit(config.LoadAuthRateLimitConfig(), rdb, log))
	router.RegisterRecords(api,
		handler.NewPatientHandler(patients, policy),
		handler.NewVisitHandler(visits, patients, drafter, policy, log),
		handler.NewStatsHandler(patients, visits),
		policy,
		middleware.ResponseCache(config.LoadCacheConfig(), rdb))

	go func() {
		addr := ":" + a.cfg.Port
		log.Info().Str("addr", addr).Str("env", a.cfg.Env).Str("store", a.cfg.StoreDriver).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}
