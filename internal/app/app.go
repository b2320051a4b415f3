// Package app wires configuration, stores, workers and the HTTP server
// into one runnable unit.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"codearena/internal/auth/jwt"
	"codearena/internal/config"
	"codearena/internal/db/repository"
	"codearena/internal/logging"
	"codearena/internal/match"
	matchqueue "codearena/internal/match/queue"
	"codearena/internal/problem"
	"codearena/internal/ratelimit"
	"codearena/internal/server"
	"codearena/internal/stats"
)

// Application aggregates shared infrastructure (DB, cache, HTTP server)
// and the matchmaking background workers.
type Application struct {
	cfg    *config.App
	logger zerolog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client
	http  *http.Server

	scheduler  *match.Scheduler
	subscriber *match.EventSubscriber
	bgCancels  []context.CancelFunc
}

// New bootstraps config, logger, Postgres, Redis, the matchmaking services
// and the HTTP server.
func New(ctx context.Context, cfg *config.App) (*Application, error) {
	logger := logging.New(cfg.Name, cfg.Env)
	logger.Info().Msg("starting application bootstrap")

	connString := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=10",
		cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.Database, cfg.Postgres.SSLMode)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	matchRepo := repository.NewMatchRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)
	playerRepo := repository.NewPlayerRepository(pool)
	problemRepo := repository.NewProblemRepository(pool)

	jwtMgr := jwt.NewManager([]byte(cfg.Security.JWTSecret), cfg.Name, 0)

	limiter := ratelimit.NewLimiter(
		redisClient,
		ratelimit.RulesFromConfig(cfg.RateLimit),
		cfg.RateLimit.ConsumeTimeout,
		logger,
	)

	queueStore := matchqueue.NewStore(redisClient, logger)
	reservations := match.NewReservationStore(redisClient, logger, cfg.Matchmaking.ReservationTTL)
	stateCache := match.NewStateCache(redisClient, logger, cfg.Matchmaking.MatchStateTTL)
	selector := problem.NewSelector(problemRepo, logger, problem.SelectorOptions{})
	execClient := match.NewExecutionClient(cfg.Execution.BaseURL, cfg.Execution.HTTPTimeout, logger)

	statsCache := stats.NewCache(redisClient, cfg.Matchmaking.StatsCacheTTL)
	statsSvc := stats.NewService(statsCache, playerRepo, logger)

	finalizer := match.NewFinalizer(
		stateCache,
		matchRepo,
		submissionRepo,
		playerRepo,
		statsCache,
		reservations,
		cfg.Matchmaking.DefaultRating,
		logger,
	)

	scheduler := match.NewScheduler(
		queueStore,
		selector,
		execClient,
		stateCache,
		reservations,
		cfg.Matchmaking.PairingInterval,
		cfg.Matchmaking.QueueScanLimit,
		logger,
	)

	subscriber := match.NewEventSubscriber(
		redisClient,
		stateCache,
		finalizer,
		cfg.Execution.EventChannel,
		logger,
	)

	handlers := server.NewHandlers(
		queueStore,
		reservations,
		stateCache,
		selector,
		execClient,
		statsSvc,
		cfg.Matchmaking.DefaultRating,
		logger,
	)

	apiServer := server.NewHTTPServer(cfg, logger, pool, redisClient, jwtMgr, limiter, handlers)

	return &Application{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		redis:      redisClient,
		http:       apiServer,
		scheduler:  scheduler,
		subscriber: subscriber,
		bgCancels:  make([]context.CancelFunc, 0, 2),
	}, nil
}

// Run starts the HTTP server and workers, then waits for termination.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	a.startBackgroundWorkers(ctx)

	go func() {
		a.logger.Info().Str("addr", a.cfg.HTTPAddr).Msg("http server listening")
		if err := a.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		a.logger.Warn().Msg("context canceled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.GracefulShutdownTimeout)
	defer cancel()

	if err := a.http.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("http shutdown error")
	}

	for _, cancel := range a.bgCancels {
		cancel()
	}

	a.pool.Close()
	if err := a.redis.Close(); err != nil {
		a.logger.Error().Err(err).Msg("redis shutdown error")
	}

	a.logger.Info().Msg("shutdown complete")
	return nil
}

func (a *Application) startBackgroundWorkers(ctx context.Context) {
	if a.scheduler != nil {
		bgCtx, cancel := context.WithCancel(ctx)
		a.bgCancels = append(a.bgCancels, cancel)
		go func() {
			if err := a.scheduler.Run(bgCtx); err != nil && err != context.Canceled {
				a.logger.Warn().Err(err).Msg("pairing scheduler stopped")
			}
		}()
	}

	if a.subscriber != nil {
		bgCtx, cancel := context.WithCancel(ctx)
		a.bgCancels = append(a.bgCancels, cancel)
		go func() {
			if err := a.subscriber.Run(bgCtx); err != nil && err != context.Canceled {
				a.logger.Warn().Err(err).Msg("event subscriber stopped")
			}
		}()
	}
}
