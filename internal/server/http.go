package server

import (
	"context"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"codearena/internal/auth"
	"codearena/internal/auth/jwt"
	"codearena/internal/config"
	"codearena/internal/ratelimit"
)

// NewHTTPServer wires the matchmaking API routes plus health and metrics.
func NewHTTPServer(
	cfg *config.App,
	logger zerolog.Logger,
	pool *pgxpool.Pool,
	rdb *redis.Client,
	jwtMgr *jwt.Manager,
	limiter *ratelimit.Limiter,
	handlers *Handlers,
) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		if err := pingDependencies(r.Context(), pool, rdb); err != nil {
			logger.Error().Err(err).Msg("dependency ping failed")
			http.Error(w, "upstream error", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pong":true}`))
	})

	authMW := auth.Middleware(jwtMgr, logger)
	queueLimit := ratelimit.Middleware(limiter, ratelimit.CategoryQueue)
	generalLimit := ratelimit.Middleware(limiter, ratelimit.CategoryGeneral)
	adminLimit := ratelimit.Middleware(limiter, ratelimit.CategoryAdmin)

	// Auth runs first so the limiter can key on the user id.
	mux.Handle("POST /queue/enqueue", chain(http.HandlerFunc(handlers.Enqueue), authMW, queueLimit))
	mux.Handle("POST /queue/dequeue", chain(http.HandlerFunc(handlers.Dequeue), authMW, queueLimit))
	mux.Handle("GET /queue/reservation", chain(http.HandlerFunc(handlers.Reservation), authMW, queueLimit))
	mux.Handle("POST /queue/clear", chain(http.HandlerFunc(handlers.Clear), authMW, queueLimit))
	mux.Handle("POST /reserve/consume", chain(http.HandlerFunc(handlers.Consume), authMW, queueLimit))

	mux.Handle("POST /admin/create-match",
		chain(http.HandlerFunc(handlers.CreateMatch), authMW, adminLimit, auth.RequireAdmin))

	mux.Handle("GET /v1/players/stats", chain(http.HandlerFunc(handlers.PlayerStats), authMW, generalLimit))

	return &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
}

// chain applies middlewares outermost first.
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func pingDependencies(ctx context.Context, pool *pgxpool.Pool, rdb *redis.Client) error {
	if err := pool.Ping(ctx); err != nil {
		return err
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	return nil
}
