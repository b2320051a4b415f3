package ratelimit

import (
	"errors"
	"net"
	"net/http"
	"strconv"

	"codearena/internal/auth"
	"codearena/internal/config"
	httperrors "codearena/pkg/http/errors"
)

// RulesFromConfig maps the env-driven settings onto limiter rules.
func RulesFromConfig(cfg config.RateLimit) map[string]Rule {
	return map[string]Rule{
		CategoryAuth:    {Points: cfg.AuthPoints, Window: cfg.AuthWindow, Block: cfg.AuthBlock},
		CategoryGeneral: {Points: cfg.GeneralPoints, Window: cfg.GeneralWindow, Block: cfg.GeneralBlock},
		CategoryQueue:   {Points: cfg.QueuePoints, Window: cfg.QueueWindow, Block: cfg.QueueBlock},
		CategoryAdmin:   {Points: cfg.AdminPoints, Window: cfg.AdminWindow, Block: cfg.AdminBlock},
		CategoryUpload:  {Points: cfg.UploadPoints, Window: cfg.UploadWindow, Block: cfg.UploadBlock},
	}
}

// Middleware applies the category quota per caller. Authenticated requests
// are keyed by user ID, anonymous ones by remote address.
func Middleware(limiter *Limiter, category string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := clientKey(r)

			err := limiter.Consume(r.Context(), category, identifier, 1)
			if err != nil {
				var limited *RateLimitedError
				if errors.As(err, &limited) {
					w.Header().Set("Retry-After", strconv.Itoa(int(limited.RetryAfter.Seconds())+1))
					httperrors.RespondError(w, http.StatusTooManyRequests, httperrors.ErrCodeRateLimited, "Too many requests")
					return
				}
				httperrors.RespondInternalError(w, "rate limiter failure")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return claims.UserID
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
