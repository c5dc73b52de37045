package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/shrinky/internal/auth"
	"github.com/dunamismax/shrinky/internal/ratelimit"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// limitKey buckets job submissions per caller and source type, so a burst of
// local conversions does not starve object-store jobs for the same caller.
func limitKey(ctx context.Context, sourceType string) string {
	subject := auth.Subject(ctx)
	if subject == "" {
		subject = "anonymous"
	}
	return subject + ":" + sourceType
}

// allowJob applies the limiter to one validated submission. It writes the 429
// response itself and returns false when the caller is over budget. Limiter
// outages fail open.
func (s *Server) allowJob(w http.ResponseWriter, r *http.Request, sourceType string) bool {
	if s.rateLimiter == nil {
		return true
	}

	key := limitKey(r.Context(), sourceType)
	decision, err := s.rateLimiter.Allow(r.Context(), key)
	if err != nil {
		s.logger.Printf("rate limiter check failed key=%s err=%v", key, err)
		return true
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	if decision.Allowed {
		return true
	}

	retryAfter := max(int(decision.RetryAfter.Round(time.Second).Seconds()), 1)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.metrics.rateLimitRejected.WithLabelValues(sourceType).Inc()
	writeJSON(w, http.StatusTooManyRequests, map[string]string{
		"error": "rate limit exceeded for " + sourceType + " jobs",
	})
	return false
}
