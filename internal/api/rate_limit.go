package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/linework/internal/ratelimit"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string, cost int) (ratelimit.Decision, error)
}

// admit charges one token per uploaded file. It writes the 429 itself and reports false when
// the caller is over budget. Limiter outages let the request through.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, files int) bool {
	if s.rateLimiter == nil {
		return true
	}

	route := routeLabel(r.URL.Path)
	subject := s.rateLimitSubject(r) + ":" + route
	decision, err := s.rateLimiter.Allow(r.Context(), subject, max(1, files))
	if err != nil {
		s.logger.Printf("rate limiter check failed subject=%s err=%v", subject, err)
		return true
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	if decision.Allowed {
		return true
	}

	retryAfter := max(1, int(decision.RetryAfter.Round(time.Second).Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
	s.logger.Printf("rate limited subject=%s files=%d retry_after=%ds", subject, files, retryAfter)
	writeJSON(w, http.StatusTooManyRequests, map[string]string{
		"error": "rate limit exceeded",
		"kind":  "rate_limited",
	})
	return false
}

// rateLimitSubject is the configured user header, or the client address when it is absent.
func (s *Server) rateLimitSubject(r *http.Request) string {
	if s.rateLimitUserIDHeader != "" {
		if user := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader)); user != "" {
			return "user:" + user
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "anonymous"
	}
	return "ip:" + host
}
