package service

import (
	"log/slog"
	"time"

	grantmetrics "ledgerbridge/internal/grant/metrics"
	"ledgerbridge/internal/platform/tracer"
)

// Option configures the TokenService.
type Option func(*TokenService)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *TokenService) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *grantmetrics.Metrics) Option {
	return func(s *TokenService) { s.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *tracer.Tracer) Option {
	return func(s *TokenService) { s.tracer = t }
}

// WithRefreshSkew sets how long before expiry a token counts as expiring.
func WithRefreshSkew(d time.Duration) Option {
	return func(s *TokenService) { s.skew = d }
}

// WithRefreshTokenMaxAge sets the proactive rotation ceiling for refresh tokens.
func WithRefreshTokenMaxAge(d time.Duration) Option {
	return func(s *TokenService) { s.refreshMaxAge = d }
}

// WithLeaseTTL sets how long a refresh lease is held before it expires.
func WithLeaseTTL(d time.Duration) Option {
	return func(s *TokenService) { s.leaseTTL = d }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *TokenService) { s.now = now }
}
