// Package ratelimit caps the rate of outbound HTTP requests with a token bucket.
package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrMustBePositive = errors.New("must be greater than zero")
	ErrWaitingFailed  = errors.New("limiter waiting failed")
)

type roundTripper struct {
	limiter *rate.Limiter
	rps     float64
	burst   int
	next    http.RoundTripper
	logger  *slog.Logger
}

// NewRoundTripper blocks each request until the limiter grants a token or the
// request context ends.
func NewRoundTripper(rps float64, burst int, logger *slog.Logger, next http.RoundTripper) (http.RoundTripper, error) {
	if rps <= 0 || burst <= 0 {
		return nil, fmt.Errorf("rps[%v] and burst[%d] %w", rps, burst, ErrMustBePositive)
	}
	if next == nil {
		next = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &roundTripper{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		rps:     rps,
		burst:   burst,
		next:    next,
		logger:  logger,
	}, nil
}

func (t *roundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWaitingFailed, err)
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		t.logger.Debug("http_ratelimit_wait",
			"path", r.URL.Path,
			"waited", waited.String(),
			"rps", t.rps,
			"burst", t.burst,
		)
	}
	return t.next.RoundTrip(r)
}
