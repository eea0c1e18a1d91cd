// Package startup holds helpers for bringing a process up against services
// that may not be reachable yet, such as an Emby server still booting.
package startup

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/emby"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/trakt"
)

// RetryConfig configures exponential backoff.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Multiplier   float64
}

// DefaultRetryConfig returns the backoff used for startup probes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 5 * time.Second,
		MaxDelay:     2 * time.Minute,
		MaxAttempts:  5,
		Multiplier:   2.0,
	}
}

var networkIndicators = []string{
	"connection refused",
	"no such host",
	"network is unreachable",
	"no route to host",
	"host is down",
	"i/o timeout",
	"connection reset",
	"temporary failure in name resolution",
}

// IsNetworkError reports whether err means the remote side could not be
// reached. Authentication and API errors are not network errors.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, trakt.ErrNetwork) || errors.Is(err, emby.ErrNetwork) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, indicator := range networkIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// WithRetry calls fn until it succeeds, fails with a non-network error, or
// MaxAttempts is reached. It returns ctx.Err() if ctx ends while waiting.
func WithRetry(ctx context.Context, name string, cfg RetryConfig, fn func(context.Context) error, logger zerolog.Logger) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	log := logger.With().Str("operation", name).Logger()

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().Int("attempt", attempt).Msg("Succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !IsNetworkError(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("maxAttempts", cfg.MaxAttempts).
			Dur("nextRetryIn", delay).
			Msg("Unreachable, will retry")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	log.Error().Err(lastErr).Int("attempts", cfg.MaxAttempts).Msg("Giving up after retries")
	return lastErr
}
