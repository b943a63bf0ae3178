// Package retry repeats failing calls to the LLM node and the social API
// with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig configures retry behavior with exponential backoff
type RetryConfig struct {
	MaxRetries int           `koanf:"max_retries"` // attempts after the first (default: 3)
	BaseDelay  time.Duration `koanf:"base_delay"`  // delay before the first retry (default: 1s)
	MaxDelay   time.Duration `koanf:"max_delay"`   // upper bound of a single delay (default: 30s)
	Multiplier float64       `koanf:"multiplier"`  // growth per retry (default: 2.0)
	Jitter     bool          `koanf:"jitter"`      // spread delays by up to 10% (default: true)
	LogRetries bool          `koanf:"log_retries"` // log each retry and the final failure (default: true)

	// Retryable decides whether a failed attempt is worth repeating.
	// Nil means IsRetryableError.
	Retryable func(error) bool `koanf:"-"`
}

// RetryResult describes a finished RetryWithBackoff call.
type RetryResult struct {
	Attempts int
	Elapsed  time.Duration
	Errors   []error // one per failed attempt, in order
	Success  bool
}

// Err returns the last failure, or nil on success.
func (r RetryResult) Err() error {
	if r.Success || len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[len(r.Errors)-1]
}

// DefaultRetryConfig returns a retry configuration with sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		LogRetries: true,
	}
}

// LLMRetryConfig returns a retry configuration for completion requests.
// Shared inference nodes rate limit aggressively, so the backoff is steeper.
func LLMRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  2 * time.Second,
		MaxDelay:   20 * time.Second,
		Multiplier: 2.5,
		Jitter:     true,
		LogRetries: true,
	}
}

// APIRetryConfig returns a retry configuration for social network API calls.
func APIRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		LogRetries: true,
	}
}

// RetryWithBackoff runs operation until it succeeds, fails with an error
// the config does not retry, runs out of attempts, or ctx ends. A context
// error ends the loop and is recorded as the last error.
func RetryWithBackoff(ctx context.Context, config RetryConfig, name string, operation func(ctx context.Context) error) RetryResult {
	start := time.Now()
	retryable := config.Retryable
	if retryable == nil {
		retryable = IsRetryableError
	}

	var result RetryResult
	finish := func() RetryResult {
		result.Elapsed = time.Since(start)
		return result
	}

	for attempt := 0; ; attempt++ {
		result.Attempts = attempt + 1

		err := operation(ctx)
		if err == nil {
			result.Success = true
			if config.LogRetries && attempt > 0 {
				log.Debug().Str("operation", name).Int("retries", attempt).Dur("elapsed", time.Since(start)).Msg("Operation succeeded after retries")
			}
			return finish()
		}
		result.Errors = append(result.Errors, err)

		if attempt >= config.MaxRetries || !retryable(err) {
			if config.LogRetries {
				log.Warn().Err(err).Str("operation", name).Int("attempts", result.Attempts).Dur("elapsed", time.Since(start)).Msg("Operation failed")
			}
			return finish()
		}

		delay := backoff(config, attempt)
		if config.LogRetries {
			log.Info().
				Err(err).
				Str("operation", name).
				Int("attempt", result.Attempts).
				Int("max_attempts", config.MaxRetries+1).
				Dur("delay", delay).
				Msg("Operation failed, retrying")
		}

		if err := sleep(ctx, delay); err != nil {
			result.Errors = append(result.Errors, err)
			return finish()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff returns the delay before retry number attempt+1.
func backoff(config RetryConfig, attempt int) time.Duration {
	multiplier := config.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(config.BaseDelay) * math.Pow(multiplier, float64(attempt))
	if config.MaxDelay > 0 {
		delay = math.Min(delay, float64(config.MaxDelay))
	}

	if config.Jitter {
		delay += delay * 0.1 * (2*rand.Float64() - 1)
	}
	return time.Duration(delay)
}

// retryableMessages catch failures that arrive as plain strings, such as
// errors relayed from the LLM node's HTTP body.
var retryableMessages = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"dns lookup failed",
	"no such host",
	"network unreachable",
	"broken pipe",
}

// IsRetryableError determines if an error is retryable
func IsRetryableError(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var tmp interface{ Temporary() bool }
	if errors.As(err, &tmp) && tmp.Temporary() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range retryableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
