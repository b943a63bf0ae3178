package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quick(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2,
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

type flakyErr struct{ temporary bool }

func (e flakyErr) Error() string   { return "flaky" }
func (e flakyErr) Temporary() bool { return e.temporary }

func TestPresetConfigs(t *testing.T) {
	def := DefaultRetryConfig()
	assert.Equal(t, 3, def.MaxRetries)
	assert.Equal(t, time.Second, def.BaseDelay)
	assert.Equal(t, 30*time.Second, def.MaxDelay)

	llm := LLMRetryConfig()
	assert.Equal(t, 2, llm.MaxRetries)
	assert.Equal(t, 2.5, llm.Multiplier)
	assert.True(t, llm.Jitter)

	api := APIRetryConfig()
	assert.Equal(t, 500*time.Millisecond, api.BaseDelay)
	assert.Equal(t, 5*time.Second, api.MaxDelay)
}

func TestRetryWithBackoff_FirstTry(t *testing.T) {
	calls := 0
	result := RetryWithBackoff(context.Background(), quick(3), "cast", func(context.Context) error {
		calls++
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, result.Errors)
	assert.NoError(t, result.Err())
}

func TestRetryWithBackoff_RecoversFromTransientFailures(t *testing.T) {
	calls := 0
	result := RetryWithBackoff(context.Background(), quick(3), "cast", func(context.Context) error {
		calls++
		if calls < 3 {
			return syscall.ECONNRESET
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Len(t, result.Errors, 2)
	assert.NoError(t, result.Err())
	assert.Positive(t, result.Elapsed)
}

func TestRetryWithBackoff_GivesUpAfterMaxRetries(t *testing.T) {
	result := RetryWithBackoff(context.Background(), quick(2), "cast", func(context.Context) error {
		return errors.New("503 service unavailable")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Len(t, result.Errors, 3)
	assert.EqualError(t, result.Err(), "503 service unavailable")
}

func TestRetryWithBackoff_PermanentErrorStopsImmediately(t *testing.T) {
	permanent := errors.New("invalid signer")
	result := RetryWithBackoff(context.Background(), quick(5), "cast", func(context.Context) error {
		return permanent
	})

	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.Err(), permanent)
}

func TestRetryWithBackoff_CustomPredicate(t *testing.T) {
	cfg := quick(4)
	cfg.Retryable = func(err error) bool { return err.Error() == "again" }

	calls := 0
	result := RetryWithBackoff(context.Background(), cfg, "generate", func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("again")
		}
		return errors.New("503 but predicate says no")
	})

	assert.Equal(t, 2, result.Attempts)
	assert.False(t, result.Success)
}

func TestRetryWithBackoff_ContextEndsLoop(t *testing.T) {
	cfg := quick(10)
	cfg.BaseDelay = 50 * time.Millisecond
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := RetryWithBackoff(ctx, cfg, "generate", func(context.Context) error {
		return errors.New("timeout talking to node")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.Err(), context.DeadlineExceeded)
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, backoff(cfg, 0))
	assert.Equal(t, 2*time.Second, backoff(cfg, 1))
	assert.Equal(t, 8*time.Second, backoff(cfg, 3))
	assert.Equal(t, 10*time.Second, backoff(cfg, 9))

	cfg.Multiplier = 0
	assert.Equal(t, time.Second, backoff(cfg, 4), "multiplier below one holds the base delay")
}

func TestBackoff_JitterStaysWithinTenPercent(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2, Jitter: true}
	for i := 0; i < 200; i++ {
		d := backoff(cfg, 1)
		require.GreaterOrEqual(t, d, 1800*time.Millisecond)
		require.LessOrEqual(t, d, 2200*time.Millisecond)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", fmt.Errorf("post cast: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, true},
		{"unexpected eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), true},
		{"connection reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"net timeout", timeoutErr{}, true},
		{"temporary", flakyErr{temporary: true}, true},
		{"not temporary", flakyErr{temporary: false}, false},
		{"rate limited text", errors.New("neynar: 429 Too Many Requests"), true},
		{"gateway text", errors.New("upstream returned 502"), true},
		{"bad request", errors.New("400 bad request: text too long"), false},
		{"plain", errors.New("cast not found"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}
