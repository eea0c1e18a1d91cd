package startup

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/emby"
	"github.com/DanielVNZ/Trakt2EmbySync/internal/trakt"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: attempts, Multiplier: 2}
}

func TestIsNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"emby network", fmt.Errorf("ping: %w", emby.ErrNetwork), true},
		{"trakt network", fmt.Errorf("%w: dial", trakt.ErrNetwork), true},
		{"emby auth", emby.ErrAuth, false},
		{"refused text", errors.New("dial tcp 127.0.0.1:8096: connect: connection refused"), true},
		{"plain", errors.New("bad request"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNetworkError(tt.err); got != tt.want {
				t.Errorf("IsNetworkError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWithRetry_RetriesNetworkErrors(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), "probe", fastRetry(5), func(context.Context) error {
		calls++
		if calls < 3 {
			return emby.ErrNetwork
		}
		return nil
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("WithRetry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetry_StopsOnOtherErrors(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), "probe", fastRetry(5), func(context.Context) error {
		calls++
		return emby.ErrAuth
	}, zerolog.Nop())
	if !errors.Is(err, emby.ErrAuth) {
		t.Fatalf("WithRetry() error = %v, want ErrAuth", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithRetry_GivesUp(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), "probe", fastRetry(3), func(context.Context) error {
		calls++
		return trakt.ErrNetwork
	}, zerolog.Nop())
	if !errors.Is(err, trakt.ErrNetwork) {
		t.Fatalf("WithRetry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetry_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{InitialDelay: time.Hour, MaxAttempts: 3, Multiplier: 2}
	err := WithRetry(ctx, "probe", cfg, func(context.Context) error {
		cancel()
		return emby.ErrNetwork
	}, zerolog.Nop())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WithRetry() error = %v, want context.Canceled", err)
	}
}
