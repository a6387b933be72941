package providers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryDoSucceedsAfterRetryableFailures(t *testing.T) {
	calls := 0
	out, err := RetryDo(context.Background(), fastRetry(5), func() (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPError{Status: 500, Body: "boom"}
		}
		return "ok", nil
	})
	if err != nil || out != "ok" {
		t.Fatalf("got (%q, %v)", out, err)
	}
	if calls != 3 {
		t.Fatalf("got %d calls, want 3", calls)
	}
}

func TestRetryDoFailsFastOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), fastRetry(5), func() (string, error) {
		calls++
		return "", &HTTPError{Status: 401, Body: "bad key"}
	})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != 401 {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-retryable status retried: %d calls", calls)
	}
}

func TestRetryDoExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := RetryDo(context.Background(), fastRetry(3), func() (string, error) {
		calls++
		return "", &HTTPError{Status: 429, Body: "slow down"}
	})
	if err == nil || !strings.Contains(err.Error(), "all 3 attempts failed") {
		t.Fatalf("err = %v", err)
	}
	if calls != 3 {
		t.Fatalf("got %d calls, want 3", calls)
	}
}

func TestRetryDoStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := RetryDo(ctx, fastRetry(5), func() (string, error) {
		calls++
		cancel()
		return "", &HTTPError{Status: 500, Body: "boom"}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("kept retrying after cancel: %d calls", calls)
	}
}

func TestHTTPErrorRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
		{404, false},
	}
	for _, tt := range tests {
		e := &HTTPError{Status: tt.status}
		if got := e.Retryable(); got != tt.want {
			t.Errorf("Retryable(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"abc", 0},
		{"-1", 0},
		{"0", 0},
	}
	for _, tt := range tests {
		if got := ParseRetryAfter(tt.in); got != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
