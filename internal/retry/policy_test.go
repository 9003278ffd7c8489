package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func fastConfig(maxRetries int) Config {
	return Config{MaxRetries: maxRetries, InitialBackoff: time.Millisecond, Multiplier: 1.1}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		code codes.Code
		want bool
	}{
		{codes.Unavailable, true},
		{codes.DeadlineExceeded, true},
		{codes.ResourceExhausted, true},
		{codes.InvalidArgument, false},
		{codes.NotFound, false},
		{codes.PermissionDenied, false},
		{codes.Internal, false},
	}
	for _, tc := range cases {
		if got := Retryable(status.Error(tc.code, "x")); got != tc.want {
			t.Errorf("Retryable(%v) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	err := Do(t.Context(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return status.Error(codes.Unavailable, "backend down")
		}
		return nil
	}, nil)

	if err != nil {
		t.Fatalf("Do() = %v, want success on third attempt", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	bad := status.Error(codes.InvalidArgument, "bad field")
	err := Do(t.Context(), fastConfig(3), func() error {
		attempts++
		return bad
	}, nil)

	if attempts != 1 {
		t.Fatalf("attempts = %d, want no retries for InvalidArgument", attempts)
	}
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("Do() = %v, want the original status", err)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	attempts := 0
	retries := 0
	err := Do(t.Context(), fastConfig(3), func() error {
		attempts++
		return status.Error(codes.Unavailable, "still down")
	}, func(error) { retries++ })

	if err == nil {
		t.Fatal("Do() succeeded, want exhaustion error")
	}
	if attempts != 4 {
		t.Fatalf("attempts = %d, want 1 + 3 retries", attempts)
	}
	if retries != 3 {
		t.Fatalf("notify fired %d times, want 3", retries)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	attempts := 0
	err := Do(ctx, Config{MaxRetries: 10, InitialBackoff: 50 * time.Millisecond, Multiplier: 2}, func() error {
		attempts++
		cancel()
		return status.Error(codes.Unavailable, "down")
	}, nil)

	if err == nil {
		t.Fatal("Do() = nil after cancellation")
	}
	if !errors.Is(err, context.Canceled) && status.Code(err) != codes.Unavailable {
		t.Fatalf("Do() = %v, want cancellation or last error", err)
	}
	if attempts > 2 {
		t.Fatalf("attempts = %d, want loop to stop after cancel", attempts)
	}
}
