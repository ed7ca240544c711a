package util

import (
	"errors"
	"syscall"
	"testing"
	"time"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"ETIMEDOUT", syscall.ETIMEDOUT, true},
		{"ECONNRESET", syscall.ECONNRESET, true},
		{"ENOENT", syscall.ENOENT, false},
		{"timeout message", errors.New("request timeout"), true},
		{"connection reset message", errors.New("connection reset by peer"), true},
		{"unexpected eof", errors.New("unexpected EOF"), true},
		{"plain error", errors.New("invalid argument"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.expected {
				t.Errorf("IsRetryableError(%v) = %t, want %t", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetryWithBackoffSucceedsAfterTransient(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 10 * time.Millisecond}
	attempts := 0
	result, err := RetryWithBackoff(cfg, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("connection reset")
		}
		return "done", nil
	}, nil, "test op")
	if err != nil {
		t.Fatal(err)
	}
	if result != "done" || attempts != 3 {
		t.Errorf("result=%q attempts=%d", result, attempts)
	}
}

func TestRetryWithBackoffStopsOnPermanent(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 10 * time.Millisecond}
	attempts := 0
	_, err := RetryWithBackoff(cfg, func() (struct{}, error) {
		attempts++
		return struct{}{}, errors.New("invalid argument")
	}, nil, "test op")
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for a permanent error", attempts)
	}
}

func TestRetryWithBackoffCustomClassifier(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
	attempts := 0
	_, err := RetryWithBackoff(cfg, func() (struct{}, error) {
		attempts++
		return struct{}{}, errors.New("anything")
	}, func(error) bool { return true }, "test op")
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}
