package poller

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitReturnsImmediatelyWhenTerminal(t *testing.T) {
	p := New(10*time.Millisecond, time.Second)
	status, err := p.Wait(context.Background(), func(ctx context.Context) (string, bool, error) {
		return "completed", true, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "completed" {
		t.Fatalf("unexpected status: %s", status)
	}
}

func TestWaitPollsUntilTerminal(t *testing.T) {
	p := New(5*time.Millisecond, time.Second)
	calls := 0
	status, err := p.Wait(context.Background(), func(ctx context.Context) (string, bool, error) {
		calls++
		if calls < 4 {
			return "pending", false, nil
		}
		return "completed", true, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "completed" || calls != 4 {
		t.Fatalf("unexpected result: status=%s calls=%d", status, calls)
	}
}

func TestWaitBudgetExceededWithFinalCheck(t *testing.T) {
	p := New(5*time.Millisecond, 20*time.Millisecond)
	calls := 0
	status, err := p.Wait(context.Background(), func(ctx context.Context) (string, bool, error) {
		calls++
		return "pending", false, nil
	})
	if err != ErrBudgetExceeded {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if status != "pending" {
		t.Fatalf("unexpected status: %s", status)
	}
	if calls < 3 {
		t.Fatalf("expected several checks including the final one, got %d", calls)
	}
}

func TestWaitFinalCheckCatchesLateResult(t *testing.T) {
	p := New(5*time.Millisecond, 15*time.Millisecond)
	calls := 0
	status, err := p.Wait(context.Background(), func(ctx context.Context) (string, bool, error) {
		calls++
		if calls >= 4 {
			return "completed", true, nil
		}
		return "pending", false, nil
	})
	if err != nil && err != ErrBudgetExceeded {
		t.Fatalf("unexpected error: %v", err)
	}
	if err == nil && status != "completed" {
		t.Fatalf("unexpected status: %s", status)
	}
}

func TestWaitTransientErrorsKeepPolling(t *testing.T) {
	p := New(5*time.Millisecond, time.Second)
	calls := 0
	status, err := p.Wait(context.Background(), func(ctx context.Context) (string, bool, error) {
		calls++
		if calls < 3 {
			return "", false, errors.New("status query failed")
		}
		return "failed", true, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "failed" {
		t.Fatalf("unexpected status: %s", status)
	}
}

func TestWaitContextCancelled(t *testing.T) {
	p := New(10*time.Millisecond, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Wait(ctx, func(ctx context.Context) (string, bool, error) {
		return "pending", false, nil
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
