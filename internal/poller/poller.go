package poller

import (
	"context"
	"errors"
	"time"
)

// ErrBudgetExceeded is a caller-side give-up; the payment may still complete.
var ErrBudgetExceeded = errors.New("polling budget exceeded")

type CheckFunc func(ctx context.Context) (status string, terminal bool, err error)

type Poller struct {
	Interval time.Duration
	Budget   time.Duration
}

func New(interval, budget time.Duration) Poller {
	return Poller{Interval: interval, Budget: budget}
}

// Wait polls until terminal, budget expiry, or ctx cancellation. An expired
// budget runs the check one final time before giving up.
func (p Poller) Wait(ctx context.Context, check CheckFunc) (string, error) {
	deadline := time.Now().Add(p.Budget)
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	status, terminal, err := check(ctx)
	if err == nil && terminal {
		return status, nil
	}
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		status, terminal, err = check(ctx)
		if err == nil && terminal {
			return status, nil
		}
		if time.Now().After(deadline) {
			status, terminal, err = check(ctx)
			if err == nil && terminal {
				return status, nil
			}
			return status, ErrBudgetExceeded
		}
	}
}
