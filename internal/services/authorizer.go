package services

import (
	"context"
	"errors"
	"fmt"

	"nyumbani/internal/models"
)

var ErrUnknownAction = errors.New("unknown action")

// debitReasons is the closed set of metered actions.
var debitReasons = map[string]string{
	"search":  models.ReasonSearchDebit,
	"contact": models.ReasonContactDebit,
}

type WalletDebiter interface {
	Debit(ctx context.Context, req DebitRequest) (int64, error)
}

type Authorizer struct {
	costs  map[string]int64
	wallet WalletDebiter
}

func NewAuthorizer(costs map[string]int64, wallet WalletDebiter) (*Authorizer, error) {
	for action, cost := range costs {
		if _, ok := debitReasons[action]; !ok {
			return nil, fmt.Errorf("cost configured for unrecognized action %q", action)
		}
		if cost <= 0 {
			return nil, fmt.Errorf("action %q must have a positive cost, got %d", action, cost)
		}
	}
	copied := make(map[string]int64, len(costs))
	for action, cost := range costs {
		copied[action] = cost
	}
	return &Authorizer{costs: copied, wallet: wallet}, nil
}

type Authorization struct {
	Action           string
	Cost             int64
	RemainingBalance int64
}

// Authorize debits the cost in the same atomic step that checks the balance.
// A refusal leaves the ledger untouched.
func (a *Authorizer) Authorize(ctx context.Context, userID, action string) (Authorization, error) {
	cost, ok := a.costs[action]
	if !ok {
		return Authorization{}, ErrUnknownAction
	}
	remaining, err := a.wallet.Debit(ctx, DebitRequest{
		UserID: userID,
		Amount: cost,
		Reason: debitReasons[action],
	})
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{Action: action, Cost: cost, RemainingBalance: remaining}, nil
}

func (a *Authorizer) Cost(action string) (int64, error) {
	cost, ok := a.costs[action]
	if !ok {
		return 0, ErrUnknownAction
	}
	return cost, nil
}
