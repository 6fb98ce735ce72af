package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"nyumbani/internal/store"
	"nyumbani/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type fakeTxRunner struct {
	err error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

// lockingTxRunner serializes transaction bodies the way the wallet row lock
// does in Postgres: the lock is held from EnsureForUpdate to commit.
type lockingTxRunner struct {
	mu sync.Mutex
}

func (l *lockingTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(nil)
}

type stubWalletStore struct {
	getBalanceFn      func(ctx context.Context, userID string) (int64, error)
	ensureForUpdateFn func(ctx context.Context, tx store.Tx, userID string) (store.Wallet, error)
	updateBalanceFn   func(ctx context.Context, tx store.Execer, userID string, balance int64) error
}

func (s stubWalletStore) GetBalance(ctx context.Context, userID string) (int64, error) {
	if s.getBalanceFn == nil {
		return 0, nil
	}
	return s.getBalanceFn(ctx, userID)
}

func (s stubWalletStore) EnsureForUpdate(ctx context.Context, tx store.Tx, userID string) (store.Wallet, error) {
	return s.ensureForUpdateFn(ctx, tx, userID)
}

func (s stubWalletStore) UpdateBalance(ctx context.Context, tx store.Execer, userID string, balance int64) error {
	if s.updateBalanceFn == nil {
		return nil
	}
	return s.updateBalanceFn(ctx, tx, userID, balance)
}

type stubLedgerStore struct {
	insertFn func(ctx context.Context, tx store.Execer, entry store.LedgerEntryInput) error
	existsFn func(ctx context.Context, tx store.Getter, relatedTransactionID, reason string) (bool, error)
	listFn   func(ctx context.Context, userID string, limit, offset int) ([]map[string]any, error)
}

func (s stubLedgerStore) Insert(ctx context.Context, tx store.Execer, entry store.LedgerEntryInput) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, tx, entry)
}

func (s stubLedgerStore) ExistsForTransaction(ctx context.Context, tx store.Getter, relatedTransactionID, reason string) (bool, error) {
	if s.existsFn == nil {
		return false, nil
	}
	return s.existsFn(ctx, tx, relatedTransactionID, reason)
}

func (s stubLedgerStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]map[string]any, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, userID, limit, offset)
}

type stubHub struct {
	mu    sync.Mutex
	calls []websocket.TokenBalanceUpdate
}

func (s *stubHub) BroadcastBalance(_ string, update websocket.TokenBalanceUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, update)
}

func stringPtr(s string) *string {
	return &s
}

func TestCreditInvalidAmount(t *testing.T) {
	service := NewWalletService(fakeTxRunner{}, stubWalletStore{
		ensureForUpdateFn: func(context.Context, store.Tx, string) (store.Wallet, error) {
			t.Fatalf("unexpected store call")
			return store.Wallet{}, nil
		},
	}, stubLedgerStore{}, &stubHub{})
	if _, err := service.Credit(context.Background(), CreditRequest{UserID: "user-1", Amount: 0, Reason: "reward"}); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := service.Credit(context.Background(), CreditRequest{UserID: "user-1", Amount: -5, Reason: "reward"}); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestCreditAppliesEntryAndBalance(t *testing.T) {
	var inserted store.LedgerEntryInput
	var updatedBalance int64
	hub := &stubHub{}
	service := NewWalletService(fakeTxRunner{}, stubWalletStore{
		ensureForUpdateFn: func(context.Context, store.Tx, string) (store.Wallet, error) {
			return store.Wallet{UserID: "user-1", Balance: 10}, nil
		},
		updateBalanceFn: func(_ context.Context, _ store.Execer, _ string, balance int64) error {
			updatedBalance = balance
			return nil
		},
	}, stubLedgerStore{
		insertFn: func(_ context.Context, _ store.Execer, entry store.LedgerEntryInput) error {
			inserted = entry
			return nil
		},
	}, hub)

	txID := "mpesa-tx-1"
	balance, err := service.Credit(context.Background(), CreditRequest{
		UserID: "user-1", Amount: 5, Reason: "purchase", RelatedTransactionID: &txID,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 15 || updatedBalance != 15 {
		t.Fatalf("expected balance 15, got %d (stored %d)", balance, updatedBalance)
	}
	if inserted.Delta != 5 || inserted.Reason != "purchase" || inserted.RelatedTransactionID == nil || *inserted.RelatedTransactionID != txID {
		t.Fatalf("unexpected ledger entry: %#v", inserted)
	}
	if len(hub.calls) != 1 || hub.calls[0].Balance != 15 {
		t.Fatalf("unexpected broadcasts: %#v", hub.calls)
	}
}

func TestCreditDuplicateTransactionAbsorbed(t *testing.T) {
	hub := &stubHub{}
	service := NewWalletService(fakeTxRunner{}, stubWalletStore{
		ensureForUpdateFn: func(context.Context, store.Tx, string) (store.Wallet, error) {
			return store.Wallet{UserID: "user-1", Balance: 20}, nil
		},
		updateBalanceFn: func(context.Context, store.Execer, string, int64) error {
			t.Fatalf("balance must not change on a duplicate credit")
			return nil
		},
	}, stubLedgerStore{
		existsFn: func(_ context.Context, _ store.Getter, relatedTransactionID, reason string) (bool, error) {
			if relatedTransactionID != "mpesa-tx-1" || reason != "purchase" {
				t.Fatalf("unexpected idempotency key: %s %s", relatedTransactionID, reason)
			}
			return true, nil
		},
		insertFn: func(context.Context, store.Execer, store.LedgerEntryInput) error {
			t.Fatalf("duplicate credit must not insert an entry")
			return nil
		},
	}, hub)

	txID := "mpesa-tx-1"
	balance, err := service.Credit(context.Background(), CreditRequest{
		UserID: "user-1", Amount: 5, Reason: "purchase", RelatedTransactionID: &txID,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 20 {
		t.Fatalf("expected unchanged balance 20, got %d", balance)
	}
	if len(hub.calls) != 0 {
		t.Fatalf("duplicate credit must not broadcast, got %#v", hub.calls)
	}
}

func TestCreditUniqueViolationAbsorbed(t *testing.T) {
	service := NewWalletService(fakeTxRunner{}, stubWalletStore{
		ensureForUpdateFn: func(context.Context, store.Tx, string) (store.Wallet, error) {
			return store.Wallet{UserID: "user-1", Balance: 20}, nil
		},
		updateBalanceFn: func(context.Context, store.Execer, string, int64) error {
			t.Fatalf("balance must not change when the unique index fires")
			return nil
		},
	}, stubLedgerStore{
		insertFn: func(context.Context, store.Execer, store.LedgerEntryInput) error {
			return &pq.Error{Code: "23505"}
		},
	}, &stubHub{})

	txID := "mpesa-tx-1"
	balance, err := service.Credit(context.Background(), CreditRequest{
		UserID: "user-1", Amount: 5, Reason: "purchase", RelatedTransactionID: &txID,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 20 {
		t.Fatalf("expected unchanged balance 20, got %d", balance)
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	service := NewWalletService(fakeTxRunner{}, stubWalletStore{
		ensureForUpdateFn: func(context.Context, store.Tx, string) (store.Wallet, error) {
			return store.Wallet{UserID: "user-1", Balance: 1}, nil
		},
	}, stubLedgerStore{
		insertFn: func(context.Context, store.Execer, store.LedgerEntryInput) error {
			t.Fatalf("refused debit must not touch the ledger")
			return nil
		},
	}, &stubHub{})

	_, err := service.Debit(context.Background(), DebitRequest{UserID: "user-1", Amount: 2, Reason: "contact_debit"})
	var insufficient *InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if insufficient.Required != 2 || insufficient.Available != 1 {
		t.Fatalf("unexpected error detail: %#v", insufficient)
	}
}

func TestDebitSuccess(t *testing.T) {
	var inserted store.LedgerEntryInput
	var updatedBalance int64
	hub := &stubHub{}
	service := NewWalletService(fakeTxRunner{}, stubWalletStore{
		ensureForUpdateFn: func(context.Context, store.Tx, string) (store.Wallet, error) {
			return store.Wallet{UserID: "user-1", Balance: 3}, nil
		},
		updateBalanceFn: func(_ context.Context, _ store.Execer, _ string, balance int64) error {
			updatedBalance = balance
			return nil
		},
	}, stubLedgerStore{
		insertFn: func(_ context.Context, _ store.Execer, entry store.LedgerEntryInput) error {
			inserted = entry
			return nil
		},
	}, hub)

	balance, err := service.Debit(context.Background(), DebitRequest{UserID: "user-1", Amount: 2, Reason: "contact_debit"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 1 || updatedBalance != 1 {
		t.Fatalf("expected balance 1, got %d (stored %d)", balance, updatedBalance)
	}
	if inserted.Delta != -2 || inserted.Reason != "contact_debit" {
		t.Fatalf("unexpected ledger entry: %#v", inserted)
	}
	if len(hub.calls) != 1 || hub.calls[0].Balance != 1 {
		t.Fatalf("unexpected broadcasts: %#v", hub.calls)
	}
}

func TestDebitConcurrentAtomicRefusal(t *testing.T) {
	runner := &lockingTxRunner{}
	current := int64(6)
	service := NewWalletService(runner, stubWalletStore{
		ensureForUpdateFn: func(context.Context, store.Tx, string) (store.Wallet, error) {
			return store.Wallet{UserID: "user-1", Balance: current}, nil
		},
		updateBalanceFn: func(_ context.Context, _ store.Execer, _ string, balance int64) error {
			current = balance
			return nil
		},
	}, stubLedgerStore{}, &stubHub{})

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Debit(context.Background(), DebitRequest{UserID: "user-1", Amount: 1, Reason: "search_debit"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded, refused := 0, 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var insufficient *InsufficientBalanceError
		if !errors.As(err, &insufficient) {
			t.Fatalf("unexpected error: %v", err)
		}
		refused++
	}
	if succeeded != 6 || refused != 4 {
		t.Fatalf("expected 6 debits and 4 refusals, got %d/%d", succeeded, refused)
	}
	if current != 0 {
		t.Fatalf("expected final balance 0, got %d", current)
	}
}

func TestReverseUsesReversalReason(t *testing.T) {
	var inserted store.LedgerEntryInput
	service := NewWalletService(fakeTxRunner{}, stubWalletStore{
		ensureForUpdateFn: func(context.Context, store.Tx, string) (store.Wallet, error) {
			return store.Wallet{UserID: "user-1", Balance: 0}, nil
		},
	}, stubLedgerStore{
		insertFn: func(_ context.Context, _ store.Execer, entry store.LedgerEntryInput) error {
			inserted = entry
			return nil
		},
	}, &stubHub{})

	entryID := "entry-1"
	balance, err := service.Reverse(context.Background(), "user-1", 2, &entryID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 2 {
		t.Fatalf("expected balance 2, got %d", balance)
	}
	if inserted.Reason != "reversal" || inserted.Delta != 2 {
		t.Fatalf("unexpected ledger entry: %#v", inserted)
	}
}
