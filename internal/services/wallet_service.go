package services

import (
	"context"
	"errors"
	"fmt"

	"nyumbani/internal/db"
	"nyumbani/internal/models"
	"nyumbani/internal/store"
	"nyumbani/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var ErrInvalidAmount = errors.New("invalid amount")

type InsufficientBalanceError struct {
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %d, available %d", e.Required, e.Available)
}

type WalletStore interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	EnsureForUpdate(ctx context.Context, tx store.Tx, userID string) (store.Wallet, error)
	UpdateBalance(ctx context.Context, tx store.Execer, userID string, balance int64) error
}

type LedgerStore interface {
	Insert(ctx context.Context, tx store.Execer, entry store.LedgerEntryInput) error
	ExistsForTransaction(ctx context.Context, tx store.Getter, relatedTransactionID, reason string) (bool, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]map[string]any, error)
}

type BalanceHub interface {
	BroadcastBalance(userID string, update websocket.TokenBalanceUpdate)
}

type WalletService struct {
	txRunner db.TxRunner
	wallets  WalletStore
	ledger   LedgerStore
	hub      BalanceHub
}

func NewWalletService(txRunner db.TxRunner, wallets WalletStore, ledger LedgerStore, hub BalanceHub) *WalletService {
	return &WalletService{
		txRunner: txRunner,
		wallets:  wallets,
		ledger:   ledger,
		hub:      hub,
	}
}

func (s *WalletService) Balance(ctx context.Context, userID string) (int64, error) {
	return s.wallets.GetBalance(ctx, userID)
}

func (s *WalletService) History(ctx context.Context, userID string, limit, offset int) ([]map[string]any, error) {
	return s.ledger.ListByUser(ctx, userID, limit, offset)
}

type CreditRequest struct {
	UserID               string
	Amount               int64
	Reason               string
	RelatedTransactionID *string
}

// Credit is idempotent on RelatedTransactionID: a duplicate delivery is
// absorbed and the current balance returned.
func (s *WalletService) Credit(ctx context.Context, req CreditRequest) (int64, error) {
	if req.Amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var newBalance int64
	var applied bool
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		newBalance, applied, err = s.CreditInTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return 0, err
	}
	if applied {
		s.hub.BroadcastBalance(req.UserID, websocket.TokenBalanceUpdate{
			Balance: newBalance,
			Reason:  req.Reason,
		})
	}
	return newBalance, nil
}

// CreditInTx is the transactional body of Credit, exposed so the payment
// reconciler can credit inside its own terminal-transition transaction.
func (s *WalletService) CreditInTx(ctx context.Context, tx *sqlx.Tx, req CreditRequest) (int64, bool, error) {
	if req.Amount <= 0 {
		return 0, false, ErrInvalidAmount
	}
	wallet, err := s.wallets.EnsureForUpdate(ctx, tx, req.UserID)
	if err != nil {
		return 0, false, err
	}
	if req.RelatedTransactionID != nil {
		exists, err := s.ledger.ExistsForTransaction(ctx, tx, *req.RelatedTransactionID, req.Reason)
		if err != nil {
			return 0, false, err
		}
		if exists {
			return wallet.Balance, false, nil
		}
	}
	entry := store.LedgerEntryInput{
		ID:                   uuid.NewString(),
		UserID:               req.UserID,
		Delta:                req.Amount,
		Reason:               req.Reason,
		RelatedTransactionID: req.RelatedTransactionID,
	}
	if err := s.ledger.Insert(ctx, tx, entry); err != nil {
		// The unique index on (related_transaction_id, reason) backstops the
		// exists-check against racing creditors.
		if pgErr, ok := errAsPQ(err); ok && pgErr.Code == "23505" {
			return wallet.Balance, false, nil
		}
		return 0, false, err
	}
	newBalance := wallet.Balance + req.Amount
	if err := s.wallets.UpdateBalance(ctx, tx, req.UserID, newBalance); err != nil {
		return 0, false, err
	}
	return newBalance, true, nil
}

type DebitRequest struct {
	UserID string
	Amount int64
	Reason string
}

func (s *WalletService) Debit(ctx context.Context, req DebitRequest) (int64, error) {
	if req.Amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var newBalance int64
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		wallet, err := s.wallets.EnsureForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if wallet.Balance < req.Amount {
			return &InsufficientBalanceError{Required: req.Amount, Available: wallet.Balance}
		}
		entry := store.LedgerEntryInput{
			ID:     uuid.NewString(),
			UserID: req.UserID,
			Delta:  -req.Amount,
			Reason: req.Reason,
		}
		if err := s.ledger.Insert(ctx, tx, entry); err != nil {
			return err
		}
		newBalance = wallet.Balance - req.Amount
		return s.wallets.UpdateBalance(ctx, tx, req.UserID, newBalance)
	})
	if err != nil {
		return 0, err
	}
	s.hub.BroadcastBalance(req.UserID, websocket.TokenBalanceUpdate{
		Balance: newBalance,
		Reason:  req.Reason,
	})
	return newBalance, nil
}

func (s *WalletService) Reverse(ctx context.Context, userID string, amount int64, relatedEntryID *string) (int64, error) {
	return s.Credit(ctx, CreditRequest{
		UserID:               userID,
		Amount:               amount,
		Reason:               models.ReasonReversal,
		RelatedTransactionID: relatedEntryID,
	})
}

func errAsPQ(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}
