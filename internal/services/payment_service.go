package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"nyumbani/internal/db"
	"nyumbani/internal/models"
	"nyumbani/internal/money"
	"nyumbani/internal/mpesa"
	"nyumbani/internal/poller"
	"nyumbani/internal/store"
	"nyumbani/internal/validator"
	"nyumbani/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrPackageNotFound     = errors.New("package not found")
	ErrPackageInactive     = errors.New("package inactive")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrStatusUnavailable   = errors.New("payment status unavailable")
)

type Gateway interface {
	StkPush(ctx context.Context, req mpesa.StkPushRequest) (mpesa.StkPushResponse, error)
	StkQuery(ctx context.Context, checkoutRequestID string) (mpesa.StkQueryResponse, error)
}

type PackageStore interface {
	GetByID(ctx context.Context, packageID string) (models.TokenPackage, error)
}

type PaymentStore interface {
	Create(ctx context.Context, tx store.Execer, input store.PaymentInput) error
	SetProviderReference(ctx context.Context, tx store.Execer, transactionID, checkoutRequestID, merchantRequestID string) error
	GetByID(ctx context.Context, transactionID string) (models.PaymentTransaction, error)
	GetByCheckoutID(ctx context.Context, checkoutRequestID string) (models.PaymentTransaction, error)
	MarkTerminal(ctx context.Context, tx store.Execer, transactionID string, update store.TerminalUpdate) (int64, error)
	ListPendingOlderThan(ctx context.Context, seconds int, limit int) ([]models.PaymentTransaction, error)
	ListPendingMissingReference(ctx context.Context, seconds int, limit int) ([]models.PaymentTransaction, error)
}

type WalletCreditor interface {
	CreditInTx(ctx context.Context, tx *sqlx.Tx, req CreditRequest) (int64, bool, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

type PaymentService struct {
	txRunner     db.TxRunner
	packages     PackageStore
	payments     PaymentStore
	wallet       WalletCreditor
	audit        AuditStore
	gateway      Gateway
	hub          BalanceHub
	pollInterval time.Duration
	pollBudget   time.Duration
}

func NewPaymentService(txRunner db.TxRunner, packages PackageStore, payments PaymentStore, wallet WalletCreditor, audit AuditStore, gateway Gateway, hub BalanceHub, pollInterval, pollBudget time.Duration) *PaymentService {
	return &PaymentService{
		txRunner:     txRunner,
		packages:     packages,
		payments:     payments,
		wallet:       wallet,
		audit:        audit,
		gateway:      gateway,
		hub:          hub,
		pollInterval: pollInterval,
		pollBudget:   pollBudget,
	}
}

type PendingPayment struct {
	TransactionID     string
	CheckoutRequestID string
	MerchantRequestID string
	AmountMinor       int64
	CustomerMessage   string
}

// Initiate records the pending transaction before the gateway is contacted.
func (s *PaymentService) Initiate(ctx context.Context, userID, packageID, phoneNumber string) (PendingPayment, error) {
	pkg, err := s.packages.GetByID(ctx, packageID)
	if err != nil {
		if err == sql.ErrNoRows {
			return PendingPayment{}, ErrPackageNotFound
		}
		return PendingPayment{}, err
	}
	if !pkg.IsActive {
		return PendingPayment{}, ErrPackageInactive
	}
	phone, err := validator.NormalizePhone(phoneNumber)
	if err != nil {
		return PendingPayment{}, err
	}

	transactionID := uuid.NewString()
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.payments.Create(ctx, tx, store.PaymentInput{
			ID:              transactionID,
			UserID:          userID,
			PackageID:       pkg.ID,
			AmountMinor:     pkg.PriceMinor,
			Currency:        pkg.Currency,
			PhoneNumber:     phone,
			TokensPurchased: pkg.TokenCount,
		}); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]string{
			"package_id": pkg.ID,
			"phone":      phone,
		})
		return s.audit.Log(ctx, tx, userID, "payment_initiated", "payment_transaction", transactionID, string(data))
	})
	if err != nil {
		return PendingPayment{}, err
	}

	push, err := s.gateway.StkPush(ctx, mpesa.StkPushRequest{
		PhoneNumber:      phone,
		Amount:           money.WholeShillings(pkg.PriceMinor),
		AccountReference: transactionID,
		Description:      pkg.Name,
	})
	if err != nil {
		desc := err.Error()
		if markErr := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			_, err := s.payments.MarkTerminal(ctx, tx, transactionID, store.TerminalUpdate{
				Status:     models.PaymentStatusFailed,
				ResultDesc: &desc,
			})
			return err
		}); markErr != nil {
			log.Printf("failed to mark transaction %s failed: %v", transactionID, markErr)
		}
		return PendingPayment{}, err
	}

	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.payments.SetProviderReference(ctx, tx, transactionID, push.CheckoutRequestID, push.MerchantRequestID)
	})
	if err != nil {
		return PendingPayment{}, err
	}
	return PendingPayment{
		TransactionID:     transactionID,
		CheckoutRequestID: push.CheckoutRequestID,
		MerchantRequestID: push.MerchantRequestID,
		AmountMinor:       pkg.PriceMinor,
		CustomerMessage:   push.CustomerMessage,
	}, nil
}

type PaymentStatus struct {
	TransactionID     string
	CheckoutRequestID string
	Status            string
	Message           string
	AmountMinor       int64
	TokensPurchased   int64
	MpesaReceipt      string
}

func (s *PaymentService) GetStatus(ctx context.Context, checkoutRequestID string) (PaymentStatus, error) {
	row, err := s.payments.GetByCheckoutID(ctx, checkoutRequestID)
	if err != nil {
		if err == sql.ErrNoRows {
			return PaymentStatus{}, ErrTransactionNotFound
		}
		return PaymentStatus{}, err
	}
	if models.IsTerminalStatus(row.Status) {
		return statusFromRow(row), nil
	}

	query, err := s.gateway.StkQuery(ctx, checkoutRequestID)
	if err != nil {
		// A failed status query says nothing about the payment itself.
		return statusFromRow(row), fmt.Errorf("%w: %v", ErrStatusUnavailable, err)
	}
	if query.Processing() {
		return statusFromRow(row), nil
	}
	return s.resolve(ctx, row, statusForResultCode(query.ResultCode), query.ResultCode, query.ResultDesc, "")
}

func (s *PaymentService) HandleCallback(ctx context.Context, callback mpesa.StkCallback) (PaymentStatus, error) {
	row, err := s.payments.GetByCheckoutID(ctx, callback.CheckoutRequestID)
	if err != nil {
		if err == sql.ErrNoRows {
			return PaymentStatus{}, ErrTransactionNotFound
		}
		return PaymentStatus{}, err
	}
	if models.IsTerminalStatus(row.Status) {
		return statusFromRow(row), nil
	}
	return s.resolve(ctx, row, statusForResultCode(callback.Code()), callback.Code(), callback.ResultDesc, callback.Receipt())
}

// resolve performs the single pending-to-terminal transition. The CAS decides
// the winner; losers re-read and return what the winner recorded. The credit
// rides in the same transaction, keyed on the transaction id, so it can never
// apply twice.
func (s *PaymentService) resolve(ctx context.Context, row models.PaymentTransaction, status, resultCode, resultDesc, receipt string) (PaymentStatus, error) {
	var won bool
	var credited bool
	var newBalance int64
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		won = false
		credited = false
		update := store.TerminalUpdate{Status: status}
		if resultCode != "" {
			update.ResultCode = &resultCode
		}
		if resultDesc != "" {
			update.ResultDesc = &resultDesc
		}
		if receipt != "" {
			update.MpesaReceipt = &receipt
		}
		rows, err := s.payments.MarkTerminal(ctx, tx, row.ID, update)
		if err != nil {
			return err
		}
		if rows == 0 {
			return nil
		}
		won = true
		if status == models.PaymentStatusCompleted {
			relatedID := row.ID
			balance, applied, err := s.wallet.CreditInTx(ctx, tx, CreditRequest{
				UserID:               row.UserID,
				Amount:               row.TokensPurchased,
				Reason:               models.ReasonPurchase,
				RelatedTransactionID: &relatedID,
			})
			if err != nil {
				return err
			}
			credited = applied
			newBalance = balance
		}
		data, _ := json.Marshal(map[string]string{
			"result_code": resultCode,
			"receipt":     receipt,
		})
		return s.audit.Log(ctx, tx, row.UserID, "payment_"+status, "payment_transaction", row.ID, string(data))
	})
	if err != nil {
		return PaymentStatus{}, err
	}
	if credited {
		s.hub.BroadcastBalance(row.UserID, websocket.TokenBalanceUpdate{
			Balance: newBalance,
			Reason:  models.ReasonPurchase,
		})
	}
	if !won {
		current, err := s.payments.GetByID(ctx, row.ID)
		if err != nil {
			return PaymentStatus{}, err
		}
		return statusFromRow(current), nil
	}
	result := statusFromRow(row)
	result.Status = status
	result.Message = resultDesc
	result.MpesaReceipt = receipt
	return result, nil
}

func (s *PaymentService) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	rows, err := s.payments.ListPendingOlderThan(ctx, int(olderThan.Seconds()), limit)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, row := range rows {
		query, err := s.gateway.StkQuery(ctx, row.CheckoutRequestID)
		if err != nil {
			log.Printf("reconcile: status query for %s failed: %v", row.CheckoutRequestID, err)
			continue
		}
		if query.Processing() {
			continue
		}
		if _, err := s.resolve(ctx, row, statusForResultCode(query.ResultCode), query.ResultCode, query.ResultDesc, ""); err != nil {
			log.Printf("reconcile: resolving %s failed: %v", row.ID, err)
			continue
		}
		resolved++
	}

	// Rows that never got a provider reference cannot be queried again.
	orphans, err := s.payments.ListPendingMissingReference(ctx, int(olderThan.Seconds()), limit)
	if err != nil {
		return resolved, err
	}
	for _, row := range orphans {
		if _, err := s.resolve(ctx, row, models.PaymentStatusFailed, "", "no provider reference recorded", ""); err != nil {
			log.Printf("reconcile: failing orphaned %s failed: %v", row.ID, err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// AwaitTerminal polls until terminal or the budget runs out. A budget expiry
// is a local give-up; the row stays pending and a late completion still
// credits.
func (s *PaymentService) AwaitTerminal(ctx context.Context, checkoutRequestID string) (PaymentStatus, error) {
	if _, err := s.payments.GetByCheckoutID(ctx, checkoutRequestID); err != nil {
		if err == sql.ErrNoRows {
			return PaymentStatus{}, ErrTransactionNotFound
		}
		return PaymentStatus{}, err
	}
	var last PaymentStatus
	p := poller.New(s.pollInterval, s.pollBudget)
	_, err := p.Wait(ctx, func(ctx context.Context) (string, bool, error) {
		status, err := s.GetStatus(ctx, checkoutRequestID)
		if err != nil {
			return "", false, err
		}
		last = status
		return status.Status, models.IsTerminalStatus(status.Status), nil
	})
	if err != nil {
		return last, err
	}
	return last, nil
}

func statusForResultCode(code string) string {
	switch code {
	case mpesa.ResultSuccess:
		return models.PaymentStatusCompleted
	case mpesa.ResultCancelledByUser:
		return models.PaymentStatusCancelled
	case mpesa.ResultTimeout:
		return models.PaymentStatusTimeout
	default:
		return models.PaymentStatusFailed
	}
}

func statusFromRow(row models.PaymentTransaction) PaymentStatus {
	status := PaymentStatus{
		TransactionID:     row.ID,
		CheckoutRequestID: row.CheckoutRequestID,
		Status:            row.Status,
		AmountMinor:       row.AmountMinor,
		TokensPurchased:   row.TokensPurchased,
	}
	if row.ResultDesc != nil {
		status.Message = *row.ResultDesc
	}
	if row.MpesaReceipt != nil {
		status.MpesaReceipt = *row.MpesaReceipt
	}
	return status
}
