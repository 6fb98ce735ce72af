package store

import (
	"context"

	"nyumbani/internal/models"
)

type PaymentStore struct {
	db DB
}

func NewPaymentStore(db DB) *PaymentStore {
	return &PaymentStore{db: db}
}

type PaymentInput struct {
	ID              string
	UserID          string
	PackageID       string
	AmountMinor     int64
	Currency        string
	PhoneNumber     string
	TokensPurchased int64
}

func (s *PaymentStore) Create(ctx context.Context, tx Execer, input PaymentInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payment_transactions (id, user_id, package_id, amount_minor, currency, phone_number, status, tokens_purchased)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7)
	`, input.ID, input.UserID, input.PackageID, input.AmountMinor, input.Currency, input.PhoneNumber, input.TokensPurchased)
	return err
}

func (s *PaymentStore) SetProviderReference(ctx context.Context, tx Execer, transactionID, checkoutRequestID, merchantRequestID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payment_transactions
		SET checkout_request_id = $1, merchant_request_id = $2, updated_at = NOW()
		WHERE id = $3
	`, checkoutRequestID, merchantRequestID, transactionID)
	return err
}

func (s *PaymentStore) GetByID(ctx context.Context, transactionID string) (models.PaymentTransaction, error) {
	var row models.PaymentTransaction
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, package_id, amount_minor, currency, phone_number,
		       COALESCE(checkout_request_id, '') AS checkout_request_id,
		       COALESCE(merchant_request_id, '') AS merchant_request_id,
		       status, result_code, result_desc, mpesa_receipt, tokens_purchased, created_at, updated_at
		FROM payment_transactions
		WHERE id = $1
	`, transactionID)
	if err != nil {
		return models.PaymentTransaction{}, err
	}
	return row, nil
}

func (s *PaymentStore) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (models.PaymentTransaction, error) {
	var row models.PaymentTransaction
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, package_id, amount_minor, currency, phone_number,
		       COALESCE(checkout_request_id, '') AS checkout_request_id,
		       COALESCE(merchant_request_id, '') AS merchant_request_id,
		       status, result_code, result_desc, mpesa_receipt, tokens_purchased, created_at, updated_at
		FROM payment_transactions
		WHERE checkout_request_id = $1
	`, checkoutRequestID)
	if err != nil {
		return models.PaymentTransaction{}, err
	}
	return row, nil
}

type TerminalUpdate struct {
	Status       string
	ResultCode   *string
	ResultDesc   *string
	MpesaReceipt *string
}

// MarkTerminal is a compare-and-swap on status: the returned row count is
// zero when another caller already resolved the transaction.
func (s *PaymentStore) MarkTerminal(ctx context.Context, tx Execer, transactionID string, update TerminalUpdate) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE payment_transactions
		SET status = $1, result_code = $2, result_desc = $3, mpesa_receipt = $4, updated_at = NOW()
		WHERE id = $5 AND status = 'pending'
	`, update.Status, update.ResultCode, update.ResultDesc, update.MpesaReceipt, transactionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PaymentStore) ListPendingOlderThan(ctx context.Context, seconds int, limit int) ([]models.PaymentTransaction, error) {
	var rows []models.PaymentTransaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, package_id, amount_minor, currency, phone_number,
		       COALESCE(checkout_request_id, '') AS checkout_request_id,
		       COALESCE(merchant_request_id, '') AS merchant_request_id,
		       status, result_code, result_desc, mpesa_receipt, tokens_purchased, created_at, updated_at
		FROM payment_transactions
		WHERE status = 'pending'
		  AND checkout_request_id IS NOT NULL
		  AND created_at < NOW() - make_interval(secs => $1)
		ORDER BY created_at ASC
		LIMIT $2
	`, seconds, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListPendingMissingReference finds pending rows that never received a
// checkout_request_id, left behind by a crash before SetProviderReference.
func (s *PaymentStore) ListPendingMissingReference(ctx context.Context, seconds int, limit int) ([]models.PaymentTransaction, error) {
	var rows []models.PaymentTransaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, package_id, amount_minor, currency, phone_number,
		       COALESCE(checkout_request_id, '') AS checkout_request_id,
		       COALESCE(merchant_request_id, '') AS merchant_request_id,
		       status, result_code, result_desc, mpesa_receipt, tokens_purchased, created_at, updated_at
		FROM payment_transactions
		WHERE status = 'pending'
		  AND checkout_request_id IS NULL
		  AND created_at < NOW() - make_interval(secs => $1)
		ORDER BY created_at ASC
		LIMIT $2
	`, seconds, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *PaymentStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.PaymentTransaction, error) {
	var rows []models.PaymentTransaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, package_id, amount_minor, currency, phone_number,
		       COALESCE(checkout_request_id, '') AS checkout_request_id,
		       COALESCE(merchant_request_id, '') AS merchant_request_id,
		       status, result_code, result_desc, mpesa_receipt, tokens_purchased, created_at, updated_at
		FROM payment_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *PaymentStore) ListAll(ctx context.Context, status string, limit, offset int) ([]models.PaymentTransaction, error) {
	var rows []models.PaymentTransaction
	query := `
		SELECT id, user_id, package_id, amount_minor, currency, phone_number,
		       COALESCE(checkout_request_id, '') AS checkout_request_id,
		       COALESCE(merchant_request_id, '') AS merchant_request_id,
		       status, result_code, result_desc, mpesa_receipt, tokens_purchased, created_at, updated_at
		FROM payment_transactions
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, status, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}
	err := s.db.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
