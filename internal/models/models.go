package models

import "time"

type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type Wallet struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Balance   int64     `db:"balance" json:"balance"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type LedgerEntry struct {
	ID                   string    `db:"id" json:"id"`
	UserID               string    `db:"user_id" json:"user_id"`
	Delta                int64     `db:"delta" json:"delta"`
	Reason               string    `db:"reason" json:"reason"`
	RelatedTransactionID *string   `db:"related_transaction_id" json:"related_transaction_id,omitempty"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

type TokenPackage struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	TokenCount   int64     `db:"token_count" json:"token_count"`
	PriceMinor   int64     `db:"price_minor" json:"price_minor"`
	Currency     string    `db:"currency" json:"currency"`
	Features     string    `db:"features" json:"features"`
	DurationDays int       `db:"duration_days" json:"duration_days"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type PaymentTransaction struct {
	ID                string    `db:"id" json:"id"`
	UserID            string    `db:"user_id" json:"user_id"`
	PackageID         string    `db:"package_id" json:"package_id"`
	AmountMinor       int64     `db:"amount_minor" json:"amount_minor"`
	Currency          string    `db:"currency" json:"currency"`
	PhoneNumber       string    `db:"phone_number" json:"phone_number"`
	CheckoutRequestID string    `db:"checkout_request_id" json:"checkout_request_id"`
	MerchantRequestID string    `db:"merchant_request_id" json:"merchant_request_id"`
	Status            string    `db:"status" json:"status"`
	ResultCode        *string   `db:"result_code" json:"result_code,omitempty"`
	ResultDesc        *string   `db:"result_desc" json:"result_desc,omitempty"`
	MpesaReceipt      *string   `db:"mpesa_receipt" json:"mpesa_receipt,omitempty"`
	TokensPurchased   int64     `db:"tokens_purchased" json:"tokens_purchased"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusTimeout   = "timeout"
)

const (
	ReasonPurchase     = "purchase"
	ReasonSearchDebit  = "search_debit"
	ReasonContactDebit = "contact_debit"
	ReasonReward       = "reward"
	ReasonReversal     = "reversal"
)

func IsTerminalStatus(status string) bool {
	switch status {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusTimeout:
		return true
	}
	return false
}
