package handlers

import (
	"context"
	"time"

	"nyumbani/internal/models"
	"nyumbani/internal/mpesa"
	"nyumbani/internal/services"
	"nyumbani/internal/store"

	"github.com/jmoiron/sqlx"
)

type UserStore interface {
	Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash, role string) error
	GetByEmail(ctx context.Context, email string) (map[string]any, error)
	GetByID(ctx context.Context, userID string) (map[string]any, error)
	GetRole(ctx context.Context, userID string) (string, error)
}

type WalletService interface {
	Balance(ctx context.Context, userID string) (int64, error)
	History(ctx context.Context, userID string, limit, offset int) ([]map[string]any, error)
	CreditInTx(ctx context.Context, tx *sqlx.Tx, req services.CreditRequest) (int64, bool, error)
	Reverse(ctx context.Context, userID string, amount int64, relatedEntryID *string) (int64, error)
}

type AuthorizerService interface {
	Authorize(ctx context.Context, userID, action string) (services.Authorization, error)
}

type PackageStore interface {
	Create(ctx context.Context, tx store.Execer, input store.PackageInput) error
	ListActive(ctx context.Context) ([]models.TokenPackage, error)
	GetByID(ctx context.Context, packageID string) (models.TokenPackage, error)
	Deactivate(ctx context.Context, tx store.Execer, packageID string) (int64, error)
}

type PaymentService interface {
	Initiate(ctx context.Context, userID, packageID, phoneNumber string) (services.PendingPayment, error)
	GetStatus(ctx context.Context, checkoutRequestID string) (services.PaymentStatus, error)
	HandleCallback(ctx context.Context, callback mpesa.StkCallback) (services.PaymentStatus, error)
	ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
	AwaitTerminal(ctx context.Context, checkoutRequestID string) (services.PaymentStatus, error)
}

type PaymentStore interface {
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.PaymentTransaction, error)
	ListAll(ctx context.Context, status string, limit, offset int) ([]models.PaymentTransaction, error)
}

type WalletChecker interface {
	SelfCheck(ctx context.Context) ([]store.WalletSummary, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	List(ctx context.Context, limit, offset int) ([]map[string]any, error)
}
