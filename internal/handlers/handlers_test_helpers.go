package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nyumbani/internal/auth"
	"nyumbani/internal/config"
	"nyumbani/internal/middleware"
	"nyumbani/internal/models"
	"nyumbani/internal/mpesa"
	"nyumbani/internal/services"
	"nyumbani/internal/store"
	"nyumbani/internal/websocket"

	"github.com/jmoiron/sqlx"
)

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubUserStore struct {
	createFn     func(ctx context.Context, tx store.Execer, id, username, email, passwordHash, role string) error
	getByEmailFn func(ctx context.Context, email string) (map[string]any, error)
	getByIDFn    func(ctx context.Context, userID string) (map[string]any, error)
	getRoleFn    func(ctx context.Context, userID string) (string, error)
}

func (s stubUserStore) Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash, role string) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, id, username, email, passwordHash, role)
}

func (s stubUserStore) GetByEmail(ctx context.Context, email string) (map[string]any, error) {
	if s.getByEmailFn == nil {
		return nil, nil
	}
	return s.getByEmailFn(ctx, email)
}

func (s stubUserStore) GetByID(ctx context.Context, userID string) (map[string]any, error) {
	if s.getByIDFn == nil {
		return nil, nil
	}
	return s.getByIDFn(ctx, userID)
}

func (s stubUserStore) GetRole(ctx context.Context, userID string) (string, error) {
	if s.getRoleFn == nil {
		return "tenant", nil
	}
	return s.getRoleFn(ctx, userID)
}

type stubWalletService struct {
	balanceFn    func(ctx context.Context, userID string) (int64, error)
	historyFn    func(ctx context.Context, userID string, limit, offset int) ([]map[string]any, error)
	creditInTxFn func(ctx context.Context, tx *sqlx.Tx, req services.CreditRequest) (int64, bool, error)
	reverseFn    func(ctx context.Context, userID string, amount int64, relatedEntryID *string) (int64, error)
}

func (s stubWalletService) Balance(ctx context.Context, userID string) (int64, error) {
	if s.balanceFn == nil {
		return 0, nil
	}
	return s.balanceFn(ctx, userID)
}

func (s stubWalletService) History(ctx context.Context, userID string, limit, offset int) ([]map[string]any, error) {
	if s.historyFn == nil {
		return nil, nil
	}
	return s.historyFn(ctx, userID, limit, offset)
}

func (s stubWalletService) CreditInTx(ctx context.Context, tx *sqlx.Tx, req services.CreditRequest) (int64, bool, error) {
	if s.creditInTxFn == nil {
		return req.Amount, true, nil
	}
	return s.creditInTxFn(ctx, tx, req)
}

func (s stubWalletService) Reverse(ctx context.Context, userID string, amount int64, relatedEntryID *string) (int64, error) {
	if s.reverseFn == nil {
		return amount, nil
	}
	return s.reverseFn(ctx, userID, amount, relatedEntryID)
}

type stubAuthorizer struct {
	authorizeFn func(ctx context.Context, userID, action string) (services.Authorization, error)
}

func (s stubAuthorizer) Authorize(ctx context.Context, userID, action string) (services.Authorization, error) {
	return s.authorizeFn(ctx, userID, action)
}

type stubPackageStore struct {
	createFn     func(ctx context.Context, tx store.Execer, input store.PackageInput) error
	listActiveFn func(ctx context.Context) ([]models.TokenPackage, error)
	getByIDFn    func(ctx context.Context, packageID string) (models.TokenPackage, error)
	deactivateFn func(ctx context.Context, tx store.Execer, packageID string) (int64, error)
}

func (s stubPackageStore) Create(ctx context.Context, tx store.Execer, input store.PackageInput) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, input)
}

func (s stubPackageStore) ListActive(ctx context.Context) ([]models.TokenPackage, error) {
	if s.listActiveFn == nil {
		return nil, nil
	}
	return s.listActiveFn(ctx)
}

func (s stubPackageStore) GetByID(ctx context.Context, packageID string) (models.TokenPackage, error) {
	if s.getByIDFn == nil {
		return models.TokenPackage{}, nil
	}
	return s.getByIDFn(ctx, packageID)
}

func (s stubPackageStore) Deactivate(ctx context.Context, tx store.Execer, packageID string) (int64, error) {
	if s.deactivateFn == nil {
		return 1, nil
	}
	return s.deactivateFn(ctx, tx, packageID)
}

type stubPaymentService struct {
	initiateFn  func(ctx context.Context, userID, packageID, phoneNumber string) (services.PendingPayment, error)
	getStatusFn func(ctx context.Context, checkoutRequestID string) (services.PaymentStatus, error)
	callbackFn  func(ctx context.Context, callback mpesa.StkCallback) (services.PaymentStatus, error)
	reconcileFn func(ctx context.Context, olderThan time.Duration, limit int) (int, error)
	awaitFn     func(ctx context.Context, checkoutRequestID string) (services.PaymentStatus, error)
}

func (s stubPaymentService) Initiate(ctx context.Context, userID, packageID, phoneNumber string) (services.PendingPayment, error) {
	if s.initiateFn == nil {
		return services.PendingPayment{}, nil
	}
	return s.initiateFn(ctx, userID, packageID, phoneNumber)
}

func (s stubPaymentService) GetStatus(ctx context.Context, checkoutRequestID string) (services.PaymentStatus, error) {
	if s.getStatusFn == nil {
		return services.PaymentStatus{}, nil
	}
	return s.getStatusFn(ctx, checkoutRequestID)
}

func (s stubPaymentService) HandleCallback(ctx context.Context, callback mpesa.StkCallback) (services.PaymentStatus, error) {
	if s.callbackFn == nil {
		return services.PaymentStatus{}, nil
	}
	return s.callbackFn(ctx, callback)
}

func (s stubPaymentService) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if s.reconcileFn == nil {
		return 0, nil
	}
	return s.reconcileFn(ctx, olderThan, limit)
}

func (s stubPaymentService) AwaitTerminal(ctx context.Context, checkoutRequestID string) (services.PaymentStatus, error) {
	if s.awaitFn == nil {
		return services.PaymentStatus{}, nil
	}
	return s.awaitFn(ctx, checkoutRequestID)
}

type stubPaymentLog struct {
	listByUserFn func(ctx context.Context, userID string, limit, offset int) ([]models.PaymentTransaction, error)
	listAllFn    func(ctx context.Context, status string, limit, offset int) ([]models.PaymentTransaction, error)
}

func (s stubPaymentLog) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.PaymentTransaction, error) {
	if s.listByUserFn == nil {
		return nil, nil
	}
	return s.listByUserFn(ctx, userID, limit, offset)
}

func (s stubPaymentLog) ListAll(ctx context.Context, status string, limit, offset int) ([]models.PaymentTransaction, error) {
	if s.listAllFn == nil {
		return nil, nil
	}
	return s.listAllFn(ctx, status, limit, offset)
}

type stubWalletChecker struct {
	selfCheckFn func(ctx context.Context) ([]store.WalletSummary, error)
}

func (s stubWalletChecker) SelfCheck(ctx context.Context) ([]store.WalletSummary, error) {
	if s.selfCheckFn == nil {
		return nil, nil
	}
	return s.selfCheckFn(ctx)
}

type stubAuditStore struct {
	logFn  func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	listFn func(ctx context.Context, limit, offset int) ([]map[string]any, error)
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

func (s stubAuditStore) List(ctx context.Context, limit, offset int) ([]map[string]any, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, limit, offset)
}

func newTestHandler(users UserStore, wallet WalletService, authorizer AuthorizerService, packages PackageStore, payments PaymentService, paymentLog PaymentStore, wallets WalletChecker, audit AuditStore) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		JWTSecret:      "secret",
		TokenTTL:       time.Minute,
		AllowedOrigins: "*",
		WelcomeGrant:   3,
	}
	return New(cfg, fakeTxRunner{}, users, wallet, authorizer, packages, payments, paymentLog, wallets, audit, websocket.NewHub())
}

func serveWithAuth(t *testing.T, handler http.HandlerFunc, userID string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := auth.GenerateToken("secret", userID, time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	middleware.Auth("secret")(handler).ServeHTTP(rr, req)
	return rr
}

func stringPtr(value string) *string {
	return &value
}
