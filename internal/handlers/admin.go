package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"nyumbani/internal/auth"
	"nyumbani/internal/middleware"
	"nyumbani/internal/models"
	"nyumbani/internal/store"
	"nyumbani/internal/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

func (h *Handler) AdminListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 50)
	page := parseInt(query.Get("page"), 1)
	offset := (page - 1) * limit
	status := query.Get("status")
	if status != "" && !models.IsTerminalStatus(status) && status != models.PaymentStatusPending {
		respondError(w, http.StatusBadRequest, "invalid status filter")
		return
	}
	rows, err := h.paymentLog.ListAll(r.Context(), status, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load transactions")
		return
	}
	normalized := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		normalized = append(normalized, map[string]any{
			"id":                  row.ID,
			"user_id":             row.UserID,
			"package_id":          row.PackageID,
			"amount":              valueToMoney(row.AmountMinor),
			"currency":            row.Currency,
			"phone_number":        row.PhoneNumber,
			"checkout_request_id": row.CheckoutRequestID,
			"status":              row.Status,
			"result_code":         derefString(row.ResultCode),
			"result_desc":         derefString(row.ResultDesc),
			"mpesa_receipt":       derefString(row.MpesaReceipt),
			"tokens_purchased":    row.TokensPurchased,
			"created_at":          row.CreatedAt,
			"updated_at":          row.UpdatedAt,
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 50)
	page := parseInt(query.Get("page"), 1)
	offset := (page - 1) * limit
	rows, err := h.audit.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load audit logs")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

type reconcileRequest struct {
	OlderThanSeconds int `json:"older_than_seconds"`
	Limit            int `json:"limit"`
}

func (h *Handler) ReconcilePayments(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	olderThan := secondsOrDefault(req.OlderThanSeconds, 300)
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	resolved, err := h.payments.ReconcilePending(r.Context(), olderThan, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"resolved": resolved})
}

func (h *Handler) WalletSelfCheck(w http.ResponseWriter, r *http.Request) {
	rows, err := h.wallets.SelfCheck(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to check wallets")
		return
	}
	normalized := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		normalized = append(normalized, map[string]any{
			"user_id":            row.UserID,
			"stored_balance":     row.StoredBalance,
			"calculated_balance": row.CalculatedBalance,
			"difference":         row.Difference,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"consistent":  len(rows) == 0,
		"divergences": normalized,
	})
}

type createPackageRequest struct {
	Name         string `json:"name"`
	TokenCount   int64  `json:"token_count"`
	Price        string `json:"price"`
	Currency     string `json:"currency"`
	Features     string `json:"features"`
	DurationDays int    `json:"duration_days"`
}

func (h *Handler) CreatePackage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createPackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.TokenCount <= 0 {
		respondError(w, http.StatusBadRequest, "token_count must be positive")
		return
	}
	priceMinor, err := parsePriceMinor(req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_price")
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = "KES"
	}
	packageID := uuid.NewString()
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		if err := h.packages.Create(r.Context(), tx, store.PackageInput{
			ID:           packageID,
			Name:         req.Name,
			TokenCount:   req.TokenCount,
			PriceMinor:   priceMinor,
			Currency:     currency,
			Features:     req.Features,
			DurationDays: req.DurationDays,
		}); err != nil {
			return err
		}
		data, _ := json.Marshal(map[string]any{
			"name":        req.Name,
			"token_count": req.TokenCount,
			"price_minor": priceMinor,
		})
		return h.audit.Log(r.Context(), tx, userID, "package_created", "token_package", packageID, string(data))
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to create package")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": packageID})
}

func (h *Handler) DeactivatePackage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	packageID := chi.URLParam(r, "id")
	var affected int64
	err := h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		rows, err := h.packages.Deactivate(r.Context(), tx, packageID)
		if err != nil {
			return err
		}
		affected = rows
		if rows == 0 {
			return nil
		}
		return h.audit.Log(r.Context(), tx, userID, "package_deactivated", "token_package", packageID, "{}")
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to deactivate package")
		return
	}
	if affected == 0 {
		respondError(w, http.StatusNotFound, "active package not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	websocket.ServeWS(w, r, h.hub, claims.UserID)
}
