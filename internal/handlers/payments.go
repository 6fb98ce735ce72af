package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"nyumbani/internal/middleware"
	"nyumbani/internal/models"
	"nyumbani/internal/mpesa"
	"nyumbani/internal/poller"
	"nyumbani/internal/services"
	"nyumbani/internal/validator"

	"github.com/go-chi/chi/v5"
)

type initiatePaymentRequest struct {
	PackageID   string `json:"package_id"`
	PhoneNumber string `json:"phone_number"`
}

func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PackageID == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	pending, err := h.payments.Initiate(r.Context(), userID, req.PackageID, req.PhoneNumber)
	if err != nil {
		switch {
		case err == services.ErrPackageNotFound:
			respondError(w, http.StatusNotFound, "package not found")
		case err == services.ErrPackageInactive:
			respondError(w, http.StatusBadRequest, "package_inactive")
		case errors.Is(err, validator.ErrInvalidPhoneNumber):
			respondError(w, http.StatusBadRequest, "invalid_phone_number")
		default:
			var apiErr *mpesa.Error
			if errors.As(err, &apiErr) {
				respondJSON(w, http.StatusBadGateway, map[string]any{
					"error":  "payment_provider_error",
					"code":   apiErr.Code,
					"detail": apiErr.Message,
				})
				return
			}
			respondError(w, http.StatusInternalServerError, "payment_initiation_failed")
		}
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"transaction_id":      pending.TransactionID,
		"checkout_request_id": pending.CheckoutRequestID,
		"merchant_request_id": pending.MerchantRequestID,
		"amount":              valueToMoney(pending.AmountMinor),
		"customer_message":    pending.CustomerMessage,
	})
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	query := r.URL.Query()
	page := parseInt(query.Get("page"), 1)
	limit := parseInt(query.Get("limit"), 20)
	offset := (page - 1) * limit
	rows, err := h.paymentLog.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load payments")
		return
	}
	respondJSON(w, http.StatusOK, normalizePayments(rows))
}

func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	checkoutRequestID := chi.URLParam(r, "checkoutRequestID")
	status, err := h.payments.GetStatus(r.Context(), checkoutRequestID)
	if err != nil {
		if err == services.ErrTransactionNotFound {
			respondError(w, http.StatusNotFound, "transaction not found")
			return
		}
		if errors.Is(err, services.ErrStatusUnavailable) {
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":  "status_unavailable",
				"status": status.Status,
			})
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load status")
		return
	}
	respondJSON(w, http.StatusOK, paymentStatusPayload(status))
}

func (h *Handler) PaymentWait(w http.ResponseWriter, r *http.Request) {
	checkoutRequestID := chi.URLParam(r, "checkoutRequestID")
	status, err := h.payments.AwaitTerminal(r.Context(), checkoutRequestID)
	if err != nil {
		if err == services.ErrTransactionNotFound {
			respondError(w, http.StatusNotFound, "transaction not found")
			return
		}
		if errors.Is(err, poller.ErrBudgetExceeded) {
			payload := paymentStatusPayload(status)
			payload["timed_out"] = true
			respondJSON(w, http.StatusOK, payload)
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to await payment")
		return
	}
	respondJSON(w, http.StatusOK, paymentStatusPayload(status))
}

// The provider retries on non-200 responses, so processing failures are
// logged and acknowledged rather than surfaced.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var envelope mpesa.CallbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	callback := envelope.Body.StkCallback
	if callback.CheckoutRequestID == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if _, err := h.payments.HandleCallback(r.Context(), callback); err != nil {
		log.Printf("payment callback for %s failed: %v", callback.CheckoutRequestID, err)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ResultCode": 0,
		"ResultDesc": "Accepted",
	})
}

func paymentStatusPayload(status services.PaymentStatus) map[string]any {
	return map[string]any{
		"transaction_id":      status.TransactionID,
		"checkout_request_id": status.CheckoutRequestID,
		"status":              status.Status,
		"message":             status.Message,
		"amount":              valueToMoney(status.AmountMinor),
		"tokens_purchased":    status.TokensPurchased,
		"mpesa_receipt":       status.MpesaReceipt,
	}
}

func normalizePayments(rows []models.PaymentTransaction) []map[string]any {
	normalized := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		normalized = append(normalized, map[string]any{
			"id":                  row.ID,
			"package_id":          row.PackageID,
			"amount":              valueToMoney(row.AmountMinor),
			"currency":            row.Currency,
			"phone_number":        row.PhoneNumber,
			"checkout_request_id": row.CheckoutRequestID,
			"status":              row.Status,
			"result_desc":         derefString(row.ResultDesc),
			"mpesa_receipt":       derefString(row.MpesaReceipt),
			"tokens_purchased":    row.TokensPurchased,
			"created_at":          row.CreatedAt,
		})
	}
	return normalized
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
