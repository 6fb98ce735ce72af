package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"nyumbani/internal/middleware"
	"nyumbani/internal/services"
)

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	balance, err := h.wallet.Balance(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load balance")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	query := r.URL.Query()
	page := parseInt(query.Get("page"), 1)
	limit := parseInt(query.Get("limit"), 20)
	offset := (page - 1) * limit
	entries, err := h.wallet.History(r.Context(), userID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load history")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

type authorizeRequest struct {
	Action string `json:"action"`
}

func (h *Handler) AuthorizeAction(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action == "" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	authz, err := h.authorizer.Authorize(r.Context(), userID, req.Action)
	if err != nil {
		if err == services.ErrUnknownAction {
			respondError(w, http.StatusBadRequest, "unknown_action")
			return
		}
		var insufficient *services.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			respondJSON(w, http.StatusPaymentRequired, map[string]any{
				"error":     "insufficient_balance",
				"required":  insufficient.Required,
				"available": insufficient.Available,
			})
			return
		}
		respondError(w, http.StatusInternalServerError, "authorization_failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"authorized":        true,
		"action":            authz.Action,
		"cost":              authz.Cost,
		"remaining_balance": authz.RemainingBalance,
	})
}

type reversalRequest struct {
	Amount         int64   `json:"amount"`
	RelatedEntryID *string `json:"related_entry_id"`
}

func (h *Handler) ReverseDebit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req reversalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	balance, err := h.wallet.Reverse(r.Context(), userID, req.Amount, req.RelatedEntryID)
	if err != nil {
		if err == services.ErrInvalidAmount {
			respondError(w, http.StatusBadRequest, "invalid_amount")
			return
		}
		respondError(w, http.StatusInternalServerError, "reversal_failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}
