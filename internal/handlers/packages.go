package handlers

import (
	"database/sql"
	"net/http"

	"nyumbani/internal/models"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := h.packages.ListActive(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load packages")
		return
	}
	respondJSON(w, http.StatusOK, normalizePackages(packages))
}

func (h *Handler) GetPackage(w http.ResponseWriter, r *http.Request) {
	packageID := chi.URLParam(r, "id")
	pkg, err := h.packages.GetByID(r.Context(), packageID)
	if err != nil {
		if err == sql.ErrNoRows {
			respondError(w, http.StatusNotFound, "package not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load package")
		return
	}
	respondJSON(w, http.StatusOK, normalizePackage(pkg))
}

func normalizePackages(packages []models.TokenPackage) []map[string]any {
	normalized := make([]map[string]any, 0, len(packages))
	for _, pkg := range packages {
		normalized = append(normalized, normalizePackage(pkg))
	}
	return normalized
}

func normalizePackage(pkg models.TokenPackage) map[string]any {
	return map[string]any{
		"id":            pkg.ID,
		"name":          pkg.Name,
		"token_count":   pkg.TokenCount,
		"price":         valueToMoney(pkg.PriceMinor),
		"price_minor":   pkg.PriceMinor,
		"currency":      pkg.Currency,
		"features":      pkg.Features,
		"duration_days": pkg.DurationDays,
		"is_active":     pkg.IsActive,
		"created_at":    pkg.CreatedAt,
	}
}
