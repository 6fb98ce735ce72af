package store

import (
	"context"

	"nyumbani/internal/models"
)

type PackageStore struct {
	db DB
}

func NewPackageStore(db DB) *PackageStore {
	return &PackageStore{db: db}
}

type PackageInput struct {
	ID           string
	Name         string
	TokenCount   int64
	PriceMinor   int64
	Currency     string
	Features     string
	DurationDays int
}

func (s *PackageStore) Create(ctx context.Context, tx Execer, input PackageInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO token_packages (id, name, token_count, price_minor, currency, features, duration_days, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
	`, input.ID, input.Name, input.TokenCount, input.PriceMinor, input.Currency, input.Features, input.DurationDays)
	return err
}

func (s *PackageStore) ListActive(ctx context.Context) ([]models.TokenPackage, error) {
	var rows []models.TokenPackage
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, token_count, price_minor, currency, features, duration_days, is_active, created_at, updated_at
		FROM token_packages
		WHERE is_active = TRUE
		ORDER BY price_minor ASC
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *PackageStore) GetByID(ctx context.Context, packageID string) (models.TokenPackage, error) {
	var row models.TokenPackage
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, token_count, price_minor, currency, features, duration_days, is_active, created_at, updated_at
		FROM token_packages
		WHERE id = $1
	`, packageID)
	if err != nil {
		return models.TokenPackage{}, err
	}
	return row, nil
}

func (s *PackageStore) Deactivate(ctx context.Context, tx Execer, packageID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE token_packages
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND is_active = TRUE
	`, packageID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
