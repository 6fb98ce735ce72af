package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"nyumbani/internal/models"
)

func TestPackageStoreListActive(t *testing.T) {
	ctx := context.Background()
	store := NewPackageStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "is_active = TRUE") {
				t.Fatalf("expected active filter: %s", query)
			}
			if !strings.Contains(query, "ORDER BY price_minor ASC") {
				t.Fatalf("expected ascending price order: %s", query)
			}
			rows := dest.(*[]models.TokenPackage)
			*rows = []models.TokenPackage{
				{ID: "pkg-1", Name: "Starter", TokenCount: 10, PriceMinor: 10000},
				{ID: "pkg-2", Name: "Plus", TokenCount: 30, PriceMinor: 25000},
			}
			return nil
		},
	})
	packages, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(packages) != 2 || packages[0].ID != "pkg-1" {
		t.Fatalf("unexpected packages: %#v", packages)
	}
}

func TestPackageStoreGetByID(t *testing.T) {
	ctx := context.Background()
	store := NewPackageStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if args[0] != "pkg-1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*models.TokenPackage) = models.TokenPackage{ID: "pkg-1", TokenCount: 10, IsActive: true}
			return nil
		},
	})
	pkg, err := store.GetByID(ctx, "pkg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pkg.TokenCount != 10 {
		t.Fatalf("unexpected package: %#v", pkg)
	}
}

func TestPackageStoreDeactivate(t *testing.T) {
	ctx := context.Background()
	store := NewPackageStore(stubDB{})
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "AND is_active = TRUE") {
				t.Fatalf("expected idempotent deactivate guard: %s", query)
			}
			return stubResult{rows: 1}, nil
		},
	}
	rows, err := store.Deactivate(ctx, execer, "pkg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected 1 row, got %d", rows)
	}
}
