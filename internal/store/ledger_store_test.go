package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
)

func TestLedgerStoreInsert(t *testing.T) {
	ctx := context.Background()
	calls := 0
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO ledger_entries") {
				t.Fatalf("unexpected query: %s", query)
			}
			if args[2] != int64(-2) || args[3] != "contact_debit" {
				t.Fatalf("unexpected args: %#v", args)
			}
			calls++
			return stubResult{rows: 1}, nil
		},
	}
	store := NewLedgerStore(stubDB{})
	if err := store.Insert(ctx, execer, LedgerEntryInput{
		ID: "e1", UserID: "user-1", Delta: -2, Reason: "contact_debit",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 insert, got %d", calls)
	}
}

func TestLedgerStoreExistsForTransaction(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore(stubDB{})
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "related_transaction_id = $1") {
				t.Fatalf("unexpected query: %s", query)
			}
			if args[0] != "tx-1" || args[1] != "purchase" {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*bool) = true
			return nil
		},
	}
	exists, err := store.ExistsForTransaction(ctx, getter, "tx-1", "purchase")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Fatalf("expected entry to exist")
	}
}

func TestLedgerStoreSumByUser(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FROM ledger_entries") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 1 || args[0] != "user-1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*int64) = 7
			return nil
		},
	})
	sum, err := store.SumByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum != 7 {
		t.Fatalf("unexpected sum: %d", sum)
	}
}

func TestLedgerStoreListByUser(t *testing.T) {
	ctx := context.Background()
	store := NewLedgerStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "ORDER BY created_at DESC") {
				t.Fatalf("expected newest-first ordering: %s", query)
			}
			rows := dest.(*[]ledgerRow)
			*rows = []ledgerRow{
				{ID: "e2", UserID: "user-1", Delta: 10, Reason: "purchase", RelatedTransactionID: stringPtrStore("tx-1")},
				{ID: "e1", UserID: "user-1", Delta: -1, Reason: "search_debit"},
			}
			return nil
		},
	})
	entries, err := store.ListByUser(ctx, "user-1", 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["related_transaction_id"] != "tx-1" {
		t.Fatalf("unexpected first entry: %#v", entries[0])
	}
	if entries[1]["related_transaction_id"] != "" {
		t.Fatalf("expected empty related id: %#v", entries[1])
	}
}

func stringPtrStore(value string) *string {
	return &value
}
