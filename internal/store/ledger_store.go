package store

import "context"

type LedgerStore struct {
	db DB
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

type LedgerEntryInput struct {
	ID                   string
	UserID               string
	Delta                int64
	Reason               string
	RelatedTransactionID *string
}

func (s *LedgerStore) Insert(ctx context.Context, tx Execer, entry LedgerEntryInput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, delta, reason, related_transaction_id)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ID, entry.UserID, entry.Delta, entry.Reason, entry.RelatedTransactionID)
	return err
}

func (s *LedgerStore) ExistsForTransaction(ctx context.Context, tx Getter, relatedTransactionID, reason string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM ledger_entries
			WHERE related_transaction_id = $1 AND reason = $2
		)
	`, relatedTransactionID, reason)
	return exists, err
}

func (s *LedgerStore) SumByUser(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := s.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(delta), 0)
		FROM ledger_entries
		WHERE user_id = $1
	`, userID)
	return sum, err
}

type ledgerRow struct {
	ID                   string  `db:"id"`
	UserID               string  `db:"user_id"`
	Delta                int64   `db:"delta"`
	Reason               string  `db:"reason"`
	RelatedTransactionID *string `db:"related_transaction_id"`
	CreatedAt            any     `db:"created_at"`
}

func (s *LedgerStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]map[string]any, error) {
	var rows []ledgerRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, delta, reason, related_transaction_id, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	entries := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, map[string]any{
			"id":                     row.ID,
			"user_id":                row.UserID,
			"delta":                  row.Delta,
			"reason":                 row.Reason,
			"related_transaction_id": derefStringPtr(row.RelatedTransactionID),
			"created_at":             row.CreatedAt,
		})
	}
	return entries, nil
}

func derefStringPtr(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
