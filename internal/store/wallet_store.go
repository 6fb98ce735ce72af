package store

import "context"

type WalletStore struct {
	db DB
}

type Wallet struct {
	UserID    string `db:"user_id"`
	Balance   int64  `db:"balance"`
	UpdatedAt any    `db:"updated_at"`
}

type WalletSummary struct {
	UserID            string `db:"user_id"`
	StoredBalance     int64  `db:"stored_balance"`
	CalculatedBalance int64  `db:"calculated_balance"`
	Difference        int64  `db:"difference"`
}

func NewWalletStore(db DB) *WalletStore {
	return &WalletStore{db: db}
}

func (s *WalletStore) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.GetContext(ctx, &balance, `
		SELECT COALESCE((SELECT balance FROM wallets WHERE user_id = $1), 0)
	`, userID)
	return balance, err
}

// EnsureForUpdate creates the wallet row if missing and returns it locked.
func (s *WalletStore) EnsureForUpdate(ctx context.Context, tx Tx, userID string) (Wallet, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return Wallet{}, err
	}
	var row Wallet
	err := tx.GetContext(ctx, &row, `
		SELECT user_id, balance
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err != nil {
		return Wallet{}, err
	}
	return row, nil
}

func (s *WalletStore) UpdateBalance(ctx context.Context, tx Execer, userID string, balance int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $1, updated_at = NOW()
		WHERE user_id = $2
	`, balance, userID)
	return err
}

func (s *WalletStore) SelfCheck(ctx context.Context) ([]WalletSummary, error) {
	var rows []WalletSummary
	err := s.db.SelectContext(ctx, &rows, `
		SELECT w.user_id,
		       w.balance AS stored_balance,
		       COALESCE(SUM(l.delta), 0) AS calculated_balance,
		       (w.balance - COALESCE(SUM(l.delta), 0)) AS difference
		FROM wallets w
		LEFT JOIN ledger_entries l ON l.user_id = w.user_id
		GROUP BY w.user_id, w.balance
		HAVING w.balance <> COALESCE(SUM(l.delta), 0)
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
