package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/BrianElionDev/BuyBot/internal/domain"
)

// UpsertBalance writes one venue balance snapshot, replacing any previous
// row for the same (platform, account_type, asset) key.
func (r *Repository) UpsertBalance(ctx context.Context, balance *domain.Balance) error {
	const query = `
	INSERT INTO balances (platform, account_type, asset, free, locked, total, unrealized_pnl, last_updated)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(platform, account_type, asset) DO UPDATE SET
		free = excluded.free, locked = excluded.locked, total = excluded.total,
		unrealized_pnl = excluded.unrealized_pnl, last_updated = excluded.last_updated`

	if balance.LastUpdated.IsZero() {
		balance.LastUpdated = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, query,
		balance.Platform, balance.AccountType, balance.Asset,
		balance.Free, balance.Locked, balance.Total, balance.UnrealizedPnl,
		balance.LastUpdated.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert balance %s/%s/%s: %w", balance.Platform, balance.AccountType, balance.Asset, err)
	}
	return nil
}

// FindBalances retrieves all stored balance snapshots.
func (r *Repository) FindBalances(ctx context.Context) ([]*domain.Balance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT platform, account_type, asset, free, locked, total, unrealized_pnl, last_updated FROM balances`)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	balances := make([]*domain.Balance, 0)
	for rows.Next() {
		b := &domain.Balance{}
		var platform string
		var updated int64
		if err := rows.Scan(&platform, &b.AccountType, &b.Asset, &b.Free, &b.Locked, &b.Total, &b.UnrealizedPnl, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan balance row: %w", err)
		}
		b.Platform = domain.Platform(platform)
		b.LastUpdated = time.UnixMilli(updated).UTC()
		balances = append(balances, b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}
	return balances, nil
}

// InsertTransaction stores one income event unless the identical
// (time, type, amount, asset, symbol) tuple already exists.
func (r *Repository) InsertTransaction(ctx context.Context, tx *domain.Transaction) (bool, error) {
	const query = `
	INSERT OR IGNORE INTO transaction_history (time, type, amount, asset, symbol)
	VALUES (?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		tx.Time.UnixMilli(), tx.Type, tx.Amount, tx.Asset, tx.Symbol)
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction %s: %w", tx.DedupeKey(), err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for transaction insert: %w", err)
	}
	return n > 0, nil
}

// FindTransactionsBySymbol retrieves income events for a symbol in a range.
func (r *Repository) FindTransactionsBySymbol(ctx context.Context, symbol string, start, end time.Time) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT time, type, amount, asset, symbol FROM transaction_history
		 WHERE symbol = ? AND time >= ? AND time <= ? ORDER BY time`,
		symbol, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions for %s: %w", symbol, err)
	}
	defer rows.Close()

	txs := make([]*domain.Transaction, 0)
	for rows.Next() {
		tx := &domain.Transaction{}
		var ms int64
		var typ string
		if err := rows.Scan(&ms, &typ, &tx.Amount, &tx.Asset, &tx.Symbol); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		tx.Time = time.UnixMilli(ms).UTC()
		tx.Type = domain.TransactionType(typ)
		txs = append(txs, tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}
	return txs, nil
}
