package ports

import (
	"context"
	"time"

	"github.com/BrianElionDev/BuyBot/internal/domain"
)

// TradeRepository defines the interface for storing and retrieving trade rows.
type TradeRepository interface {
	// Create saves a new trade row and returns its assigned ID.
	Create(ctx context.Context, trade *domain.Trade) (int64, error)
	// Update modifies an existing trade row. Write-once fields (CreatedAt,
	// ClosedAt, OriginalOrderResponse) are only written when currently
	// null; a non-null overwrite attempt is refused with ErrWriteOnce.
	Update(ctx context.Context, trade *domain.Trade) error
	// FindByID retrieves a trade by its row id. Returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Trade, error)
	// FindByDiscordID retrieves a trade by its external unique id.
	// Returns nil, nil if not found.
	FindByDiscordID(ctx context.Context, discordID string) (*domain.Trade, error)
	// FindByTimestamp retrieves the trade whose signal timestamp falls in
	// [ts, ts+1ms). Returns nil, nil if not found.
	FindByTimestamp(ctx context.Context, ts time.Time) (*domain.Trade, error)
	// FindByExchangeOrderID retrieves the trade bound to a venue order id,
	// scanning the stored venue payload as a fallback.
	FindByExchangeOrderID(ctx context.Context, orderID string) (*domain.Trade, error)
	// FindActiveBySymbol retrieves trades with live exposure (OPEN or
	// PARTIALLY_CLOSED) for a coin symbol.
	FindActiveBySymbol(ctx context.Context, coinSymbol string) ([]*domain.Trade, error)
	// FindActive retrieves all trades with live exposure.
	FindActive(ctx context.Context) ([]*domain.Trade, error)
	// FindActiveYoungerThan retrieves live trades created within maxAge.
	FindActiveYoungerThan(ctx context.Context, maxAge time.Duration) ([]*domain.Trade, error)
	// FindClosedMissingPnl retrieves CLOSED trades lacking pnl or exit price.
	FindClosedMissingPnl(ctx context.Context, limit int) ([]*domain.Trade, error)
	// LastAttemptBefore returns the most recent signal timestamp recorded
	// for a coin symbol strictly before the given instant, for cooldown
	// checks that must not observe the attempt being evaluated. Zero time
	// when none.
	LastAttemptBefore(ctx context.Context, coinSymbol string, before time.Time) (time.Time, error)
}

// AlertRepository defines the interface for storing follow-up alert rows.
type AlertRepository interface {
	CreateAlert(ctx context.Context, alert *domain.Alert) (int64, error)
	UpdateAlert(ctx context.Context, alert *domain.Alert) error
	// FindAlertByDiscordID retrieves an alert by its external id, for
	// idempotent re-delivery. Returns nil, nil if not found.
	FindAlertByDiscordID(ctx context.Context, discordID string) (*domain.Alert, error)
}

// BalanceRepository upserts venue balance snapshots.
type BalanceRepository interface {
	UpsertBalance(ctx context.Context, balance *domain.Balance) error
	FindBalances(ctx context.Context) ([]*domain.Balance, error)
}

// TransactionRepository stores venue income events, deduplicated on the
// (time, type, amount, asset, symbol) tuple.
type TransactionRepository interface {
	// InsertTransaction stores the transaction unless an identical tuple
	// exists. Returns true when a new row was written.
	InsertTransaction(ctx context.Context, tx *domain.Transaction) (bool, error)
	FindTransactionsBySymbol(ctx context.Context, symbol string, start, end time.Time) ([]*domain.Transaction, error)
}
