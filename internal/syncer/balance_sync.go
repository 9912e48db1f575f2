package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/ports"
)

// BalanceSync snapshots the venue's futures wallet into the balances table.
type BalanceSync struct {
	logger   ports.Logger
	exchange ports.ExchangeClient
	balances ports.BalanceRepository
}

// NewBalanceSync creates the balance-sync loop.
func NewBalanceSync(logger ports.Logger, exchange ports.ExchangeClient, balances ports.BalanceRepository) *BalanceSync {
	return &BalanceSync{logger: logger, exchange: exchange, balances: balances}
}

// Run fetches per-asset balances and upserts them.
func (b *BalanceSync) Run(ctx context.Context) error {
	assets, err := b.exchange.GetBalances(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch balances: %w", err)
	}

	now := time.Now().UTC()
	var firstErr error
	for _, asset := range assets {
		// Zero-balance dust rows are skipped to keep the table readable.
		if asset.Total == 0 && asset.UnrealizedPnl == 0 {
			continue
		}
		err := b.balances.UpsertBalance(ctx, &domain.Balance{
			Platform:      b.exchange.Platform(),
			AccountType:   "futures",
			Asset:         asset.Asset,
			Free:          asset.Free,
			Locked:        asset.Locked,
			Total:         asset.Total,
			UnrealizedPnl: asset.UnrealizedPnl,
			LastUpdated:   now,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
