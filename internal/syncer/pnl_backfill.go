package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/ports"
	"github.com/BrianElionDev/BuyBot/internal/pricing"
)

const (
	// Window slack around created_at/closed_at when scanning venue fills.
	backfillEpsilon   = 15 * time.Minute
	backfillBatchSize = 50
)

// PnlBackfill fills exit price and realized PnL on CLOSED trades from the
// venue's account-trade and income history. It prefers the venue's
// realizedPnl over anything computed locally and never touches the
// write-once timestamps.
type PnlBackfill struct {
	logger       ports.Logger
	exchange     ports.ExchangeClient
	trades       ports.TradeRepository
	transactions ports.TransactionRepository
}

// NewPnlBackfill creates the backfill loop.
func NewPnlBackfill(logger ports.Logger, exchange ports.ExchangeClient, trades ports.TradeRepository, transactions ports.TransactionRepository) *PnlBackfill {
	return &PnlBackfill{logger: logger, exchange: exchange, trades: trades, transactions: transactions}
}

// Run backfills one batch of closed trades missing pnl or exit price.
func (b *PnlBackfill) Run(ctx context.Context) error {
	trades, err := b.trades.FindClosedMissingPnl(ctx, backfillBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list closed trades missing pnl: %w", err)
	}

	var firstErr error
	for _, trade := range trades {
		if err := b.backfillTrade(ctx, trade); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			b.logger.Warn(ctx, "PnL backfill failed for trade", map[string]interface{}{
				"tradeID": trade.ID, "error": err.Error(),
			})
		}
	}
	return firstErr
}

func (b *PnlBackfill) backfillTrade(ctx context.Context, trade *domain.Trade) error {
	if trade.CreatedAt == nil || trade.ClosedAt == nil {
		return fmt.Errorf("trade %d lacks lifecycle timestamps for backfill", trade.ID)
	}
	pair := pricing.Pair(trade.CoinSymbol)
	start := trade.CreatedAt.Add(-backfillEpsilon)
	end := trade.ClosedAt.Add(backfillEpsilon)

	fills, err := b.exchange.GetAccountTrades(ctx, pair, start, end)
	if err != nil {
		return fmt.Errorf("failed to fetch account trades for %s: %w", pair, err)
	}

	var (
		pnlTotal     float64
		exitNotional float64
		exitQty      float64
		sawExitFill  bool
	)
	for _, fill := range fills {
		// Entry fills match the recorded order id and carry no realized
		// pnl; everything else in the window with pnl is an exit fill.
		if fmt.Sprint(fill.OrderID) == trade.ExchangeOrderID || fill.RealizedPnl == 0 {
			continue
		}
		pnlTotal += fill.RealizedPnl
		exitNotional += fill.Price * fill.Quantity
		exitQty += fill.Quantity
		sawExitFill = true
	}

	if !sawExitFill {
		// Income history is the fallback when fills already rotated out.
		incomes, err := b.exchange.GetIncome(ctx, pair, start, end)
		if err != nil {
			return fmt.Errorf("failed to fetch income for %s: %w", pair, err)
		}
		for _, in := range incomes {
			if in.Type == domain.TxRealizedPnl {
				pnlTotal += in.Amount
				sawExitFill = true
			}
			b.recordIncome(ctx, in)
		}
	}

	if !sawExitFill {
		return fmt.Errorf("no venue pnl found for trade %d in [%s, %s]", trade.ID, start, end)
	}

	if trade.PnlUSD == nil || *trade.PnlUSD != pnlTotal {
		pnl := pnlTotal
		trade.PnlUSD = &pnl
	}
	if trade.ExitPrice == 0 && exitQty > 0 {
		trade.ExitPrice = exitNotional / exitQty
	}

	if err := b.trades.Update(ctx, trade); err != nil {
		return fmt.Errorf("failed to persist backfill for trade %d: %w", trade.ID, err)
	}
	b.logger.Info(ctx, "Backfilled trade pnl", map[string]interface{}{
		"tradeID": trade.ID, "pnl": pnlTotal, "exitPrice": trade.ExitPrice,
	})
	return nil
}

func (b *PnlBackfill) recordIncome(ctx context.Context, in *ports.Income) {
	if b.transactions == nil {
		return
	}
	_, err := b.transactions.InsertTransaction(ctx, &domain.Transaction{
		Time:   in.Time,
		Type:   in.Type,
		Amount: in.Amount,
		Asset:  in.Asset,
		Symbol: in.Symbol,
	})
	if err != nil {
		b.logger.Debug(ctx, "Income dedupe insert failed", map[string]interface{}{"error": err.Error()})
	}
}
