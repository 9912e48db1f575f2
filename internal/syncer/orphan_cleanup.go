package syncer

import (
	"context"
	"fmt"
	"strings"

	"github.com/BrianElionDev/BuyBot/internal/ports"
)

// OrphanCleanup cancels reduce-only protective orders whose symbol no
// longer holds a position. Orders covering merged positions are left
// alone: the aggregated primary still owns them.
type OrphanCleanup struct {
	logger   ports.Logger
	exchange ports.ExchangeClient
	trades   ports.TradeRepository
}

// NewOrphanCleanup creates the orphan-cleanup loop.
func NewOrphanCleanup(logger ports.Logger, exchange ports.ExchangeClient, trades ports.TradeRepository) *OrphanCleanup {
	return &OrphanCleanup{logger: logger, exchange: exchange, trades: trades}
}

// Run intersects open reduce-only orders with live positions and cancels
// the difference.
func (o *OrphanCleanup) Run(ctx context.Context) error {
	open, err := o.exchange.GetOpenOrders(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list open orders: %w", err)
	}

	positions, err := o.exchange.GetAllPositionRisk(ctx)
	if err != nil {
		return fmt.Errorf("failed to list positions: %w", err)
	}
	hasPosition := make(map[string]bool, len(positions))
	for _, pos := range positions {
		hasPosition[pos.Symbol] = true
	}

	var firstErr error
	cancelled := 0
	for _, order := range open {
		if !isProtective(order) {
			continue
		}
		if hasPosition[order.Symbol] {
			continue
		}
		if protected, err := o.belongsToMergedPosition(ctx, order.Symbol); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		} else if protected {
			o.logger.Debug(ctx, "Keeping protective order of merged position", map[string]interface{}{
				"symbol": order.Symbol, "orderID": order.OrderID,
			})
			continue
		}

		if _, err := o.exchange.CancelOrder(ctx, order.Symbol, order.OrderID); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to cancel orphan %d on %s: %w", order.OrderID, order.Symbol, err)
			}
			continue
		}
		cancelled++
		o.logger.Info(ctx, "Cancelled orphaned protective order", map[string]interface{}{
			"symbol": order.Symbol, "orderID": order.OrderID, "type": order.Type,
		})
	}

	if cancelled > 0 {
		o.logger.Info(ctx, "Orphan cleanup finished", map[string]interface{}{"cancelled": cancelled})
	}
	return firstErr
}

// isProtective reports whether the order is a reduce-only stop or
// take-profit (including closePosition variants, which the venue reports
// without a reduce-only flag).
func isProtective(order *ports.OrderResponse) bool {
	switch order.Type {
	case "STOP_MARKET", "TAKE_PROFIT_MARKET", "STOP", "TAKE_PROFIT":
		return true
	}
	return order.ReduceOnly
}

// belongsToMergedPosition reports whether any live local trade for the
// order's symbol is merged into an aggregate, whose combined exposure may
// be keyed under a different trade.
func (o *OrphanCleanup) belongsToMergedPosition(ctx context.Context, pair string) (bool, error) {
	coin := strings.TrimSuffix(pair, "USDT")
	trades, err := o.trades.FindActiveBySymbol(ctx, coin)
	if err != nil {
		return false, fmt.Errorf("merged-position lookup failed for %s: %w", coin, err)
	}
	for _, t := range trades {
		if t.MergedIntoTradeID != nil {
			return true, nil
		}
	}
	return false, nil
}
