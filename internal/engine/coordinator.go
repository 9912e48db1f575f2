// Package engine implements the trade coordinator: the open, close and
// stop-loss primitives that turn parsed signals into reconciled venue
// positions. All mutating work for a symbol runs serially through a
// per-symbol mailbox.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BrianElionDev/BuyBot/config"
	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/fees"
	"github.com/BrianElionDev/BuyBot/internal/metrics"
	"github.com/BrianElionDev/BuyBot/internal/ports"
	"github.com/BrianElionDev/BuyBot/internal/pricing"
)

const (
	// replaceWait bounds how long a REPLACE waits for the old position to
	// clear before opening the new one.
	replaceWait     = 30 * time.Second
	replacePollStep = 2 * time.Second
)

// Coordinator executes lifecycle primitives against one venue.
type Coordinator struct {
	cfg      *config.Config
	logger   ports.Logger
	exchange ports.ExchangeClient
	trades   ports.TradeRepository
	alerts   ports.AlertRepository
	pricing  *pricing.Service
	fees     *fees.Calculator
	posmgr   *PositionManager
	metrics  *metrics.Metrics

	mailboxes *mailboxGroup
}

// NewCoordinator creates a trade coordinator.
func NewCoordinator(
	cfg *config.Config,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	trades ports.TradeRepository,
	alerts ports.AlertRepository,
	priceSvc *pricing.Service,
	feeCalc *fees.Calculator,
	posmgr *PositionManager,
	m *metrics.Metrics,
) (*Coordinator, error) {
	if cfg == nil || logger == nil || exchange == nil || trades == nil || alerts == nil || priceSvc == nil || feeCalc == nil || posmgr == nil {
		return nil, fmt.Errorf("missing required dependencies for Coordinator")
	}
	return &Coordinator{
		cfg:       cfg,
		logger:    logger,
		exchange:  exchange,
		trades:    trades,
		alerts:    alerts,
		pricing:   priceSvc,
		fees:      feeCalc,
		posmgr:    posmgr,
		metrics:   m,
		mailboxes: newMailboxGroup(),
	}, nil
}

// Close drains the per-symbol mailboxes.
func (c *Coordinator) Close() {
	c.mailboxes.Close()
}

// OpenPosition runs the preflight chain and places the entry order for a
// trade row. All failures persist a reason on the row; a venue response
// carrying an orderId pins the success record regardless of later probes.
func (c *Coordinator) OpenPosition(ctx context.Context, trade *domain.Trade) error {
	return c.mailboxes.Do(ctx, trade.CoinSymbol, func() error {
		return c.openPosition(ctx, trade)
	})
}

func (c *Coordinator) openPosition(ctx context.Context, trade *domain.Trade) error {
	// 1. Conflict / cooldown.
	decision, err := c.posmgr.Decide(ctx, trade)
	if err != nil {
		return err
	}
	switch decision.Action {
	case ActionCooldown:
		return c.markFailed(ctx, trade, domain.FailureTransient, "cooldown: "+decision.Reason)
	case ActionReject:
		return c.markFailed(ctx, trade, domain.FailureTransient, "rejected: "+decision.Reason)
	case ActionReplace:
		if err := c.replaceExisting(ctx, decision.Existing); err != nil {
			return c.markFailed(ctx, trade, domain.FailureTransient, fmt.Sprintf("replace failed: %v", err))
		}
	}

	// 2. Symbol support. The filters themselves are re-read by the
	// adapter at submission, which owns quantization.
	pair, _, err := c.pricing.ResolveSymbol(ctx, trade.CoinSymbol)
	if err != nil {
		return c.markFailed(ctx, trade, domain.FailureSymbolUnsupported, err.Error())
	}

	// 3. Reference price.
	markPrice, err := c.pricing.ReferencePrice(ctx, pair)
	if err != nil {
		return c.markFailed(ctx, trade, domain.FailureTransient, fmt.Sprintf("no reference price: %v", err))
	}

	// 4. Price proximity.
	signalPrice := trade.SignalEntryPrice()
	if signalPrice > 0 {
		threshold := c.cfg.ThresholdFor(trade.CoinSymbol)
		if !pricing.WithinThreshold(signalPrice, markPrice, threshold) {
			detail := fmt.Sprintf("signal %.8g vs market %.8g exceeds %.2f%%", signalPrice, markPrice, threshold*100)
			return c.markFailed(ctx, trade, domain.FailurePriceOutOfRange, detail)
		}
	}

	// 5. Sizing.
	quantity := c.cfg.TradeAmount / markPrice
	if trade.QuantityMultiplier > 1 {
		quantity *= float64(trade.QuantityMultiplier)
	}

	// 6. Precision bounds are enforced by the adapter at submission; the
	// floor-quantized quantity is what reaches the venue.

	// 7. Leverage binding.
	if err := c.exchange.ChangeLeverage(ctx, pair, c.cfg.Leverage); err != nil {
		c.logger.Warn(ctx, "Leverage binding failed, continuing with account default", map[string]interface{}{
			"pair": pair, "leverage": c.cfg.Leverage, "error": err.Error(),
		})
	}

	// 8. Fee preview.
	entryForFees := signalPrice
	if entryForFees == 0 {
		entryForFees = markPrice
	}
	preview := c.fees.PreviewRoundTrip(
		decimal.NewFromFloat(entryForFees), decimal.NewFromFloat(quantity),
		trade.PositionType, trade.OrderType)
	c.logger.Info(ctx, "Fee preview", map[string]interface{}{
		"pair": pair, "notional": preview.Notional.String(),
		"totalFee": preview.TotalFee.String(), "breakeven": preview.Breakeven.String(),
	})

	// 9. Placement.
	req := ports.OrderRequest{
		Symbol:   pair,
		Side:     trade.PositionType.EntrySide(),
		Type:     string(trade.OrderType),
		Quantity: quantity,
	}
	if trade.OrderType == domain.OrderTypeLimit {
		req.Price = signalPrice
	}

	resp, err := c.exchange.CreateOrder(ctx, req)
	if err != nil {
		reason := classifyFailure(err)
		if c.metrics != nil {
			c.metrics.OrdersFailed.WithLabelValues(string(c.exchange.Platform()), string(reason)).Inc()
		}
		return c.markFailed(ctx, trade, reason, err.Error())
	}
	if !resp.Placed() {
		return c.markFailed(ctx, trade, domain.FailureTransient, "venue response carried no orderId")
	}
	if c.metrics != nil {
		c.metrics.OrdersPlaced.WithLabelValues(string(c.exchange.Platform()), string(trade.OrderType)).Inc()
	}

	// 10/11. Persist the success record, then install protection. The
	// original placement payload is write-once.
	trade.ExchangeOrderID = fmt.Sprint(resp.OrderID)
	trade.OriginalOrderResponse = resp.Raw
	trade.BinanceResponse = resp.Raw
	trade.EntryPrice = signalPrice
	if resp.AvgPrice > 0 {
		trade.BinanceEntryPrice = resp.AvgPrice
		trade.EntryPrice = resp.AvgPrice
	}

	switch {
	case resp.ExecutedQty > 0:
		trade.Status = domain.StatusOpen
		trade.PositionSize = resp.ExecutedQty
		if trade.CreatedAt == nil {
			ts := resp.Timestamp
			if ts.IsZero() {
				ts = time.Now().UTC()
			}
			trade.CreatedAt = &ts
		}
	case trade.OrderType == domain.OrderTypeMarket:
		// A market order that executed nothing is unfilled.
		trade.Status = domain.StatusUnfilled
	default:
		// A resting limit order opens on the fill event.
		trade.Status = domain.StatusPending
		trade.PositionSize = 0
	}

	if trade.Status != domain.StatusUnfilled {
		c.installProtectiveOrders(ctx, trade, pair, resp)
	}

	if err := c.trades.Update(ctx, trade); err != nil {
		return fmt.Errorf("failed to persist placed trade %d: %w", trade.ID, err)
	}

	if decision.Action == ActionMerge && decision.Existing != nil && trade.Status == domain.StatusOpen {
		if err := c.posmgr.RecordMerge(ctx, decision.Existing, trade, "same-side signal within merge bound"); err != nil {
			c.logger.Error(ctx, err, "Failed to record merge", map[string]interface{}{"tradeID": trade.ID})
		}
	}

	c.logger.Info(ctx, "Position opened", map[string]interface{}{
		"tradeID": trade.ID, "pair": pair, "orderID": resp.OrderID,
		"status": trade.Status, "size": trade.PositionSize,
	})
	return nil
}

// installProtectiveOrders tries the venue's position-mode TP/SL first and
// falls back to separate reduce-only stop orders.
func (c *Coordinator) installProtectiveOrders(ctx context.Context, trade *domain.Trade, pair string, entry *ports.OrderResponse) {
	positionMode := c.exchange.ChangePositionTPSLMode(ctx, pair, true) == nil
	exitSide := trade.PositionType.ExitSide()
	size := trade.PositionSize
	if size == 0 {
		size = entry.OrigQuantity
	}

	orders := make([]domain.ProtectiveOrder, 0, 1+len(trade.TakeProfits))

	if trade.StopLoss != nil {
		req := ports.OrderRequest{
			Symbol:    pair,
			Side:      exitSide,
			Type:      "STOP_MARKET",
			StopPrice: *trade.StopLoss,
		}
		if positionMode {
			req.ClosePosition = true
		} else {
			req.Quantity = size
			req.ReduceOnly = true
		}
		if resp, err := c.exchange.CreateOrder(ctx, req); err != nil {
			c.logger.Error(ctx, err, "Failed to install stop loss", map[string]interface{}{"tradeID": trade.ID, "stopPrice": *trade.StopLoss})
		} else if resp.Placed() {
			orders = append(orders, domain.ProtectiveOrder{
				OrderID: fmt.Sprint(resp.OrderID), Kind: domain.ProtectiveSL, TriggerPrice: *trade.StopLoss,
			})
		}
	}

	for i, tp := range trade.TakeProfits {
		// TP1 takes half the position, the final level closes the rest.
		qty := size
		req := ports.OrderRequest{
			Symbol:    pair,
			Side:      exitSide,
			Type:      "TAKE_PROFIT_MARKET",
			StopPrice: tp,
		}
		if i == len(trade.TakeProfits)-1 && positionMode {
			req.ClosePosition = true
		} else {
			if len(trade.TakeProfits) > 1 && i == 0 {
				qty = size / 2
			}
			req.Quantity = qty
			req.ReduceOnly = true
		}
		if resp, err := c.exchange.CreateOrder(ctx, req); err != nil {
			c.logger.Error(ctx, err, "Failed to install take profit", map[string]interface{}{"tradeID": trade.ID, "level": i + 1, "triggerPrice": tp})
		} else if resp.Placed() {
			orders = append(orders, domain.ProtectiveOrder{
				OrderID: fmt.Sprint(resp.OrderID), Kind: domain.ProtectiveTP, TriggerPrice: tp, Level: i + 1,
			})
		}
	}

	trade.TPSLOrders = orders
}

// replaceExisting closes the standing opposite-side position at market and
// waits for the venue to report the symbol flat.
func (c *Coordinator) replaceExisting(ctx context.Context, existing *domain.Trade) error {
	if existing == nil {
		return nil
	}
	c.logger.Info(ctx, "Replacing opposite-side position", map[string]interface{}{"tradeID": existing.ID, "symbol": existing.CoinSymbol})
	if err := c.closePosition(ctx, existing, 100, nil); err != nil {
		return err
	}

	pair := pricing.Pair(existing.CoinSymbol)
	deadline := time.Now().Add(replaceWait)
	for time.Now().Before(deadline) {
		pos, err := c.exchange.GetPositionRisk(ctx, pair)
		if err == nil && pos == nil {
			return nil
		}
		select {
		case <-time.After(replacePollStep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("position on %s still live after %s", pair, replaceWait)
}

// ClosePosition closes a percentage of a live trade with a reduce-only
// market order. The alert (when present) receives the venue payload.
func (c *Coordinator) ClosePosition(ctx context.Context, trade *domain.Trade, percent float64, alert *domain.Alert) error {
	return c.mailboxes.Do(ctx, trade.CoinSymbol, func() error {
		return c.closePosition(ctx, trade, percent, alert)
	})
}

func (c *Coordinator) closePosition(ctx context.Context, trade *domain.Trade, percent float64, alert *domain.Alert) error {
	pair := pricing.Pair(trade.CoinSymbol)

	pos, err := c.exchange.GetPositionRisk(ctx, pair)
	if err != nil {
		return fmt.Errorf("failed to read position for %s: %w", pair, err)
	}
	if pos == nil || pos.PositionAmt == 0 {
		// Nothing live on the venue: reconcile the row. An entry that
		// never filled is cancelled rather than closed.
		if trade.Status == domain.StatusPending {
			trade.Status = domain.StatusCanceled
		} else {
			trade.Status = domain.StatusClosed
			if trade.ClosedAt == nil {
				now := time.Now().UTC()
				trade.ClosedAt = &now
			}
		}
		trade.PositionSize = 0
		if err := c.trades.Update(ctx, trade); err != nil {
			return err
		}
		if alert != nil {
			alert.StatusDetail = "position already closed"
			alert.BinanceResponse = []byte(`{"error":"position already closed"}`)
		}
		return nil
	}

	size := pos.PositionAmt
	if size < 0 {
		size = -size
	}
	quantity := size * percent / 100

	resp, err := c.exchange.CreateOrder(ctx, ports.OrderRequest{
		Symbol:     pair,
		Side:       trade.PositionType.ExitSide(),
		Type:       "MARKET",
		Quantity:   quantity,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("reduce-only close failed for trade %d: %w", trade.ID, err)
	}
	if alert != nil {
		alert.BinanceResponse = resp.Raw
	}
	trade.BinanceResponse = resp.Raw

	executed := resp.ExecutedQty
	if executed == 0 {
		executed = quantity
	}
	remaining := size - executed

	if percent >= 100 || remaining <= 0 {
		trade.Status = domain.StatusClosed
		if trade.ClosedAt == nil {
			ts := resp.Timestamp
			if ts.IsZero() {
				ts = time.Now().UTC()
			}
			trade.ClosedAt = &ts
		}
		trade.PositionSize = 0
		if resp.AvgPrice > 0 {
			trade.ExitPrice = resp.AvgPrice
		}
		c.fillComputedPnl(trade)
	} else {
		trade.Status = domain.StatusPartiallyClosed
		trade.PositionSize = remaining
	}

	if err := c.trades.Update(ctx, trade); err != nil {
		return fmt.Errorf("failed to persist close for trade %d: %w", trade.ID, err)
	}
	c.logger.Info(ctx, "Position reduced", map[string]interface{}{
		"tradeID": trade.ID, "pair": pair, "percent": percent,
		"status": trade.Status, "remaining": trade.PositionSize,
	})
	return nil
}

// fillComputedPnl computes pnl from entry/exit when the venue's realized
// figure has not arrived yet. The PnL backfill loop replaces it with the
// venue number later.
func (c *Coordinator) fillComputedPnl(trade *domain.Trade) {
	if trade.PnlUSD != nil || trade.ExitPrice == 0 || trade.EntryPrice == 0 {
		return
	}
	// Quantity at entry approximates the round-trip size.
	qty := c.cfg.TradeAmount / trade.EntryPrice
	if trade.QuantityMultiplier > 1 {
		qty *= float64(trade.QuantityMultiplier)
	}
	diff := trade.ExitPrice - trade.EntryPrice
	if trade.PositionType == domain.Short {
		diff = -diff
	}
	pnl := diff * qty
	trade.PnlUSD = &pnl
}

// UpdateStopLoss cancels every standing stop order for the trade's symbol
// and installs a fresh one at the new price. The venue has no in-place
// amendment, so the update is cancel+create inside the symbol mailbox.
func (c *Coordinator) UpdateStopLoss(ctx context.Context, trade *domain.Trade, newPrice float64) error {
	return c.mailboxes.Do(ctx, trade.CoinSymbol, func() error {
		return c.updateStopLoss(ctx, trade, newPrice)
	})
}

func (c *Coordinator) updateStopLoss(ctx context.Context, trade *domain.Trade, newPrice float64) error {
	pair := pricing.Pair(trade.CoinSymbol)

	// Cancel standing reduce-only stops for the symbol.
	open, err := c.exchange.GetOpenOrders(ctx, pair)
	if err != nil {
		return fmt.Errorf("failed to list open orders for %s: %w", pair, err)
	}
	kept := make([]domain.ProtectiveOrder, 0, len(trade.TPSLOrders))
	for _, po := range trade.TPSLOrders {
		if po.Kind == domain.ProtectiveTP {
			kept = append(kept, po)
		}
	}
	for _, o := range open {
		if o.Type != "STOP_MARKET" && o.Type != "STOP" {
			continue
		}
		if _, err := c.exchange.CancelOrder(ctx, pair, o.OrderID); err != nil {
			if errors.Is(err, ports.ErrOrderNotFound) {
				continue // already gone
			}
			return fmt.Errorf("failed to cancel stop order %d: %w", o.OrderID, err)
		}
	}

	// Fresh position size for the replacement order.
	pos, err := c.exchange.GetPositionRisk(ctx, pair)
	if err != nil {
		return fmt.Errorf("failed to read position for %s: %w", pair, err)
	}
	if pos == nil || pos.PositionAmt == 0 {
		trade.TPSLOrders = kept
		return c.trades.Update(ctx, trade)
	}
	size := pos.PositionAmt
	if size < 0 {
		size = -size
	}

	req := ports.OrderRequest{
		Symbol:    pair,
		Side:      trade.PositionType.ExitSide(),
		Type:      "STOP_MARKET",
		StopPrice: newPrice,
	}
	if c.exchange.ChangePositionTPSLMode(ctx, pair, true) == nil {
		req.ClosePosition = true
	} else {
		req.Quantity = size
		req.ReduceOnly = true
	}

	resp, err := c.exchange.CreateOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to place replacement stop for trade %d: %w", trade.ID, err)
	}
	if resp.Placed() {
		kept = append(kept, domain.ProtectiveOrder{
			OrderID: fmt.Sprint(resp.OrderID), Kind: domain.ProtectiveSL, TriggerPrice: newPrice,
		})
	}
	trade.TPSLOrders = kept
	sl := newPrice
	trade.StopLoss = &sl
	trade.BinanceResponse = resp.Raw

	if err := c.trades.Update(ctx, trade); err != nil {
		return fmt.Errorf("failed to persist stop update for trade %d: %w", trade.ID, err)
	}
	c.logger.Info(ctx, "Stop loss updated", map[string]interface{}{"tradeID": trade.ID, "stopPrice": newPrice})
	return nil
}

// CancelEntry cancels a resting entry order that never filled.
func (c *Coordinator) CancelEntry(ctx context.Context, trade *domain.Trade) error {
	return c.mailboxes.Do(ctx, trade.CoinSymbol, func() error {
		pair := pricing.Pair(trade.CoinSymbol)
		orderID, err := parseOrderID(trade.ExchangeOrderID)
		if err != nil {
			return err
		}
		resp, cancelErr := c.exchange.CancelOrder(ctx, pair, orderID)
		if cancelErr != nil && !errors.Is(cancelErr, ports.ErrOrderNotFound) {
			return fmt.Errorf("failed to cancel entry for trade %d: %w", trade.ID, cancelErr)
		}
		if resp != nil {
			trade.BinanceResponse = resp.Raw
		}
		if trade.PositionSize == 0 {
			trade.Status = domain.StatusCanceled
		}
		return c.trades.Update(ctx, trade)
	})
}

func parseOrderID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, fmt.Errorf("unparseable exchange order id %q: %w", s, err)
	}
	return id, nil
}

// markFailed persists a terminal or transient failure on the trade row.
// The north-star rule applies: a row that already holds an original order
// response is never demoted to FAILED by a later error.
func (c *Coordinator) markFailed(ctx context.Context, trade *domain.Trade, reason domain.FailureReason, detail string) error {
	if len(trade.OriginalOrderResponse) > 0 {
		trade.SyncErrorCount++
		trade.SyncIssues = append(trade.SyncIssues, fmt.Sprintf("%s: %s", reason, detail))
		if err := c.trades.Update(ctx, trade); err != nil {
			return err
		}
		return fmt.Errorf("post-placement failure on trade %d: %s (%s)", trade.ID, reason, detail)
	}

	if reason.IsTerminal() {
		trade.Status = domain.StatusFailed
		if reason == domain.FailureQtyOutOfBounds || reason == domain.FailureNotionalTooSmall {
			trade.Status = domain.StatusUnfilled
		}
	}
	trade.SyncIssues = append(trade.SyncIssues, fmt.Sprintf("%s: %s", reason, detail))
	if err := c.trades.Update(ctx, trade); err != nil {
		return err
	}
	c.logger.Warn(ctx, "Trade attempt failed", map[string]interface{}{
		"tradeID": trade.ID, "symbol": trade.CoinSymbol, "reason": reason, "detail": detail,
	})
	return fmt.Errorf("trade %d failed: %s (%s)", trade.ID, reason, detail)
}

// classifyFailure maps adapter errors onto the placement failure taxonomy.
func classifyFailure(err error) domain.FailureReason {
	switch {
	case errors.Is(err, ports.ErrInsufficientMargin):
		return domain.FailureMarginInsufficient
	case errors.Is(err, ports.ErrQtyOutOfBounds):
		return domain.FailureQtyOutOfBounds
	case errors.Is(err, ports.ErrNotionalTooSmall):
		return domain.FailureNotionalTooSmall
	case errors.Is(err, ports.ErrWouldImmediatelyTrigger):
		return domain.FailureWouldImmediatelyTrigger
	case errors.Is(err, ports.ErrSymbolUnsupported):
		return domain.FailureSymbolUnsupported
	case errors.Is(err, ports.ErrInvalidAPIKeys), errors.Is(err, ports.ErrPermissionDenied):
		return domain.FailurePermissionDenied
	default:
		return domain.FailureTransient
	}
}
