package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/ingestor"
	"github.com/BrianElionDev/BuyBot/internal/ports"
	"github.com/BrianElionDev/BuyBot/internal/pricing"
)

const (
	// Trades older than this are left to the PnL backfill; the venue
	// purges order lookups eventually anyway.
	statusSyncMaxAge = 120 * time.Hour
)

// StatusSync probes the venue order status for every live trade and
// applies the resulting transitions. Probe failures only increment
// sync_error_count; they can never demote a placed order to FAILED.
type StatusSync struct {
	logger   ports.Logger
	exchange ports.ExchangeClient
	trades   ports.TradeRepository
	limiter  *rate.Limiter
}

// NewStatusSync creates the status-sync loop, venue-limited to 1 req/s.
func NewStatusSync(logger ports.Logger, exchange ports.ExchangeClient, trades ports.TradeRepository) *StatusSync {
	return &StatusSync{
		logger:   logger,
		exchange: exchange,
		trades:   trades,
		limiter:  rate.NewLimiter(rate.Limit(1), 1),
	}
}

// Run probes every live trade younger than the age bound.
func (s *StatusSync) Run(ctx context.Context) error {
	trades, err := s.trades.FindActiveYoungerThan(ctx, statusSyncMaxAge)
	if err != nil {
		return fmt.Errorf("failed to list live trades: %w", err)
	}

	var firstErr error
	for _, trade := range trades {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := s.SyncTrade(ctx, trade); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.logger.Warn(ctx, "Status probe failed", map[string]interface{}{
				"tradeID": trade.ID, "error": err.Error(),
			})
		}
	}
	return firstErr
}

// SyncTrade probes one trade's order and reconciles the row.
func (s *StatusSync) SyncTrade(ctx context.Context, trade *domain.Trade) error {
	orderID, err := strconv.ParseInt(trade.ExchangeOrderID, 10, 64)
	if err != nil {
		return fmt.Errorf("trade %d has unparseable order id %q", trade.ID, trade.ExchangeOrderID)
	}
	pair := pricing.Pair(trade.CoinSymbol)

	resp, err := s.exchange.GetOrderStatus(ctx, pair, orderID)
	if err != nil {
		// NOT_FOUND means the order completed and aged out of the open
		// books: the position closed or filled earlier.
		if errors.Is(err, ports.ErrOrderNotFound) {
			trade.Status = domain.StatusClosed
			if trade.ClosedAt == nil {
				now := time.Now().UTC()
				trade.ClosedAt = &now
			}
			trade.PositionSize = 0
			trade.SyncIssues = append(trade.SyncIssues, "order not found on venue, assumed closed earlier")
			return s.trades.Update(ctx, trade)
		}

		// Every other probe failure is observability-only: count it and
		// leave the success record exactly as it was.
		trade.SyncErrorCount++
		trade.SyncIssues = append(trade.SyncIssues, fmt.Sprintf("status probe: %v", err))
		if updateErr := s.trades.Update(ctx, trade); updateErr != nil {
			return updateErr
		}
		return err
	}

	// The probe payload lives in its own column, never in the original
	// placement record.
	trade.OrderStatusResponse = resp.Raw

	event := &ports.UserDataEvent{
		EventTime:  resp.Timestamp,
		Symbol:     resp.Symbol,
		OrderID:    resp.OrderID,
		Side:       resp.Side,
		OrderType:  resp.Type,
		Status:     resp.Status,
		ReduceOnly: resp.ReduceOnly,
		FilledQty:  resp.ExecutedQty,
		AvgPrice:   resp.AvgPrice,
		Raw:        resp.Raw,
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}
	if err := ingestor.ApplyEvent(trade, event); err != nil {
		// Not every probe implies a transition; persist the probe payload
		// regardless.
		s.logger.Debug(ctx, "Probe implied no transition", map[string]interface{}{
			"tradeID": trade.ID, "orderStatus": resp.Status, "reason": err.Error(),
		})
	}
	return s.trades.Update(ctx, trade)
}
