package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/ports"
)

// TradeCoordinator executes lifecycle primitives on trade rows.
type TradeCoordinator interface {
	OpenPosition(ctx context.Context, trade *domain.Trade) error
}

// AlertCoordinator applies a parsed follow-up action to its parent trade.
type AlertCoordinator interface {
	ApplyAlert(ctx context.Context, trade *domain.Trade, alert *domain.Alert) error
}

// Router classifies inbound records and delivers each to a coordinator.
type Router struct {
	trades TradeCoordinatorRepo
	alerts ports.AlertRepository
	trade  TradeCoordinator
	alert  AlertCoordinator
	logger ports.Logger
}

// TradeCoordinatorRepo is the slice of the trade repository the router needs.
type TradeCoordinatorRepo interface {
	Create(ctx context.Context, trade *domain.Trade) (int64, error)
	Update(ctx context.Context, trade *domain.Trade) error
	FindByDiscordID(ctx context.Context, discordID string) (*domain.Trade, error)
	FindByTimestamp(ctx context.Context, ts time.Time) (*domain.Trade, error)
}

// NewRouter creates a signal router.
func NewRouter(trades TradeCoordinatorRepo, alerts ports.AlertRepository, trade TradeCoordinator, alert AlertCoordinator, logger ports.Logger) *Router {
	return &Router{trades: trades, alerts: alerts, trade: trade, alert: alert, logger: logger}
}

// Route accepts one inbound record. Records with a parent reference are
// follow-up alerts; everything else is an initial signal.
func (r *Router) Route(ctx context.Context, rec *domain.SignalRecord) error {
	if rec.IsFollowUp() {
		return r.routeFollowUp(ctx, rec)
	}
	return r.routeInitial(ctx, rec)
}

// routeInitial binds the signal to its trade row by millisecond timestamp
// and dispatches exactly one placement attempt. Re-delivery of the same
// signal updates the same row and places no second order.
func (r *Router) routeInitial(ctx context.Context, rec *domain.SignalRecord) error {
	parsed, err := r.parse(rec)
	if err != nil {
		return fmt.Errorf("failed to parse initial signal: %w", err)
	}

	trade, err := r.trades.FindByTimestamp(ctx, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("timestamp lookup failed: %w", err)
	}

	if trade == nil {
		trade = &domain.Trade{
			DiscordID: rec.DiscordID,
			Timestamp: rec.Timestamp,
			Trader:    rec.Trader,
			Status:    domain.StatusPending,
		}
		applyParsed(trade, parsed)
		if _, err := r.trades.Create(ctx, trade); err != nil {
			return fmt.Errorf("failed to create trade row: %w", err)
		}
		r.logger.Info(ctx, "Created trade row for signal", map[string]interface{}{
			"tradeID": trade.ID, "symbol": trade.CoinSymbol, "timestamp": rec.Timestamp,
		})
	} else {
		// Idempotence: a row past PENDING has already been dispatched once.
		if trade.Status != domain.StatusPending {
			r.logger.Info(ctx, "Duplicate signal delivery ignored", map[string]interface{}{
				"tradeID": trade.ID, "status": trade.Status,
			})
			return nil
		}
		applyParsed(trade, parsed)
		if trade.DiscordID == "" {
			trade.DiscordID = rec.DiscordID
		}
		if err := r.trades.Update(ctx, trade); err != nil {
			return fmt.Errorf("failed to update trade row: %w", err)
		}
	}

	return r.trade.OpenPosition(ctx, trade)
}

// routeFollowUp binds the alert to its parent trade via discord_id.
func (r *Router) routeFollowUp(ctx context.Context, rec *domain.SignalRecord) error {
	// Idempotent re-delivery: an alert row already past "received" has
	// been handled.
	if rec.DiscordID != "" {
		existing, err := r.alerts.FindAlertByDiscordID(ctx, rec.DiscordID)
		if err != nil {
			return fmt.Errorf("alert lookup failed: %w", err)
		}
		if existing != nil && existing.Status != domain.AlertReceived {
			r.logger.Info(ctx, "Duplicate alert delivery ignored", map[string]interface{}{"alertID": existing.ID})
			return nil
		}
	}

	alert := &domain.Alert{
		DiscordID:       rec.DiscordID,
		ParentDiscordID: rec.ParentRef,
		Timestamp:       rec.Timestamp,
		Content:         rec.Content,
		Trader:          rec.Trader,
	}
	if _, err := r.alerts.CreateAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to create alert row: %w", err)
	}

	parent, err := r.trades.FindByDiscordID(ctx, rec.ParentRef)
	if err != nil {
		return fmt.Errorf("parent lookup failed: %w", err)
	}
	if parent == nil {
		alert.Status = domain.AlertFailed
		alert.StatusDetail = "parent trade not found"
		if err := r.alerts.UpdateAlert(ctx, alert); err != nil {
			r.logger.Error(ctx, err, "Failed to record alert failure")
		}
		return fmt.Errorf("no trade with discord_id %s for alert", rec.ParentRef)
	}

	alert.ParsedAction = ClassifyAlert(rec.Content)
	alert.Status = domain.AlertParsed

	// Dead parents acknowledge the alert without touching the venue.
	switch parent.Status {
	case domain.StatusFailed, domain.StatusUnfilled, domain.StatusCanceled, domain.StatusExpired:
		alert.Status = domain.AlertSkipped
		alert.StatusDetail = "skipped - no open position"
		if err := r.alerts.UpdateAlert(ctx, alert); err != nil {
			return fmt.Errorf("failed to record skipped alert: %w", err)
		}
		r.logger.Info(ctx, "Alert skipped, parent has no open position", map[string]interface{}{
			"tradeID": parent.ID, "parentStatus": parent.Status,
		})
		return nil
	}

	if err := r.alerts.UpdateAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to record parsed alert: %w", err)
	}
	return r.alert.ApplyAlert(ctx, parent, alert)
}

// parse prefers the structured form and falls back to free text.
func (r *Router) parse(rec *domain.SignalRecord) (*domain.ParsedSignal, error) {
	if rec.Structured != "" {
		return ParseStructured(rec.Structured)
	}
	return ParseContent(rec.Content)
}

func applyParsed(trade *domain.Trade, parsed *domain.ParsedSignal) {
	trade.CoinSymbol = parsed.CoinSymbol
	trade.PositionType = parsed.PositionType
	trade.EntryPrices = parsed.EntryPrices
	trade.StopLoss = parsed.StopLoss
	trade.TakeProfits = parsed.TakeProfits
	trade.OrderType = parsed.OrderType
	trade.QuantityMultiplier = parsed.QuantityMultiplier
	trade.SignalType = string(parsed.OrderType)
	if blob, err := json.Marshal(parsed); err == nil {
		trade.ParsedSignal = blob
	}
}
