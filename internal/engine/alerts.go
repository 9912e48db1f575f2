package engine

import (
	"context"
	"fmt"

	"github.com/BrianElionDev/BuyBot/internal/domain"
)

// ApplyAlert executes the action a follow-up alert asks for on its parent
// trade. Failures are recorded on the alert row, which is always retained.
func (c *Coordinator) ApplyAlert(ctx context.Context, trade *domain.Trade, alert *domain.Alert) error {
	err := c.applyAction(ctx, trade, alert)

	outcome := "applied"
	if err != nil {
		outcome = "failed"
		alert.Status = domain.AlertFailed
		if alert.StatusDetail == "" {
			alert.StatusDetail = err.Error()
		}
	} else {
		alert.Status = domain.AlertApplied
	}
	if c.metrics != nil {
		c.metrics.AlertsProcessed.WithLabelValues(string(alert.ParsedAction), outcome).Inc()
	}

	if updateErr := c.alerts.UpdateAlert(ctx, alert); updateErr != nil {
		c.logger.Error(ctx, updateErr, "Failed to persist alert outcome", map[string]interface{}{"alertID": alert.ID})
		if err == nil {
			err = updateErr
		}
	}
	return err
}

func (c *Coordinator) applyAction(ctx context.Context, trade *domain.Trade, alert *domain.Alert) error {
	switch alert.ParsedAction {
	case domain.ActionStopLossHit, domain.ActionPositionClosed:
		return c.ClosePosition(ctx, trade, 100, alert)

	case domain.ActionTakeProfit1:
		return c.ClosePosition(ctx, trade, 50, alert)

	case domain.ActionTakeProfit2:
		return c.ClosePosition(ctx, trade, 100, alert)

	case domain.ActionStopLossUpdate:
		entry := effectiveEntry(trade)
		if entry == 0 {
			return fmt.Errorf("trade %d has no effective entry for breakeven stop", trade.ID)
		}
		return c.UpdateStopLoss(ctx, trade, entry)

	case domain.ActionTP1AndBreakEven:
		if err := c.ClosePosition(ctx, trade, 50, alert); err != nil {
			return err
		}
		entry := effectiveEntry(trade)
		if entry == 0 {
			return fmt.Errorf("trade %d has no effective entry for breakeven stop", trade.ID)
		}
		return c.UpdateStopLoss(ctx, trade, entry)

	case domain.ActionOrderCancelled:
		return c.CancelEntry(ctx, trade)

	case domain.ActionLimitOrderFilled, domain.ActionLimitOrderNotFilled:
		// Acknowledgement only; the user-data stream already carries the
		// authoritative fill state.
		alert.StatusDetail = "acknowledged"
		return nil

	default:
		alert.StatusDetail = "no actionable keywords"
		return fmt.Errorf("alert %d carries no recognized action", alert.ID)
	}
}

// effectiveEntry prefers the venue's fill price over the signal price.
func effectiveEntry(trade *domain.Trade) float64 {
	if trade.BinanceEntryPrice > 0 {
		return trade.BinanceEntryPrice
	}
	return trade.EntryPrice
}
