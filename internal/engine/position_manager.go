package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/ports"
)

// ConflictAction is the position manager's verdict for a new trade attempt.
type ConflictAction string

const (
	ActionProceed  ConflictAction = "PROCEED"
	ActionMerge    ConflictAction = "MERGE"
	ActionReplace  ConflictAction = "REPLACE"
	ActionReject   ConflictAction = "REJECT"
	ActionCooldown ConflictAction = "COOLDOWN"
)

// Decision carries the verdict plus the conflicting trade when one exists.
type Decision struct {
	Action   ConflictAction
	Existing *domain.Trade
	Reason   string
}

// PositionManager resolves conflicts between a new trade attempt and the
// live trades already held on the same symbol, and enforces the per-symbol
// cooldown.
type PositionManager struct {
	trades            ports.TradeRepository
	logger            ports.Logger
	tradeCooldown     time.Duration
	positionCooldown  time.Duration
	maxPositionTrades int
}

// NewPositionManager creates a position manager.
func NewPositionManager(trades ports.TradeRepository, logger ports.Logger, tradeCooldown, positionCooldown time.Duration, maxPositionTrades int) *PositionManager {
	if maxPositionTrades <= 0 {
		maxPositionTrades = 2
	}
	return &PositionManager{
		trades:            trades,
		logger:            logger,
		tradeCooldown:     tradeCooldown,
		positionCooldown:  positionCooldown,
		maxPositionTrades: maxPositionTrades,
	}
}

// Decide inspects live trades for the symbol and returns the action to
// take before opening a position for the new trade.
func (m *PositionManager) Decide(ctx context.Context, trade *domain.Trade) (Decision, error) {
	active, err := m.trades.FindActiveBySymbol(ctx, trade.CoinSymbol)
	if err != nil {
		return Decision{}, fmt.Errorf("conflict lookup failed for %s: %w", trade.CoinSymbol, err)
	}

	// Merged secondaries do not count as independent exposure.
	live := active[:0]
	for _, t := range active {
		if t.MergedIntoTradeID == nil && t.ID != trade.ID {
			live = append(live, t)
		}
	}

	// Cooldown window: extended while a position already exists.
	cooldown := m.tradeCooldown
	if len(live) > 0 {
		cooldown = m.positionCooldown
	}
	lastAttempt, err := m.trades.LastAttemptBefore(ctx, trade.CoinSymbol, trade.Timestamp)
	if err != nil {
		return Decision{}, fmt.Errorf("cooldown lookup failed for %s: %w", trade.CoinSymbol, err)
	}
	if !lastAttempt.IsZero() && trade.Timestamp.Sub(lastAttempt) < cooldown {
		return Decision{
			Action: ActionCooldown,
			Reason: fmt.Sprintf("last attempt %s ago, cooldown %s", trade.Timestamp.Sub(lastAttempt).Round(time.Second), cooldown),
		}, nil
	}

	if len(live) == 0 {
		return Decision{Action: ActionProceed}, nil
	}

	existing := live[0]
	if existing.PositionType == trade.PositionType {
		// Same side: merge while under the per-symbol trade bound.
		if len(live) < m.maxPositionTrades {
			return Decision{Action: ActionMerge, Existing: existing}, nil
		}
		return Decision{
			Action:   ActionReject,
			Existing: existing,
			Reason:   fmt.Sprintf("%d live trades on %s reach the merge bound", len(live), trade.CoinSymbol),
		}, nil
	}

	// Opposite side replaces the standing position.
	return Decision{Action: ActionReplace, Existing: existing}, nil
}

// RecordMerge links the secondary trade into the primary and rewrites the
// primary's entry as the size-weighted average of both.
func (m *PositionManager) RecordMerge(ctx context.Context, primary, secondary *domain.Trade, reason string) error {
	totalSize := primary.PositionSize + secondary.PositionSize
	if totalSize > 0 {
		primary.EntryPrice = (primary.EntryPrice*primary.PositionSize + secondary.EntryPrice*secondary.PositionSize) / totalSize
	}
	primary.PositionSize = totalSize
	if err := m.trades.Update(ctx, primary); err != nil {
		return fmt.Errorf("failed to enlarge primary trade %d: %w", primary.ID, err)
	}

	now := time.Now().UTC()
	secondary.MergedIntoTradeID = &primary.ID
	secondary.MergeReason = reason
	secondary.MergedAt = &now
	if err := m.trades.Update(ctx, secondary); err != nil {
		return fmt.Errorf("failed to link secondary trade %d: %w", secondary.ID, err)
	}

	m.logger.Info(ctx, "Merged trade into existing position", map[string]interface{}{
		"primaryID": primary.ID, "secondaryID": secondary.ID,
		"entryPrice": primary.EntryPrice, "positionSize": primary.PositionSize,
	})
	return nil
}
