package syncer

import (
	"context"
	"fmt"
	"strings"

	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/ports"
)

// Confidence weights for matching a venue position to a local trade.
const (
	confidenceSymbol    = 0.5
	confidenceSide      = 0.3
	confidenceSize      = 0.2
	confidenceThreshold = 0.8
	// Relative size slack still counted as a match.
	sizeProximity = 0.05
)

// PositionAudit verifies that every live venue position corresponds to a
// local trade with live status. Unmatched positions flag the closest
// candidate for manual verification.
type PositionAudit struct {
	logger   ports.Logger
	exchange ports.ExchangeClient
	trades   ports.TradeRepository
}

// NewPositionAudit creates the active-futures audit loop.
func NewPositionAudit(logger ports.Logger, exchange ports.ExchangeClient, trades ports.TradeRepository) *PositionAudit {
	return &PositionAudit{logger: logger, exchange: exchange, trades: trades}
}

// Run audits every open venue position.
func (a *PositionAudit) Run(ctx context.Context) error {
	positions, err := a.exchange.GetAllPositionRisk(ctx)
	if err != nil {
		return fmt.Errorf("failed to list venue positions: %w", err)
	}

	var firstErr error
	for _, pos := range positions {
		if err := a.auditPosition(ctx, pos); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			a.logger.Warn(ctx, "Position audit failed", map[string]interface{}{
				"symbol": pos.Symbol, "error": err.Error(),
			})
		}
	}
	return firstErr
}

func (a *PositionAudit) auditPosition(ctx context.Context, pos *ports.PositionRisk) error {
	coin := strings.TrimSuffix(pos.Symbol, "USDT")
	candidates, err := a.trades.FindActiveBySymbol(ctx, coin)
	if err != nil {
		return fmt.Errorf("candidate lookup failed for %s: %w", coin, err)
	}

	var best *domain.Trade
	bestScore := 0.0
	for _, t := range candidates {
		score := Confidence(pos, t)
		if score > bestScore {
			bestScore = score
			best = t
		}
	}

	if best != nil && bestScore >= confidenceThreshold {
		return nil
	}

	// No local trade owns this exposure with enough confidence.
	if best != nil {
		if best.ManualVerification {
			return nil // already flagged
		}
		best.ManualVerification = true
		best.SyncIssues = append(best.SyncIssues,
			fmt.Sprintf("venue position %s %.8g matched with confidence %.2f", pos.Symbol, pos.PositionAmt, bestScore))
		if err := a.trades.Update(ctx, best); err != nil {
			return fmt.Errorf("failed to flag candidate trade %d: %w", best.ID, err)
		}
		a.logger.Warn(ctx, "Venue position weakly matched, flagged candidate", map[string]interface{}{
			"symbol": pos.Symbol, "tradeID": best.ID, "confidence": bestScore,
		})
		return nil
	}

	a.logger.Warn(ctx, "Venue position has no local trade", map[string]interface{}{
		"symbol": pos.Symbol, "positionAmt": pos.PositionAmt, "entryPrice": pos.EntryPrice,
	})
	return nil
}

// Confidence scores how likely a local trade owns a venue position:
// symbol 0.5, side 0.3, size proximity 0.2.
func Confidence(pos *ports.PositionRisk, trade *domain.Trade) float64 {
	score := 0.0

	coin := strings.TrimSuffix(pos.Symbol, "USDT")
	if strings.EqualFold(coin, trade.CoinSymbol) {
		score += confidenceSymbol
	}

	positionSide := domain.Long
	if pos.PositionAmt < 0 {
		positionSide = domain.Short
	}
	if positionSide == trade.PositionType {
		score += confidenceSide
	}

	size := pos.PositionAmt
	if size < 0 {
		size = -size
	}
	if size > 0 && trade.PositionSize > 0 {
		diff := size - trade.PositionSize
		if diff < 0 {
			diff = -diff
		}
		if diff/size <= sizeProximity {
			score += confidenceSize
		}
	}
	return score
}
