package signal

import (
	"strings"

	"github.com/BrianElionDev/BuyBot/internal/domain"
)

// beWindow is how many characters after a "stop" mention a breakeven
// marker may appear and still rebind the alert to a stop-loss update.
const beWindow = 24

// ClassifyAlert maps follow-up alert content to a structured action using
// keyword matching. The classifier is deliberately not a language model:
// the alert vocabulary is small and stable.
func ClassifyAlert(content string) domain.AlertAction {
	text := strings.ToLower(content)

	tp1 := containsAny(text, "tp1", "take profit 1", "first target hit")
	moveToBE := containsAny(text,
		"stops moved to be", "stop moved to be", "sl to be", "stops to be", "sl moved to be")

	// Compound first: "tp1 & stops moved to be" carries both actions.
	if tp1 && moveToBE {
		return domain.ActionTP1AndBreakEven
	}
	if moveToBE {
		return domain.ActionStopLossUpdate
	}

	// "stopped out" vs "stopped be": a breakeven marker within a small
	// window of the stop mention wins, the position is still open.
	if idx := indexAny(text, "stopped", "stop loss", "sl hit"); idx >= 0 {
		tail := text[idx:]
		if len(tail) > beWindow {
			tail = tail[:beWindow]
		}
		if containsAny(tail, " be", "breakeven", "break even") {
			return domain.ActionStopLossUpdate
		}
		if containsAny(text, "stopped out", "stop loss", "sl hit") {
			return domain.ActionStopLossHit
		}
	}

	if containsAny(text, "limit order cancelled", "limit order canceled", "order cancelled", "order canceled") {
		return domain.ActionOrderCancelled
	}
	if containsAny(text, "limit order filled") {
		return domain.ActionLimitOrderFilled
	}
	if containsAny(text, "limit order not filled") {
		return domain.ActionLimitOrderNotFilled
	}
	if containsAny(text, "tp2", "take profit 2", "second target hit") {
		return domain.ActionTakeProfit2
	}
	if tp1 {
		return domain.ActionTakeProfit1
	}
	if strings.Contains(text, "closed") {
		return domain.ActionPositionClosed
	}

	return domain.ActionUnknown
}

func containsAny(text string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

func indexAny(text string, subs ...string) int {
	best := -1
	for _, s := range subs {
		if idx := strings.Index(text, s); idx >= 0 && (best < 0 || idx < best) {
			best = idx
		}
	}
	return best
}
