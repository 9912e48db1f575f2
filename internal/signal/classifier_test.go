package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BrianElionDev/BuyBot/internal/domain"
)

func TestClassifyAlert(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    domain.AlertAction
	}{
		{"stopped out", "ETH stopped out", domain.ActionStopLossHit},
		{"stop loss hit", "stop loss hit on SOL", domain.ActionStopLossHit},
		{"sl hit", "sl hit", domain.ActionStopLossHit},
		{"closed", "position closed in profit", domain.ActionPositionClosed},
		{"tp1 with channel noise", " ETH ⁠\U0001F680｜trades⁠: tp1 hit", domain.ActionTakeProfit1},
		{"tp2", "tp2 hit, fully out", domain.ActionTakeProfit2},
		{"stops moved to be", "stops moved to be", domain.ActionStopLossUpdate},
		{"sl to be", "sl to be after that push", domain.ActionStopLossUpdate},
		{"stopped be prefers update", "stopped be", domain.ActionStopLossUpdate},
		{"stopped breakeven prefers update", "stopped at breakeven", domain.ActionStopLossUpdate},
		{"compound tp1 and be", "tp1 & stops moved to be", domain.ActionTP1AndBreakEven},
		{"limit order cancelled", "limit order cancelled", domain.ActionOrderCancelled},
		{"limit order filled", "limit order filled", domain.ActionLimitOrderFilled},
		{"unknown", "interesting chart pattern here", domain.ActionUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyAlert(tt.content))
		})
	}
}
