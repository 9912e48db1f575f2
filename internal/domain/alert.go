package domain

import "time"

// AlertAction is the structured action extracted from a follow-up alert.
type AlertAction string

const (
	ActionStopLossHit         AlertAction = "stop_loss_hit"
	ActionPositionClosed      AlertAction = "position_closed"
	ActionTakeProfit1         AlertAction = "take_profit_1"
	ActionTakeProfit2         AlertAction = "take_profit_2"
	ActionStopLossUpdate      AlertAction = "stop_loss_update"
	ActionOrderCancelled      AlertAction = "order_cancelled"
	ActionTP1AndBreakEven     AlertAction = "tp1_and_break_even"
	ActionLimitOrderFilled    AlertAction = "limit_order_filled"
	ActionLimitOrderNotFilled AlertAction = "limit_order_not_filled"
	ActionUnknown             AlertAction = "unknown"
)

// AlertStatus records how the follow-up was handled.
type AlertStatus string

const (
	AlertReceived AlertStatus = "received"
	AlertParsed   AlertStatus = "parsed"
	AlertApplied  AlertStatus = "applied"
	AlertSkipped  AlertStatus = "skipped"
	AlertFailed   AlertStatus = "failed"
)

// Alert is the persistent row tracking one follow-up action bound to a
// trade. Failures are recorded but the row is retained.
type Alert struct {
	ID              int64
	DiscordID       string
	ParentDiscordID string // discord_id of the trade this alert acts on
	Timestamp       time.Time
	Content         string
	Trader          string
	ParsedAction    AlertAction
	Status          AlertStatus
	StatusDetail    string // e.g. "skipped - no open position"
	BinanceResponse []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
