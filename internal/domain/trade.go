package domain

import "time"

// TradeStatus is the lifecycle state of a trade row.
type TradeStatus string

const (
	StatusPending         TradeStatus = "PENDING"
	StatusOpen            TradeStatus = "OPEN"
	StatusPartiallyClosed TradeStatus = "PARTIALLY_CLOSED"
	StatusClosed          TradeStatus = "CLOSED"
	StatusFailed          TradeStatus = "FAILED"
	StatusUnfilled        TradeStatus = "UNFILLED"
	StatusCanceled        TradeStatus = "CANCELED"
	StatusExpired         TradeStatus = "EXPIRED"
)

// validTransitions defines the allowed lifecycle transitions between statuses.
var validTransitions = map[TradeStatus][]TradeStatus{
	StatusPending:         {StatusOpen, StatusUnfilled, StatusFailed, StatusCanceled, StatusExpired},
	StatusOpen:            {StatusPartiallyClosed, StatusClosed, StatusCanceled, StatusExpired},
	StatusPartiallyClosed: {StatusClosed},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to TradeStatus) bool {
	if from == to {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status is a final lifecycle state.
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case StatusClosed, StatusFailed, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

// IsActive reports whether the trade has live exposure on the venue.
func (s TradeStatus) IsActive() bool {
	return s == StatusOpen || s == StatusPartiallyClosed
}

// ProtectiveOrderKind distinguishes take-profit from stop-loss orders.
type ProtectiveOrderKind string

const (
	ProtectiveTP ProtectiveOrderKind = "TP"
	ProtectiveSL ProtectiveOrderKind = "SL"
)

// ProtectiveOrder is one TP or SL order installed for a trade.
type ProtectiveOrder struct {
	OrderID      string              `json:"order_id"`
	Kind         ProtectiveOrderKind `json:"kind"`
	TriggerPrice float64             `json:"trigger_price"`
	Level        int                 `json:"level,omitempty"` // TP level (1-based), 0 for SL
}

// Trade is the persistent row tracking a single position lifecycle. One row
// exists per inbound initial signal, keyed externally by DiscordID and bound
// by the millisecond signal timestamp.
type Trade struct {
	ID        int64
	DiscordID string
	Timestamp time.Time // instant the signal was emitted, ms precision
	Trader    string

	// Parsed intent.
	CoinSymbol         string
	PositionType       PositionType
	EntryPrices        []float64 // 1 value, or 2 for a range
	StopLoss           *float64
	TakeProfits        []float64
	OrderType          OrderType
	QuantityMultiplier int // >= 1 when set, 0 means unset
	ParsedSignal       []byte
	SignalType         string

	// Execution state.
	Status                TradeStatus
	ExchangeOrderID       string
	PositionSize          float64
	EntryPrice            float64 // effective entry
	BinanceEntryPrice     float64 // fill price reported by the venue
	ExitPrice             float64
	PnlUSD                *float64
	BinanceResponse       []byte // latest venue payload, stored verbatim
	OriginalOrderResponse []byte // first success payload, write-once
	OrderStatusResponse   []byte // latest status-probe payload
	TPSLOrders            []ProtectiveOrder
	SyncErrorCount        int
	SyncIssues            []string
	ManualVerification    bool

	// Merge bookkeeping.
	MergedIntoTradeID *int64
	MergeReason       string
	MergedAt          *time.Time

	// Timestamps. CreatedAt and ClosedAt are write-once (set via
	// compare-and-swap against null in the repository); UpdatedAt is free.
	CreatedAt *time.Time
	ClosedAt  *time.Time
	UpdatedAt time.Time
}

// Pair returns the venue trading pair for the trade's coin symbol.
func (t *Trade) Pair() string {
	return t.CoinSymbol + "USDT"
}

// SignalEntryPrice returns the price the signal asks to enter at. For a
// range the bound closest to triggering first is used: the upper bound for
// longs, the lower bound for shorts.
func (t *Trade) SignalEntryPrice() float64 {
	if len(t.EntryPrices) == 0 {
		return 0
	}
	best := t.EntryPrices[0]
	for _, p := range t.EntryPrices[1:] {
		if (t.PositionType == Long && p > best) || (t.PositionType == Short && p < best) {
			best = p
		}
	}
	return best
}
