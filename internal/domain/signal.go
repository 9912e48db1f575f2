package domain

import "time"

// SignalRecord is one inbound record from the signal source, before it is
// classified as an initial signal or a follow-up alert.
type SignalRecord struct {
	Timestamp  time.Time
	Content    string
	Structured string // optional pipe-delimited structured form
	DiscordID  string
	ParentRef  string // discord_id of the parent trade; non-empty means follow-up
	Trader     string
}

// IsFollowUp reports whether the record references an existing trade.
func (s *SignalRecord) IsFollowUp() bool {
	return s.ParentRef != ""
}

// ParsedSignal is the structured trade idea extracted from an initial
// signal. The free-text parser is pluggable; this is its fixed schema.
type ParsedSignal struct {
	CoinSymbol         string       `json:"coin_symbol"`
	PositionType       PositionType `json:"position_type"`
	EntryPrices        []float64    `json:"entry_prices"`
	StopLoss           *float64     `json:"stop_loss,omitempty"`
	TakeProfits        []float64    `json:"take_profits,omitempty"`
	OrderType          OrderType    `json:"order_type"`
	QuantityMultiplier int          `json:"quantity_multiplier,omitempty"`
}
