package domain

import (
	"fmt"
	"time"
)

// Balance is one venue x account-type x asset balance snapshot.
type Balance struct {
	Platform      Platform
	AccountType   string // e.g. "futures"
	Asset         string
	Free          float64
	Locked        float64
	Total         float64
	UnrealizedPnl float64
	LastUpdated   time.Time
}

// TransactionType classifies a venue income event.
type TransactionType string

const (
	TxRealizedPnl TransactionType = "REALIZED_PNL"
	TxCommission  TransactionType = "COMMISSION"
	TxFundingFee  TransactionType = "FUNDING_FEE"
	TxTransfer    TransactionType = "TRANSFER"
)

// Transaction is one venue income event. Rows are deduplicated on the
// (time, type, amount, asset, symbol) tuple.
type Transaction struct {
	Time   time.Time
	Type   TransactionType
	Amount float64
	Asset  string
	Symbol string
}

// DedupeKey returns the identity tuple used for deduplication.
func (t *Transaction) DedupeKey() string {
	return fmt.Sprintf("%d|%s|%.8f|%s|%s", t.Time.UnixMilli(), t.Type, t.Amount, t.Asset, t.Symbol)
}
