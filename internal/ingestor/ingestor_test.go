package ingestor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/ports"
)

func openTrade() *domain.Trade {
	created := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Trade{
		ID:           1,
		CoinSymbol:   "HYPE",
		PositionType: domain.Long,
		Status:       domain.StatusOpen,
		PositionSize: 3.1,
		EntryPrice:   31.8,
		CreatedAt:    &created,
	}
}

func TestApplyEventEntryFill(t *testing.T) {
	trade := &domain.Trade{
		ID: 1, CoinSymbol: "HYPE", PositionType: domain.Long,
		Status: domain.StatusPending,
	}
	eventTime := time.Date(2025, 8, 1, 12, 31, 0, 500_000_000, time.UTC)

	err := ApplyEvent(trade, &ports.UserDataEvent{
		EventTime: eventTime,
		Symbol:    "HYPEUSDT",
		OrderID:   12345,
		Side:      "BUY",
		Status:    "FILLED",
		FilledQty: 3.1,
		AvgPrice:  31.79,
		Raw:       []byte(`{"e":"ORDER_TRADE_UPDATE"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusOpen, trade.Status)
	assert.Equal(t, 3.1, trade.PositionSize)
	assert.Equal(t, 31.79, trade.EntryPrice)
	require.NotNil(t, trade.CreatedAt)
	assert.Equal(t, eventTime, *trade.CreatedAt)
}

// created_at is check-and-set: a second fill event must not move it.
func TestApplyEventCreatedAtWriteOnce(t *testing.T) {
	trade := openTrade()
	original := *trade.CreatedAt

	err := ApplyEvent(trade, &ports.UserDataEvent{
		EventTime: original.Add(time.Hour),
		Side:      "BUY",
		Status:    "FILLED",
		FilledQty: 3.1,
		AvgPrice:  31.9,
	})
	require.NoError(t, err)
	assert.Equal(t, original, *trade.CreatedAt)
}

func TestApplyEventExitFillCloses(t *testing.T) {
	trade := openTrade()
	exitTime := time.Date(2025, 8, 1, 14, 0, 0, 0, time.UTC)

	err := ApplyEvent(trade, &ports.UserDataEvent{
		EventTime:   exitTime,
		Side:        "SELL",
		Status:      "FILLED",
		ReduceOnly:  true,
		FilledQty:   3.1,
		AvgPrice:    33.0,
		RealizedPnl: 3.72,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusClosed, trade.Status)
	assert.Equal(t, 0.0, trade.PositionSize)
	assert.Equal(t, 33.0, trade.ExitPrice)
	require.NotNil(t, trade.PnlUSD)
	assert.Equal(t, 3.72, *trade.PnlUSD)
	require.NotNil(t, trade.ClosedAt)
	assert.Equal(t, exitTime, *trade.ClosedAt)

	// Invariant: closed_at non-null implies CLOSED.
	assert.Equal(t, domain.StatusClosed, trade.Status)
}

func TestApplyEventPartialExit(t *testing.T) {
	trade := openTrade()

	err := ApplyEvent(trade, &ports.UserDataEvent{
		EventTime:  time.Now().UTC(),
		Side:       "SELL",
		Status:     "FILLED",
		ReduceOnly: true,
		FilledQty:  1.55,
		AvgPrice:   33.0,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPartiallyClosed, trade.Status)
	assert.InDelta(t, 1.55, trade.PositionSize, 1e-9)
	assert.Nil(t, trade.ClosedAt, "partial close must not stamp closed_at")
}

func TestApplyEventClosedAtWriteOnce(t *testing.T) {
	trade := openTrade()
	first := time.Date(2025, 8, 1, 14, 0, 0, 0, time.UTC)

	require.NoError(t, ApplyEvent(trade, &ports.UserDataEvent{
		EventTime: first, Side: "SELL", Status: "FILLED", ReduceOnly: true,
		FilledQty: 3.1, AvgPrice: 33.0,
	}))
	require.NotNil(t, trade.ClosedAt)

	// A duplicate close event keeps the first closed_at.
	trade.PositionSize = 0
	trade.Status = domain.StatusClosed
	_ = ApplyEvent(trade, &ports.UserDataEvent{
		EventTime: first.Add(time.Hour), Side: "SELL", Status: "FILLED", ReduceOnly: true,
		FilledQty: 3.1, AvgPrice: 33.1,
	})
	assert.Equal(t, first, *trade.ClosedAt)
}

func TestApplyEventCancelWithoutFills(t *testing.T) {
	trade := &domain.Trade{
		ID: 1, CoinSymbol: "HYPE", PositionType: domain.Long,
		Status: domain.StatusPending,
	}

	err := ApplyEvent(trade, &ports.UserDataEvent{
		EventTime: time.Now().UTC(),
		Side:      "BUY",
		Status:    "CANCELED",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, trade.Status)
}

// A cancel that arrives after fills must not erase the live status.
func TestApplyEventCancelAfterFillsIgnored(t *testing.T) {
	trade := openTrade()

	err := ApplyEvent(trade, &ports.UserDataEvent{
		EventTime: time.Now().UTC(),
		Side:      "BUY",
		Status:    "CANCELED",
		FilledQty: 3.1,
	})
	require.Error(t, err)
	assert.Equal(t, domain.StatusOpen, trade.Status)
}

func TestApplyEventExpired(t *testing.T) {
	trade := &domain.Trade{
		ID: 1, CoinSymbol: "HYPE", PositionType: domain.Long,
		Status: domain.StatusPending,
	}
	require.NoError(t, ApplyEvent(trade, &ports.UserDataEvent{
		EventTime: time.Now().UTC(),
		Status:    "EXPIRED",
	}))
	assert.Equal(t, domain.StatusExpired, trade.Status)
}
