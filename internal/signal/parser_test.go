package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrianElionDev/BuyBot/internal/domain"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 8, 1, 12, 30, 45, 123_000_000, time.UTC)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"with trailing Z", "2025-08-01T12:30:45.123Z", false},
		{"without Z", "2025-08-01T12:30:45.123", false},
		{"space separated", "2025-08-01 12:30:45.123", false},
		{"garbage", "yesterday lunchtime", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, want.UnixMilli(), got.UnixMilli())
		})
	}

	// Z and non-Z forms of the same instant bind identically.
	withZ, err := ParseTimestamp("2025-08-01T12:30:45.123Z")
	require.NoError(t, err)
	withoutZ, err := ParseTimestamp("2025-08-01T12:30:45.123")
	require.NoError(t, err)
	assert.Equal(t, withZ, withoutZ)
}

func TestParseStructured(t *testing.T) {
	tests := []struct {
		name       string
		structured string
		want       *domain.ParsedSignal
		wantErr    bool
	}{
		{
			name:       "limit long with entry range and SL",
			structured: "LIMIT|HYPE|Entry:|32.2-31.5|SL:|30.7",
			want: &domain.ParsedSignal{
				CoinSymbol:   "HYPE",
				PositionType: domain.Long,
				EntryPrices:  []float64{32.2, 31.5},
				StopLoss:     floatPtr(30.7),
				OrderType:    domain.OrderTypeLimit,
			},
		},
		{
			name:       "market short inferred from SL above entry",
			structured: "MARKET|ETH|Entry:|2600|SL:|2700",
			want: &domain.ParsedSignal{
				CoinSymbol:   "ETH",
				PositionType: domain.Short,
				EntryPrices:  []float64{2600},
				StopLoss:     floatPtr(2700),
				OrderType:    domain.OrderTypeMarket,
			},
		},
		{
			name:       "with take profits and multiplier",
			structured: "LIMIT|PEPE|Entry:|0.00001|TP:|0.000012|X:|1000",
			want: &domain.ParsedSignal{
				CoinSymbol:         "PEPE",
				PositionType:       domain.Long,
				EntryPrices:        []float64{0.00001},
				TakeProfits:        []float64{0.000012},
				OrderType:          domain.OrderTypeLimit,
				QuantityMultiplier: 1000,
			},
		},
		{name: "unknown order type", structured: "YOLO|HYPE|Entry:|32.2", wantErr: true},
		{name: "no entries", structured: "LIMIT|HYPE|SL:|30.7", wantErr: true},
		{name: "too few segments", structured: "LIMIT", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStructured(tt.structured)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseContent(t *testing.T) {
	got, err := ParseContent("HYPE long 32.2-31.5 SL 30.7")
	require.NoError(t, err)
	assert.Equal(t, "HYPE", got.CoinSymbol)
	assert.Equal(t, domain.Long, got.PositionType)
	assert.Equal(t, []float64{32.2, 31.5}, got.EntryPrices)
	require.NotNil(t, got.StopLoss)
	assert.Equal(t, 30.7, *got.StopLoss)

	got, err = ParseContent("ETH short 2600 SL 2700 TP 2500 2400")
	require.NoError(t, err)
	assert.Equal(t, domain.Short, got.PositionType)
	assert.Equal(t, []float64{2500, 2400}, got.TakeProfits)

	_, err = ParseContent("good morning everyone")
	require.Error(t, err)
}

func floatPtr(f float64) *float64 { return &f }
