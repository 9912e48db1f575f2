package binanceclient

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/ports"
)

func hypeFilters() *ports.SymbolFilters {
	return &ports.SymbolFilters{
		Symbol:      "HYPEUSDT",
		Status:      "TRADING",
		StepSize:    0.1,
		TickSize:    0.001,
		MinQty:      0.1,
		MaxQty:      100000,
		MinNotional: 5,
	}
}

// Quantization law: submitted qty is floor(target/step)*step, submitted
// price is floor(price/tick)*tick.
func TestQuantizeFloor(t *testing.T) {
	tests := []struct {
		name  string
		value string
		step  string
		want  string
	}{
		{"already aligned", "3.1", "0.1", "3.1"},
		{"floors remainder", "3.1756", "0.1", "3.1"},
		{"sub-step goes to zero", "0.09", "0.1", "0"},
		{"tick alignment", "32.20456", "0.001", "32.204"},
		{"integer step", "1234.9", "1", "1234"},
		{"zero step passes through", "42.42", "0", "42.42"},
		{"binary-float hostile input", "2.675", "0.001", "2.675"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := quantizeFloor(decimal.RequireFromString(tt.value), decimal.RequireFromString(tt.step))
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestQuantizeRequest(t *testing.T) {
	tests := []struct {
		name      string
		req       ports.OrderRequest
		filters   func() *ports.SymbolFilters
		wantQty   string
		wantPrice string
		wantErr   error
	}{
		{
			name: "limit entry floors qty and price",
			req: ports.OrderRequest{
				Symbol: "HYPEUSDT", Side: domain.Buy, Type: "LIMIT",
				Quantity: 3.1761, Price: 32.2005,
			},
			filters:   hypeFilters,
			wantQty:   "3.1",
			wantPrice: "32.2",
		},
		{
			name: "market close has quantity only",
			req: ports.OrderRequest{
				Symbol: "HYPEUSDT", Side: domain.Sell, Type: "MARKET",
				Quantity: 1.55, ReduceOnly: true,
			},
			filters: hypeFilters,
			wantQty: "1.5",
		},
		{
			name: "qty below minQty rejected",
			req: ports.OrderRequest{
				Symbol: "HYPEUSDT", Side: domain.Buy, Type: "MARKET", Quantity: 0.05,
			},
			filters: hypeFilters,
			wantErr: ports.ErrQtyOutOfBounds,
		},
		{
			name: "notional below minimum rejected",
			req: ports.OrderRequest{
				Symbol: "HYPEUSDT", Side: domain.Buy, Type: "LIMIT",
				Quantity: 0.1, Price: 32.2,
			},
			filters: hypeFilters,
			wantErr: ports.ErrNotionalTooSmall,
		},
		{
			name: "non-trading symbol rejected",
			req: ports.OrderRequest{
				Symbol: "HYPEUSDT", Side: domain.Buy, Type: "MARKET", Quantity: 1,
			},
			filters: func() *ports.SymbolFilters {
				f := hypeFilters()
				f.Status = "SETTLING"
				return f
			},
			wantErr: ports.ErrSymbolUnsupported,
		},
		{
			name: "close position carries no quantity",
			req: ports.OrderRequest{
				Symbol: "HYPEUSDT", Side: domain.Sell, Type: "STOP_MARKET",
				StopPrice: 30.7005, ClosePosition: true,
			},
			filters: hypeFilters,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := quantizeRequest(tt.req, tt.filters())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantQty, got.quantity)
			if tt.wantPrice != "" {
				assert.Equal(t, tt.wantPrice, got.price)
			}
			if tt.req.StopPrice > 0 {
				assert.NotEmpty(t, got.stopPrice)
			}
		})
	}
}

// Scenario from the sizing rule: 101 USDT at mark 31.8 with step 0.1.
func TestQuantizeSizingExample(t *testing.T) {
	filters := hypeFilters()
	target := 101.0 / 31.8 // 3.1761...
	qty := QuantizeQty(target, filters)
	assert.True(t, qty.Equal(decimal.RequireFromString("3.1")))

	// Submitted notional stays above the minimum.
	notional := qty.Mul(decimal.NewFromFloat(31.8))
	assert.True(t, notional.GreaterThanOrEqual(decimal.NewFromFloat(filters.MinNotional)))
}
