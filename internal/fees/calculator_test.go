package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrianElionDev/BuyBot/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTradingFee(t *testing.T) {
	tests := []struct {
		name      string
		calc      *Calculator
		notional  string
		orderType domain.OrderType
		want      string
	}{
		{
			name:      "fixed 2bps on 101 USDT",
			calc:      New(ModeFixed),
			notional:  "101",
			orderType: domain.OrderTypeMarket,
			want:      "0.0202",
		},
		{
			name:      "fixed 5bps on 101 USDT",
			calc:      New(ModeFixed, WithFixedRate(FixedRate05)),
			notional:  "101",
			orderType: domain.OrderTypeMarket,
			want:      "0.0505",
		},
		{
			name:      "tiered taker on market order",
			calc:      New(ModeTiered),
			notional:  "1000",
			orderType: domain.OrderTypeMarket,
			want:      "0.5",
		},
		{
			name:      "tiered maker on limit order",
			calc:      New(ModeTiered),
			notional:  "1000",
			orderType: domain.OrderTypeLimit,
			want:      "0.2",
		},
		{
			name:      "tiered taker with BNB discount",
			calc:      New(ModeTiered, WithBNBDiscount(true)),
			notional:  "1000",
			orderType: domain.OrderTypeMarket,
			want:      "0.45",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.calc.TradingFee(d(tt.notional), tt.orderType)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestTotalFeeIsTwiceSingle(t *testing.T) {
	calc := New(ModeFixed)
	notional := d("250.5")
	single := calc.TradingFee(notional, domain.OrderTypeMarket)
	total := calc.TotalFee(notional, domain.OrderTypeMarket)
	assert.True(t, total.Equal(single.Mul(decimal.NewFromInt(2))))
}

// Fee round-trip consistency: exiting exactly at breakeven nets zero PnL
// within 1e-8 once both fees are paid.
func TestBreakevenRoundTrip(t *testing.T) {
	tolerance := d("0.00000001")

	tests := []struct {
		name     string
		calc     *Calculator
		entry    string
		qty      string
		position domain.PositionType
	}{
		{"long fixed 2bps", New(ModeFixed), "31.8", "3.1", domain.Long},
		{"short fixed 2bps", New(ModeFixed), "31.8", "3.1", domain.Short},
		{"long fixed 5bps", New(ModeFixed, WithFixedRate(FixedRate05)), "104000", "0.002", domain.Long},
		{"long tiered taker", New(ModeTiered), "0.2345", "430", domain.Long},
		{"short tiered bnb", New(ModeTiered, WithBNBDiscount(true)), "2611.42", "0.038", domain.Short},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, qty := d(tt.entry), d(tt.qty)
			be := tt.calc.Breakeven(entry, tt.position, domain.OrderTypeMarket)

			// Gross PnL at the breakeven exit.
			gross := be.Sub(entry).Mul(qty)
			if tt.position == domain.Short {
				gross = entry.Sub(be).Mul(qty)
			}

			// Fees are charged on the entry notional at both ends.
			fees := tt.calc.TotalFee(entry.Mul(qty), domain.OrderTypeMarket)

			net := gross.Sub(fees).Abs()
			// Quantization of the breakeven price itself contributes up to
			// half a unit in the last place per quantity unit.
			bound := tolerance.Mul(qty).Add(tolerance)
			assert.True(t, net.LessThanOrEqual(bound), "net pnl at breakeven = %s", net)
		})
	}
}

func TestBreakevenDirection(t *testing.T) {
	calc := New(ModeFixed)
	entry := d("100")

	long := calc.Breakeven(entry, domain.Long, domain.OrderTypeMarket)
	short := calc.Breakeven(entry, domain.Short, domain.OrderTypeMarket)

	assert.True(t, long.GreaterThan(entry), "long breakeven must sit above entry")
	assert.True(t, short.LessThan(entry), "short breakeven must sit below entry")
	assert.True(t, long.Equal(d("100.04")))
	assert.True(t, short.Equal(d("99.96")))
}

func TestWeightedEntry(t *testing.T) {
	tests := []struct {
		name    string
		prices  []string
		qtys    []string
		want    string
		wantErr bool
	}{
		{
			name:   "two equal fills",
			prices: []string{"32.2", "31.5"},
			qtys:   []string{"1", "1"},
			want:   "31.85",
		},
		{
			name:   "weighted toward larger fill",
			prices: []string{"100", "110"},
			qtys:   []string{"3", "1"},
			want:   "102.5",
		},
		{
			name:   "single fill",
			prices: []string{"0.1234"},
			qtys:   []string{"5000"},
			want:   "0.1234",
		},
		{
			name:    "mismatched lengths",
			prices:  []string{"1", "2"},
			qtys:    []string{"1"},
			wantErr: true,
		},
		{
			name:    "zero quantity",
			prices:  []string{"1"},
			qtys:    []string{"0"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prices := make([]decimal.Decimal, len(tt.prices))
			for i, p := range tt.prices {
				prices[i] = d(p)
			}
			qtys := make([]decimal.Decimal, len(tt.qtys))
			for i, q := range tt.qtys {
				qtys[i] = d(q)
			}

			got, err := WeightedEntry(prices, qtys)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

// Both modes must be deterministic: identical inputs produce identical
// outputs on repeated calls.
func TestDeterminism(t *testing.T) {
	for _, calc := range []*Calculator{New(ModeFixed), New(ModeTiered, WithBNBDiscount(true))} {
		first := calc.PreviewRoundTrip(d("31.8"), d("3.1"), domain.Long, domain.OrderTypeLimit)
		for i := 0; i < 10; i++ {
			again := calc.PreviewRoundTrip(d("31.8"), d("3.1"), domain.Long, domain.OrderTypeLimit)
			assert.True(t, first.TotalFee.Equal(again.TotalFee))
			assert.True(t, first.Breakeven.Equal(again.Breakeven))
		}
	}
}

func TestPreviewRoundTrip(t *testing.T) {
	calc := New(ModeFixed)
	p := calc.PreviewRoundTrip(d("31.8"), d("3.1"), domain.Long, domain.OrderTypeLimit)

	assert.True(t, p.Notional.Equal(d("98.58")))
	assert.True(t, p.SingleFee.Equal(d("0.019716")))
	assert.True(t, p.TotalFee.Equal(d("0.039432")))
	assert.True(t, p.EffectiveRate.Equal(FixedRate02))
}
