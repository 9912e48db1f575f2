package pricing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrianElionDev/BuyBot/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// priceExchange stubs just the pricing surface of the exchange client.
type priceExchange struct {
	ports.ExchangeClient

	mu         sync.Mutex
	price      float64
	priceCalls int
	filters    *ports.SymbolFilters
}

func (e *priceExchange) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.priceCalls++
	return e.price, nil
}

func (e *priceExchange) GetSymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error) {
	return e.filters, nil
}

func TestPair(t *testing.T) {
	assert.Equal(t, "HYPEUSDT", Pair("HYPE"))
	assert.Equal(t, "BTCUSDT", Pair(" btc "))
}

func TestReferencePriceCaches(t *testing.T) {
	exchange := &priceExchange{price: 31.8}
	svc := New(exchange, nopLogger{}, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		price, err := svc.ReferencePrice(ctx, "HYPEUSDT")
		require.NoError(t, err)
		assert.Equal(t, 31.8, price)
	}
	assert.Equal(t, 1, exchange.priceCalls, "repeated reads within the TTL hit the cache")
}

func TestResolveSymbol(t *testing.T) {
	exchange := &priceExchange{
		filters: &ports.SymbolFilters{Symbol: "HYPEUSDT", Status: "TRADING", StepSize: 0.1},
	}
	svc := New(exchange, nopLogger{}, time.Minute)

	pair, filters, err := svc.ResolveSymbol(context.Background(), "HYPE")
	require.NoError(t, err)
	assert.Equal(t, "HYPEUSDT", pair)
	assert.Equal(t, 0.1, filters.StepSize)

	exchange.filters = &ports.SymbolFilters{Symbol: "HYPEUSDT", Status: "SETTLING"}
	_, _, err = svc.ResolveSymbol(context.Background(), "HYPE")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrSymbolUnsupported)
}

func TestWithinThreshold(t *testing.T) {
	tests := []struct {
		name      string
		signal    float64
		market    float64
		threshold float64
		want      bool
	}{
		{"inside gate", 32.2, 31.8, 0.02, true},
		{"exactly at gate", 102, 100, 0.02, true},
		{"outside gate", 90, 100, 0.02, false},
		{"memecoin override passes", 95, 100, 0.05, true},
		{"zero market price never passes", 10, 0, 0.02, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WithinThreshold(tt.signal, tt.market, tt.threshold))
		})
	}
}
