package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BrianElionDev/BuyBot/internal/ports"
)

// filterCache caches per-symbol tradability filters with a TTL. Reads
// share a read lock; refreshes are serialized through a single
// writer. Refresh is lazy on miss/expiry and eager when the venue reports
// an unknown symbol.
type filterCache struct {
	client *Client
	ttl    time.Duration

	mu        sync.RWMutex
	bySymbol  map[string]*ports.SymbolFilters
	fetchedAt time.Time
}

func newFilterCache(client *Client, ttl time.Duration) *filterCache {
	return &filterCache{
		client:   client,
		ttl:      ttl,
		bySymbol: make(map[string]*ports.SymbolFilters),
	}
}

// GetSymbolFilters returns cached tradability filters for a symbol,
// refreshing the whole exchange-info snapshot on miss or expiry.
func (c *Client) GetSymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error) {
	if f := c.filters.lookup(symbol); f != nil {
		return f, nil
	}

	if err := c.filters.refresh(ctx); err != nil {
		return nil, err
	}

	if f := c.filters.lookup(symbol); f != nil {
		return f, nil
	}
	return nil, fmt.Errorf("symbol %s not found in exchange info: %w", symbol, ports.ErrSymbolUnsupported)
}

func (fc *filterCache) lookup(symbol string) *ports.SymbolFilters {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	if time.Since(fc.fetchedAt) > fc.ttl {
		return nil
	}
	return fc.bySymbol[symbol]
}

func (fc *filterCache) refresh(ctx context.Context) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if time.Since(fc.fetchedAt) <= fc.ttl && len(fc.bySymbol) > 0 {
		return nil
	}

	op := "GetExchangeInfo"
	var info map[string]*ports.SymbolFilters
	err := fc.client.call(ctx, op, func(ctx context.Context) error {
		res, err := fc.client.futuresClient.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return err
		}
		info = make(map[string]*ports.SymbolFilters, len(res.Symbols))
		for _, s := range res.Symbols {
			f := &ports.SymbolFilters{
				Symbol:            s.Symbol,
				Status:            s.Status,
				PricePrecision:    s.PricePrecision,
				QuantityPrecision: s.QuantityPrecision,
			}
			if lot := s.LotSizeFilter(); lot != nil {
				f.StepSize, _ = strconv.ParseFloat(lot.StepSize, 64)
				f.MinQty, _ = strconv.ParseFloat(lot.MinQuantity, 64)
				f.MaxQty, _ = strconv.ParseFloat(lot.MaxQuantity, 64)
			}
			if pf := s.PriceFilter(); pf != nil {
				f.TickSize, _ = strconv.ParseFloat(pf.TickSize, 64)
			}
			if mn := s.MinNotionalFilter(); mn != nil {
				f.MinNotional, _ = strconv.ParseFloat(mn.Notional, 64)
			}
			info[s.Symbol] = f
		}
		return nil
	})
	if err != nil {
		return err
	}

	fc.bySymbol = info
	fc.fetchedAt = time.Now()
	fc.client.logger.Debug(ctx, "Symbol filter cache refreshed", map[string]interface{}{"symbols": len(info)})
	return nil
}

// invalidate drops the cache so the next lookup refetches. Used when the
// venue rejects a symbol the cache believed it knew.
func (fc *filterCache) invalidate() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.fetchedAt = time.Time{}
}

// quantized holds the string-formatted, filter-clamped order parameters.
type quantized struct {
	quantity  string
	price     string
	stopPrice string
}

var errNoFilters = errors.New("symbol filters unavailable")

// QuantizeQty floors a quantity to the symbol's step size.
func QuantizeQty(qty float64, filters *ports.SymbolFilters) decimal.Decimal {
	return quantizeFloor(decimal.NewFromFloat(qty), decimal.NewFromFloat(filters.StepSize))
}

// QuantizePrice floors a price to the symbol's tick size.
func QuantizePrice(price float64, filters *ports.SymbolFilters) decimal.Decimal {
	return quantizeFloor(decimal.NewFromFloat(price), decimal.NewFromFloat(filters.TickSize))
}

// quantizeFloor truncates value down to an integer multiple of step:
// floor(value / step) * step. A zero step passes the value through.
func quantizeFloor(value, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}

// quantizeRequest validates an order request against the symbol filters and
// produces floor-quantized string parameters for submission.
func quantizeRequest(req ports.OrderRequest, filters *ports.SymbolFilters) (quantized, error) {
	if filters == nil {
		return quantized{}, errNoFilters
	}
	if !filters.IsTrading() {
		return quantized{}, fmt.Errorf("symbol %s has status %s: %w", filters.Symbol, filters.Status, ports.ErrSymbolUnsupported)
	}

	var q quantized

	// closePosition orders carry no quantity.
	if !req.ClosePosition {
		qty := QuantizeQty(req.Quantity, filters)
		if qty.LessThan(decimal.NewFromFloat(filters.MinQty)) || qty.IsZero() {
			return quantized{}, fmt.Errorf("quantized qty %s below minQty %v for %s: %w", qty, filters.MinQty, filters.Symbol, ports.ErrQtyOutOfBounds)
		}
		if filters.MaxQty > 0 && qty.GreaterThan(decimal.NewFromFloat(filters.MaxQty)) {
			return quantized{}, fmt.Errorf("quantized qty %s above maxQty %v for %s: %w", qty, filters.MaxQty, filters.Symbol, ports.ErrQtyOutOfBounds)
		}

		// The notional check applies against the order's effective price:
		// the limit price when present, otherwise the stop trigger. Pure
		// market orders are checked by the venue at execution.
		refPrice := req.Price
		if refPrice == 0 {
			refPrice = req.StopPrice
		}
		if refPrice > 0 && filters.MinNotional > 0 && !req.ReduceOnly {
			notional := qty.Mul(QuantizePrice(refPrice, filters))
			if notional.LessThan(decimal.NewFromFloat(filters.MinNotional)) {
				return quantized{}, fmt.Errorf("notional %s below minNotional %v for %s: %w", notional, filters.MinNotional, filters.Symbol, ports.ErrNotionalTooSmall)
			}
		}
		q.quantity = qty.String()
	}

	if req.Price > 0 {
		q.price = QuantizePrice(req.Price, filters).String()
	}
	if req.StopPrice > 0 {
		q.stopPrice = QuantizePrice(req.StopPrice, filters).String()
	}
	return q, nil
}
