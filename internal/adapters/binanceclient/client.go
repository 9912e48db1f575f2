package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// Aggregate outbound budget across all REST calls.
	outboundPerSecond = 10
)

// Client implements the ports.ExchangeClient interface for Binance USDS-M
// futures using the go-binance library.
type Client struct {
	futuresClient  *futures.Client
	logger         ports.Logger
	filters        *filterCache
	limiter        *rate.Limiter
	requestTimeout time.Duration
	retryAttempts  int
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey         string
	SecretKey      string
	UseTestnet     bool
	Logger         ports.Logger
	RequestTimeout time.Duration // per-request timeout (e.g. 10s)
	RetryAttempts  int           // attempts per call for transient failures
	FilterCacheTTL time.Duration // symbol-filter cache TTL (e.g. 1h)
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	retryAttempts := cfg.RetryAttempts
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	filterTTL := cfg.FilterCacheTTL
	if filterTTL <= 0 {
		filterTTL = time.Hour
	}

	c := &Client{
		futuresClient:  client,
		logger:         cfg.Logger,
		limiter:        rate.NewLimiter(rate.Limit(outboundPerSecond), outboundPerSecond),
		requestTimeout: requestTimeout,
		retryAttempts:  retryAttempts,
	}
	c.filters = newFilterCache(c, filterTTL)
	return c, nil
}

// Platform identifies the venue behind this client.
func (c *Client) Platform() domain.Platform {
	return domain.PlatformBinance
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003, -1015: // Too many requests / too many orders
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1111, -4003: // Precision over maximum / qty not within range
			mappedErr = ports.ErrQtyOutOfBounds
		case -1121: // Invalid symbol
			mappedErr = ports.ErrSymbolUnsupported
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014: // API-key format invalid
			mappedErr = ports.ErrInvalidAPIKeys
		case -2015: // Invalid API-key, IP, or permissions for action
			mappedErr = ports.ErrInvalidAPIKeys
		case -2019, -3005, -3041: // Margin / balance insufficient
			mappedErr = ports.ErrInsufficientMargin
		case -2021: // Order would immediately trigger
			mappedErr = ports.ErrWouldImmediatelyTrigger
		case -4014: // Price not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4015: // Leverage is not valid
			mappedErr = ports.ErrInvalidRequest
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		case -4164: // Notional below minimum
			mappedErr = ports.ErrNotionalTooSmall
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// call runs one venue request under the outbound limiter, a per-request
// timeout and the transient-retry budget. Rate-limit responses pause and
// retry with exponential backoff (base 2s, cap 60s, jitter) instead of
// consuming a retry attempt.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	rateBackoff := &backoff.Backoff{Min: 2 * time.Second, Max: 60 * time.Second, Factor: 2, Jitter: true}

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; {
		if err := c.limiter.Wait(ctx); err != nil {
			return c.handleError(ctx, err, op)
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		err := fn(reqCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		translated := c.handleError(ctx, err, op)
		switch {
		case errors.Is(translated, ports.ErrRateLimited):
			d := rateBackoff.Duration()
			c.logger.Warn(ctx, "Rate limited by venue, pausing", map[string]interface{}{"operation": op, "pause": d.String()})
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return c.handleError(ctx, ctx.Err(), op)
			}
			continue // does not consume an attempt
		case errors.Is(translated, ports.ErrTimeout), errors.Is(translated, ports.ErrConnectionFailed), errors.Is(translated, ports.ErrExchangeUnavailable):
			attempt++
			if attempt < c.retryAttempts {
				d := time.Duration(1<<uint(attempt)) * time.Second
				select {
				case <-time.After(d):
				case <-ctx.Done():
					return c.handleError(ctx, ctx.Err(), op)
				}
				continue
			}
			return translated
		default:
			return translated
		}
	}
	return c.handleError(ctx, lastErr, op)
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	return c.call(ctx, op, func(ctx context.Context) error {
		_, err := c.futuresClient.NewSetServerTimeService().Do(ctx)
		return err
	})
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	return c.call(ctx, op, func(ctx context.Context) error {
		return c.futuresClient.NewPingService().Do(ctx)
	})
}

// GetMarkPrice retrieves the current mark price for a given symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetMarkPrice"
	var price float64
	err := c.call(ctx, op, func(ctx context.Context) error {
		tickers, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		if len(tickers) == 0 {
			return fmt.Errorf("no price data returned for symbol %s", symbol)
		}
		price, err = strconv.ParseFloat(tickers[0].MarkPrice, 64)
		if err != nil {
			return fmt.Errorf("could not parse price '%s': %w", tickers[0].MarkPrice, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return price, nil
}

// GetOrderBookTop retrieves the best bid and ask for a symbol.
func (c *Client) GetOrderBookTop(ctx context.Context, symbol string) (*ports.BookTop, error) {
	op := "GetOrderBookTop"
	var top *ports.BookTop
	err := c.call(ctx, op, func(ctx context.Context) error {
		books, err := c.futuresClient.NewListBookTickersService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		if len(books) == 0 {
			return fmt.Errorf("no book ticker returned for symbol %s", symbol)
		}
		b := books[0]
		bidPrice, _ := strconv.ParseFloat(b.BidPrice, 64)
		bidQty, _ := strconv.ParseFloat(b.BidQuantity, 64)
		askPrice, _ := strconv.ParseFloat(b.AskPrice, 64)
		askQty, _ := strconv.ParseFloat(b.AskQuantity, 64)
		top = &ports.BookTop{Symbol: b.Symbol, BidPrice: bidPrice, BidQty: bidQty, AskPrice: askPrice, AskQty: askQty}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return top, nil
}

// CreateOrder validates the request against the symbol filters, quantizes
// quantity and prices with floor semantics, and submits the order.
func (c *Client) CreateOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	op := "CreateOrder"

	filters, err := c.GetSymbolFilters(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	quantized, err := quantizeRequest(req, filters)
	if err != nil {
		return nil, fmt.Errorf("%s rejected: %w", op, err)
	}

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type))
	if quantized.quantity != "" {
		svc = svc.Quantity(quantized.quantity)
	}
	if quantized.price != "" {
		svc = svc.Price(quantized.price).TimeInForce(futures.TimeInForceTypeGTC)
	}
	if quantized.stopPrice != "" {
		svc = svc.StopPrice(quantized.stopPrice)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.ClosePosition {
		svc = svc.ClosePosition(true)
	}
	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = "bb-" + uuid.NewString()[:18]
	}
	svc = svc.NewClientOrderID(clientOrderID)

	var resp *ports.OrderResponse
	err = c.call(ctx, op, func(ctx context.Context) error {
		order, err := svc.Do(ctx)
		if err != nil {
			return err
		}
		resp = translateOrderResponse(order)
		return nil
	})
	if err != nil {
		// An unknown-symbol rejection means the cached snapshot is stale.
		if errors.Is(err, ports.ErrSymbolUnsupported) {
			c.filters.invalidate()
		}
		return nil, err
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "type": req.Type,
		"quantity": quantized.quantity, "price": quantized.price, "stopPrice": quantized.stopPrice,
		"orderID": resp.OrderID, "status": resp.Status,
	})
	return resp, nil
}

// CancelOrder cancels an open order on Binance.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	op := "CancelOrder"
	var resp *ports.OrderResponse
	err := c.call(ctx, op, func(ctx context.Context) error {
		res, err := c.futuresClient.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
		if err != nil {
			return err
		}
		resp = translateCancelResponse(res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": resp.Status})
	return resp, nil
}

// CancelAllOrders cancels every open order for a symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	op := "CancelAllOrders"
	return c.call(ctx, op, func(ctx context.Context) error {
		return c.futuresClient.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
	})
}

// GetOrderStatus queries the current state of an order. The result is a
// probe record: it is never merged into a placement response.
func (c *Client) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	op := "GetOrderStatus"
	var resp *ports.OrderResponse
	err := c.call(ctx, op, func(ctx context.Context) error {
		order, err := c.futuresClient.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
		if err != nil {
			return err
		}
		resp = translateQueryResponse(order)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetOpenOrders lists all open orders, optionally filtered by symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]*ports.OrderResponse, error) {
	op := "GetOpenOrders"
	var out []*ports.OrderResponse
	err := c.call(ctx, op, func(ctx context.Context) error {
		svc := c.futuresClient.NewListOpenOrdersService()
		if symbol != "" {
			svc = svc.Symbol(symbol)
		}
		orders, err := svc.Do(ctx)
		if err != nil {
			return err
		}
		out = make([]*ports.OrderResponse, 0, len(orders))
		for _, o := range orders {
			out = append(out, translateQueryResponse(o))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetPositionRisk retrieves the open position for a symbol, or nil when
// there is none.
func (c *Client) GetPositionRisk(ctx context.Context, symbol string) (*ports.PositionRisk, error) {
	op := "GetPositionRisk"
	var out *ports.PositionRisk
	err := c.call(ctx, op, func(ctx context.Context) error {
		positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		for _, pos := range positions {
			qty, _ := strconv.ParseFloat(pos.PositionAmt, 64)
			if qty != 0 {
				out = translatePositionRisk(pos)
				return nil
			}
		}
		return nil // No live position is a valid outcome
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetAllPositionRisk retrieves every non-zero open position.
func (c *Client) GetAllPositionRisk(ctx context.Context) ([]*ports.PositionRisk, error) {
	op := "GetAllPositionRisk"
	var out []*ports.PositionRisk
	err := c.call(ctx, op, func(ctx context.Context) error {
		positions, err := c.futuresClient.NewGetPositionRiskService().Do(ctx)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, pos := range positions {
			qty, _ := strconv.ParseFloat(pos.PositionAmt, 64)
			if qty != 0 {
				out = append(out, translatePositionRisk(pos))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ChangeLeverage sets the leverage for a specific symbol.
func (c *Client) ChangeLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "ChangeLeverage"
	err := c.call(ctx, op, func(ctx context.Context) error {
		_, err := c.futuresClient.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
		return err
	})
	if err != nil {
		return err
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// ChangePositionTPSLMode is a no-op on Binance USDS-M: protective orders
// placed with closePosition=true already behave as position-mode TP/SL.
func (c *Client) ChangePositionTPSLMode(ctx context.Context, symbol string, enabled bool) error {
	return nil
}

// GetIncome retrieves account income records within a time range.
func (c *Client) GetIncome(ctx context.Context, symbol string, start, end time.Time) ([]*ports.Income, error) {
	op := "GetIncome"
	var out []*ports.Income
	err := c.call(ctx, op, func(ctx context.Context) error {
		svc := c.futuresClient.NewGetIncomeHistoryService().
			StartTime(start.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(1000)
		if symbol != "" {
			svc = svc.Symbol(symbol)
		}
		incomes, err := svc.Do(ctx)
		if err != nil {
			return err
		}
		out = make([]*ports.Income, 0, len(incomes))
		for _, in := range incomes {
			amount, _ := strconv.ParseFloat(in.Income, 64)
			out = append(out, &ports.Income{
				Symbol: in.Symbol,
				Type:   domain.TransactionType(in.IncomeType),
				Amount: amount,
				Asset:  in.Asset,
				Time:   time.UnixMilli(in.Time),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetAccountTrades retrieves account fills for a symbol within a range.
func (c *Client) GetAccountTrades(ctx context.Context, symbol string, start, end time.Time) ([]*ports.AccountTrade, error) {
	op := "GetAccountTrades"
	var out []*ports.AccountTrade
	err := c.call(ctx, op, func(ctx context.Context) error {
		trades, err := c.futuresClient.NewListAccountTradeService().
			Symbol(symbol).
			StartTime(start.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(1000).
			Do(ctx)
		if err != nil {
			return err
		}
		out = make([]*ports.AccountTrade, 0, len(trades))
		for _, tr := range trades {
			price, _ := strconv.ParseFloat(tr.Price, 64)
			qty, _ := strconv.ParseFloat(tr.Quantity, 64)
			pnl, _ := strconv.ParseFloat(tr.RealizedPnl, 64)
			commission, _ := strconv.ParseFloat(tr.Commission, 64)
			out = append(out, &ports.AccountTrade{
				Symbol:      tr.Symbol,
				OrderID:     tr.OrderID,
				Side:        string(tr.Side),
				Price:       price,
				Quantity:    qty,
				RealizedPnl: pnl,
				Commission:  commission,
				Time:        time.UnixMilli(tr.Time),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetBalances retrieves the futures wallet balances per asset.
func (c *Client) GetBalances(ctx context.Context) ([]*ports.AssetBalance, error) {
	op := "GetBalances"
	var out []*ports.AssetBalance
	err := c.call(ctx, op, func(ctx context.Context) error {
		balances, err := c.futuresClient.NewGetBalanceService().Do(ctx)
		if err != nil {
			return err
		}
		out = make([]*ports.AssetBalance, 0, len(balances))
		for _, b := range balances {
			total, _ := strconv.ParseFloat(b.Balance, 64)
			free, _ := strconv.ParseFloat(b.AvailableBalance, 64)
			upnl, _ := strconv.ParseFloat(b.CrossUnPnl, 64)
			out = append(out, &ports.AssetBalance{
				Asset:         b.Asset,
				Free:          free,
				Locked:        total - free,
				Total:         total,
				UnrealizedPnl: upnl,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
