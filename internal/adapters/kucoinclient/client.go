package kucoinclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/ports"
)

const (
	baseURLProduction = "https://api-futures.kucoin.com"

	outboundPerSecond = 10
)

// Client implements the ports.ExchangeClient interface for KuCoin Futures.
// The venue has no position-mode TP/SL, so ChangePositionTPSLMode reports
// ErrInvalidRequest and callers fall back to reduce-only stop orders.
type Client struct {
	baseURL    string
	apiKey     string
	secretKey  string
	passphrase string
	httpClient *http.Client
	logger     ports.Logger
	limiter    *rate.Limiter

	mu        sync.RWMutex
	contracts map[string]*ports.SymbolFilters // keyed by canonical pair
	fetchedAt time.Time
	cacheTTL  time.Duration

	wsEndpoint string // populated by StartUserDataStream
	wsPingMs   int64
}

// Config holds configuration specific to the KuCoin client adapter.
type Config struct {
	APIKey         string
	SecretKey      string
	Passphrase     string
	Logger         ports.Logger
	RequestTimeout time.Duration
	FilterCacheTTL time.Duration
}

// New creates a new KuCoin client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for KuCoin client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" || cfg.Passphrase == "" {
		return nil, fmt.Errorf("KuCoin credentials are incomplete")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.FilterCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Client{
		baseURL:    baseURLProduction,
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		passphrase: cfg.Passphrase,
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
		limiter:    rate.NewLimiter(rate.Limit(outboundPerSecond), outboundPerSecond),
		contracts:  make(map[string]*ports.SymbolFilters),
		cacheTTL:   ttl,
	}, nil
}

// Platform identifies the venue behind this client.
func (c *Client) Platform() domain.Platform {
	return domain.PlatformKuCoin
}

func (c *Client) get(ctx context.Context, endpoint string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.doRequest(ctx, http.MethodGet, endpoint, nil)
}

func (c *Client) post(ctx context.Context, endpoint string, body interface{}) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.doRequest(ctx, http.MethodPost, endpoint, body)
}

func (c *Client) delete(ctx context.Context, endpoint string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.doRequest(ctx, http.MethodDelete, endpoint, nil)
}

// SetServerTime is a no-op for KuCoin; requests carry local millisecond
// timestamps the venue accepts within its recv window.
func (c *Client) SetServerTime(ctx context.Context) error {
	return nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "/api/v1/timestamp")
	return err
}

type contractInfo struct {
	Symbol      string  `json:"symbol"`
	Status      string  `json:"status"` // "Open" when trading
	Multiplier  float64 `json:"multiplier"`
	LotSize     float64 `json:"lotSize"`
	MaxOrderQty float64 `json:"maxOrderQty"`
	TickSize    float64 `json:"tickSize"`
}

// GetSymbolFilters returns cached tradability filters for a canonical pair,
// mapping KuCoin contract granularity onto the common filter shape: the
// contract multiplier becomes the quantity step.
func (c *Client) GetSymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error) {
	c.mu.RLock()
	if time.Since(c.fetchedAt) <= c.cacheTTL {
		if f, ok := c.contracts[symbol]; ok {
			c.mu.RUnlock()
			return f, nil
		}
	}
	c.mu.RUnlock()

	if err := c.refreshContracts(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if f, ok := c.contracts[symbol]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("contract for %s not listed on kucoin: %w", symbol, ports.ErrSymbolUnsupported)
}

func (c *Client) refreshContracts(ctx context.Context) error {
	data, err := c.get(ctx, "/api/v1/contracts/active")
	if err != nil {
		return err
	}
	var infos []contractInfo
	if err := json.Unmarshal(data, &infos); err != nil {
		return fmt.Errorf("failed to decode contracts: %w", err)
	}

	byPair := make(map[string]*ports.SymbolFilters, len(infos))
	for _, info := range infos {
		status := "TRADING"
		if info.Status != "Open" {
			status = info.Status
		}
		byPair[FromContract(info.Symbol)] = &ports.SymbolFilters{
			Symbol:      info.Symbol,
			Status:      status,
			StepSize:    info.Multiplier,
			TickSize:    info.TickSize,
			MinQty:      info.LotSize * info.Multiplier,
			MaxQty:      info.MaxOrderQty * info.Multiplier,
			MinNotional: 0, // KuCoin enforces lot granularity instead
		}
	}

	c.mu.Lock()
	c.contracts = byPair
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	c.logger.Debug(ctx, "KuCoin contract cache refreshed", map[string]interface{}{"contracts": len(byPair)})
	return nil
}

// GetMarkPrice retrieves the current mark price for a canonical pair.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	data, err := c.get(ctx, "/api/v1/mark-price/"+ToContract(symbol)+"/current")
	if err != nil {
		return 0, err
	}
	var out struct {
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("failed to decode mark price: %w", err)
	}
	return out.Value, nil
}

// GetOrderBookTop retrieves the best bid and ask for a canonical pair.
func (c *Client) GetOrderBookTop(ctx context.Context, symbol string) (*ports.BookTop, error) {
	data, err := c.get(ctx, "/api/v1/ticker?symbol="+ToContract(symbol))
	if err != nil {
		return nil, err
	}
	var out struct {
		BestBidPrice string  `json:"bestBidPrice"`
		BestBidSize  float64 `json:"bestBidSize"`
		BestAskPrice string  `json:"bestAskPrice"`
		BestAskSize  float64 `json:"bestAskSize"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode ticker: %w", err)
	}
	bid, _ := strconv.ParseFloat(out.BestBidPrice, 64)
	ask, _ := strconv.ParseFloat(out.BestAskPrice, 64)
	return &ports.BookTop{Symbol: symbol, BidPrice: bid, BidQty: out.BestBidSize, AskPrice: ask, AskQty: out.BestAskSize}, nil
}

type kucoinOrder struct {
	ID          string  `json:"id"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Type        string  `json:"type"`
	Price       string  `json:"price"`
	Size        float64 `json:"size"`
	FilledSize  float64 `json:"filledSize"`
	FilledValue string  `json:"filledValue"`
	ClientOid   string  `json:"clientOid"`
	ReduceOnly  bool    `json:"reduceOnly"`
	IsActive    bool    `json:"isActive"`
	CancelExist bool    `json:"cancelExist"`
	OrderTime   int64   `json:"orderTime"`
}

func (c *Client) translateOrder(o *kucoinOrder, raw []byte) *ports.OrderResponse {
	filters := c.filtersForContract(o.Symbol)
	multiplier := 1.0
	if filters != nil && filters.StepSize > 0 {
		multiplier = filters.StepSize
	}
	price, _ := strconv.ParseFloat(o.Price, 64)

	status := "NEW"
	switch {
	case o.CancelExist:
		status = "CANCELED"
	case !o.IsActive && o.FilledSize >= o.Size && o.Size > 0:
		status = "FILLED"
	case o.FilledSize > 0:
		status = "PARTIALLY_FILLED"
	}

	avgPrice := 0.0
	filledQty := o.FilledSize * multiplier
	if v, err := strconv.ParseFloat(o.FilledValue, 64); err == nil && filledQty > 0 {
		avgPrice = v / filledQty
	}

	// KuCoin order ids are strings; hashOrderID folds the whole id into
	// the common int64 shape used across the engine.
	orderID := hashOrderID(o.ID)

	return &ports.OrderResponse{
		OrderID:       orderID,
		Symbol:        FromContract(o.Symbol),
		ClientOrderID: o.ClientOid,
		Price:         price,
		AvgPrice:      avgPrice,
		OrigQuantity:  o.Size * multiplier,
		ExecutedQty:   filledQty,
		Status:        status,
		Type:          o.Type,
		Side:          o.Side,
		ReduceOnly:    o.ReduceOnly,
		Timestamp:     time.UnixMilli(o.OrderTime / int64(time.Millisecond)),
		Raw:           raw,
	}
}

func (c *Client) filtersForContract(contract string) *ports.SymbolFilters {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.contracts[FromContract(contract)]
}

// hashOrderID folds a KuCoin string order id into a stable int64.
func hashOrderID(id string) int64 {
	var h int64
	for _, r := range id {
		h = h*31 + int64(r)
	}
	if h < 0 {
		h = -h
	}
	return h
}

// CreateOrder validates against the contract granularity and submits the
// order sized in lots.
func (c *Client) CreateOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	filters, err := c.GetSymbolFilters(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	if !filters.IsTrading() {
		return nil, fmt.Errorf("contract %s has status %s: %w", req.Symbol, filters.Status, ports.ErrSymbolUnsupported)
	}

	lots := 0
	if !req.ClosePosition {
		if filters.StepSize <= 0 {
			return nil, fmt.Errorf("contract %s missing multiplier: %w", req.Symbol, ports.ErrInvalidRequest)
		}
		lots = int(req.Quantity / filters.StepSize)
		if lots < 1 {
			return nil, fmt.Errorf("quantity %v below one lot for %s: %w", req.Quantity, req.Symbol, ports.ErrQtyOutOfBounds)
		}
	}

	body := map[string]interface{}{
		"clientOid": req.ClientOrderID,
		"symbol":    ToContract(req.Symbol),
		"side":      sideToKucoin(req.Side),
		"type":      typeToKucoin(req.Type),
	}
	if body["clientOid"] == "" {
		body["clientOid"] = fmt.Sprintf("bb-%d", time.Now().UnixNano())
	}
	if lots > 0 {
		body["size"] = lots
	}
	if req.Price > 0 {
		body["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	if req.StopPrice > 0 {
		// Trigger direction: a protective order fires when the mark moves
		// against the position.
		stop := "down"
		if req.Side == domain.Buy {
			stop = "up"
		}
		body["stop"] = stop
		body["stopPrice"] = strconv.FormatFloat(req.StopPrice, 'f', -1, 64)
		body["stopPriceType"] = "MP"
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}
	if req.ClosePosition {
		body["closeOrder"] = true
	}

	data, err := c.post(ctx, "/api/v1/orders", body)
	if err != nil {
		return nil, err
	}
	var out struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}

	c.logger.Info(ctx, "CreateOrder successful", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "type": req.Type, "orderID": out.OrderID,
	})
	return &ports.OrderResponse{
		OrderID:       hashOrderID(out.OrderID),
		Symbol:        req.Symbol,
		ClientOrderID: fmt.Sprint(body["clientOid"]),
		Status:        "NEW",
		Type:          req.Type,
		Side:          string(req.Side),
		ReduceOnly:    req.ReduceOnly,
		Timestamp:     time.Now(),
		Raw:           data,
	}, nil
}

func sideToKucoin(side domain.OrderSide) string {
	if side == domain.Sell {
		return "sell"
	}
	return "buy"
}

func typeToKucoin(orderType string) string {
	if orderType == "LIMIT" {
		return "limit"
	}
	return "market"
}

// CancelOrder cancels an open order. KuCoin addresses orders by their
// string id; the engine stores the folded numeric form, so cancellation
// scans open orders for the match.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	raw, err := c.findOpenOrderRaw(ctx, symbol, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := c.delete(ctx, "/api/v1/orders/"+raw.ID); err != nil {
		return nil, err
	}
	resp := c.translateOrder(raw, nil)
	resp.Status = "CANCELED"
	return resp, nil
}

// CancelAllOrders cancels every open order for a canonical pair.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	_, err := c.delete(ctx, "/api/v1/orders?symbol="+ToContract(symbol))
	return err
}

func (c *Client) findOpenOrderRaw(ctx context.Context, symbol string, orderID int64) (*kucoinOrder, error) {
	data, err := c.get(ctx, "/api/v1/orders?status=active&symbol="+ToContract(symbol))
	if err != nil {
		return nil, err
	}
	var page struct {
		Items []kucoinOrder `json:"items"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to decode open orders: %w", err)
	}
	for i := range page.Items {
		if hashOrderID(page.Items[i].ID) == orderID {
			return &page.Items[i], nil
		}
	}
	return nil, fmt.Errorf("order %d not found on kucoin: %w", orderID, ports.ErrOrderNotFound)
}

// GetOrderStatus queries the current state of an order.
func (c *Client) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	// Open orders first, then the done list within the last week.
	if raw, err := c.findOpenOrderRaw(ctx, symbol, orderID); err == nil {
		return c.translateOrder(raw, nil), nil
	}
	data, err := c.get(ctx, "/api/v1/orders?status=done&symbol="+ToContract(symbol))
	if err != nil {
		return nil, err
	}
	var page struct {
		Items []kucoinOrder `json:"items"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to decode done orders: %w", err)
	}
	for i := range page.Items {
		if hashOrderID(page.Items[i].ID) == orderID {
			return c.translateOrder(&page.Items[i], nil), nil
		}
	}
	return nil, fmt.Errorf("order %d not found on kucoin: %w", orderID, ports.ErrOrderNotFound)
}

// GetOpenOrders lists all open orders, optionally filtered by pair.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]*ports.OrderResponse, error) {
	endpoint := "/api/v1/orders?status=active"
	if symbol != "" {
		endpoint += "&symbol=" + ToContract(symbol)
	}
	data, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var page struct {
		Items []kucoinOrder `json:"items"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to decode open orders: %w", err)
	}
	out := make([]*ports.OrderResponse, 0, len(page.Items))
	for i := range page.Items {
		out = append(out, c.translateOrder(&page.Items[i], nil))
	}
	return out, nil
}

type kucoinPosition struct {
	Symbol           string  `json:"symbol"`
	CurrentQty       float64 `json:"currentQty"` // lots, signed
	AvgEntryPrice    float64 `json:"avgEntryPrice"`
	MarkPrice        float64 `json:"markPrice"`
	UnrealisedPnl    float64 `json:"unrealisedPnl"`
	LiquidationPrice float64 `json:"liquidationPrice"`
	RealLeverage     float64 `json:"realLeverage"`
	IsOpen           bool    `json:"isOpen"`
}

func (c *Client) translatePosition(p *kucoinPosition) *ports.PositionRisk {
	multiplier := 1.0
	if f := c.filtersForContract(p.Symbol); f != nil && f.StepSize > 0 {
		multiplier = f.StepSize
	}
	return &ports.PositionRisk{
		Symbol:           FromContract(p.Symbol),
		PositionAmt:      p.CurrentQty * multiplier,
		EntryPrice:       p.AvgEntryPrice,
		MarkPrice:        p.MarkPrice,
		UnRealizedProfit: p.UnrealisedPnl,
		LiquidationPrice: p.LiquidationPrice,
		Leverage:         int(p.RealLeverage),
	}
}

// GetPositionRisk retrieves the open position for a pair, or nil when flat.
func (c *Client) GetPositionRisk(ctx context.Context, symbol string) (*ports.PositionRisk, error) {
	data, err := c.get(ctx, "/api/v1/position?symbol="+ToContract(symbol))
	if err != nil {
		return nil, err
	}
	var pos kucoinPosition
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, fmt.Errorf("failed to decode position: %w", err)
	}
	if !pos.IsOpen || pos.CurrentQty == 0 {
		return nil, nil
	}
	return c.translatePosition(&pos), nil
}

// GetAllPositionRisk retrieves every open position.
func (c *Client) GetAllPositionRisk(ctx context.Context) ([]*ports.PositionRisk, error) {
	data, err := c.get(ctx, "/api/v1/positions")
	if err != nil {
		return nil, err
	}
	var positions []kucoinPosition
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("failed to decode positions: %w", err)
	}
	out := make([]*ports.PositionRisk, 0, len(positions))
	for i := range positions {
		if positions[i].IsOpen && positions[i].CurrentQty != 0 {
			out = append(out, c.translatePosition(&positions[i]))
		}
	}
	return out, nil
}

// ChangeLeverage records the leverage to apply on subsequent orders.
// KuCoin binds leverage per order rather than per symbol.
func (c *Client) ChangeLeverage(ctx context.Context, symbol string, leverage int) error {
	c.logger.Debug(ctx, "KuCoin leverage bound per order", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// ChangePositionTPSLMode reports the mode as unsupported; callers fall
// back to separate reduce-only stop orders.
func (c *Client) ChangePositionTPSLMode(ctx context.Context, symbol string, enabled bool) error {
	return fmt.Errorf("kucoin has no position-mode TP/SL: %w", ports.ErrInvalidRequest)
}

// GetIncome retrieves realized pnl and funding records from the
// transaction history.
func (c *Client) GetIncome(ctx context.Context, symbol string, start, end time.Time) ([]*ports.Income, error) {
	q := url.Values{}
	q.Set("startAt", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("endAt", strconv.FormatInt(end.UnixMilli(), 10))
	data, err := c.get(ctx, "/api/v1/transaction-history?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var page struct {
		DataList []struct {
			Time     int64   `json:"time"`
			Type     string  `json:"type"` // RealisedPNL, Deposit, Withdrawal, TransferIn, TransferOut
			Amount   float64 `json:"amount"`
			Currency string  `json:"currency"`
			Remark   string  `json:"remark"`
		} `json:"dataList"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to decode transaction history: %w", err)
	}

	out := make([]*ports.Income, 0, len(page.DataList))
	for _, item := range page.DataList {
		txType := domain.TxTransfer
		switch item.Type {
		case "RealisedPNL":
			txType = domain.TxRealizedPnl
		case "Commission":
			txType = domain.TxCommission
		case "FundingFee":
			txType = domain.TxFundingFee
		}
		itemSymbol := FromContract(item.Remark)
		if symbol != "" && itemSymbol != symbol {
			continue
		}
		out = append(out, &ports.Income{
			Symbol: itemSymbol,
			Type:   txType,
			Amount: item.Amount,
			Asset:  item.Currency,
			Time:   time.UnixMilli(item.Time),
		})
	}
	return out, nil
}

// GetAccountTrades retrieves account fills for a pair within a range.
func (c *Client) GetAccountTrades(ctx context.Context, symbol string, start, end time.Time) ([]*ports.AccountTrade, error) {
	q := url.Values{}
	q.Set("symbol", ToContract(symbol))
	q.Set("startAt", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("endAt", strconv.FormatInt(end.UnixMilli(), 10))
	data, err := c.get(ctx, "/api/v1/fills?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var page struct {
		Items []struct {
			Symbol    string  `json:"symbol"`
			OrderID   string  `json:"orderId"`
			Side      string  `json:"side"`
			Price     string  `json:"price"`
			Size      float64 `json:"size"`
			Fee       string  `json:"fee"`
			TradeTime int64   `json:"tradeTime"` // nanoseconds
		} `json:"items"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to decode fills: %w", err)
	}

	out := make([]*ports.AccountTrade, 0, len(page.Items))
	for _, item := range page.Items {
		multiplier := 1.0
		if f := c.filtersForContract(item.Symbol); f != nil && f.StepSize > 0 {
			multiplier = f.StepSize
		}
		price, _ := strconv.ParseFloat(item.Price, 64)
		fee, _ := strconv.ParseFloat(item.Fee, 64)
		out = append(out, &ports.AccountTrade{
			Symbol:     FromContract(item.Symbol),
			OrderID:    hashOrderID(item.OrderID),
			Side:       item.Side,
			Price:      price,
			Quantity:   item.Size * multiplier,
			Commission: fee,
			Time:       time.Unix(0, item.TradeTime),
		})
	}
	return out, nil
}

// GetBalances retrieves the futures account overview for USDT.
func (c *Client) GetBalances(ctx context.Context) ([]*ports.AssetBalance, error) {
	data, err := c.get(ctx, "/api/v1/account-overview?currency=USDT")
	if err != nil {
		return nil, err
	}
	var out struct {
		Currency         string  `json:"currency"`
		AvailableBalance float64 `json:"availableBalance"`
		FrozenFunds      float64 `json:"frozenFunds"`
		AccountEquity    float64 `json:"accountEquity"`
		UnrealisedPNL    float64 `json:"unrealisedPNL"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode account overview: %w", err)
	}
	return []*ports.AssetBalance{{
		Asset:         out.Currency,
		Free:          out.AvailableBalance,
		Locked:        out.FrozenFunds,
		Total:         out.AccountEquity,
		UnrealizedPnl: out.UnrealisedPNL,
	}}, nil
}
