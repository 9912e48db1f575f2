package ports

import (
	"context"
	"time"

	"github.com/BrianElionDev/BuyBot/internal/domain"
)

// SymbolFilters is the tradability metadata for one venue symbol, derived
// from the venue's LOT_SIZE, PRICE_FILTER and MIN_NOTIONAL filters.
type SymbolFilters struct {
	Symbol            string
	Status            string // "TRADING" when live
	StepSize          float64
	TickSize          float64
	MinQty            float64
	MaxQty            float64
	MinNotional       float64
	PricePrecision    int
	QuantityPrecision int
}

// IsTrading reports whether the symbol is listed and live.
func (f *SymbolFilters) IsTrading() bool {
	return f != nil && f.Status == "TRADING"
}

// OrderRequest describes one order to be placed. Quantity and prices are
// quantized by the adapter against the symbol's filters before submission.
type OrderRequest struct {
	Symbol        string
	Side          domain.OrderSide
	Type          string // MARKET, LIMIT, STOP_MARKET, TAKE_PROFIT_MARKET
	Quantity      float64
	Price         float64 // limit price, 0 for market
	StopPrice     float64 // trigger price for stop/take-profit types
	ReduceOnly    bool
	ClosePosition bool
	ClientOrderID string
}

// OrderResponse represents the essential details returned after placing,
// cancelling or querying an order. Raw preserves the venue payload verbatim
// for audit; callers persist it as an opaque blob.
type OrderResponse struct {
	OrderID       int64
	Symbol        string
	ClientOrderID string
	Price         float64
	AvgPrice      float64
	OrigQuantity  float64
	ExecutedQty   float64
	Status        string // NEW, FILLED, CANCELED, EXPIRED, ...
	Type          string
	Side          string
	ReduceOnly    bool
	Timestamp     time.Time
	Raw           []byte
}

// Placed reports whether the venue assigned an order id. This is the sole
// success criterion for placement: follow-up probe failures never undo it.
func (o *OrderResponse) Placed() bool {
	return o != nil && o.OrderID != 0
}

// PositionRisk represents the risk details for an open position.
type PositionRisk struct {
	Symbol           string
	PositionAmt      float64 // positive long, negative short
	EntryPrice       float64
	MarkPrice        float64
	UnRealizedProfit float64
	LiquidationPrice float64
	Leverage         int
}

// BookTop is the best bid/ask of a symbol's order book.
type BookTop struct {
	Symbol   string
	BidPrice float64
	BidQty   float64
	AskPrice float64
	AskQty   float64
}

// Income is one account income record (realized pnl, commission, funding).
type Income struct {
	Symbol string
	Type   domain.TransactionType
	Amount float64
	Asset  string
	Time   time.Time
}

// AccountTrade is one fill from the account trade history.
type AccountTrade struct {
	Symbol      string
	OrderID     int64
	Side        string
	Price       float64
	Quantity    float64
	RealizedPnl float64
	Commission  float64
	Time        time.Time
}

// AssetBalance is one futures-wallet asset balance.
type AssetBalance struct {
	Asset         string
	Free          float64
	Locked        float64
	Total         float64
	UnrealizedPnl float64
}

// UserDataEvent is one order/trade update from the user-data stream,
// normalized across venues.
type UserDataEvent struct {
	EventTime     time.Time
	Symbol        string
	OrderID       int64
	ClientOrderID string
	Side          string
	OrderType     string
	Status        string // NEW, PARTIALLY_FILLED, FILLED, CANCELED, EXPIRED
	ReduceOnly    bool
	LastFilledQty float64
	FilledQty     float64
	AvgPrice      float64
	LastPrice     float64
	RealizedPnl   float64
	Raw           []byte
}

// ExchangeClient defines the interface for interacting with a perpetual
// futures venue. This abstraction decouples the core lifecycle engine from
// specific venue implementations (Binance USDS-M, KuCoin Futures).
type ExchangeClient interface {
	// Platform identifies the venue behind this client.
	Platform() domain.Platform

	// SetServerTime synchronizes the client's time with the server's time.
	SetServerTime(ctx context.Context) error

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetSymbolFilters returns cached tradability filters for a symbol,
	// refreshing the cache on miss or expiry. Returns ErrSymbolUnsupported
	// if the symbol is not listed.
	GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error)

	// GetMarkPrice retrieves the current mark price for a given symbol.
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	// GetOrderBookTop retrieves the best bid and ask for a symbol.
	GetOrderBookTop(ctx context.Context, symbol string) (*BookTop, error)

	// CreateOrder validates the request against the symbol filters,
	// quantizes quantity and prices, and submits the order.
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)

	// CancelOrder cancels an existing open order by its id.
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error)

	// CancelAllOrders cancels every open order for a symbol.
	CancelAllOrders(ctx context.Context, symbol string) error

	// GetOrderStatus queries the current state of an order. Probe results
	// are returned to the caller as a distinct record; adapters never merge
	// them into a previously returned placement response.
	GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error)

	// GetOpenOrders lists all open orders, optionally filtered by symbol
	// (empty string means all symbols).
	GetOpenOrders(ctx context.Context, symbol string) ([]*OrderResponse, error)

	// GetPositionRisk retrieves the open position for a symbol, or nil when
	// there is none.
	GetPositionRisk(ctx context.Context, symbol string) (*PositionRisk, error)

	// GetAllPositionRisk retrieves every non-zero open position.
	GetAllPositionRisk(ctx context.Context) ([]*PositionRisk, error)

	// ChangeLeverage sets the leverage for a symbol.
	ChangeLeverage(ctx context.Context, symbol string, leverage int) error

	// ChangePositionTPSLMode enables or disables the venue's position-mode
	// TP/SL. Venues without the mode return ErrInvalidRequest and callers
	// fall back to reduce-only stop orders.
	ChangePositionTPSLMode(ctx context.Context, symbol string, enabled bool) error

	// GetIncome retrieves account income records within a time range.
	GetIncome(ctx context.Context, symbol string, start, end time.Time) ([]*Income, error)

	// GetAccountTrades retrieves account fills for a symbol within a range.
	GetAccountTrades(ctx context.Context, symbol string, start, end time.Time) ([]*AccountTrade, error)

	// GetBalances retrieves the futures wallet balances per asset.
	GetBalances(ctx context.Context) ([]*AssetBalance, error)

	// StartUserDataStream acquires a listen key for the user-data stream.
	StartUserDataStream(ctx context.Context) (string, error)

	// KeepAliveUserDataStream refreshes the listen key.
	KeepAliveUserDataStream(ctx context.Context, listenKey string) error

	// CloseUserDataStream invalidates the listen key.
	CloseUserDataStream(ctx context.Context, listenKey string) error

	// StreamUserData opens the user-data WebSocket for a listen key and
	// delivers order/trade updates in connection order. The returned
	// channels follow the go-binance convention: doneCh closes when the
	// connection ends, stopCh stops it.
	StreamUserData(ctx context.Context, listenKey string, handler func(event *UserDataEvent), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
