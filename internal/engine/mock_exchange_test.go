package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/ports"
)

// mockExchange is a scriptable ports.ExchangeClient for coordinator tests.
type mockExchange struct {
	mu sync.Mutex

	markPrice      float64
	markPriceErr   error
	filters        *ports.SymbolFilters
	filtersErr     error
	position       *ports.PositionRisk
	positionErr    error
	createResponse *ports.OrderResponse
	createErr      error
	openOrders     []*ports.OrderResponse
	tpslModeErr    error

	created   []ports.OrderRequest
	cancelled []int64
	calls     []string
}

func newMockExchange() *mockExchange {
	return &mockExchange{
		markPrice: 31.8,
		filters: &ports.SymbolFilters{
			Symbol: "HYPEUSDT", Status: "TRADING",
			StepSize: 0.1, TickSize: 0.001, MinQty: 0.1, MaxQty: 100000, MinNotional: 5,
		},
		createResponse: &ports.OrderResponse{
			OrderID: 12345, Symbol: "HYPEUSDT", Status: "NEW",
			Raw: []byte(`{"orderId":12345,"status":"NEW"}`),
		},
	}
}

func (m *mockExchange) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *mockExchange) Platform() domain.Platform { return domain.PlatformBinance }

func (m *mockExchange) SetServerTime(ctx context.Context) error { return nil }
func (m *mockExchange) Ping(ctx context.Context) error          { return nil }

func (m *mockExchange) GetSymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error) {
	m.record("GetSymbolFilters")
	return m.filters, m.filtersErr
}

func (m *mockExchange) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	m.record("GetMarkPrice")
	return m.markPrice, m.markPriceErr
}

func (m *mockExchange) GetOrderBookTop(ctx context.Context, symbol string) (*ports.BookTop, error) {
	return &ports.BookTop{Symbol: symbol, BidPrice: m.markPrice, AskPrice: m.markPrice}, nil
}

func (m *mockExchange) CreateOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	m.record("CreateOrder")
	m.mu.Lock()
	m.created = append(m.created, req)
	m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	resp := *m.createResponse
	return &resp, nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	m.record("CancelOrder")
	m.mu.Lock()
	m.cancelled = append(m.cancelled, orderID)
	m.mu.Unlock()
	return &ports.OrderResponse{OrderID: orderID, Symbol: symbol, Status: "CANCELED"}, nil
}

func (m *mockExchange) CancelAllOrders(ctx context.Context, symbol string) error { return nil }

func (m *mockExchange) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	return nil, fmt.Errorf("not scripted")
}

func (m *mockExchange) GetOpenOrders(ctx context.Context, symbol string) ([]*ports.OrderResponse, error) {
	return m.openOrders, nil
}

func (m *mockExchange) GetPositionRisk(ctx context.Context, symbol string) (*ports.PositionRisk, error) {
	m.record("GetPositionRisk")
	return m.position, m.positionErr
}

func (m *mockExchange) GetAllPositionRisk(ctx context.Context) ([]*ports.PositionRisk, error) {
	if m.position == nil {
		return nil, nil
	}
	return []*ports.PositionRisk{m.position}, nil
}

func (m *mockExchange) ChangeLeverage(ctx context.Context, symbol string, leverage int) error {
	m.record("ChangeLeverage")
	return nil
}

func (m *mockExchange) ChangePositionTPSLMode(ctx context.Context, symbol string, enabled bool) error {
	return m.tpslModeErr
}

func (m *mockExchange) GetIncome(ctx context.Context, symbol string, start, end time.Time) ([]*ports.Income, error) {
	return nil, nil
}

func (m *mockExchange) GetAccountTrades(ctx context.Context, symbol string, start, end time.Time) ([]*ports.AccountTrade, error) {
	return nil, nil
}

func (m *mockExchange) GetBalances(ctx context.Context) ([]*ports.AssetBalance, error) {
	return nil, nil
}

func (m *mockExchange) StartUserDataStream(ctx context.Context) (string, error) {
	return "listen-key", nil
}

func (m *mockExchange) KeepAliveUserDataStream(ctx context.Context, listenKey string) error {
	return nil
}

func (m *mockExchange) CloseUserDataStream(ctx context.Context, listenKey string) error {
	return nil
}

func (m *mockExchange) StreamUserData(ctx context.Context, listenKey string, handler func(event *ports.UserDataEvent), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		<-stop
		close(done)
	}()
	return done, stop, nil
}
