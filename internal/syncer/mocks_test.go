package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockExchange scripts only what the sync loops touch.
type mockExchange struct {
	mu sync.Mutex

	orderStatus    map[int64]*ports.OrderResponse
	orderStatusErr error
	openOrders     []*ports.OrderResponse
	positions      []*ports.PositionRisk
	accountTrades  []*ports.AccountTrade
	incomes        []*ports.Income
	balances       []*ports.AssetBalance

	cancelled []int64
}

func (m *mockExchange) Platform() domain.Platform              { return domain.PlatformBinance }
func (m *mockExchange) SetServerTime(ctx context.Context) error { return nil }
func (m *mockExchange) Ping(ctx context.Context) error          { return nil }

func (m *mockExchange) GetSymbolFilters(ctx context.Context, symbol string) (*ports.SymbolFilters, error) {
	return &ports.SymbolFilters{Symbol: symbol, Status: "TRADING", StepSize: 0.1, TickSize: 0.001}, nil
}

func (m *mockExchange) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}

func (m *mockExchange) GetOrderBookTop(ctx context.Context, symbol string) (*ports.BookTop, error) {
	return nil, nil
}

func (m *mockExchange) CreateOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResponse, error) {
	return nil, nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, orderID)
	return &ports.OrderResponse{OrderID: orderID, Symbol: symbol, Status: "CANCELED"}, nil
}

func (m *mockExchange) CancelAllOrders(ctx context.Context, symbol string) error { return nil }

func (m *mockExchange) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	if m.orderStatusErr != nil {
		return nil, m.orderStatusErr
	}
	if resp, ok := m.orderStatus[orderID]; ok {
		return resp, nil
	}
	return nil, ports.ErrOrderNotFound
}

func (m *mockExchange) GetOpenOrders(ctx context.Context, symbol string) ([]*ports.OrderResponse, error) {
	return m.openOrders, nil
}

func (m *mockExchange) GetPositionRisk(ctx context.Context, symbol string) (*ports.PositionRisk, error) {
	for _, p := range m.positions {
		if p.Symbol == symbol {
			return p, nil
		}
	}
	return nil, nil
}

func (m *mockExchange) GetAllPositionRisk(ctx context.Context) ([]*ports.PositionRisk, error) {
	return m.positions, nil
}

func (m *mockExchange) ChangeLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (m *mockExchange) ChangePositionTPSLMode(ctx context.Context, symbol string, enabled bool) error {
	return nil
}

func (m *mockExchange) GetIncome(ctx context.Context, symbol string, start, end time.Time) ([]*ports.Income, error) {
	return m.incomes, nil
}

func (m *mockExchange) GetAccountTrades(ctx context.Context, symbol string, start, end time.Time) ([]*ports.AccountTrade, error) {
	return m.accountTrades, nil
}

func (m *mockExchange) GetBalances(ctx context.Context) ([]*ports.AssetBalance, error) {
	return m.balances, nil
}

func (m *mockExchange) StartUserDataStream(ctx context.Context) (string, error) { return "key", nil }
func (m *mockExchange) KeepAliveUserDataStream(ctx context.Context, listenKey string) error {
	return nil
}
func (m *mockExchange) CloseUserDataStream(ctx context.Context, listenKey string) error { return nil }

func (m *mockExchange) StreamUserData(ctx context.Context, listenKey string, handler func(event *ports.UserDataEvent), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		<-stop
		close(done)
	}()
	return done, stop, nil
}

// memTradeRepo is the minimal in-memory trade store for loop tests.
type memTradeRepo struct {
	mu     sync.Mutex
	trades map[int64]*domain.Trade
	nextID int64
}

func newMemTradeRepo() *memTradeRepo {
	return &memTradeRepo{trades: make(map[int64]*domain.Trade), nextID: 1}
}

func (r *memTradeRepo) Create(ctx context.Context, trade *domain.Trade) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	trade.ID = r.nextID
	r.nextID++
	copied := *trade
	r.trades[trade.ID] = &copied
	return trade.ID, nil
}

func (r *memTradeRepo) Update(ctx context.Context, trade *domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *trade
	r.trades[trade.ID] = &copied
	return nil
}

func (r *memTradeRepo) FindByID(ctx context.Context, id int64) (*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trades[id]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, nil
}

func (r *memTradeRepo) FindByDiscordID(ctx context.Context, discordID string) (*domain.Trade, error) {
	return nil, nil
}

func (r *memTradeRepo) FindByTimestamp(ctx context.Context, ts time.Time) (*domain.Trade, error) {
	return nil, nil
}

func (r *memTradeRepo) FindByExchangeOrderID(ctx context.Context, orderID string) (*domain.Trade, error) {
	return nil, nil
}

func (r *memTradeRepo) FindActiveBySymbol(ctx context.Context, coinSymbol string) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Trade
	for _, t := range r.trades {
		if t.CoinSymbol == coinSymbol && t.Status.IsActive() {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memTradeRepo) FindActive(ctx context.Context) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Trade
	for _, t := range r.trades {
		if t.Status.IsActive() {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memTradeRepo) FindActiveYoungerThan(ctx context.Context, maxAge time.Duration) ([]*domain.Trade, error) {
	return r.FindActive(ctx)
}

func (r *memTradeRepo) FindClosedMissingPnl(ctx context.Context, limit int) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Trade
	for _, t := range r.trades {
		if t.Status == domain.StatusClosed && (t.PnlUSD == nil || t.ExitPrice == 0) {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memTradeRepo) LastAttemptBefore(ctx context.Context, coinSymbol string, before time.Time) (time.Time, error) {
	return time.Time{}, nil
}

type memBalanceRepo struct {
	mu       sync.Mutex
	balances map[string]*domain.Balance
}

func newMemBalanceRepo() *memBalanceRepo {
	return &memBalanceRepo{balances: make(map[string]*domain.Balance)}
}

func (r *memBalanceRepo) UpsertBalance(ctx context.Context, b *domain.Balance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *b
	r.balances[string(b.Platform)+"/"+b.AccountType+"/"+b.Asset] = &copied
	return nil
}

func (r *memBalanceRepo) FindBalances(ctx context.Context) ([]*domain.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Balance
	for _, b := range r.balances {
		copied := *b
		out = append(out, &copied)
	}
	return out, nil
}

type memTxRepo struct {
	mu   sync.Mutex
	seen map[string]*domain.Transaction
}

func newMemTxRepo() *memTxRepo {
	return &memTxRepo{seen: make(map[string]*domain.Transaction)}
}

func (r *memTxRepo) InsertTransaction(ctx context.Context, tx *domain.Transaction) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := tx.DedupeKey()
	if _, ok := r.seen[key]; ok {
		return false, nil
	}
	copied := *tx
	r.seen[key] = &copied
	return true, nil
}

func (r *memTxRepo) FindTransactionsBySymbol(ctx context.Context, symbol string, start, end time.Time) ([]*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Transaction
	for _, tx := range r.seen {
		if tx.Symbol == symbol {
			copied := *tx
			out = append(out, &copied)
		}
	}
	return out, nil
}
