package signal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrianElionDev/BuyBot/internal/domain"
)

// --- in-memory fakes ---

type fakeTradeStore struct {
	trades map[int64]*domain.Trade
	nextID int64
}

func newFakeTradeStore() *fakeTradeStore {
	return &fakeTradeStore{trades: make(map[int64]*domain.Trade), nextID: 1}
}

func (s *fakeTradeStore) Create(ctx context.Context, trade *domain.Trade) (int64, error) {
	trade.ID = s.nextID
	s.nextID++
	copied := *trade
	s.trades[trade.ID] = &copied
	return trade.ID, nil
}

func (s *fakeTradeStore) Update(ctx context.Context, trade *domain.Trade) error {
	copied := *trade
	s.trades[trade.ID] = &copied
	return nil
}

func (s *fakeTradeStore) FindByDiscordID(ctx context.Context, discordID string) (*domain.Trade, error) {
	for _, t := range s.trades {
		if t.DiscordID == discordID {
			copied := *t
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeTradeStore) FindByTimestamp(ctx context.Context, ts time.Time) (*domain.Trade, error) {
	for _, t := range s.trades {
		if t.Timestamp.UnixMilli() == ts.UnixMilli() {
			copied := *t
			return &copied, nil
		}
	}
	return nil, nil
}

type fakeAlertStore struct {
	alerts map[string]*domain.Alert
	nextID int64
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{alerts: make(map[string]*domain.Alert), nextID: 1}
}

func (s *fakeAlertStore) CreateAlert(ctx context.Context, alert *domain.Alert) (int64, error) {
	alert.ID = s.nextID
	s.nextID++
	copied := *alert
	s.alerts[alert.DiscordID] = &copied
	return alert.ID, nil
}

func (s *fakeAlertStore) UpdateAlert(ctx context.Context, alert *domain.Alert) error {
	copied := *alert
	s.alerts[alert.DiscordID] = &copied
	return nil
}

func (s *fakeAlertStore) FindAlertByDiscordID(ctx context.Context, discordID string) (*domain.Alert, error) {
	if a, ok := s.alerts[discordID]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, nil
}

type recordingCoordinator struct {
	opened  []*domain.Trade
	applied []*domain.Alert
}

func (c *recordingCoordinator) OpenPosition(ctx context.Context, trade *domain.Trade) error {
	c.opened = append(c.opened, trade)
	// Mimic the real coordinator: a dispatched trade leaves PENDING.
	trade.Status = domain.StatusOpen
	return nil
}

func (c *recordingCoordinator) ApplyAlert(ctx context.Context, trade *domain.Trade, alert *domain.Alert) error {
	c.applied = append(c.applied, alert)
	return nil
}

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestRouter() (*Router, *fakeTradeStore, *fakeAlertStore, *recordingCoordinator) {
	trades := newFakeTradeStore()
	alerts := newFakeAlertStore()
	coord := &recordingCoordinator{}
	return NewRouter(trades, alerts, coord, coord, nopLogger{}), trades, alerts, coord
}

func TestRouteInitialCreatesAndDispatches(t *testing.T) {
	router, trades, _, coord := newTestRouter()
	ts := time.Date(2025, 8, 1, 12, 30, 45, 123_000_000, time.UTC)

	rec := &domain.SignalRecord{
		Timestamp:  ts,
		Content:    "HYPE long 32.2-31.5 SL 30.7",
		Structured: "LIMIT|HYPE|Entry:|32.2-31.5|SL:|30.7",
		DiscordID:  "disc-s1",
	}
	require.NoError(t, router.Route(context.Background(), rec))

	require.Len(t, coord.opened, 1)
	opened := coord.opened[0]
	assert.Equal(t, "HYPE", opened.CoinSymbol)
	assert.Equal(t, domain.OrderTypeLimit, opened.OrderType)
	assert.Equal(t, 32.2, opened.SignalEntryPrice())

	stored, err := trades.FindByTimestamp(context.Background(), ts)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

// Idempotence: delivering the same initial signal twice results in at most
// one row and exactly one placement attempt.
func TestRouteInitialIdempotent(t *testing.T) {
	router, trades, _, coord := newTestRouter()
	ts := time.Date(2025, 8, 1, 12, 30, 45, 123_000_000, time.UTC)

	rec := &domain.SignalRecord{
		Timestamp:  ts,
		Structured: "LIMIT|HYPE|Entry:|32.2-31.5|SL:|30.7",
		DiscordID:  "disc-s1",
	}
	require.NoError(t, router.Route(context.Background(), rec))

	// Simulate the coordinator persisting the new status before re-delivery.
	stored, _ := trades.FindByTimestamp(context.Background(), ts)
	stored.Status = domain.StatusOpen
	require.NoError(t, trades.Update(context.Background(), stored))

	require.NoError(t, router.Route(context.Background(), rec))

	assert.Len(t, coord.opened, 1, "second delivery must not place again")
	assert.Len(t, trades.trades, 1, "second delivery must not create a row")
}

// A row pre-created externally at the signal timestamp is bound instead of
// creating a duplicate.
func TestRouteInitialBindsExistingRow(t *testing.T) {
	router, trades, _, coord := newTestRouter()
	ts := time.Date(2025, 8, 1, 12, 30, 45, 123_000_000, time.UTC)

	preCreated := &domain.Trade{DiscordID: "disc-pre", Timestamp: ts, Status: domain.StatusPending}
	_, err := trades.Create(context.Background(), preCreated)
	require.NoError(t, err)

	rec := &domain.SignalRecord{
		Timestamp:  ts,
		Structured: "LIMIT|HYPE|Entry:|32.2-31.5|SL:|30.7",
	}
	require.NoError(t, router.Route(context.Background(), rec))

	assert.Len(t, trades.trades, 1)
	require.Len(t, coord.opened, 1)
	assert.Equal(t, preCreated.ID, coord.opened[0].ID)
	assert.Equal(t, "disc-pre", coord.opened[0].DiscordID)
}

func TestRouteFollowUpDispatchesToAlertCoordinator(t *testing.T) {
	router, trades, alerts, coord := newTestRouter()

	parent := &domain.Trade{DiscordID: "disc-parent", Timestamp: time.Now().UTC(), Status: domain.StatusOpen, CoinSymbol: "ETH"}
	_, err := trades.Create(context.Background(), parent)
	require.NoError(t, err)

	rec := &domain.SignalRecord{
		Timestamp: time.Now().UTC(),
		Content:   "tp1 hit",
		DiscordID: "alert-1",
		ParentRef: "disc-parent",
	}
	require.NoError(t, router.Route(context.Background(), rec))

	require.Len(t, coord.applied, 1)
	assert.Equal(t, domain.ActionTakeProfit1, coord.applied[0].ParsedAction)

	stored, err := alerts.FindAlertByDiscordID(context.Background(), "alert-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
}

// Alerts whose parent never opened are acknowledged and skipped.
func TestRouteFollowUpSkipsDeadParent(t *testing.T) {
	for _, status := range []domain.TradeStatus{
		domain.StatusFailed, domain.StatusUnfilled, domain.StatusCanceled, domain.StatusExpired,
	} {
		t.Run(string(status), func(t *testing.T) {
			router, trades, alerts, coord := newTestRouter()

			parent := &domain.Trade{DiscordID: "disc-dead", Timestamp: time.Now().UTC(), Status: status}
			_, err := trades.Create(context.Background(), parent)
			require.NoError(t, err)

			rec := &domain.SignalRecord{
				Timestamp: time.Now().UTC(),
				Content:   "stopped out",
				DiscordID: "alert-dead-" + string(status),
				ParentRef: "disc-dead",
			}
			require.NoError(t, router.Route(context.Background(), rec))

			assert.Empty(t, coord.applied)
			stored, err := alerts.FindAlertByDiscordID(context.Background(), rec.DiscordID)
			require.NoError(t, err)
			require.NotNil(t, stored)
			assert.Equal(t, domain.AlertSkipped, stored.Status)
			assert.Equal(t, "skipped - no open position", stored.StatusDetail)
		})
	}
}

func TestRouteFollowUpMissingParentFails(t *testing.T) {
	router, _, alerts, coord := newTestRouter()

	rec := &domain.SignalRecord{
		Timestamp: time.Now().UTC(),
		Content:   "tp1 hit",
		DiscordID: "alert-orphan",
		ParentRef: "disc-ghost",
	}
	err := router.Route(context.Background(), rec)
	require.Error(t, err)

	assert.Empty(t, coord.applied)
	// The alert row is retained even on failure.
	stored, lookupErr := alerts.FindAlertByDiscordID(context.Background(), "alert-orphan")
	require.NoError(t, lookupErr)
	require.NotNil(t, stored)
	assert.Equal(t, domain.AlertFailed, stored.Status)
}
