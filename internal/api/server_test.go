package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/signal"
	"github.com/BrianElionDev/BuyBot/internal/syncer"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type stubTradeStore struct{}

func (stubTradeStore) Create(ctx context.Context, trade *domain.Trade) (int64, error) { return 1, nil }
func (stubTradeStore) Update(ctx context.Context, trade *domain.Trade) error          { return nil }
func (stubTradeStore) FindByDiscordID(ctx context.Context, discordID string) (*domain.Trade, error) {
	return nil, nil
}
func (stubTradeStore) FindByTimestamp(ctx context.Context, ts time.Time) (*domain.Trade, error) {
	return nil, nil
}

type stubAlertStore struct{}

func (stubAlertStore) CreateAlert(ctx context.Context, alert *domain.Alert) (int64, error) {
	return 1, nil
}
func (stubAlertStore) UpdateAlert(ctx context.Context, alert *domain.Alert) error { return nil }
func (stubAlertStore) FindAlertByDiscordID(ctx context.Context, discordID string) (*domain.Alert, error) {
	return nil, nil
}

type stubCoordinator struct{}

func (stubCoordinator) OpenPosition(ctx context.Context, trade *domain.Trade) error { return nil }
func (stubCoordinator) ApplyAlert(ctx context.Context, trade *domain.Trade, alert *domain.Alert) error {
	return nil
}

func newTestServer() *Server {
	router := signal.NewRouter(stubTradeStore{}, stubAlertStore{}, stubCoordinator{}, stubCoordinator{}, nopLogger{})
	sched := syncer.NewScheduler(nopLogger{}, nil, &syncer.Loop{
		Name:     "balance_sync",
		Interval: time.Hour,
		Run:      func(ctx context.Context) error { return nil },
	})
	return NewServer(Config{
		ListenAddr: ":0",
		Logger:     nopLogger{},
		Router:     router,
		Scheduler:  sched,
	})
}

func TestHandleSignalValidation(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
	}{
		{
			name:     "well-formed signal accepted",
			path:     "/api/v1/discord/signal",
			body:     `{"timestamp":"2025-08-01T12:30:45.123Z","content":"HYPE long 32.2-31.5 SL 30.7"}`,
			wantCode: http.StatusAccepted,
		},
		{
			name:     "malformed JSON rejected",
			path:     "/api/v1/discord/signal",
			body:     `{"timestamp":`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing content rejected",
			path:     "/api/v1/discord/signal",
			body:     `{"timestamp":"2025-08-01T12:30:45.123Z"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad timestamp rejected",
			path:     "/api/v1/discord/signal",
			body:     `{"timestamp":"not-a-time","content":"x"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "update without trade ref rejected",
			path:     "/api/v1/discord/signal/update",
			body:     `{"timestamp":"2025-08-01T12:30:45.123Z","content":"tp1 hit","discord_id":"a1"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "well-formed update accepted",
			path:     "/api/v1/discord/signal/update",
			body:     `{"timestamp":"2025-08-01T12:30:45.123Z","content":"tp1 hit","trade":"disc-1","discord_id":"a1"}`,
			wantCode: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer()
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			server.http.Handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleHealth(t *testing.T) {
	server := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "uptime")
	assert.Contains(t, rec.Body.String(), "subcomponents")
}

func TestHandleSchedulerRun(t *testing.T) {
	server := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/scheduler/run/balance_sync", nil)
	rec := httptest.NewRecorder()
	server.http.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/scheduler/run/nonexistent", nil)
	rec = httptest.NewRecorder()
	server.http.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSchedulerStatus(t *testing.T) {
	server := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/scheduler/status", nil)
	rec := httptest.NewRecorder()
	server.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "balance_sync")
}
