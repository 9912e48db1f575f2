// Package ingestor consumes the venue user-data stream and applies
// execution reports to trade rows, preserving per-connection delivery
// order and the write-once timestamp guarantees.
package ingestor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/metrics"
	"github.com/BrianElionDev/BuyBot/internal/ports"
)

const (
	// Pending updates allowed before the ingestor stops reading the
	// socket. The venue disconnects a stalled reader on its own, which
	// triggers reconnection and snapshot reconciliation.
	defaultQueueHighWater = 256
)

// Config holds the stream lifecycle knobs.
type Config struct {
	ListenKeyRefresh     time.Duration // 30m
	ConnectionMaxAge     time.Duration // 24h, venue-enforced
	PingInterval         time.Duration // 180s
	PongTimeout          time.Duration // 600s of silence forces a reconnect
	MaxReconnectAttempts int           // 10
	QueueHighWater       int
}

// Status is a snapshot of the stream state for the status endpoint.
type Status struct {
	Connected     bool      `json:"connected"`
	LastEventAt   time.Time `json:"last_event_at"`
	Reconnects    int       `json:"reconnects"`
	EventsApplied int64     `json:"events_applied"`
	QueueDepth    int       `json:"queue_depth"`
}

// Ingestor owns one user-data stream per venue connection.
type Ingestor struct {
	cfg       Config
	logger    ports.Logger
	exchange  ports.ExchangeClient
	trades    ports.TradeRepository
	metrics   *metrics.Metrics
	reconcile func(ctx context.Context) error // snapshot reconciliation after reconnect

	queue chan *ports.UserDataEvent

	mu            sync.Mutex
	connected     bool
	lastEventAt   time.Time
	reconnects    int
	eventsApplied int64
}

// New creates an ingestor. reconcile runs after every reconnect instead of
// replaying missed events; nil disables it.
func New(cfg Config, logger ports.Logger, exchange ports.ExchangeClient, trades ports.TradeRepository, m *metrics.Metrics, reconcile func(ctx context.Context) error) *Ingestor {
	if cfg.ListenKeyRefresh <= 0 {
		cfg.ListenKeyRefresh = 30 * time.Minute
	}
	if cfg.ConnectionMaxAge <= 0 {
		cfg.ConnectionMaxAge = 24 * time.Hour
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 600 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.QueueHighWater <= 0 {
		cfg.QueueHighWater = defaultQueueHighWater
	}
	return &Ingestor{
		cfg:       cfg,
		logger:    logger,
		exchange:  exchange,
		trades:    trades,
		metrics:   m,
		reconcile: reconcile,
		queue:     make(chan *ports.UserDataEvent, cfg.QueueHighWater),
	}
}

// Status returns a snapshot of the stream state.
func (i *Ingestor) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Status{
		Connected:     i.connected,
		LastEventAt:   i.lastEventAt,
		Reconnects:    i.reconnects,
		EventsApplied: i.eventsApplied,
		QueueDepth:    len(i.queue),
	}
}

// Run consumes the stream until the context ends. Reconnects use
// exponential backoff (2s doubling to 600s with jitter) capped at the
// configured attempt budget; a successful session resets the budget.
func (i *Ingestor) Run(ctx context.Context) error {
	// One applier preserves per-connection ordering across reconnects.
	applierDone := make(chan struct{})
	go func() {
		defer close(applierDone)
		for {
			select {
			case ev := <-i.queue:
				i.apply(context.Background(), ev)
			case <-ctx.Done():
				// Drain in-flight row updates before exiting.
				for {
					select {
					case ev := <-i.queue:
						i.apply(context.Background(), ev)
					default:
						return
					}
				}
			}
		}
	}()
	defer func() { <-applierDone }()

	retry := &backoff.Backoff{Min: 2 * time.Second, Max: 600 * time.Second, Factor: 2, Jitter: true}
	attempts := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		sessionOK, err := i.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if sessionOK {
			attempts = 0
			retry.Reset()
		} else {
			attempts++
			if attempts >= i.cfg.MaxReconnectAttempts {
				return fmt.Errorf("user-data stream gave up after %d reconnect attempts: %w", attempts, err)
			}
		}

		d := retry.Duration()
		i.logger.Warn(ctx, "User-data stream disconnected, reconnecting", map[string]interface{}{
			"attempt": attempts, "delay": d.String(), "error": fmt.Sprint(err),
		})
		i.mu.Lock()
		i.reconnects++
		i.mu.Unlock()

		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runSession opens one connection and blocks until it ends. Returns true
// when the session lived long enough to count as healthy.
func (i *Ingestor) runSession(ctx context.Context) (bool, error) {
	listenKey, err := i.exchange.StartUserDataStream(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire listen key: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := i.exchange.CloseUserDataStream(closeCtx, listenKey); err != nil {
			i.logger.Debug(closeCtx, "Listen key close failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	streamErrCh := make(chan error, 1)
	doneCh, stopCh, err := i.exchange.StreamUserData(ctx, listenKey,
		func(event *ports.UserDataEvent) {
			i.mu.Lock()
			i.lastEventAt = event.EventTime
			i.mu.Unlock()
			// Blocking send: a full queue stops the socket reader, which
			// is the backpressure contract.
			i.queue <- event
		},
		func(err error) {
			select {
			case streamErrCh <- err:
			default:
			}
		})
	if err != nil {
		return false, fmt.Errorf("failed to open user-data stream: %w", err)
	}

	i.setConnected(true)
	defer i.setConnected(false)
	startedAt := time.Now()

	// Snapshot reconciliation replaces replaying missed events.
	if i.reconcile != nil {
		if err := i.reconcile(ctx); err != nil {
			i.logger.Error(ctx, err, "Snapshot reconciliation after connect failed")
		}
	}

	refresh := time.NewTicker(i.cfg.ListenKeyRefresh)
	defer refresh.Stop()
	rotate := time.NewTimer(i.cfg.ConnectionMaxAge)
	defer rotate.Stop()
	watchdog := time.NewTicker(i.cfg.PongTimeout / 2)
	defer watchdog.Stop()

	stop := func() {
		select {
		case stopCh <- struct{}{}:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			<-doneCh
			return true, ctx.Err()

		case <-doneCh:
			return time.Since(startedAt) > time.Minute, fmt.Errorf("stream connection closed")

		case err := <-streamErrCh:
			i.logger.Warn(ctx, "User-data stream error", map[string]interface{}{"error": err.Error()})

		case <-refresh.C:
			if err := i.exchange.KeepAliveUserDataStream(ctx, listenKey); err != nil {
				i.logger.Error(ctx, err, "Listen key keepalive failed")
				stop()
				<-doneCh
				return false, fmt.Errorf("listen key keepalive failed: %w", err)
			}

		case <-rotate.C:
			i.logger.Info(ctx, "Rotating user-data connection at max age")
			stop()
			<-doneCh
			return true, fmt.Errorf("connection rotated")

		case <-watchdog.C:
			i.mu.Lock()
			silent := time.Since(i.lastEventAt)
			last := i.lastEventAt
			i.mu.Unlock()
			if !last.IsZero() && silent > i.cfg.PongTimeout {
				i.logger.Warn(ctx, "No stream traffic within pong timeout, reconnecting", map[string]interface{}{"silent": silent.String()})
				stop()
				<-doneCh
				return false, fmt.Errorf("stream silent for %s", silent)
			}
		}
	}
}

func (i *Ingestor) setConnected(connected bool) {
	i.mu.Lock()
	i.connected = connected
	i.mu.Unlock()
	if i.metrics != nil {
		v := 0.0
		if connected {
			v = 1.0
		}
		i.metrics.StreamConnected.Set(v)
	}
}

// apply reflects one execution report onto its trade row. Unknown orders
// are logged and dropped; the periodic audit picks up anything orphaned.
func (i *Ingestor) apply(ctx context.Context, event *ports.UserDataEvent) {
	trade, err := i.trades.FindByExchangeOrderID(ctx, fmt.Sprint(event.OrderID))
	if err != nil {
		i.logger.Error(ctx, err, "Trade lookup for stream event failed", map[string]interface{}{"orderID": event.OrderID})
		return
	}
	if trade == nil {
		i.logger.Debug(ctx, "Stream event for unknown order", map[string]interface{}{
			"orderID": event.OrderID, "symbol": event.Symbol, "status": event.Status,
		})
		return
	}

	if err := ApplyEvent(trade, event); err != nil {
		i.logger.Debug(ctx, "Stream event not applicable", map[string]interface{}{
			"tradeID": trade.ID, "status": event.Status, "reason": err.Error(),
		})
		return
	}

	if err := i.trades.Update(ctx, trade); err != nil {
		i.logger.Error(ctx, err, "Failed to persist stream update", map[string]interface{}{"tradeID": trade.ID})
		return
	}

	i.mu.Lock()
	i.eventsApplied++
	i.mu.Unlock()
	if i.metrics != nil {
		i.metrics.EventsIngested.Inc()
	}
}

// ApplyEvent mutates a trade row per one execution report. Exported for
// the status-sync loop, which replays probe results through the same
// transition rules. created_at and closed_at writes are check-and-set
// against nil and never overwritten.
func ApplyEvent(trade *domain.Trade, event *ports.UserDataEvent) error {
	isExit := event.ReduceOnly || strings.EqualFold(event.Side, string(trade.PositionType.ExitSide()))

	switch event.Status {
	case "FILLED", "PARTIALLY_FILLED":
		if event.FilledQty == 0 {
			return fmt.Errorf("fill event with zero quantity")
		}
		trade.BinanceResponse = appendRaw(trade.BinanceResponse, event.Raw)

		if !isExit {
			if trade.CreatedAt == nil {
				ts := event.EventTime
				trade.CreatedAt = &ts
			}
			if event.AvgPrice > 0 {
				trade.BinanceEntryPrice = event.AvgPrice
				trade.EntryPrice = event.AvgPrice
			}
			trade.PositionSize = event.FilledQty
			if event.Status == "FILLED" || trade.Status == domain.StatusPending {
				trade.Status = domain.StatusOpen
			}
			return nil
		}

		// Exit fill.
		if event.AvgPrice > 0 {
			trade.ExitPrice = event.AvgPrice
		} else if event.LastPrice > 0 {
			trade.ExitPrice = event.LastPrice
		}
		if event.RealizedPnl != 0 {
			pnl := event.RealizedPnl
			if trade.PnlUSD != nil {
				pnl += *trade.PnlUSD
			}
			trade.PnlUSD = &pnl
		}
		remaining := trade.PositionSize - event.FilledQty
		if event.Status == "FILLED" && remaining <= 1e-9 {
			trade.Status = domain.StatusClosed
			trade.PositionSize = 0
			if trade.ClosedAt == nil {
				ts := event.EventTime
				trade.ClosedAt = &ts
			}
		} else {
			trade.Status = domain.StatusPartiallyClosed
			if remaining > 0 {
				trade.PositionSize = remaining
			}
		}
		return nil

	case "CANCELED", "EXPIRED":
		// Terminal only when nothing ever filled.
		if trade.PositionSize > 0 || event.FilledQty > 0 {
			return fmt.Errorf("cancel event after fills, leaving status untouched")
		}
		trade.BinanceResponse = appendRaw(trade.BinanceResponse, event.Raw)
		if event.Status == "CANCELED" {
			trade.Status = domain.StatusCanceled
		} else {
			trade.Status = domain.StatusExpired
		}
		return nil

	case "NEW":
		return nil

	default:
		return fmt.Errorf("unhandled order status %q", event.Status)
	}
}

func appendRaw(existing, raw []byte) []byte {
	if len(raw) == 0 {
		return existing
	}
	return raw
}
