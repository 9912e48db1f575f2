// Package syncer runs the periodic reconciliation loops that repair drift
// between trade rows and venue state: order status, PnL, orphaned
// protective orders, balances, and position/trade divergence.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BrianElionDev/BuyBot/internal/metrics"
	"github.com/BrianElionDev/BuyBot/internal/ports"
)

// Loop is one reconciliation loop. Run must be idempotent: loops may
// observe stale state and run concurrently with the event ingestor.
type Loop struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// LoopStatus is a snapshot of one loop's health for the status endpoint.
type LoopStatus struct {
	Interval  string    `json:"interval"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
	Running   bool      `json:"running"`
}

// Scheduler drives the loops on their intervals. Each loop has a
// single-flight guard so overlapping runs do not occur, and a panic in a
// loop never takes the scheduler down.
type Scheduler struct {
	logger  ports.Logger
	metrics *metrics.Metrics
	loops   []*Loop

	mu     sync.Mutex
	states map[string]*loopState
}

type loopState struct {
	running  bool
	lastRun  time.Time
	lastErr  string
	runs     int64
	failures int64
}

// NewScheduler creates a scheduler over the given loops.
func NewScheduler(logger ports.Logger, m *metrics.Metrics, loops ...*Loop) *Scheduler {
	states := make(map[string]*loopState, len(loops))
	for _, l := range loops {
		states[l.Name] = &loopState{}
	}
	return &Scheduler{logger: logger, metrics: m, loops: loops, states: states}
}

// Start launches one worker per loop and blocks until the context ends.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, loop := range s.loops {
		wg.Add(1)
		go func(l *Loop) {
			defer wg.Done()
			ticker := time.NewTicker(l.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.runOnce(ctx, l)
				case <-ctx.Done():
					return
				}
			}
		}(loop)
	}
	wg.Wait()
}

// Trigger runs one loop by name immediately. Idempotent: a loop already
// running is not started twice.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	for _, l := range s.loops {
		if l.Name == name {
			s.runOnce(ctx, l)
			return nil
		}
	}
	return fmt.Errorf("no loop named %q", name)
}

// Status returns a snapshot of every loop.
func (s *Scheduler) Status() map[string]LoopStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]LoopStatus, len(s.loops))
	for _, l := range s.loops {
		st := s.states[l.Name]
		out[l.Name] = LoopStatus{
			Interval:  l.Interval.String(),
			LastRun:   st.lastRun,
			LastError: st.lastErr,
			Runs:      st.runs,
			Failures:  st.failures,
			Running:   st.running,
		}
	}
	return out
}

func (s *Scheduler) runOnce(ctx context.Context, l *Loop) {
	s.mu.Lock()
	st := s.states[l.Name]
	if st.running {
		s.mu.Unlock()
		s.logger.Debug(ctx, "Sync loop still running, skipping tick", map[string]interface{}{"loop": l.Name})
		return
	}
	st.running = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, fmt.Errorf("panic: %v", r), "Sync loop panicked", map[string]interface{}{"loop": l.Name})
			s.finish(l.Name, fmt.Errorf("panic: %v", r))
		}
	}()

	if s.metrics != nil {
		s.metrics.SyncRuns.WithLabelValues(l.Name).Inc()
	}
	err := l.Run(ctx)
	s.finish(l.Name, err)
	if err != nil {
		if s.metrics != nil {
			s.metrics.SyncFailures.WithLabelValues(l.Name).Inc()
		}
		s.logger.Error(ctx, err, "Sync loop failed", map[string]interface{}{"loop": l.Name})
	}
}

func (s *Scheduler) finish(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[name]
	st.running = false
	st.lastRun = time.Now().UTC()
	st.runs++
	if err != nil {
		st.failures++
		st.lastErr = err.Error()
	} else {
		st.lastErr = ""
	}
}
