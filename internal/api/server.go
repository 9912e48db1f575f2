// Package api exposes the inbound HTTP surface: the signal ingress, the
// health and status endpoints, and the manual scheduler trigger.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BrianElionDev/BuyBot/internal/domain"
	"github.com/BrianElionDev/BuyBot/internal/ingestor"
	"github.com/BrianElionDev/BuyBot/internal/ports"
	"github.com/BrianElionDev/BuyBot/internal/signal"
	"github.com/BrianElionDev/BuyBot/internal/syncer"
)

const (
	ingressQueueDepth = 512
	ingressWorkers    = 4
)

// Server is the HTTP ingress. Signal handling is asynchronous: well-formed
// payloads are acknowledged with 202 and queued; per-trade outcomes land
// on the persistent rows.
type Server struct {
	logger    ports.Logger
	router    *signal.Router
	ingestors map[domain.Platform]*ingestor.Ingestor
	scheduler *syncer.Scheduler
	registry  *prometheus.Registry
	startedAt time.Time

	queue chan *domain.SignalRecord
	http  *http.Server
}

// Config wires the server's collaborators.
type Config struct {
	ListenAddr string
	Logger     ports.Logger
	Router     *signal.Router
	Ingestors  map[domain.Platform]*ingestor.Ingestor
	Scheduler  *syncer.Scheduler
	Registry   *prometheus.Registry
}

// NewServer creates the ingress server.
func NewServer(cfg Config) *Server {
	s := &Server{
		logger:    cfg.Logger,
		router:    cfg.Router,
		ingestors: cfg.Ingestors,
		scheduler: cfg.Scheduler,
		registry:  cfg.Registry,
		startedAt: time.Now(),
		queue:     make(chan *domain.SignalRecord, ingressQueueDepth),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/discord/signal", s.handleSignal).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/discord/signal/update", s.handleSignalUpdate).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/websocket/status", s.handleWebsocketStatus).Methods(http.MethodGet)
	r.HandleFunc("/scheduler/status", s.handleSchedulerStatus).Methods(http.MethodGet)
	r.HandleFunc("/scheduler/run/{loop}", s.handleSchedulerRun).Methods(http.MethodPost)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Start serves HTTP and processes the ingress queue until the context
// ends.
func (s *Server) Start(ctx context.Context) error {
	for i := 0; i < ingressWorkers; i++ {
		go s.worker(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	s.logger.Info(ctx, "HTTP ingress listening", map[string]interface{}{"addr": s.http.Addr})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) worker(ctx context.Context) {
	for {
		select {
		case rec := <-s.queue:
			if err := s.router.Route(ctx, rec); err != nil {
				s.logger.Warn(ctx, "Signal routing failed", map[string]interface{}{
					"discordID": rec.DiscordID, "error": err.Error(),
				})
			}
		case <-ctx.Done():
			return
		}
	}
}

// signalPayload is the inbound signal body.
type signalPayload struct {
	Timestamp  string `json:"timestamp"`
	Content    string `json:"content"`
	Structured string `json:"structured,omitempty"`
	DiscordID  string `json:"discord_id,omitempty"`
	Trade      string `json:"trade,omitempty"` // parent discord_id on updates
	Trader     string `json:"trader,omitempty"`
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	s.enqueueSignal(w, r, false)
}

func (s *Server) handleSignalUpdate(w http.ResponseWriter, r *http.Request) {
	s.enqueueSignal(w, r, true)
}

func (s *Server) enqueueSignal(w http.ResponseWriter, r *http.Request, isUpdate bool) {
	var payload signalPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed JSON body"})
		return
	}
	if payload.Timestamp == "" || payload.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "timestamp and content are required"})
		return
	}
	if isUpdate && payload.Trade == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "trade reference is required for updates"})
		return
	}

	ts, err := signal.ParseTimestamp(payload.Timestamp)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	rec := &domain.SignalRecord{
		Timestamp:  ts,
		Content:    payload.Content,
		Structured: payload.Structured,
		DiscordID:  payload.DiscordID,
		Trader:     payload.Trader,
	}
	if isUpdate {
		rec.ParentRef = payload.Trade
	}

	select {
	case s.queue <- rec:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	default:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ingress queue full"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	subcomponents := map[string]interface{}{}
	healthy := true

	for platform, ing := range s.ingestors {
		st := ing.Status()
		subcomponents["websocket_"+string(platform)] = st
		if !st.Connected {
			healthy = false
		}
	}
	if s.scheduler != nil {
		subcomponents["scheduler"] = s.scheduler.Status()
	}

	status := "ok"
	if !healthy {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        status,
		"uptime":        time.Since(s.startedAt).String(),
		"subcomponents": subcomponents,
	})
}

func (s *Server) handleWebsocketStatus(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]ingestor.Status, len(s.ingestors))
	for platform, ing := range s.ingestors {
		out[string(platform)] = ing.Status()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleSchedulerRun(w http.ResponseWriter, r *http.Request) {
	loop := mux.Vars(r)["loop"]
	if err := s.scheduler.Trigger(r.Context(), loop); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ran", "loop": loop})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
