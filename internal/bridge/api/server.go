// Package api exposes the bridge operations over HTTP for the test driver,
// plus a WebSocket stream of connectivity events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	typesv1 "github.com/d2dlab/nearbridge/api/types/v1"
	"github.com/d2dlab/nearbridge/internal/bridge/events"
	"github.com/d2dlab/nearbridge/internal/bridge/medium"
	"github.com/d2dlab/nearbridge/internal/bridge/provider"
	"github.com/d2dlab/nearbridge/internal/bridge/service"
)

// BridgeProvider provides the driver operations for the API.
// Implemented by service.Bridge.
type BridgeProvider interface {
	StartAdvertising(ctx context.Context, req typesv1.StartAdvertisingRequest) error
	StopAdvertising(ctx context.Context, callbackID string) error
	StartDiscovery(ctx context.Context, req typesv1.StartDiscoveryRequest) error
	StopDiscovery(ctx context.Context, callbackID string) error
	RequestConnection(ctx context.Context, req typesv1.RequestConnectionRequest) error
	AcceptConnection(ctx context.Context, req typesv1.AcceptConnectionRequest) error
	Disconnect(ctx context.Context, req typesv1.DisconnectRequest) error
	StopAllEndpoints(ctx context.Context, callbackID string) error
	SendPayload(ctx context.Context, req typesv1.SendPayloadRequest) ([]int64, error)
	TransferFilesCleanup(ctx context.Context, callbackID string) (int, error)
	LocalEndpointID(ctx context.Context) (string, error)
	Stats() service.Stats
}

// EventSource provides per-session event subscriptions for the stream
// endpoint. Implemented by events.Bus.
type EventSource interface {
	Subscribe(callbackID string) (<-chan events.Event, func())
	Len() int
	Dropped() int64
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

const wsPingInterval = 20 * time.Second

// Server provides the HTTP API for the bridge (headless, API only)
type Server struct {
	addr       string
	httpServer *http.Server
	bridge     BridgeProvider
	eventsrc   EventSource
	logger     *slog.Logger
	startTime  time.Time
	wsClients  atomic.Int64
}

// NewServer creates a new API server. registry may be nil to disable the
// /metrics endpoint.
func NewServer(addr string, bridge BridgeProvider, eventsrc EventSource, registry *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:      addr,
		bridge:    bridge,
		eventsrc:  eventsrc,
		logger:    logger,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()

	// Health and stats
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/endpoint", s.handleEndpoint)

	// Advertising and discovery
	mux.HandleFunc("/api/v1/advertising/start", s.handleStartAdvertising)
	mux.HandleFunc("/api/v1/advertising/stop", s.handleStopAdvertising)
	mux.HandleFunc("/api/v1/discovery/start", s.handleStartDiscovery)
	mux.HandleFunc("/api/v1/discovery/stop", s.handleStopDiscovery)

	// Connections
	mux.HandleFunc("/api/v1/connections/request", s.handleRequestConnection)
	mux.HandleFunc("/api/v1/connections/accept", s.handleAcceptConnection)
	mux.HandleFunc("/api/v1/connections/disconnect", s.handleDisconnect)
	mux.HandleFunc("/api/v1/endpoints/stopall", s.handleStopAllEndpoints)

	// Payloads
	mux.HandleFunc("/api/v1/payloads/send", s.handleSendPayload)
	mux.HandleFunc("/api/v1/payloads/cleanup", s.handleCleanup)

	// Event stream
	mux.HandleFunc("/api/v1/events", s.handleEventStream)

	if registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

// Handler exposes the underlying mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving HTTP requests until Stop is called or the
// listener fails.
func (s *Server) ListenAndServe() error {
	s.logger.Info("[API] Starting HTTP API server", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	s.logger.Info("[API] Starting HTTP API server", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("[API] Server error", "error", err)
			panic(err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// --- Health & Stats ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, typesv1.HealthResponse{
		Status: "ok",
		Uptime: int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.bridge.Stats()
	resp := typesv1.StatsResponse{
		ActiveSessions:  stats.ActiveSessions,
		ActiveTransfers: stats.ActiveTransfers,
		Advertising:     stats.Advertising,
		Discovering:     stats.Discovering,
	}
	if s.eventsrc != nil {
		resp.EventSubscribers = s.eventsrc.Len()
		resp.EventsDropped = s.eventsrc.Dropped()
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := s.bridge.LocalEndpointID(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, typesv1.EndpointResponse{EndpointID: id})
}

// --- Advertising & Discovery ---

func (s *Server) handleStartAdvertising(w http.ResponseWriter, r *http.Request) {
	var req typesv1.StartAdvertisingRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.finish(w, s.bridge.StartAdvertising(r.Context(), req))
}

func (s *Server) handleStopAdvertising(w http.ResponseWriter, r *http.Request) {
	var req typesv1.StopRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.finish(w, s.bridge.StopAdvertising(r.Context(), req.CallbackID))
}

func (s *Server) handleStartDiscovery(w http.ResponseWriter, r *http.Request) {
	var req typesv1.StartDiscoveryRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.finish(w, s.bridge.StartDiscovery(r.Context(), req))
}

func (s *Server) handleStopDiscovery(w http.ResponseWriter, r *http.Request) {
	var req typesv1.StopRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.finish(w, s.bridge.StopDiscovery(r.Context(), req.CallbackID))
}

// --- Connections ---

func (s *Server) handleRequestConnection(w http.ResponseWriter, r *http.Request) {
	var req typesv1.RequestConnectionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.finish(w, s.bridge.RequestConnection(r.Context(), req))
}

func (s *Server) handleAcceptConnection(w http.ResponseWriter, r *http.Request) {
	var req typesv1.AcceptConnectionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.finish(w, s.bridge.AcceptConnection(r.Context(), req))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req typesv1.DisconnectRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.finish(w, s.bridge.Disconnect(r.Context(), req))
}

func (s *Server) handleStopAllEndpoints(w http.ResponseWriter, r *http.Request) {
	var req typesv1.StopRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.finish(w, s.bridge.StopAllEndpoints(r.Context(), req.CallbackID))
}

// --- Payloads ---

func (s *Server) handleSendPayload(w http.ResponseWriter, r *http.Request) {
	var req typesv1.SendPayloadRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	ids, err := s.bridge.SendPayload(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, typesv1.SendPayloadResponse{PayloadIDs: ids})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req typesv1.StopRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	removed, err := s.bridge.TransferFilesCleanup(r.Context(), req.CallbackID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, typesv1.CleanupResponse{Removed: removed})
}

// --- Event stream ---

// handleEventStream upgrades to WebSocket and forwards every event for the
// session named by the callback_id query parameter. An empty callback_id
// subscribes to all sessions.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.eventsrc == nil {
		http.Error(w, "Event stream not configured", http.StatusServiceUnavailable)
		return
	}

	callbackID := r.URL.Query().Get("callback_id")

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("[API] WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, unsub := s.eventsrc.Subscribe(callbackID)
	defer unsub()

	s.wsClients.Add(1)
	defer s.wsClients.Add(-1)
	s.logger.Info("[API] Event stream client connected", "callback_id", callbackID, "remote", r.RemoteAddr)

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				s.logger.Debug("[API] Event stream write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// --- Helpers ---

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// finish acknowledges an operation with no response payload.
func (s *Server) finish(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, typesv1.OperationResponse{OK: true})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var selErr *medium.SelectorError
	switch {
	case errors.As(err, &selErr), errors.Is(err, service.ErrInvalidPayload):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrUnknownSession), errors.Is(err, provider.ErrUnknownEndpoint):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNotAccepted), errors.Is(err, provider.ErrNotConnected):
		status = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(typesv1.OperationResponse{Error: err.Error()}); encErr != nil {
		s.logger.Error("[API] Failed to encode JSON", "error", encErr)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("[API] Failed to encode JSON", "error", err)
	}
}
