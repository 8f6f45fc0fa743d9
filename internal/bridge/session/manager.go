// Package session tracks driver callback sessions. Each session binds one
// callback id to its lifecycle trackers and connection state.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/d2dlab/nearbridge/internal/bridge/events"
	"github.com/d2dlab/nearbridge/internal/bridge/provider"
	"github.com/d2dlab/nearbridge/internal/bridge/tracker"
)

// Session represents one driver callback registration. It implements the
// provider callback interfaces, forwarding into the trackers while
// recording which endpoints have been locally accepted and which are
// fully connected.
type Session struct {
	CallbackID string
	CreatedAt  time.Time

	connWatch *tracker.Stopwatch
	discWatch *tracker.Stopwatch
	conn      *tracker.ConnectionTracker
	disc      *tracker.DiscoveryTracker
	payloads  *tracker.PayloadTracker

	mu        sync.RWMutex
	accepted  map[string]bool // AcceptConnection called locally
	connected map[string]bool // connection result succeeded
}

var (
	_ provider.ConnectionCallback = (*Session)(nil)
	_ provider.DiscoveryCallback  = (*Session)(nil)
)

func newSession(callbackID string, builder *events.Builder, pub events.Publisher, logger *slog.Logger) *Session {
	connWatch := tracker.NewStopwatch()
	discWatch := tracker.NewStopwatch()
	return &Session{
		CallbackID: callbackID,
		CreatedAt:  time.Now(),
		connWatch:  connWatch,
		discWatch:  discWatch,
		conn:       tracker.NewConnectionTracker(callbackID, connWatch, builder, pub, logger),
		disc:       tracker.NewDiscoveryTracker(callbackID, discWatch, builder, pub, logger),
		payloads:   tracker.NewPayloadTracker(callbackID, builder, pub, logger),
		accepted:   make(map[string]bool),
		connected:  make(map[string]bool),
	}
}

// StartConnectionWatch restarts the handshake stopwatch. Called when the
// originating operation (request connection, start advertising) begins.
func (s *Session) StartConnectionWatch() {
	s.connWatch.Start()
}

// StartDiscoveryWatch restarts the discovery stopwatch.
func (s *Session) StartDiscoveryWatch() {
	s.discWatch.Start()
}

// MarkAccepted records that AcceptConnection was called for the endpoint.
func (s *Session) MarkAccepted(endpointID string) {
	s.mu.Lock()
	s.accepted[endpointID] = true
	s.mu.Unlock()
}

// Accepted reports whether AcceptConnection was called for the endpoint.
// Sending payloads before accepting is a driver error.
func (s *Session) Accepted(endpointID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accepted[endpointID]
}

// Connected reports whether the connection to the endpoint resolved
// successfully and has not been torn down.
func (s *Session) Connected(endpointID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected[endpointID]
}

// ConnectedEndpoints returns the endpoints with established connections.
func (s *Session) ConnectedEndpoints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.connected))
	for id := range s.connected {
		out = append(out, id)
	}
	return out
}

// Payloads returns the payload tracker registered with the provider on
// AcceptConnection.
func (s *Session) Payloads() *tracker.PayloadTracker {
	return s.payloads
}

func (s *Session) OnConnectionInitiated(endpointID string, info provider.ConnectionInfo) {
	s.conn.OnConnectionInitiated(endpointID, info)
}

func (s *Session) OnConnectionResult(endpointID string, res provider.ConnectionResolution) {
	if res.Success {
		s.mu.Lock()
		s.connected[endpointID] = true
		s.mu.Unlock()
	}
	s.conn.OnConnectionResult(endpointID, res)
}

func (s *Session) OnDisconnected(endpointID string) {
	s.mu.Lock()
	delete(s.connected, endpointID)
	delete(s.accepted, endpointID)
	s.mu.Unlock()
	s.conn.OnDisconnected(endpointID)
}

func (s *Session) OnBandwidthChanged(endpointID string, info provider.BandwidthInfo) {
	s.conn.OnBandwidthChanged(endpointID, info)
}

func (s *Session) OnEndpointFound(endpointID string, info provider.DiscoveredEndpointInfo) {
	s.disc.OnEndpointFound(endpointID, info)
}

func (s *Session) OnEndpointLost(endpointID string) {
	s.disc.OnEndpointLost(endpointID)
}

// Manager manages callback sessions
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session // callbackID -> Session
	builder  *events.Builder
	pub      events.Publisher
	logger   *slog.Logger
}

// NewManager creates a new session manager
func NewManager(builder *events.Builder, pub events.Publisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		builder:  builder,
		pub:      pub,
		logger:   logger,
	}
}

// GetOrCreate returns the session for a callback id, creating it on first
// use. Reusing a callback id across operations keeps all its events on
// one subject.
func (m *Manager) GetOrCreate(callbackID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[callbackID]; ok {
		return sess
	}

	sess := newSession(callbackID, m.builder, m.pub, m.logger)
	m.sessions[callbackID] = sess

	m.logger.Info("[Sessions] Session created", "callback_id", callbackID)
	return sess
}

// Get retrieves a session by callback id
func (m *Manager) Get(callbackID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[callbackID]
	return sess, ok
}

// Remove drops a session. Pending transfers keep their tracker until the
// provider delivers terminal updates.
func (m *Manager) Remove(callbackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[callbackID]; !ok {
		return fmt.Errorf("session not found: %s", callbackID)
	}
	delete(m.sessions, callbackID)

	m.logger.Info("[Sessions] Session removed", "callback_id", callbackID)
	return nil
}

// Count returns the number of active sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// All returns a snapshot of the registered sessions.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	return out
}

// CloseAll drops every session
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
}
