package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tunemesh/tunemesh/internal/peer"
)

// SignalPublisher is the slice of the rendezvous channel the negotiator
// needs: unicast delivery of opaque negotiation payloads.
type SignalPublisher interface {
	PublishSignal(toID string, payload []byte) error
}

type Config struct {
	LocalID string
	Dialer  peer.Dialer
	Signals SignalPublisher
	Logger  *slog.Logger

	// ConnectTimeout is how long a session may sit in negotiating before a
	// warning is logged. The session is not torn down; slow ICE may still
	// succeed, and the relay path covers the interim.
	ConnectTimeout time.Duration
}

// Manager owns the session table. At most one Session exists per peer id;
// duplicate creation requests are no-ops.
type Manager struct {
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	onConnected    func(peerID string)
	onDisconnected func(peerID string)
	onData         func(peerID string, data []byte)
}

func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Manager{
		config:   cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) OnConnected(fn func(peerID string))          { m.mu.Lock(); m.onConnected = fn; m.mu.Unlock() }
func (m *Manager) OnDisconnected(fn func(peerID string))       { m.mu.Lock(); m.onDisconnected = fn; m.mu.Unlock() }
func (m *Manager) OnData(fn func(peerID string, data []byte))  { m.mu.Lock(); m.onData = fn; m.mu.Unlock() }

// EnsureSession creates a session for peerID if none exists. The local role
// is computed from the id pair; initiators start emitting an offer
// immediately.
func (m *Manager) EnsureSession(peerID string) error {
	_, err := m.createSession(peerID, RoleFor(m.config.LocalID, peerID))
	return err
}

func (m *Manager) createSession(peerID string, role Role) (*Session, error) {
	m.mu.Lock()
	if existing, ok := m.sessions[peerID]; ok {
		m.mu.Unlock()
		return existing, nil
	}

	s := &Session{
		PeerID:    peerID,
		Role:      role,
		CreatedAt: time.Now(),
		state:     StateNegotiating,
	}
	m.sessions[peerID] = s
	m.mu.Unlock()

	m.logger.Info("negotiating with peer", "peer", peerID, "role", role.String())

	conn, err := m.config.Dialer.Create(role == RoleInitiator)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, peerID)
		m.mu.Unlock()
		return nil, fmt.Errorf("create connection for %s: %w", peerID, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	conn.OnConnected(func() {
		if !s.setState(StateConnected) {
			return
		}
		m.logger.Info("peer connected", "peer", peerID)
		if fn := m.connectedFn(); fn != nil {
			fn(peerID)
		}
	})

	conn.OnData(func(data []byte) {
		if fn := m.dataFn(); fn != nil {
			fn(peerID, data)
		}
	})

	conn.OnClose(func() {
		m.closeSession(peerID, s)
	})

	// OnLocalSignal last: installing it triggers the initiator's offer.
	conn.OnLocalSignal(func(payload []byte) {
		if err := m.config.Signals.PublishSignal(peerID, payload); err != nil {
			m.logger.Warn("failed to publish signal", "peer", peerID, "error", err)
		}
	})

	timeout := m.config.ConnectTimeout
	time.AfterFunc(timeout, func() {
		if s.State() == StateNegotiating {
			m.logger.Warn("peer still negotiating after timeout; relay path remains in use",
				"peer", peerID, "timeout", timeout)
		}
	})

	return s, nil
}

// HandleSignal routes an inbound negotiation payload. Payloads for known
// sessions are fed through regardless of sub-type. An offer for an unknown
// peer creates a responder session (the remote offer can beat our own
// presence processing); anything else for an unknown peer is stale and is
// dropped.
func (m *Manager) HandleSignal(fromID string, payload []byte) {
	m.mu.Lock()
	s, ok := m.sessions[fromID]
	m.mu.Unlock()

	if !ok {
		if !peer.IsOffer(payload) {
			m.logger.Warn("dropping signal for unknown peer", "peer", fromID)
			return
		}
		created, err := m.createSession(fromID, RoleResponder)
		if err != nil {
			m.logger.Warn("failed to create responder session", "peer", fromID, "error", err)
			return
		}
		s = created
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		m.logger.Warn("dropping signal for session without connection", "peer", fromID)
		return
	}
	if err := conn.Signal(payload); err != nil {
		m.logger.Warn("failed to apply signal", "peer", fromID, "error", err)
	}
}

// Teardown closes and removes the session for peerID, if any.
func (m *Manager) Teardown(peerID string) {
	m.mu.Lock()
	s, ok := m.sessions[peerID]
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	m.closeSession(peerID, s)
}

// closeSession is the single exit path to closed: idempotent, removes the
// session from the table, and fires the disconnect callback.
func (m *Manager) closeSession(peerID string, s *Session) {
	if !s.setState(StateClosed) {
		return
	}

	m.mu.Lock()
	if current, ok := m.sessions[peerID]; ok && current == s {
		delete(m.sessions, peerID)
	}
	m.mu.Unlock()

	m.logger.Info("peer disconnected", "peer", peerID)
	if fn := m.disconnectedFn(); fn != nil {
		fn(peerID)
	}
}

// IsConnected reports whether a live direct channel exists for peerID.
func (m *Manager) IsConnected(peerID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[peerID]
	m.mu.Unlock()
	return ok && s.State() == StateConnected
}

// SendDirect writes data to peerID's direct channel.
func (m *Manager) SendDirect(peerID string, data []byte) error {
	m.mu.Lock()
	s, ok := m.sessions[peerID]
	m.mu.Unlock()
	if !ok || s.State() != StateConnected {
		return fmt.Errorf("no direct channel for peer %s", peerID)
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	return conn.Send(data)
}

// Role returns the local role for an active session.
func (m *Manager) Role(peerID string) (Role, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[peerID]
	if !ok {
		return RoleResponder, false
	}
	return s.Role, true
}

// Peers lists the ids with active sessions.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close tears down every session.
func (m *Manager) Close() {
	for _, id := range m.Peers() {
		m.Teardown(id)
	}
}

func (m *Manager) connectedFn() func(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onConnected
}

func (m *Manager) disconnectedFn() func(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onDisconnected
}

func (m *Manager) dataFn() func(string, []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onData
}
