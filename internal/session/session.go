// Package session manages per-peer connection state: one Session per remote
// identifier, a glare-free role assignment derived purely from the two ids,
// and the signal plumbing that drives a Session from negotiating to
// connected.
package session

import (
	"sync"
	"time"

	"github.com/tunemesh/tunemesh/internal/peer"
)

type Role int

const (
	RoleResponder Role = iota
	RoleInitiator
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// RoleFor decides which side initiates negotiation for a peer pair. Both
// sides compute this independently from the same two identifiers, so at most
// one of them ever initiates: the lexicographically greater id.
func RoleFor(localID, remoteID string) Role {
	if localID > remoteID {
		return RoleInitiator
	}
	return RoleResponder
}

type State int

const (
	StateNegotiating State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the connection state for one remote peer. Closed is terminal;
// a reappeared peer gets a brand-new Session.
type Session struct {
	PeerID    string
	Role      Role
	CreatedAt time.Time

	mu    sync.Mutex
	state State
	conn  peer.Conn
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState moves the session forward; transitions out of closed are refused.
func (s *Session) setState(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = next
	return true
}
