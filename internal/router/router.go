// Package router picks the delivery path for outbound messages: the direct
// data channel when one is connected, the rendezvous relay otherwise. It
// adds no queueing or retry of its own; transport failures surface to the
// caller.
package router

import (
	"fmt"
	"log/slog"

	"github.com/tunemesh/tunemesh/internal/protocol"
)

// Direct is the session manager's sending surface.
type Direct interface {
	IsConnected(peerID string) bool
	SendDirect(peerID string, data []byte) error
}

// Relay is the rendezvous channel's fallback delivery surface.
type Relay interface {
	PublishRelay(toID string, data []byte) error
	PublishBroadcast(data []byte) error
}

type Router struct {
	direct Direct
	relay  Relay
	logger *slog.Logger
}

func New(direct Direct, relay Relay, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{direct: direct, relay: relay, logger: logger}
}

// Send delivers msg to peerID over the best available path. With no direct
// channel it falls back to the relay, so delivery can be attempted even
// mid-negotiation.
func (r *Router) Send(peerID string, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type(), err)
	}

	if r.direct.IsConnected(peerID) {
		if err := r.direct.SendDirect(peerID, data); err != nil {
			return fmt.Errorf("direct send %s to %s: %w", msg.Type(), peerID, err)
		}
		return nil
	}

	if err := r.relay.PublishRelay(peerID, data); err != nil {
		return fmt.Errorf("relay %s to %s: %w", msg.Type(), peerID, err)
	}
	return nil
}

// Broadcast delivers msg to all present peers via the rendezvous channel.
// Direct channels are point-to-point; there is no direct broadcast.
func (r *Router) Broadcast(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	if err := r.relay.PublishBroadcast(data); err != nil {
		return fmt.Errorf("broadcast %s: %w", msg.Type(), err)
	}
	return nil
}

// IsDirectlyConnected reports whether a live direct channel exists; higher
// layers use it to pick chunk sizing.
func (r *Router) IsDirectlyConnected(peerID string) bool {
	return r.direct.IsConnected(peerID)
}
