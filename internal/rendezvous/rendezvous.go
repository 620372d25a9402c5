// Package rendezvous defines the boundary to the shared discovery service:
// a presence registry plus unicast (signal, relay) and broadcast delivery,
// all addressed by opaque peer identifiers. Implementations live in the
// memhub (in-process) and ws (websocket) subpackages.
package rendezvous

import (
	"context"
	"errors"
)

var ErrNotJoined = errors.New("rendezvous: not joined")

// Client is one peer's handle on the rendezvous channel. Callbacks must be
// installed before Join; implementations invoke them from a single delivery
// goroutine so handlers never race each other.
type Client interface {
	// Join registers localID in the presence registry and starts delivery.
	Join(ctx context.Context, localID string) error
	// Leave deregisters and stops delivery. The client is not reusable.
	Leave() error

	// Members returns a point-in-time snapshot of present peer ids,
	// including the local one.
	Members() ([]string, error)

	OnEnter(fn func(peerID string))
	OnLeave(fn func(peerID string))

	// PublishSignal delivers a negotiation payload to one peer.
	PublishSignal(toID string, payload []byte) error
	OnSignal(fn func(fromID string, payload []byte))

	// PublishRelay delivers an application message to one peer without a
	// direct channel. Subject to the relay's per-message size ceiling.
	PublishRelay(toID string, data []byte) error
	OnRelay(fn func(fromID string, data []byte))

	PublishBroadcast(data []byte) error
	OnBroadcast(fn func(fromID string, data []byte))
}
