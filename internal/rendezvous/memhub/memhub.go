// Package memhub is an in-process rendezvous implementation used by tests
// and single-process demos. Delivery is synchronous on the publisher's
// goroutine; the hub lock is never held while callbacks run, so handlers
// may publish back into the hub.
package memhub

import (
	"context"
	"fmt"
	"sync"

	"github.com/tunemesh/tunemesh/internal/rendezvous"
)

type Hub struct {
	mu    sync.Mutex
	peers map[string]*Client
}

func NewHub() *Hub {
	return &Hub{peers: make(map[string]*Client)}
}

// NewClient returns an unjoined client bound to this hub.
func (h *Hub) NewClient() *Client {
	return &Client{hub: h}
}

func (h *Hub) peer(id string) (*Client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.peers[id]
	return c, ok
}

func (h *Hub) others(selfID string) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Client, 0, len(h.peers))
	for id, c := range h.peers {
		if id != selfID {
			out = append(out, c)
		}
	}
	return out
}

type Client struct {
	hub     *Hub
	localID string

	mu     sync.Mutex
	joined bool

	onEnter     func(string)
	onLeave     func(string)
	onSignal    func(string, []byte)
	onRelay     func(string, []byte)
	onBroadcast func(string, []byte)
}

var _ rendezvous.Client = (*Client)(nil)

func (c *Client) Join(_ context.Context, localID string) error {
	c.hub.mu.Lock()
	if _, exists := c.hub.peers[localID]; exists {
		c.hub.mu.Unlock()
		return fmt.Errorf("memhub: id %q already joined", localID)
	}
	c.hub.peers[localID] = c
	c.hub.mu.Unlock()

	c.mu.Lock()
	c.localID = localID
	c.joined = true
	c.mu.Unlock()

	for _, other := range c.hub.others(localID) {
		if fn := other.enterFn(); fn != nil {
			fn(localID)
		}
	}
	return nil
}

func (c *Client) Leave() error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return rendezvous.ErrNotJoined
	}
	id := c.localID
	c.joined = false
	c.mu.Unlock()

	c.hub.mu.Lock()
	delete(c.hub.peers, id)
	c.hub.mu.Unlock()

	for _, other := range c.hub.others(id) {
		if fn := other.leaveFn(); fn != nil {
			fn(id)
		}
	}
	return nil
}

func (c *Client) Members() ([]string, error) {
	if !c.isJoined() {
		return nil, rendezvous.ErrNotJoined
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	ids := make([]string, 0, len(c.hub.peers))
	for id := range c.hub.peers {
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Client) OnEnter(fn func(string)) { c.mu.Lock(); c.onEnter = fn; c.mu.Unlock() }
func (c *Client) OnLeave(fn func(string)) { c.mu.Lock(); c.onLeave = fn; c.mu.Unlock() }

func (c *Client) OnSignal(fn func(string, []byte))    { c.mu.Lock(); c.onSignal = fn; c.mu.Unlock() }
func (c *Client) OnRelay(fn func(string, []byte))     { c.mu.Lock(); c.onRelay = fn; c.mu.Unlock() }
func (c *Client) OnBroadcast(fn func(string, []byte)) { c.mu.Lock(); c.onBroadcast = fn; c.mu.Unlock() }

func (c *Client) PublishSignal(toID string, payload []byte) error {
	return c.unicast(toID, payload, func(t *Client) func(string, []byte) { return t.signalFn() })
}

func (c *Client) PublishRelay(toID string, data []byte) error {
	return c.unicast(toID, data, func(t *Client) func(string, []byte) { return t.relayFn() })
}

func (c *Client) PublishBroadcast(data []byte) error {
	if !c.isJoined() {
		return rendezvous.ErrNotJoined
	}
	from := c.id()
	for _, other := range c.hub.others(from) {
		if fn := other.broadcastFn(); fn != nil {
			fn(from, data)
		}
	}
	return nil
}

func (c *Client) unicast(toID string, data []byte, pick func(*Client) func(string, []byte)) error {
	if !c.isJoined() {
		return rendezvous.ErrNotJoined
	}
	target, ok := c.hub.peer(toID)
	if !ok {
		return fmt.Errorf("memhub: no such peer %q", toID)
	}
	if fn := pick(target); fn != nil {
		fn(c.id(), data)
	}
	return nil
}

func (c *Client) isJoined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

func (c *Client) id() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID
}

func (c *Client) enterFn() func(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onEnter
}

func (c *Client) leaveFn() func(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onLeave
}

func (c *Client) signalFn() func(string, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onSignal
}

func (c *Client) relayFn() func(string, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onRelay
}

func (c *Client) broadcastFn() func(string, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onBroadcast
}
