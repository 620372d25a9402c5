// Package ws is the websocket rendezvous client. All callbacks fire on a
// single read-loop goroutine, so handlers observe rendezvous events in the
// order the hub delivered them.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tunemesh/tunemesh/internal/rendezvous"
)

type Config struct {
	// URL is the hub's websocket endpoint, e.g. ws://host:port/ws.
	URL    string
	Logger *slog.Logger

	// MembersTimeout bounds how long Members waits for the hub's reply.
	MembersTimeout time.Duration
}

type Client struct {
	config Config
	logger *slog.Logger

	localID string
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu          sync.Mutex
	joined      bool
	onEnter     func(string)
	onLeave     func(string)
	onSignal    func(string, []byte)
	onRelay     func(string, []byte)
	onBroadcast func(string, []byte)

	membersCh chan []string
	done      chan struct{}
	closeOnce sync.Once
}

var _ rendezvous.Client = (*Client)(nil)

func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MembersTimeout == 0 {
		cfg.MembersTimeout = 5 * time.Second
	}
	return &Client{
		config:    cfg,
		logger:    logger,
		membersCh: make(chan []string, 1),
		done:      make(chan struct{}),
	}
}

func (c *Client) Join(ctx context.Context, localID string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("dial rendezvous hub: %w", err)
	}

	c.mu.Lock()
	c.localID = localID
	c.conn = conn
	c.joined = true
	c.mu.Unlock()

	if err := c.write(rendezvous.Frame{Kind: rendezvous.FrameJoin, From: localID}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send join frame: %w", err)
	}

	go c.readLoop()
	return nil
}

func (c *Client) Leave() error {
	c.mu.Lock()
	joined := c.joined
	conn := c.conn
	c.joined = false
	c.mu.Unlock()

	if !joined {
		return rendezvous.ErrNotJoined
	}
	c.closeOnce.Do(func() { close(c.done) })
	return conn.Close()
}

func (c *Client) Members() ([]string, error) {
	if err := c.write(rendezvous.Frame{Kind: rendezvous.FrameMembers}); err != nil {
		return nil, err
	}
	select {
	case members := <-c.membersCh:
		return members, nil
	case <-c.done:
		return nil, rendezvous.ErrNotJoined
	case <-time.After(c.config.MembersTimeout):
		return nil, fmt.Errorf("timed out waiting for members snapshot")
	}
}

func (c *Client) OnEnter(fn func(string)) { c.mu.Lock(); c.onEnter = fn; c.mu.Unlock() }
func (c *Client) OnLeave(fn func(string)) { c.mu.Lock(); c.onLeave = fn; c.mu.Unlock() }

func (c *Client) OnSignal(fn func(string, []byte))    { c.mu.Lock(); c.onSignal = fn; c.mu.Unlock() }
func (c *Client) OnRelay(fn func(string, []byte))     { c.mu.Lock(); c.onRelay = fn; c.mu.Unlock() }
func (c *Client) OnBroadcast(fn func(string, []byte)) { c.mu.Lock(); c.onBroadcast = fn; c.mu.Unlock() }

func (c *Client) PublishSignal(toID string, payload []byte) error {
	return c.write(rendezvous.Frame{Kind: rendezvous.FrameSignal, To: toID, Payload: payload})
}

func (c *Client) PublishRelay(toID string, data []byte) error {
	return c.write(rendezvous.Frame{Kind: rendezvous.FrameRelay, To: toID, Payload: data})
}

func (c *Client) PublishBroadcast(data []byte) error {
	return c.write(rendezvous.Frame{Kind: rendezvous.FrameBroadcast, Payload: data})
}

func (c *Client) write(f rendezvous.Frame) error {
	c.mu.Lock()
	joined := c.joined
	conn := c.conn
	c.mu.Unlock()
	if !joined || conn == nil {
		return rendezvous.ErrNotJoined
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(f)
}

func (c *Client) readLoop() {
	for {
		var f rendezvous.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("rendezvous connection lost", "error", err)
			}
			return
		}
		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f rendezvous.Frame) {
	switch f.Kind {
	case rendezvous.FrameEnter:
		if f.From != c.localID {
			if fn := c.enterFn(); fn != nil {
				fn(f.From)
			}
		}
	case rendezvous.FrameLeave:
		if fn := c.leaveFn(); fn != nil {
			fn(f.From)
		}
	case rendezvous.FrameMembers:
		select {
		case c.membersCh <- f.Members:
		default:
		}
	case rendezvous.FrameSignal:
		if fn := c.signalFn(); fn != nil {
			fn(f.From, f.Payload)
		}
	case rendezvous.FrameRelay:
		if fn := c.relayFn(); fn != nil {
			fn(f.From, f.Payload)
		}
	case rendezvous.FrameBroadcast:
		if fn := c.broadcastFn(); fn != nil {
			fn(f.From, f.Payload)
		}
	default:
		c.logger.Warn("unhandled frame kind", "kind", f.Kind)
	}
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
