package integration

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tunemesh/tunemesh/internal/peer"
)

// switchboard pairs pipe connections through offer/answer payloads shaped
// like the real negotiation wire format, so the session layer above cannot
// tell it apart from a WebRTC dialer.
type switchboard struct {
	mu      sync.Mutex
	nextID  int
	waiting map[string]*pipeConn
}

func newSwitchboard() *switchboard {
	return &switchboard{waiting: make(map[string]*pipeConn)}
}

func (s *switchboard) NewDialer() peer.Dialer {
	return &pipeDialer{board: s}
}

func (s *switchboard) register(c *pipeConn) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	token := fmt.Sprintf("pipe-%d", s.nextID)
	s.waiting[token] = c
	return token
}

func (s *switchboard) take(token string) *pipeConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.waiting[token]
	delete(s.waiting, token)
	return c
}

type pipeDialer struct {
	board *switchboard
}

func (d *pipeDialer) Create(initiator bool) (peer.Conn, error) {
	return &pipeConn{board: d.board, initiator: initiator}, nil
}

// pipeConn is an in-process stand-in for a data channel. The initiator
// advertises a pairing token as its offer; the responder resolves the token
// and links the two ends, at which point both report connected.
type pipeConn struct {
	board     *switchboard
	initiator bool

	mu          sync.Mutex
	other       *pipeConn
	connected   bool
	closed      bool
	onLocal     func(payload []byte)
	onConnected func()
	onData      func(data []byte)
	onClose     func()
}

type pipeSignal struct {
	Kind string `json:"kind"`
	SDP  string `json:"sdp,omitempty"`
}

func (c *pipeConn) OnLocalSignal(fn func(payload []byte)) {
	c.mu.Lock()
	c.onLocal = fn
	init := c.initiator
	c.mu.Unlock()

	if init {
		token := c.board.register(c)
		payload, _ := json.Marshal(pipeSignal{Kind: "offer", SDP: token})
		fn(payload)
	}
}

func (c *pipeConn) Signal(payload []byte) error {
	var sig pipeSignal
	if err := json.Unmarshal(payload, &sig); err != nil {
		return err
	}

	switch sig.Kind {
	case "offer":
		initiator := c.board.take(sig.SDP)
		if initiator == nil {
			return fmt.Errorf("no pipe waiting for token %s", sig.SDP)
		}
		c.link(initiator)

		c.mu.Lock()
		reply := c.onLocal
		c.mu.Unlock()
		if reply != nil {
			answer, _ := json.Marshal(pipeSignal{Kind: "answer", SDP: sig.SDP})
			reply(answer)
		}
	case "answer", "candidate":
		// The link is already established by the responder; nothing to do.
	}
	return nil
}

func (c *pipeConn) link(other *pipeConn) {
	c.mu.Lock()
	c.other = other
	c.connected = true
	connectedA := c.onConnected
	c.mu.Unlock()

	other.mu.Lock()
	other.other = c
	other.connected = true
	connectedB := other.onConnected
	other.mu.Unlock()

	if connectedA != nil {
		connectedA()
	}
	if connectedB != nil {
		connectedB()
	}
}

func (c *pipeConn) OnConnected(fn func()) {
	c.mu.Lock()
	c.onConnected = fn
	c.mu.Unlock()
}

func (c *pipeConn) OnData(fn func(data []byte)) {
	c.mu.Lock()
	c.onData = fn
	c.mu.Unlock()
}

func (c *pipeConn) Send(data []byte) error {
	c.mu.Lock()
	other := c.other
	ok := c.connected && !c.closed
	c.mu.Unlock()
	if !ok || other == nil {
		return fmt.Errorf("pipe not connected")
	}

	other.mu.Lock()
	fn := other.onData
	other.mu.Unlock()
	if fn != nil {
		fn(data)
	}
	return nil
}

func (c *pipeConn) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *pipeConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	other := c.other
	c.other = nil
	fn := c.onClose
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
	if other != nil {
		_ = other.Close()
	}
	return nil
}
