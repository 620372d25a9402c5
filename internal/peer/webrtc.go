package peer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v3"
)

// DefaultSTUNConfig returns the WebRTC configuration used when none is
// supplied: public STUN only, all transport policies allowed.
func DefaultSTUNConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{
					"stun:stun.l.google.com:19302",
					"stun:stun1.l.google.com:19302",
					"stun:stun2.l.google.com:19302",
					"stun:stun3.l.google.com:19302",
					"stun:stun4.l.google.com:19302",
				},
			},
		},
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
}

// DefaultDataChannelConfig returns the init used for the "data" channel:
// ordered, unlimited retransmits.
func DefaultDataChannelConfig() *webrtc.DataChannelInit {
	ordered := true
	protocolName := "song-transfer"
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: nil,
		Protocol:       &protocolName,
	}
}

// WebRTCDialer creates pion-backed connections.
type WebRTCDialer struct {
	Config webrtc.Configuration
	Logger *slog.Logger
}

var _ Dialer = (*WebRTCDialer)(nil)

func NewWebRTCDialer(config webrtc.Configuration, logger *slog.Logger) *WebRTCDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebRTCDialer{Config: config, Logger: logger}
}

func (d *WebRTCDialer) Create(initiator bool) (Conn, error) {
	pc, err := webrtc.NewPeerConnection(d.Config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	c := &webrtcConn{
		pc:        pc,
		initiator: initiator,
		logger:    d.Logger,
	}

	pc.OnICECandidate(func(ice *webrtc.ICECandidate) {
		if ice == nil {
			return
		}
		raw, err := json.Marshal(ice.ToJSON())
		if err != nil {
			c.logger.Warn("failed to marshal ICE candidate", "error", err)
			return
		}
		c.emitLocal(signalPayload{Kind: signalCandidate, Candidate: raw})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Debug("peer connection state changed", "state", s.String())
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.fireClose()
		}
	})

	if initiator {
		dc, err := pc.CreateDataChannel("data", DefaultDataChannelConfig())
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("create data channel: %w", err)
		}
		c.setupDataChannel(dc)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			c.setupDataChannel(dc)
		})
	}

	return c, nil
}

type webrtcConn struct {
	pc        *webrtc.PeerConnection
	initiator bool
	logger    *slog.Logger

	mu            sync.Mutex
	dc            *webrtc.DataChannel
	onLocalSignal func([]byte)
	onConnected   func()
	onData        func([]byte)
	onClose       func()
	offerSent     bool

	// Local signals generated before OnLocalSignal is installed, and remote
	// candidates that arrived before the remote description.
	pendingLocal   [][]byte
	pendingRemote  []webrtc.ICECandidateInit
	connectedOnce  sync.Once
	closeOnce      sync.Once
}

func (c *webrtcConn) setupDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.logger.Debug("data channel open", "label", dc.Label())
		c.fireConnected()
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.mu.Lock()
		fn := c.onData
		c.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})

	dc.OnError(func(err error) {
		c.logger.Warn("data channel error", "error", err)
	})

	dc.OnClose(func() {
		c.fireClose()
	})
}

func (c *webrtcConn) OnLocalSignal(fn func([]byte)) {
	c.mu.Lock()
	c.onLocalSignal = fn
	pending := c.pendingLocal
	c.pendingLocal = nil
	c.mu.Unlock()

	for _, payload := range pending {
		fn(payload)
	}

	if c.initiator {
		c.negotiate()
	}
}

// negotiate generates and emits the initiator's offer.
func (c *webrtcConn) negotiate() {
	c.mu.Lock()
	if c.offerSent {
		c.mu.Unlock()
		return
	}
	c.offerSent = true
	c.mu.Unlock()

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.logger.Warn("failed to create offer", "error", err)
		return
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		c.logger.Warn("failed to set local description", "error", err)
		return
	}
	c.emitLocal(signalPayload{Kind: signalOffer, SDP: offer.SDP})
}

func (c *webrtcConn) Signal(payload []byte) error {
	var sp signalPayload
	if err := json.Unmarshal(payload, &sp); err != nil {
		return fmt.Errorf("unmarshal signal payload: %w", err)
	}

	switch sp.Kind {
	case signalOffer:
		if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  sp.SDP,
		}); err != nil {
			return fmt.Errorf("set remote offer: %w", err)
		}
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := c.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local answer: %w", err)
		}
		c.emitLocal(signalPayload{Kind: signalAnswer, SDP: answer.SDP})
		c.flushRemoteCandidates()
		return nil

	case signalAnswer:
		if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  sp.SDP,
		}); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}
		c.flushRemoteCandidates()
		return nil

	case signalCandidate:
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal(sp.Candidate, &init); err != nil {
			return fmt.Errorf("unmarshal ICE candidate: %w", err)
		}
		// Candidates can outrun the SDP on the signaling path; hold them
		// until the remote description lands.
		c.mu.Lock()
		if c.pc.RemoteDescription() == nil {
			c.pendingRemote = append(c.pendingRemote, init)
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		if err := c.pc.AddICECandidate(init); err != nil {
			return fmt.Errorf("add ICE candidate: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown signal kind %q", sp.Kind)
	}
}

func (c *webrtcConn) flushRemoteCandidates() {
	c.mu.Lock()
	pending := c.pendingRemote
	c.pendingRemote = nil
	c.mu.Unlock()

	for _, init := range pending {
		if err := c.pc.AddICECandidate(init); err != nil {
			c.logger.Warn("failed to add buffered ICE candidate", "error", err)
		}
	}
}

func (c *webrtcConn) OnConnected(fn func()) {
	c.mu.Lock()
	c.onConnected = fn
	c.mu.Unlock()
}

func (c *webrtcConn) OnData(fn func([]byte)) {
	c.mu.Lock()
	c.onData = fn
	c.mu.Unlock()
}

func (c *webrtcConn) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *webrtcConn) Send(data []byte) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil {
		return fmt.Errorf("data channel not ready")
	}
	return dc.Send(data)
}

func (c *webrtcConn) Close() error {
	err := c.pc.Close()
	c.fireClose()
	return err
}

func (c *webrtcConn) emitLocal(sp signalPayload) {
	payload, err := json.Marshal(sp)
	if err != nil {
		c.logger.Warn("failed to marshal signal payload", "kind", sp.Kind, "error", err)
		return
	}

	c.mu.Lock()
	fn := c.onLocalSignal
	if fn == nil {
		c.pendingLocal = append(c.pendingLocal, payload)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn(payload)
}

func (c *webrtcConn) fireConnected() {
	c.connectedOnce.Do(func() {
		c.mu.Lock()
		fn := c.onConnected
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

func (c *webrtcConn) fireClose() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		fn := c.onClose
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}
