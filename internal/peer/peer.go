// Package peer defines the negotiation primitive used to establish direct
// data channels, and its WebRTC implementation. The negotiator above this
// package treats signal payloads as opaque; only this package interprets
// their sub-types (offer, answer, candidate).
package peer

import "encoding/json"

// Conn is one end of a (possibly still negotiating) direct link. Install
// callbacks before feeding signals; the initiator's offer is generated once
// OnLocalSignal is set.
type Conn interface {
	// OnLocalSignal registers the sink for locally generated negotiation
	// payloads, which the caller forwards to the remote peer.
	OnLocalSignal(fn func(payload []byte))
	// Signal feeds a remote negotiation payload of any sub-type.
	Signal(payload []byte) error
	// OnConnected fires once, when the data channel becomes usable.
	OnConnected(fn func())
	OnData(fn func(data []byte))
	Send(data []byte) error
	// OnClose fires once, on channel close or irrecoverable failure.
	OnClose(fn func())
	Close() error
}

// Dialer creates connections. Exactly one side of a peer pair passes
// initiator=true; the negotiator derives that from the id ordering.
type Dialer interface {
	Create(initiator bool) (Conn, error)
}

type signalKind string

const (
	signalOffer     signalKind = "offer"
	signalAnswer    signalKind = "answer"
	signalCandidate signalKind = "candidate"
)

// signalPayload is the wire form of one negotiation message.
type signalPayload struct {
	Kind      signalKind      `json:"kind"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// IsOffer reports whether payload is an offer. The negotiator uses this to
// decide whether an unknown-session signal should spawn a responder session
// or be dropped as stale.
func IsOffer(payload []byte) bool {
	var sp signalPayload
	if err := json.Unmarshal(payload, &sp); err != nil {
		return false
	}
	return sp.Kind == signalOffer
}
