package rendezvous

import "encoding/json"

// Frame is the JSON message exchanged between the websocket client and the
// hub server. One frame kind per rendezvous primitive.
type Frame struct {
	Kind    FrameKind       `json:"kind"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Members []string        `json:"members,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type FrameKind string

const (
	FrameJoin      FrameKind = "join"
	FrameEnter     FrameKind = "enter"
	FrameLeave     FrameKind = "leave"
	FrameMembers   FrameKind = "members"
	FrameSignal    FrameKind = "signal"
	FrameRelay     FrameKind = "relay"
	FrameBroadcast FrameKind = "broadcast"
)
