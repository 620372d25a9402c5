// Package protocol defines the message vocabulary spoken between peers and
// its JSON wire encoding. Every payload travels inside a tagged envelope
// {"type": ..., "payload": ...}; decoding is a closed switch over the known
// types so malformed or unknown input surfaces as an error instead of a
// half-decoded message.
package protocol

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps msg in its tagged envelope.
func Encode(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msg.Type(), err)
	}
	return json.Marshal(envelope{Type: msg.Type(), Payload: payload})
}

// Decode parses a tagged envelope into its concrete message type. An
// unrecognized type or an undecodable payload is an error; callers drop
// such messages with a warning.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var msg Message
	switch env.Type {
	case MsgLocation:
		msg = &Location{}
	case MsgRequestLocation:
		msg = &RequestLocation{}
	case MsgRequestPlaylists:
		msg = &RequestPlaylists{}
	case MsgPlaylistsResponse:
		msg = &PlaylistsResponse{}
	case MsgRequestPlaylistItemsMeta:
		msg = &RequestPlaylistItemsMeta{}
	case MsgPlaylistItemsMeta:
		msg = &PlaylistItemsMeta{}
	case MsgRequestClone:
		msg = &RequestClone{}
	case MsgRequestItem:
		msg = &RequestItem{}
	case MsgCloneStart:
		msg = &CloneStart{}
	case MsgCloneItemMeta:
		msg = &CloneItemMeta{}
	case MsgCloneItemChunk:
		msg = &CloneItemChunk{}
	case MsgCloneComplete:
		msg = &CloneComplete{}
	case MsgCloneError:
		msg = &CloneError{}
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
		}
	}
	return msg, nil
}
