package router

import (
	"errors"
	"testing"

	"github.com/tunemesh/tunemesh/internal/protocol"
)

type fakeDirect struct {
	connected map[string]bool
	sent      map[string][][]byte
	err       error
}

func newFakeDirect() *fakeDirect {
	return &fakeDirect{connected: make(map[string]bool), sent: make(map[string][][]byte)}
}

func (d *fakeDirect) IsConnected(peerID string) bool { return d.connected[peerID] }

func (d *fakeDirect) SendDirect(peerID string, data []byte) error {
	if d.err != nil {
		return d.err
	}
	d.sent[peerID] = append(d.sent[peerID], data)
	return nil
}

type fakeRelay struct {
	relayed   map[string][][]byte
	broadcast [][]byte
	err       error
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{relayed: make(map[string][][]byte)}
}

func (r *fakeRelay) PublishRelay(toID string, data []byte) error {
	if r.err != nil {
		return r.err
	}
	r.relayed[toID] = append(r.relayed[toID], data)
	return nil
}

func (r *fakeRelay) PublishBroadcast(data []byte) error {
	if r.err != nil {
		return r.err
	}
	r.broadcast = append(r.broadcast, data)
	return nil
}

func TestSend_PrefersDirectChannel(t *testing.T) {
	direct := newFakeDirect()
	relay := newFakeRelay()
	direct.connected["u2"] = true

	r := New(direct, relay, nil)
	if err := r.Send("u2", protocol.RequestPlaylists{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(direct.sent["u2"]) != 1 {
		t.Errorf("expected 1 direct send, got %d", len(direct.sent["u2"]))
	}
	if len(relay.relayed["u2"]) != 0 {
		t.Errorf("expected no relay sends, got %d", len(relay.relayed["u2"]))
	}
}

func TestSend_FallsBackToRelay(t *testing.T) {
	direct := newFakeDirect()
	relay := newFakeRelay()

	r := New(direct, relay, nil)
	if err := r.Send("u2", protocol.RequestPlaylists{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(relay.relayed["u2"]) != 1 {
		t.Errorf("expected 1 relayed send, got %d", len(relay.relayed["u2"]))
	}
	if len(direct.sent["u2"]) != 0 {
		t.Errorf("expected no direct sends, got %d", len(direct.sent["u2"]))
	}
}

func TestSend_DirectFailureSurfaces(t *testing.T) {
	direct := newFakeDirect()
	relay := newFakeRelay()
	direct.connected["u2"] = true
	direct.err = errors.New("channel closed")

	r := New(direct, relay, nil)
	err := r.Send("u2", protocol.RequestPlaylists{})
	if err == nil {
		t.Fatal("expected direct failure to surface")
	}
	// No silent failover: the caller decides what to do.
	if len(relay.relayed["u2"]) != 0 {
		t.Errorf("expected no relay attempt after direct failure, got %d", len(relay.relayed["u2"]))
	}
}

func TestSend_RelayFailureSurfaces(t *testing.T) {
	direct := newFakeDirect()
	relay := newFakeRelay()
	relay.err = errors.New("hub unavailable")

	r := New(direct, relay, nil)
	if err := r.Send("u2", protocol.RequestPlaylists{}); err == nil {
		t.Fatal("expected relay failure to surface")
	}
}

func TestBroadcast_AlwaysUsesRelay(t *testing.T) {
	direct := newFakeDirect()
	relay := newFakeRelay()
	direct.connected["u2"] = true

	r := New(direct, relay, nil)
	loc := protocol.Location{Lat: 1, Lng: 2, DeviceKind: "desktop"}
	if err := r.Broadcast(loc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(relay.broadcast) != 1 {
		t.Errorf("expected 1 broadcast, got %d", len(relay.broadcast))
	}

	msg, err := protocol.Decode(relay.broadcast[0])
	if err != nil {
		t.Fatalf("broadcast payload not decodable: %v", err)
	}
	if msg.Type() != protocol.MsgLocation {
		t.Errorf("expected location broadcast, got %s", msg.Type())
	}
}

func TestIsDirectlyConnected(t *testing.T) {
	direct := newFakeDirect()
	direct.connected["u2"] = true

	r := New(direct, newFakeRelay(), nil)
	if !r.IsDirectlyConnected("u2") {
		t.Error("expected u2 directly connected")
	}
	if r.IsDirectlyConnected("u3") {
		t.Error("expected u3 not directly connected")
	}
}
