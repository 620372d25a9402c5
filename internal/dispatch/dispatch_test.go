package dispatch

import (
	"errors"
	"testing"

	"github.com/tunemesh/tunemesh/internal/protocol"
)

func encode(t *testing.T, msg protocol.Message) []byte {
	t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestDispatch_RunsHandlersInRegistrationOrder(t *testing.T) {
	d := NewDispatcher(nil)

	var order []string
	d.Register(func(fromID string, msg protocol.Message) error {
		order = append(order, "first")
		return nil
	})
	d.Register(func(fromID string, msg protocol.Message) error {
		order = append(order, "second")
		return nil
	})
	d.Register(func(fromID string, msg protocol.Message) error {
		order = append(order, "third")
		return nil
	})

	d.Dispatch("u2", encode(t, protocol.RequestPlaylists{}))

	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Errorf("expected [first second third], got %v", order)
	}
}

func TestDispatch_HandlerErrorDoesNotStopOthers(t *testing.T) {
	d := NewDispatcher(nil)

	var reached bool
	d.Register(func(fromID string, msg protocol.Message) error {
		return errors.New("boom")
	})
	d.Register(func(fromID string, msg protocol.Message) error {
		reached = true
		return nil
	})

	d.Dispatch("u2", encode(t, protocol.RequestPlaylists{}))

	if !reached {
		t.Error("expected second handler to run after first errored")
	}
}

func TestDispatch_HandlerPanicIsContained(t *testing.T) {
	d := NewDispatcher(nil)

	var reached bool
	d.Register(func(fromID string, msg protocol.Message) error {
		panic("handler bug")
	})
	d.Register(func(fromID string, msg protocol.Message) error {
		reached = true
		return nil
	})

	d.Dispatch("u2", encode(t, protocol.RequestPlaylists{}))

	if !reached {
		t.Error("expected second handler to run after first panicked")
	}
}

func TestDispatch_MalformedPayloadDropped(t *testing.T) {
	d := NewDispatcher(nil)

	var called bool
	d.Register(func(fromID string, msg protocol.Message) error {
		called = true
		return nil
	})

	d.Dispatch("u2", []byte("not json"))
	d.Dispatch("u2", []byte(`{"type":"mystery","payload":{}}`))

	if called {
		t.Error("expected no handler runs for malformed payloads")
	}
}

func TestDispatch_PassesDecodedMessageAndSource(t *testing.T) {
	d := NewDispatcher(nil)

	var gotFrom string
	var gotMsg protocol.Message
	d.Register(func(fromID string, msg protocol.Message) error {
		gotFrom = fromID
		gotMsg = msg
		return nil
	})

	d.Dispatch("u7", encode(t, protocol.RequestClone{CollectionID: "c1"}))

	if gotFrom != "u7" {
		t.Errorf("expected source u7, got %s", gotFrom)
	}
	req, ok := gotMsg.(*protocol.RequestClone)
	if !ok {
		t.Fatalf("expected *RequestClone, got %T", gotMsg)
	}
	if req.CollectionID != "c1" {
		t.Errorf("expected collection c1, got %s", req.CollectionID)
	}
}

func TestDeregister_RemovesHandler(t *testing.T) {
	d := NewDispatcher(nil)

	var first, second int
	reg := d.Register(func(fromID string, msg protocol.Message) error {
		first++
		return nil
	})
	d.Register(func(fromID string, msg protocol.Message) error {
		second++
		return nil
	})

	d.Dispatch("u2", encode(t, protocol.RequestPlaylists{}))
	d.Deregister(reg)
	d.Dispatch("u2", encode(t, protocol.RequestPlaylists{}))

	if first != 1 {
		t.Errorf("expected deregistered handler to run once, got %d", first)
	}
	if second != 2 {
		t.Errorf("expected remaining handler to run twice, got %d", second)
	}
}

func TestDeregister_NilAndUnknownIgnored(t *testing.T) {
	d := NewDispatcher(nil)
	d.Deregister(nil)
	d.Deregister(&Registration{id: 999})
}
