package node

import (
	"context"
	"testing"
	"time"

	"github.com/tunemesh/tunemesh/internal/library"
	"github.com/tunemesh/tunemesh/internal/peer"
	"github.com/tunemesh/tunemesh/internal/protocol"
	"github.com/tunemesh/tunemesh/internal/rendezvous/memhub"
)

// inertDialer hands out connections that never finish negotiating, forcing
// every message onto the relay path.
type inertDialer struct{}

type inertConn struct{}

func (inertConn) OnLocalSignal(fn func(payload []byte)) {}
func (inertConn) Signal(payload []byte) error           { return nil }
func (inertConn) OnConnected(fn func())                 {}
func (inertConn) OnData(fn func(data []byte))           {}
func (inertConn) Send(data []byte) error                { return nil }
func (inertConn) OnClose(fn func())                     {}
func (inertConn) Close() error                          { return nil }

func (inertDialer) Create(initiator bool) (peer.Conn, error) { return inertConn{}, nil }

func newRelayOnlyNode(t *testing.T, hub *memhub.Hub, id string, loc *protocol.Location) *Node {
	t.Helper()
	lib, err := library.Open(":memory:")
	if err != nil {
		t.Fatalf("open library: %v", err)
	}
	n, err := New(Config{
		LocalID:    id,
		Rendezvous: hub.NewClient(),
		Dialer:     inertDialer{},
		Library:    lib,
		Location:   loc,
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return n
}

func TestLocations_ExchangedOverRelay(t *testing.T) {
	hub := memhub.NewHub()
	ctx := context.Background()

	u1 := newRelayOnlyNode(t, hub, "u1", &protocol.Location{Lat: 1, Lng: 2, DeviceKind: "desktop"})
	u2 := newRelayOnlyNode(t, hub, "u2", &protocol.Location{Lat: 3, Lng: 4, DeviceKind: "mobile"})

	loc1 := make(chan protocol.Location, 1)
	loc2 := make(chan protocol.Location, 1)
	u1.OnLocation(func(peerID string, loc protocol.Location) {
		if peerID == "u2" {
			select {
			case loc1 <- loc:
			default:
			}
		}
	})
	u2.OnLocation(func(peerID string, loc protocol.Location) {
		if peerID == "u1" {
			select {
			case loc2 <- loc:
			default:
			}
		}
	})

	if err := u1.Start(ctx); err != nil {
		t.Fatalf("start u1: %v", err)
	}
	defer u1.Stop()
	if err := u2.Start(ctx); err != nil {
		t.Fatalf("start u2: %v", err)
	}
	defer u2.Stop()

	// u1 sees u2's join broadcast; u2 learns u1's location by asking for it
	// after discovering u1 in the presence snapshot.
	select {
	case loc := <-loc1:
		if loc.Lat != 3 || loc.DeviceKind != "mobile" {
			t.Errorf("unexpected u2 location: %+v", loc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("u1 never learned u2's location")
	}
	select {
	case loc := <-loc2:
		if loc.Lat != 1 || loc.DeviceKind != "desktop" {
			t.Errorf("unexpected u1 location: %+v", loc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("u2 never learned u1's location")
	}

	if _, ok := u1.Locations()["u2"]; !ok {
		t.Error("expected u2 in u1's location registry")
	}
}

func TestCloneRequest_UnknownCollectionSurfacesError(t *testing.T) {
	hub := memhub.NewHub()
	ctx := context.Background()

	u1 := newRelayOnlyNode(t, hub, "u1", nil)
	u2 := newRelayOnlyNode(t, hub, "u2", nil)

	cloneErr := make(chan string, 1)
	u2.OnCloneError(func(fromID string, message string) { cloneErr <- message })

	if err := u1.Start(ctx); err != nil {
		t.Fatalf("start u1: %v", err)
	}
	defer u1.Stop()
	if err := u2.Start(ctx); err != nil {
		t.Fatalf("start u2: %v", err)
	}
	defer u2.Stop()

	if err := u2.Clone("u1", "no-such-collection"); err != nil {
		t.Fatalf("clone request: %v", err)
	}

	select {
	case msg := <-cloneErr:
		if msg == "" {
			t.Error("expected a rejection message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("clone rejection never arrived")
	}
}

func TestPeers_TracksPresence(t *testing.T) {
	hub := memhub.NewHub()
	ctx := context.Background()

	u1 := newRelayOnlyNode(t, hub, "u1", nil)
	u2 := newRelayOnlyNode(t, hub, "u2", nil)

	if err := u1.Start(ctx); err != nil {
		t.Fatalf("start u1: %v", err)
	}
	defer u1.Stop()
	if err := u2.Start(ctx); err != nil {
		t.Fatalf("start u2: %v", err)
	}

	peers := u1.Peers()
	if len(peers) != 1 || peers[0] != "u2" {
		t.Errorf("expected u1 to see [u2], got %v", peers)
	}
	peers = u2.Peers()
	if len(peers) != 1 || peers[0] != "u1" {
		t.Errorf("expected u2 to see [u1], got %v", peers)
	}

	u2.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(u1.Peers()) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("expected u1's peer set to empty after u2 left, got %v", u1.Peers())
}
