package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/tunemesh/tunemesh/internal/node"
	"github.com/tunemesh/tunemesh/internal/peer"
	"github.com/tunemesh/tunemesh/internal/protocol"
	"github.com/tunemesh/tunemesh/internal/rendezvous/ws"
	"github.com/tunemesh/tunemesh/internal/transfer"
)

var (
	flagHubURL          string
	flagPeerID          string
	flagLat             float64
	flagLng             float64
	flagDevice          string
	flagClonePeer       string
	flagCloneCollection string
	flagFetchIndex      int
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "join a mesh and exchange music with its peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()

		lib, err := openLibrary()
		if err != nil {
			return err
		}

		localID := flagPeerID
		if localID == "" {
			localID = uuid.NewString()
		}

		var loc *protocol.Location
		if flagLat != 0 || flagLng != 0 {
			loc = &protocol.Location{Lat: flagLat, Lng: flagLng, DeviceKind: flagDevice}
		}

		n, err := node.New(node.Config{
			LocalID:    localID,
			Rendezvous: ws.NewClient(ws.Config{URL: flagHubURL, Logger: log}),
			Dialer:     peer.NewWebRTCDialer(peer.DefaultSTUNConfig(), log),
			Library:    lib,
			Logger:     log,
			Location:   loc,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cloneDone := installCallbacks(n)

		if err := n.Start(ctx); err != nil {
			return err
		}
		defer n.Stop()

		fmt.Printf("joined as %s\n", localID)

		if flagClonePeer != "" && flagCloneCollection != "" {
			go requestWhenPresent(ctx, n, log)
			select {
			case <-ctx.Done():
			case <-cloneDone:
			}
			return nil
		}

		<-ctx.Done()
		return nil
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagHubURL, "url", "ws://localhost:8080/ws", "rendezvous hub websocket URL")
	joinCmd.Flags().StringVar(&flagPeerID, "id", "", "peer id (random when empty)")
	joinCmd.Flags().Float64Var(&flagLat, "lat", 0, "latitude to broadcast")
	joinCmd.Flags().Float64Var(&flagLng, "lng", 0, "longitude to broadcast")
	joinCmd.Flags().StringVar(&flagDevice, "device", "desktop", "device kind to broadcast")
	joinCmd.Flags().StringVar(&flagClonePeer, "clone-peer", "", "peer id to clone from")
	joinCmd.Flags().StringVar(&flagCloneCollection, "clone-collection", "", "collection id to clone")
	joinCmd.Flags().IntVar(&flagFetchIndex, "fetch-index", -1, "fetch a single song index instead of the whole collection")
}

// installCallbacks prints mesh activity and drives the clone progress bar.
// The returned channel closes when a clone finishes or is aborted.
func installCallbacks(n *node.Node) chan struct{} {
	done := make(chan struct{})

	n.OnPeerConnected(func(peerID string) {
		fmt.Printf("direct channel up: %s\n", peerID)
		if err := n.RequestPlaylists(peerID); err != nil {
			fmt.Printf("could not request playlists from %s: %v\n", peerID, err)
		}
	})
	n.OnPeerDisconnected(func(peerID string) {
		fmt.Printf("direct channel down: %s\n", peerID)
	})
	n.OnLocation(func(peerID string, loc protocol.Location) {
		fmt.Printf("%s is at %.4f,%.4f (%s)\n", peerID, loc.Lat, loc.Lng, loc.DeviceKind)
	})
	n.OnPlaylists(func(peerID string, playlists []protocol.PlaylistInfo) {
		for _, p := range playlists {
			fmt.Printf("%s has %q (%s, %d songs)\n", peerID, p.Name, p.ID, p.ItemCount)
		}
	})

	var bar *progressbar.ProgressBar
	n.OnCloneProgress(func(fromID string, p transfer.Progress) {
		if bar == nil {
			bar = progressbar.Default(int64(p.TotalItems),
				fmt.Sprintf("cloning %s", p.CollectionName))
		}
		_ = bar.Set(p.DoneItems)
	})
	n.OnCloneDone(func(fromID string, r transfer.Result) {
		if bar != nil {
			_ = bar.Finish()
		}
		fmt.Printf("clone of %q finished: %d/%d songs saved\n",
			r.CollectionName, r.SavedItems, r.DeclaredItems)
		close(done)
	})
	n.OnCloneError(func(fromID string, message string) {
		fmt.Printf("clone aborted by %s: %s\n", fromID, message)
		close(done)
	})

	return done
}

// requestWhenPresent waits for the clone source to show up in the presence
// set, then sends the clone (or single item) request.
func requestWhenPresent(ctx context.Context, n *node.Node, log *slog.Logger) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		present := false
		for _, id := range n.Peers() {
			if id == flagClonePeer {
				present = true
				break
			}
		}
		if !present {
			continue
		}

		var err error
		if flagFetchIndex >= 0 {
			err = n.FetchItem(flagClonePeer, flagCloneCollection, flagFetchIndex)
		} else {
			err = n.Clone(flagClonePeer, flagCloneCollection)
		}
		if err != nil {
			log.Warn("clone request failed; retrying", "peer", flagClonePeer, "error", err)
			continue
		}
		return
	}
}
