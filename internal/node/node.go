// Package node assembles the full peer: rendezvous client, presence
// tracking, session negotiation, message routing, and the transfer engine,
// all bound to one local library. The CLI talks to a Node; everything below
// it is wiring.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tunemesh/tunemesh/internal/dispatch"
	"github.com/tunemesh/tunemesh/internal/library"
	"github.com/tunemesh/tunemesh/internal/peer"
	"github.com/tunemesh/tunemesh/internal/presence"
	"github.com/tunemesh/tunemesh/internal/protocol"
	"github.com/tunemesh/tunemesh/internal/rendezvous"
	"github.com/tunemesh/tunemesh/internal/router"
	"github.com/tunemesh/tunemesh/internal/session"
	"github.com/tunemesh/tunemesh/internal/transfer"
)

type Config struct {
	LocalID    string
	Rendezvous rendezvous.Client
	Dialer     peer.Dialer
	Library    *library.Library
	Logger     *slog.Logger

	// Location, when set, is broadcast on join and every LocationInterval,
	// and returned to peers that ask for it.
	Location         *protocol.Location
	LocationInterval time.Duration

	// LocationRetries caps how many times a peer with no known location is
	// re-asked for one before the node gives up on it.
	LocationRetries int

	ConnectTimeout    time.Duration
	ReconcileInterval time.Duration
	MaxQuietPolls     int
	PaceDelay         time.Duration
	GraceDelay        time.Duration
}

type Node struct {
	config Config
	logger *slog.Logger

	sessions   *session.Manager
	tracker    *presence.Tracker
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	sender     *transfer.Sender
	receiver   *transfer.Receiver

	mu            sync.Mutex
	locations     map[string]protocol.Location
	locationTries map[string]int

	onPeerConnected    func(peerID string)
	onPeerDisconnected func(peerID string)
	onLocation         func(peerID string, loc protocol.Location)
	onPlaylists        func(peerID string, playlists []protocol.PlaylistInfo)
	onItemsMeta        func(peerID string, page protocol.PlaylistItemsMeta)

	cancel context.CancelFunc
}

func New(cfg Config) (*Node, error) {
	if cfg.LocalID == "" {
		return nil, fmt.Errorf("node: local id required")
	}
	if cfg.Rendezvous == nil || cfg.Dialer == nil || cfg.Library == nil {
		return nil, fmt.Errorf("node: rendezvous, dialer and library are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LocationInterval == 0 {
		cfg.LocationInterval = 30 * time.Second
	}
	if cfg.LocationRetries == 0 {
		cfg.LocationRetries = 3
	}

	n := &Node{
		config:        cfg,
		logger:        cfg.Logger,
		locations:     make(map[string]protocol.Location),
		locationTries: make(map[string]int),
	}

	n.sessions = session.NewManager(session.Config{
		LocalID:        cfg.LocalID,
		Dialer:         cfg.Dialer,
		Signals:        cfg.Rendezvous,
		Logger:         cfg.Logger,
		ConnectTimeout: cfg.ConnectTimeout,
	})
	n.tracker = presence.NewTracker(presence.Config{
		LocalID:           cfg.LocalID,
		Directory:         cfg.Rendezvous,
		Logger:            cfg.Logger,
		ReconcileInterval: cfg.ReconcileInterval,
		MaxQuietPolls:     cfg.MaxQuietPolls,
	})
	n.router = router.New(n.sessions, cfg.Rendezvous, cfg.Logger)
	n.dispatcher = dispatch.NewDispatcher(cfg.Logger)

	store := &libraryStore{lib: cfg.Library}
	n.sender = transfer.NewSender(transfer.SenderConfig{
		Delivery:  n.router,
		Source:    store,
		Logger:    cfg.Logger,
		PaceDelay: cfg.PaceDelay,
	})
	n.receiver = transfer.NewReceiver(transfer.ReceiverConfig{
		Store:      store,
		Logger:     cfg.Logger,
		GraceDelay: cfg.GraceDelay,
	})

	return n, nil
}

// Start wires the components together, joins the rendezvous channel, and
// begins presence tracking and location broadcasting.
func (n *Node) Start(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)

	n.config.Rendezvous.OnSignal(n.sessions.HandleSignal)
	n.config.Rendezvous.OnRelay(n.dispatcher.Dispatch)
	n.config.Rendezvous.OnBroadcast(n.dispatcher.Dispatch)

	n.sessions.OnData(n.dispatcher.Dispatch)
	n.sessions.OnConnected(func(peerID string) {
		if fn := n.onPeerConnected; fn != nil {
			fn(peerID)
		}
	})
	n.sessions.OnDisconnected(func(peerID string) {
		if fn := n.onPeerDisconnected; fn != nil {
			fn(peerID)
		}
	})

	n.tracker.OnAppeared(func(peerID string) {
		if err := n.sessions.EnsureSession(peerID); err != nil {
			n.logger.Warn("failed to open session", "peer", peerID, "error", err)
		}
		n.requestLocation(peerID)
	})
	n.tracker.OnGone(func(peerID string) {
		n.sessions.Teardown(peerID)
		n.receiver.DropPeer(peerID)
		n.sender.CancelPeer(peerID)
		n.mu.Lock()
		delete(n.locations, peerID)
		delete(n.locationTries, peerID)
		n.mu.Unlock()
	})

	n.dispatcher.Register(n.handleMessage(ctx))

	n.tracker.Start(ctx)
	if err := n.config.Rendezvous.Join(ctx, n.config.LocalID); err != nil {
		return fmt.Errorf("join rendezvous: %w", err)
	}
	n.tracker.Reconcile()

	if n.config.Location != nil {
		n.broadcastLocation()
		go n.locationLoop(ctx)
	}

	n.logger.Info("node started", "id", n.config.LocalID)
	return nil
}

// Stop tears down every session and leaves the rendezvous channel.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.sessions.Close()
	if err := n.config.Rendezvous.Leave(); err != nil {
		n.logger.Warn("failed to leave rendezvous", "error", err)
	}
	n.logger.Info("node stopped", "id", n.config.LocalID)
}

func (n *Node) OnPeerConnected(fn func(peerID string))    { n.onPeerConnected = fn }
func (n *Node) OnPeerDisconnected(fn func(peerID string)) { n.onPeerDisconnected = fn }

func (n *Node) OnLocation(fn func(peerID string, loc protocol.Location)) { n.onLocation = fn }

func (n *Node) OnPlaylists(fn func(peerID string, playlists []protocol.PlaylistInfo)) {
	n.onPlaylists = fn
}

func (n *Node) OnItemsMeta(fn func(peerID string, page protocol.PlaylistItemsMeta)) {
	n.onItemsMeta = fn
}

func (n *Node) OnCloneProgress(fn func(fromID string, p transfer.Progress)) {
	n.receiver.OnProgress(fn)
}

func (n *Node) OnCloneDone(fn func(fromID string, r transfer.Result)) { n.receiver.OnDone(fn) }

func (n *Node) OnCloneError(fn func(fromID string, message string)) { n.receiver.OnError(fn) }

// Peers returns the ids currently present on the rendezvous channel.
func (n *Node) Peers() []string { return n.tracker.Known() }

// Locations returns the last known location per peer.
func (n *Node) Locations() map[string]protocol.Location {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]protocol.Location, len(n.locations))
	for id, loc := range n.locations {
		out[id] = loc
	}
	return out
}

// RequestPlaylists asks a peer for its collection listing; the response
// arrives through OnPlaylists.
func (n *Node) RequestPlaylists(peerID string) error {
	return n.router.Send(peerID, protocol.RequestPlaylists{})
}

// RequestItemsMeta asks a peer for one page of a collection's song metadata;
// the response arrives through OnItemsMeta.
func (n *Node) RequestItemsMeta(peerID, collectionID string, page, pageSize int) error {
	return n.router.Send(peerID, protocol.RequestPlaylistItemsMeta{
		CollectionID: collectionID,
		Page:         page,
		PageSize:     pageSize,
	})
}

// Clone asks a peer to stream an entire collection to this node. Progress
// and completion arrive through OnCloneProgress and OnCloneDone.
func (n *Node) Clone(peerID, collectionID string) error {
	return n.router.Send(peerID, protocol.RequestClone{CollectionID: collectionID})
}

// FetchItem asks a peer to stream a single song; it lands as a one-item
// collection.
func (n *Node) FetchItem(peerID, collectionID string, itemIndex int) error {
	return n.router.Send(peerID, protocol.RequestItem{
		CollectionID: collectionID,
		ItemIndex:    itemIndex,
	})
}

// handleMessage is the node's built-in dispatcher handler covering the full
// message vocabulary. CLI-level consumers observe results through the
// callbacks; they do not register protocol handlers of their own.
func (n *Node) handleMessage(ctx context.Context) dispatch.Handler {
	return func(fromID string, msg protocol.Message) error {
		switch m := msg.(type) {
		case *protocol.Location:
			n.mu.Lock()
			n.locations[fromID] = *m
			delete(n.locationTries, fromID)
			fn := n.onLocation
			n.mu.Unlock()
			if fn != nil {
				fn(fromID, *m)
			}

		case *protocol.RequestLocation:
			if n.config.Location == nil {
				return nil
			}
			return n.router.Send(fromID, *n.config.Location)

		case *protocol.RequestPlaylists:
			infos, err := n.config.Library.Collections(ctx)
			if err != nil {
				return fmt.Errorf("list collections: %w", err)
			}
			playlists := make([]protocol.PlaylistInfo, 0, len(infos))
			for _, info := range infos {
				playlists = append(playlists, protocol.PlaylistInfo{
					ID:        info.ID,
					Name:      info.Name,
					ItemCount: info.ItemCount,
				})
			}
			return n.router.Send(fromID, protocol.PlaylistsResponse{Playlists: playlists})

		case *protocol.PlaylistsResponse:
			if fn := n.onPlaylists; fn != nil {
				fn(fromID, m.Playlists)
			}

		case *protocol.RequestPlaylistItemsMeta:
			return n.sendItemsMetaPage(ctx, fromID, m)

		case *protocol.PlaylistItemsMeta:
			if fn := n.onItemsMeta; fn != nil {
				fn(fromID, *m)
			}

		case *protocol.RequestClone:
			go func() {
				if err := n.sender.SendClone(ctx, fromID, m.CollectionID); err != nil {
					n.logger.Warn("clone send failed", "peer", fromID,
						"collection", m.CollectionID, "error", err)
					n.sendCloneError(fromID, err)
				}
			}()

		case *protocol.RequestItem:
			go func() {
				if err := n.sender.SendItem(ctx, fromID, m.CollectionID, m.ItemIndex); err != nil {
					n.logger.Warn("item send failed", "peer", fromID,
						"collection", m.CollectionID, "item", m.ItemIndex, "error", err)
					n.sendCloneError(fromID, err)
				}
			}()

		case *protocol.CloneStart:
			n.receiver.HandleStart(ctx, fromID, *m)
		case *protocol.CloneItemMeta:
			n.receiver.HandleMeta(ctx, fromID, *m)
		case *protocol.CloneItemChunk:
			n.receiver.HandleChunk(ctx, fromID, *m)
		case *protocol.CloneComplete:
			n.receiver.HandleComplete(ctx, fromID, *m)
		case *protocol.CloneError:
			n.receiver.HandleError(fromID, *m)
		}
		return nil
	}
}

func (n *Node) sendItemsMetaPage(ctx context.Context, fromID string, req *protocol.RequestPlaylistItemsMeta) error {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	page := req.Page
	if page < 0 {
		page = 0
	}

	total, err := n.config.Library.CountSongs(ctx, req.CollectionID)
	if err != nil {
		return fmt.Errorf("count songs: %w", err)
	}
	songs, err := n.config.Library.ListSongs(ctx, req.CollectionID, pageSize, page*pageSize)
	if err != nil {
		return fmt.Errorf("list songs: %w", err)
	}

	items := make([]protocol.ItemMeta, 0, len(songs))
	for _, s := range songs {
		items = append(items, protocol.ItemMeta{
			Index:    s.Idx,
			Title:    s.Title,
			Artist:   s.Artist,
			Album:    s.Album,
			Duration: s.Duration,
		})
	}
	return n.router.Send(fromID, protocol.PlaylistItemsMeta{
		CollectionID: req.CollectionID,
		Page:         page,
		PageSize:     pageSize,
		Total:        total,
		Items:        items,
	})
}

func (n *Node) sendCloneError(peerID string, cause error) {
	msg := protocol.CloneError{Message: cause.Error()}
	if err := n.router.Send(peerID, msg); err != nil {
		n.logger.Warn("failed to send clone error", "peer", peerID, "error", err)
	}
}

func (n *Node) broadcastLocation() {
	if err := n.router.Broadcast(*n.config.Location); err != nil {
		n.logger.Warn("location broadcast failed", "error", err)
	}
}

// requestLocation asks one peer for its location, up to the configured retry
// cap across this peer's lifetime in the presence set.
func (n *Node) requestLocation(peerID string) {
	n.mu.Lock()
	if _, known := n.locations[peerID]; known ||
		n.locationTries[peerID] >= n.config.LocationRetries {
		n.mu.Unlock()
		return
	}
	n.locationTries[peerID]++
	n.mu.Unlock()

	if err := n.router.Send(peerID, protocol.RequestLocation{}); err != nil {
		n.logger.Debug("location request failed", "peer", peerID, "error", err)
	}
}

// locationLoop re-broadcasts the local location and re-polls peers whose
// location is still unknown.
func (n *Node) locationLoop(ctx context.Context) {
	ticker := time.NewTicker(n.config.LocationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.broadcastLocation()
			for _, peerID := range n.tracker.Known() {
				n.requestLocation(peerID)
			}
		}
	}
}

// libraryStore adapts the library to the transfer engine's Store and Source
// interfaces.
type libraryStore struct {
	lib *library.Library
}

func (s *libraryStore) CreateCollection(ctx context.Context, name string) (string, error) {
	return s.lib.CreateCollection(ctx, name)
}

func (s *libraryStore) AppendSong(ctx context.Context, collectionID string, song transfer.SongRecord) error {
	return s.lib.AppendSong(ctx, collectionID, library.Song{
		Idx:      song.Idx,
		Title:    song.Title,
		Artist:   song.Artist,
		Album:    song.Album,
		Duration: song.Duration,
		Data:     song.Data,
	})
}

func (s *libraryStore) CountSongs(ctx context.Context, collectionID string) (int, error) {
	return s.lib.CountSongs(ctx, collectionID)
}

func (s *libraryStore) CollectionName(ctx context.Context, collectionID string) (string, error) {
	return s.lib.CollectionName(ctx, collectionID)
}

func (s *libraryStore) SongAt(ctx context.Context, collectionID string, idx int) (transfer.SongRecord, error) {
	song, err := s.lib.SongAt(ctx, collectionID, idx)
	if err != nil {
		return transfer.SongRecord{}, err
	}
	return transfer.SongRecord{
		Idx:      song.Idx,
		Title:    song.Title,
		Artist:   song.Artist,
		Album:    song.Album,
		Duration: song.Duration,
		Data:     song.Data,
	}, nil
}
