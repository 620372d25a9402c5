package transfer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tunemesh/tunemesh/internal/protocol"
)

// Store is the storage collaborator the receiver persists into.
type Store interface {
	CreateCollection(ctx context.Context, name string) (string, error)
	AppendSong(ctx context.Context, collectionID string, song SongRecord) error
	CountSongs(ctx context.Context, collectionID string) (int, error)
}

// SongRecord is one reassembled item ready for storage. Data is the
// base64-encoded audio payload.
type SongRecord struct {
	Idx      int
	Title    string
	Artist   string
	Album    string
	Duration float64
	Data     string
}

type ReceiverConfig struct {
	Store  Store
	Logger *slog.Logger

	// GraceDelay is how long the receiver waits after clone-complete before
	// taking the authoritative storage count, letting in-flight reassembly
	// finish.
	GraceDelay time.Duration
}

// Receiver drives the inbound side of the protocol. One clone may be
// in flight per source peer; a single lock serializes all handlers, standing
// in for the event loop the protocol was designed around.
type Receiver struct {
	config ReceiverConfig
	logger *slog.Logger

	mu     sync.Mutex
	clones map[string]*clone

	onProgress func(fromID string, p Progress)
	onDone     func(fromID string, r Result)
	onError    func(fromID string, message string)
}

// clone is the receiving state for one source peer's batch.
type clone struct {
	collectionID   string
	collectionName string
	totalItems     int
	doneItems      int
	startedAt      time.Time
	buffers        map[int]*Buffer
}

func NewReceiver(cfg ReceiverConfig) *Receiver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Receiver{
		config: cfg,
		logger: cfg.Logger,
		clones: make(map[string]*clone),
	}
}

func (r *Receiver) OnProgress(fn func(fromID string, p Progress)) {
	r.mu.Lock()
	r.onProgress = fn
	r.mu.Unlock()
}

func (r *Receiver) OnDone(fn func(fromID string, res Result)) {
	r.mu.Lock()
	r.onDone = fn
	r.mu.Unlock()
}

func (r *Receiver) OnError(fn func(fromID string, message string)) {
	r.mu.Lock()
	r.onError = fn
	r.mu.Unlock()
}

// HandleStart creates the destination collection and opens a new clone for
// the source peer, replacing any stale one.
func (r *Receiver) HandleStart(ctx context.Context, fromID string, msg protocol.CloneStart) {
	collectionID, err := r.config.Store.CreateCollection(ctx, msg.CollectionName)
	if err != nil {
		r.logger.Warn("failed to create destination collection",
			"from", fromID, "name", msg.CollectionName, "error", err)
		return
	}

	r.mu.Lock()
	r.clones[fromID] = &clone{
		collectionID:   collectionID,
		collectionName: msg.CollectionName,
		totalItems:     msg.TotalItems,
		startedAt:      time.Now(),
		buffers:        make(map[int]*Buffer),
	}
	r.mu.Unlock()

	r.logger.Info("clone started", "from", fromID,
		"collection", msg.CollectionName, "items", msg.TotalItems)
}

// HandleMeta attaches an item descriptor, creating the buffer if no chunk
// has arrived yet for that item.
func (r *Receiver) HandleMeta(ctx context.Context, fromID string, msg protocol.CloneItemMeta) {
	r.mu.Lock()
	c, ok := r.clones[fromID]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("dropping item metadata without clone session", "from", fromID, "item", msg.ItemIndex)
		return
	}
	buf := c.buffer(msg.ItemIndex)
	buf.SetMeta(msg)
	p, fn, emit := r.finishIfReady(ctx, fromID, c, msg.ItemIndex, buf)
	r.mu.Unlock()
	if emit && fn != nil {
		fn(fromID, p)
	}
}

// HandleChunk slots one chunk and reassembles the item when the last piece
// lands.
func (r *Receiver) HandleChunk(ctx context.Context, fromID string, msg protocol.CloneItemChunk) {
	r.mu.Lock()
	c, ok := r.clones[fromID]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("dropping chunk without clone session",
			"from", fromID, "item", msg.ItemIndex, "chunk", msg.ChunkIndex)
		return
	}
	buf := c.buffer(msg.ItemIndex)
	buf.AddChunk(msg)
	p, fn, emit := r.finishIfReady(ctx, fromID, c, msg.ItemIndex, buf)
	r.mu.Unlock()
	if emit && fn != nil {
		fn(fromID, p)
	}
}

// finishIfReady runs with r.mu held; the progress callback is returned so
// the caller can invoke it after releasing the lock. Storage failure loses
// the single item; the transfer continues and the final count reports the
// truth.
func (r *Receiver) finishIfReady(ctx context.Context, fromID string, c *clone, itemIndex int, buf *Buffer) (Progress, func(string, Progress), bool) {
	data, meta, ok := buf.TryAssemble()
	if !ok {
		return Progress{}, nil, false
	}

	song := SongRecord{
		Idx:      meta.ItemIndex,
		Title:    meta.Title,
		Artist:   meta.Artist,
		Album:    meta.Album,
		Duration: meta.Duration,
		Data:     data,
	}
	if err := r.config.Store.AppendSong(ctx, c.collectionID, song); err != nil {
		r.logger.Warn("failed to save item; continuing transfer",
			"from", fromID, "item", itemIndex, "error", err)
	}

	delete(c.buffers, itemIndex)
	c.doneItems++

	return c.progress(), r.onProgress, true
}

// HandleComplete waits out the grace delay, then reports the authoritative
// saved count from storage — never the sender's declared total.
func (r *Receiver) HandleComplete(ctx context.Context, fromID string, msg protocol.CloneComplete) {
	r.mu.Lock()
	c, ok := r.clones[fromID]
	r.mu.Unlock()
	if !ok {
		r.logger.Warn("dropping clone-complete without clone session", "from", fromID)
		return
	}

	go func() {
		if r.config.GraceDelay > 0 {
			time.Sleep(r.config.GraceDelay)
		}

		r.mu.Lock()
		current, ok := r.clones[fromID]
		if !ok || current != c {
			r.mu.Unlock()
			return
		}
		delete(r.clones, fromID)
		fn := r.onDone
		r.mu.Unlock()

		saved, err := r.config.Store.CountSongs(ctx, c.collectionID)
		if err != nil {
			r.logger.Warn("failed to count saved items", "from", fromID, "error", err)
		}

		r.logger.Info("clone complete", "from", fromID,
			"collection", c.collectionName, "saved", saved, "declared", c.totalItems)

		if fn != nil {
			fn(fromID, Result{
				CollectionID:   c.collectionID,
				CollectionName: c.collectionName,
				SavedItems:     saved,
				DeclaredItems:  c.totalItems,
			})
		}
	}()
}

// HandleError aborts the clone immediately and discards all buffers. A
// clone-error can also arrive before any clone-start, when the sender
// rejects the request outright; it is surfaced the same way.
func (r *Receiver) HandleError(fromID string, msg protocol.CloneError) {
	r.mu.Lock()
	_, ok := r.clones[fromID]
	delete(r.clones, fromID)
	fn := r.onError
	r.mu.Unlock()

	if ok {
		r.logger.Warn("clone aborted by sender", "from", fromID, "message", msg.Message)
	} else {
		r.logger.Warn("clone rejected by sender", "from", fromID, "message", msg.Message)
	}
	if fn != nil {
		fn(fromID, msg.Message)
	}
}

// DropPeer discards all transfer state for a departed peer. Abandoned
// transfers are not resumed.
func (r *Receiver) DropPeer(peerID string) {
	r.mu.Lock()
	_, ok := r.clones[peerID]
	delete(r.clones, peerID)
	r.mu.Unlock()
	if ok {
		r.logger.Info("discarded transfer state for departed peer", "peer", peerID)
	}
}

func (c *clone) buffer(itemIndex int) *Buffer {
	buf, ok := c.buffers[itemIndex]
	if !ok {
		buf = NewBuffer()
		c.buffers[itemIndex] = buf
	}
	return buf
}

func (c *clone) progress() Progress {
	return Progress{
		CollectionID:   c.collectionID,
		CollectionName: c.collectionName,
		TotalItems:     c.totalItems,
		DoneItems:      c.doneItems,
		StartedAt:      c.startedAt,
	}
}
