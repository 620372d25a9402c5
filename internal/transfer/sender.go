package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tunemesh/tunemesh/internal/protocol"
)

// Delivery is the router surface the sender writes through.
type Delivery interface {
	Send(peerID string, msg protocol.Message) error
	IsDirectlyConnected(peerID string) bool
}

// Source is the storage surface the sender reads songs from.
type Source interface {
	CollectionName(ctx context.Context, collectionID string) (string, error)
	CountSongs(ctx context.Context, collectionID string) (int, error)
	SongAt(ctx context.Context, collectionID string, idx int) (SongRecord, error)
}

type SenderConfig struct {
	Delivery Delivery
	Source   Source
	Logger   *slog.Logger

	// PaceDelay is the fixed throttle between chunk messages. Not flow
	// control; it keeps a burst of chunks from overwhelming the relay or a
	// slow receiver. Also the only yield point where cancellation is
	// observed.
	PaceDelay time.Duration

	// DirectChunkSize and RelayChunkSize bound chunk payloads per path.
	DirectChunkSize int
	RelayChunkSize  int
}

// Sender streams song batches to peers. Outbound work for a peer stops at
// the next pacing step once that peer is canceled; writes already queued by
// the transport are not recalled.
type Sender struct {
	config SenderConfig
	logger *slog.Logger

	mu       sync.Mutex
	canceled map[string]chan struct{}
}

func NewSender(cfg SenderConfig) *Sender {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PaceDelay == 0 {
		cfg.PaceDelay = 25 * time.Millisecond
	}
	if cfg.DirectChunkSize == 0 {
		cfg.DirectChunkSize = protocol.DirectChunkSize
	}
	if cfg.RelayChunkSize == 0 {
		cfg.RelayChunkSize = protocol.RelayChunkSize
	}
	return &Sender{
		config:   cfg,
		logger:   cfg.Logger,
		canceled: make(map[string]chan struct{}),
	}
}

// SendClone streams every song in collectionID to peerID.
func (s *Sender) SendClone(ctx context.Context, peerID, collectionID string) error {
	name, err := s.config.Source.CollectionName(ctx, collectionID)
	if err != nil {
		return fmt.Errorf("resolve collection %s: %w", collectionID, err)
	}
	total, err := s.config.Source.CountSongs(ctx, collectionID)
	if err != nil {
		return fmt.Errorf("count songs in %s: %w", collectionID, err)
	}

	indices := make([]int, total)
	for i := range indices {
		indices[i] = i
	}
	return s.sendBatch(ctx, peerID, collectionID, name, indices)
}

// SendItem streams a single song as a one-item batch, so the receiving side
// reuses the same reassembly path as a full clone.
func (s *Sender) SendItem(ctx context.Context, peerID, collectionID string, idx int) error {
	name, err := s.config.Source.CollectionName(ctx, collectionID)
	if err != nil {
		return fmt.Errorf("resolve collection %s: %w", collectionID, err)
	}
	return s.sendBatch(ctx, peerID, collectionID, name, []int{idx})
}

func (s *Sender) sendBatch(ctx context.Context, peerID, collectionID, name string, indices []int) error {
	cancel := s.cancelChannel(peerID)

	// Chunk size is fixed at batch start from the path available then; a
	// mid-batch upgrade to a direct channel does not resize chunks.
	chunkSize := s.config.RelayChunkSize
	if s.config.Delivery.IsDirectlyConnected(peerID) {
		chunkSize = s.config.DirectChunkSize
	}

	start := protocol.CloneStart{CollectionName: name, TotalItems: len(indices)}
	if err := s.config.Delivery.Send(peerID, start); err != nil {
		return fmt.Errorf("send clone-start to %s: %w", peerID, err)
	}

	s.logger.Info("clone send started", "peer", peerID,
		"collection", name, "items", len(indices), "chunkSize", chunkSize)

	for batchIdx, songIdx := range indices {
		song, err := s.config.Source.SongAt(ctx, collectionID, songIdx)
		if err != nil {
			s.logger.Warn("skipping unreadable song", "peer", peerID,
				"collection", collectionID, "index", songIdx, "error", err)
			continue
		}

		totalChunks := protocol.ChunkCount(len(song.Data), chunkSize)
		meta := protocol.CloneItemMeta{
			ItemIndex:   batchIdx,
			Title:       song.Title,
			Artist:      song.Artist,
			Album:       song.Album,
			Duration:    song.Duration,
			TotalChunks: totalChunks,
		}
		if err := s.config.Delivery.Send(peerID, meta); err != nil {
			s.logger.Warn("failed to send item metadata", "peer", peerID,
				"item", batchIdx, "error", err)
		}

		for chunkIdx := 0; chunkIdx < totalChunks; chunkIdx++ {
			end := (chunkIdx + 1) * chunkSize
			if end > len(song.Data) {
				end = len(song.Data)
			}
			chunk := protocol.CloneItemChunk{
				ItemIndex:   batchIdx,
				ChunkIndex:  chunkIdx,
				TotalChunks: totalChunks,
				Data:        song.Data[chunkIdx*chunkSize : end],
			}
			if err := s.config.Delivery.Send(peerID, chunk); err != nil {
				s.logger.Warn("failed to send chunk", "peer", peerID,
					"item", batchIdx, "chunk", chunkIdx, "error", err)
			}

			select {
			case <-cancel:
				s.logger.Info("clone send canceled", "peer", peerID, "collection", name)
				return nil
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.config.PaceDelay):
			}
		}
	}

	complete := protocol.CloneComplete{CollectionName: name}
	if err := s.config.Delivery.Send(peerID, complete); err != nil {
		return fmt.Errorf("send clone-complete to %s: %w", peerID, err)
	}
	return nil
}

// CancelPeer stops any in-flight batches to peerID at their next pacing
// step.
func (s *Sender) CancelPeer(peerID string) {
	s.mu.Lock()
	ch, ok := s.canceled[peerID]
	if ok {
		delete(s.canceled, peerID)
	}
	s.mu.Unlock()
	if ok {
		close(ch)
	}
}

// cancelChannel returns the live cancel channel for peerID, creating one if
// needed. All concurrent batches to the same peer share it.
func (s *Sender) cancelChannel(peerID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.canceled[peerID]
	if !ok {
		ch = make(chan struct{})
		s.canceled[peerID] = ch
	}
	return ch
}
