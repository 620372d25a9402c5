package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tunemesh/tunemesh/internal/protocol"
)

// fakeStore keeps saved songs in memory and can be told to fail specific
// item indices.
type fakeStore struct {
	mu          sync.Mutex
	nextID      int
	collections map[string]string
	songs       map[string][]SongRecord
	failIdx     map[int]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		collections: make(map[string]string),
		songs:       make(map[string][]SongRecord),
		failIdx:     make(map[int]bool),
	}
}

func (s *fakeStore) CreateCollection(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("col-%d", s.nextID)
	s.collections[id] = name
	return id, nil
}

func (s *fakeStore) AppendSong(ctx context.Context, collectionID string, song SongRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIdx[song.Idx] {
		return errors.New("disk full")
	}
	s.songs[collectionID] = append(s.songs[collectionID], song)
	return nil
}

func (s *fakeStore) CountSongs(ctx context.Context, collectionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.songs[collectionID]), nil
}

func (s *fakeStore) saved(collectionID string) []SongRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SongRecord{}, s.songs[collectionID]...)
}

func (s *fakeStore) onlyCollectionID(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.collections) != 1 {
		t.Fatalf("expected 1 collection, got %d", len(s.collections))
	}
	for id := range s.collections {
		return id
	}
	return ""
}

func newTestReceiver(store *fakeStore) *Receiver {
	return NewReceiver(ReceiverConfig{Store: store, GraceDelay: 10 * time.Millisecond})
}

// feedItem delivers one complete item to the receiver: metadata plus every
// chunk of data split at chunkSize.
func feedItem(ctx context.Context, r *Receiver, from string, idx int, data string, chunkSize int) {
	total := protocol.ChunkCount(len(data), chunkSize)
	r.HandleMeta(ctx, from, protocol.CloneItemMeta{
		ItemIndex: idx, Title: fmt.Sprintf("song %d", idx), TotalChunks: total,
	})
	for c := 0; c < total; c++ {
		end := (c + 1) * chunkSize
		if end > len(data) {
			end = len(data)
		}
		r.HandleChunk(ctx, from, protocol.CloneItemChunk{
			ItemIndex: idx, ChunkIndex: c, TotalChunks: total,
			Data: data[c*chunkSize : end],
		})
	}
}

func waitDone(t *testing.T, done chan Result) Result {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for clone completion")
		return Result{}
	}
}

func TestReceiver_FullCloneSavesEverything(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := newTestReceiver(store)

	done := make(chan Result, 1)
	r.OnDone(func(fromID string, res Result) { done <- res })

	var progress []Progress
	r.OnProgress(func(fromID string, p Progress) { progress = append(progress, p) })

	r.HandleStart(ctx, "u2", protocol.CloneStart{CollectionName: "mix", TotalItems: 2})
	feedItem(ctx, r, "u2", 0, "aaaabbbbcc", 4)
	feedItem(ctx, r, "u2", 1, "zz", 4)
	r.HandleComplete(ctx, "u2", protocol.CloneComplete{CollectionName: "mix"})

	res := waitDone(t, done)
	if res.SavedItems != 2 || res.DeclaredItems != 2 {
		t.Errorf("expected 2/2 saved, got %d/%d", res.SavedItems, res.DeclaredItems)
	}
	if res.CollectionName != "mix" {
		t.Errorf("expected collection mix, got %s", res.CollectionName)
	}

	songs := store.saved(store.onlyCollectionID(t))
	if len(songs) != 2 {
		t.Fatalf("expected 2 songs saved, got %d", len(songs))
	}
	if songs[0].Data != "aaaabbbbcc" {
		t.Errorf("expected reassembled data, got %q", songs[0].Data)
	}
	if len(progress) != 2 {
		t.Errorf("expected 2 progress events, got %d", len(progress))
	}
	if progress[len(progress)-1].DoneItems != 2 {
		t.Errorf("expected final progress 2 done, got %d", progress[len(progress)-1].DoneItems)
	}
}

func TestReceiver_OutOfOrderChunksAndLateMeta(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := newTestReceiver(store)

	done := make(chan Result, 1)
	r.OnDone(func(fromID string, res Result) { done <- res })

	r.HandleStart(ctx, "u2", protocol.CloneStart{CollectionName: "mix", TotalItems: 1})

	// Chunks first, reversed, then metadata.
	r.HandleChunk(ctx, "u2", protocol.CloneItemChunk{ItemIndex: 0, ChunkIndex: 2, TotalChunks: 3, Data: "cc"})
	r.HandleChunk(ctx, "u2", protocol.CloneItemChunk{ItemIndex: 0, ChunkIndex: 0, TotalChunks: 3, Data: "aa"})
	r.HandleChunk(ctx, "u2", protocol.CloneItemChunk{ItemIndex: 0, ChunkIndex: 1, TotalChunks: 3, Data: "bb"})
	r.HandleMeta(ctx, "u2", protocol.CloneItemMeta{ItemIndex: 0, Title: "late", TotalChunks: 3})

	r.HandleComplete(ctx, "u2", protocol.CloneComplete{CollectionName: "mix"})

	res := waitDone(t, done)
	if res.SavedItems != 1 {
		t.Fatalf("expected 1 saved, got %d", res.SavedItems)
	}
	songs := store.saved(store.onlyCollectionID(t))
	if songs[0].Data != "aabbcc" {
		t.Errorf("expected aabbcc, got %q", songs[0].Data)
	}
	if songs[0].Title != "late" {
		t.Errorf("expected late metadata applied, got %q", songs[0].Title)
	}
}

func TestReceiver_StorageFailuresReduceAuthoritativeCount(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.failIdx[1] = true
	store.failIdx[3] = true
	r := newTestReceiver(store)

	done := make(chan Result, 1)
	r.OnDone(func(fromID string, res Result) { done <- res })

	r.HandleStart(ctx, "u2", protocol.CloneStart{CollectionName: "mix", TotalItems: 5})
	for i := 0; i < 5; i++ {
		feedItem(ctx, r, "u2", i, "datadata", 4)
	}
	r.HandleComplete(ctx, "u2", protocol.CloneComplete{CollectionName: "mix"})

	res := waitDone(t, done)
	if res.DeclaredItems != 5 {
		t.Errorf("expected 5 declared, got %d", res.DeclaredItems)
	}
	if res.SavedItems != 3 {
		t.Errorf("expected 3 saved after 2 storage failures, got %d", res.SavedItems)
	}
}

func TestReceiver_MessagesWithoutSessionDropped(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := newTestReceiver(store)

	// No HandleStart: everything below must be ignored without panicking.
	r.HandleMeta(ctx, "u2", protocol.CloneItemMeta{ItemIndex: 0, TotalChunks: 1})
	r.HandleChunk(ctx, "u2", protocol.CloneItemChunk{ItemIndex: 0, ChunkIndex: 0, TotalChunks: 1, Data: "x"})
	r.HandleComplete(ctx, "u2", protocol.CloneComplete{CollectionName: "mix"})

	if len(store.collections) != 0 {
		t.Errorf("expected no collections created, got %d", len(store.collections))
	}
}

func TestReceiver_ErrorAbortsClone(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := newTestReceiver(store)

	var aborted string
	r.OnError(func(fromID string, message string) { aborted = message })

	r.HandleStart(ctx, "u2", protocol.CloneStart{CollectionName: "mix", TotalItems: 3})
	feedItem(ctx, r, "u2", 0, "data", 4)
	r.HandleError("u2", protocol.CloneError{Message: "source library closed"})

	if aborted != "source library closed" {
		t.Errorf("expected abort message surfaced, got %q", aborted)
	}

	// Late chunks after the abort must be ignored.
	r.HandleChunk(ctx, "u2", protocol.CloneItemChunk{ItemIndex: 1, ChunkIndex: 0, TotalChunks: 1, Data: "x"})
	songs := store.saved(store.onlyCollectionID(t))
	if len(songs) != 1 {
		t.Errorf("expected only the pre-abort song, got %d", len(songs))
	}
}

func TestReceiver_DropPeerDiscardsState(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := newTestReceiver(store)

	var doneFired bool
	r.OnDone(func(fromID string, res Result) { doneFired = true })

	r.HandleStart(ctx, "u2", protocol.CloneStart{CollectionName: "mix", TotalItems: 2})
	feedItem(ctx, r, "u2", 0, "data", 4)

	r.DropPeer("u2")

	// A complete from the departed peer must find no session.
	r.HandleComplete(ctx, "u2", protocol.CloneComplete{CollectionName: "mix"})
	time.Sleep(50 * time.Millisecond)

	if doneFired {
		t.Error("expected no completion after peer departure")
	}
}

func TestReceiver_RestartReplacesStaleClone(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := newTestReceiver(store)

	done := make(chan Result, 1)
	r.OnDone(func(fromID string, res Result) { done <- res })

	r.HandleStart(ctx, "u2", protocol.CloneStart{CollectionName: "first", TotalItems: 3})
	feedItem(ctx, r, "u2", 0, "data", 4)

	// The same peer starts over; the old session is replaced.
	r.HandleStart(ctx, "u2", protocol.CloneStart{CollectionName: "second", TotalItems: 1})
	feedItem(ctx, r, "u2", 0, "fresh", 4)
	r.HandleComplete(ctx, "u2", protocol.CloneComplete{CollectionName: "second"})

	res := waitDone(t, done)
	if res.CollectionName != "second" {
		t.Errorf("expected second clone to complete, got %s", res.CollectionName)
	}
	if res.SavedItems != 1 {
		t.Errorf("expected 1 saved in the fresh collection, got %d", res.SavedItems)
	}
}
