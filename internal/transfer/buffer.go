// Package transfer implements the chunked transfer protocol: large encoded
// songs split into bounded, index-tagged chunks on the sending side, and
// buffered, reassembled, and persisted on the receiving side.
package transfer

import (
	"strings"

	"github.com/tunemesh/tunemesh/internal/protocol"
)

// Buffer accumulates one item's chunks and metadata during a transfer. Each
// chunk message carries its own index, so out-of-order arrival just fills a
// different slot; metadata may land before or after any chunk.
type Buffer struct {
	totalChunks int
	chunks      []string
	filled      []bool
	received    int
	meta        *protocol.CloneItemMeta
	completed   bool
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) ensureSlots(totalChunks int) {
	if b.totalChunks != 0 || totalChunks <= 0 {
		return
	}
	b.totalChunks = totalChunks
	b.chunks = make([]string, totalChunks)
	b.filled = make([]bool, totalChunks)
}

// SetMeta attaches (or overwrites) the item descriptor. The descriptor's
// TotalChunks is authoritative for slot count.
func (b *Buffer) SetMeta(meta protocol.CloneItemMeta) {
	m := meta
	b.meta = &m
	b.ensureSlots(meta.TotalChunks)
}

// AddChunk writes one chunk into its slot. A duplicate index overwrites the
// slot — last write wins; slot content for a given index is deterministic
// from the sender, so this is harmless.
func (b *Buffer) AddChunk(chunk protocol.CloneItemChunk) {
	b.ensureSlots(chunk.TotalChunks)
	if chunk.ChunkIndex < 0 || chunk.ChunkIndex >= b.totalChunks {
		return
	}
	if !b.filled[chunk.ChunkIndex] {
		b.filled[chunk.ChunkIndex] = true
		b.received++
	}
	b.chunks[chunk.ChunkIndex] = chunk.Data
}

// ready reports the reassembly precondition: every slot filled, metadata
// present, and not yet completed.
func (b *Buffer) ready() bool {
	return !b.completed &&
		b.meta != nil &&
		b.totalChunks > 0 &&
		b.received == b.totalChunks
}

// TryAssemble concatenates the chunks in index order if the precondition
// holds, marking the buffer completed in the same step so a duplicate
// completion trigger can never reassemble twice.
func (b *Buffer) TryAssemble() (data string, meta protocol.CloneItemMeta, ok bool) {
	if !b.ready() {
		return "", protocol.CloneItemMeta{}, false
	}
	b.completed = true
	return strings.Join(b.chunks, ""), *b.meta, true
}
