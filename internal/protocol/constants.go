package protocol

const (
	// DirectChunkSize is the chunk payload size used when a direct data
	// channel is available.
	DirectChunkSize = 32 * 1024

	// RelayChunkSize is the chunk payload size used on the relay path,
	// which carries a stricter per-message ceiling.
	RelayChunkSize = 8 * 1024
)

type MessageType string

const (
	MsgLocation                 MessageType = "location"
	MsgRequestLocation          MessageType = "request-location"
	MsgRequestPlaylists         MessageType = "request-playlists"
	MsgPlaylistsResponse        MessageType = "playlists-response"
	MsgRequestPlaylistItemsMeta MessageType = "request-playlist-items-meta"
	MsgPlaylistItemsMeta        MessageType = "playlist-items-meta"
	MsgRequestClone             MessageType = "request-clone"
	MsgRequestItem              MessageType = "request-item"
	MsgCloneStart               MessageType = "clone-start"
	MsgCloneItemMeta            MessageType = "clone-item-meta"
	MsgCloneItemChunk           MessageType = "clone-item-chunk"
	MsgCloneComplete            MessageType = "clone-complete"
	MsgCloneError               MessageType = "clone-error"
)

func (t MessageType) String() string { return string(t) }

// ChunkCount returns the number of chunks needed to carry encodedLen bytes
// of payload at the given chunk size.
func ChunkCount(encodedLen, chunkSize int) int {
	if encodedLen == 0 {
		return 0
	}
	return (encodedLen + chunkSize - 1) / chunkSize
}
