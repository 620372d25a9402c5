package protocol

// Message is one application payload exchanged between peers, either over a
// direct data channel or relayed through the rendezvous service.
type Message interface {
	Type() MessageType
}

// Location is a peer's position broadcast for the map view.
type Location struct {
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	DeviceKind string  `json:"deviceKind"`
}

func (Location) Type() MessageType { return MsgLocation }

// RequestLocation asks peers to re-broadcast their location.
type RequestLocation struct{}

func (RequestLocation) Type() MessageType { return MsgRequestLocation }

// RequestPlaylists asks a peer for its collection listing.
type RequestPlaylists struct{}

func (RequestPlaylists) Type() MessageType { return MsgRequestPlaylists }

type PlaylistInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ItemCount int    `json:"itemCount"`
}

type PlaylistsResponse struct {
	Playlists []PlaylistInfo `json:"playlists"`
}

func (PlaylistsResponse) Type() MessageType { return MsgPlaylistsResponse }

// RequestPlaylistItemsMeta asks for one page of song metadata from a remote
// collection.
type RequestPlaylistItemsMeta struct {
	CollectionID string `json:"collectionId"`
	Page         int    `json:"page"`
	PageSize     int    `json:"pageSize"`
}

func (RequestPlaylistItemsMeta) Type() MessageType { return MsgRequestPlaylistItemsMeta }

type ItemMeta struct {
	Index    int     `json:"index"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Album    string  `json:"album"`
	Duration float64 `json:"duration"`
}

type PlaylistItemsMeta struct {
	CollectionID string     `json:"collectionId"`
	Page         int        `json:"page"`
	PageSize     int        `json:"pageSize"`
	Total        int        `json:"total"`
	Items        []ItemMeta `json:"items"`
}

func (PlaylistItemsMeta) Type() MessageType { return MsgPlaylistItemsMeta }

// RequestClone asks a peer to stream an entire collection.
type RequestClone struct {
	CollectionID string `json:"collectionId"`
}

func (RequestClone) Type() MessageType { return MsgRequestClone }

// RequestItem asks a peer to stream a single song.
type RequestItem struct {
	CollectionID string `json:"collectionId"`
	ItemIndex    int    `json:"itemIndex"`
}

func (RequestItem) Type() MessageType { return MsgRequestItem }

// CloneStart opens a batch transfer of TotalItems songs.
type CloneStart struct {
	CollectionName string `json:"collectionName"`
	TotalItems     int    `json:"totalItems"`
}

func (CloneStart) Type() MessageType { return MsgCloneStart }

// CloneItemMeta describes one song within a batch. TotalChunks is
// authoritative for the item's chunk count.
type CloneItemMeta struct {
	ItemIndex   int     `json:"itemIndex"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist"`
	Album       string  `json:"album"`
	Duration    float64 `json:"duration"`
	TotalChunks int     `json:"totalChunks"`
}

func (CloneItemMeta) Type() MessageType { return MsgCloneItemMeta }

// CloneItemChunk carries one slice of an item's encoded audio. Chunks are
// sent in index order but may arrive out of order; ChunkIndex places the
// data regardless of arrival order.
type CloneItemChunk struct {
	ItemIndex   int    `json:"itemIndex"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
	Data        string `json:"data"`
}

func (CloneItemChunk) Type() MessageType { return MsgCloneItemChunk }

type CloneComplete struct {
	CollectionName string `json:"collectionName"`
}

func (CloneComplete) Type() MessageType { return MsgCloneComplete }

type CloneError struct {
	Message string `json:"message"`
}

func (CloneError) Type() MessageType { return MsgCloneError }
