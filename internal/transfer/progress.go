package transfer

import "time"

// Progress is the aggregate state of one clone operation, for UI
// consumption.
type Progress struct {
	CollectionID   string
	CollectionName string
	TotalItems     int
	DoneItems      int
	StartedAt      time.Time
}

// ETA estimates time remaining as the average time per completed item times
// the items left. Zero until the first item completes.
func (p Progress) ETA(now time.Time) time.Duration {
	if p.DoneItems == 0 || p.TotalItems <= p.DoneItems {
		return 0
	}
	elapsed := now.Sub(p.StartedAt)
	avg := elapsed / time.Duration(p.DoneItems)
	return avg * time.Duration(p.TotalItems-p.DoneItems)
}

// Result is the final outcome of one clone operation. SavedItems comes from
// an authoritative storage count, not the sender's declaration: individual
// item saves may fail silently, and the count is how partial failure is
// surfaced.
type Result struct {
	CollectionID   string
	CollectionName string
	SavedItems     int
	DeclaredItems  int
}
