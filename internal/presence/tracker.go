// Package presence tracks which peers are currently reachable on the
// rendezvous channel. Enter/leave events drive the set; a periodic
// reconciliation poll recovers peers whose enter event was missed, a known
// failure mode on less reliable relay providers.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Directory is the slice of the rendezvous channel the tracker consumes.
type Directory interface {
	Members() ([]string, error)
	OnEnter(fn func(peerID string))
	OnLeave(fn func(peerID string))
}

type Config struct {
	LocalID   string
	Directory Directory
	Logger    *slog.Logger

	// ReconcileInterval is the polling period. MaxQuietPolls bounds how many
	// consecutive no-diff polls run before polling pauses until the next
	// enter/leave event; both are tuning knobs, not load-bearing constants.
	ReconcileInterval time.Duration
	MaxQuietPolls     int
}

type Tracker struct {
	config Config
	logger *slog.Logger

	mu         sync.Mutex
	known      map[string]bool
	quietPolls int

	onAppeared func(peerID string)
	onGone     func(peerID string)
}

func NewTracker(cfg Config) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = 10 * time.Second
	}
	if cfg.MaxQuietPolls == 0 {
		cfg.MaxQuietPolls = 3
	}
	return &Tracker{
		config: cfg,
		logger: cfg.Logger,
		known:  make(map[string]bool),
	}
}

func (t *Tracker) OnAppeared(fn func(peerID string)) { t.mu.Lock(); t.onAppeared = fn; t.mu.Unlock() }
func (t *Tracker) OnGone(fn func(peerID string))     { t.mu.Lock(); t.onGone = fn; t.mu.Unlock() }

// Start subscribes to presence events and begins reconciliation polling.
// It returns immediately; polling stops when ctx is canceled.
func (t *Tracker) Start(ctx context.Context) {
	t.config.Directory.OnEnter(func(peerID string) {
		t.resetQuietPolls()
		t.add(peerID)
	})
	t.config.Directory.OnLeave(func(peerID string) {
		t.resetQuietPolls()
		t.remove(peerID)
	})

	go t.reconcileLoop(ctx)
}

// Known returns the current reachable peer set, excluding the local id.
func (t *Tracker) Known() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.known))
	for id := range t.known {
		ids = append(ids, id)
	}
	return ids
}

func (t *Tracker) add(peerID string) {
	if peerID == t.config.LocalID {
		return
	}
	t.mu.Lock()
	if t.known[peerID] {
		t.mu.Unlock()
		return
	}
	t.known[peerID] = true
	fn := t.onAppeared
	t.mu.Unlock()

	t.logger.Info("peer appeared", "peer", peerID)
	if fn != nil {
		fn(peerID)
	}
}

func (t *Tracker) remove(peerID string) {
	t.mu.Lock()
	if !t.known[peerID] {
		t.mu.Unlock()
		return
	}
	delete(t.known, peerID)
	fn := t.onGone
	t.mu.Unlock()

	t.logger.Info("peer gone", "peer", peerID)
	if fn != nil {
		fn(peerID)
	}
}

func (t *Tracker) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(t.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.quietPollBudgetSpent() {
				continue
			}
			t.Reconcile()
		}
	}
}

// Reconcile fetches the full presence snapshot and emits peer-appeared for
// any id the event stream missed. Departures are left to leave events; a
// transiently incomplete snapshot must not tear down live sessions.
func (t *Tracker) Reconcile() {
	members, err := t.config.Directory.Members()
	if err != nil {
		t.logger.Warn("presence reconciliation failed", "error", err)
		return
	}

	found := 0
	for _, id := range members {
		if id == t.config.LocalID {
			continue
		}
		t.mu.Lock()
		missing := !t.known[id]
		t.mu.Unlock()
		if missing {
			t.logger.Debug("reconciliation recovered missed peer", "peer", id)
			t.add(id)
			found++
		}
	}

	t.mu.Lock()
	if found == 0 {
		t.quietPolls++
	} else {
		t.quietPolls = 0
	}
	t.mu.Unlock()
}

func (t *Tracker) resetQuietPolls() {
	t.mu.Lock()
	t.quietPolls = 0
	t.mu.Unlock()
}

func (t *Tracker) quietPollBudgetSpent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.quietPolls >= t.config.MaxQuietPolls
}
