package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
	"github.com/joseph-ayodele/syllabus-jobs/internal/entity"
)

// DefaultInterval is the poll period when none is configured.
const DefaultInterval = 10 * time.Second

// ErrPollInFlight is returned by Poll while another poll is still running.
var ErrPollInFlight = errors.New("watcher: poll already in flight")

// JobLister returns every job visible to ownerID.
type JobLister interface {
	ListJobs(ctx context.Context, ownerID string) ([]entity.Job, error)
}

// IdentityFunc returns the active identity, or "" when nobody is signed in.
type IdentityFunc func() string

// StaticIdentity always reports id.
func StaticIdentity(id string) IdentityFunc {
	return func() string { return id }
}

type Option func(*Watcher)

func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithStore(s SnapshotStore) Option {
	return func(w *Watcher) {
		if s != nil {
			w.store = s
		}
	}
}

// WithSubscriberBuffer sets the channel size handed out by Subscribe.
func WithSubscriberBuffer(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.subBuffer = n
		}
	}
}

// Watcher polls a JobLister and announces each terminal transition once.
// Polls never overlap; a tick that fires during a poll is dropped.
type Watcher struct {
	lister    JobLister
	identity  IdentityFunc
	store     SnapshotStore
	interval  time.Duration
	subBuffer int
	now       func() time.Time
	logger    *slog.Logger

	polling atomic.Bool

	mu       sync.RWMutex
	loaded   bool
	baseline Snapshot
	current  Snapshot

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

func New(lister JobLister, identity IdentityFunc, logger *slog.Logger, opts ...Option) *Watcher {
	w := &Watcher{
		lister:    lister,
		identity:  identity,
		store:     &MemoryStore{},
		interval:  DefaultInterval,
		subBuffer: 16,
		now:       time.Now,
		logger:    common.OrDefault(logger),
		subs:      make(map[int]chan Event),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run polls immediately and then on every interval until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watcher.started", "interval", w.interval)

	var wg sync.WaitGroup
	tick := func() {
		if w.polling.Load() {
			w.logger.Debug("watcher.tick.skipped")
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.Poll(ctx); err != nil && !errors.Is(err, ErrPollInFlight) && ctx.Err() == nil {
				w.logger.Warn("watcher.poll.failed", "err", err)
			}
		}()
	}

	tick()
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			w.logger.Info("watcher.stopped")
			return ctx.Err()
		case <-t.C:
			tick()
		}
	}
}

// Poll runs one cycle: list, diff against the baseline, replace and persist
// the baseline, then publish events. With no active identity the cycle is
// skipped and the baseline is left alone.
func (w *Watcher) Poll(ctx context.Context) ([]Event, error) {
	if !w.polling.CompareAndSwap(false, true) {
		return nil, ErrPollInFlight
	}
	defer w.polling.Store(false)

	id := w.identity()
	if id == "" {
		w.logger.Debug("watcher.poll.no_identity")
		return nil, nil
	}

	if err := w.ensureLoaded(ctx); err != nil {
		w.logger.Warn("watcher.snapshot.load_failed", "err", err)
	}

	jobs, err := w.lister.ListJobs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", id, err)
	}
	curr := Snapshot{Identity: id, Jobs: jobs, TakenAt: w.now().UTC()}

	w.mu.Lock()
	if w.baseline.Identity != "" && w.baseline.Identity != id {
		w.logger.Info("watcher.identity.changed", "from", w.baseline.Identity, "to", id)
	}
	events, next := Diff(w.baseline, curr)
	w.baseline = next
	w.current = next
	w.mu.Unlock()

	if err := w.store.Save(ctx, next); err != nil {
		w.logger.Error("watcher.snapshot.save_failed", "err", err)
	}

	w.logger.Debug("watcher.polled", "identity", id, "jobs", len(jobs), "events", len(events))
	for _, ev := range events {
		w.logger.Info("watcher.notify", "kind", ev.Kind, "job_id", ev.JobID, "name", ev.DisplayName)
		w.publish(ev)
	}
	return events, nil
}

// ensureLoaded seeds the baseline from the store once. A load failure
// leaves an empty baseline, so transitions since the last save are not
// announced.
func (w *Watcher) ensureLoaded(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.loaded {
		return nil
	}
	w.loaded = true
	snap, err := w.store.Load(ctx)
	if err != nil {
		return err
	}
	if snap != nil {
		w.baseline = *snap
		w.current = *snap
		w.logger.Info("watcher.snapshot.restored", "identity", snap.Identity, "jobs", len(snap.Jobs), "taken_at", snap.TakenAt)
	}
	return nil
}

// ForceRefresh updates the visible job list without moving the diff
// baseline, so pending transitions are still announced on the next poll.
func (w *Watcher) ForceRefresh(ctx context.Context) (Snapshot, error) {
	id := w.identity()
	if id == "" {
		return w.CurrentSnapshot(), nil
	}
	jobs, err := w.lister.ListJobs(ctx, id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("refresh jobs for %s: %w", id, err)
	}
	snap := Snapshot{Identity: id, Jobs: jobs, TakenAt: w.now().UTC()}
	w.mu.Lock()
	w.current = snap
	w.mu.Unlock()
	return snap, nil
}

// CurrentSnapshot is the most recently fetched job list.
func (w *Watcher) CurrentSnapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe returns a channel of events and a func that cancels it. Slow
// subscribers miss events rather than stall the poll loop.
func (w *Watcher) Subscribe() (<-chan Event, func()) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	id := w.nextID
	w.nextID++
	ch := make(chan Event, w.subBuffer)
	w.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.subMu.Lock()
			delete(w.subs, id)
			close(ch)
			w.subMu.Unlock()
		})
	}
}

func (w *Watcher) publish(ev Event) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	for id, ch := range w.subs {
		select {
		case ch <- ev:
		default:
			w.logger.Warn("watcher.subscriber.dropped", "subscriber", id, "job_id", ev.JobID)
		}
	}
}
