package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/syllabus-jobs/constants"
	"github.com/joseph-ayodele/syllabus-jobs/internal/entity"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var (
	jobA = uuid.MustParse("6f1c1a52-0000-4000-8000-00000000000a")
	jobB = uuid.MustParse("6f1c1a52-0000-4000-8000-00000000000b")
)

func job(id uuid.UUID, status constants.JobStatus) entity.Job {
	j := entity.Job{ID: id, OwnerID: "user-U", ArtifactRef: "user-U/1234abcd-syllabus.pdf", Status: status}
	if status == constants.JobStatusFailed {
		msg := "storage unreachable"
		j.Error = &msg
	}
	return j
}

func snap(identity string, jobs ...entity.Job) Snapshot {
	return Snapshot{Identity: identity, Jobs: jobs}
}

// scriptLister returns one scripted job list per call, repeating the last.
type scriptLister struct {
	mu    sync.Mutex
	steps [][]entity.Job
	calls int
	err   error
	block chan struct{}
}

func (s *scriptLister) ListJobs(ctx context.Context, _ string) ([]entity.Job, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return s.steps[i], nil
}

func (s *scriptLister) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name  string
		prev  Snapshot
		curr  Snapshot
		kinds []EventKind
	}{
		{"processing to completed", snap("u", job(jobA, constants.JobStatusProcessing)), snap("u", job(jobA, constants.JobStatusCompleted)), []EventKind{EventCompleted}},
		{"queued to failed", snap("u", job(jobA, constants.JobStatusQueued)), snap("u", job(jobA, constants.JobStatusFailed)), []EventKind{EventFailed}},
		{"unstarted to completed", snap("u", job(jobA, constants.JobStatusUnstarted)), snap("u", job(jobA, constants.JobStatusCompleted)), []EventKind{EventCompleted}},
		{"unchanged", snap("u", job(jobA, constants.JobStatusProcessing)), snap("u", job(jobA, constants.JobStatusProcessing)), nil},
		{"non-terminal move", snap("u", job(jobA, constants.JobStatusUnstarted)), snap("u", job(jobA, constants.JobStatusProcessing)), nil},
		{"terminal re-observed", snap("u", job(jobA, constants.JobStatusCompleted)), snap("u", job(jobA, constants.JobStatusCompleted)), nil},
		{"terminal to terminal", snap("u", job(jobA, constants.JobStatusFailed)), snap("u", job(jobA, constants.JobStatusCompleted)), nil},
		{"new job already terminal", snap("u", job(jobB, constants.JobStatusProcessing)), snap("u", job(jobA, constants.JobStatusCompleted), job(jobB, constants.JobStatusProcessing)), nil},
		{"no previous snapshot", Snapshot{}, snap("u", job(jobA, constants.JobStatusCompleted)), nil},
		{"different identity", snap("v", job(jobA, constants.JobStatusProcessing)), snap("u", job(jobA, constants.JobStatusCompleted)), nil},
		{"job disappeared", snap("u", job(jobA, constants.JobStatusProcessing)), snap("u"), nil},
		{"two transitions", snap("u", job(jobA, constants.JobStatusProcessing), job(jobB, constants.JobStatusQueued)), snap("u", job(jobA, constants.JobStatusCompleted), job(jobB, constants.JobStatusFailed)), []EventKind{EventCompleted, EventFailed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, next := Diff(tt.prev, tt.curr)
			assert.Equal(t, tt.curr, next)
			var kinds []EventKind
			for _, e := range events {
				kinds = append(kinds, e.Kind)
			}
			assert.Equal(t, tt.kinds, kinds)
		})
	}
}

func TestDiff_EventFields(t *testing.T) {
	events, _ := Diff(snap("u", job(jobA, constants.JobStatusProcessing)), snap("u", job(jobA, constants.JobStatusFailed)))
	require.Len(t, events, 1)
	assert.Equal(t, jobA, events[0].JobID)
	assert.Equal(t, "syllabus.pdf", events[0].DisplayName)
	assert.Equal(t, "storage unreachable", events[0].Error)
}

func TestPoll_NotifiesOnce(t *testing.T) {
	lister := &scriptLister{steps: [][]entity.Job{
		{job(jobA, constants.JobStatusProcessing)},
		{job(jobA, constants.JobStatusCompleted)},
		{job(jobA, constants.JobStatusCompleted)},
	}}
	w := New(lister, StaticIdentity("user-U"), discard)
	ctx := context.Background()

	var counts []int
	for i := 0; i < 3; i++ {
		events, err := w.Poll(ctx)
		require.NoError(t, err)
		counts = append(counts, len(events))
	}
	assert.Equal(t, []int{0, 1, 0}, counts)
}

func TestPoll_NoIdentitySkipsAndKeepsBaseline(t *testing.T) {
	identity := "user-U"
	var mu sync.Mutex
	lister := &scriptLister{steps: [][]entity.Job{
		{job(jobA, constants.JobStatusProcessing)},
		{job(jobA, constants.JobStatusCompleted)},
	}}
	w := New(lister, func() string { mu.Lock(); defer mu.Unlock(); return identity }, discard)
	ctx := context.Background()

	_, err := w.Poll(ctx)
	require.NoError(t, err)

	mu.Lock()
	identity = ""
	mu.Unlock()
	events, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 1, lister.Calls(), "no list call without identity")

	mu.Lock()
	identity = "user-U"
	mu.Unlock()
	events, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPoll_ListErrorKeepsBaseline(t *testing.T) {
	lister := &scriptLister{steps: [][]entity.Job{
		{job(jobA, constants.JobStatusProcessing)},
		{job(jobA, constants.JobStatusCompleted)},
	}}
	w := New(lister, StaticIdentity("user-U"), discard)
	ctx := context.Background()

	_, err := w.Poll(ctx)
	require.NoError(t, err)

	lister.mu.Lock()
	lister.err = errors.New("network down")
	lister.mu.Unlock()
	_, err = w.Poll(ctx)
	require.Error(t, err)

	lister.mu.Lock()
	lister.err = nil
	lister.mu.Unlock()
	events, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPoll_OverlapIsRejected(t *testing.T) {
	lister := &scriptLister{steps: [][]entity.Job{{job(jobA, constants.JobStatusProcessing)}}, block: make(chan struct{})}
	w := New(lister, StaticIdentity("user-U"), discard)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := w.Poll(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return w.polling.Load() }, time.Second, time.Millisecond)

	_, err := w.Poll(ctx)
	assert.ErrorIs(t, err, ErrPollInFlight)

	close(lister.block)
	require.NoError(t, <-done)
}

func TestPoll_RestartDoesNotReplay(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "snap", "watcher.json"))
	ctx := context.Background()

	first := New(&scriptLister{steps: [][]entity.Job{
		{job(jobA, constants.JobStatusProcessing)},
		{job(jobA, constants.JobStatusCompleted)},
	}}, StaticIdentity("user-U"), discard, WithStore(store))
	_, err := first.Poll(ctx)
	require.NoError(t, err)
	events, err := first.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)

	restarted := New(&scriptLister{steps: [][]entity.Job{
		{job(jobA, constants.JobStatusCompleted)},
	}}, StaticIdentity("user-U"), discard, WithStore(store))
	events, err = restarted.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPoll_RestartAnnouncesPendingTransition(t *testing.T) {
	store := &MemoryStore{}
	ctx := context.Background()

	first := New(&scriptLister{steps: [][]entity.Job{{job(jobA, constants.JobStatusProcessing)}}}, StaticIdentity("user-U"), discard, WithStore(store))
	_, err := first.Poll(ctx)
	require.NoError(t, err)

	restarted := New(&scriptLister{steps: [][]entity.Job{{job(jobA, constants.JobStatusFailed)}}}, StaticIdentity("user-U"), discard, WithStore(store))
	events, err := restarted.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventFailed, events[0].Kind)
}

func TestForceRefresh_KeepsBaseline(t *testing.T) {
	lister := &scriptLister{steps: [][]entity.Job{
		{job(jobA, constants.JobStatusProcessing)},
		{job(jobA, constants.JobStatusCompleted)},
		{job(jobA, constants.JobStatusCompleted)},
	}}
	w := New(lister, StaticIdentity("user-U"), discard)
	ctx := context.Background()

	_, err := w.Poll(ctx)
	require.NoError(t, err)

	snap, err := w.ForceRefresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusCompleted, snap.Jobs[0].Status)
	assert.Equal(t, snap, w.CurrentSnapshot())

	events, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1, "refresh must not swallow the pending transition")
}

func TestSubscribe(t *testing.T) {
	lister := &scriptLister{steps: [][]entity.Job{
		{job(jobA, constants.JobStatusProcessing)},
		{job(jobA, constants.JobStatusCompleted)},
	}}
	w := New(lister, StaticIdentity("user-U"), discard)
	ch, cancel := w.Subscribe()
	ctx := context.Background()

	_, err := w.Poll(ctx)
	require.NoError(t, err)
	_, err = w.Poll(ctx)
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, EventCompleted, ev.Kind)
		assert.Equal(t, jobA, ev.JobID)
	default:
		t.Fatal("expected an event")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestSubscribe_SlowSubscriberDoesNotBlock(t *testing.T) {
	lister := &scriptLister{steps: [][]entity.Job{
		{job(jobA, constants.JobStatusProcessing), job(jobB, constants.JobStatusProcessing)},
		{job(jobA, constants.JobStatusCompleted), job(jobB, constants.JobStatusFailed)},
	}}
	w := New(lister, StaticIdentity("user-U"), discard, WithSubscriberBuffer(1))
	ch, cancel := w.Subscribe()
	defer cancel()
	ctx := context.Background()

	_, err := w.Poll(ctx)
	require.NoError(t, err)
	events, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Len(t, ch, 1)
}

func TestRun_PollsImmediatelyAndOnTicks(t *testing.T) {
	lister := &scriptLister{steps: [][]entity.Job{
		{job(jobA, constants.JobStatusProcessing)},
		{job(jobA, constants.JobStatusCompleted)},
	}}
	w := New(lister, StaticIdentity("user-U"), discard, WithInterval(10*time.Millisecond))
	ch, cancel := w.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case ev := <-ch:
		assert.Equal(t, EventCompleted, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no event from run loop")
	}
	stop()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.GreaterOrEqual(t, lister.Calls(), 2)
}

func TestFileStore_LoadMissing(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStore(client, "syllabus-jobs:watcher:", "tab-1", time.Hour)
	ctx := context.Background()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	want := Snapshot{Identity: "user-U", Jobs: []entity.Job{job(jobA, constants.JobStatusFailed)}, TakenAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	assert.Equal(t, "syllabus-jobs:watcher:tab-1", s.Key())
	require.NoError(t, s.Save(ctx, want))
	assert.True(t, mr.Exists(s.Key()))
	assert.Equal(t, time.Hour, mr.TTL(s.Key()))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Identity, got.Identity)
	assert.Equal(t, want.TakenAt, got.TakenAt)
	require.Len(t, got.Jobs, 1)
	assert.Equal(t, jobA, got.Jobs[0].ID)
	assert.Equal(t, "storage unreachable", *got.Jobs[0].Error)

	mr.Set(s.Key(), "{not json")
	_, err = s.Load(ctx)
	assert.Error(t, err)
}
