package manager

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/feedfan/internal/domain"
	"example.com/feedfan/internal/firehose"
	"example.com/feedfan/internal/lock"
	"example.com/feedfan/internal/queue"
)

// fakeStore is an in-memory domain.Store with the same operational contract
// as the Postgres adapter: idempotent upserts, a strictly increasing
// operation-time clock, and ordered window reads.
type fakeStore struct {
	mu      sync.Mutex
	groups  []domain.FeedGroup
	feeds   []domain.Feed
	acts    []domain.Activity
	entries []domain.FeedEntry
	follows []domain.Follow
	opClock time.Time

	failRecentEntries error
	failBulkInsert    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{opClock: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (s *fakeStore) nextOpTime() time.Time {
	s.opClock = s.opClock.Add(time.Millisecond)
	return s.opClock
}

func (s *fakeStore) UpsertFeedGroup(_ context.Context, name string) (domain.FeedGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.Name == name {
			return g, nil
		}
	}
	group := domain.FeedGroup{ID: uuid.NewString(), Name: name}
	s.groups = append(s.groups, group)
	return group, nil
}

func (s *fakeStore) ListFeedGroups(context.Context) ([]domain.FeedGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.FeedGroup(nil), s.groups...), nil
}

func (s *fakeStore) BulkUpsertFeeds(_ context.Context, feeds []domain.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range feeds {
		if s.findFeed(f.GroupID, f.FeedID) == nil {
			s.feeds = append(s.feeds, domain.Feed{ID: uuid.NewString(), GroupID: f.GroupID, FeedID: f.FeedID})
		}
	}
	return nil
}

func (s *fakeStore) findFeed(groupID, feedID string) *domain.Feed {
	for i := range s.feeds {
		if s.feeds[i].GroupID == groupID && s.feeds[i].FeedID == feedID {
			return &s.feeds[i]
		}
	}
	return nil
}

func (s *fakeStore) FindFeeds(_ context.Context, feeds []domain.Feed) ([]domain.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Feed
	for _, want := range feeds {
		if f := s.findFeed(want.GroupID, want.FeedID); f != nil {
			found := *f
			for _, g := range s.groups {
				if g.ID == found.GroupID {
					found.GroupName = g.Name
				}
			}
			out = append(out, found)
		}
	}
	return out, nil
}

func (s *fakeStore) FeedsByID(_ context.Context, ids []string) ([]domain.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Feed
	for _, id := range ids {
		for _, f := range s.feeds {
			if f.ID == id {
				out = append(out, domain.Feed{ID: f.ID, GroupID: f.GroupID, FeedID: f.FeedID})
			}
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertActivityByForeignID(_ context.Context, values domain.Activity) (domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.acts {
		if s.acts[i].ForeignID == values.ForeignID && s.acts[i].Time.Equal(values.Time) {
			s.acts[i].Actor = values.Actor
			s.acts[i].Verb = values.Verb
			s.acts[i].Object = values.Object
			s.acts[i].Target = values.Target
			s.acts[i].Extra = values.Extra
			return s.acts[i], nil
		}
	}
	values.ID = uuid.NewString()
	s.acts = append(s.acts, values)
	return values, nil
}

func (s *fakeStore) UpsertActivityExact(_ context.Context, values domain.Activity) (domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.acts {
		if a.ForeignID == "" && a.Actor == values.Actor && a.Verb == values.Verb &&
			a.Object == values.Object && a.Target == values.Target &&
			a.Time.Equal(values.Time) && reflect.DeepEqual(a.Extra, values.Extra) {
			return a, nil
		}
	}
	values.ID = uuid.NewString()
	s.acts = append(s.acts, values)
	return values, nil
}

func (s *fakeStore) ActivitiesByID(_ context.Context, ids []string) (map[string]domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Activity)
	for _, id := range ids {
		for _, a := range s.acts {
			if a.ID == id {
				out[id] = a
			}
		}
	}
	return out, nil
}

func (s *fakeStore) InsertFeedEntry(_ context.Context, entry domain.FeedEntry) (domain.FeedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = uuid.NewString()
	entry.OperationTime = s.nextOpTime()
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *fakeStore) BulkInsertFeedEntries(_ context.Context, entries []domain.FeedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failBulkInsert != nil {
		return s.failBulkInsert
	}
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		exists := false
		for _, have := range s.entries {
			if have.ID == e.ID {
				exists = true
			}
		}
		if exists {
			continue
		}
		if e.OperationTime.IsZero() {
			e.OperationTime = s.nextOpTime()
		}
		s.entries = append(s.entries, e)
	}
	return nil
}

func (s *fakeStore) RecentFeedEntries(_ context.Context, feedIDs []string, limit int) ([]domain.FeedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRecentEntries != nil {
		return nil, s.failRecentEntries
	}
	wanted := make(map[string]struct{}, len(feedIDs))
	for _, id := range feedIDs {
		wanted[id] = struct{}{}
	}
	var out []domain.FeedEntry
	for _, e := range s.entries {
		if _, ok := wanted[e.FeedID]; ok {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) FeedEntryWindow(_ context.Context, feedID string, depth int) ([]domain.FeedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FeedEntry
	for _, e := range s.entries {
		if e.FeedID == feedID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.After(out[j].Time)
		}
		return out[i].OperationTime.After(out[j].OperationTime)
	})
	if len(out) > depth {
		out = out[:depth]
	}
	return out, nil
}

func (s *fakeStore) DeleteFeedEntriesByOrigin(_ context.Context, feedID, originID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.FeedEntry
	var deleted int64
	for _, e := range s.entries {
		if e.FeedID == feedID && e.OriginID == originID {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}

func (s *fakeStore) BulkUpsertFollows(_ context.Context, follows []domain.Follow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range follows {
		exists := false
		for _, have := range s.follows {
			if have.SourceID == f.SourceID && have.TargetID == f.TargetID {
				exists = true
			}
		}
		if !exists {
			s.follows = append(s.follows, domain.Follow{ID: uuid.NewString(), SourceID: f.SourceID, TargetID: f.TargetID})
		}
	}
	return nil
}

func (s *fakeStore) FollowersOf(_ context.Context, targetID string) ([]domain.Follow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Follow
	for _, f := range s.follows {
		if f.TargetID == targetID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteFollow(_ context.Context, sourceID, targetID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.Follow
	found := false
	for _, f := range s.follows {
		if f.SourceID == sourceID && f.TargetID == targetID {
			found = true
			continue
		}
		kept = append(kept, f)
	}
	s.follows = kept
	return found, nil
}

// stubLocker hands out leases and records the acquire/release balance.
type stubLocker struct {
	mu       sync.Mutex
	fail     bool
	acquires int
	releases int
	keys     []string
}

func (l *stubLocker) Lock(_ context.Context, key string, _ time.Duration) (lock.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return nil, lock.ErrNotAcquired
	}
	l.acquires++
	l.keys = append(l.keys, key)
	return &stubLease{locker: l}, nil
}

type stubLease struct {
	locker *stubLocker
}

func (le *stubLease) Unlock(context.Context) error {
	le.locker.mu.Lock()
	defer le.locker.mu.Unlock()
	le.locker.releases++
	return nil
}

// recordingNotifier captures every delivered batch map.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []map[string]firehose.Batch
}

func (n *recordingNotifier) Notify(_ context.Context, batches map[string]firehose.Batch) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, batches)
}

// captureQueue records enqueued jobs without executing them.
type captureQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (q *captureQueue) Enqueue(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}
