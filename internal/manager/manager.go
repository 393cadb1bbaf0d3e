// Package manager implements the fan-out activity-feed engine: follow and
// unfollow with copy-on-follow backfill, add/remove activity with batched
// fan-out to followers, and the read-side merge that reconciles the two.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"example.com/feedfan/internal/domain"
	"example.com/feedfan/internal/firehose"
	"example.com/feedfan/internal/lock"
	"example.com/feedfan/internal/observability"
	"example.com/feedfan/internal/queue"
)

// Options tune the engine. Zero values fall back to the defaults below.
type Options struct {
	// UseQueue defers fan-out batches to the work queue instead of
	// executing them inline.
	UseQueue bool
	// CopyLimit bounds how many recent entries a new follower backfills.
	CopyLimit int
	// FanoutBatchSize bounds how many follower feeds one fan-out write
	// touches.
	FanoutBatchSize int
	// SearchDepth bounds how many entries a feed read fetches. Entries
	// older than the window are invisible to reads.
	SearchDepth int
	// LockTTL is the lease duration for the per-source follow lock. There
	// is no renewal; locked sections must stay shorter than this.
	LockTTL time.Duration
}

// DefaultOptions returns the tuning the engine ships with.
func DefaultOptions() Options {
	return Options{
		CopyLimit:       300,
		FanoutBatchSize: 500,
		SearchDepth:     1000,
		LockTTL:         10 * time.Second,
	}
}

// FeedManager is a stateless orchestrator over the injected collaborators.
// It owns no persisted state; all handles are set at construction and
// immutable afterwards.
type FeedManager struct {
	store    domain.Store
	locker   lock.Locker
	queue    queue.Queue
	notifier firehose.Notifier
	opts     Options
	logger   *log.Logger
}

// New constructs a FeedManager. The notifier may be nil for no real-time
// layer; the queue may be nil, which forces inline fan-out.
func New(store domain.Store, locker lock.Locker, q queue.Queue, notifier firehose.Notifier, opts Options) *FeedManager {
	defaults := DefaultOptions()
	if opts.CopyLimit == 0 {
		opts.CopyLimit = defaults.CopyLimit
	}
	if opts.FanoutBatchSize <= 0 {
		opts.FanoutBatchSize = defaults.FanoutBatchSize
	}
	if opts.SearchDepth <= 0 {
		opts.SearchDepth = defaults.SearchDepth
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaults.LockTTL
	}
	if q == nil {
		opts.UseQueue = false
	}
	if notifier == nil {
		notifier = firehose.Nop{}
	}
	return &FeedManager{
		store:    store,
		locker:   locker,
		queue:    q,
		notifier: notifier,
		opts:     opts,
		logger:   log.New(log.Writer(), "[feedmanager] ", log.LstdFlags),
	}
}

// GetOrCreateFeed resolves one feed by group name and feed id, creating the
// group and feed lazily on first reference.
func (m *FeedManager) GetOrCreateFeed(ctx context.Context, group, feedID string) (domain.Feed, error) {
	feeds, err := m.GetOrCreateFeeds(ctx, []domain.FeedRef{{Group: group, FeedID: feedID}})
	if err != nil {
		return domain.Feed{}, err
	}
	feed, ok := feeds[group][feedID]
	if !ok {
		return domain.Feed{}, fmt.Errorf("feed %s:%s not found after upsert", group, feedID)
	}
	return feed, nil
}

// GetOrCreateFeeds resolves many (group, feedID) pairs in one batched round
// trip and returns them as group name -> feed id -> feed.
//
// The write and the read are separate phases because the bulk upsert does
// not report identities for rows that already existed; re-reading after the
// write is what makes this correct under concurrent creation.
func (m *FeedManager) GetOrCreateFeeds(ctx context.Context, refs []domain.FeedRef) (map[string]map[string]domain.Feed, error) {
	groups := make(map[string]domain.FeedGroup)
	for _, ref := range refs {
		if _, ok := groups[ref.Group]; ok {
			continue
		}
		group, err := m.store.UpsertFeedGroup(ctx, ref.Group)
		if err != nil && !errors.Is(err, domain.ErrDuplicateKey) {
			return nil, fmt.Errorf("upsert feed group %q: %w", ref.Group, err)
		}
		groups[ref.Group] = group
	}

	upserts := make([]domain.Feed, 0, len(refs))
	for _, ref := range refs {
		upserts = append(upserts, domain.Feed{GroupID: groups[ref.Group].ID, FeedID: ref.FeedID})
	}
	if err := m.store.BulkUpsertFeeds(ctx, upserts); err != nil && !errors.Is(err, domain.ErrDuplicateKey) {
		return nil, fmt.Errorf("bulk upsert feeds: %w", err)
	}

	found, err := m.store.FindFeeds(ctx, upserts)
	if err != nil {
		return nil, fmt.Errorf("find feeds: %w", err)
	}

	out := make(map[string]map[string]domain.Feed)
	for _, feed := range found {
		if out[feed.GroupName] == nil {
			out[feed.GroupName] = make(map[string]domain.Feed)
		}
		out[feed.GroupName][feed.FeedID] = feed
	}
	return out, nil
}

// Follow creates one follow edge and backfills the source feed with the
// target's recent history.
func (m *FeedManager) Follow(ctx context.Context, source, target domain.Feed) error {
	return m.FollowMany(ctx, []domain.FollowPair{{Source: source, Target: target}}, m.opts.CopyLimit)
}

// FollowMany creates many follow edges in one batched write, then backfills
// each distinct source feed under its per-source lock. A copyLimit of zero
// skips the backfill entirely.
func (m *FeedManager) FollowMany(ctx context.Context, pairs []domain.FollowPair, copyLimit int) error {
	follows := make([]domain.Follow, 0, len(pairs))
	for _, pair := range pairs {
		if pair.Source.ID == "" || pair.Target.ID == "" {
			return domain.ErrMissingFeed
		}
		follows = append(follows, domain.Follow{SourceID: pair.Source.ID, TargetID: pair.Target.ID})
	}
	if err := m.store.BulkUpsertFollows(ctx, follows); err != nil && !errors.Is(err, domain.ErrDuplicateKey) {
		return fmt.Errorf("bulk upsert follows: %w", err)
	}
	if copyLimit <= 0 {
		return nil
	}

	targetsBySource := make(map[string][]string)
	order := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if _, seen := targetsBySource[pair.Source.ID]; !seen {
			order = append(order, pair.Source.ID)
		}
		targetsBySource[pair.Source.ID] = append(targetsBySource[pair.Source.ID], pair.Target.ID)
	}

	for _, sourceID := range order {
		if err := m.copyOnFollow(ctx, sourceID, targetsBySource[sourceID], copyLimit); err != nil {
			return err
		}
	}
	return nil
}

// copyOnFollow copies the most recent entries of the just-followed targets
// into the source feed, serialized against concurrent fan-out into the same
// source by the per-source lock.
func (m *FeedManager) copyOnFollow(ctx context.Context, sourceID string, targetIDs []string, copyLimit int) error {
	lease, err := m.locker.Lock(ctx, followLockKey(sourceID), m.opts.LockTTL)
	if err != nil {
		return fmt.Errorf("follow %s: %w", sourceID, err)
	}
	defer func() {
		if unlockErr := lease.Unlock(ctx); unlockErr != nil {
			m.logger.Printf("unlock %s: %v", followLockKey(sourceID), unlockErr)
		}
	}()

	references, err := m.store.RecentFeedEntries(ctx, targetIDs, copyLimit)
	if err != nil {
		return fmt.Errorf("read entries to copy: %w", err)
	}
	if len(references) == 0 {
		return nil
	}

	copies := make([]domain.FeedEntry, 0, len(references))
	for _, ref := range references {
		// The origin stays the original contributor's feed, not the target
		// being followed, so a later unfollow retracts exactly the right
		// rows.
		copies = append(copies, domain.FeedEntry{
			ID:            uuid.NewString(),
			FeedID:        sourceID,
			ActivityID:    ref.ActivityID,
			Operation:     ref.Operation,
			Time:          ref.Time,
			OperationTime: ref.OperationTime,
			OriginID:      ref.OriginID,
		})
	}
	if err := m.store.BulkInsertFeedEntries(ctx, copies); err != nil {
		return fmt.Errorf("backfill source feed: %w", err)
	}
	observability.RecordCopyOnFollow(len(copies))
	return nil
}

// Unfollow destroys the follow edge and retracts every entry the target
// contributed to the source feed, under the same per-source lock.
func (m *FeedManager) Unfollow(ctx context.Context, source, target domain.Feed) error {
	if source.ID == "" || target.ID == "" {
		return domain.ErrMissingFeed
	}
	lease, err := m.locker.Lock(ctx, followLockKey(source.ID), m.opts.LockTTL)
	if err != nil {
		return fmt.Errorf("unfollow %s: %w", source.ID, err)
	}
	defer func() {
		if unlockErr := lease.Unlock(ctx); unlockErr != nil {
			m.logger.Printf("unlock %s: %v", followLockKey(source.ID), unlockErr)
		}
	}()

	if _, err := m.store.DeleteFollow(ctx, source.ID, target.ID); err != nil {
		return fmt.Errorf("delete follow: %w", err)
	}
	if _, err := m.store.DeleteFeedEntriesByOrigin(ctx, source.ID, target.ID); err != nil {
		return fmt.Errorf("retract entries: %w", err)
	}
	return nil
}

// AddActivity adds an activity to the feed and fans it out to followers.
func (m *FeedManager) AddActivity(ctx context.Context, activity domain.Activity, feed domain.Feed) (domain.Activity, error) {
	return m.addOrRemoveActivity(ctx, activity, feed, domain.OperationAdd)
}

// RemoveActivity appends a remove entry for the activity; the activity
// itself and its prior entries are kept, and the read-side merge hides it.
func (m *FeedManager) RemoveActivity(ctx context.Context, activity domain.Activity, feed domain.Feed) (domain.Activity, error) {
	return m.addOrRemoveActivity(ctx, activity, feed, domain.OperationRemove)
}

func (m *FeedManager) addOrRemoveActivity(ctx context.Context, values domain.Activity, feed domain.Feed, op domain.Operation) (domain.Activity, error) {
	if feed.ID == "" {
		return domain.Activity{}, domain.ErrMissingFeed
	}
	if values.Time.IsZero() {
		values.Time = time.Now().UTC()
	}

	var activity domain.Activity
	var err error
	if values.ForeignID != "" {
		activity, err = m.store.UpsertActivityByForeignID(ctx, values)
	} else {
		activity, err = m.store.UpsertActivityExact(ctx, values)
	}
	if err != nil {
		return domain.Activity{}, fmt.Errorf("upsert activity: %w", err)
	}

	entry, err := m.store.InsertFeedEntry(ctx, domain.FeedEntry{
		FeedID:     feed.ID,
		ActivityID: activity.ID,
		Operation:  op,
		Time:       activity.Time,
		OriginID:   feed.ID,
	})
	if err != nil {
		return domain.Activity{}, fmt.Errorf("append origin entry: %w", err)
	}
	if err := m.notify(ctx, []domain.FeedEntry{entry}); err != nil {
		return domain.Activity{}, err
	}

	followers, err := m.store.FollowersOf(ctx, feed.ID)
	if err != nil {
		return domain.Activity{}, fmt.Errorf("load followers: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, batch := range chunkFollows(followers, m.opts.FanoutBatchSize) {
		batch := batch
		observability.RecordFanoutBatch(m.opts.UseQueue)
		g.Go(func() error {
			if m.opts.UseQueue {
				return m.queue.Enqueue(gctx, queue.Job{
					Activity:  activity,
					Group:     batch,
					OriginID:  feed.ID,
					Operation: op,
				})
			}
			return m.Fanout(gctx, activity, batch, feed.ID, op)
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Activity{}, err
	}
	return activity, nil
}

// Fanout writes one batch of follower entries in a single bulk write and
// notifies the affected feeds. It is also the worker-pool entry point for
// queued jobs, and stays safe under at-least-once redelivery: replays only
// add more entries, which the read-side merge already tolerates.
func (m *FeedManager) Fanout(ctx context.Context, activity domain.Activity, group []domain.Follow, originID string, op domain.Operation) error {
	now := time.Now().UTC()
	entries := make([]domain.FeedEntry, 0, len(group))
	for _, follow := range group {
		if follow.SourceID == "" {
			return fmt.Errorf("fanout from %s: %w", originID, domain.ErrMissingFollowSource)
		}
		entries = append(entries, domain.FeedEntry{
			ID:            uuid.NewString(),
			FeedID:        follow.SourceID,
			ActivityID:    activity.ID,
			Operation:     op,
			Time:          activity.Time,
			OperationTime: now,
			OriginID:      originID,
		})
	}
	if len(entries) == 0 {
		return nil
	}
	if err := m.store.BulkInsertFeedEntries(ctx, entries); err != nil {
		return fmt.Errorf("fanout bulk insert: %w", err)
	}
	observability.RecordEntriesWritten(len(entries))
	return m.notify(ctx, entries)
}

// notify groups freshly written entries by feed, resolves each feed's group
// by scanning the group table, and hands the per-feed batches to the sink.
// Sink delivery is best-effort; a feed referencing a missing group is an
// integrity error and does fail the call.
func (m *FeedManager) notify(ctx context.Context, entries []domain.FeedEntry) error {
	if len(entries) == 0 {
		return nil
	}

	byFeed := make(map[string][]domain.FeedEntry)
	feedIDs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if _, seen := byFeed[entry.FeedID]; !seen {
			feedIDs = append(feedIDs, entry.FeedID)
		}
		byFeed[entry.FeedID] = append(byFeed[entry.FeedID], entry)
	}

	feeds, err := m.store.FeedsByID(ctx, feedIDs)
	if err != nil {
		return fmt.Errorf("resolve notified feeds: %w", err)
	}
	groups, err := m.store.ListFeedGroups(ctx)
	if err != nil {
		return fmt.Errorf("resolve feed groups: %w", err)
	}
	groupsByID := make(map[string]domain.FeedGroup, len(groups))
	for _, g := range groups {
		groupsByID[g.ID] = g
	}

	batches := make(map[string]firehose.Batch, len(feeds))
	for _, feed := range feeds {
		group, ok := groupsByID[feed.GroupID]
		if !ok {
			return fmt.Errorf("feed %s group %s: %w", feed.ID, feed.GroupID, domain.ErrUnknownFeedGroup)
		}
		batches[feed.ID] = firehose.Batch{
			Channel: firehose.Channel{Group: group.Name, FeedID: feed.FeedID},
			Entries: byFeed[feed.ID],
		}
	}
	m.notifier.Notify(ctx, batches)
	return nil
}

func followLockKey(sourceID string) string {
	return "followLock:" + sourceID
}

// chunkFollows partitions followers into fixed-size fan-out batches.
func chunkFollows(follows []domain.Follow, size int) [][]domain.Follow {
	var chunks [][]domain.Follow
	for start := 0; start < len(follows); start += size {
		end := start + size
		if end > len(follows) {
			end = len(follows)
		}
		chunks = append(chunks, follows[start:end])
	}
	return chunks
}
