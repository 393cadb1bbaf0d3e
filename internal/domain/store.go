package domain

import "context"

// Store is the persistence boundary of the engine. Implementations are pure
// I/O adapters: identity rules and merge logic live in the manager, and the
// adapter only promises the operational contract described per method.
//
// Bulk upserts must tolerate concurrent creation by reporting
// unique-constraint violations as ErrDuplicateKey (or absorbing them), and
// bulk entry inserts must treat an exact redelivered row as a no-op.
type Store interface {
	// UpsertFeedGroup finds or creates the named group.
	UpsertFeedGroup(ctx context.Context, name string) (FeedGroup, error)
	// ListFeedGroups returns every group; used to batch-resolve group
	// references on notification.
	ListFeedGroups(ctx context.Context) ([]FeedGroup, error)

	// BulkUpsertFeeds inserts the (GroupID, FeedID) pairs that do not exist
	// yet in one batched write. It does not report which rows were created.
	BulkUpsertFeeds(ctx context.Context, feeds []Feed) error
	// FindFeeds re-reads the given (GroupID, FeedID) pairs with group names
	// joined in.
	FindFeeds(ctx context.Context, feeds []Feed) ([]Feed, error)
	// FeedsByID loads feed rows by primary key, without group names.
	FeedsByID(ctx context.Context, ids []string) ([]Feed, error)

	// UpsertActivityByForeignID upserts on (foreign_id, time), updating the
	// extra bag in place on conflict, and returns the stored row.
	UpsertActivityByForeignID(ctx context.Context, values Activity) (Activity, error)
	// UpsertActivityExact upserts on exact match of all core fields plus
	// the extra bag, and returns the stored row.
	UpsertActivityExact(ctx context.Context, values Activity) (Activity, error)
	// ActivitiesByID loads activities keyed by id.
	ActivitiesByID(ctx context.Context, ids []string) (map[string]Activity, error)

	// InsertFeedEntry appends one entry and returns it with its identity
	// and operation time assigned.
	InsertFeedEntry(ctx context.Context, entry FeedEntry) (FeedEntry, error)
	// BulkInsertFeedEntries appends a batch of entries in one write.
	// Redelivered rows (same entry id) are absorbed, not duplicated.
	BulkInsertFeedEntries(ctx context.Context, entries []FeedEntry) error
	// RecentFeedEntries returns up to limit entries across the given feeds,
	// most recent activity time first.
	RecentFeedEntries(ctx context.Context, feedIDs []string, limit int) ([]FeedEntry, error)
	// FeedEntryWindow returns up to depth entries for one feed ordered by
	// (time desc, operation time desc).
	FeedEntryWindow(ctx context.Context, feedID string, depth int) ([]FeedEntry, error)
	// DeleteFeedEntriesByOrigin removes every entry of feedID whose origin
	// is originID and reports how many were deleted.
	DeleteFeedEntriesByOrigin(ctx context.Context, feedID, originID string) (int64, error)

	// BulkUpsertFollows inserts the given edges, absorbing duplicates.
	BulkUpsertFollows(ctx context.Context, follows []Follow) error
	// FollowersOf returns all edges whose target is the given feed, in
	// stable descending target order.
	FollowersOf(ctx context.Context, targetID string) ([]Follow, error)
	// DeleteFollow removes one edge and reports whether it existed.
	DeleteFollow(ctx context.Context, sourceID, targetID string) (bool, error)
}
