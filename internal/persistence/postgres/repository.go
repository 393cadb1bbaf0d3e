// Package postgres provides the Postgres-backed store adapter for the feed
// engine's entities.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/feedfan/internal/domain"
)

// Repository implements domain.Store on a pgx connection pool.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertFeedGroup finds or creates the named group.
func (r *Repository) UpsertFeedGroup(ctx context.Context, name string) (domain.FeedGroup, error) {
	const stmt = `INSERT INTO feed_group (id, name) VALUES ($1, $2)
        ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
        RETURNING id, name`

	var group domain.FeedGroup
	err := r.pool.QueryRow(ctx, stmt, uuid.NewString(), name).Scan(&group.ID, &group.Name)
	if err != nil {
		return domain.FeedGroup{}, mapDuplicate(err)
	}
	return group, nil
}

// ListFeedGroups returns every feed group.
func (r *Repository) ListFeedGroups(ctx context.Context) ([]domain.FeedGroup, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM feed_group`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []domain.FeedGroup
	for rows.Next() {
		var g domain.FeedGroup
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// BulkUpsertFeeds inserts missing (group_id, feed_id) rows in one batched
// write. Existing rows are left untouched, and nothing is reported back for
// them, which is why callers re-read with FindFeeds afterwards.
func (r *Repository) BulkUpsertFeeds(ctx context.Context, feeds []domain.Feed) error {
	if len(feeds) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, f := range feeds {
		batch.Queue(
			`INSERT INTO feed (id, group_id, feed_id) VALUES ($1, $2, $3)
             ON CONFLICT (group_id, feed_id) DO NOTHING`,
			uuid.NewString(), f.GroupID, f.FeedID,
		)
	}
	return r.sendBatch(ctx, batch)
}

// FindFeeds re-reads the given (group_id, feed_id) pairs with group names.
func (r *Repository) FindFeeds(ctx context.Context, feeds []domain.Feed) ([]domain.Feed, error) {
	if len(feeds) == 0 {
		return nil, nil
	}
	groupIDs := make([]string, len(feeds))
	feedIDs := make([]string, len(feeds))
	for i, f := range feeds {
		groupIDs[i] = f.GroupID
		feedIDs[i] = f.FeedID
	}

	const query = `SELECT f.id, f.group_id, g.name, f.feed_id
        FROM feed f
        JOIN feed_group g ON g.id = f.group_id
        WHERE (f.group_id, f.feed_id) IN (
            SELECT unnest($1::uuid[]), unnest($2::text[])
        )`

	rows, err := r.pool.Query(ctx, query, groupIDs, feedIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Feed
	for rows.Next() {
		var f domain.Feed
		if err := rows.Scan(&f.ID, &f.GroupID, &f.GroupName, &f.FeedID); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FeedsByID loads feed rows by primary key. Group names are not joined in;
// resolving them is the notifier's job.
func (r *Repository) FeedsByID(ctx context.Context, ids []string) ([]domain.Feed, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, group_id, feed_id FROM feed WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Feed
	for rows.Next() {
		var f domain.Feed
		if err := rows.Scan(&f.ID, &f.GroupID, &f.FeedID); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertActivityByForeignID upserts on (foreign_id, time). A re-add with
// the same identity refreshes the mutable fields, most importantly the
// extra bag, in place.
func (r *Repository) UpsertActivityByForeignID(ctx context.Context, values domain.Activity) (domain.Activity, error) {
	extra, err := marshalExtra(values.Extra)
	if err != nil {
		return domain.Activity{}, err
	}

	const stmt = `INSERT INTO activity (id, actor, verb, object, target, foreign_id, "time", extra)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (foreign_id, "time") WHERE foreign_id <> ''
        DO UPDATE SET actor = EXCLUDED.actor, verb = EXCLUDED.verb,
            object = EXCLUDED.object, target = EXCLUDED.target,
            extra = EXCLUDED.extra, updated_at = now()
        RETURNING id, actor, verb, object, target, foreign_id, "time", extra`

	row := r.pool.QueryRow(ctx, stmt,
		uuid.NewString(), values.Actor, values.Verb, values.Object,
		values.Target, values.ForeignID, values.Time, extra,
	)
	return scanActivity(row)
}

// UpsertActivityExact falls back to exact-match identity when no foreign id
// was supplied: an activity equal in every core field and the extra bag is
// reused, otherwise a new row is created.
func (r *Repository) UpsertActivityExact(ctx context.Context, values domain.Activity) (domain.Activity, error) {
	extra, err := marshalExtra(values.Extra)
	if err != nil {
		return domain.Activity{}, err
	}

	const query = `SELECT id, actor, verb, object, target, foreign_id, "time", extra
        FROM activity
        WHERE actor = $1 AND verb = $2 AND object = $3 AND target = $4
          AND foreign_id = '' AND "time" = $5 AND extra = $6::jsonb
        LIMIT 1`

	row := r.pool.QueryRow(ctx, query,
		values.Actor, values.Verb, values.Object, values.Target, values.Time, extra)
	found, err := scanActivity(row)
	if err == nil {
		return found, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Activity{}, err
	}

	const insert = `INSERT INTO activity (id, actor, verb, object, target, foreign_id, "time", extra)
        VALUES ($1, $2, $3, $4, $5, '', $6, $7)
        RETURNING id, actor, verb, object, target, foreign_id, "time", extra`

	row = r.pool.QueryRow(ctx, insert,
		uuid.NewString(), values.Actor, values.Verb, values.Object,
		values.Target, values.Time, extra)
	return scanActivity(row)
}

// ActivitiesByID loads activities keyed by id.
func (r *Repository) ActivitiesByID(ctx context.Context, ids []string) (map[string]domain.Activity, error) {
	out := make(map[string]domain.Activity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, actor, verb, object, target, foreign_id, "time", extra
         FROM activity WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out[activity.ID] = activity
	}
	return out, rows.Err()
}

// InsertFeedEntry appends one entry, letting the database assign the
// operation time.
func (r *Repository) InsertFeedEntry(ctx context.Context, entry domain.FeedEntry) (domain.FeedEntry, error) {
	const stmt = `INSERT INTO activity_feed (id, feed_id, activity_id, operation, "time", origin_id)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING operation_time`

	entry.ID = uuid.NewString()
	err := r.pool.QueryRow(ctx, stmt,
		entry.ID, entry.FeedID, entry.ActivityID, int(entry.Operation),
		entry.Time, entry.OriginID,
	).Scan(&entry.OperationTime)
	if err != nil {
		return domain.FeedEntry{}, mapDuplicate(err)
	}
	return entry, nil
}

// BulkInsertFeedEntries appends a batch of entries in one batched write.
// Entries that already exist (queue redelivery) are absorbed.
func (r *Repository) BulkInsertFeedEntries(ctx context.Context, entries []domain.FeedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		var opTime interface{}
		if !e.OperationTime.IsZero() {
			opTime = e.OperationTime
		}
		batch.Queue(
			`INSERT INTO activity_feed (id, feed_id, activity_id, operation, "time", operation_time, origin_id)
             VALUES ($1, $2, $3, $4, $5, COALESCE($6::timestamptz, now()), $7)
             ON CONFLICT (id) DO NOTHING`,
			id, e.FeedID, e.ActivityID, int(e.Operation), e.Time, opTime, e.OriginID,
		)
	}
	return r.sendBatch(ctx, batch)
}

// RecentFeedEntries returns up to limit entries across the given feeds,
// most recent activity time first.
func (r *Repository) RecentFeedEntries(ctx context.Context, feedIDs []string, limit int) ([]domain.FeedEntry, error) {
	if len(feedIDs) == 0 || limit <= 0 {
		return nil, nil
	}
	const query = `SELECT id, feed_id, activity_id, operation, "time", operation_time, origin_id
        FROM activity_feed
        WHERE feed_id = ANY($1::uuid[])
        ORDER BY "time" DESC
        LIMIT $2`

	return r.queryEntries(ctx, query, feedIDs, limit)
}

// FeedEntryWindow returns the bounded read window for one feed, ordered by
// (time desc, operation_time desc).
func (r *Repository) FeedEntryWindow(ctx context.Context, feedID string, depth int) ([]domain.FeedEntry, error) {
	const query = `SELECT id, feed_id, activity_id, operation, "time", operation_time, origin_id
        FROM activity_feed
        WHERE feed_id = $1
        ORDER BY "time" DESC, operation_time DESC
        LIMIT $2`

	return r.queryEntries(ctx, query, feedID, depth)
}

// DeleteFeedEntriesByOrigin removes every entry of feedID contributed by
// originID.
func (r *Repository) DeleteFeedEntriesByOrigin(ctx context.Context, feedID, originID string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM activity_feed WHERE feed_id = $1 AND origin_id = $2`,
		feedID, originID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// BulkUpsertFollows inserts the given edges in one batched write, absorbing
// edges that already exist.
func (r *Repository) BulkUpsertFollows(ctx context.Context, follows []domain.Follow) error {
	if len(follows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, f := range follows {
		batch.Queue(
			`INSERT INTO follow (id, source_id, target_id) VALUES ($1, $2, $3)
             ON CONFLICT (source_id, target_id) DO NOTHING`,
			uuid.NewString(), f.SourceID, f.TargetID,
		)
	}
	return r.sendBatch(ctx, batch)
}

// FollowersOf returns all follow edges targeting the given feed in stable
// descending target order.
func (r *Repository) FollowersOf(ctx context.Context, targetID string) ([]domain.Follow, error) {
	const query = `SELECT id, source_id, target_id FROM follow
        WHERE target_id = $1
        ORDER BY target_id DESC, id`

	rows, err := r.pool.Query(ctx, query, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Follow
	for rows.Next() {
		var f domain.Follow
		if err := rows.Scan(&f.ID, &f.SourceID, &f.TargetID); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFollow removes one edge and reports whether it existed.
func (r *Repository) DeleteFollow(ctx context.Context, sourceID, targetID string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM follow WHERE source_id = $1 AND target_id = $2`,
		sourceID, targetID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return mapDuplicate(err)
		}
	}
	return nil
}

func (r *Repository) queryEntries(ctx context.Context, query string, args ...interface{}) ([]domain.FeedEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FeedEntry
	for rows.Next() {
		var e domain.FeedEntry
		var op int
		if err := rows.Scan(&e.ID, &e.FeedID, &e.ActivityID, &op, &e.Time, &e.OperationTime, &e.OriginID); err != nil {
			return nil, err
		}
		e.Operation = domain.Operation(op)
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanActivity(row rowScanner) (domain.Activity, error) {
	var a domain.Activity
	var extra []byte
	if err := row.Scan(&a.ID, &a.Actor, &a.Verb, &a.Object, &a.Target, &a.ForeignID, &a.Time, &extra); err != nil {
		return domain.Activity{}, err
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &a.Extra); err != nil {
			return domain.Activity{}, fmt.Errorf("decode activity extra: %w", err)
		}
	}
	if len(a.Extra) == 0 {
		a.Extra = nil
	}
	return a, nil
}

func marshalExtra(extra map[string]interface{}) ([]byte, error) {
	if extra == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(extra)
}

// mapDuplicate folds unique-constraint violations into the engine's benign
// idempotency signal.
func mapDuplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateKey, pgErr.ConstraintName)
	}
	return err
}
