package manager

import (
	"context"
	"sort"
	"time"

	"example.com/feedfan/internal/domain"
	"example.com/feedfan/internal/observability"
)

// ReadFeed materializes a feed: it fetches the bounded entry window, merges
// add/remove operations per activity by latest write, optionally groups the
// survivors with the aggregation strategy, orders the result, and slices it
// by offset and limit. Ranking and aggregation are mutually exclusive. A
// limit of zero or less means "to the end".
//
// The window is a hard boundary: an activity whose operation history was
// pushed out of the window by newer entries is invisible, even if its
// latest surviving operation was an add. Under heavy add/remove churn on a
// single activity this can render a feed empty while valid entries still
// exist beyond the window.
func (m *FeedManager) ReadFeed(ctx context.Context, feed domain.Feed, offset, limit int, ranking domain.RankingStrategy, aggregation domain.AggregationStrategy) ([]domain.FeedItem, error) {
	if feed.ID == "" {
		return nil, domain.ErrMissingFeed
	}
	if ranking != nil && aggregation != nil {
		return nil, domain.ErrRankAndAggregate
	}
	start := time.Now()

	window, err := m.store.FeedEntryWindow(ctx, feed.ID, m.opts.SearchDepth)
	if err != nil {
		return nil, err
	}

	// The store orders by (time desc, operationTime desc); deciding which
	// operation wins per activity needs pure write order, including
	// cross-activity interleavings, so re-sort by operationTime alone.
	ordered := make([]domain.FeedEntry, len(window))
	copy(ordered, window)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OperationTime.After(ordered[j].OperationTime)
	})

	// Latest write wins: the first entry seen for an activity decides its
	// fate, every older entry for it is ignored.
	seen := make(map[string]struct{}, len(ordered))
	surviving := make([]string, 0, len(ordered))
	for _, entry := range ordered {
		if _, done := seen[entry.ActivityID]; done {
			continue
		}
		seen[entry.ActivityID] = struct{}{}
		if entry.Operation == domain.OperationAdd {
			surviving = append(surviving, entry.ActivityID)
		}
	}

	byID, err := m.store.ActivitiesByID(ctx, surviving)
	if err != nil {
		return nil, err
	}
	activities := make([]domain.Activity, 0, len(surviving))
	for _, id := range surviving {
		if activity, ok := byID[id]; ok {
			activities = append(activities, activity)
		}
	}

	var items []domain.FeedItem
	if aggregation != nil {
		items = aggregate(activities, aggregation)
	} else {
		items = make([]domain.FeedItem, 0, len(activities))
		for i := range activities {
			items = append(items, domain.FeedItem{Activity: &activities[i], Time: activities[i].Time})
		}
	}

	if ranking != nil {
		sort.SliceStable(items, func(i, j int) bool {
			return ranking(*items[i].Activity, *items[j].Activity)
		})
	} else {
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Time.After(items[j].Time)
		})
	}

	observability.ObserveRead(time.Since(start).Seconds(), len(window))
	return slice(items, offset, limit), nil
}

// aggregate buckets activities by the strategy's key, in encounter order.
// A bucket takes the time of the first activity assigned to it.
func aggregate(activities []domain.Activity, strategy domain.AggregationStrategy) []domain.FeedItem {
	index := make(map[string]int)
	items := make([]domain.FeedItem, 0)
	for _, activity := range activities {
		key := strategy(activity)
		i, ok := index[key]
		if !ok {
			index[key] = len(items)
			items = append(items, domain.FeedItem{Group: key, Time: activity.Time})
			i = len(items) - 1
		}
		items[i].Activities = append(items[i].Activities, activity)
	}
	return items
}

func slice(items []domain.FeedItem, offset, limit int) []domain.FeedItem {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
