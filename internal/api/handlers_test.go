package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"example.com/feedfan/internal/auth"
	"example.com/feedfan/internal/domain"
)

type stubEngine struct {
	feeds      map[string]domain.Feed
	items      []domain.FeedItem
	readErr    error
	added      []domain.Activity
	removed    []domain.Activity
	follows    [][2]string
	unfollows  [][2]string
	lastOffset int
	lastLimit  int
	lastAgg    domain.AggregationStrategy
}

func (e *stubEngine) GetOrCreateFeed(_ context.Context, group, feedID string) (domain.Feed, error) {
	key := group + ":" + feedID
	if feed, ok := e.feeds[key]; ok {
		return feed, nil
	}
	if e.feeds == nil {
		e.feeds = make(map[string]domain.Feed)
	}
	feed := domain.Feed{ID: "feed-" + feedID, GroupName: group, FeedID: feedID}
	e.feeds[key] = feed
	return feed, nil
}

func (e *stubEngine) AddActivity(_ context.Context, activity domain.Activity, _ domain.Feed) (domain.Activity, error) {
	activity.ID = "act-1"
	e.added = append(e.added, activity)
	return activity, nil
}

func (e *stubEngine) RemoveActivity(_ context.Context, activity domain.Activity, _ domain.Feed) (domain.Activity, error) {
	activity.ID = "act-1"
	e.removed = append(e.removed, activity)
	return activity, nil
}

func (e *stubEngine) ReadFeed(_ context.Context, _ domain.Feed, offset, limit int, _ domain.RankingStrategy, aggregation domain.AggregationStrategy) ([]domain.FeedItem, error) {
	e.lastOffset = offset
	e.lastLimit = limit
	e.lastAgg = aggregation
	return e.items, e.readErr
}

func (e *stubEngine) Follow(_ context.Context, source, target domain.Feed) error {
	e.follows = append(e.follows, [2]string{source.ID, target.ID})
	return nil
}

func (e *stubEngine) Unfollow(_ context.Context, source, target domain.Feed) error {
	e.unfollows = append(e.unfollows, [2]string{source.ID, target.ID})
	return nil
}

func authed(req *http.Request, scopes ...string) *http.Request {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	claims := &auth.Claims{
		Subject:   "tester",
		Scopes:    set,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func TestReadFeedSuccess(t *testing.T) {
	when := time.Date(2015, 6, 15, 10, 0, 0, 0, time.UTC)
	engine := &stubEngine{
		items: []domain.FeedItem{
			{Activity: &domain.Activity{ID: "act-1", Actor: "alice", Verb: "run", Time: when}, Time: when},
		},
	}
	handler := NewHandler(engine)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/feeds/timeline/alice?offset=1&limit=3", nil), auth.ScopeFeedsRead)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if engine.lastOffset != 1 || engine.lastLimit != 3 {
		t.Fatalf("expected offset=1 limit=3, got offset=%d limit=%d", engine.lastOffset, engine.lastLimit)
	}

	var resp ReadFeedResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Group != "timeline" || resp.FeedID != "alice" {
		t.Fatalf("unexpected feed identity: %+v", resp)
	}
	if len(resp.Items) != 1 || resp.Items[0].Activity.ID != "act-1" {
		t.Fatalf("unexpected items: %+v", resp.Items)
	}
}

func TestReadFeedAggregationParam(t *testing.T) {
	engine := &stubEngine{}
	handler := NewHandler(engine)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/feeds/timeline/alice?aggregate=verb", nil), auth.ScopeFeedsRead)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if engine.lastAgg == nil {
		t.Fatal("expected aggregation strategy to be passed through")
	}

	req = authed(httptest.NewRequest(http.MethodGet, "/v1/feeds/timeline/alice?aggregate=bogus", nil), auth.ScopeFeedsRead)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown aggregation, got %d", rr.Code)
	}
}

func TestReadFeedRequiresScope(t *testing.T) {
	handler := NewHandler(&stubEngine{})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/feeds/timeline/alice", nil))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestAddActivity(t *testing.T) {
	engine := &stubEngine{}
	handler := NewHandler(engine)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	body := bytes.NewBufferString(`{"actor":"alice","verb":"run","foreign_id":"run:42","time":"2015-06-15T10:00:00Z","duration":50}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/feeds/timeline/alice/activities", body), auth.ScopeFeedsWrite)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}
	if len(engine.added) != 1 {
		t.Fatalf("expected one add, got %d", len(engine.added))
	}
	if engine.added[0].Extra["duration"] != float64(50) {
		t.Fatalf("expected extra field to survive decoding: %+v", engine.added[0].Extra)
	}

	var stored domain.Activity
	if err := json.Unmarshal(rr.Body.Bytes(), &stored); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stored.ID != "act-1" || stored.Extra["duration"] != float64(50) {
		t.Fatalf("unexpected stored activity: %+v", stored)
	}
}

func TestAddActivityValidation(t *testing.T) {
	handler := NewHandler(&stubEngine{})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	body := bytes.NewBufferString(`{"actor":"alice"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/feeds/timeline/alice/activities", body), auth.ScopeFeedsWrite)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRemoveActivity(t *testing.T) {
	engine := &stubEngine{}
	handler := NewHandler(engine)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	body := bytes.NewBufferString(`{"actor":"alice","verb":"run","foreign_id":"run:42","time":"2015-06-15T10:00:00Z"}`)
	req := authed(httptest.NewRequest(http.MethodDelete, "/v1/feeds/timeline/alice/activities", body), auth.ScopeFeedsWrite)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if len(engine.removed) != 1 {
		t.Fatalf("expected one remove, got %d", len(engine.removed))
	}
}

func TestWriteActivityRequiresWriteScope(t *testing.T) {
	handler := NewHandler(&stubEngine{})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	body := bytes.NewBufferString(`{"actor":"alice","verb":"run"}`)
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/feeds/timeline/alice/activities", body), auth.ScopeFeedsRead)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestFollowAndUnfollow(t *testing.T) {
	engine := &stubEngine{}
	handler := NewHandler(engine)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	payload := `{"source":{"group":"timeline","feed_id":"alice"},"target":{"group":"user","feed_id":"bob"}}`

	req := authed(httptest.NewRequest(http.MethodPost, "/v1/follows", bytes.NewBufferString(payload)), auth.ScopeFeedsWrite)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d: %s", rr.Code, rr.Body.String())
	}
	if len(engine.follows) != 1 {
		t.Fatalf("expected one follow, got %d", len(engine.follows))
	}

	req = authed(httptest.NewRequest(http.MethodDelete, "/v1/follows", bytes.NewBufferString(payload)), auth.ScopeFeedsWrite)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d: %s", rr.Code, rr.Body.String())
	}
	if len(engine.unfollows) != 1 {
		t.Fatalf("expected one unfollow, got %d", len(engine.unfollows))
	}
}

func TestFollowValidation(t *testing.T) {
	handler := NewHandler(&stubEngine{})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := authed(httptest.NewRequest(http.MethodPost, "/v1/follows",
		bytes.NewBufferString(`{"source":{"group":"timeline"}}`)), auth.ScopeFeedsWrite)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHealthzUnauthenticated(t *testing.T) {
	handler := NewHandler(&stubEngine{})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}
