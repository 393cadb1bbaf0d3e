// Package api exposes HTTP handlers for the feed engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"example.com/feedfan/internal/auth"
	"example.com/feedfan/internal/domain"
)

// Engine is the slice of the feed manager the HTTP layer uses.
type Engine interface {
	GetOrCreateFeed(ctx context.Context, group, feedID string) (domain.Feed, error)
	AddActivity(ctx context.Context, activity domain.Activity, feed domain.Feed) (domain.Activity, error)
	RemoveActivity(ctx context.Context, activity domain.Activity, feed domain.Feed) (domain.Activity, error)
	ReadFeed(ctx context.Context, feed domain.Feed, offset, limit int, ranking domain.RankingStrategy, aggregation domain.AggregationStrategy) ([]domain.FeedItem, error)
	Follow(ctx context.Context, source, target domain.Feed) error
	Unfollow(ctx context.Context, source, target domain.Feed) error
}

// Handler coordinates HTTP requests with the feed engine.
type Handler struct {
	engine Engine
}

// NewHandler builds a Handler.
func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/feeds/", h.feeds)
	mux.HandleFunc("/v1/follows", h.follows)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// feeds dispatches /v1/feeds/{group}/{id} and /v1/feeds/{group}/{id}/activities.
func (h *Handler) feeds(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/feeds/"), "/")
	switch {
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		h.readFeed(w, r, parts[0], parts[1])
	case len(parts) == 3 && parts[0] != "" && parts[1] != "" && parts[2] == "activities":
		switch r.Method {
		case http.MethodPost:
			h.addActivity(w, r, parts[0], parts[1])
		case http.MethodDelete:
			h.removeActivity(w, r, parts[0], parts[1])
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		}
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown feed path")
	}
}

func (h *Handler) readFeed(w http.ResponseWriter, r *http.Request, group, feedID string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeFeedsRead) && !claims.HasScope(auth.ScopeFeedsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope feeds:read required")
		return
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	feed, err := h.engine.GetOrCreateFeed(r.Context(), group, feedID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	var aggregation domain.AggregationStrategy
	if key := r.URL.Query().Get("aggregate"); key != "" {
		aggregation = aggregationByKey(key)
		if aggregation == nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "unknown aggregation key")
			return
		}
	}

	items, err := h.engine.ReadFeed(r.Context(), feed, offset, limit, nil, aggregation)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ReadFeedResponse{
		Group:  group,
		FeedID: feedID,
		Offset: offset,
		Limit:  limit,
		Items:  items,
	})
}

// aggregationByKey maps the query-level aggregation names onto strategies.
func aggregationByKey(key string) domain.AggregationStrategy {
	switch key {
	case "verb":
		return func(a domain.Activity) string { return a.Verb }
	case "actor":
		return func(a domain.Activity) string { return a.Actor }
	case "verb_actor":
		return func(a domain.Activity) string { return a.Verb + "__" + a.Actor }
	default:
		return nil
	}
}

func (h *Handler) addActivity(w http.ResponseWriter, r *http.Request, group, feedID string) {
	h.writeActivity(w, r, group, feedID, h.engine.AddActivity, http.StatusCreated)
}

func (h *Handler) removeActivity(w http.ResponseWriter, r *http.Request, group, feedID string) {
	h.writeActivity(w, r, group, feedID, h.engine.RemoveActivity, http.StatusOK)
}

func (h *Handler) writeActivity(w http.ResponseWriter, r *http.Request, group, feedID string,
	apply func(context.Context, domain.Activity, domain.Feed) (domain.Activity, error), okStatus int) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeFeedsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope feeds:write required")
		return
	}

	var activity domain.Activity
	if err := json.NewDecoder(r.Body).Decode(&activity); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(activity.Actor) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "actor is required")
		return
	}
	if strings.TrimSpace(activity.Verb) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "verb is required")
		return
	}

	feed, err := h.engine.GetOrCreateFeed(r.Context(), group, feedID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	stored, err := apply(r.Context(), activity, feed)
	if err != nil {
		if errors.Is(err, domain.ErrMissingFeed) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, okStatus, stored)
}

// follows handles POST (create edge, with backfill) and DELETE (destroy edge,
// with retraction).
func (h *Handler) follows(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeFeedsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope feeds:write required")
		return
	}

	var req FollowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	source, err := h.engine.GetOrCreateFeed(r.Context(), req.Source.Group, req.Source.FeedID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	target, err := h.engine.GetOrCreateFeed(r.Context(), req.Target.Group, req.Target.FeedID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	switch r.Method {
	case http.MethodPost:
		err = h.engine.Follow(r.Context(), source, target)
	case http.MethodDelete:
		err = h.engine.Unfollow(r.Context(), source, target)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FollowRequest is the payload for POST and DELETE /v1/follows.
type FollowRequest struct {
	Source domain.FeedRef `json:"source"`
	Target domain.FeedRef `json:"target"`
}

// Validate ensures request correctness.
func (r FollowRequest) Validate() error {
	if strings.TrimSpace(r.Source.Group) == "" || strings.TrimSpace(r.Source.FeedID) == "" {
		return errors.New("source feed is required")
	}
	if strings.TrimSpace(r.Target.Group) == "" || strings.TrimSpace(r.Target.FeedID) == "" {
		return errors.New("target feed is required")
	}
	return nil
}

// ReadFeedResponse packages a materialized feed page.
type ReadFeedResponse struct {
	Group  string            `json:"group"`
	FeedID string            `json:"feed_id"`
	Offset int               `json:"offset"`
	Limit  int               `json:"limit,omitempty"`
	Items  []domain.FeedItem `json:"items"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
