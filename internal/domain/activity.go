// Package domain defines the entities and contracts of the feed engine.
package domain

import (
	"encoding/json"
	"time"
)

// Operation distinguishes the two kinds of feed entries.
type Operation int

const (
	// OperationAdd marks an entry that makes an activity visible in a feed.
	OperationAdd Operation = 1
	// OperationRemove marks an entry that retracts an activity from a feed.
	OperationRemove Operation = 2
)

// String returns a short label for logs.
func (op Operation) String() string {
	switch op {
	case OperationAdd:
		return "add"
	case OperationRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Activity is one logical event. Core fields are fixed; everything else a
// caller supplies travels in the Extra bag and is flattened back to the top
// level when the activity is serialized.
type Activity struct {
	ID        string
	Actor     string
	Verb      string
	Object    string
	Target    string
	ForeignID string
	Time      time.Time
	Extra     map[string]interface{}
}

// coreFields are the JSON keys reserved for the fixed activity attributes.
var coreFields = map[string]struct{}{
	"id":         {},
	"actor":      {},
	"verb":       {},
	"object":     {},
	"target":     {},
	"foreign_id": {},
	"time":       {},
}

// MarshalJSON flattens the Extra bag to the top level. Core fields win when
// a key collides with an extra field.
func (a Activity) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(a.Extra)+7)
	for k, v := range a.Extra {
		if _, reserved := coreFields[k]; reserved {
			continue
		}
		out[k] = v
	}
	if a.ID != "" {
		out["id"] = a.ID
	}
	out["actor"] = a.Actor
	out["verb"] = a.Verb
	out["object"] = a.Object
	if a.Target != "" {
		out["target"] = a.Target
	}
	if a.ForeignID != "" {
		out["foreign_id"] = a.ForeignID
	}
	if !a.Time.IsZero() {
		out["time"] = a.Time.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits a flat activity document into core fields plus the
// Extra bag, mirroring how callers submit open-ended activity payloads.
func (a *Activity) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for key, dst := range map[string]*string{
		"id":         &a.ID,
		"actor":      &a.Actor,
		"verb":       &a.Verb,
		"object":     &a.Object,
		"target":     &a.Target,
		"foreign_id": &a.ForeignID,
	} {
		if v, ok := raw[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				return err
			}
		}
	}
	if v, ok := raw["time"]; ok {
		if err := json.Unmarshal(v, &a.Time); err != nil {
			return err
		}
	}

	for key, v := range raw {
		if _, reserved := coreFields[key]; reserved {
			continue
		}
		var value interface{}
		if err := json.Unmarshal(v, &value); err != nil {
			return err
		}
		if a.Extra == nil {
			a.Extra = make(map[string]interface{})
		}
		a.Extra[key] = value
	}
	return nil
}

// FeedEntry is one immutable add/remove record for one activity in one feed.
// Time carries the activity's own timestamp and drives display ordering;
// OperationTime is the wall-clock write time and resolves add/remove races.
// OriginID is the feed the activity was first added to, which is what makes
// unfollow retraction possible.
type FeedEntry struct {
	ID            string
	FeedID        string
	ActivityID    string
	Operation     Operation
	Time          time.Time
	OperationTime time.Time
	OriginID      string
}
