package domain

// FeedGroup is a named category of feeds ("user", "timeline"). Groups are
// created lazily on first reference and never deleted.
type FeedGroup struct {
	ID   string
	Name string
}

// Feed is one timeline inside a group. The (GroupID, FeedID) pair is unique.
// GroupName is populated when the feed was loaded with its group joined in;
// it is empty on rows read straight from the feed table.
type Feed struct {
	ID        string
	GroupID   string
	GroupName string
	FeedID    string
}

// FeedRef names a feed by group name and feed id, before resolution.
type FeedRef struct {
	Group  string `json:"group"`
	FeedID string `json:"feed_id"`
}

// Follow is a directed edge: the source feed receives copies of the target
// feed's entries. The (SourceID, TargetID) pair is unique.
type Follow struct {
	ID       string
	SourceID string
	TargetID string
}

// FollowPair couples two resolved feeds for Follow/FollowMany calls.
type FollowPair struct {
	Source Feed
	Target Feed
}
