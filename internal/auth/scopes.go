package auth

// Known OAuth scopes used by the feed API.
const (
	ScopeFeedsWrite = "feeds:write"
	ScopeFeedsRead  = "feeds:read"
)
