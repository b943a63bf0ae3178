package interact

// Provider-agnostic contracts for the social network the bot lives on.
// The Neynar client implements all of them; the job queue implements
// SubscriptionRegistrar by deferring to the client out of band.

import (
	"context"
	"time"
)

// Post is a single post as returned by thread and feed reads.
type Post struct {
	ID             string
	AuthorID       string
	AuthorUsername string
	Text           string
	ParentID       string
	Depth          int // 0 for the anchor post of a thread read
	CreatedAt      time.Time
}

// ReplyPoster publishes replies.
type ReplyPoster interface {
	// PostReply posts body beneath parentID and returns the new post's ID.
	PostReply(ctx context.Context, body, parentID string) (string, error)
}

// FeedReader reads threads and user feeds.
type FeedReader interface {
	// GetThread returns the thread around anchorID flattened depth-first, up to depth reply levels.
	GetThread(ctx context.Context, anchorID string, depth int) ([]Post, error)
	// GetRecentPosts returns up to limit of the user's most recent posts.
	GetRecentPosts(ctx context.Context, userID string, limit int) ([]Post, error)
}

// SubscriptionRegistrar asks the platform to deliver future events for
// newly admitted co-authors replying under anchorID.
type SubscriptionRegistrar interface {
	RegisterMentionSubscription(ctx context.Context, ownerID, anchorID string, admittedIDs []string) error
}

// SocialClient bundles everything the stage handlers need from the network.
type SocialClient interface {
	ReplyPoster
	FeedReader
}
