// Package interacttest provides in-memory fakes of the social network contracts.
package interacttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/worldweaver/internal/providers/interact"
)

// PostedReply is one call to PostReply.
type PostedReply struct {
	ID       string
	Body     string
	ParentID string
}

// Subscription is one call to RegisterMentionSubscription.
type Subscription struct {
	OwnerID     string
	AnchorID    string
	AdmittedIDs []string
}

// Social is a scripted, concurrency-safe fake of interact.SocialClient and
// interact.SubscriptionRegistrar.
type Social struct {
	mu sync.Mutex

	Replies       []PostedReply
	Subscriptions []Subscription
	ThreadCalls   []ThreadCall

	Threads     map[string][]interact.Post // anchor ID -> thread
	RecentPosts map[string][]interact.Post // user ID -> posts

	// PostErr, when set, is consulted before each post. Returning a non-nil
	// error fails that post.
	PostErr      func(body, parentID string) error
	ThreadErr    error
	RecentErr    error
	SubscribeErr error

	seq int
}

// ThreadCall records one GetThread call.
type ThreadCall struct {
	AnchorID string
	Depth    int
}

var (
	_ interact.SocialClient          = (*Social)(nil)
	_ interact.SubscriptionRegistrar = (*Social)(nil)
)

// NewSocial returns an empty fake.
func NewSocial() *Social {
	return &Social{
		Threads:     make(map[string][]interact.Post),
		RecentPosts: make(map[string][]interact.Post),
	}
}

func (s *Social) PostReply(ctx context.Context, body, parentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PostErr != nil {
		if err := s.PostErr(body, parentID); err != nil {
			return "", err
		}
	}
	s.seq++
	id := fmt.Sprintf("0xbot%02d", s.seq)
	s.Replies = append(s.Replies, PostedReply{ID: id, Body: body, ParentID: parentID})
	return id, nil
}

func (s *Social) GetThread(ctx context.Context, anchorID string, depth int) ([]interact.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ThreadCalls = append(s.ThreadCalls, ThreadCall{AnchorID: anchorID, Depth: depth})
	if s.ThreadErr != nil {
		return nil, s.ThreadErr
	}
	return append([]interact.Post(nil), s.Threads[anchorID]...), nil
}

func (s *Social) GetRecentPosts(ctx context.Context, userID string, limit int) ([]interact.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	posts := s.RecentPosts[userID]
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return append([]interact.Post(nil), posts...), nil
}

func (s *Social) RegisterMentionSubscription(ctx context.Context, ownerID, anchorID string, admittedIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SubscribeErr != nil {
		return s.SubscribeErr
	}
	s.Subscriptions = append(s.Subscriptions, Subscription{
		OwnerID:     ownerID,
		AnchorID:    anchorID,
		AdmittedIDs: append([]string(nil), admittedIDs...),
	})
	return nil
}

// PostedReplies returns a copy of all successful posts.
func (s *Social) PostedReplies() []PostedReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PostedReply(nil), s.Replies...)
}

// RegisteredSubscriptions returns a copy of all registered subscriptions.
func (s *Social) RegisteredSubscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Subscription(nil), s.Subscriptions...)
}

// LastReply returns the most recent post, or false when nothing was posted.
func (s *Social) LastReply() (PostedReply, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Replies) == 0 {
		return PostedReply{}, false
	}
	return s.Replies[len(s.Replies)-1], true
}
