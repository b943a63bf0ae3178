package events

import (
	"strings"
	"time"
)

// Mention is a profile tagged in a post.
type Mention struct {
	ID       string
	Username string
}

// Event is the platform-neutral shape of an inbound post event.
// Provider specific payloads are converted into this structure before
// they reach the orchestrator.
type Event struct {
	EventID        string // hash of the post that triggered the delivery
	AuthorID       string
	AuthorUsername string
	Text           string
	ParentAuthorID string // empty when the post is not a reply
	ParentPostID   string
	ThreadRootID   string
	Mentions       []Mention
	CreatedAt      time.Time
}

// MentionedIDs returns the IDs of every mentioned profile in order of appearance.
func (e Event) MentionedIDs() []string {
	ids := make([]string, 0, len(e.Mentions))
	for _, m := range e.Mentions {
		ids = append(ids, m.ID)
	}
	return ids
}

// MentionsID reports whether the event tags the given identity.
func (e Event) MentionsID(id string) bool {
	for _, m := range e.Mentions {
		if m.ID == id {
			return true
		}
	}
	return false
}

// MentionsExcept returns the mentions whose IDs are not in the exclude list.
// Duplicates are collapsed.
func (e Event) MentionsExcept(exclude ...string) []Mention {
	skip := make(map[string]struct{}, len(exclude)+len(e.Mentions))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	var out []Mention
	for _, m := range e.Mentions {
		if _, ok := skip[m.ID]; ok || strings.TrimSpace(m.ID) == "" {
			continue
		}
		skip[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
