package conversation

// Domain models for a storytelling conversation between the bot and one
// originating user, plus the values stage handlers hand back to the orchestrator.

import (
	"time"
)

// Stage is one state in a conversation's progression.
type Stage string

const (
	StageInit         Stage = "init"
	StageFoundation   Stage = "foundation"
	StageSinglePlayer Stage = "singleplayer"
	StageMultiPlayer  Stage = "multiplayer"
)

// ErrorKind classifies why a flow failed.
type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindTransient         ErrorKind = "transient_external_failure"
	ErrorKindContentPolicy     ErrorKind = "content_policy_failure"
	ErrorKindStateInconsistent ErrorKind = "state_inconsistency"
	ErrorKindUnroutable        ErrorKind = "unroutable_event"
)

// Conversation tracks where a storytelling interaction with one user stands.
// The Store owns every instance; callers only ever see copies.
type Conversation struct {
	UserID         string
	Username       string
	Stage          Stage
	InitialPostID  string // the mention that opened the conversation
	LastBotReplyID string // anchor for the next bot post
	ThreadRootID   string // first bot reply in the story thread
	LastUserText   string
	CoAuthorIDs    []string
	Handles        map[string]string // co-author ID -> username, used for tagging
	RetryCount     int
	LastAttemptAt  time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasCoAuthor reports whether id has been admitted into the story.
func (c Conversation) HasCoAuthor(id string) bool {
	for _, existing := range c.CoAuthorIDs {
		if existing == id {
			return true
		}
	}
	return false
}

// CoAuthorHandles returns the usernames of all co-authors, falling back to
// the raw ID when no username is known.
func (c Conversation) CoAuthorHandles() []string {
	out := make([]string, 0, len(c.CoAuthorIDs))
	for _, id := range c.CoAuthorIDs {
		if name, ok := c.Handles[id]; ok && name != "" {
			out = append(out, name)
			continue
		}
		out = append(out, id)
	}
	return out
}

func (c Conversation) clone() Conversation {
	out := c
	if c.CoAuthorIDs != nil {
		out.CoAuthorIDs = append([]string(nil), c.CoAuthorIDs...)
	}
	if c.Handles != nil {
		out.Handles = make(map[string]string, len(c.Handles))
		for k, v := range c.Handles {
			out.Handles[k] = v
		}
	}
	return out
}

// Participant is a user admitted as co-author.
type Participant struct {
	ID       string
	Username string
}

// Patch carries the fields a stage handler wants to change. Nil pointers and
// empty slices leave the stored value untouched.
type Patch struct {
	Stage          *Stage
	LastBotReplyID *string
	ThreadRootID   *string
	LastUserText   *string
	AddCoAuthors   []Participant
	RetryCount     *int
	IncrementRetry bool // applied after RetryCount
	LastAttemptAt  *time.Time
	TrackPostIDs   []string // extra post IDs to route back to this conversation
}

// FlowResult is the outcome of one pass through a stage handler.
type FlowResult struct {
	Success   bool
	Stage     Stage
	Message   string
	ReplyID   string // empty when nothing was posted
	ErrorKind ErrorKind
	Err       error
	Attempts  int  // generation attempts used by the multiplayer ladder
	Skipped   bool // event was ignored or already handled
	Route     string
}

// Ptr is a small helper for building patches.
func Ptr[T any](v T) *T {
	return &v
}
