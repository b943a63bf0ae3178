package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrConversationNotFound is returned when an update targets a user with no record.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrInvalidTransition is returned when a patch would move a stage backwards or skip one.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrCoAuthorsOutsideMultiPlayer is returned when co-authors are added to a
	// conversation that is not (and will not be) in multiplayer.
	ErrCoAuthorsOutsideMultiPlayer = errors.New("co-authors require multiplayer stage")
)

type entry struct {
	mu   sync.Mutex
	conv Conversation
}

// Store holds one Conversation per originating user. All reads return copies
// and every mutation happens under that user's entry lock, so concurrent
// events for the same user cannot interleave a read-modify-write. The lock is
// never held across external calls.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	owners  map[string]string // post ID -> owning user ID
	now     func() time.Time
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
		owners:  make(map[string]string),
		now:     time.Now,
	}
}

func (s *Store) lookup(userID string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[userID]
	return e, ok
}

// Get returns a snapshot of the conversation for userID.
func (s *Store) Get(userID string) (Conversation, bool) {
	e, ok := s.lookup(userID)
	if !ok {
		return Conversation{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.clone(), true
}

// StartNew creates a conversation at the init stage. If one already exists
// for userID it is returned unchanged.
func (s *Store) StartNew(userID, initialPostID, username, initialText string) Conversation {
	s.mu.Lock()
	if e, ok := s.entries[userID]; ok {
		s.mu.Unlock()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.conv.clone()
	}

	now := s.now()
	e := &entry{conv: Conversation{
		UserID:        userID,
		Username:      username,
		Stage:         StageInit,
		InitialPostID: initialPostID,
		LastUserText:  initialText,
		CreatedAt:     now,
		UpdatedAt:     now,
	}}
	s.entries[userID] = e
	if initialPostID != "" {
		s.owners[initialPostID] = userID
	}
	s.mu.Unlock()

	log.Debug().Str("user_id", userID).Str("post_id", initialPostID).Msg("Conversation started")
	return e.conv.clone()
}

// Update merges patch into the existing conversation. The stage may only move
// along the transition table. A missing record is logged and reported as
// ErrConversationNotFound; nothing is created.
func (s *Store) Update(userID string, patch Patch) error {
	e, ok := s.lookup(userID)
	if !ok {
		log.Warn().
			Str("user_id", userID).
			Str("error_kind", string(ErrorKindStateInconsistent)).
			Msg("Update for unknown conversation ignored")
		return fmt.Errorf("update %s: %w", userID, ErrConversationNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	target := e.conv.Stage
	if patch.Stage != nil {
		target = *patch.Stage
		if !CanTransition(e.conv.Stage, target) {
			return fmt.Errorf("update %s from %s to %s: %w", userID, e.conv.Stage, target, ErrInvalidTransition)
		}
	}
	if len(patch.AddCoAuthors) > 0 && target != StageMultiPlayer {
		return fmt.Errorf("update %s at %s: %w", userID, target, ErrCoAuthorsOutsideMultiPlayer)
	}

	s.apply(&e.conv, patch)
	return nil
}

// ForceStage moves the conversation to stage regardless of where it was and
// merges patch. A record is created when none exists. Only the co-author
// admission path uses this.
func (s *Store) ForceStage(userID string, stage Stage, patch Patch) Conversation {
	s.mu.Lock()
	e, ok := s.entries[userID]
	if !ok {
		now := s.now()
		e = &entry{conv: Conversation{UserID: userID, Stage: stage, CreatedAt: now, UpdatedAt: now}}
		s.entries[userID] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conv.Stage != stage {
		log.Info().
			Str("user_id", userID).
			Str("from", e.conv.Stage.String()).
			Str("to", stage.String()).
			Msg("Conversation stage forced")
	}
	patch.Stage = &stage
	s.apply(&e.conv, patch)
	return e.conv.clone()
}

// apply must be called with the entry lock held.
func (s *Store) apply(c *Conversation, p Patch) {
	if p.Stage != nil {
		c.Stage = *p.Stage
	}
	if p.LastBotReplyID != nil {
		c.LastBotReplyID = *p.LastBotReplyID
	}
	if p.ThreadRootID != nil {
		c.ThreadRootID = *p.ThreadRootID
	}
	if p.LastUserText != nil {
		c.LastUserText = *p.LastUserText
	}
	if p.RetryCount != nil {
		c.RetryCount = *p.RetryCount
	}
	if p.IncrementRetry {
		c.RetryCount++
	}
	if p.LastAttemptAt != nil {
		c.LastAttemptAt = *p.LastAttemptAt
	}
	for _, author := range p.AddCoAuthors {
		if author.ID == "" || author.ID == c.UserID {
			continue
		}
		if !c.HasCoAuthor(author.ID) {
			c.CoAuthorIDs = append(c.CoAuthorIDs, author.ID)
		}
		if author.Username != "" {
			if c.Handles == nil {
				c.Handles = make(map[string]string)
			}
			c.Handles[author.ID] = author.Username
		}
	}
	c.UpdatedAt = s.now()

	tracked := append([]string(nil), p.TrackPostIDs...)
	if p.LastBotReplyID != nil {
		tracked = append(tracked, *p.LastBotReplyID)
	}
	if p.ThreadRootID != nil {
		tracked = append(tracked, *p.ThreadRootID)
	}
	s.track(c.UserID, tracked)
}

func (s *Store) track(userID string, postIDs []string) {
	if len(postIDs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range postIDs {
		if id != "" {
			s.owners[id] = userID
		}
	}
}

// OwnerOf returns the user whose conversation contains postID.
func (s *Store) OwnerOf(postID string) (string, bool) {
	if postID == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[postID]
	return owner, ok
}

// Len returns the number of conversations held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
