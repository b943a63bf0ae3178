// Package gamemodes holds the stage handlers of the story game and the
// replies the bot gives outside of it.
package gamemodes

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/worldweaver/internal/conversation"
	"github.com/worldweaver/internal/events"
	"github.com/worldweaver/internal/llm"
	"github.com/worldweaver/internal/providers/interact"
)

const (
	// MaxReplyBytes is the network's post size limit in UTF-8 bytes.
	MaxReplyBytes = 1024
	// MaxShortenAttempts bounds the multiplayer shortening ladder.
	MaxShortenAttempts = 5

	recentPostsLimit = 10
	storyDepth       = 5
	recentDepth      = 2
)

// ErrReplyTooLong is reported when the multiplayer reply never fit under
// MaxReplyBytes.
var ErrReplyTooLong = errors.New("reply exceeds byte limit after all attempts")

// Handler runs the entry action of one stage. It never mutates the store;
// the returned patch is applied by the caller.
type Handler interface {
	Handle(ctx context.Context, conv conversation.Conversation, ev events.Event) (conversation.FlowResult, conversation.Patch)
}

// Observer receives reply size measurements.
type Observer interface {
	ObserveReplyBytes(n int)
	ObserveShortenAttempts(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveReplyBytes(int)      {}
func (nopObserver) ObserveShortenAttempts(int) {}

// Deps are the collaborators shared by every handler.
type Deps struct {
	Social        interact.SocialClient
	Subscriptions interact.SubscriptionRegistrar
	LLM           llm.TextGenerator
	BotID         string
	Observer      Observer
}

func (d Deps) observer() Observer {
	if d.Observer == nil {
		return nopObserver{}
	}
	return d.Observer
}

// NewHandlers returns the stage dispatch table. Init and Foundation share
// the story initialisation handler.
func NewHandlers(deps Deps) map[conversation.Stage]Handler {
	storyInit := &StoryInit{deps: deps}
	return map[conversation.Stage]Handler{
		conversation.StageInit:         storyInit,
		conversation.StageFoundation:   storyInit,
		conversation.StageSinglePlayer: &SinglePlayer{deps: deps},
		conversation.StageMultiPlayer:  NewMultiPlayer(deps),
	}
}

// ErrorKindOf maps a collaborator error onto the failure taxonomy.
func ErrorKindOf(err error) conversation.ErrorKind {
	switch {
	case err == nil:
		return conversation.ErrorKindNone
	case errors.Is(err, llm.ErrContentPolicy), errors.Is(err, ErrReplyTooLong):
		return conversation.ErrorKindContentPolicy
	default:
		return conversation.ErrorKindTransient
	}
}

func failure(stage conversation.Stage, msg string, err error) conversation.FlowResult {
	return conversation.FlowResult{
		Success:   false,
		Stage:     stage,
		Message:   msg,
		ErrorKind: ErrorKindOf(err),
		Err:       err,
	}
}

// cleanLLMOutput strips mentions the model invented and trims the text to
// the post size limit.
func cleanLLMOutput(text string) string {
	return truncateBytes(stripMentions(text), MaxReplyBytes)
}

func stripMentions(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "@", ""))
}

// truncateBytes cuts s to at most max bytes without splitting a rune.
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// tagHandles renders handles as space separated @mentions.
func tagHandles(handles []string) string {
	tags := make([]string, 0, len(handles))
	for _, h := range handles {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if !strings.HasPrefix(h, "@") {
			h = "@" + h
		}
		tags = append(tags, h)
	}
	return strings.Join(tags, " ")
}
