package gamemodes

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/worldweaver/internal/conversation"
	"github.com/worldweaver/internal/events"
	"github.com/worldweaver/internal/llm"
	"github.com/worldweaver/internal/prompts"
)

// Responder posts the replies that sit outside the story stages.
type Responder struct {
	deps Deps
}

// NewResponder returns a Responder using deps.
func NewResponder(deps Deps) *Responder {
	return &Responder{deps: deps}
}

// ShowYourself posts the canned poem beneath the event.
func (r *Responder) ShowYourself(ctx context.Context, ev events.Event) conversation.FlowResult {
	return r.post(ctx, ev, prompts.ShowYourself, "bot showed itself")
}

// Default answers in persona, addressing the author by name.
func (r *Responder) Default(ctx context.Context, ev events.Event) conversation.FlowResult {
	name := ev.AuthorUsername
	if name == "" {
		name = ev.AuthorID
	}
	text, err := llm.ForProfile(r.deps.LLM, llm.SamplingDefault).GenerateText(ctx, prompts.Persona(name), ev.Text)
	if err != nil {
		log.Error().Err(err).Str("event_id", ev.EventID).Msg("Failed to generate persona reply")
		return failure("", "error generating persona reply", fmt.Errorf("persona: %w", err))
	}
	return r.post(ctx, ev, cleanLLMOutput(text), "bot replied in persona")
}

// AlreadyRunning tells the author their story is in progress.
func (r *Responder) AlreadyRunning(ctx context.Context, conv conversation.Conversation, ev events.Event) conversation.FlowResult {
	res := r.post(ctx, ev, prompts.AlreadyRunning, "story already running")
	res.Stage = conv.Stage
	return res
}

// Apology posts the fallback error reply beneath the event.
func (r *Responder) Apology(ctx context.Context, ev events.Event) (string, error) {
	id, err := r.deps.Social.PostReply(ctx, prompts.Apology, ev.EventID)
	if err != nil {
		return "", fmt.Errorf("post apology: %w", err)
	}
	return id, nil
}

func (r *Responder) post(ctx context.Context, ev events.Event, body, msg string) conversation.FlowResult {
	id, err := r.deps.Social.PostReply(ctx, body, ev.EventID)
	if err != nil {
		log.Error().Err(err).Str("event_id", ev.EventID).Msg("Failed to post reply")
		return failure("", "error posting reply", fmt.Errorf("post reply: %w", err))
	}
	r.deps.observer().ObserveReplyBytes(len(body))
	return conversation.FlowResult{Success: true, Message: msg, ReplyID: id}
}
