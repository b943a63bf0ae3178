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

// SinglePlayer continues the story with its owner. Tagging other profiles
// in the reply admits them as co-authors and moves the story to MultiPlayer.
type SinglePlayer struct {
	deps Deps
}

func (h *SinglePlayer) Handle(ctx context.Context, conv conversation.Conversation, ev events.Event) (conversation.FlowResult, conversation.Patch) {
	logger := log.With().
		Str("stage", string(conv.Stage)).
		Str("user_id", conv.UserID).
		Str("event_id", ev.EventID).
		Logger()

	thread, err := h.deps.Social.GetThread(ctx, ev.EventID, recentDepth)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to fetch thread")
		return failure(conv.Stage, "error fetching thread", fmt.Errorf("thread: %w", err)), conversation.Patch{}
	}

	username := ev.AuthorUsername
	if username == "" {
		username = conv.Username
	}
	prompt := prompts.Storywriting(username, ev.Text, prompts.ThreadSummary(thread))
	story, err := llm.ForProfile(h.deps.LLM, llm.SamplingStory).
		GenerateText(ctx, prompts.WorldbuildingSystemPrompt, prompt)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to generate story")
		return failure(conv.Stage, "error generating story", fmt.Errorf("storywriting: %w", err)), conversation.Patch{}
	}

	body := cleanLLMOutput(story)
	replyID, err := h.deps.Social.PostReply(ctx, body, ev.EventID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to post story")
		return failure(conv.Stage, "error posting story", fmt.Errorf("post story: %w", err)), conversation.Patch{}
	}
	h.deps.observer().ObserveReplyBytes(len(body))

	patch := conversation.Patch{
		LastBotReplyID: conversation.Ptr(replyID),
		LastUserText:   conversation.Ptr(ev.Text),
		TrackPostIDs:   []string{ev.EventID},
	}
	next := conversation.StageSinglePlayer

	coauthors := ev.MentionsExcept(h.deps.BotID, ev.AuthorID, conv.UserID)
	if len(coauthors) > 0 {
		ids := make([]string, 0, len(coauthors))
		for _, m := range coauthors {
			ids = append(ids, m.ID)
			patch.AddCoAuthors = append(patch.AddCoAuthors, conversation.Participant{ID: m.ID, Username: m.Username})
		}
		if h.deps.Subscriptions != nil {
			if err := h.deps.Subscriptions.RegisterMentionSubscription(ctx, conv.UserID, replyID, ids); err != nil {
				logger.Warn().Err(err).Strs("coauthors", ids).Msg("Failed to register co-author subscription")
			}
		}
		next = conversation.StageMultiPlayer
		logger.Info().Strs("coauthors", ids).Msg("Co-authors admitted")
	}
	patch.Stage = conversation.Ptr(next)

	return conversation.FlowResult{
		Success: true,
		Stage:   next,
		Message: "bot replied to user with story",
		ReplyID: replyID,
	}, patch
}
