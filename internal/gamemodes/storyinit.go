package gamemodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/worldweaver/internal/conversation"
	"github.com/worldweaver/internal/events"
	"github.com/worldweaver/internal/llm"
	"github.com/worldweaver/internal/prompts"
)

// StoryInit opens a world: a scene-setting post beneath the mention,
// followed by three adjectives drawn from the user's recent posts.
type StoryInit struct {
	deps Deps
}

func (h *StoryInit) Handle(ctx context.Context, conv conversation.Conversation, ev events.Event) (conversation.FlowResult, conversation.Patch) {
	logger := log.With().
		Str("stage", string(conv.Stage)).
		Str("user_id", conv.UserID).
		Str("event_id", ev.EventID).
		Logger()

	sceneID, err := h.deps.Social.PostReply(ctx, prompts.SceneSetting, ev.EventID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to post scene setting")
		return failure(conv.Stage, "error posting scene setting", fmt.Errorf("post scene: %w", err)), conversation.Patch{}
	}
	h.deps.observer().ObserveReplyBytes(len(prompts.SceneSetting))

	// From here on the scene post exists, so every exit keeps it as the root.
	partial := conversation.Patch{
		ThreadRootID: conversation.Ptr(sceneID),
		LastUserText: conversation.Ptr(ev.Text),
	}

	posts, err := h.deps.Social.GetRecentPosts(ctx, ev.AuthorID, recentPostsLimit)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to fetch recent posts")
		return failure(conv.Stage, "error fetching recent posts", fmt.Errorf("recent posts: %w", err)), partial
	}

	username := ev.AuthorUsername
	if username == "" {
		username = conv.Username
	}
	gen := llm.ForProfile(h.deps.LLM, llm.SamplingAdjectives)
	raw, err := gen.GenerateText(ctx, prompts.WorldbuildingSystemPrompt, prompts.Adjectives(username, posts))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to generate adjectives")
		return failure(conv.Stage, "error generating adjectives", fmt.Errorf("adjectives: %w", err)), partial
	}

	adjectives := llm.ParseAdjectives(raw)
	for i, a := range adjectives {
		adjectives[i] = strings.ReplaceAll(a, "@", "")
	}
	if len(adjectives) == 0 {
		adjectives = []string{cleanLLMOutput(raw)}
	}

	body := truncateBytes(prompts.Foundation(adjectives), MaxReplyBytes)
	foundationID, err := h.deps.Social.PostReply(ctx, body, sceneID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to post foundation")
		return failure(conv.Stage, "error posting foundation adjectives", fmt.Errorf("post foundation: %w", err)), partial
	}
	h.deps.observer().ObserveReplyBytes(len(body))

	logger.Info().
		Str("scene_id", sceneID).
		Str("reply_id", foundationID).
		Strs("adjectives", adjectives).
		Msg("Story initialised")

	patch := partial
	patch.Stage = conversation.Ptr(conversation.StageFoundation)
	patch.LastBotReplyID = conversation.Ptr(foundationID)

	return conversation.FlowResult{
		Success: true,
		Stage:   conversation.StageFoundation,
		Message: "bot replied with foundation",
		ReplyID: foundationID,
	}, patch
}
