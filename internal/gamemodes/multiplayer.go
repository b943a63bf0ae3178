package gamemodes

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/worldweaver/internal/conversation"
	"github.com/worldweaver/internal/events"
	"github.com/worldweaver/internal/llm"
	"github.com/worldweaver/internal/prompts"
	"github.com/worldweaver/internal/providers/interact"
)

// MultiPlayer summarises the story for every co-author. The summary is
// generated once and then shortened until the tagged reply fits.
type MultiPlayer struct {
	deps        Deps
	maxBytes    int
	maxAttempts int
}

// NewMultiPlayer returns a handler using the network limits.
func NewMultiPlayer(deps Deps) *MultiPlayer {
	return &MultiPlayer{deps: deps, maxBytes: MaxReplyBytes, maxAttempts: MaxShortenAttempts}
}

func (h *MultiPlayer) Handle(ctx context.Context, conv conversation.Conversation, ev events.Event) (conversation.FlowResult, conversation.Patch) {
	logger := log.With().
		Str("stage", string(conversation.StageMultiPlayer)).
		Str("user_id", conv.UserID).
		Str("event_id", ev.EventID).
		Logger()

	root := firstNonEmpty(conv.ThreadRootID, ev.ThreadRootID, conv.InitialPostID, ev.EventID)
	parent := firstNonEmpty(ev.ParentPostID, ev.EventID)

	var storyPosts, recentPosts []interact.Post
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		storyPosts, err = h.deps.Social.GetThread(gctx, root, storyDepth)
		if err != nil {
			return fmt.Errorf("story thread: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		recentPosts, err = h.deps.Social.GetThread(gctx, parent, recentDepth)
		if err != nil {
			return fmt.Errorf("recent thread: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Failed to fetch story threads")
		return failure(conversation.StageMultiPlayer, "error fetching story threads", err), conversation.Patch{}
	}

	handles := conv.CoAuthorHandles()
	prompt := prompts.Multiplayer(prompts.ThreadSummary(storyPosts), prompts.ThreadSummary(recentPosts), handles)

	gen := llm.ForProfile(h.deps.LLM, llm.SamplingDefault)
	original, err := gen.GenerateText(ctx, prompts.WorldbuildingSystemPrompt, prompt)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to generate multiplayer story")
		res := failure(conversation.StageMultiPlayer, "error generating story summary", fmt.Errorf("multiplayer story: %w", err))
		res.Attempts = 1
		return res, conversation.Patch{}
	}

	tags := tagHandles(handles)
	var body string
	attempt := 1
	for ; attempt <= h.maxAttempts; attempt++ {
		story := original
		if attempt > 1 {
			story, err = gen.GenerateText(ctx, prompts.WorldbuildingSystemPrompt,
				prompts.Shorten(original, prompts.ShortenInstruction(attempt)))
			if err != nil {
				logger.Error().Err(err).Int("attempt", attempt).Msg("Failed to shorten story")
				res := failure(conversation.StageMultiPlayer, "error shortening story", fmt.Errorf("shorten: %w", err))
				res.Attempts = attempt
				return res, conversation.Patch{}
			}
		}

		candidate := composeMultiplayerReply(story, tags)
		logger.Debug().
			Int("attempt", attempt).
			Int("bytes", len(candidate)).
			Int("limit", h.maxBytes).
			Msg("Multiplayer reply composed")
		if len(candidate) <= h.maxBytes {
			body = candidate
			break
		}
		logger.Warn().Int("attempt", attempt).Int("bytes", len(candidate)).Msg("Multiplayer reply exceeds byte limit")
	}

	if body == "" {
		h.deps.observer().ObserveShortenAttempts(h.maxAttempts)
		res := failure(conversation.StageMultiPlayer, "failed to generate a message within byte limit", ErrReplyTooLong)
		res.Attempts = h.maxAttempts
		return res, conversation.Patch{}
	}
	h.deps.observer().ObserveShortenAttempts(attempt)

	replyID, err := h.deps.Social.PostReply(ctx, body, ev.EventID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to post multiplayer reply")
		res := failure(conversation.StageMultiPlayer, "error posting summary for coauthors", fmt.Errorf("post multiplayer: %w", err))
		res.Attempts = attempt
		return res, conversation.Patch{}
	}
	h.deps.observer().ObserveReplyBytes(len(body))

	logger.Info().
		Str("reply_id", replyID).
		Int("attempts", attempt).
		Strs("coauthors", handles).
		Msg("Bot replied to co-authors")

	result := conversation.FlowResult{
		Success:  true,
		Stage:    conversation.StageMultiPlayer,
		Message:  "bot replied to coauthors",
		ReplyID:  replyID,
		Attempts: attempt,
	}
	return result, conversation.Patch{
		Stage:          conversation.Ptr(conversation.StageMultiPlayer),
		LastBotReplyID: conversation.Ptr(replyID),
		LastUserText:   conversation.Ptr(ev.Text),
		TrackPostIDs:   []string{ev.EventID},
	}
}

// composeMultiplayerReply appends the co-author tags and the nudge to story.
func composeMultiplayerReply(story, tags string) string {
	story = stripMentions(story)
	if tags == "" {
		return story + "\n" + prompts.MultiplayerNudge
	}
	return story + "\n" + tags + " " + prompts.MultiplayerNudge
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
