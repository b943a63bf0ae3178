package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldweaver/internal/conversation"
	"github.com/worldweaver/internal/events"
	"github.com/worldweaver/internal/gamemodes"
	"github.com/worldweaver/internal/llm"
	"github.com/worldweaver/internal/llm/llmtest"
	"github.com/worldweaver/internal/prompts"
	"github.com/worldweaver/internal/providers/interact/interacttest"
)

type countingRecorder struct {
	mu          sync.Mutex
	events      map[string]int
	transitions []string
}

func (r *countingRecorder) RecordEvent(route, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = map[string]int{}
	}
	r.events[route+"/"+outcome]++
}

func (r *countingRecorder) RecordStageTransition(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+"->"+to)
}

type harness struct {
	orch   *Orchestrator
	store  *conversation.Store
	dedup  *conversation.DedupGuard
	social *interacttest.Social
	gen    *llmtest.Generator
	rec    *countingRecorder
}

func newHarness() *harness {
	h := &harness{
		store:  conversation.NewStore(),
		dedup:  conversation.NewDedupGuard(),
		social: interacttest.NewSocial(),
		gen:    &llmtest.Generator{},
		rec:    &countingRecorder{},
	}
	h.gen.Func = func(c llmtest.Call) (string, error) {
		switch c.Profile {
		case llm.SamplingAdjectives.Name:
			return `{"adjectives": ["misty", "quiet", "brave"]}`, nil
		case llm.SamplingStory.Name:
			return "The lighthouse hums a song only ships can hear.", nil
		default:
			return "The world keeps growing at its edges.", nil
		}
	}
	deps := gamemodes.Deps{Social: h.social, Subscriptions: h.social, LLM: h.gen}
	h.orch = New(Config{BotID: bot}, h.store, h.dedup, deps, h.rec)
	return h
}

func (h *harness) handle(t *testing.T, ev events.Event) conversation.FlowResult {
	t.Helper()
	return h.orch.HandleEvent(context.Background(), ev)
}

func mention(eventID, authorID, username, text string) events.Event {
	return events.Event{
		EventID:        eventID,
		AuthorID:       authorID,
		AuthorUsername: username,
		Text:           text,
		ThreadRootID:   eventID,
		Mentions:       []events.Mention{botMention()},
	}
}

func replyToBot(eventID, authorID, username, text, parentID string, mentions ...events.Mention) events.Event {
	return events.Event{
		EventID:        eventID,
		AuthorID:       authorID,
		AuthorUsername: username,
		Text:           text,
		ParentAuthorID: bot,
		ParentPostID:   parentID,
		ThreadRootID:   "0xm1",
		Mentions:       mentions,
	}
}

// startStory drives U1 through scenarios A and B.
func startStory(t *testing.T, h *harness) (foundationID, storyID string) {
	t.Helper()
	res := h.handle(t, mention("0xm1", "1", "kbc", "@worldweaver let's build a story"))
	require.True(t, res.Success, res.Message)
	foundationID = res.ReplyID

	res = h.handle(t, replyToBot("0xu1", "1", "kbc", "a lighthouse on a cliff", foundationID))
	require.True(t, res.Success, res.Message)
	return foundationID, res.ReplyID
}

func TestScenarioA_MentionOpensWorld(t *testing.T) {
	h := newHarness()

	res := h.handle(t, mention("0xm1", "1", "kbc", "@worldweaver let's build a story"))
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "init", res.Route)
	assert.Equal(t, conversation.StageFoundation, res.Stage)

	replies := h.social.PostedReplies()
	require.Len(t, replies, 2)
	assert.Equal(t, prompts.SceneSetting, replies[0].Body)
	assert.Equal(t, "0xm1", replies[0].ParentID)
	assert.Equal(t, replies[0].ID, replies[1].ParentID)
	assert.True(t, strings.HasPrefix(replies[1].Body, prompts.FoundationPrefix+"misty, quiet, brave"))

	conv, ok := h.store.Get("1")
	require.True(t, ok)
	assert.Equal(t, conversation.StageFoundation, conv.Stage)
	assert.Equal(t, replies[0].ID, conv.ThreadRootID)
	assert.Equal(t, replies[1].ID, conv.LastBotReplyID)
	assert.Equal(t, []string{"init->foundation"}, h.rec.transitions)
	assert.Equal(t, 1, h.rec.events["init/success"])
}

func TestScenarioB_ReplyAdvancesToSinglePlayer(t *testing.T) {
	h := newHarness()
	foundationID, storyID := startStory(t, h)

	reply, ok := h.social.LastReply()
	require.True(t, ok)
	assert.Equal(t, storyID, reply.ID)
	assert.Equal(t, "0xu1", reply.ParentID)
	assert.NotEqual(t, foundationID, storyID)

	conv, _ := h.store.Get("1")
	assert.Equal(t, conversation.StageSinglePlayer, conv.Stage)
	assert.Equal(t, "a lighthouse on a cliff", conv.LastUserText)
	assert.Empty(t, conv.CoAuthorIDs)
}

func TestScenarioC_TaggingRegistersSubscription(t *testing.T) {
	h := newHarness()
	_, storyID := startStory(t, h)

	res := h.handle(t, replyToBot("0xu2", "1", "kbc", "@alice come help", storyID, events.Mention{ID: "2", Username: "alice"}))
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "admit_coauthor", res.Route)

	subs := h.social.RegisteredSubscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, interacttest.Subscription{OwnerID: "1", AnchorID: res.ReplyID, AdmittedIDs: []string{"2"}}, subs[0])

	conv, _ := h.store.Get("1")
	assert.Equal(t, conversation.StageMultiPlayer, conv.Stage)
	assert.Equal(t, []string{"2"}, conv.CoAuthorIDs)
}

func TestScenarioC_FromFoundationWalksThroughSinglePlayer(t *testing.T) {
	h := newHarness()
	res := h.handle(t, mention("0xm1", "1", "kbc", "@worldweaver story time"))
	require.True(t, res.Success)

	res = h.handle(t, replyToBot("0xu1", "1", "kbc", "@alice a cave", res.ReplyID, events.Mention{ID: "2", Username: "alice"}))
	require.True(t, res.Success, res.Message)

	conv, _ := h.store.Get("1")
	assert.Equal(t, conversation.StageMultiPlayer, conv.Stage)
	assert.Equal(t, []string{"init->foundation", "foundation->singleplayer", "singleplayer->multiplayer"}, h.rec.transitions)
}

func TestScenarioD_CoAuthorAdmitsAnother(t *testing.T) {
	h := newHarness()
	_, storyID := startStory(t, h)
	resC := h.handle(t, replyToBot("0xu2", "1", "kbc", "@alice come help", storyID, events.Mention{ID: "2", Username: "alice"}))
	require.True(t, resC.Success)

	resD := h.handle(t, replyToBot("0xa1", "2", "alice", "@bob the river floods", resC.ReplyID, events.Mention{ID: "3", Username: "bob"}))
	require.True(t, resD.Success, resD.Message)
	assert.Equal(t, "admit_coauthor", resD.Route)
	assert.Equal(t, conversation.StageMultiPlayer, resD.Stage)

	reply, _ := h.social.LastReply()
	assert.Equal(t, "0xa1", reply.ParentID)
	assert.Contains(t, reply.Body, "@alice @bob "+prompts.MultiplayerNudge)
	assert.LessOrEqual(t, len(reply.Body), gamemodes.MaxReplyBytes)

	conv, _ := h.store.Get("1")
	assert.Equal(t, []string{"2", "3"}, conv.CoAuthorIDs)
	_, ownsOne := h.store.Get("2")
	assert.False(t, ownsOne, "co-authors join the owner's story")

	subs := h.social.RegisteredSubscriptions()
	require.Len(t, subs, 2)
	assert.Equal(t, interacttest.Subscription{OwnerID: "1", AnchorID: resD.ReplyID, AdmittedIDs: []string{"3"}}, subs[1])

	// A plain continuation by an admitted co-author stays in the owner's story.
	resE := h.handle(t, replyToBot("0xb1", "3", "bob", "and then the moon fell", resD.ReplyID))
	require.True(t, resE.Success, resE.Message)
	assert.Equal(t, conversation.StageMultiPlayer, resE.Stage)
}

func TestHandleEvent_CoAuthorWithOwnStoryTurnsGoToThreadOwner(t *testing.T) {
	h := newHarness()

	// alice runs a world of her own.
	res := h.handle(t, mention("0xm2", "2", "alice", "@worldweaver a story about owls"))
	require.True(t, res.Success, res.Message)

	_, storyID := startStory(t, h)
	resC := h.handle(t, replyToBot("0xu2", "1", "kbc", "@alice come help", storyID, events.Mention{ID: "2", Username: "alice"}))
	require.True(t, resC.Success, resC.Message)

	// A plain reply under kbc's thread continues kbc's multiplayer story.
	resPlain := h.handle(t, replyToBot("0xa1", "2", "alice", "the owls fly south", resC.ReplyID))
	require.True(t, resPlain.Success, resPlain.Message)
	assert.Equal(t, conversation.StageMultiPlayer, resPlain.Stage)

	owner, _ := h.store.Get("1")
	assert.Equal(t, resPlain.ReplyID, owner.LastBotReplyID)
	own, _ := h.store.Get("2")
	assert.Equal(t, conversation.StageFoundation, own.Stage)
	assert.NotEqual(t, resPlain.ReplyID, own.LastBotReplyID)

	// Tagging bob there admits bob into kbc's story, not alice's.
	resTag := h.handle(t, replyToBot("0xa2", "2", "alice", "@bob join us", resPlain.ReplyID, events.Mention{ID: "3", Username: "bob"}))
	require.True(t, resTag.Success, resTag.Message)

	owner, _ = h.store.Get("1")
	assert.Equal(t, []string{"2", "3"}, owner.CoAuthorIDs)
	own, _ = h.store.Get("2")
	assert.Equal(t, conversation.StageFoundation, own.Stage)
	assert.Empty(t, own.CoAuthorIDs)

	subs := h.social.RegisteredSubscriptions()
	require.NotEmpty(t, subs)
	assert.Equal(t, interacttest.Subscription{OwnerID: "1", AnchorID: resTag.ReplyID, AdmittedIDs: []string{"3"}}, subs[len(subs)-1])
}

func TestHandleEvent_StrangerReplyUnderForeignThread(t *testing.T) {
	h := newHarness()
	_, storyID := startStory(t, h)
	res := h.handle(t, mention("0xm5", "5", "eve", "@worldweaver my own story"))
	require.True(t, res.Success)
	eveBefore, _ := h.store.Get("5")

	res = h.handle(t, replyToBot("0xe1", "5", "eve", "nice lighthouse", storyID))
	require.True(t, res.Success, res.Message)

	eveAfter, _ := h.store.Get("5")
	if diff := cmp.Diff(eveBefore, eveAfter); diff != "" {
		t.Errorf("reply under another thread touched the author's story (-before +after):\n%s", diff)
	}
	owner, _ := h.store.Get("1")
	assert.Equal(t, conversation.StageSinglePlayer, owner.Stage)
	assert.Equal(t, "a lighthouse on a cliff", owner.LastUserText)
}

func TestHandleEvent_SlowUserDoesNotBlockOthers(t *testing.T) {
	h := newHarness()
	_, storyID := startStory(t, h)

	entered := make(chan struct{})
	release := make(chan struct{})
	base := h.gen.Func
	h.gen.Func = func(c llmtest.Call) (string, error) {
		if strings.Contains(c.User, "the tide turns") {
			close(entered)
			<-release
		}
		return base(c)
	}

	slow := make(chan conversation.FlowResult, 1)
	go func() {
		slow <- h.orch.HandleEvent(context.Background(), replyToBot("0xu2", "1", "kbc", "the tide turns", storyID))
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first user never reached the model")
	}

	fast := make(chan conversation.FlowResult, 1)
	go func() {
		fast <- h.orch.HandleEvent(context.Background(), mention("0xm2", "2", "alice", "@worldweaver a story about owls"))
	}()

	select {
	case res := <-fast:
		require.True(t, res.Success, res.Message)
		assert.Equal(t, conversation.StageFoundation, res.Stage)
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("second user waited on the first user's model call")
	}

	conv, ok := h.store.Get("1")
	require.True(t, ok, "state stays readable while the model call is pending")
	assert.Equal(t, conversation.StageSinglePlayer, conv.Stage)

	close(release)
	res := <-slow
	require.True(t, res.Success, res.Message)
}

func TestHandleEvent_ConcurrentStageMoveKeepsReplyAnchor(t *testing.T) {
	h := newHarness()
	_, storyID := startStory(t, h)

	base := h.gen.Func
	h.gen.Func = func(c llmtest.Call) (string, error) {
		if c.Profile == llm.SamplingStory.Name {
			// Another delivery admits alice while this turn is generating.
			h.store.ForceStage("1", conversation.StageMultiPlayer, conversation.Patch{
				AddCoAuthors: []conversation.Participant{{ID: "2", Username: "alice"}},
			})
		}
		return base(c)
	}

	res := h.handle(t, replyToBot("0xu2", "1", "kbc", "the keeper wakes", storyID))
	require.True(t, res.Success, res.Message)

	conv, _ := h.store.Get("1")
	assert.Equal(t, conversation.StageMultiPlayer, conv.Stage)
	assert.Equal(t, []string{"2"}, conv.CoAuthorIDs)
	assert.Equal(t, res.ReplyID, conv.LastBotReplyID)
	assert.Equal(t, "the keeper wakes", conv.LastUserText)
	owner, ok := h.store.OwnerOf(res.ReplyID)
	require.True(t, ok)
	assert.Equal(t, "1", owner)
}

func TestScenarioE_OversizedStoryPostsNothing(t *testing.T) {
	h := newHarness()
	h.store.StartNew("1", "0xm1", "kbc", "story")
	h.store.ForceStage("1", conversation.StageMultiPlayer, conversation.Patch{
		ThreadRootID:   conversation.Ptr("0xscene"),
		LastBotReplyID: conversation.Ptr("0xbotlast"),
		AddCoAuthors:   []conversation.Participant{{ID: "2", Username: "alice"}},
	})
	h.gen.Func = func(llmtest.Call) (string, error) { return strings.Repeat("long ", 400), nil }

	res := h.handle(t, replyToBot("0xu9", "1", "kbc", "more please", "0xbotlast"))
	assert.False(t, res.Success)
	assert.Equal(t, conversation.ErrorKindContentPolicy, res.ErrorKind)
	assert.Equal(t, gamemodes.MaxShortenAttempts, res.Attempts)
	assert.Equal(t, gamemodes.MaxShortenAttempts, h.gen.CallCount())
	assert.Empty(t, h.social.PostedReplies(), "no story and no apology")

	conv, _ := h.store.Get("1")
	assert.Equal(t, conversation.StageMultiPlayer, conv.Stage)
	assert.Equal(t, 1, conv.RetryCount)
	assert.Equal(t, "0xbotlast", conv.LastBotReplyID)
	assert.True(t, h.dedup.AlreadyHandled("0xu9"))
}

func TestHandleEvent_RedeliveryIsNoOp(t *testing.T) {
	h := newHarness()
	ev := mention("0xm1", "1", "kbc", "@worldweaver let's build a story")
	require.True(t, h.handle(t, ev).Success)

	before, _ := h.store.Get("1")
	posted := len(h.social.PostedReplies())
	llmCalls := h.gen.CallCount()

	res := h.handle(t, ev)
	assert.True(t, res.Skipped)
	assert.Equal(t, posted, len(h.social.PostedReplies()))
	assert.Equal(t, llmCalls, h.gen.CallCount())

	after, _ := h.store.Get("1")
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("redelivery mutated state (-before +after):\n%s", diff)
	}
	assert.Equal(t, 1, h.rec.events["init/duplicate"])
}

func TestHandleEvent_ConcurrentRedelivery(t *testing.T) {
	h := newHarness()
	ev := mention("0xm1", "1", "kbc", "@worldweaver let's build a story")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.orch.HandleEvent(context.Background(), ev)
		}()
	}
	wg.Wait()

	assert.Len(t, h.social.PostedReplies(), 2)
}

func TestHandleEvent_InitNeverSkipsFoundation(t *testing.T) {
	h := newHarness()
	texts := []string{"let's build a story", "worldbuilding?", "STORY", "a world please"}
	for i, text := range texts {
		userID := fmt.Sprint(100 + i)
		res := h.handle(t, mention(fmt.Sprintf("0xm%d", i), userID, "u"+userID, text))
		require.True(t, res.Success, text)

		conv, ok := h.store.Get(userID)
		require.True(t, ok)
		assert.Equal(t, conversation.StageFoundation, conv.Stage, text)
	}
}

func TestHandleEvent_IgnoredEventsSkipDedup(t *testing.T) {
	h := newHarness()
	ev := events.Event{EventID: "0xself", AuthorID: bot, Text: "hello"}

	res := h.handle(t, ev)
	assert.True(t, res.Skipped)
	assert.Equal(t, conversation.ErrorKindUnroutable, res.ErrorKind)
	assert.False(t, h.dedup.AlreadyHandled("0xself"))
	assert.Empty(t, h.social.PostedReplies())
}

func TestHandleEvent_ShowYourself(t *testing.T) {
	h := newHarness()
	res := h.handle(t, mention("0xm1", "1", "kbc", "@worldweaver show yourself"))
	require.True(t, res.Success)

	reply, _ := h.social.LastReply()
	assert.Equal(t, prompts.ShowYourself, reply.Body)
	assert.Zero(t, h.store.Len())
	assert.Zero(t, h.gen.CallCount())
}

func TestHandleEvent_DefaultPersonaReply(t *testing.T) {
	h := newHarness()
	res := h.handle(t, mention("0xm1", "1", "kbc", "@worldweaver gm"))
	require.True(t, res.Success)

	calls := h.gen.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].System, "talking to is kbc.")
	assert.Zero(t, h.store.Len())
}

func TestHandleEvent_ContinueWithoutConversation(t *testing.T) {
	h := newHarness()
	res := h.handle(t, replyToBot("0xu1", "5", "stranger", "nice post", "0xsomething"))
	require.True(t, res.Success)
	assert.Equal(t, "continue_reply", res.Route)
	assert.Zero(t, h.store.Len())
	assert.Len(t, h.social.PostedReplies(), 1)
}

func TestHandleEvent_StoryAlreadyRunning(t *testing.T) {
	h := newHarness()
	startStory(t, h)
	posted := len(h.social.PostedReplies())

	res := h.handle(t, mention("0xm2", "1", "kbc", "@worldweaver another story"))
	require.True(t, res.Success)
	assert.Equal(t, conversation.StageSinglePlayer, res.Stage)

	replies := h.social.PostedReplies()
	require.Len(t, replies, posted+1)
	assert.Equal(t, prompts.AlreadyRunning, replies[posted].Body)

	conv, _ := h.store.Get("1")
	assert.Equal(t, conversation.StageSinglePlayer, conv.Stage)
}

func TestHandleEvent_TransientFailurePostsApology(t *testing.T) {
	h := newHarness()
	h.social.PostErr = func(body, _ string) error {
		if body == prompts.SceneSetting {
			return errors.New("connection reset by peer")
		}
		return nil
	}

	res := h.handle(t, mention("0xm1", "1", "kbc", "@worldweaver let's build a story"))
	assert.False(t, res.Success)
	assert.Equal(t, conversation.ErrorKindTransient, res.ErrorKind)

	reply, ok := h.social.LastReply()
	require.True(t, ok)
	assert.Equal(t, prompts.Apology, reply.Body)
	assert.Equal(t, "0xm1", reply.ParentID)

	conv, _ := h.store.Get("1")
	assert.Equal(t, conversation.StageInit, conv.Stage, "stays at init for a retry")
	assert.Equal(t, 1, conv.RetryCount)
	assert.False(t, conv.LastAttemptAt.IsZero())

	// The next mention retries and succeeds.
	h.social.PostErr = nil
	res = h.handle(t, mention("0xm2", "1", "kbc", "@worldweaver story please"))
	require.True(t, res.Success)
	conv, _ = h.store.Get("1")
	assert.Equal(t, conversation.StageFoundation, conv.Stage)
	assert.Zero(t, conv.RetryCount)
}

func TestHandleEvent_ContentPolicyInInitPostsNoApology(t *testing.T) {
	h := newHarness()
	h.gen.Func = func(llmtest.Call) (string, error) { return "", llm.ErrContentPolicy }

	res := h.handle(t, mention("0xm1", "1", "kbc", "@worldweaver let's build a story"))
	assert.False(t, res.Success)
	assert.Equal(t, conversation.ErrorKindContentPolicy, res.ErrorKind)

	replies := h.social.PostedReplies()
	require.Len(t, replies, 1, "only the scene post")
	assert.Equal(t, prompts.SceneSetting, replies[0].Body)
}

func TestStagesBetween(t *testing.T) {
	assert.Equal(t, []conversation.Stage{conversation.StageSinglePlayer},
		stagesBetween(conversation.StageFoundation, conversation.StageMultiPlayer))
	assert.Equal(t, []conversation.Stage{conversation.StageFoundation, conversation.StageSinglePlayer},
		stagesBetween(conversation.StageInit, conversation.StageMultiPlayer))
	assert.Nil(t, stagesBetween(conversation.StageSinglePlayer, conversation.StageFoundation))
}

func TestStatsAndPrune(t *testing.T) {
	h := newHarness()
	startStory(t, h)

	stats := h.orch.Stats()
	assert.Equal(t, 1, stats["conversations"])
	assert.Equal(t, 2, stats["handled_events"])
	assert.Equal(t, 0, h.orch.PruneHandled(time.Hour))
}
