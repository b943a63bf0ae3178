// Package orchestrator routes inbound post events through the story game.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/worldweaver/internal/conversation"
	"github.com/worldweaver/internal/events"
	"github.com/worldweaver/internal/gamemodes"
	"github.com/worldweaver/internal/providers/interact"
)

// DefaultProcessingTimeout bounds the external calls of one event.
const DefaultProcessingTimeout = 45 * time.Second

const apologyTimeout = 10 * time.Second

// Event outcomes reported to the Recorder.
const (
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
)

// Recorder receives routing and stage transition counts.
type Recorder interface {
	RecordEvent(route, outcome string)
	RecordStageTransition(from, to string)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvent(string, string)           {}
func (nopRecorder) RecordStageTransition(string, string) {}

// Config tunes an Orchestrator.
type Config struct {
	BotID             string
	ProcessingTimeout time.Duration
}

// Orchestrator is the entry point for every inbound event. It is safe for
// concurrent use; state lives in the store and the dedup guard.
type Orchestrator struct {
	botID     string
	timeout   time.Duration
	store     *conversation.Store
	dedup     *conversation.DedupGuard
	handlers  map[conversation.Stage]gamemodes.Handler
	responder *gamemodes.Responder
	subs      interact.SubscriptionRegistrar
	recorder  Recorder
	now       func() time.Time
}

// New wires an orchestrator. deps.BotID is overridden by cfg.BotID.
func New(cfg Config, store *conversation.Store, dedup *conversation.DedupGuard, deps gamemodes.Deps, recorder Recorder) *Orchestrator {
	deps.BotID = cfg.BotID
	if recorder == nil {
		recorder = nopRecorder{}
	}
	timeout := cfg.ProcessingTimeout
	if timeout == 0 {
		timeout = DefaultProcessingTimeout
	}
	return &Orchestrator{
		botID:     cfg.BotID,
		timeout:   timeout,
		store:     store,
		dedup:     dedup,
		handlers:  gamemodes.NewHandlers(deps),
		responder: gamemodes.NewResponder(deps),
		subs:      deps.Subscriptions,
		recorder:  recorder,
		now:       time.Now,
	}
}

// HandleEvent classifies ev and runs it through the matching path. Redelivered
// events are skipped without side effects. The event is marked handled once
// processing ends, whatever the outcome.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev events.Event) conversation.FlowResult {
	start := o.now()
	route := Classify(ev, o.botID)
	logger := log.With().
		Str("event_id", ev.EventID).
		Str("user_id", ev.AuthorID).
		Str("route", route.String()).
		Strs("mentions", ev.MentionedIDs()).
		Logger()

	if route == RouteIgnore {
		logger.Debug().Msg("Event ignored")
		o.recorder.RecordEvent(route.String(), OutcomeIgnored)
		return conversation.FlowResult{
			Success:   true,
			Skipped:   true,
			ErrorKind: conversation.ErrorKindUnroutable,
			Message:   "event ignored",
			Route:     route.String(),
		}
	}

	if !o.dedup.Begin(ev.EventID) {
		logger.Info().Msg("Event already handled, skipping")
		o.recorder.RecordEvent(route.String(), OutcomeDuplicate)
		return conversation.FlowResult{
			Success: true,
			Skipped: true,
			Message: "event already handled",
			Route:   route.String(),
		}
	}
	defer o.dedup.MarkHandled(ev.EventID)

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var res conversation.FlowResult
	switch route {
	case RouteInit:
		res = o.handleInit(ctx, ev)
	case RouteContinueReply:
		res = o.handleContinue(ctx, ev)
	case RouteAdmitCoauthor:
		res = o.handleAdmit(ctx, ev)
	}
	res.Route = route.String()

	if !res.Success && res.ErrorKind == conversation.ErrorKindTransient && res.ReplyID == "" {
		o.apologize(ctx, ev)
	}

	outcome := OutcomeSuccess
	if !res.Success {
		outcome = OutcomeFailure
	}
	o.recorder.RecordEvent(route.String(), outcome)

	event := logger.Info()
	if !res.Success {
		event = logger.Warn().Err(res.Err).Str("error_kind", string(res.ErrorKind))
	}
	event.
		Str("stage", string(res.Stage)).
		Str("reply_id", res.ReplyID).
		Dur("duration", time.Since(start)).
		Msg(res.Message)

	return res
}

func (o *Orchestrator) handleInit(ctx context.Context, ev events.Event) conversation.FlowResult {
	switch ParseCommand(ev.Text) {
	case CommandShowYourself:
		return o.responder.ShowYourself(ctx, ev)
	case CommandDefault:
		return o.responder.Default(ctx, ev)
	}

	conv := o.store.StartNew(ev.AuthorID, ev.EventID, ev.AuthorUsername, ev.Text)
	switch conv.Stage {
	case conversation.StageInit, conversation.StageFoundation:
		return o.run(ctx, conv, ev, conv.Stage)
	default:
		return o.responder.AlreadyRunning(ctx, conv, ev)
	}
}

func (o *Orchestrator) handleContinue(ctx context.Context, ev events.Event) conversation.FlowResult {
	conv, ok := o.resolve(ev)
	if !ok {
		return o.responder.Default(ctx, ev)
	}

	switch conv.Stage {
	case conversation.StageFoundation:
		return o.run(ctx, conv, ev, conversation.StageSinglePlayer)
	default:
		return o.run(ctx, conv, ev, conv.Stage)
	}
}

// threadOwner returns the user whose conversation contains the post ev
// replies to, checking the direct parent before the thread root.
func (o *Orchestrator) threadOwner(ev events.Event) (string, bool) {
	for _, postID := range []string{ev.ParentPostID, ev.ThreadRootID} {
		if postID == "" {
			continue
		}
		if owner, ok := o.store.OwnerOf(postID); ok {
			return owner, true
		}
	}
	return "", false
}

// resolve finds the conversation an event continues. The thread decides:
// a reply under another user's story belongs to that story when the author
// was admitted into it. The author's own conversation is used only for its
// own threads or for threads the store does not know.
func (o *Orchestrator) resolve(ev events.Event) (conversation.Conversation, bool) {
	owner, known := o.threadOwner(ev)
	if !known || owner == ev.AuthorID {
		return o.store.Get(ev.AuthorID)
	}
	conv, ok := o.store.Get(owner)
	if ok && conv.Stage == conversation.StageMultiPlayer && conv.HasCoAuthor(ev.AuthorID) {
		return conv, true
	}
	return conversation.Conversation{}, false
}

func (o *Orchestrator) handleAdmit(ctx context.Context, ev events.Event) conversation.FlowResult {
	ownerID, known := o.threadOwner(ev)
	if !known {
		ownerID = ev.AuthorID
	}
	if ownerID == ev.AuthorID {
		if own, ok := o.store.Get(ev.AuthorID); ok {
			switch own.Stage {
			case conversation.StageInit:
				return o.run(ctx, own, ev, conversation.StageInit)
			case conversation.StageFoundation, conversation.StageSinglePlayer:
				return o.run(ctx, own, ev, conversation.StageSinglePlayer)
			}
		}
	}

	prior, existed := o.store.Get(ownerID)

	var admitted []conversation.Participant
	if ownerID != ev.AuthorID {
		admitted = append(admitted, conversation.Participant{ID: ev.AuthorID, Username: ev.AuthorUsername})
	}
	for _, m := range ev.MentionsExcept(o.botID, ownerID, ev.AuthorID) {
		admitted = append(admitted, conversation.Participant{ID: m.ID, Username: m.Username})
	}

	var newIDs []string
	for _, p := range admitted {
		if !prior.HasCoAuthor(p.ID) {
			newIDs = append(newIDs, p.ID)
		}
	}

	conv := o.store.ForceStage(ownerID, conversation.StageMultiPlayer, conversation.Patch{
		AddCoAuthors: admitted,
		TrackPostIDs: []string{ev.EventID},
	})
	if !existed {
		o.recorder.RecordStageTransition("none", string(conversation.StageMultiPlayer))
	} else if prior.Stage != conversation.StageMultiPlayer {
		o.recorder.RecordStageTransition(string(prior.Stage), string(conversation.StageMultiPlayer))
	}

	res := o.run(ctx, conv, ev, conversation.StageMultiPlayer)

	if len(newIDs) > 0 && o.subs != nil {
		anchor := res.ReplyID
		if anchor == "" {
			anchor = ev.EventID
		}
		if err := o.subs.RegisterMentionSubscription(ctx, ownerID, anchor, newIDs); err != nil {
			log.Warn().Err(err).Str("owner_id", ownerID).Strs("coauthors", newIDs).Msg("Failed to register co-author subscription")
		}
	}
	return res
}

// run executes the handler for stage against conv and commits its patch.
func (o *Orchestrator) run(ctx context.Context, conv conversation.Conversation, ev events.Event, stage conversation.Stage) conversation.FlowResult {
	h, ok := o.handlers[stage]
	if !ok {
		err := fmt.Errorf("no handler for stage %q", stage)
		log.Warn().Err(err).Str("user_id", conv.UserID).Str("error_kind", string(conversation.ErrorKindStateInconsistent)).Msg("Cannot dispatch event")
		return conversation.FlowResult{
			Stage:     conv.Stage,
			Message:   "no handler for stage",
			ErrorKind: conversation.ErrorKindStateInconsistent,
			Err:       err,
		}
	}

	res, patch := h.Handle(ctx, conv, ev)
	o.commit(conv, res, patch)
	return res
}

// commit applies a handler's patch. A successful step that jumps over a
// stage walks through the intermediate ones first. When a concurrent event
// has already moved the conversation past the patch's stage, the stage it
// reached is kept and the rest of the patch still applies.
func (o *Orchestrator) commit(conv conversation.Conversation, res conversation.FlowResult, patch conversation.Patch) {
	if res.Success {
		patch.RetryCount = conversation.Ptr(0)
	} else {
		patch.IncrementRetry = true
		patch.LastAttemptAt = conversation.Ptr(o.now())
	}

	from := conv.Stage
	if !res.Success {
		patch.Stage = nil
	}
	if patch.Stage != nil && !conversation.CanTransition(from, *patch.Stage) {
		for _, step := range stagesBetween(from, *patch.Stage) {
			if err := o.store.Update(conv.UserID, conversation.Patch{Stage: conversation.Ptr(step)}); err != nil {
				if errors.Is(err, conversation.ErrInvalidTransition) {
					break
				}
				o.reportCommitError(conv.UserID, err)
				return
			}
			o.recorder.RecordStageTransition(string(from), string(step))
			from = step
		}
	}

	err := o.store.Update(conv.UserID, patch)
	if errors.Is(err, conversation.ErrInvalidTransition) {
		log.Info().Err(err).Str("user_id", conv.UserID).Msg("Stage already moved by another event, keeping it")
		patch.Stage = nil
		err = o.store.Update(conv.UserID, patch)
	}
	if err != nil {
		o.reportCommitError(conv.UserID, err)
		return
	}
	if patch.Stage != nil && *patch.Stage != from {
		o.recorder.RecordStageTransition(string(from), string(*patch.Stage))
	}
}

// stagesBetween returns the stages strictly between from and a target that
// lies ahead of it, or nil when target is not ahead.
func stagesBetween(from, target conversation.Stage) []conversation.Stage {
	var path []conversation.Stage
	for s := from.Next(); s != target; s = s.Next() {
		if s.Next() == s {
			return nil
		}
		path = append(path, s)
	}
	return path
}

func (o *Orchestrator) reportCommitError(userID string, err error) {
	event := log.Error()
	if errors.Is(err, conversation.ErrConversationNotFound) {
		event = log.Warn().Str("error_kind", string(conversation.ErrorKindStateInconsistent))
	}
	event.Err(err).Str("user_id", userID).Msg("Failed to commit conversation update")
}

func (o *Orchestrator) apologize(ctx context.Context, ev events.Event) {
	// The processing deadline may already have passed.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), apologyTimeout)
	defer cancel()
	if _, err := o.responder.Apology(actx, ev); err != nil {
		log.Error().Err(err).Str("event_id", ev.EventID).Msg("Failed to post apology")
	}
}

// Stats reports store and dedup sizes.
func (o *Orchestrator) Stats() map[string]interface{} {
	return map[string]interface{}{
		"conversations":      o.store.Len(),
		"handled_events":     o.dedup.Len(),
		"processing_timeout": o.timeout.String(),
	}
}

// PruneHandled forgets handled event IDs older than retention.
func (o *Orchestrator) PruneHandled(retention time.Duration) int {
	return o.dedup.Prune(retention)
}
