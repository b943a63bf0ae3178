package orchestrator

import (
	"strings"

	"github.com/worldweaver/internal/events"
)

// RouteDecision is the path an inbound event takes through the orchestrator.
type RouteDecision string

const (
	RouteIgnore        RouteDecision = "ignore"
	RouteInit          RouteDecision = "init"
	RouteContinueReply RouteDecision = "continue_reply"
	RouteAdmitCoauthor RouteDecision = "admit_coauthor"
)

func (r RouteDecision) String() string { return string(r) }

// Classify maps an event onto a route. Rules are evaluated in order and the
// first match wins. It has no side effects.
func Classify(ev events.Event, botID string) RouteDecision {
	if botID == "" || ev.AuthorID == botID {
		return RouteIgnore
	}

	parentIsBot := ev.ParentAuthorID != "" && ev.ParentAuthorID == botID

	if ev.MentionsID(botID) && !parentIsBot {
		return RouteInit
	}
	if !parentIsBot {
		return RouteIgnore
	}
	if len(ev.MentionsExcept(botID, ev.AuthorID)) > 0 {
		return RouteAdmitCoauthor
	}
	return RouteContinueReply
}

// Command is a free-text instruction found in an Init event.
type Command string

const (
	CommandShowYourself Command = "show_yourself"
	CommandStory        Command = "story"
	CommandDefault      Command = "default"
)

// ParseCommand looks for a command in text, case-insensitively. "show
// yourself" takes precedence over the story keywords. Tagged handles are
// not searched.
func ParseCommand(text string) Command {
	words := strings.Fields(strings.ToLower(text))
	kept := words[:0]
	for _, w := range words {
		if !strings.HasPrefix(w, "@") {
			kept = append(kept, w)
		}
	}
	lower := strings.Join(kept, " ")
	switch {
	case strings.Contains(lower, "show yourself"):
		return CommandShowYourself
	case strings.Contains(lower, "story"), strings.Contains(lower, "world"):
		return CommandStory
	default:
		return CommandDefault
	}
}
