// Package neynar decodes Neynar webhook deliveries into platform-neutral events.
package neynar

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/worldweaver/internal/events"
)

// ErrEventIgnored is returned for deliveries the bot does not process.
var ErrEventIgnored = errors.New("webhook event ignored")

// ConvertCastEvent transforms a cast.created payload into an events.Event.
// Other webhook types return ErrEventIgnored.
func ConvertCastEvent(body []byte) (*events.Event, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse Neynar webhook: %w", err)
	}

	if payload.Type != EventTypeCastCreated {
		log.Debug().Str("type", payload.Type).Msg("Ignoring Neynar webhook type")
		return nil, fmt.Errorf("%w (type=%s)", ErrEventIgnored, payload.Type)
	}

	cast := payload.Data
	if strings.TrimSpace(cast.Hash) == "" || cast.Author.FID == 0 {
		return nil, fmt.Errorf("cast.created payload missing hash or author")
	}

	event := &events.Event{
		EventID:        cast.Hash,
		AuthorID:       FormatFID(cast.Author.FID),
		AuthorUsername: cast.Author.Username,
		Text:           cast.Text,
		ThreadRootID:   cast.ThreadHash,
		CreatedAt:      castTime(cast.Timestamp, payload.CreatedAt),
	}
	if cast.ParentHash != nil {
		event.ParentPostID = *cast.ParentHash
	}
	if cast.ParentAuthor.FID != nil {
		event.ParentAuthorID = FormatFID(*cast.ParentAuthor.FID)
	}
	for _, p := range cast.MentionedProfiles {
		if p.FID == 0 {
			continue
		}
		event.Mentions = append(event.Mentions, events.Mention{
			ID:       FormatFID(p.FID),
			Username: p.Username,
		})
	}

	return event, nil
}

// PeekType returns the webhook type of a delivery, or "" when the body does
// not parse.
func PeekType(body []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return ""
	}
	return head.Type
}

// FormatFID renders a Farcaster ID the way events carry identities.
func FormatFID(fid int64) string {
	return strconv.FormatInt(fid, 10)
}

func castTime(timestamp string, createdAt int64) time.Time {
	if timestamp != "" {
		if t, err := time.Parse(time.RFC3339, timestamp); err == nil {
			return t
		}
	}
	if createdAt > 0 {
		return time.Unix(createdAt, 0).UTC()
	}
	return time.Time{}
}
