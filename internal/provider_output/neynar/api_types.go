package neynar

import (
	"strconv"
	"time"

	"github.com/worldweaver/internal/providers/interact"
)

type postCastRequest struct {
	SignerUUID string `json:"signer_uuid"`
	Text       string `json:"text"`
	Parent     string `json:"parent,omitempty"`
	Idem       string `json:"idem,omitempty"`
}

type postCastResponse struct {
	Success bool `json:"success"`
	Cast    struct {
		Hash   string  `json:"hash"`
		Author apiUser `json:"author"`
		Text   string  `json:"text"`
	} `json:"cast"`
}

type conversationResponse struct {
	Conversation struct {
		Cast apiCast `json:"cast"`
	} `json:"conversation"`
}

type feedResponse struct {
	Casts []apiCast `json:"casts"`
	Next  struct {
		Cursor *string `json:"cursor"`
	} `json:"next"`
}

type apiUser struct {
	FID      int64  `json:"fid"`
	Username string `json:"username"`
}

type apiCast struct {
	Hash          string    `json:"hash"`
	ParentHash    *string   `json:"parent_hash"`
	ThreadHash    string    `json:"thread_hash"`
	Author        apiUser   `json:"author"`
	Text          string    `json:"text"`
	Timestamp     string    `json:"timestamp"`
	DirectReplies []apiCast `json:"direct_replies"`
}

func (c apiCast) toPost(depth int) interact.Post {
	post := interact.Post{
		ID:             c.Hash,
		AuthorID:       strconv.FormatInt(c.Author.FID, 10),
		AuthorUsername: c.Author.Username,
		Text:           c.Text,
		Depth:          depth,
	}
	if c.ParentHash != nil {
		post.ParentID = *c.ParentHash
	}
	if t, err := time.Parse(time.RFC3339, c.Timestamp); err == nil {
		post.CreatedAt = t
	}
	return post
}

type webhookRequest struct {
	Name         string       `json:"name"`
	URL          string       `json:"url"`
	Subscription subscription `json:"subscription"`
}

type subscription struct {
	CastCreated castCreatedFilter `json:"cast.created"`
}

type castCreatedFilter struct {
	MentionedFIDs    []int64  `json:"mentioned_fids,omitempty"`
	ParentAuthorFIDs []int64  `json:"parent_author_fids,omitempty"`
	ParentHashes     []string `json:"parent_hashes,omitempty"`
	AuthorFIDs       []int64  `json:"author_fids,omitempty"`
}

type webhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Webhook struct {
		WebhookID string `json:"webhook_id"`
		Title     string `json:"title"`
	} `json:"webhook"`
}
