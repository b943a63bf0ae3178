package neynar

// EventTypeCastCreated is the only webhook type the bot reacts to.
const EventTypeCastCreated = "cast.created"

// WebhookPayload is the envelope Neynar posts to the webhook URL.
type WebhookPayload struct {
	Type      string `json:"type"`
	CreatedAt int64  `json:"created_at"`
	Data      Cast   `json:"data"`
}

// Cast is the cast object carried by cast.created deliveries.
type Cast struct {
	Object            string       `json:"object"`
	Hash              string       `json:"hash"`
	ThreadHash        string       `json:"thread_hash"`
	ParentHash        *string      `json:"parent_hash"`
	ParentURL         *string      `json:"parent_url"`
	RootParentURL     *string      `json:"root_parent_url"`
	ParentAuthor      ParentAuthor `json:"parent_author"`
	Author            User         `json:"author"`
	Text              string       `json:"text"`
	Timestamp         string       `json:"timestamp"`
	MentionedProfiles []User       `json:"mentioned_profiles"`
	Channel           *Channel     `json:"channel,omitempty"`
	Replies           struct {
		Count int `json:"count"`
	} `json:"replies"`
}

// User is a Farcaster profile as embedded in casts.
type User struct {
	Object      string `json:"object"`
	FID         int64  `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PfpURL      string `json:"pfp_url"`
}

// ParentAuthor identifies who wrote the cast being replied to. FID is nil
// for top-level casts.
type ParentAuthor struct {
	FID *int64 `json:"fid"`
}

// Channel is the dehydrated channel a cast was posted in.
type Channel struct {
	Object string `json:"object"`
	ID     string `json:"id"`
	Name   string `json:"name"`
}
