// Package neynar is the outbound Farcaster client backed by the Neynar v2 API.
package neynar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/worldweaver/internal/providers/interact"
	"github.com/worldweaver/internal/retry"
)

const (
	// DefaultBaseURL is the Neynar v2 API root.
	DefaultBaseURL = "https://api.neynar.com/v2"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 2048
)

// ErrUnexpectedStatus is wrapped by every APIError.
var ErrUnexpectedStatus = errors.New("unexpected status from Neynar")

// APIError is a non-2xx response.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("neynar %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return ErrUnexpectedStatus }

// Temporary reports whether repeating the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config holds the connection settings for the API client.
type Config struct {
	APIKey     string        `koanf:"api_key"`
	BaseURL    string        `koanf:"base_url"`
	WebhookURL string        `koanf:"webhook_url"`
	Timeout    time.Duration `koanf:"timeout"`

	// Bot identity, filled from the bot section.
	SignerUUID string `koanf:"-"`
	BotFID     string `koanf:"-"`

	Retry retry.RetryConfig `koanf:"-"`
}

// APIClient posts casts and reads threads on behalf of the bot.
type APIClient struct {
	cfg        Config
	httpClient *http.Client
}

var (
	_ interact.SocialClient          = (*APIClient)(nil)
	_ interact.SubscriptionRegistrar = (*APIClient)(nil)
)

// NewAPIClient constructs a Neynar client. Zero values fall back to defaults.
func NewAPIClient(cfg Config) *APIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.BaseDelay == 0 {
		cfg.Retry = retry.APIRetryConfig()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = isRetryable
	}
	return &APIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// PostReply publishes body as a reply to parentID and returns the new cast hash.
// The idem key is derived from parent and body so a resent post is collapsed by Neynar.
func (c *APIClient) PostReply(ctx context.Context, body, parentID string) (string, error) {
	req := postCastRequest{
		SignerUUID: c.cfg.SignerUUID,
		Text:       body,
		Parent:     parentID,
		Idem:       IdemKey(parentID, body),
	}

	var resp postCastResponse
	if err := c.do(ctx, "post cast", http.MethodPost, "/farcaster/cast", nil, req, &resp); err != nil {
		return "", err
	}
	if resp.Cast.Hash == "" {
		return "", fmt.Errorf("neynar post cast: response carried no cast hash")
	}

	log.Info().
		Str("parent", parentID).
		Str("hash", resp.Cast.Hash).
		Int("bytes", len(body)).
		Msg("Posted cast reply")
	return resp.Cast.Hash, nil
}

// GetThread fetches the conversation around anchorID and flattens it
// depth-first. The anchor has depth 0.
func (c *APIClient) GetThread(ctx context.Context, anchorID string, depth int) ([]interact.Post, error) {
	q := url.Values{}
	q.Set("identifier", anchorID)
	q.Set("type", "hash")
	q.Set("reply_depth", strconv.Itoa(depth))
	q.Set("include_chronological_parent_casts", "false")

	var resp conversationResponse
	if err := c.do(ctx, "get conversation", http.MethodGet, "/farcaster/cast/conversation", q, nil, &resp); err != nil {
		return nil, err
	}

	var posts []interact.Post
	flattenCast(resp.Conversation.Cast, 0, &posts)
	return posts, nil
}

// GetRecentPosts returns up to limit of the user's latest casts, replies included.
func (c *APIClient) GetRecentPosts(ctx context.Context, userID string, limit int) ([]interact.Post, error) {
	q := url.Values{}
	q.Set("fid", userID)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("include_replies", "true")

	var resp feedResponse
	if err := c.do(ctx, "get user casts", http.MethodGet, "/farcaster/feed/user/casts", q, nil, &resp); err != nil {
		return nil, err
	}

	posts := make([]interact.Post, 0, len(resp.Casts))
	for _, cast := range resp.Casts {
		posts = append(posts, cast.toPost(0))
	}
	return posts, nil
}

// RegisterMentionSubscription publishes a webhook delivering casts from the
// story's participants posted under anchorID.
func (c *APIClient) RegisterMentionSubscription(ctx context.Context, ownerID, anchorID string, admittedIDs []string) error {
	admitted, err := parseFIDs(admittedIDs)
	if err != nil {
		return err
	}
	authors, err := parseFIDs(append([]string{ownerID}, admittedIDs...))
	if err != nil {
		return err
	}

	req := webhookRequest{
		Name: "coauthors-" + shortHash(anchorID),
		URL:  c.cfg.WebhookURL,
		Subscription: subscription{CastCreated: castCreatedFilter{
			MentionedFIDs: admitted,
			ParentHashes:  []string{anchorID},
			AuthorFIDs:    authors,
		}},
	}

	var resp webhookResponse
	if err := c.do(ctx, "publish co-author webhook", http.MethodPost, "/farcaster/webhook", nil, req, &resp); err != nil {
		return err
	}
	log.Info().
		Str("owner_id", ownerID).
		Str("anchor", anchorID).
		Strs("coauthors", admittedIDs).
		Str("webhook_id", resp.Webhook.WebhookID).
		Msg("Registered co-author subscription")
	return nil
}

// SetupMentionWebhook publishes the base webhook: casts mentioning the bot
// and replies to the bot's casts. It returns the webhook ID.
func (c *APIClient) SetupMentionWebhook(ctx context.Context, name string) (string, error) {
	bot, err := parseFIDs([]string{c.cfg.BotFID})
	if err != nil {
		return "", err
	}
	if c.cfg.WebhookURL == "" {
		return "", fmt.Errorf("webhook url is not configured")
	}

	req := webhookRequest{
		Name: name,
		URL:  c.cfg.WebhookURL,
		Subscription: subscription{CastCreated: castCreatedFilter{
			MentionedFIDs:    bot,
			ParentAuthorFIDs: bot,
		}},
	}

	var resp webhookResponse
	if err := c.do(ctx, "publish webhook", http.MethodPost, "/farcaster/webhook", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.Webhook.WebhookID, nil
}

func (c *APIClient) do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("neynar %s: marshal request: %w", op, err)
		}
	}

	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	result := retry.RetryWithBackoff(ctx, c.cfg.Retry, "neynar "+op, func(ctx context.Context) error {
		return c.once(ctx, op, method, endpoint, payload, out)
	})
	return result.Err()
}

func (c *APIClient) once(ctx context.Context, op, method, endpoint string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("neynar %s: create request: %w", op, err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Debug().Str("method", method).Str("url", endpoint).Msg("Neynar API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("neynar %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("neynar %s: decode response: %w", op, err)
	}
	return nil
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return retry.IsRetryableError(err)
}

// IdemKey derives the 16 character idempotency key for a reply.
func IdemKey(parentID, body string) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(parentID+"\x00"+body))
	return strings.ReplaceAll(id.String(), "-", "")[:16]
}

func parseFIDs(ids []string) ([]int64, error) {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		fid, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid fid %q: %w", id, err)
		}
		out = append(out, fid)
	}
	return out, nil
}

func shortHash(hash string) string {
	h := strings.TrimPrefix(hash, "0x")
	if len(h) > 10 {
		h = h[:10]
	}
	return h
}

func flattenCast(cast apiCast, depth int, out *[]interact.Post) {
	if cast.Hash == "" {
		return
	}
	*out = append(*out, cast.toPost(depth))
	for _, reply := range cast.DirectReplies {
		flattenCast(reply, depth+1, out)
	}
}
