package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"

	"github.com/worldweaver/internal/retry"
)

// Provider names accepted in Config.Provider.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config selects and tunes the completion backend. Gaia nodes speak the
// OpenAI wire protocol, so they are configured as ProviderOpenAI with a
// custom BaseURL.
type Config struct {
	Provider          string            `koanf:"provider"`
	BaseURL           string            `koanf:"base_url"`
	APIKey            string            `koanf:"api_key"`
	Model             string            `koanf:"model"`
	RequestsPerSecond float64           `koanf:"requests_per_second"`
	Burst             int               `koanf:"burst"`
	Timeout           time.Duration     `koanf:"timeout"`
	Retry             retry.RetryConfig `koanf:"retry"`
}

// Observer receives one call per completion request.
type Observer interface {
	ObserveLLMRequest(status string, duration time.Duration)
}

// Client is a TextGenerator backed by a langchaingo model. Requests are
// paced by a shared token bucket and retried on transient failures.
type Client struct {
	model    llms.Model
	limiter  *rate.Limiter
	cfg      Config
	sampling Sampling
	observer Observer
}

// NewClient builds the langchaingo model named by cfg.Provider.
func NewClient(cfg Config) (*Client, error) {
	var (
		model llms.Model
		err   error
	)

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case ProviderOllama:
		model, err = ollama.New(ollama.WithServerURL(cfg.BaseURL), ollama.WithModel(cfg.Model))
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", cfg.Provider, err)
	}

	return NewClientWithModel(model, cfg), nil
}

// NewClientWithModel wraps an existing langchaingo model.
func NewClientWithModel(model llms.Model, cfg Config) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		model:    model,
		limiter:  rate.NewLimiter(limit, burst),
		cfg:      cfg,
		sampling: SamplingDefault,
	}
}

// SetObserver attaches a request observer. Not safe to call concurrently
// with GenerateText.
func (c *Client) SetObserver(o Observer) {
	c.observer = o
}

// WithSampling returns a copy of c using s. The copy shares the limiter.
func (c *Client) WithSampling(s Sampling) TextGenerator {
	cp := *c
	cp.sampling = s
	return &cp
}

// GenerateText sends a system and a human message and returns the first choice.
func (c *Client) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, userPrompt),
	}

	retryCfg := c.cfg.Retry
	retryCfg.Retryable = func(err error) bool {
		return !isContentPolicy(err) && retry.IsRetryableError(err)
	}

	var text string
	result := retry.RetryWithBackoff(ctx, retryCfg, "llm."+c.sampling.Name, func(ctx context.Context) error {
		out, err := c.generateOnce(ctx, messages)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err := result.Err(); err != nil {
		if isContentPolicy(err) {
			return "", fmt.Errorf("%w: %v", ErrContentPolicy, err)
		}
		return "", err
	}
	return text, nil
}

func (c *Client) generateOnce(ctx context.Context, messages []llms.MessageContent) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, messages, c.callOptions()...)
	status := "ok"
	defer func() {
		if c.observer != nil {
			c.observer.ObserveLLMRequest(status, time.Since(start))
		}
	}()

	if err != nil {
		status = "error"
		if isContentPolicy(err) {
			status = "content_policy"
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		status = "empty"
		return "", ErrEmptyCompletion
	}

	choice := resp.Choices[0]
	if choice.StopReason == "content_filter" {
		status = "content_policy"
		return "", ErrContentPolicy
	}
	text := strings.TrimSpace(choice.Content)
	if text == "" {
		status = "empty"
		return "", ErrEmptyCompletion
	}

	log.Debug().
		Str("profile", c.sampling.Name).
		Str("model", c.cfg.Model).
		Int("bytes", len(text)).
		Dur("duration", time.Since(start)).
		Msg("LLM completion received")
	return text, nil
}

func (c *Client) callOptions() []llms.CallOption {
	s := c.sampling
	var opts []llms.CallOption
	if s.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(s.Temperature))
	}
	if s.TopP > 0 {
		opts = append(opts, llms.WithTopP(s.TopP))
	}
	if s.TopK > 0 {
		opts = append(opts, llms.WithTopK(s.TopK))
	}
	if s.PresencePenalty != 0 {
		opts = append(opts, llms.WithPresencePenalty(s.PresencePenalty))
	}
	if s.FrequencyPenalty != 0 {
		opts = append(opts, llms.WithFrequencyPenalty(s.FrequencyPenalty))
	}
	if s.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(s.MaxTokens))
	}
	return opts
}

func isContentPolicy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrContentPolicy) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "content_policy") ||
		strings.Contains(msg, "content policy") ||
		strings.Contains(msg, "content_filter") ||
		strings.Contains(msg, "content management policy")
}
