package llm

import (
	"context"
	"errors"
)

// TextGenerator produces a completion for a system and user prompt pair.
// Implementations must be safe for concurrent use.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ErrContentPolicy marks a completion the provider refused to produce.
// Callers treat it as permanent and never retry.
var ErrContentPolicy = errors.New("llm: content policy refusal")

// ErrEmptyCompletion is returned when the provider answered with no text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Sampling is a named set of generation parameters. Zero fields are left
// to the provider default.
type Sampling struct {
	Name             string
	Temperature      float64
	TopP             float64
	TopK             int
	PresencePenalty  float64
	FrequencyPenalty float64
	MaxTokens        int
}

var (
	// SamplingDefault is used for persona replies and the shortening ladder.
	SamplingDefault = Sampling{
		Name:             "default",
		Temperature:      0.7,
		TopP:             0.9,
		PresencePenalty:  0.75,
		FrequencyPenalty: 0.5,
	}

	// SamplingAdjectives keeps the adjective list close to the source posts.
	SamplingAdjectives = Sampling{
		Name:             "adjectives",
		Temperature:      0.3,
		TopP:             0.9,
		TopK:             10,
		PresencePenalty:  0.9,
		FrequencyPenalty: 0.9,
	}

	// SamplingStory is used for story continuations.
	SamplingStory = Sampling{
		Name:             "story",
		Temperature:      0.75,
		TopP:             0.9,
		TopK:             20,
		PresencePenalty:  0.65,
		FrequencyPenalty: 0.65,
	}
)

// Profiled is implemented by generators that can be pinned to a sampling
// profile. The returned generator shares rate limiting with its parent.
type Profiled interface {
	WithSampling(s Sampling) TextGenerator
}

// ForProfile returns gen pinned to s when gen supports profiles, gen otherwise.
func ForProfile(gen TextGenerator, s Sampling) TextGenerator {
	if p, ok := gen.(Profiled); ok {
		return p.WithSampling(s)
	}
	return gen
}
