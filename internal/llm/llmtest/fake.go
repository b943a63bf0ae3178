// Package llmtest provides a scripted TextGenerator for handler tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/worldweaver/internal/llm"
)

// Call records one GenerateText invocation.
type Call struct {
	Profile string
	System  string
	User    string
}

// Reply is one scripted outcome.
type Reply struct {
	Text string
	Err  error
}

// Generator returns scripted replies in order. Once the script runs out
// it falls back to Fallback, or an error when Fallback is empty.
type Generator struct {
	mu       sync.Mutex
	script   []Reply
	calls    []Call
	Fallback string
	// Func, when set, takes precedence over the script.
	Func func(call Call) (string, error)
}

type profiled struct {
	parent  *Generator
	profile string
}

var _ llm.TextGenerator = (*Generator)(nil)
var _ llm.Profiled = (*Generator)(nil)

// New returns a generator that answers with texts in order.
func New(texts ...string) *Generator {
	g := &Generator{}
	for _, t := range texts {
		g.script = append(g.script, Reply{Text: t})
	}
	return g
}

// Then appends a scripted outcome.
func (g *Generator) Then(text string, err error) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.script = append(g.script, Reply{Text: text, Err: err})
	return g
}

// GenerateText implements llm.TextGenerator.
func (g *Generator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.generate(ctx, Call{Profile: llm.SamplingDefault.Name, System: systemPrompt, User: userPrompt})
}

// WithSampling implements llm.Profiled. Calls are recorded on g.
func (g *Generator) WithSampling(s llm.Sampling) llm.TextGenerator {
	return &profiled{parent: g, profile: s.Name}
}

func (p *profiled) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return p.parent.generate(ctx, Call{Profile: p.profile, System: systemPrompt, User: userPrompt})
}

func (g *Generator) generate(ctx context.Context, call Call) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	g.calls = append(g.calls, call)
	fn := g.Func
	var next *Reply
	if fn == nil && len(g.script) > 0 {
		r := g.script[0]
		g.script = g.script[1:]
		next = &r
	}
	fallback := g.Fallback
	g.mu.Unlock()

	switch {
	case fn != nil:
		return fn(call)
	case next != nil:
		return next.Text, next.Err
	case fallback != "":
		return fallback, nil
	default:
		return "", errors.New("llmtest: script exhausted")
	}
}

// Calls returns a copy of the recorded calls.
func (g *Generator) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// CallCount returns the number of recorded calls.
func (g *Generator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
