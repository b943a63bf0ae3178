package prompts

import (
	"fmt"
	"strings"

	"github.com/worldweaver/internal/providers/interact"
)

// Persona returns the persona system prompt addressed to username.
func Persona(username string) string {
	return RenderBody(PersonaPrompt, Vars{"user_name": username})
}

// Adjectives builds the prompt asking for three adjectives describing posts.
func Adjectives(username string, posts []interact.Post) string {
	texts := make([]string, 0, len(posts))
	for _, p := range posts {
		texts = append(texts, strings.TrimSpace(p.Text))
	}
	return RenderBody(AdjectivesTemplate, Vars{
		"user_name": username,
		"posts":     texts,
	})
}

// Storywriting builds the single player continuation prompt.
func Storywriting(username, userText, thread string) string {
	return RenderBody(StorywritingTemplate, Vars{
		"user_name": username,
		"user_text": userText,
		"thread":    thread,
	})
}

// Multiplayer builds the prompt summarising a story for its co-authors.
func Multiplayer(story, recent string, coauthors []string) string {
	return RenderBody(MultiplayerTemplate, Vars{
		"story":     story,
		"recent":    recent,
		"coauthors": coauthors,
	})
}

// Shorten builds a rewrite prompt for text using the ladder instruction.
func Shorten(text, instruction string) string {
	return RenderBody(ShortenTemplate, Vars{
		"text":        text,
		"instruction": instruction,
	})
}

// ShortenInstruction returns the instruction for a 1-based ladder attempt.
// The first attempt is unmodified.
func ShortenInstruction(attempt int) string {
	switch {
	case attempt <= 1:
		return ""
	case attempt == 2:
		return ShortenQuarter
	case attempt == 3:
		return ShortenHalf
	default:
		return ShortenTight
	}
}

// Foundation composes the adjectives reply.
func Foundation(adjectives []string) string {
	return FoundationPrefix + strings.Join(adjectives, ", ") + FoundationSuffix
}

// ThreadSummary renders posts as "username: text" lines, indented by reply depth.
func ThreadSummary(posts []interact.Post) string {
	var b strings.Builder
	for _, p := range posts {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		name := p.AuthorUsername
		if name == "" {
			name = p.AuthorID
		}
		b.WriteString(strings.Repeat("  ", max(p.Depth, 0)))
		fmt.Fprintf(&b, "%s: %s\n", name, text)
	}
	return strings.TrimRight(b.String(), "\n")
}
