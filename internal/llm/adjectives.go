package llm

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
)

// RepairStats describes what RepairJSON had to do.
type RepairStats struct {
	OriginalBytes int
	RepairedBytes int
	Strategies    []string
	RepairTime    time.Duration
	WasRepaired   bool
}

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// RepairJSON returns raw unchanged when it parses, otherwise applies cheap
// local fixes and then falls back to jsonrepair.
func RepairJSON(raw string) (string, RepairStats, error) {
	start := time.Now()
	stats := RepairStats{OriginalBytes: len(raw)}

	var probe interface{}
	if json.Unmarshal([]byte(raw), &probe) == nil {
		stats.RepairedBytes = len(raw)
		stats.RepairTime = time.Since(start)
		return raw, stats, nil
	}

	stats.WasRepaired = true
	repaired := raw

	if fixed := trailingComma.ReplaceAllString(repaired, "$1"); fixed != repaired {
		repaired = fixed
		stats.Strategies = append(stats.Strategies, "trailing_commas")
	}

	if json.Unmarshal([]byte(repaired), &probe) != nil {
		fixed, err := jsonrepair.JSONRepair(repaired)
		if err != nil {
			stats.RepairedBytes = len(repaired)
			stats.RepairTime = time.Since(start)
			return repaired, stats, err
		}
		repaired = fixed
		stats.Strategies = append(stats.Strategies, "jsonrepair_library")
	}

	stats.RepairedBytes = len(repaired)
	stats.RepairTime = time.Since(start)
	return repaired, stats, json.Unmarshal([]byte(repaired), &probe)
}

// extractJSON pulls a JSON object out of a completion that may wrap it in
// prose or a fenced code block.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw
	}

	if strings.Contains(raw, "```") {
		var body []string
		inBlock := false
		for _, line := range strings.Split(raw, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inBlock = !inBlock
				continue
			}
			if inBlock {
				body = append(body, line)
			}
		}
		if len(body) > 0 {
			return strings.TrimSpace(strings.Join(body, "\n"))
		}
	}

	if idx := strings.IndexAny(raw, "{["); idx >= 0 {
		return raw[idx:]
	}
	return ""
}

type adjectivesPayload struct {
	Adjectives []string `json:"adjectives"`
}

// ParseAdjectives turns the adjectives completion into a clean list. The
// model is asked for {"adjectives": [...]}; anything unparseable is split
// on commas and newlines instead.
func ParseAdjectives(raw string) []string {
	if candidate := extractJSON(raw); candidate != "" {
		repaired, stats, err := RepairJSON(candidate)
		if stats.WasRepaired {
			log.Debug().
				Strs("strategies", stats.Strategies).
				Int("original_bytes", stats.OriginalBytes).
				Int("repaired_bytes", stats.RepairedBytes).
				Msg("Repaired adjectives JSON")
		}
		if err == nil {
			var payload adjectivesPayload
			if json.Unmarshal([]byte(repaired), &payload) == nil && len(payload.Adjectives) > 0 {
				return normalizeAdjectives(payload.Adjectives)
			}
			var list []string
			if json.Unmarshal([]byte(repaired), &list) == nil && len(list) > 0 {
				return normalizeAdjectives(list)
			}
		}
	}

	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})
	return normalizeAdjectives(fields)
}

func normalizeAdjectives(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.Trim(strings.TrimSpace(a), "\"'`*-.[]{}")
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		key := strings.ToLower(a)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}
