package prompts

import (
	"regexp"
	"strconv"
	"strings"
)

// Placeholder is one {{VAR:name|key=value...}} occurrence in a template.
type Placeholder struct {
	Raw     string
	Name    string
	Options map[string]string // join, default

	// Byte offsets of Raw in the template.
	Start, End int
}

var (
	placeholderRe = regexp.MustCompile(`\{\{VAR:([A-Za-z0-9_-]+)((?:\|[^}]*)?)\}\}`)
	optionRe      = regexp.MustCompile(`\|\s*([A-Za-z_]+)\s*=\s*("(?:[^"\\]|\\.)*"|'[^']*'|[^|]*)`)
)

// ParsePlaceholders lists the placeholders of a template in order.
func ParsePlaceholders(body string) []Placeholder {
	var out []Placeholder
	for _, m := range placeholderRe.FindAllStringSubmatchIndex(body, -1) {
		ph := Placeholder{
			Raw:     body[m[0]:m[1]],
			Name:    body[m[2]:m[3]],
			Options: map[string]string{},
			Start:   m[0],
			End:     m[1],
		}
		if m[4] >= 0 {
			for _, opt := range optionRe.FindAllStringSubmatch(body[m[4]:m[5]], -1) {
				ph.Options[strings.ToLower(opt[1])] = optionValue(opt[2])
			}
		}
		out = append(out, ph)
	}
	return out
}

// optionValue reads a double-quoted value with Go escapes (so join="\n"
// is a newline), a single-quoted value verbatim, or a bare value trimmed.
func optionValue(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) < 2 {
		return raw
	}
	switch q := raw[0]; {
	case q == '"' && raw[len(raw)-1] == '"':
		if v, err := strconv.Unquote(raw); err == nil {
			return v
		}
		return raw[1 : len(raw)-1]
	case q == '\'' && raw[len(raw)-1] == '\'':
		return raw[1 : len(raw)-1]
	}
	return raw
}
