package prompts

import (
	"fmt"
	"strings"
)

// Vars holds placeholder values. A value is a string or a []string; lists
// are joined with the placeholder's join option (", " when absent).
type Vars map[string]interface{}

// RenderBody fills the {{VAR:...}} placeholders of body. Missing or empty
// values use the placeholder's default option, or the empty string.
func RenderBody(body string, vars Vars) string {
	placeholders := ParsePlaceholders(body)
	if len(placeholders) == 0 {
		return body
	}

	var b strings.Builder
	b.Grow(len(body))
	last := 0
	for _, ph := range placeholders {
		b.WriteString(body[last:ph.Start])
		b.WriteString(resolve(ph, vars))
		last = ph.End
	}
	b.WriteString(body[last:])
	return b.String()
}

func resolve(ph Placeholder, vars Vars) string {
	sep, ok := ph.Options["join"]
	if !ok {
		sep = ", "
	}

	var value string
	switch v := vars[ph.Name].(type) {
	case string:
		value = v
	case []string:
		kept := make([]string, 0, len(v))
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				kept = append(kept, s)
			}
		}
		value = strings.Join(kept, sep)
	case fmt.Stringer:
		value = v.String()
	case nil:
	default:
		value = fmt.Sprint(v)
	}

	if strings.TrimSpace(value) == "" {
		return ph.Options["default"]
	}
	return value
}
