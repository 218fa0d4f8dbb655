// Package template provides placeholder resolution and typed rendering for
// workflow node params.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// StatePrefix is the conventional marker stripped from placeholder paths.
const StatePrefix = "state."

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Lookup resolves a dotted path to a value.
type Lookup func(path string) (any, bool)

// Resolve replaces every {{path}} placeholder with the stringified value at
// that path. Placeholders whose path is absent are left verbatim.
func Resolve(input string, lookup Lookup) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	return placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}

		path := strings.TrimPrefix(groups[1], StatePrefix)

		value, ok := lookup(path)
		if !ok {
			return match
		}

		return Stringify(value)
	})
}

// ResolveAll applies Resolve to every string inside an arbitrary nested
// value and returns a new value. The input is not modified.
func ResolveAll(value any, lookup Lookup) any {
	switch v := value.(type) {
	case string:
		return Resolve(v, lookup)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = ResolveAll(item, lookup)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ResolveAll(item, lookup)
		}

		return out
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Resolve(item, lookup)
		}

		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ResolveAll(item, lookup)
		}

		return out
	default:
		return value
	}
}

// Placeholders lists the paths referenced by input, in order of appearance.
func Placeholders(input string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(input, -1)
	paths := make([]string, 0, len(matches))

	for _, groups := range matches {
		paths = append(paths, strings.TrimPrefix(groups[1], StatePrefix))
	}

	return paths
}

// Stringify renders a value for template substitution. Strings are used as
// is; everything else is JSON encoded.
func Stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}

	return string(encoded)
}

// Render executes a Go text/template against data and coerces the output
// into JSON, a number, a boolean or a string, in that order.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("transform").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(limit int) int {
				if limit <= 0 {
					return 0
				}

				num := make([]byte, 1)
				if _, err := rand.Read(num); err != nil {
					return 0
				}

				return int(num[0]) % limit
			},
			"json": func(v any) string {
				encoded, err := json.Marshal(v)
				if err != nil {
					return ""
				}

				return string(encoded)
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		if err := json.Unmarshal([]byte(result), &jsonResult); err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}
