package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"
)

var exprPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// renderValue substitutes ${...} expressions in a decoded JSON value against
// the environment. A string that is exactly one expression takes the
// expression's typed value; a string with embedded expressions stringifies
// each. Unresolved references are errors, surfaced as terminal by the
// executor.
func renderValue(v any, env map[string]any) (any, error) {
	switch tv := v.(type) {
	case string:
		return renderString(tv, env)
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			rendered, err := renderValue(item, env)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			rendered, err := renderValue(item, env)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

func renderString(s string, env map[string]any) (any, error) {
	matches := exprPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// whole-string expression keeps the resolved type
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		return evalExpr(s[matches[0][2]:matches[0][3]], env)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		val, err := evalExpr(s[m[2]:m[3]], env)
		if err != nil {
			return nil, err
		}
		frag, err := stringifyFragment(val)
		if err != nil {
			return nil, fmt.Errorf("expression %q: %w", s[m[2]:m[3]], err)
		}
		b.WriteString(frag)
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func evalExpr(expr string, env map[string]any) (any, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}
	val, err := jmespath.Search(expr, env)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", expr, err)
	}
	if val == nil {
		return nil, fmt.Errorf("unresolved reference %q", expr)
	}
	return val, nil
}

func stringifyFragment(v any) (string, error) {
	switch tv := v.(type) {
	case string:
		return tv, nil
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(tv), nil
	default:
		b, err := json.Marshal(tv)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// renderInput renders a step's input template into the JSON document sent to
// the tool. An absent template sends an empty object.
func renderInput(input json.RawMessage, env map[string]any) (json.RawMessage, error) {
	if len(input) == 0 {
		return json.RawMessage(`{}`), nil
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return nil, fmt.Errorf("invalid input template: %w", err)
	}
	rendered, err := renderValue(decoded, env)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(rendered)
	if err != nil {
		return nil, fmt.Errorf("marshal rendered input: %w", err)
	}
	return out, nil
}
