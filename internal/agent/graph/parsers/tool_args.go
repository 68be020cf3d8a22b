package parsers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	errx "github.com/bookchat-core/server/internal/core/error"
	logx "github.com/bookchat-core/server/pkg/logger"
)

// basic safety limits to avoid pathological tool-call arguments
const (
	maxArgumentsLen = 16 * 1024
	maxQueryLen     = 2 * 1024
	maxErrSnippet   = 200
)

// ToolArguments is the decoded argument object of one tool call.
type ToolArguments map[string]any

// ParseToolArguments decodes the JSON object a model produced for a tool call.
// An empty string is treated as an empty object.
func ParseToolArguments(raw string) (args ToolArguments, err error) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "tool_args_parser").Msgf("panic recovered: %v", r)
			err = errx.New(fmt.Errorf("tool arguments parser panic"), http.StatusInternalServerError, errx.SystemErrorMessage)
			args = nil
		}
	}()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ToolArguments{}, nil
	}
	if len(raw) > maxArgumentsLen {
		return nil, fmt.Errorf("tool arguments too large (%d bytes)", len(raw))
	}
	if !utf8.ValidString(raw) {
		return nil, fmt.Errorf("tool arguments invalid utf8")
	}
	if !strings.HasPrefix(raw, "{") || !strings.HasSuffix(raw, "}") {
		return nil, fmt.Errorf("tool arguments not a json object: %s", safeSnippet(raw))
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w", err)
	}
	return ToolArguments(m), nil
}

// Query returns the trimmed "query" argument, coercing non-strings the way
// models occasionally emit them (numbers, single-element lists).
func (a ToolArguments) Query() (string, error) {
	v, ok := a["query"]
	if !ok {
		return "", fmt.Errorf("missing query argument")
	}
	var q string
	switch vv := v.(type) {
	case string:
		q = vv
	case []any:
		if len(vv) == 0 {
			return "", fmt.Errorf("empty query argument")
		}
		q = fmt.Sprint(vv[0])
	case nil:
		return "", fmt.Errorf("null query argument")
	default:
		q = fmt.Sprint(vv)
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return "", fmt.Errorf("empty query argument")
	}
	if utf8.RuneCountInString(q) > maxQueryLen {
		q = string([]rune(q)[:maxQueryLen])
	}
	return q, nil
}

// QueryArguments builds the canonical argument JSON for a single-query tool call.
func QueryArguments(query string) string {
	b, _ := json.Marshal(map[string]string{"query": query})
	return string(b)
}

func safeSnippet(s string) string {
	if len(s) <= maxErrSnippet {
		return s
	}
	return strings.ToValidUTF8(s[:maxErrSnippet], "")
}
