package routing

import (
	"context"
	"regexp"
	"strings"

	"github.com/bookchat-core/server/internal/agent/graph/parsers"
	"github.com/bookchat-core/server/internal/agent/graph/tools"
	"github.com/bookchat-core/server/internal/agent/model"
	"github.com/cloudwego/eino/schema"
)

var (
	fillerWords = map[string]bool{
		"hello": true, "hi": true, "hey": true, "hiya": true, "yo": true, "there": true, "greetings": true,
		"thanks": true, "thank": true, "you": true, "thx": true, "ty": true, "cheers": true, "appreciate": true,
		"so": true, "much": true, "very": true, "a": true, "lot": true, "it": true, "that": true,
		"good": true, "morning": true, "afternoon": true, "evening": true, "night": true,
		"bye": true, "goodbye": true, "see": true, "later": true,
		"ok": true, "okay": true, "cool": true, "great": true, "nice": true, "awesome": true, "perfect": true, "got": true,
		"how": true, "are": true, "doing": true,
	}
	maxFillerWords = 6

	realtimePattern = regexp.MustCompile(`\b(weather|forecast|news|headlines?|today|tonight|tomorrow|yesterday|` +
		`right now|current|currently|latest|this (week|month|year)|stock prices?|exchange rates?|live scores?|breaking|` +
		`search (the )?(web|internet|online)|google (it|that|this|for))\b`)

	nonWord = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

// RuleDecider is a deterministic decider for offline runs and tests.
type RuleDecider struct{}

func NewRuleDecider() *RuleDecider {
	return &RuleDecider{}
}

func (RuleDecider) Decide(_ context.Context, _ string, transcript []*schema.Message) (Decision, error) {
	v := viewOf(transcript)

	last, toolName := v.lastEvidence()
	if last != nil {
		if toolName == model.ToolBookRetriever && tools.IsRetrievalSentinel(last.Content) && !v.used(model.ToolWebSearch) {
			return toolDecision(model.ToolWebSearch, parsers.QueryArguments(v.question), SourceRules), nil
		}
		return answer(SourceRules), nil
	}

	switch {
	case v.question == "" || IsFiller(v.question):
		return answer(SourceRules), nil
	case NeedsRealtime(v.question):
		return toolDecision(model.ToolWebSearch, parsers.QueryArguments(v.question), SourceRules), nil
	default:
		return toolDecision(model.ToolBookRetriever, parsers.QueryArguments(v.question), SourceRules), nil
	}
}

// IsFiller reports whether text is only a greeting, thanks or similar small talk.
func IsFiller(text string) bool {
	words := strings.Fields(strings.ToLower(nonWord.ReplaceAllString(text, " ")))
	if len(words) == 0 || len(words) > maxFillerWords {
		return false
	}
	for _, w := range words {
		if !fillerWords[w] {
			return false
		}
	}
	return true
}

// NeedsRealtime reports whether text asks for live or current information.
func NeedsRealtime(text string) bool {
	return realtimePattern.MatchString(strings.ToLower(text))
}
