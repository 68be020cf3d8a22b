package model

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// AgentState is the per-turn working memory of the graph.
// Concurrency model:
//   - Registered as graph local state via compose.WithGenLocalState, one instance per Invoke.
//   - Nodes only read it (compose.ProcessState) and return a Delta.
//   - Deltas are merged exclusively by the state post-handlers registered with the graph,
//     so Messages grows in execution order and is never edited in place.
type AgentState struct {
	BookID    string
	SessionID string

	// Messages holds the loaded history prefix followed by this turn's messages.
	Messages []*schema.Message
	// TurnStart is the index of the current turn's user message in Messages.
	TurnStart int

	Next        Route
	PendingCall *schema.ToolCall

	RoutingPasses int
	WebSearches   int

	// Accumulated total LLM cost (USD) across model invocations for this turn
	TotalCostUSD float64

	issuedCalls map[string]string
}

// Append adds messages to the transcript. A tool message must answer a tool call
// issued by an assistant routing decision earlier in the same turn.
func (s *AgentState) Append(msgs ...*schema.Message) error {
	if s.issuedCalls == nil {
		s.issuedCalls = make(map[string]string)
	}
	for _, m := range msgs {
		if m == nil {
			return fmt.Errorf("append: nil message")
		}
		switch m.Role {
		case schema.Tool:
			if strings.TrimSpace(m.ToolCallID) == "" {
				return fmt.Errorf("append: tool message without tool call id")
			}
			if _, ok := s.issuedCalls[m.ToolCallID]; !ok {
				return fmt.Errorf("append: tool message references unknown tool call %q", m.ToolCallID)
			}
		case schema.Assistant:
			for _, tc := range m.ToolCalls {
				s.issuedCalls[tc.ID] = tc.Function.Name
			}
		}
		s.Messages = append(s.Messages, m)
	}
	return nil
}

// Transcript returns a copy of the message slice; the messages themselves are shared and must not be edited.
func (s *AgentState) Transcript() []*schema.Message {
	out := make([]*schema.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// ToolNameFor resolves the tool a call id was issued for in this turn.
func (s *AgentState) ToolNameFor(callID string) (string, bool) {
	name, ok := s.issuedCalls[callID]
	return name, ok
}

// TurnInput is the public input of one graph invocation.
type TurnInput struct {
	SessionID string            `json:"session_id"`
	BookID    string            `json:"book_id"`
	Question  string            `json:"question"`
	History   []*schema.Message `json:"-"`
}

// Delta is what a node contributes to the state. Nodes never write state directly.
type Delta struct {
	Messages []*schema.Message
	Next     Route
	Call     *schema.ToolCall
	Usage    *ModelUsage
}

// Reply is the result of a completed turn.
type Reply struct {
	SessionID string
	Answer    string
	CostUSD   float64
	Passes    int
}
