package conversations

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/bookchat-core/server/internal/agent/model"
)

// MessagesManager reads and writes a session's chat log around a turn.
type MessagesManager struct {
	historyRepo model.HistoryRepository
	maxHistory  int
}

func NewMessagesManager(historyRepo model.HistoryRepository, config model.ConversationConfig) *MessagesManager {
	return &MessagesManager{
		historyRepo: historyRepo,
		maxHistory:  config.MaxHistory,
	}
}

// LoadTranscript returns the session's stored user and assistant messages in
// order, keeping only the most recent maxHistory when a cap is configured.
func (mm *MessagesManager) LoadTranscript(ctx context.Context, sessionID string) ([]*schema.Message, error) {
	records, err := mm.historyRepo.ReadAll(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history for session %q: %w", sessionID, err)
	}
	messages := make([]*schema.Message, 0, len(records))
	for _, r := range records {
		if r.Content == "" {
			continue
		}
		switch r.Role {
		case schema.User, schema.Assistant:
			messages = append(messages, r.Message())
		}
	}
	return trimTail(messages, mm.maxHistory), nil
}

// History returns the raw records for the history endpoint.
func (mm *MessagesManager) History(ctx context.Context, sessionID string) ([]model.HistoryRecord, error) {
	return mm.historyRepo.ReadAll(ctx, sessionID)
}

func (mm *MessagesManager) SaveUser(ctx context.Context, sessionID, content string) error {
	return mm.historyRepo.Append(ctx, sessionID, schema.User, content)
}

func (mm *MessagesManager) SaveAssistant(ctx context.Context, sessionID, content string) error {
	return mm.historyRepo.Append(ctx, sessionID, schema.Assistant, content)
}

// ====================== Helper function ======================

// trimTail keeps at most max recent messages, starting on a user message so the
// replayed prefix never opens with an orphaned assistant reply.
func trimTail(messages []*schema.Message, max int) []*schema.Message {
	if max <= 0 || len(messages) <= max {
		return messages
	}
	source := messages[len(messages)-max:]
	for len(source) > 0 && source[0].Role != schema.User {
		source = source[1:]
	}
	result := make([]*schema.Message, len(source))
	copy(result, source)
	return result
}
