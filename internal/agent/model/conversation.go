package model

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
)

// HistoryRepository is the append-only chat log keyed by session id.
type HistoryRepository interface {
	// Append stores one message for the session with the current timestamp.
	Append(ctx context.Context, sessionID string, role schema.RoleType, content string) error

	// ReadAll returns the session's records ordered by timestamp ascending.
	// An unknown session yields an empty slice, not an error.
	ReadAll(ctx context.Context, sessionID string) ([]HistoryRecord, error)
}

// HistoryRecord is one persisted chat message.
type HistoryRecord struct {
	SessionID string          `json:"session_id"`
	Role      schema.RoleType `json:"role"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
}

// Message converts the record into the transcript representation.
func (r HistoryRecord) Message() *schema.Message {
	return &schema.Message{Role: r.Role, Content: r.Content}
}
