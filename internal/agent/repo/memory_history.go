package repo

import (
	"context"
	"sync"
	"time"

	"github.com/bookchat-core/server/internal/agent/model"
	"github.com/cloudwego/eino/schema"
)

// MemoryHistoryRepository keeps history in process memory. Used for local runs and tests.
type MemoryHistoryRepository struct {
	mu       sync.RWMutex
	sessions map[string][]model.HistoryRecord
}

func NewMemoryHistoryRepository() *MemoryHistoryRepository {
	return &MemoryHistoryRepository{sessions: make(map[string][]model.HistoryRecord)}
}

func (r *MemoryHistoryRepository) Append(_ context.Context, sessionID string, role schema.RoleType, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = append(r.sessions[sessionID], model.HistoryRecord{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (r *MemoryHistoryRepository) ReadAll(_ context.Context, sessionID string) ([]model.HistoryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.HistoryRecord, len(r.sessions[sessionID]))
	copy(out, r.sessions[sessionID])
	return out, nil
}

var _ model.HistoryRepository = (*MemoryHistoryRepository)(nil)
