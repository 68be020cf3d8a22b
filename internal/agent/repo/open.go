package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/bookchat-core/server/internal/agent/model"
	pkgredis "github.com/bookchat-core/server/pkg/redis"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Open returns the history repository selected by cfg.Backend and a function releasing it.
func Open(ctx context.Context, cfg model.HistoryConfig, conv model.ConversationConfig, redisCfg pkgredis.Config) (model.HistoryRepository, func(), error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		r, err := NewSQLiteHistoryRepository(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	case BackendRedis:
		ttl, err := time.ParseDuration(conv.TTL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid CONVERSATION_TTL %q: %w", conv.TTL, err)
		}
		rdb, err := redisCfg.New(ctx)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisHistoryRepository(rdb, ttl), func() { _ = rdb.Close() }, nil
	case BackendMemory:
		return NewMemoryHistoryRepository(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}
