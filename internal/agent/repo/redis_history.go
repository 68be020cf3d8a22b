package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bookchat-core/server/internal/agent/model"
	errx "github.com/bookchat-core/server/internal/core/error"
	logx "github.com/bookchat-core/server/pkg/logger"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
)

// RedisHistoryRepository keeps each session as a Redis list of JSON records.
// RPUSH order is append order, so LRANGE already yields ascending timestamps.
type RedisHistoryRepository struct {
	rdb redis.Cmdable
	ttl time.Duration
	now func() time.Time
}

func NewRedisHistoryRepository(rdb redis.Cmdable, ttl time.Duration) *RedisHistoryRepository {
	return &RedisHistoryRepository{rdb: rdb, ttl: ttl, now: time.Now}
}

func (r *RedisHistoryRepository) sessionKey(sessionID string) string {
	return fmt.Sprintf("chat_history:%s:messages", sessionID)
}

func (r *RedisHistoryRepository) Append(ctx context.Context, sessionID string, role schema.RoleType, content string) error {
	rec := model.HistoryRecord{SessionID: sessionID, Role: role, Content: content, Timestamp: r.now().UTC()}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}
	key := r.sessionKey(sessionID)

	if err := r.rdb.RPush(ctx, key, b).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to push history record to redis")
		return errx.WrapRedis(err)
	}
	if r.ttl > 0 {
		if ok, err := r.rdb.Expire(ctx, key, r.ttl).Result(); err != nil {
			logx.Error().Err(err).Str("key", key).Msg("failed to set expire")
			return errx.WrapRedis(err)
		} else if !ok {
			logx.Warn().Str("key", key).Dur("ttl", r.ttl).Msg("failed to set TTL on history key")
		}
	}
	return nil
}

func (r *RedisHistoryRepository) ReadAll(ctx context.Context, sessionID string) ([]model.HistoryRecord, error) {
	key := r.sessionKey(sessionID)

	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []model.HistoryRecord{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load history from redis")
		return nil, errx.WrapRedis(err)
	}

	records := make([]model.HistoryRecord, 0, len(rows))
	for i, s := range rows {
		var rec model.HistoryRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			logx.Error().Err(err).Str("session_id", sessionID).Int("index", i).Msg("failed to unmarshal history record")
			return nil, fmt.Errorf("unmarshal history record at index %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

var _ model.HistoryRepository = (*RedisHistoryRepository)(nil)
