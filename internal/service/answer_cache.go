package service

import (
	"context"

	"github.com/examhall/examhall-backend/internal/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// AnswerCache mirrors a session's saved answers for cheap resume reads.
// All operations are best-effort: the database row is the source of truth
// and the engine falls back to it on a miss.
type AnswerCache interface {
	SaveAnswer(ctx context.Context, sessionID, questionID uuid.UUID, value string)
	ListAnswers(ctx context.Context, sessionID uuid.UUID) map[string]string
	FillAnswers(ctx context.Context, sessionID uuid.UUID, answers map[string]string)
	Clear(ctx context.Context, sessionID uuid.UUID)
}

// RedisAnswerCache keeps answers in a per-session Redis hash.
type RedisAnswerCache struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisAnswerCache creates a new RedisAnswerCache.
func NewRedisAnswerCache(rdb *redis.Client, log zerolog.Logger) *RedisAnswerCache {
	return &RedisAnswerCache{
		rdb: rdb,
		log: log.With().Str("component", "answer_cache").Logger(),
	}
}

func (c *RedisAnswerCache) SaveAnswer(ctx context.Context, sessionID, questionID uuid.UUID, value string) {
	key := config.CacheKey.SessionAnswersKey(sessionID.String())
	if err := c.rdb.HSet(ctx, key, questionID.String(), value).Err(); err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("answer mirror write failed")
	}
}

func (c *RedisAnswerCache) ListAnswers(ctx context.Context, sessionID uuid.UUID) map[string]string {
	key := config.CacheKey.SessionAnswersKey(sessionID.String())
	answers, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("answer mirror read failed")
		return nil
	}
	return answers
}

// FillAnswers repopulates the mirror after a cache miss (self-heal, so the
// next resume is fast again).
func (c *RedisAnswerCache) FillAnswers(ctx context.Context, sessionID uuid.UUID, answers map[string]string) {
	if len(answers) == 0 {
		return
	}
	key := config.CacheKey.SessionAnswersKey(sessionID.String())
	flat := make([]any, 0, len(answers)*2)
	for k, v := range answers {
		flat = append(flat, k, v)
	}
	_ = c.rdb.HSet(ctx, key, flat...).Err()
}

func (c *RedisAnswerCache) Clear(ctx context.Context, sessionID uuid.UUID) {
	key := config.CacheKey.SessionAnswersKey(sessionID.String())
	_ = c.rdb.Del(ctx, key).Err()
}

// NopAnswerCache is an AnswerCache that does nothing. Used in tests and
// when Redis is unavailable.
type NopAnswerCache struct{}

func (NopAnswerCache) SaveAnswer(context.Context, uuid.UUID, uuid.UUID, string)   {}
func (NopAnswerCache) ListAnswers(context.Context, uuid.UUID) map[string]string   { return nil }
func (NopAnswerCache) FillAnswers(context.Context, uuid.UUID, map[string]string)  {}
func (NopAnswerCache) Clear(context.Context, uuid.UUID)                           {}
