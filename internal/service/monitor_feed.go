package service

import (
	"context"
	"encoding/json"

	"github.com/examhall/examhall-backend/internal/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// MonitorPublisher pushes live session events to whoever is watching an
// exam (the staff WebSocket feed). Delivery is best-effort.
type MonitorPublisher interface {
	Publish(ctx context.Context, examID uuid.UUID, event MonitorEvent)
}

// MonitorEvent is one entry on an exam's live proctoring feed.
type MonitorEvent struct {
	Type           string    `json:"type"` // session_started | answer_saved | violation | disqualified | completed
	SessionID      uuid.UUID `json:"session_id"`
	StudentID      int       `json:"student_id"`
	ViolationType  string    `json:"violation_type,omitempty"`
	ViolationCount int64     `json:"violation_count,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Timestamp      int64     `json:"timestamp"`
}

// RedisMonitorFeed publishes monitor events on a per-exam Redis Pub/Sub
// channel.
type RedisMonitorFeed struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisMonitorFeed creates a new RedisMonitorFeed.
func NewRedisMonitorFeed(rdb *redis.Client, log zerolog.Logger) *RedisMonitorFeed {
	return &RedisMonitorFeed{
		rdb: rdb,
		log: log.With().Str("component", "monitor_feed").Logger(),
	}
}

func (f *RedisMonitorFeed) Publish(ctx context.Context, examID uuid.UUID, event MonitorEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	channel := config.CacheKey.ExamMonitorChannel(examID.String())
	if err := f.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		f.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("monitor publish failed")
	}
}

// NopMonitorFeed is a MonitorPublisher that drops events. Used in tests.
type NopMonitorFeed struct{}

func (NopMonitorFeed) Publish(context.Context, uuid.UUID, MonitorEvent) {}
