package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/examhall/examhall-backend/internal/config"
	"github.com/examhall/examhall-backend/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ActivityLogger records audit events. Implementations must not block or
// fail the caller: activity logging is fire-and-forget by design.
type ActivityLogger interface {
	Log(ctx context.Context, event model.ActivityEvent)
}

// ActivityService queues activity events to Redis; a background worker
// batch-persists them to PostgreSQL.
type ActivityService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewActivityService creates a new ActivityService.
func NewActivityService(rdb *redis.Client, log zerolog.Logger) *ActivityService {
	return &ActivityService{
		rdb: rdb,
		log: log.With().Str("component", "activity_service").Logger(),
	}
}

// Log enqueues an event. Failures are logged and swallowed.
func (s *ActivityService) Log(ctx context.Context, event model.ActivityEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.rdb.LPush(ctx, config.WorkerKey.PersistActivityQueue, payload).Err(); err != nil {
		s.log.Warn().Err(err).Str("type", event.Type).Msg("activity enqueue failed")
	}
}

// NopActivityLogger drops events. Used in tests.
type NopActivityLogger struct{}

func (NopActivityLogger) Log(context.Context, model.ActivityEvent) {}
