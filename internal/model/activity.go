package model

import "time"

// ActivityEvent is a fire-and-forget audit record. Events are queued to
// Redis and batch-persisted by a background worker; delivery is best-effort.
type ActivityEvent struct {
	UserID      int            `json:"user_id"`
	Type        string         `json:"activity_type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	Timestamp   int64          `json:"timestamp"`
}

// Activity event types emitted by the session engine.
const (
	ActivityExamStarted      = "exam_started"
	ActivityExamCompleted    = "exam_completed"
	ActivityExamDisqualified = "exam_disqualified"
	ActivityLogin            = "login"
)

// ActivityLog is a persisted activity row.
type ActivityLog struct {
	ID          int64          `json:"id"`
	UserID      int            `json:"user_id"`
	Type        string         `json:"activity_type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
}
