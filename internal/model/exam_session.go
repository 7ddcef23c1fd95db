package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusInProgress   SessionStatus = "in_progress"
	SessionStatusCompleted    SessionStatus = "completed"
	SessionStatusDisqualified SessionStatus = "disqualified"
)

// Terminal reports whether the status is final. Terminal sessions are
// immutable: no answer writes, no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusDisqualified
}

// ExamSession represents one student's attempt at an exam. At most one
// in_progress session may exist per (exam, student); starting again resumes
// the existing one.
type ExamSession struct {
	ID        uuid.UUID     `json:"id"`
	ExamID    uuid.UUID     `json:"exam_id"`
	StudentID int           `json:"student_id"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Score     *float64      `json:"score,omitempty"`
	// QuestionOrder pins the question permutation chosen at creation so a
	// resumed session sees the same order as its first load.
	QuestionOrder    []uuid.UUID `json:"question_order,omitempty"`
	DisqualifyReason *string     `json:"disqualify_reason,omitempty"`
}

// SubmitAnswerRequest is the payload for POST /exam/submit-answer.
type SubmitAnswerRequest struct {
	SessionID  uuid.UUID `json:"session_id" binding:"required"`
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	Answer     string    `json:"answer"`
}

// LogViolationRequest is the payload for POST /exam/log-violation.
type LogViolationRequest struct {
	SessionID     uuid.UUID      `json:"session_id" binding:"required"`
	ViolationType string         `json:"violation_type" binding:"required,max=64"`
	Details       map[string]any `json:"details"`
}

// DisqualifyRequest is the payload for POST /exam/disqualify-session.
type DisqualifyRequest struct {
	SessionID uuid.UUID `json:"session_id" binding:"required"`
	Reason    string    `json:"reason" binding:"required,max=255"`
}
