package model

import (
	"time"

	"github.com/google/uuid"
)

// OrderPolicy controls the question order students see.
type OrderPolicy string

const (
	OrderPolicyFixed      OrderPolicy = "fixed"
	OrderPolicyRandomized OrderPolicy = "randomized"
)

// Exam represents an exam definition. The session engine treats exams as
// read-only input; authoring lives elsewhere.
type Exam struct {
	ID              uuid.UUID   `json:"id"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	AuthorID        int         `json:"author_id"`
	DurationMinutes int         `json:"duration_minutes"`
	TotalMarks      float64     `json:"total_marks"`
	PassingMarks    float64     `json:"passing_marks"`
	StartDate       time.Time   `json:"start_date"`
	EndDate         time.Time   `json:"end_date"`
	OrderPolicy     OrderPolicy `json:"order_policy"`
	MaxViolations   int         `json:"max_violations"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// AvailableAt reports whether the exam window [start, end) contains t.
func (e *Exam) AvailableAt(t time.Time) bool {
	return !t.Before(e.StartDate) && t.Before(e.EndDate)
}

// Deadline returns the instant a session started at startedAt must be
// finished by. A session keeps its full duration even when it straddles
// end_date, so the window end is deliberately not clamped here.
func (e *Exam) Deadline(startedAt time.Time) time.Time {
	return startedAt.Add(time.Duration(e.DurationMinutes) * time.Minute)
}

// ExamSnapshot is the exam view returned to a student when a session starts
// or resumes. Correct options are never included.
type ExamSnapshot struct {
	ID              uuid.UUID         `json:"id"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	DurationMinutes int               `json:"duration_minutes"`
	TotalMarks      float64           `json:"total_marks"`
	PassingMarks    float64           `json:"passing_marks"`
	Questions       []QuestionForTake `json:"questions"`
}
