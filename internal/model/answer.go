package model

import (
	"time"

	"github.com/google/uuid"
)

// Answer holds one student's latest answer to one question. Keyed by
// (session_id, question_id) with last-write-wins upsert semantics.
type Answer struct {
	SessionID  uuid.UUID `json:"session_id"`
	QuestionID uuid.UUID `json:"question_id"`
	Answer     string    `json:"answer"`
	IsCorrect  bool      `json:"is_correct"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AnswerDetail is an answer joined with its question, enough for a result
// review UI to mark correct/incorrect/selected without further lookups.
type AnswerDetail struct {
	Answer
	QuestionText  string       `json:"question_text"`
	Kind          QuestionKind `json:"kind"`
	Options       []string     `json:"options"`
	CorrectOption *string      `json:"correct_option,omitempty"`
	Marks         float64      `json:"marks"`
}
