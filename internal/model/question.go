package model

import (
	"github.com/google/uuid"
)

// QuestionKind enumerates question types.
type QuestionKind string

const (
	KindSingleChoice QuestionKind = "single_choice"
	KindTrueFalse    QuestionKind = "true_false"
	// KindFreeText answers are graded manually and contribute nothing to the
	// automatic score.
	KindFreeText QuestionKind = "free_text"
)

// Question represents a single exam question.
type Question struct {
	ID            uuid.UUID    `json:"id"`
	ExamID        uuid.UUID    `json:"exam_id"`
	QuestionText  string       `json:"question_text"`
	Kind          QuestionKind `json:"kind"`
	Options       []string     `json:"options"`
	CorrectOption *string      `json:"correct_option,omitempty"`
	Marks         float64      `json:"marks"`
	OrderNum      int          `json:"order_num"`
}

// Evaluate reports whether answer is the correct option. Free-text answers
// are never auto-correct.
func (q *Question) Evaluate(answer string) bool {
	if q.Kind == KindFreeText || q.CorrectOption == nil {
		return false
	}
	return answer == *q.CorrectOption
}

// QuestionForTake is the question view sent to a student taking the exam,
// with the correct option stripped.
type QuestionForTake struct {
	ID           uuid.UUID    `json:"id"`
	QuestionText string       `json:"question_text"`
	Kind         QuestionKind `json:"kind"`
	Options      []string     `json:"options"`
	Marks        float64      `json:"marks"`
}

// ForTake strips grading data from a question.
func (q *Question) ForTake() QuestionForTake {
	return QuestionForTake{
		ID:           q.ID,
		QuestionText: q.QuestionText,
		Kind:         q.Kind,
		Options:      q.Options,
		Marks:        q.Marks,
	}
}
