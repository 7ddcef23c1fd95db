package service

import (
	"math"

	"github.com/examhall/examhall-backend/internal/model"
	"github.com/google/uuid"
)

// ScoreAnswers derives a session's total score from its persisted answers
// and the exam's question definitions: the sum of marks over every answer
// whose is_correct flag is set. Free-text answers never have is_correct set
// and so contribute nothing; manual grading is not reflected here.
//
// Marks may be fractional. Accumulation happens in integer hundredths of a
// mark so repeated float addition cannot drift the total.
func ScoreAnswers(answers []model.Answer, questions []model.Question) float64 {
	marksByID := make(map[uuid.UUID]float64, len(questions))
	for _, q := range questions {
		marksByID[q.ID] = q.Marks
	}

	var hundredths int64
	for _, a := range answers {
		if !a.IsCorrect {
			continue
		}
		marks, ok := marksByID[a.QuestionID]
		if !ok {
			continue // question deleted after answering
		}
		hundredths += toHundredths(marks)
	}
	return float64(hundredths) / 100
}

// Percentage returns 100*score/total rounded to two decimals, with a zero
// total treated as 0 rather than dividing by zero.
func Percentage(score, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(score/total*100*100) / 100
}

// Passed compares score against the passing threshold in hundredths so that
// equality is exact for fractional marks.
func Passed(score, passingMarks float64) bool {
	return toHundredths(score) >= toHundredths(passingMarks)
}

func toHundredths(v float64) int64 {
	return int64(math.Round(v * 100))
}
