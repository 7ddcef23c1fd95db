package service

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/examhall/examhall-backend/internal/model"
	"github.com/google/uuid"
)

// QuestionStore is the question read access the engine needs.
type QuestionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error)
}

// QuestionSetProvider supplies the question list for an exam, shuffled when
// the exam's ordering policy asks for it.
type QuestionSetProvider struct {
	questions QuestionStore
}

// NewQuestionSetProvider creates a new QuestionSetProvider.
func NewQuestionSetProvider(questions QuestionStore) *QuestionSetProvider {
	return &QuestionSetProvider{questions: questions}
}

// Provide returns the exam's questions in the order a new session should
// see them. A randomized exam gets a fresh permutation per call; the caller
// pins the result on the session so resumes replay the same order.
func (p *QuestionSetProvider) Provide(ctx context.Context, exam *model.Exam) ([]model.Question, error) {
	questions, err := p.questions.ListByExam(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	if exam.OrderPolicy == model.OrderPolicyRandomized {
		rand.Shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})
	}
	return questions, nil
}
