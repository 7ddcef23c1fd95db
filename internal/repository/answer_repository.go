package repository

import (
	"context"
	"encoding/json"

	"github.com/examhall/examhall-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AnswerRepository handles answer data access.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Upsert creates or overwrites the answer for (session, question). The
// primary key on (session_id, question_id) serializes racing writes to the
// same question; last write wins.
func (r *AnswerRepository) Upsert(ctx context.Context, a *model.Answer) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO answers (session_id, question_id, answer, is_correct)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer, is_correct = EXCLUDED.is_correct, updated_at = NOW()`,
		a.SessionID, a.QuestionID, a.Answer, a.IsCorrect,
	)
	return err
}

// ListBySession retrieves all answers for a session.
func (r *AnswerRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, question_id, answer, is_correct, updated_at
		 FROM answers WHERE session_id = $1`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.SessionID, &a.QuestionID, &a.Answer, &a.IsCorrect, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// ListDetailedBySession retrieves answers joined with their questions for
// result review.
func (r *AnswerRepository) ListDetailedBySession(ctx context.Context, sessionID uuid.UUID) ([]model.AnswerDetail, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.session_id, a.question_id, a.answer, a.is_correct, a.updated_at,
		        q.question_text, q.kind, q.options, q.correct_option, q.marks
		 FROM answers a
		 JOIN questions q ON q.id = a.question_id
		 WHERE a.session_id = $1
		 ORDER BY q.order_num, q.id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []model.AnswerDetail
	for rows.Next() {
		var d model.AnswerDetail
		var options []byte
		if err := rows.Scan(&d.SessionID, &d.QuestionID, &d.Answer.Answer, &d.IsCorrect, &d.UpdatedAt,
			&d.QuestionText, &d.Kind, &options, &d.CorrectOption, &d.Marks); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(options, &d.Options); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}
