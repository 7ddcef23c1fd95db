package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/examhall/examhall-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DisqualifiedSession combines a disqualified session with student and exam
// data for the staff review list.
type DisqualifiedSession struct {
	SessionID        uuid.UUID  `json:"session_id"`
	ExamID           uuid.UUID  `json:"exam_id"`
	ExamTitle        string     `json:"exam_title"`
	StudentID        int        `json:"student_id"`
	StudentName      string     `json:"student_name"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at"`
	Score            *float64   `json:"score"`
	DisqualifyReason *string    `json:"disqualify_reason"`
	ViolationCount   int64      `json:"violation_count"`
}

// ExamSessionRepository handles exam session data access. It is the only
// writer of session rows.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

const sessionColumns = `id, exam_id, student_id, status, started_at, ended_at, score, question_order, disqualify_reason`

func scanSession(row interface{ Scan(dest ...any) error }) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	var order []byte
	err := row.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.Status, &s.StartedAt,
		&s.EndedAt, &s.Score, &order, &s.DisqualifyReason)
	if err != nil {
		return nil, err
	}
	if len(order) > 0 {
		if err := json.Unmarshal(order, &s.QuestionOrder); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// GetByID retrieves a session by its UUID.
func (r *ExamSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
}

// GetActive retrieves the in_progress session for an exam-student pair.
func (r *ExamSessionRepository) GetActive(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE exam_id = $1 AND student_id = $2 AND status = 'in_progress'`,
		examID, studentID))
}

// Create inserts a new in_progress session with its pinned question order.
// The partial unique index on (exam_id, student_id) WHERE status='in_progress'
// makes concurrent starts race-safe: the loser gets pgx.ErrNoRows and must
// refetch the active session.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession) error {
	order, err := json.Marshal(s.QuestionOrder)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (exam_id, student_id, status, question_order)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (exam_id, student_id) WHERE status = 'in_progress' DO NOTHING
		 RETURNING id, started_at`,
		s.ExamID, s.StudentID, model.SessionStatusInProgress, order,
	).Scan(&s.ID, &s.StartedAt)
}

// Finalize atomically transitions an in_progress session to a terminal
// status and records score and end time. Returns pgx.ErrNoRows if the
// session was not in_progress (already finalized, or absent).
func (r *ExamSessionRepository) Finalize(ctx context.Context, id uuid.UUID, status model.SessionStatus, score *float64, reason *string) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`UPDATE exam_sessions
		 SET status = $2, score = $3, disqualify_reason = $4, ended_at = NOW()
		 WHERE id = $1 AND status = 'in_progress'
		 RETURNING `+sessionColumns, id, status, score, reason))
}

// ListExpired returns in_progress sessions whose deadline (started_at +
// exam duration + grace) has passed, for the deadline sweeper.
func (r *ExamSessionRepository) ListExpired(ctx context.Context, grace time.Duration) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.exam_id, s.student_id, s.status, s.started_at,
		        s.ended_at, s.score, s.question_order, s.disqualify_reason
		 FROM exam_sessions s
		 JOIN exams e ON e.id = s.exam_id
		 WHERE s.status = 'in_progress'
		   AND s.started_at + make_interval(mins => e.duration_minutes) + make_interval(secs => $1) < NOW()`,
		grace.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.ExamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// ListDisqualified returns disqualified sessions with student and exam data,
// newest first.
func (r *ExamSessionRepository) ListDisqualified(ctx context.Context) ([]DisqualifiedSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.exam_id, e.title, s.student_id, u.name,
		        s.started_at, s.ended_at, s.score, s.disqualify_reason,
		        (SELECT COUNT(*) FROM anti_cheat_logs l WHERE l.session_id = s.id)
		 FROM exam_sessions s
		 JOIN exams e ON e.id = s.exam_id
		 JOIN users u ON u.id = s.student_id
		 WHERE s.status = 'disqualified'
		 ORDER BY s.ended_at DESC NULLS LAST`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DisqualifiedSession
	for rows.Next() {
		var d DisqualifiedSession
		if err := rows.Scan(&d.SessionID, &d.ExamID, &d.ExamTitle, &d.StudentID, &d.StudentName,
			&d.StartedAt, &d.EndedAt, &d.Score, &d.DisqualifyReason, &d.ViolationCount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
