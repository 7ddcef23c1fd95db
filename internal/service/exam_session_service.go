package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/examhall/examhall-backend/internal/model"
	"github.com/examhall/examhall-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// ExamStore is the exam read access the engine needs.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

// SessionStore is the session persistence the engine drives. It is the only
// writer of session rows; Finalize must be an atomic compare-and-set on
// status and return pgx.ErrNoRows when the session is no longer in_progress.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	GetActive(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error)
	Create(ctx context.Context, s *model.ExamSession) error
	Finalize(ctx context.Context, id uuid.UUID, status model.SessionStatus, score *float64, reason *string) (*model.ExamSession, error)
	ListExpired(ctx context.Context, grace time.Duration) ([]model.ExamSession, error)
	ListDisqualified(ctx context.Context) ([]repository.DisqualifiedSession, error)
}

// AnswerStore is the answer persistence the engine drives.
type AnswerStore interface {
	Upsert(ctx context.Context, a *model.Answer) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error)
	ListDetailedBySession(ctx context.Context, sessionID uuid.UUID) ([]model.AnswerDetail, error)
}

// ViolationStore is the append-only anti-cheat log.
type ViolationStore interface {
	Append(ctx context.Context, v *model.Violation) error
	Counts(ctx context.Context, sessionID uuid.UUID) (total, escalating int64, err error)
}

// ExamSessionService owns the lifecycle of exam attempts: start/resume,
// answer upserts, violation ingestion, disqualification and finalization.
type ExamSessionService struct {
	exams      ExamStore
	questions  QuestionStore
	sessions   SessionStore
	answers    AnswerStore
	violations ViolationStore
	provider   *QuestionSetProvider
	cache      AnswerCache
	feed       MonitorPublisher
	activity   ActivityLogger
	log        zerolog.Logger
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(
	exams ExamStore,
	questions QuestionStore,
	sessions SessionStore,
	answers AnswerStore,
	violations ViolationStore,
	provider *QuestionSetProvider,
	cache AnswerCache,
	feed MonitorPublisher,
	activity ActivityLogger,
	log zerolog.Logger,
) *ExamSessionService {
	return &ExamSessionService{
		exams:      exams,
		questions:  questions,
		sessions:   sessions,
		answers:    answers,
		violations: violations,
		provider:   provider,
		cache:      cache,
		feed:       feed,
		activity:   activity,
		log:        log.With().Str("component", "session_engine").Logger(),
	}
}

// ─── StartOrResume ──────────────────────────────────────────────────

// StartResult is the payload returned when a session starts or resumes.
type StartResult struct {
	SessionID        uuid.UUID          `json:"session_id"`
	Resumed          bool               `json:"resumed"`
	StartedAt        time.Time          `json:"started_at"`
	RemainingSeconds float64            `json:"remaining_seconds"`
	MaxViolations    int                `json:"max_violations"`
	Exam             model.ExamSnapshot `json:"exam"`
	SavedAnswers     map[string]string  `json:"saved_answers"`
}

// StartOrResume creates a session for (exam, student) or resumes the
// in_progress one. Resume is idempotent: the same session id comes back and
// saved answers are preserved. The question order is pinned on the session
// at creation, so a resumed session sees the order of its first load.
func (s *ExamSessionService) StartOrResume(ctx context.Context, examID uuid.UUID, studentID int) (*StartResult, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}

	if !exam.AvailableAt(time.Now()) {
		return nil, ErrExamNotAvailable
	}

	// Resume path: an in_progress session already exists.
	existing, err := s.sessions.GetActive(ctx, examID, studentID)
	if err == nil {
		return s.buildStartResult(ctx, exam, existing, true)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing session: %w", err)
	}

	// New session: pick and pin the question order now.
	questions, err := s.provider.Provide(ctx, exam)
	if err != nil {
		return nil, err
	}
	order := make([]uuid.UUID, len(questions))
	for i, q := range questions {
		order[i] = q.ID
	}

	session := &model.ExamSession{
		ExamID:        examID,
		StudentID:     studentID,
		Status:        model.SessionStatusInProgress,
		QuestionOrder: order,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent start raced us; resume the winner's session.
			existing, fetchErr := s.sessions.GetActive(ctx, examID, studentID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
			}
			return s.buildStartResult(ctx, exam, existing, true)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.activity.Log(ctx, model.ActivityEvent{
		UserID:      studentID,
		Type:        model.ActivityExamStarted,
		Description: fmt.Sprintf("Started exam: %s", exam.Title),
		Metadata:    map[string]any{"exam_id": examID.String(), "session_id": session.ID.String()},
	})
	s.feed.Publish(ctx, examID, MonitorEvent{
		Type:      "session_started",
		SessionID: session.ID,
		StudentID: studentID,
		Timestamp: time.Now().Unix(),
	})

	return s.buildStartResult(ctx, exam, session, false)
}

// buildStartResult assembles the exam snapshot in the session's pinned
// order plus any answers already saved.
func (s *ExamSessionService) buildStartResult(ctx context.Context, exam *model.Exam, session *model.ExamSession, resumed bool) (*StartResult, error) {
	all, err := s.questions.ListByExam(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	byID := make(map[uuid.UUID]model.Question, len(all))
	for _, q := range all {
		byID[q.ID] = q
	}

	ordered := make([]model.QuestionForTake, 0, len(session.QuestionOrder))
	for _, id := range session.QuestionOrder {
		if q, ok := byID[id]; ok {
			ordered = append(ordered, q.ForTake())
		}
	}

	saved := map[string]string{}
	if resumed {
		saved = s.savedAnswers(ctx, session.ID)
	}

	remaining := time.Until(exam.Deadline(session.StartedAt))
	if remaining < 0 {
		remaining = 0
	}

	return &StartResult{
		SessionID:        session.ID,
		Resumed:          resumed,
		StartedAt:        session.StartedAt,
		RemainingSeconds: remaining.Seconds(),
		MaxViolations:    exam.MaxViolations,
		Exam: model.ExamSnapshot{
			ID:              exam.ID,
			Title:           exam.Title,
			Description:     exam.Description,
			DurationMinutes: exam.DurationMinutes,
			TotalMarks:      exam.TotalMarks,
			PassingMarks:    exam.PassingMarks,
			Questions:       ordered,
		},
		SavedAnswers: saved,
	}, nil
}

// savedAnswers reads the Redis mirror, falling back to the database on a
// miss and self-healing the mirror for the next resume.
func (s *ExamSessionService) savedAnswers(ctx context.Context, sessionID uuid.UUID) map[string]string {
	if cached := s.cache.ListAnswers(ctx, sessionID); len(cached) > 0 {
		return cached
	}

	rows, err := s.answers.ListBySession(ctx, sessionID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("load saved answers failed")
		return map[string]string{}
	}
	saved := make(map[string]string, len(rows))
	for _, a := range rows {
		saved[a.QuestionID.String()] = a.Answer
	}
	s.cache.FillAnswers(ctx, sessionID, saved)
	return saved
}

// ─── SubmitAnswer ───────────────────────────────────────────────────

// SubmitAnswer upserts the student's answer for one question, evaluating
// correctness immediately for objective kinds. Writes to terminal sessions
// are rejected with ErrSessionNotActive.
func (s *ExamSessionService) SubmitAnswer(ctx context.Context, sessionID uuid.UUID, studentID int, questionID uuid.UUID, value string) error {
	session, err := s.ownedSession(ctx, sessionID, studentID)
	if err != nil {
		return err
	}
	if session.Status != model.SessionStatusInProgress {
		return ErrSessionNotActive
	}

	question, err := s.questions.GetByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("get question: %w", err)
	}
	if question.ExamID != session.ExamID {
		return ErrNotFound
	}

	answer := &model.Answer{
		SessionID:  sessionID,
		QuestionID: questionID,
		Answer:     value,
		IsCorrect:  question.Evaluate(value),
	}
	if err := s.answers.Upsert(ctx, answer); err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}

	s.cache.SaveAnswer(ctx, sessionID, questionID, value)
	return nil
}

// ─── RecordViolation ────────────────────────────────────────────────

// ViolationReceipt reports the session's violation totals after an append,
// and whether the server disqualified the session as a result.
type ViolationReceipt struct {
	ViolationCount  int64 `json:"violation_count"`
	EscalatingCount int64 `json:"escalating_count"`
	Disqualified    bool  `json:"disqualified"`
}

// RecordViolation appends an integrity record. No status check: violations
// are accepted right up to and including the moment of disqualification.
// The engine counts escalating violations itself and disqualifies once the
// exam's ceiling is crossed — the client's own disqualify request is
// treated as advisory.
func (s *ExamSessionService) RecordViolation(ctx context.Context, sessionID uuid.UUID, studentID int, vType model.ViolationType, details map[string]any) (*ViolationReceipt, error) {
	session, err := s.ownedSession(ctx, sessionID, studentID)
	if err != nil {
		return nil, err
	}

	violation := &model.Violation{
		SessionID:  sessionID,
		Type:       vType,
		Details:    details,
		Escalating: vType.Escalating(),
	}
	if err := s.violations.Append(ctx, violation); err != nil {
		return nil, fmt.Errorf("append violation: %w", err)
	}

	total, escalating, err := s.violations.Counts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count violations: %w", err)
	}

	s.feed.Publish(ctx, session.ExamID, MonitorEvent{
		Type:           "violation",
		SessionID:      sessionID,
		StudentID:      studentID,
		ViolationType:  string(vType),
		ViolationCount: total,
		Timestamp:      time.Now().Unix(),
	})

	receipt := &ViolationReceipt{ViolationCount: total, EscalatingCount: escalating}

	if session.Status == model.SessionStatusInProgress {
		ceiling := s.ceiling(ctx, session.ExamID)
		if escalating >= int64(ceiling) {
			reason := fmt.Sprintf("Exceeded maximum violations (%d)", ceiling)
			finalized, err := s.disqualify(ctx, session, reason)
			if err != nil {
				return nil, err
			}
			// A concurrent submit may win the finalization race; report
			// the status that was actually recorded.
			receipt.Disqualified = finalized.Status == model.SessionStatusDisqualified
		}
	}

	return receipt, nil
}

func (s *ExamSessionService) ceiling(ctx context.Context, examID uuid.UUID) int {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil || exam.MaxViolations <= 0 {
		return 3
	}
	return exam.MaxViolations
}

// ─── Disqualify ─────────────────────────────────────────────────────

// Disqualify transitions an in_progress session to disqualified. Calling it
// on an already-terminal session is a safe no-op returning the recorded
// state, so client retries never error.
func (s *ExamSessionService) Disqualify(ctx context.Context, sessionID uuid.UUID, studentID int, reason string) (*model.ExamSession, error) {
	session, err := s.ownedSession(ctx, sessionID, studentID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return session, nil
	}
	return s.disqualify(ctx, session, reason)
}

// disqualify performs the CAS transition. The partial score over whatever
// answers exist is computed and stored so disqualified attempts remain
// auditable instead of carrying an ambiguous null score.
func (s *ExamSessionService) disqualify(ctx context.Context, session *model.ExamSession, reason string) (*model.ExamSession, error) {
	score, err := s.scoreSession(ctx, session)
	if err != nil {
		return nil, err
	}

	finalized, err := s.sessions.Finalize(ctx, session.ID, model.SessionStatusDisqualified, &score, &reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the finalization race; return the recorded terminal state.
			return s.sessions.GetByID(ctx, session.ID)
		}
		return nil, fmt.Errorf("finalize session: %w", err)
	}

	s.cache.Clear(ctx, session.ID)
	s.activity.Log(ctx, model.ActivityEvent{
		UserID:      session.StudentID,
		Type:        model.ActivityExamDisqualified,
		Description: fmt.Sprintf("Disqualified from exam: %s", reason),
		Metadata:    map[string]any{"exam_id": session.ExamID.String(), "session_id": session.ID.String()},
	})
	s.feed.Publish(ctx, session.ExamID, MonitorEvent{
		Type:      "disqualified",
		SessionID: session.ID,
		StudentID: session.StudentID,
		Reason:    reason,
		Timestamp: time.Now().Unix(),
	})

	s.log.Info().
		Str("session_id", session.ID.String()).
		Int("student_id", session.StudentID).
		Str("reason", reason).
		Msg("Session disqualified")

	return finalized, nil
}

// ─── Submit ─────────────────────────────────────────────────────────

// SubmitReceipt is returned on successful finalization.
type SubmitReceipt struct {
	SessionID    uuid.UUID           `json:"session_id"`
	Status       model.SessionStatus `json:"status"`
	Score        float64             `json:"score"`
	Percentage   float64             `json:"percentage"`
	TotalMarks   float64             `json:"total_marks"`
	PassingMarks float64             `json:"passing_marks"`
	Passed       bool                `json:"passed"`
}

// Submit scores all persisted answers and completes the session. Submission
// after the exam window closes is accepted for sessions that were already
// in_progress (in-flight grace); resubmission of a terminal session fails
// with ErrSessionFinalized. If a concurrent finalization wins the CAS race,
// the already-recorded terminal result is returned instead of double-scoring.
func (s *ExamSessionService) Submit(ctx context.Context, sessionID uuid.UUID, studentID int) (*SubmitReceipt, error) {
	session, err := s.ownedSession(ctx, sessionID, studentID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, ErrSessionFinalized
	}

	exam, err := s.exams.GetByID(ctx, session.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	score, err := s.scoreSession(ctx, session)
	if err != nil {
		return nil, err
	}

	finalized, err := s.sessions.Finalize(ctx, sessionID, model.SessionStatusCompleted, &score, nil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent Submit/Disqualify/timeout won; surface its result.
			terminal, fetchErr := s.sessions.GetByID(ctx, sessionID)
			if fetchErr != nil {
				return nil, fmt.Errorf("session finalized concurrently, fetch failed: %w", fetchErr)
			}
			return s.receiptFor(terminal, exam), nil
		}
		return nil, fmt.Errorf("finalize session: %w", err)
	}

	s.cache.Clear(ctx, sessionID)
	s.activity.Log(ctx, model.ActivityEvent{
		UserID:      studentID,
		Type:        model.ActivityExamCompleted,
		Description: fmt.Sprintf("Completed exam: %s", exam.Title),
		Metadata: map[string]any{
			"exam_id":    exam.ID.String(),
			"session_id": sessionID.String(),
			"score":      score,
		},
	})
	s.feed.Publish(ctx, exam.ID, MonitorEvent{
		Type:      "completed",
		SessionID: sessionID,
		StudentID: studentID,
		Timestamp: time.Now().Unix(),
	})

	return s.receiptFor(finalized, exam), nil
}

func (s *ExamSessionService) receiptFor(session *model.ExamSession, exam *model.Exam) *SubmitReceipt {
	var score float64
	if session.Score != nil {
		score = *session.Score
	}
	return &SubmitReceipt{
		SessionID:    session.ID,
		Status:       session.Status,
		Score:        score,
		Percentage:   Percentage(score, exam.TotalMarks),
		TotalMarks:   exam.TotalMarks,
		PassingMarks: exam.PassingMarks,
		Passed:       session.Status == model.SessionStatusCompleted && Passed(score, exam.PassingMarks),
	}
}

// scoreSession runs the scoring function over the session's persisted
// answers and the exam's question definitions.
func (s *ExamSessionService) scoreSession(ctx context.Context, session *model.ExamSession) (float64, error) {
	answers, err := s.answers.ListBySession(ctx, session.ID)
	if err != nil {
		return 0, fmt.Errorf("list answers: %w", err)
	}
	questions, err := s.questions.ListByExam(ctx, session.ExamID)
	if err != nil {
		return 0, fmt.Errorf("list questions: %w", err)
	}
	return ScoreAnswers(answers, questions), nil
}

// ─── FetchResult ────────────────────────────────────────────────────

// ResultView is the session record plus enriched answers for review.
type ResultView struct {
	Session        *model.ExamSession   `json:"session"`
	ExamTitle      string               `json:"exam_title"`
	TotalMarks     float64              `json:"total_marks"`
	PassingMarks   float64              `json:"passing_marks"`
	Answers        []model.AnswerDetail `json:"answers"`
	ViolationCount int64                `json:"violation_count"`
}

// FetchResult returns a session with its answers enriched by question data.
// Students may only fetch their own sessions; staff may fetch any.
func (s *ExamSessionService) FetchResult(ctx context.Context, sessionID uuid.UUID, requesterID int, role model.Role) (*ResultView, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	if !role.IsStaff() && session.StudentID != requesterID {
		return nil, ErrForbidden
	}

	exam, err := s.exams.GetByID(ctx, session.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	answers, err := s.answers.ListDetailedBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	total, _, err := s.violations.Counts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count violations: %w", err)
	}

	return &ResultView{
		Session:        session,
		ExamTitle:      exam.Title,
		TotalMarks:     exam.TotalMarks,
		PassingMarks:   exam.PassingMarks,
		Answers:        answers,
		ViolationCount: total,
	}, nil
}

// ListDisqualified returns disqualified sessions for staff review.
func (s *ExamSessionService) ListDisqualified(ctx context.Context) ([]repository.DisqualifiedSession, error) {
	return s.sessions.ListDisqualified(ctx)
}

// ─── Deadline enforcement ───────────────────────────────────────────

// FinalizeExpired completes every in_progress session whose deadline plus
// grace has passed, scoring whatever answers exist. Called periodically by
// the deadline sweeper; the client countdown is advisory only.
func (s *ExamSessionService) FinalizeExpired(ctx context.Context, grace time.Duration) (int, error) {
	expired, err := s.sessions.ListExpired(ctx, grace)
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}

	finalized := 0
	for i := range expired {
		session := &expired[i]

		score, err := s.scoreSession(ctx, session)
		if err != nil {
			s.log.Error().Err(err).Str("session_id", session.ID.String()).Msg("score expired session failed")
			continue
		}

		if _, err := s.sessions.Finalize(ctx, session.ID, model.SessionStatusCompleted, &score, nil); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue // finalized concurrently, nothing to do
			}
			s.log.Error().Err(err).Str("session_id", session.ID.String()).Msg("finalize expired session failed")
			continue
		}

		s.cache.Clear(ctx, session.ID)
		s.feed.Publish(ctx, session.ExamID, MonitorEvent{
			Type:      "completed",
			SessionID: session.ID,
			StudentID: session.StudentID,
			Timestamp: time.Now().Unix(),
		})
		finalized++
	}
	return finalized, nil
}

// ─── helpers ────────────────────────────────────────────────────────

// ownedSession fetches a session and verifies the student owns it.
func (s *ExamSessionService) ownedSession(ctx context.Context, sessionID uuid.UUID, studentID int) (*model.ExamSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.StudentID != studentID {
		return nil, ErrForbidden
	}
	return session, nil
}
