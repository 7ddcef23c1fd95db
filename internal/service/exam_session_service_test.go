package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/examhall/examhall-backend/internal/model"
	"github.com/examhall/examhall-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── In-memory stores ───────────────────────────────────────────────
// The fakes mirror the repository contracts, including pgx.ErrNoRows on
// misses and the compare-and-set behavior of Finalize.

type fakeExamStore struct {
	exams map[uuid.UUID]*model.Exam
}

func (f *fakeExamStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	e, ok := f.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

type fakeQuestionStore struct {
	questions []model.Question
}

func (f *fakeQuestionStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	var out []model.Question
	for _, q := range f.questions {
		if q.ExamID == examID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeQuestionStore) GetByID(_ context.Context, id uuid.UUID) (*model.Question, error) {
	for i := range f.questions {
		if f.questions[i].ID == id {
			cp := f.questions[i]
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*model.ExamSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[uuid.UUID]*model.ExamSession{}}
}

func (f *fakeSessionStore) GetByID(_ context.Context, id uuid.UUID) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) GetActive(_ context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ExamID == examID && s.StudentID == studentID && s.Status == model.SessionStatusInProgress {
			cp := *s
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeSessionStore) Create(_ context.Context, s *model.ExamSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.sessions {
		if existing.ExamID == s.ExamID && existing.StudentID == s.StudentID &&
			existing.Status == model.SessionStatusInProgress {
			return pgx.ErrNoRows // unique index conflict, DO NOTHING
		}
	}
	s.ID = uuid.New()
	s.StartedAt = time.Now()
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessionStore) Finalize(_ context.Context, id uuid.UUID, status model.SessionStatus, score *float64, reason *string) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status != model.SessionStatusInProgress {
		return nil, pgx.ErrNoRows
	}
	now := time.Now()
	s.Status = status
	s.Score = score
	s.DisqualifyReason = reason
	s.EndedAt = &now
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) ListExpired(_ context.Context, _ time.Duration) ([]model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ExamSession
	for _, s := range f.sessions {
		if s.Status == model.SessionStatusInProgress && s.StartedAt.Before(time.Now().Add(-time.Hour)) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) ListDisqualified(_ context.Context) ([]repository.DisqualifiedSession, error) {
	return nil, nil
}

type fakeAnswerStore struct {
	mu      sync.Mutex
	answers map[uuid.UUID]map[uuid.UUID]model.Answer
}

func newFakeAnswerStore() *fakeAnswerStore {
	return &fakeAnswerStore{answers: map[uuid.UUID]map[uuid.UUID]model.Answer{}}
}

func (f *fakeAnswerStore) Upsert(_ context.Context, a *model.Answer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answers[a.SessionID] == nil {
		f.answers[a.SessionID] = map[uuid.UUID]model.Answer{}
	}
	f.answers[a.SessionID][a.QuestionID] = *a
	return nil
}

func (f *fakeAnswerStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Answer
	for _, a := range f.answers[sessionID] {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAnswerStore) ListDetailedBySession(_ context.Context, sessionID uuid.UUID) ([]model.AnswerDetail, error) {
	answers, _ := f.ListBySession(context.Background(), sessionID)
	out := make([]model.AnswerDetail, 0, len(answers))
	for _, a := range answers {
		out = append(out, model.AnswerDetail{Answer: a})
	}
	return out, nil
}

type fakeViolationStore struct {
	mu         sync.Mutex
	violations map[uuid.UUID][]model.Violation

	// afterAppend, when set, runs after the row lands. Lets a test
	// interleave a competing transition mid-operation.
	afterAppend func()
}

func newFakeViolationStore() *fakeViolationStore {
	return &fakeViolationStore{violations: map[uuid.UUID][]model.Violation{}}
}

func (f *fakeViolationStore) Append(_ context.Context, v *model.Violation) error {
	f.mu.Lock()
	v.ID = int64(len(f.violations[v.SessionID]) + 1)
	v.CreatedAt = time.Now()
	f.violations[v.SessionID] = append(f.violations[v.SessionID], *v)
	hook := f.afterAppend
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeViolationStore) Counts(_ context.Context, sessionID uuid.UUID) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total, escalating int64
	for _, v := range f.violations[sessionID] {
		total++
		if v.Escalating {
			escalating++
		}
	}
	return total, escalating, nil
}

// ─── Fixture ────────────────────────────────────────────────────────

type engineFixture struct {
	engine     *ExamSessionService
	exams      *fakeExamStore
	questions  *fakeQuestionStore
	sessions   *fakeSessionStore
	answers    *fakeAnswerStore
	violations *fakeViolationStore
	exam       *model.Exam
	q          []model.Question
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	exam := &model.Exam{
		ID:              uuid.New(),
		Title:           "Algebra Midterm",
		DurationMinutes: 60,
		TotalMarks:      10,
		PassingMarks:    7,
		StartDate:       time.Now().Add(-time.Hour),
		EndDate:         time.Now().Add(time.Hour),
		OrderPolicy:     model.OrderPolicyFixed,
		MaxViolations:   3,
	}

	questions := []model.Question{
		{ID: uuid.New(), ExamID: exam.ID, QuestionText: "Q1", Kind: model.KindSingleChoice, Options: []string{"A", "B"}, CorrectOption: strPtr("A"), Marks: 2, OrderNum: 1},
		{ID: uuid.New(), ExamID: exam.ID, QuestionText: "Q2", Kind: model.KindSingleChoice, Options: []string{"A", "B"}, CorrectOption: strPtr("B"), Marks: 3, OrderNum: 2},
		{ID: uuid.New(), ExamID: exam.ID, QuestionText: "Q3", Kind: model.KindTrueFalse, Options: []string{"true", "false"}, CorrectOption: strPtr("true"), Marks: 5, OrderNum: 3},
	}

	f := &engineFixture{
		exams:      &fakeExamStore{exams: map[uuid.UUID]*model.Exam{exam.ID: exam}},
		questions:  &fakeQuestionStore{questions: questions},
		sessions:   newFakeSessionStore(),
		answers:    newFakeAnswerStore(),
		violations: newFakeViolationStore(),
		exam:       exam,
		q:          questions,
	}
	f.engine = NewExamSessionService(
		f.exams,
		f.questions,
		f.sessions,
		f.answers,
		f.violations,
		NewQuestionSetProvider(f.questions),
		NopAnswerCache{},
		NopMonitorFeed{},
		NopActivityLogger{},
		zerolog.Nop(),
	)
	return f
}

func (f *engineFixture) start(t *testing.T, studentID int) *StartResult {
	t.Helper()
	result, err := f.engine.StartOrResume(context.Background(), f.exam.ID, studentID)
	require.NoError(t, err)
	return result
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestStartOrResumeIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	first := f.start(t, 1)
	assert.False(t, first.Resumed)
	assert.Len(t, first.Exam.Questions, 3)
	assert.Equal(t, 3, first.MaxViolations)

	// Answer a question, then start again: same session, answer preserved.
	require.NoError(t, f.engine.SubmitAnswer(ctx, first.SessionID, 1, f.q[0].ID, "A"))

	second := f.start(t, 1)
	assert.True(t, second.Resumed)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, "A", second.SavedAnswers[f.q[0].ID.String()])
}

func TestStartOrResumePinsQuestionOrder(t *testing.T) {
	f := newEngineFixture(t)
	f.exam.OrderPolicy = model.OrderPolicyRandomized

	first := f.start(t, 1)
	second := f.start(t, 1)

	require.Len(t, second.Exam.Questions, 3)
	for i := range first.Exam.Questions {
		assert.Equal(t, first.Exam.Questions[i].ID, second.Exam.Questions[i].ID)
	}
}

func TestStartOrResumeWindowEnforcement(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.exam.StartDate = time.Now().Add(time.Hour)
	f.exam.EndDate = time.Now().Add(2 * time.Hour)
	_, err := f.engine.StartOrResume(ctx, f.exam.ID, 1)
	assert.ErrorIs(t, err, ErrExamNotAvailable)

	f.exam.StartDate = time.Now().Add(-2 * time.Hour)
	f.exam.EndDate = time.Now().Add(-time.Hour)
	_, err = f.engine.StartOrResume(ctx, f.exam.ID, 1)
	assert.ErrorIs(t, err, ErrExamNotAvailable)
}

func TestStartOrResumeUnknownExam(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.StartOrResume(context.Background(), uuid.New(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartOrResumeStripsCorrectOptions(t *testing.T) {
	f := newEngineFixture(t)
	result := f.start(t, 1)

	payload, err := json.Marshal(result.Exam)
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "correct_option")
	for _, q := range result.Exam.Questions {
		assert.NotEmpty(t, q.Options)
	}
}

func TestSubmitAnswerUpsert(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	session := f.start(t, 1)

	require.NoError(t, f.engine.SubmitAnswer(ctx, session.SessionID, 1, f.q[0].ID, "B"))
	require.NoError(t, f.engine.SubmitAnswer(ctx, session.SessionID, 1, f.q[0].ID, "A"))

	answers, err := f.answers.ListBySession(ctx, session.SessionID)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "A", answers[0].Answer)
	assert.True(t, answers[0].IsCorrect)

	// Overwrite with a wrong answer: is_correct must reflect the last value.
	require.NoError(t, f.engine.SubmitAnswer(ctx, session.SessionID, 1, f.q[0].ID, "B"))
	answers, _ = f.answers.ListBySession(ctx, session.SessionID)
	assert.False(t, answers[0].IsCorrect)
}

func TestSubmitAnswerAccessControl(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	session := f.start(t, 1)

	err := f.engine.SubmitAnswer(ctx, session.SessionID, 2, f.q[0].ID, "A")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSubmitAnswerUnknownQuestion(t *testing.T) {
	f := newEngineFixture(t)
	session := f.start(t, 1)

	err := f.engine.SubmitAnswer(context.Background(), session.SessionID, 1, uuid.New(), "A")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitAnswerTerminalImmutability(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	session := f.start(t, 1)

	_, err := f.engine.Submit(ctx, session.SessionID, 1)
	require.NoError(t, err)

	err = f.engine.SubmitAnswer(ctx, session.SessionID, 1, f.q[0].ID, "A")
	assert.ErrorIs(t, err, ErrSessionNotActive)
}

func TestSubmitScoresAndCompletes(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	session := f.start(t, 1)

	// Correct on Q1 (2 marks) and Q3 (5 marks), wrong on Q2.
	require.NoError(t, f.engine.SubmitAnswer(ctx, session.SessionID, 1, f.q[0].ID, "A"))
	require.NoError(t, f.engine.SubmitAnswer(ctx, session.SessionID, 1, f.q[1].ID, "A"))
	require.NoError(t, f.engine.SubmitAnswer(ctx, session.SessionID, 1, f.q[2].ID, "true"))

	receipt, err := f.engine.Submit(ctx, session.SessionID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, receipt.Status)
	assert.Equal(t, 7.0, receipt.Score)
	assert.Equal(t, 70.0, receipt.Percentage)
	assert.Equal(t, 10.0, receipt.TotalMarks)
	assert.True(t, receipt.Passed)

	stored, err := f.sessions.GetByID(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, stored.Status)
	require.NotNil(t, stored.Score)
	assert.Equal(t, 7.0, *stored.Score)
	assert.NotNil(t, stored.EndedAt)
}

func TestSubmitTwiceRejected(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	session := f.start(t, 1)

	_, err := f.engine.Submit(ctx, session.SessionID, 1)
	require.NoError(t, err)

	_, err = f.engine.Submit(ctx, session.SessionID, 1)
	assert.ErrorIs(t, err, ErrSessionFinalized)
}

func TestSubmitAfterWindowCloses(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	session := f.start(t, 1)

	require.NoError(t, f.engine.SubmitAnswer(ctx, session.SessionID, 1, f.q[0].ID, "A"))

	// Window closes mid-attempt: the in-flight session still submits.
	f.exam.EndDate = time.Now().Add(-time.Minute)

	receipt, err := f.engine.Submit(ctx, session.SessionID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, receipt.Score)
}

func TestRecordViolationEscalatesToDisqualification(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	session := f.start(t, 1)

	require.NoError(t, f.engine.SubmitAnswer(ctx, session.SessionID, 1, f.q[0].ID, "A"))

	for i := 0; i < 2; i++ {
		receipt, err := f.engine.RecordViolation(ctx, session.SessionID, 1, model.ViolationTabSwitch, nil)
		require.NoError(t, err)
		assert.False(t, receipt.Disqualified)
	}

	receipt, err := f.engine.RecordViolation(ctx, session.SessionID, 1, model.ViolationWindowMinimized, nil)
	require.NoError(t, err)
	assert.True(t, receipt.Disqualified)
	assert.Equal(t, int64(3), receipt.EscalatingCount)

	stored, err := f.sessions.GetByID(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusDisqualified, stored.Status)
	require.NotNil(t, stored.Score, "disqualified sessions keep the partial score")
	assert.Equal(t, 2.0, *stored.Score)
	require.NotNil(t, stored.DisqualifyReason)
}

func TestRecordViolationCeilingLosesRaceToSubmit(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	session := f.start(t, 1)

	require.NoError(t, f.engine.SubmitAnswer(ctx, session.SessionID, 1, f.q[0].ID, "A"))

	for i := 0; i < 2; i++ {
		_, err := f.engine.RecordViolation(ctx, session.SessionID, 1, model.ViolationTabSwitch, nil)
		require.NoError(t, err)
	}

	// The student submits between the ceiling check and the
	// disqualification transition.
	f.violations.afterAppend = func() {
		f.violations.afterAppend = nil
		_, err := f.engine.Submit(ctx, session.SessionID, 1)
		require.NoError(t, err)
	}

	receipt, err := f.engine.RecordViolation(ctx, session.SessionID, 1, model.ViolationTabSwitch, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), receipt.EscalatingCount)
	assert.False(t, receipt.Disqualified, "receipt must match the recorded outcome")

	stored, err := f.sessions.GetByID(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, stored.Status)
	assert.Nil(t, stored.DisqualifyReason)
}

func TestRecordViolationWarnOnlyTypesNeverDisqualify(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	session := f.start(t, 1)

	for i := 0; i < 10; i++ {
		receipt, err := f.engine.RecordViolation(ctx, session.SessionID, 1, model.ViolationRightClick, nil)
		require.NoError(t, err)
		assert.False(t, receipt.Disqualified)
		assert.Equal(t, int64(0), receipt.EscalatingCount)
	}

	stored, _ := f.sessions.GetByID(ctx, session.SessionID)
	assert.Equal(t, model.SessionStatusInProgress, stored.Status)
}

func TestRecordViolationAcceptedAfterTermination(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	session := f.start(t, 1)

	_, err := f.engine.Submit(ctx, session.SessionID, 1)
	require.NoError(t, err)

	// Late telemetry still lands in the audit log without erroring.
	receipt, err := f.engine.RecordViolation(ctx, session.SessionID, 1, model.ViolationTabSwitch, nil)
	require.NoError(t, err)
	assert.False(t, receipt.Disqualified)
	assert.Equal(t, int64(1), receipt.ViolationCount)

	stored, _ := f.sessions.GetByID(ctx, session.SessionID)
	assert.Equal(t, model.SessionStatusCompleted, stored.Status)
}

func TestDisqualifyIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	session := f.start(t, 1)

	first, err := f.engine.Disqualify(ctx, session.SessionID, 1, "Exceeded maximum tab switch violations")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusDisqualified, first.Status)
	firstEnded := first.EndedAt

	// Network retry: must not error, must not re-transition.
	second, err := f.engine.Disqualify(ctx, session.SessionID, 1, "retry")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusDisqualified, second.Status)
	assert.Equal(t, firstEnded, second.EndedAt)
	require.NotNil(t, second.DisqualifyReason)
	assert.Equal(t, "Exceeded maximum tab switch violations", *second.DisqualifyReason)
}

func TestAtMostOneFinalization(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	session := f.start(t, 1)

	require.NoError(t, f.engine.SubmitAnswer(ctx, session.SessionID, 1, f.q[0].ID, "A"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.engine.Submit(ctx, session.SessionID, 1)
	}()
	go func() {
		defer wg.Done()
		_, _ = f.engine.Disqualify(ctx, session.SessionID, 1, "race")
	}()
	wg.Wait()

	stored, err := f.sessions.GetByID(ctx, session.SessionID)
	require.NoError(t, err)
	assert.True(t, stored.Status.Terminal())
	require.NotNil(t, stored.Score)

	// The terminal state is stable: further calls observe the same status.
	view, err := f.engine.FetchResult(ctx, session.SessionID, 1, model.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, stored.Status, view.Session.Status)
}

func TestFetchResultAccessControl(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	session := f.start(t, 1)

	_, err := f.engine.FetchResult(ctx, session.SessionID, 2, model.RoleStudent)
	assert.ErrorIs(t, err, ErrForbidden)

	view, err := f.engine.FetchResult(ctx, session.SessionID, 99, model.RoleTeacher)
	require.NoError(t, err)
	assert.Equal(t, session.SessionID, view.Session.ID)
	assert.Equal(t, "Algebra Midterm", view.ExamTitle)

	view, err = f.engine.FetchResult(ctx, session.SessionID, 1, model.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, session.SessionID, view.Session.ID)
}

func TestFetchResultUnknownSession(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.FetchResult(context.Background(), uuid.New(), 1, model.RoleAdmin)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinalizeExpired(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	session := f.start(t, 1)

	require.NoError(t, f.engine.SubmitAnswer(ctx, session.SessionID, 1, f.q[2].ID, "true"))

	// Backdate the session past its deadline.
	f.sessions.mu.Lock()
	f.sessions.sessions[session.SessionID].StartedAt = time.Now().Add(-2 * time.Hour)
	f.sessions.mu.Unlock()

	finalized, err := f.engine.FinalizeExpired(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, finalized)

	stored, _ := f.sessions.GetByID(ctx, session.SessionID)
	assert.Equal(t, model.SessionStatusCompleted, stored.Status)
	require.NotNil(t, stored.Score)
	assert.Equal(t, 5.0, *stored.Score)

	// A second sweep finds nothing.
	finalized, err = f.engine.FinalizeExpired(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, finalized)
}
