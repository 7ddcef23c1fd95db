package handler

import (
	"errors"
	"net/http"

	"github.com/examhall/examhall-backend/internal/middleware"
	"github.com/examhall/examhall-backend/internal/model"
	"github.com/examhall/examhall-backend/internal/response"
	"github.com/examhall/examhall-backend/internal/service"
	"github.com/examhall/examhall-backend/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ExamHandler handles the exam session lifecycle endpoints.
type ExamHandler struct {
	sessionService *service.ExamSessionService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(sessionService *service.ExamSessionService) *ExamHandler {
	return &ExamHandler{sessionService: sessionService}
}

// Start godoc
// POST /api/v1/exam/start/:examId
// Starts a new session for the exam, or resumes the active one.
func (h *ExamHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)

	examID, err := uuid.Parse(c.Param("examId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.sessionService.StartOrResume(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// SubmitAnswer godoc
// POST /api/v1/exam/submit-answer
// Saves one answer for the active session. Upsert: last write wins.
func (h *ExamHandler) SubmitAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err := h.sessionService.SubmitAnswer(c.Request.Context(), req.SessionID, claims.UserID, req.QuestionID, req.Answer)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"saved": true})
}

// LogViolation godoc
// POST /api/v1/exam/log-violation
// Appends an integrity violation record. Best-effort from the client's
// point of view, but the response carries the authoritative counts.
func (h *ExamHandler) LogViolation(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.LogViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	receipt, err := h.sessionService.RecordViolation(
		c.Request.Context(),
		req.SessionID,
		claims.UserID,
		model.ViolationType(req.ViolationType),
		req.Details,
	)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, receipt)
}

// Disqualify godoc
// POST /api/v1/exam/disqualify-session
// Client self-report of a crossed violation ceiling. Idempotent: repeat
// calls on a terminal session return the recorded state.
func (h *ExamHandler) Disqualify(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.DisqualifyRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.sessionService.Disqualify(c.Request.Context(), req.SessionID, claims.UserID, req.Reason)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session_id": session.ID,
		"status":     session.Status,
	})
}

// Submit godoc
// POST /api/v1/exam/submit/:sessionId
// Scores and completes the session.
func (h *ExamHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)

	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	receipt, err := h.sessionService.Submit(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, receipt)
}

// Results godoc
// GET /api/v1/exam/results/:sessionId
// Returns the session with enriched answers for review. Students may only
// fetch their own sessions; staff may fetch any.
func (h *ExamHandler) Results(c *gin.Context) {
	claims := middleware.GetClaims(c)

	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.sessionService.FetchResult(c.Request.Context(), sessionID, claims.UserID, claims.Role)
	if err != nil {
		failSessionError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// failSessionError maps session engine sentinels onto the API error
// taxonomy. Unknown errors become a generic 500 that is safe to retry.
func failSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrForbidden):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
	case errors.Is(err, service.ErrExamNotAvailable):
		response.Fail(c, http.StatusBadRequest, response.ErrExamNotAvailable)
	case errors.Is(err, service.ErrSessionNotActive):
		response.Fail(c, http.StatusConflict, response.ErrSessionNotActive)
	case errors.Is(err, service.ErrSessionFinalized):
		response.Fail(c, http.StatusConflict, response.ErrSessionFinalized)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
