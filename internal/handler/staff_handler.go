package handler

import (
	"net/http"

	"github.com/examhall/examhall-backend/internal/response"
	"github.com/examhall/examhall-backend/internal/service"
	"github.com/gin-gonic/gin"
)

// StaffHandler handles proctoring review endpoints for teachers/admins.
type StaffHandler struct {
	sessionService *service.ExamSessionService
}

// NewStaffHandler creates a new StaffHandler.
func NewStaffHandler(sessionService *service.ExamSessionService) *StaffHandler {
	return &StaffHandler{sessionService: sessionService}
}

// DisqualifiedSessions godoc
// GET /api/v1/staff/disqualified-sessions
// Lists disqualified sessions with student, exam and violation counts.
func (h *StaffHandler) DisqualifiedSessions(c *gin.Context) {
	sessions, err := h.sessionService.ListDisqualified(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"sessions": sessions})
}
