package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openlearn/openlearn-api/internal/dto"
	"github.com/openlearn/openlearn-api/internal/models"
	appErrors "github.com/openlearn/openlearn-api/pkg/errors"
	"github.com/openlearn/openlearn-api/pkg/response"
)

type scheduleService interface {
	List(ctx context.Context, claims *models.JWTClaims, filter models.ScheduleFilter) ([]models.ScheduleDetail, error)
	Get(ctx context.Context, claims *models.JWTClaims, id string) (*dto.ScheduleDetailResponse, error)
	Create(ctx context.Context, claims *models.JWTClaims, req dto.CreateScheduleRequest) (*models.ScheduleDetail, error)
	Update(ctx context.Context, claims *models.JWTClaims, id string, req dto.UpdateScheduleRequest) (*models.ScheduleDetail, error)
	Delete(ctx context.Context, claims *models.JWTClaims, id string) error
	AddStudent(ctx context.Context, claims *models.JWTClaims, scheduleID string, req dto.AddStudentRequest) error
	Join(ctx context.Context, claims *models.JWTClaims, scheduleID string) error
	Calendar(ctx context.Context, claims *models.JWTClaims) ([]models.CalendarItem, error)
	ExportRoster(ctx context.Context, claims *models.JWTClaims, scheduleID, format string) (*dto.RosterExport, error)
}

// ScheduleHandler manages class session endpoints.
type ScheduleHandler struct {
	service scheduleService
}

// NewScheduleHandler constructs handler.
func NewScheduleHandler(svc scheduleService) *ScheduleHandler {
	return &ScheduleHandler{service: svc}
}

func parseDateParam(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, name+" must be RFC3339 or YYYY-MM-DD")
	}
	return &t, nil
}

// List godoc
// @Summary List visible schedules
// @Tags Schedules
// @Produce json
// @Param start_date query string false "Only schedules starting on or after this date"
// @Param end_date query string false "Only schedules starting on or before this date"
// @Success 200 {object} response.Envelope
// @Router /schedules [get]
func (h *ScheduleHandler) List(c *gin.Context) {
	var filter models.ScheduleFilter
	start, err := parseDateParam(c, "start_date")
	if err != nil {
		response.Error(c, err)
		return
	}
	end, err := parseDateParam(c, "end_date")
	if err != nil {
		response.Error(c, err)
		return
	}
	filter.StartDate = start
	filter.EndDate = end

	schedules, err := h.service.List(c.Request.Context(), claimsFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedules, nil)
}

// Get godoc
// @Summary Get schedule detail with enrolled students
// @Tags Schedules
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedules/{id} [get]
func (h *ScheduleHandler) Get(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Create godoc
// @Summary Create schedule
// @Tags Schedules
// @Accept json
// @Produce json
// @Param payload body dto.CreateScheduleRequest true "Schedule payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /schedules [post]
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req dto.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	schedule, err := h.service.Create(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, schedule)
}

// Update godoc
// @Summary Update schedule
// @Tags Schedules
// @Accept json
// @Produce json
// @Param id path string true "Schedule ID"
// @Param payload body dto.UpdateScheduleRequest true "Schedule payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedules/{id} [put]
func (h *ScheduleHandler) Update(c *gin.Context) {
	var req dto.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	schedule, err := h.service.Update(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedule, nil)
}

// Delete godoc
// @Summary Delete schedule and its enrollments
// @Tags Schedules
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedules/{id} [delete]
func (h *ScheduleHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), claimsFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AddStudent godoc
// @Summary Enroll a student into a schedule
// @Tags Schedules
// @Accept json
// @Produce json
// @Param id path string true "Schedule ID"
// @Param payload body dto.AddStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /schedules/{id}/students [post]
func (h *ScheduleHandler) AddStudent(c *gin.Context) {
	var req dto.AddStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.service.AddStudent(c.Request.Context(), claimsFromContext(c), c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, gin.H{"message": "student enrolled"}, nil)
}

// Join godoc
// @Summary Join a schedule as the authenticated student
// @Tags Schedules
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedules/{id}/join [post]
func (h *ScheduleHandler) Join(c *gin.Context) {
	if err := h.service.Join(c.Request.Context(), claimsFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, gin.H{"message": "enrolled"}, nil)
}

// Calendar godoc
// @Summary Upcoming joined schedules for the authenticated student
// @Tags Schedules
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /schedules/my/calendar [get]
func (h *ScheduleHandler) Calendar(c *gin.Context) {
	items, err := h.service.Calendar(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// ExportRoster godoc
// @Summary Export the enrolled roster as CSV or PDF
// @Tags Schedules
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Schedule ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedules/{id}/roster [get]
func (h *ScheduleHandler) ExportRoster(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	export, err := h.service.ExportRoster(c.Request.Context(), claimsFromContext(c), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.FileName+`"`)
	c.Data(http.StatusOK, export.ContentType, export.Content)
}
