package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlearn/openlearn-api/internal/dto"
	"github.com/openlearn/openlearn-api/internal/middleware"
	"github.com/openlearn/openlearn-api/internal/models"
	appErrors "github.com/openlearn/openlearn-api/pkg/errors"
	"github.com/openlearn/openlearn-api/pkg/response"
)

type scheduleServiceMock struct {
	listResp      []models.ScheduleDetail
	listErr       error
	lastFilter    models.ScheduleFilter
	getResp       *dto.ScheduleDetailResponse
	getErr        error
	createResp    *models.ScheduleDetail
	createErr     error
	updateResp    *models.ScheduleDetail
	updateErr     error
	deleteErr     error
	addStudentErr error
	joinErr       error
	calendarResp  []models.CalendarItem
	calendarErr   error
	exportResp    *dto.RosterExport
	exportErr     error
	lastFormat    string
}

func (m *scheduleServiceMock) List(ctx context.Context, claims *models.JWTClaims, filter models.ScheduleFilter) ([]models.ScheduleDetail, error) {
	m.lastFilter = filter
	return m.listResp, m.listErr
}

func (m *scheduleServiceMock) Get(ctx context.Context, claims *models.JWTClaims, id string) (*dto.ScheduleDetailResponse, error) {
	return m.getResp, m.getErr
}

func (m *scheduleServiceMock) Create(ctx context.Context, claims *models.JWTClaims, req dto.CreateScheduleRequest) (*models.ScheduleDetail, error) {
	return m.createResp, m.createErr
}

func (m *scheduleServiceMock) Update(ctx context.Context, claims *models.JWTClaims, id string, req dto.UpdateScheduleRequest) (*models.ScheduleDetail, error) {
	return m.updateResp, m.updateErr
}

func (m *scheduleServiceMock) Delete(ctx context.Context, claims *models.JWTClaims, id string) error {
	return m.deleteErr
}

func (m *scheduleServiceMock) AddStudent(ctx context.Context, claims *models.JWTClaims, scheduleID string, req dto.AddStudentRequest) error {
	return m.addStudentErr
}

func (m *scheduleServiceMock) Join(ctx context.Context, claims *models.JWTClaims, scheduleID string) error {
	return m.joinErr
}

func (m *scheduleServiceMock) Calendar(ctx context.Context, claims *models.JWTClaims) ([]models.CalendarItem, error) {
	return m.calendarResp, m.calendarErr
}

func (m *scheduleServiceMock) ExportRoster(ctx context.Context, claims *models.JWTClaims, scheduleID, format string) (*dto.RosterExport, error) {
	m.lastFormat = format
	return m.exportResp, m.exportErr
}

func newScheduleTestContext(t *testing.T, method, target string, body []byte, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var reader *bytes.Buffer
	if body != nil {
		reader = bytes.NewBuffer(body)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func TestScheduleHandlerListParsesDates(t *testing.T) {
	mockSvc := &scheduleServiceMock{listResp: []models.ScheduleDetail{{}}}
	h := NewScheduleHandler(mockSvc)

	c, w := newScheduleTestContext(t, http.MethodGet, "/schedules?start_date=2026-09-01&end_date=2026-09-30", nil,
		&models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mockSvc.lastFilter.StartDate)
	require.NotNil(t, mockSvc.lastFilter.EndDate)
	assert.Equal(t, time.September, mockSvc.lastFilter.StartDate.Month())
}

func TestScheduleHandlerListRejectsBadDate(t *testing.T) {
	h := NewScheduleHandler(&scheduleServiceMock{})

	c, w := newScheduleTestContext(t, http.MethodGet, "/schedules?start_date=not-a-date", nil,
		&models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	h.List(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScheduleHandlerGetNotFound(t *testing.T) {
	mockSvc := &scheduleServiceMock{getErr: appErrors.Clone(appErrors.ErrNotFound, "schedule not found")}
	h := NewScheduleHandler(mockSvc)

	c, w := newScheduleTestContext(t, http.MethodGet, "/schedules/ghost", nil,
		&models.JWTClaims{UserID: "s1", Role: models.RoleStudent})
	c.Params = gin.Params{{Key: "id", Value: "ghost"}}

	h.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, appErrors.ErrNotFound.Code, envelope.Error.Code)
}

func TestScheduleHandlerCreate(t *testing.T) {
	mockSvc := &scheduleServiceMock{createResp: &models.ScheduleDetail{Schedule: models.Schedule{ID: "sch-1"}}}
	h := NewScheduleHandler(mockSvc)

	payload, _ := json.Marshal(dto.CreateScheduleRequest{
		LessonID:  "l1",
		Title:     "Live session",
		StartTime: time.Now().UTC().Add(time.Hour),
		EndTime:   time.Now().UTC().Add(2 * time.Hour),
	})
	c, w := newScheduleTestContext(t, http.MethodPost, "/schedules", payload,
		&models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})

	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestScheduleHandlerCreateInvalidBody(t *testing.T) {
	h := NewScheduleHandler(&scheduleServiceMock{})

	c, w := newScheduleTestContext(t, http.MethodPost, "/schedules", []byte(`{"lesson_id":`),
		&models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})

	h.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScheduleHandlerUpdateForbidden(t *testing.T) {
	mockSvc := &scheduleServiceMock{updateErr: appErrors.Clone(appErrors.ErrForbidden, "you do not own the course for this schedule")}
	h := NewScheduleHandler(mockSvc)

	payload, _ := json.Marshal(dto.UpdateScheduleRequest{})
	c, w := newScheduleTestContext(t, http.MethodPut, "/schedules/sch-1", payload,
		&models.JWTClaims{UserID: "t2", Role: models.RoleTeacher})
	c.Params = gin.Params{{Key: "id", Value: "sch-1"}}

	h.Update(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestScheduleHandlerDelete(t *testing.T) {
	h := NewScheduleHandler(&scheduleServiceMock{})

	c, w := newScheduleTestContext(t, http.MethodDelete, "/schedules/sch-1", nil,
		&models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})
	c.Params = gin.Params{{Key: "id", Value: "sch-1"}}

	h.Delete(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestScheduleHandlerJoinCapacityRejected(t *testing.T) {
	mockSvc := &scheduleServiceMock{joinErr: appErrors.Clone(appErrors.ErrScheduleFull, "")}
	h := NewScheduleHandler(mockSvc)

	c, w := newScheduleTestContext(t, http.MethodPost, "/schedules/sch-1/join", nil,
		&models.JWTClaims{UserID: "s1", Role: models.RoleStudent})
	c.Params = gin.Params{{Key: "id", Value: "sch-1"}}

	h.Join(c)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, appErrors.ErrScheduleFull.Code, envelope.Error.Code)
}

func TestScheduleHandlerJoinDuplicateRejected(t *testing.T) {
	mockSvc := &scheduleServiceMock{joinErr: appErrors.Clone(appErrors.ErrAlreadyEnrolled, "")}
	h := NewScheduleHandler(mockSvc)

	c, w := newScheduleTestContext(t, http.MethodPost, "/schedules/sch-1/join", nil,
		&models.JWTClaims{UserID: "s1", Role: models.RoleStudent})
	c.Params = gin.Params{{Key: "id", Value: "sch-1"}}

	h.Join(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScheduleHandlerAddStudent(t *testing.T) {
	h := NewScheduleHandler(&scheduleServiceMock{})

	payload, _ := json.Marshal(dto.AddStudentRequest{StudentID: "s1"})
	c, w := newScheduleTestContext(t, http.MethodPost, "/schedules/sch-1/students", payload,
		&models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})
	c.Params = gin.Params{{Key: "id", Value: "sch-1"}}

	h.AddStudent(c)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestScheduleHandlerCalendar(t *testing.T) {
	mockSvc := &scheduleServiceMock{calendarResp: []models.CalendarItem{{LessonTitle: "Lesson"}}}
	h := NewScheduleHandler(mockSvc)

	c, w := newScheduleTestContext(t, http.MethodGet, "/schedules/my/calendar", nil,
		&models.JWTClaims{UserID: "s1", Role: models.RoleStudent})

	h.Calendar(c)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestScheduleHandlerExportRoster(t *testing.T) {
	mockSvc := &scheduleServiceMock{exportResp: &dto.RosterExport{
		FileName:    "roster-sch-1.csv",
		ContentType: "text/csv",
		Content:     []byte("Username,Full Name\n"),
	}}
	h := NewScheduleHandler(mockSvc)

	c, w := newScheduleTestContext(t, http.MethodGet, "/schedules/sch-1/roster", nil,
		&models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})
	c.Params = gin.Params{{Key: "id", Value: "sch-1"}}

	h.ExportRoster(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", mockSvc.lastFormat)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "roster-sch-1.csv")
}
