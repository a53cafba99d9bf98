package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/openlearn/openlearn-api/internal/dto"
	"github.com/openlearn/openlearn-api/internal/models"
	"github.com/openlearn/openlearn-api/internal/repository"
	appErrors "github.com/openlearn/openlearn-api/pkg/errors"
	"github.com/openlearn/openlearn-api/pkg/export"
)

type scheduleRepository interface {
	List(ctx context.Context, scope repository.ScheduleScope, filter models.ScheduleFilter) ([]models.ScheduleDetail, error)
	FindDetailByID(ctx context.Context, scope repository.ScheduleScope, id string) (*models.ScheduleDetail, error)
	ListEnrolledStudents(ctx context.Context, scheduleID string) ([]models.EnrolledStudent, error)
	IsEnrolled(ctx context.Context, userID, scheduleID string) (bool, error)
	Create(ctx context.Context, schedule *models.Schedule) error
	Update(ctx context.Context, id string, params repository.UpdateScheduleParams) error
	Delete(ctx context.Context, id string) error
	Enroll(ctx context.Context, enrollment *models.ScheduleEnrollment) error
	CalendarForStudent(ctx context.Context, studentID string, from time.Time) ([]models.CalendarItem, error)
}

type directoryReader interface {
	FindLessonDetail(ctx context.Context, lessonID string) (*models.LessonDetail, error)
	ScheduleOwner(ctx context.Context, scheduleID string) (string, error)
	HasActiveEnrollment(ctx context.Context, userID, courseID string) (bool, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// ScheduleService orchestrates the schedule lifecycle and the
// capacity-bounded membership of students in schedules. Every method takes
// the acting principal explicitly; nothing is read from ambient state.
type ScheduleService struct {
	repo               scheduleRepository
	directory          directoryReader
	users              userReader
	cache              *CacheService
	metrics            *MetricsService
	validator          *validator.Validate
	logger             *zap.Logger
	defaultMaxStudents int
}

// NewScheduleService constructs ScheduleService.
func NewScheduleService(repo scheduleRepository, directory directoryReader, users userReader, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, defaultMaxStudents int) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultMaxStudents <= 0 {
		defaultMaxStudents = 20
	}
	return &ScheduleService{
		repo:               repo,
		directory:          directory,
		users:              users,
		cache:              cache,
		metrics:            metrics,
		validator:          validate,
		logger:             logger,
		defaultMaxStudents: defaultMaxStudents,
	}
}

const scheduleCachePrefix = "schedules:"

func listCacheKey(claims *models.JWTClaims, filter models.ScheduleFilter) string {
	start, end := "", ""
	if filter.StartDate != nil {
		start = filter.StartDate.UTC().Format(time.RFC3339)
	}
	if filter.EndDate != nil {
		end = filter.EndDate.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%slist:%s:%s:%s:%s", scheduleCachePrefix, claims.Role, claims.UserID, start, end)
}

func (s *ScheduleService) invalidateCache(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, scheduleCachePrefix+"*")
	}
}

// List returns schedules visible to the principal, ordered by start time,
// each decorated with its current enrolled count.
func (s *ScheduleService) List(ctx context.Context, claims *models.JWTClaims, filter models.ScheduleFilter) ([]models.ScheduleDetail, error) {
	key := listCacheKey(claims, filter)
	var cached []models.ScheduleDetail
	if s.cache != nil {
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return cached, nil
		}
	}

	schedules, err := s.repo.List(ctx, visibilityScope(claims), filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedules")
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, schedules, 0)
	}
	return schedules, nil
}

// Get returns a single schedule with its enrolled students. Schedules
// outside the principal's visibility surface as not found, so callers
// cannot probe for existence.
func (s *ScheduleService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*dto.ScheduleDetailResponse, error) {
	detail, err := s.repo.FindDetailByID(ctx, visibilityScope(claims), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}

	students, err := s.repo.ListEnrolledStudents(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolled students")
	}

	return &dto.ScheduleDetailResponse{ScheduleDetail: *detail, EnrolledStudents: students}, nil
}

// Create registers a new schedule for a lesson. Teachers may only create
// schedules for lessons of courses they own.
func (s *ScheduleService) Create(ctx context.Context, claims *models.JWTClaims, req dto.CreateScheduleRequest) (*models.ScheduleDetail, error) {
	if isStudent(claims) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students cannot create schedules")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}

	lesson, err := s.directory.FindLessonDetail(ctx, req.LessonID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}

	if !canCreateScheduleFor(claims, lesson.TeacherID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you do not own the course for this lesson")
	}

	if !req.StartTime.Before(req.EndTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start time must be before end time")
	}
	if req.StartTime.Before(time.Now().UTC()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start time must not be in the past")
	}

	maxStudents := req.MaxStudents
	if maxStudents <= 0 {
		maxStudents = s.defaultMaxStudents
	}

	schedule := &models.Schedule{
		LessonID:    req.LessonID,
		Title:       req.Title,
		MeetingURL:  req.MeetingURL,
		StartTime:   req.StartTime.UTC(),
		EndTime:     req.EndTime.UTC(),
		MaxStudents: maxStudents,
		Description: req.Description,
	}
	if err := s.repo.Create(ctx, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create schedule")
	}

	s.invalidateCache(ctx)

	detail, err := s.repo.FindDetailByID(ctx, repository.ScheduleScope{}, schedule.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load created schedule")
	}
	return detail, nil
}

// Update applies a partial update. The effective time window (stored values
// overlaid with the request) is always re-validated, so a lone start_time
// can never slip past a stored end_time.
func (s *ScheduleService) Update(ctx context.Context, claims *models.JWTClaims, id string, req dto.UpdateScheduleRequest) (*models.ScheduleDetail, error) {
	if isStudent(claims) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students cannot update schedules")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}

	detail, err := s.loadManagedSchedule(ctx, claims, id)
	if err != nil {
		return nil, err
	}

	effectiveStart := detail.StartTime
	if req.StartTime != nil {
		effectiveStart = req.StartTime.UTC()
	}
	effectiveEnd := detail.EndTime
	if req.EndTime != nil {
		effectiveEnd = req.EndTime.UTC()
	}
	if !effectiveStart.Before(effectiveEnd) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start time must be before end time")
	}

	params := repository.UpdateScheduleParams{
		Title:       req.Title,
		MeetingURL:  req.MeetingURL,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		MaxStudents: req.MaxStudents,
		Description: req.Description,
	}
	if err := s.repo.Update(ctx, id, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update schedule")
	}

	s.invalidateCache(ctx)

	updated, err := s.repo.FindDetailByID(ctx, repository.ScheduleScope{}, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load updated schedule")
	}
	return updated, nil
}

// Delete removes the schedule and all of its enrollments.
func (s *ScheduleService) Delete(ctx context.Context, claims *models.JWTClaims, id string) error {
	if isStudent(claims) {
		return appErrors.Clone(appErrors.ErrForbidden, "students cannot delete schedules")
	}

	if _, err := s.loadManagedSchedule(ctx, claims, id); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete schedule")
	}

	s.invalidateCache(ctx)
	return nil
}

// AddStudent enrolls a student on their behalf (teacher/admin only).
func (s *ScheduleService) AddStudent(ctx context.Context, claims *models.JWTClaims, scheduleID string, req dto.AddStudentRequest) error {
	if isStudent(claims) {
		return appErrors.Clone(appErrors.ErrForbidden, "students cannot add other students")
	}
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}

	detail, err := s.loadManagedSchedule(ctx, claims, scheduleID)
	if err != nil {
		return err
	}

	return s.enroll(ctx, detail, req.StudentID)
}

// Join enrolls the acting student into a schedule of an active course whose
// lesson is published, subject to the course-enrollment and capacity rules.
// There is no ownership check; any eligible student may join.
func (s *ScheduleService) Join(ctx context.Context, claims *models.JWTClaims, scheduleID string) error {
	if !isStudent(claims) {
		return appErrors.Clone(appErrors.ErrForbidden, "only students can join schedules")
	}

	detail, err := s.repo.FindDetailByID(ctx, repository.ScheduleScope{}, scheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}

	if detail.CourseStatus != models.CourseStatusActive || detail.LessonStatus != models.LessonStatusPublished {
		return appErrors.Clone(appErrors.ErrValidation, "schedule is not open for enrollment")
	}

	return s.enroll(ctx, detail, claims.UserID)
}

// enroll runs the shared precondition chain: capacity, eligibility,
// uniqueness, then the transactional insert which re-checks capacity and
// uniqueness under a row lock.
func (s *ScheduleService) enroll(ctx context.Context, detail *models.ScheduleDetail, studentID string) error {
	if detail.EnrolledCount >= detail.MaxStudents {
		s.metrics.RecordEnrollment(EnrollOutcomeFull)
		return appErrors.Clone(appErrors.ErrScheduleFull, "")
	}

	student, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return appErrors.Clone(appErrors.ErrValidation, "user is not a student")
	}

	eligible, err := s.directory.HasActiveEnrollment(ctx, studentID, detail.CourseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify course enrollment")
	}
	if !eligible {
		return appErrors.Clone(appErrors.ErrValidation, "student has no active enrollment in this course")
	}

	enrolled, err := s.repo.IsEnrolled(ctx, studentID, detail.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if enrolled {
		s.metrics.RecordEnrollment(EnrollOutcomeDuplicate)
		return appErrors.Clone(appErrors.ErrAlreadyEnrolled, "")
	}

	enrollment := &models.ScheduleEnrollment{
		UserID:     studentID,
		ScheduleID: detail.ID,
		Status:     models.ScheduleEnrollmentStatusEnrolled,
		EnrolledAt: time.Now().UTC(),
	}
	if err := s.repo.Enroll(ctx, enrollment); err != nil {
		switch {
		case errors.Is(err, repository.ErrScheduleFull):
			s.metrics.RecordEnrollment(EnrollOutcomeFull)
			return appErrors.Clone(appErrors.ErrScheduleFull, "")
		case errors.Is(err, repository.ErrDuplicateEnrollment):
			s.metrics.RecordEnrollment(EnrollOutcomeDuplicate)
			return appErrors.Clone(appErrors.ErrAlreadyEnrolled, "")
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		default:
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll student")
		}
	}

	s.metrics.RecordEnrollment(EnrollOutcomeEnrolled)
	s.invalidateCache(ctx)
	s.logger.Info("student enrolled",
		zap.String("schedule_id", detail.ID),
		zap.String("student_id", studentID))
	return nil
}

// Calendar returns the student's upcoming joined schedules.
func (s *ScheduleService) Calendar(ctx context.Context, claims *models.JWTClaims) ([]models.CalendarItem, error) {
	if !isStudent(claims) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students have a schedule calendar")
	}

	key := fmt.Sprintf("%scalendar:%s", scheduleCachePrefix, claims.UserID)
	var cached []models.CalendarItem
	if s.cache != nil {
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return cached, nil
		}
	}

	items, err := s.repo.CalendarForStudent(ctx, claims.UserID, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load calendar")
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, items, 0)
	}
	return items, nil
}

// ExportRoster renders the enrolled-student roster of a schedule as CSV or
// PDF for the owning teacher or an admin.
func (s *ScheduleService) ExportRoster(ctx context.Context, claims *models.JWTClaims, scheduleID, format string) (*dto.RosterExport, error) {
	if isStudent(claims) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students cannot export rosters")
	}

	detail, err := s.loadManagedSchedule(ctx, claims, scheduleID)
	if err != nil {
		return nil, err
	}

	students, err := s.repo.ListEnrolledStudents(ctx, scheduleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolled students")
	}

	table := export.Table{
		Columns: []string{"Username", "Full Name", "Status", "Enrolled At"},
	}
	for _, student := range students {
		table.Rows = append(table.Rows, []string{
			student.Username,
			student.FullName,
			string(student.Status),
			student.EnrolledAt.UTC().Format(time.RFC3339),
		})
	}

	switch format {
	case "", "csv":
		content, err := export.NewCSVExporter().Render(table)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
		}
		return &dto.RosterExport{
			FileName:    fmt.Sprintf("roster-%s.csv", scheduleID),
			ContentType: "text/csv",
			Content:     content,
		}, nil
	case "pdf":
		content, err := export.NewPDFExporter().Render(table, detail.Title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
		}
		return &dto.RosterExport{
			FileName:    fmt.Sprintf("roster-%s.pdf", scheduleID),
			ContentType: "application/pdf",
			Content:     content,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

// loadManagedSchedule resolves a schedule for a mutating operation and
// applies the ownership gate. Unlike reads, an existing schedule the
// teacher does not own is reported as forbidden, not as absent.
func (s *ScheduleService) loadManagedSchedule(ctx context.Context, claims *models.JWTClaims, id string) (*models.ScheduleDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, repository.ScheduleScope{}, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}

	if !canManageSchedule(claims, detail.TeacherID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you do not own the course for this schedule")
	}
	return detail, nil
}
