package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/openlearn/openlearn-api/internal/models"
)

// Sentinel errors surfaced by the enrollment transaction. Services map
// these onto the API error taxonomy.
var (
	ErrScheduleFull        = errors.New("schedule capacity reached")
	ErrDuplicateEnrollment = errors.New("student already enrolled in schedule")
)

const pgUniqueViolation = "23505"

// ScheduleRepository handles persistence of schedules and their
// capacity-bounded enrollments.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository constructs the repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// ScheduleScope restricts reads to what the caller may see. Zero value
// means unrestricted (admin).
type ScheduleScope struct {
	// TeacherID limits results to schedules of courses the teacher owns.
	TeacherID string
	// StudentID limits results to published lessons of active courses
	// the student holds an active course enrollment for.
	StudentID string
}

const scheduleDetailColumns = `s.id, s.lesson_id, s.title, s.meeting_url, s.start_time, s.end_time,
        s.max_students, s.description, s.created_at, s.updated_at,
        l.title AS lesson_title, l.status AS lesson_status,
        c.id AS course_id, c.title AS course_title, c.status AS course_status, c.teacher_id,
        (SELECT COUNT(*) FROM schedule_enrollments se WHERE se.schedule_id = s.id AND se.status = 'ENROLLED') AS enrolled_count`

const scheduleDetailJoins = `FROM schedules s
        JOIN lessons l ON l.id = s.lesson_id
        JOIN courses c ON c.id = l.course_id`

func scheduleScopeConditions(scope ScheduleScope, args *[]interface{}) []string {
	var conditions []string
	if scope.TeacherID != "" {
		*args = append(*args, scope.TeacherID)
		conditions = append(conditions, fmt.Sprintf("c.teacher_id = $%d", len(*args)))
	}
	if scope.StudentID != "" {
		*args = append(*args, scope.StudentID)
		conditions = append(conditions, fmt.Sprintf(
			"c.status = 'ACTIVE' AND l.status = 'PUBLISHED' AND EXISTS (SELECT 1 FROM course_enrollments ce WHERE ce.user_id = $%d AND ce.course_id = c.id AND ce.status = 'ACTIVE')",
			len(*args)))
	}
	return conditions
}

// List returns schedules visible within the scope, ordered by start time.
func (r *ScheduleRepository) List(ctx context.Context, scope ScheduleScope, filter models.ScheduleFilter) ([]models.ScheduleDetail, error) {
	var args []interface{}
	conditions := scheduleScopeConditions(scope, &args)

	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		conditions = append(conditions, fmt.Sprintf("s.start_time >= $%d", len(args)))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		conditions = append(conditions, fmt.Sprintf("s.start_time <= $%d", len(args)))
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf("SELECT %s %s%s ORDER BY s.start_time ASC", scheduleDetailColumns, scheduleDetailJoins, clause)

	var schedules []models.ScheduleDetail
	if err := r.db.SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

// FindDetailByID returns one schedule visible within the scope.
// Invisible schedules surface as sql.ErrNoRows so callers cannot tell
// absence from lack of access.
func (r *ScheduleRepository) FindDetailByID(ctx context.Context, scope ScheduleScope, id string) (*models.ScheduleDetail, error) {
	args := []interface{}{id}
	conditions := append([]string{"s.id = $1"}, scheduleScopeConditions(scope, &args)...)

	query := fmt.Sprintf("SELECT %s %s WHERE %s", scheduleDetailColumns, scheduleDetailJoins, strings.Join(conditions, " AND "))

	var detail models.ScheduleDetail
	if err := r.db.GetContext(ctx, &detail, query, args...); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByID returns a schedule without visibility scoping.
func (r *ScheduleRepository) FindByID(ctx context.Context, id string) (*models.Schedule, error) {
	const query = `SELECT id, lesson_id, title, meeting_url, start_time, end_time, max_students, description, created_at, updated_at
        FROM schedules WHERE id = $1`
	var schedule models.Schedule
	if err := r.db.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// ListEnrolledStudents returns schedule members with user context.
func (r *ScheduleRepository) ListEnrolledStudents(ctx context.Context, scheduleID string) ([]models.EnrolledStudent, error) {
	const query = `SELECT se.user_id, u.username, u.full_name, se.status, se.enrolled_at
        FROM schedule_enrollments se
        JOIN users u ON u.id = se.user_id
        WHERE se.schedule_id = $1 AND se.status = $2
        ORDER BY se.enrolled_at ASC`
	var students []models.EnrolledStudent
	if err := r.db.SelectContext(ctx, &students, query, scheduleID, models.ScheduleEnrollmentStatusEnrolled); err != nil {
		return nil, fmt.Errorf("list enrolled students: %w", err)
	}
	return students, nil
}

// IsEnrolled checks for an existing enrollment of the user in the schedule.
func (r *ScheduleRepository) IsEnrolled(ctx context.Context, userID, scheduleID string) (bool, error) {
	const query = `SELECT 1 FROM schedule_enrollments WHERE user_id = $1 AND schedule_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, userID, scheduleID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check schedule enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new schedule.
func (r *ScheduleRepository) Create(ctx context.Context, schedule *models.Schedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now
	const query = `INSERT INTO schedules (id, lesson_id, title, meeting_url, start_time, end_time, max_students, description, created_at, updated_at)
        VALUES (:id, :lesson_id, :title, :meeting_url, :start_time, :end_time, :max_students, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, schedule); err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// UpdateScheduleParams groups the mutable schedule columns. Nil fields are
// left unchanged.
type UpdateScheduleParams struct {
	Title       *string
	MeetingURL  *string
	StartTime   *time.Time
	EndTime     *time.Time
	MaxStudents *int
	Description *string
}

// Update applies a partial update, coalescing absent fields.
func (r *ScheduleRepository) Update(ctx context.Context, id string, params UpdateScheduleParams) error {
	const query = `UPDATE schedules SET
        title = COALESCE($2, title),
        meeting_url = COALESCE($3, meeting_url),
        start_time = COALESCE($4, start_time),
        end_time = COALESCE($5, end_time),
        max_students = COALESCE($6, max_students),
        description = COALESCE($7, description),
        updated_at = $8
        WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id,
		params.Title, params.MeetingURL, params.StartTime, params.EndTime,
		params.MaxStudents, params.Description, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update schedule rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes the schedule and cascades its enrollments in one
// transaction so no orphaned membership rows survive.
func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete schedule tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_enrollments WHERE schedule_id = $1`, id); err != nil {
		return fmt.Errorf("delete schedule enrollments: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete schedule rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete schedule tx: %w", err)
	}
	return nil
}

// Enroll inserts a schedule enrollment while holding a row lock on the
// schedule, so the capacity check and the insert are a single atomic unit.
// Concurrent joins against the same schedule serialize on the lock and the
// loser observes the winner's row in the recount.
func (r *ScheduleRepository) Enroll(ctx context.Context, enrollment *models.ScheduleEnrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.ScheduleEnrollmentStatusEnrolled
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enroll tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var maxStudents int
	if err := tx.GetContext(ctx, &maxStudents,
		`SELECT max_students FROM schedules WHERE id = $1 FOR UPDATE`, enrollment.ScheduleID); err != nil {
		return err
	}

	var enrolled int
	if err := tx.GetContext(ctx, &enrolled,
		`SELECT COUNT(*) FROM schedule_enrollments WHERE schedule_id = $1 AND status = $2`,
		enrollment.ScheduleID, models.ScheduleEnrollmentStatusEnrolled); err != nil {
		return fmt.Errorf("count schedule enrollments: %w", err)
	}
	if enrolled >= maxStudents {
		return ErrScheduleFull
	}

	const insert = `INSERT INTO schedule_enrollments (id, user_id, schedule_id, status, enrolled_at)
        VALUES (:id, :user_id, :schedule_id, :status, :enrolled_at)`
	if _, err := tx.NamedExecContext(ctx, insert, enrollment); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
			return ErrDuplicateEnrollment
		}
		return fmt.Errorf("insert schedule enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enroll tx: %w", err)
	}
	return nil
}

// CalendarForStudent returns the student's upcoming joined schedules with
// lesson and course titles, soonest first.
func (r *ScheduleRepository) CalendarForStudent(ctx context.Context, studentID string, from time.Time) ([]models.CalendarItem, error) {
	const query = `SELECT s.id, s.lesson_id, s.title, s.meeting_url, s.start_time, s.end_time,
        s.max_students, s.description, s.created_at, s.updated_at,
        l.title AS lesson_title, c.title AS course_title
        FROM schedule_enrollments se
        JOIN schedules s ON s.id = se.schedule_id
        JOIN lessons l ON l.id = s.lesson_id
        JOIN courses c ON c.id = l.course_id
        WHERE se.user_id = $1 AND se.status = $2 AND s.end_time >= $3
        ORDER BY s.start_time ASC`
	var items []models.CalendarItem
	if err := r.db.SelectContext(ctx, &items, query, studentID, models.ScheduleEnrollmentStatusEnrolled, from); err != nil {
		return nil, fmt.Errorf("student calendar: %w", err)
	}
	return items, nil
}
