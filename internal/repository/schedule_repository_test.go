package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlearn/openlearn-api/internal/models"
)

func newScheduleRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func scheduleDetailRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "lesson_id", "title", "meeting_url", "start_time", "end_time",
		"max_students", "description", "created_at", "updated_at",
		"lesson_title", "lesson_status", "course_id", "course_title", "course_status", "teacher_id",
		"enrolled_count",
	}).AddRow("sch-1", "l-1", "Session", nil, now.Add(time.Hour), now.Add(2*time.Hour),
		20, nil, now, now,
		"Lesson", models.LessonStatusPublished, "c-1", "Course", models.CourseStatusActive, "t-1",
		3)
}

func TestScheduleRepositoryListTeacherScope(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectQuery(`(?s)SELECT .+ FROM schedules s.+WHERE c\.teacher_id = \$1 ORDER BY s\.start_time ASC`).
		WithArgs("t-1").
		WillReturnRows(scheduleDetailRows())

	list, err := repo.List(context.Background(), ScheduleScope{TeacherID: "t-1"}, models.ScheduleFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].EnrolledCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryListDateWindow(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	start := time.Now().UTC()
	end := start.Add(48 * time.Hour)
	mock.ExpectQuery(`WHERE s\.start_time >= \$1 AND s\.start_time <= \$2 ORDER BY s\.start_time ASC`).
		WithArgs(start, end).
		WillReturnRows(scheduleDetailRows())

	list, err := repo.List(context.Background(), ScheduleScope{}, models.ScheduleFilter{StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryFindDetailStudentScope(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectQuery(`WHERE s\.id = \$1 AND c\.status = 'ACTIVE' AND l\.status = 'PUBLISHED' AND EXISTS`).
		WithArgs("sch-1", "stu-1").
		WillReturnRows(scheduleDetailRows())

	detail, err := repo.FindDetailByID(context.Background(), ScheduleScope{StudentID: "stu-1"}, "sch-1")
	require.NoError(t, err)
	assert.Equal(t, "sch-1", detail.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryFindDetailInvisible(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectQuery(`WHERE s\.id = \$1 AND c\.teacher_id = \$2`).
		WithArgs("sch-1", "t-2").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindDetailByID(context.Background(), ScheduleScope{TeacherID: "t-2"}, "sch-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryEnroll(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT max_students FROM schedules WHERE id = $1 FOR UPDATE")).
		WithArgs("sch-1").
		WillReturnRows(sqlmock.NewRows([]string{"max_students"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM schedule_enrollments WHERE schedule_id = $1 AND status = $2")).
		WithArgs("sch-1", models.ScheduleEnrollmentStatusEnrolled).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("INSERT INTO schedule_enrollments").
		WithArgs(sqlmock.AnyArg(), "stu-1", "sch-1", models.ScheduleEnrollmentStatusEnrolled, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Enroll(context.Background(), &models.ScheduleEnrollment{UserID: "stu-1", ScheduleID: "sch-1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryEnrollFull(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT max_students FROM schedules WHERE id = $1 FOR UPDATE")).
		WithArgs("sch-1").
		WillReturnRows(sqlmock.NewRows([]string{"max_students"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM schedule_enrollments WHERE schedule_id = $1 AND status = $2")).
		WithArgs("sch-1", models.ScheduleEnrollmentStatusEnrolled).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	err := repo.Enroll(context.Background(), &models.ScheduleEnrollment{UserID: "stu-1", ScheduleID: "sch-1"})
	assert.ErrorIs(t, err, ErrScheduleFull)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryEnrollDuplicate(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT max_students FROM schedules WHERE id = $1 FOR UPDATE")).
		WithArgs("sch-1").
		WillReturnRows(sqlmock.NewRows([]string{"max_students"}).AddRow(20))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM schedule_enrollments WHERE schedule_id = $1 AND status = $2")).
		WithArgs("sch-1", models.ScheduleEnrollmentStatusEnrolled).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("INSERT INTO schedule_enrollments").
		WillReturnError(&pq.Error{Code: pgUniqueViolation})
	mock.ExpectRollback()

	err := repo.Enroll(context.Background(), &models.ScheduleEnrollment{UserID: "stu-1", ScheduleID: "sch-1"})
	assert.ErrorIs(t, err, ErrDuplicateEnrollment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryEnrollMissingSchedule(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT max_students FROM schedules WHERE id = $1 FOR UPDATE")).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.Enroll(context.Background(), &models.ScheduleEnrollment{UserID: "stu-1", ScheduleID: "ghost"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectExec("INSERT INTO schedules").
		WithArgs(sqlmock.AnyArg(), "l-1", "Session", nil, sqlmock.AnyArg(), sqlmock.AnyArg(), 20, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	start := time.Now().UTC().Add(time.Hour)
	schedule := &models.Schedule{LessonID: "l-1", Title: "Session", StartTime: start, EndTime: start.Add(time.Hour), MaxStudents: 20}
	require.NoError(t, repo.Create(context.Background(), schedule))
	assert.NotEmpty(t, schedule.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryUpdateNoRows(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectExec("UPDATE schedules SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	title := "Renamed"
	err := repo.Update(context.Background(), "ghost", UpdateScheduleParams{Title: &title})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryDeleteCascades(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedule_enrollments WHERE schedule_id = $1")).
		WithArgs("sch-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedules WHERE id = $1")).
		WithArgs("sch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), "sch-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedule_enrollments WHERE schedule_id = $1")).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedules WHERE id = $1")).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryIsEnrolled(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM schedule_enrollments WHERE user_id = $1 AND schedule_id = $2 LIMIT 1")).
		WithArgs("stu-1", "sch-1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	enrolled, err := repo.IsEnrolled(context.Background(), "stu-1", "sch-1")
	require.NoError(t, err)
	assert.True(t, enrolled)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM schedule_enrollments WHERE user_id = $1 AND schedule_id = $2 LIMIT 1")).
		WithArgs("stu-2", "sch-1").
		WillReturnError(sql.ErrNoRows)

	enrolled, err = repo.IsEnrolled(context.Background(), "stu-2", "sch-1")
	require.NoError(t, err)
	assert.False(t, enrolled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryCalendarForStudent(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "lesson_id", "title", "meeting_url", "start_time", "end_time",
		"max_students", "description", "created_at", "updated_at",
		"lesson_title", "course_title",
	}).AddRow("sch-1", "l-1", "Session", nil, now.Add(time.Hour), now.Add(2*time.Hour),
		20, nil, now, now, "Lesson", "Course")

	mock.ExpectQuery(`WHERE se\.user_id = \$1 AND se\.status = \$2 AND s\.end_time >= \$3`).
		WithArgs("stu-1", models.ScheduleEnrollmentStatusEnrolled, sqlmock.AnyArg()).
		WillReturnRows(rows)

	items, err := repo.CalendarForStudent(context.Background(), "stu-1", now)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Lesson", items[0].LessonTitle)
	assert.NoError(t, mock.ExpectationsWereMet())
}
