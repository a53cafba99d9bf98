package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/openlearn/openlearn-api/internal/models"
)

// DirectoryRepository reads course and lesson records plus course-level
// enrollments. The directory is owned elsewhere; this repository never
// mutates it.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository constructs the repository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// FindLessonDetail returns a lesson with its owning course and teacher.
func (r *DirectoryRepository) FindLessonDetail(ctx context.Context, lessonID string) (*models.LessonDetail, error) {
	const query = `SELECT l.id, l.course_id, l.title, l.status, l.created_at, l.updated_at,
        c.title AS course_title, c.status AS course_status, c.teacher_id
        FROM lessons l
        JOIN courses c ON c.id = l.course_id
        WHERE l.id = $1`
	var detail models.LessonDetail
	if err := r.db.GetContext(ctx, &detail, query, lessonID); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ScheduleOwner resolves the teacher that transitively owns a schedule
// (schedule -> lesson -> course -> teacher).
func (r *DirectoryRepository) ScheduleOwner(ctx context.Context, scheduleID string) (string, error) {
	const query = `SELECT c.teacher_id
        FROM schedules s
        JOIN lessons l ON l.id = s.lesson_id
        JOIN courses c ON c.id = l.course_id
        WHERE s.id = $1`
	var teacherID string
	if err := r.db.GetContext(ctx, &teacherID, query, scheduleID); err != nil {
		return "", err
	}
	return teacherID, nil
}

// HasActiveEnrollment checks whether the user holds an active course-level
// enrollment for the given course.
func (r *DirectoryRepository) HasActiveEnrollment(ctx context.Context, userID, courseID string) (bool, error) {
	const query = `SELECT 1 FROM course_enrollments
        WHERE user_id = $1 AND course_id = $2 AND status = $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, userID, courseID, models.CourseEnrollmentStatusActive); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check course enrollment: %w", err)
	}
	return true, nil
}
