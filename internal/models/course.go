package models

import "time"

// CourseStatus represents the lifecycle of a course.
type CourseStatus string

const (
	CourseStatusActive   CourseStatus = "ACTIVE"
	CourseStatusArchived CourseStatus = "ARCHIVED"
)

// LessonStatus represents the publication state of a lesson.
type LessonStatus string

const (
	LessonStatusPublished LessonStatus = "PUBLISHED"
	LessonStatusDraft     LessonStatus = "DRAFT"
)

// Course is owned by the course directory; this service only reads it.
type Course struct {
	ID        string       `db:"id" json:"id"`
	Title     string       `db:"title" json:"title"`
	TeacherID string       `db:"teacher_id" json:"teacher_id"`
	Status    CourseStatus `db:"status" json:"status"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}

// Lesson belongs to a course in the directory.
type Lesson struct {
	ID        string       `db:"id" json:"id"`
	CourseID  string       `db:"course_id" json:"course_id"`
	Title     string       `db:"title" json:"title"`
	Status    LessonStatus `db:"status" json:"status"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}

// LessonDetail enriches Lesson with its owning course and teacher.
type LessonDetail struct {
	Lesson
	CourseTitle  string       `db:"course_title" json:"course_title"`
	CourseStatus CourseStatus `db:"course_status" json:"course_status"`
	TeacherID    string       `db:"teacher_id" json:"teacher_id"`
}

// CourseEnrollmentStatus represents course-level membership state.
type CourseEnrollmentStatus string

const (
	CourseEnrollmentStatusActive  CourseEnrollmentStatus = "ACTIVE"
	CourseEnrollmentStatusDropped CourseEnrollmentStatus = "DROPPED"
)

// CourseEnrollment captures a student's active membership in a course.
type CourseEnrollment struct {
	ID         string                 `db:"id" json:"id"`
	UserID     string                 `db:"user_id" json:"user_id"`
	CourseID   string                 `db:"course_id" json:"course_id"`
	Status     CourseEnrollmentStatus `db:"status" json:"status"`
	EnrolledAt time.Time              `db:"enrolled_at" json:"enrolled_at"`
}
