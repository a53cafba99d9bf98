package models

import "time"

// Schedule is a bookable, time-boxed class session tied to a lesson.
type Schedule struct {
	ID          string    `db:"id" json:"id"`
	LessonID    string    `db:"lesson_id" json:"lesson_id"`
	Title       string    `db:"title" json:"title"`
	MeetingURL  *string   `db:"meeting_url" json:"meeting_url,omitempty"`
	StartTime   time.Time `db:"start_time" json:"start_time"`
	EndTime     time.Time `db:"end_time" json:"end_time"`
	MaxStudents int       `db:"max_students" json:"max_students"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ScheduleDetail enriches Schedule with lesson/course context and the
// current enrolled count. TeacherID is the owning teacher resolved through
// the lesson's course; the directory stays the source of truth.
type ScheduleDetail struct {
	Schedule
	EnrolledCount int          `db:"enrolled_count" json:"enrolled_count"`
	LessonTitle   string       `db:"lesson_title" json:"lesson_title"`
	LessonStatus  LessonStatus `db:"lesson_status" json:"lesson_status"`
	CourseID      string       `db:"course_id" json:"course_id"`
	CourseTitle   string       `db:"course_title" json:"course_title"`
	CourseStatus  CourseStatus `db:"course_status" json:"course_status"`
	TeacherID     string       `db:"teacher_id" json:"teacher_id"`
}

// ScheduleEnrollmentStatus is stored as an extensible enum; only ENROLLED
// is reachable today, cancellation is reserved for a future state.
type ScheduleEnrollmentStatus string

const (
	ScheduleEnrollmentStatusEnrolled ScheduleEnrollmentStatus = "ENROLLED"
)

// ScheduleEnrollment is a student's membership in one specific schedule.
type ScheduleEnrollment struct {
	ID         string                   `db:"id" json:"id"`
	UserID     string                   `db:"user_id" json:"user_id"`
	ScheduleID string                   `db:"schedule_id" json:"schedule_id"`
	Status     ScheduleEnrollmentStatus `db:"status" json:"status"`
	EnrolledAt time.Time                `db:"enrolled_at" json:"enrolled_at"`
}

// EnrolledStudent describes a member of a schedule in detail responses.
type EnrolledStudent struct {
	UserID     string                   `db:"user_id" json:"user_id"`
	Username   string                   `db:"username" json:"username"`
	FullName   string                   `db:"full_name" json:"full_name"`
	Status     ScheduleEnrollmentStatus `db:"status" json:"status"`
	EnrolledAt time.Time                `db:"enrolled_at" json:"enrolled_at"`
}

// ScheduleFilter provides filters for listing schedules.
type ScheduleFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
}

// CalendarItem is an upcoming joined schedule on a student's calendar.
type CalendarItem struct {
	Schedule
	LessonTitle string `db:"lesson_title" json:"lesson_title"`
	CourseTitle string `db:"course_title" json:"course_title"`
}
