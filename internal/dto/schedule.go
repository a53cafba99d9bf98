package dto

import (
	"time"

	"github.com/openlearn/openlearn-api/internal/models"
)

// CreateScheduleRequest describes the payload for creating a schedule.
type CreateScheduleRequest struct {
	LessonID    string    `json:"lesson_id" validate:"required"`
	Title       string    `json:"title" validate:"required"`
	MeetingURL  *string   `json:"meeting_url,omitempty"`
	StartTime   time.Time `json:"start_time" validate:"required"`
	EndTime     time.Time `json:"end_time" validate:"required"`
	MaxStudents int       `json:"max_students" validate:"omitempty,gt=0"`
	Description *string   `json:"description,omitempty"`
}

// UpdateScheduleRequest carries a partial update; nil fields are left as-is.
type UpdateScheduleRequest struct {
	Title       *string    `json:"title,omitempty" validate:"omitempty,min=1"`
	MeetingURL  *string    `json:"meeting_url,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	MaxStudents *int       `json:"max_students,omitempty" validate:"omitempty,gt=0"`
	Description *string    `json:"description,omitempty"`
}

// AddStudentRequest enrolls a specific student on their behalf.
type AddStudentRequest struct {
	StudentID string `json:"student_id" validate:"required"`
}

// ScheduleDetailResponse is a single schedule with its members.
type ScheduleDetailResponse struct {
	models.ScheduleDetail
	EnrolledStudents []models.EnrolledStudent `json:"enrolled_students"`
}

// RosterExport is a rendered roster document.
type RosterExport struct {
	FileName    string
	ContentType string
	Content     []byte
}
