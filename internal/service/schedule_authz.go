package service

import (
	"github.com/openlearn/openlearn-api/internal/models"
	"github.com/openlearn/openlearn-api/internal/repository"
)

// The authorization gate is a set of pure decision functions over the
// acting principal and the owning teacher of the underlying course.
// Ownership itself is resolved through the course directory.

func isAdmin(claims *models.JWTClaims) bool {
	return claims != nil && claims.Role == models.RoleAdmin
}

func isTeacher(claims *models.JWTClaims) bool {
	return claims != nil && claims.Role == models.RoleTeacher
}

func isStudent(claims *models.JWTClaims) bool {
	return claims != nil && claims.Role == models.RoleStudent
}

// canManageSchedule decides whether the principal may mutate a schedule
// owned by ownerTeacherID (update, delete, add students, export roster).
func canManageSchedule(claims *models.JWTClaims, ownerTeacherID string) bool {
	if isAdmin(claims) {
		return true
	}
	return isTeacher(claims) && claims.UserID == ownerTeacherID
}

// canCreateScheduleFor decides whether the principal may create a schedule
// for a lesson owned by lessonTeacherID.
func canCreateScheduleFor(claims *models.JWTClaims, lessonTeacherID string) bool {
	return canManageSchedule(claims, lessonTeacherID)
}

// visibilityScope translates the principal into the read scope applied by
// the repository: admins see everything, teachers their own courses,
// students only published lessons of active courses they are enrolled in.
func visibilityScope(claims *models.JWTClaims) repository.ScheduleScope {
	switch {
	case isAdmin(claims):
		return repository.ScheduleScope{}
	case isTeacher(claims):
		return repository.ScheduleScope{TeacherID: claims.UserID}
	default:
		return repository.ScheduleScope{StudentID: claims.UserID}
	}
}
