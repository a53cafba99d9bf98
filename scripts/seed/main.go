// Command seed populates a development database with demo accounts,
// a course with published lessons, and an upcoming schedule.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/openlearn/openlearn-api/pkg/config"
	"github.com/openlearn/openlearn-api/pkg/database"
)

func main() {
	var password string
	flag.StringVar(&password, "password", "password123", "password for all seeded accounts")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	adminID := seedUser(ctx, db, "admin@openlearn.dev", "admin", "Admin User", "ADMIN", string(hash))
	teacherID := seedUser(ctx, db, "teacher@openlearn.dev", "teacher", "Demo Teacher", "TEACHER", string(hash))
	studentID := seedUser(ctx, db, "student@openlearn.dev", "student", "Demo Student", "STUDENT", string(hash))

	courseID := uuid.NewString()
	mustExec(ctx, db, `INSERT INTO courses (id, title, teacher_id, status) VALUES ($1, $2, $3, 'ACTIVE') ON CONFLICT DO NOTHING`,
		courseID, "Introduction to Go", teacherID)

	lessonID := uuid.NewString()
	mustExec(ctx, db, `INSERT INTO lessons (id, course_id, title, status) VALUES ($1, $2, $3, 'PUBLISHED') ON CONFLICT DO NOTHING`,
		lessonID, courseID, "Concurrency Basics")

	mustExec(ctx, db, `INSERT INTO course_enrollments (id, course_id, user_id, status) VALUES ($1, $2, $3, 'ACTIVE') ON CONFLICT DO NOTHING`,
		uuid.NewString(), courseID, studentID)

	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour)
	mustExec(ctx, db, `INSERT INTO schedules (id, lesson_id, title, start_time, end_time, max_students) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT DO NOTHING`,
		uuid.NewString(), lessonID, "Live session: Concurrency Basics", start, start.Add(time.Hour), 20)

	fmt.Printf("seeded admin=%s teacher=%s student=%s course=%s\n", adminID, teacherID, studentID, courseID)
}

func seedUser(ctx context.Context, db *sqlx.DB, email, username, fullName, role, hash string) string {
	var id string
	err := db.GetContext(ctx, &id, `SELECT id FROM users WHERE email = $1`, email)
	if err == nil {
		return id
	}

	id = uuid.NewString()
	mustExec(ctx, db, `INSERT INTO users (id, email, username, password_hash, full_name, role, active) VALUES ($1, $2, $3, $4, $5, $6, TRUE)`,
		id, email, username, hash, fullName, role)
	return id
}

func mustExec(ctx context.Context, db *sqlx.DB, query string, args ...interface{}) {
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		log.Fatalf("seed exec failed: %v", err)
	}
}
