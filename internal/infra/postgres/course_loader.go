package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-session-service/internal/domain"
)

// CourseLoader reads courses from the table owned by the course service.
type CourseLoader struct {
	pool *pgxpool.Pool
}

func NewCourseLoader(pool *pgxpool.Pool) *CourseLoader {
	return &CourseLoader{pool: pool}
}

func (l *CourseLoader) LoadCourse(ctx context.Context, courseID string) (domain.Course, error) {
	var c domain.Course
	err := l.pool.QueryRow(ctx,
		`SELECT id, title, course_code, description, lecturer_id FROM courses WHERE id=$1`, courseID,
	).Scan(&c.ID, &c.Title, &c.CourseCode, &c.Description, &c.LecturerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Course{}, domain.ErrCourseNotFound
	}
	if err != nil {
		return domain.Course{}, fmt.Errorf("load course: %w", err)
	}
	return c, nil
}
