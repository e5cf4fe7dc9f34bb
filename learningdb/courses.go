// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package learningdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeebo/errs"

	"storj.io/regionshard/driver"
	"storj.io/regionshard/topology"
)

// Course is a course with its derived rating.
type Course struct {
	CourseID     string
	Title        string
	Description  string
	InstructorID string
	Price        decimal.Decimal
	IsPublished  bool
	IsArchived   bool
	Rating       decimal.Decimal
	TotalRatings int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewCourse contains the fields of a course to create.
type NewCourse struct {
	Title        string
	Description  string
	InstructorID string
	Price        decimal.Decimal
}

// Lesson is a lesson of a course.
type Lesson struct {
	LessonID        string
	CourseID        string
	Title           string
	Position        int
	DurationMinutes int
	CreatedAt       time.Time
}

const courseColumns = `course_id, title, description, instructor_id, price, is_published, is_archived,
	rating, total_ratings, created_at, updated_at`

func scanCourse(row scanner) (course Course, err error) {
	err = row.Scan(&course.CourseID, &course.Title, &course.Description, &course.InstructorID,
		&course.Price, &course.IsPublished, &course.IsArchived, &course.Rating, &course.TotalRatings,
		&course.CreatedAt, &course.UpdatedAt)
	return course, err
}

// CreateCourse creates a course on the shard of region.
func (db *DB) CreateCourse(ctx context.Context, region topology.PartitionKey, create NewCourse) (_ Course, err error) {
	defer mon.Task()(&ctx)(&err)

	if create.Title == "" {
		return Course{}, Error.New("course title is required")
	}
	if create.Price.IsNegative() {
		return Course{}, Error.New("negative price")
	}

	now := db.now()
	course := Course{
		CourseID:     uuid.NewString(),
		Title:        create.Title,
		Description:  create.Description,
		InstructorID: create.InstructorID,
		Price:        create.Price.Round(2),
		Rating:       decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = db.write(ctx, region, func(ctx context.Context, conn driver.Conn) error {
		_, err := conn.ExecContext(ctx, db.rebind(`
			INSERT INTO courses (course_id, title, description, instructor_id, price, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`),
			course.CourseID, course.Title, course.Description, course.InstructorID, course.Price, now, now)
		return err
	})
	if err != nil {
		return Course{}, Error.Wrap(err)
	}
	return course, nil
}

// PublishCourse makes a course visible.
func (db *DB) PublishCourse(ctx context.Context, region topology.PartitionKey, courseID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	return db.write(ctx, region, func(ctx context.Context, conn driver.Conn) error {
		result, err := conn.ExecContext(ctx, db.rebind(
			`UPDATE courses SET is_published = ?, updated_at = ? WHERE course_id = ?`),
			true, db.now(), courseID)
		if err != nil {
			return Error.Wrap(err)
		}
		return expectAffected(result, "course %q", courseID)
	})
}

// GetCourse returns a course.
func (db *DB) GetCourse(ctx context.Context, region topology.PartitionKey, courseID string) (course Course, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.read(ctx, region, func(ctx context.Context, conn driver.Conn) error {
		var err error
		course, err = scanCourse(conn.QueryRowContext(ctx, db.rebind(
			`SELECT `+courseColumns+` FROM courses WHERE course_id = ?`), courseID))
		return notFound(err, "course %q", courseID)
	})
	return course, err
}

// AddLesson appends a lesson to a course.
func (db *DB) AddLesson(ctx context.Context, region topology.PartitionKey, courseID, title string, durationMinutes int) (lesson Lesson, err error) {
	defer mon.Task()(&ctx)(&err)

	if title == "" {
		return Lesson{}, Error.New("lesson title is required")
	}

	lesson = Lesson{
		LessonID:        uuid.NewString(),
		CourseID:        courseID,
		Title:           title,
		DurationMinutes: durationMinutes,
		CreatedAt:       db.now(),
	}

	_, err = db.router.Transact(ctx, region, func(ctx context.Context, tx driver.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, db.rebind(`SELECT COUNT(*) FROM courses WHERE course_id = ?`), courseID).Scan(&exists)
		if err != nil {
			return Error.Wrap(err)
		}
		if exists == 0 {
			return ErrNotFound.New("course %q", courseID)
		}

		err = tx.QueryRowContext(ctx, db.rebind(
			`SELECT COALESCE(MAX(position), 0) + 1 FROM lessons WHERE course_id = ?`), courseID).Scan(&lesson.Position)
		if err != nil {
			return Error.Wrap(err)
		}

		_, err = tx.ExecContext(ctx, db.rebind(`
			INSERT INTO lessons (lesson_id, course_id, title, position, duration_minutes, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`),
			lesson.LessonID, lesson.CourseID, lesson.Title, lesson.Position, lesson.DurationMinutes, lesson.CreatedAt)
		return Error.Wrap(err)
	})
	if err != nil {
		return Lesson{}, err
	}
	return lesson, nil
}

// Lessons returns the lessons of a course ordered by position.
func (db *DB) Lessons(ctx context.Context, region topology.PartitionKey, courseID string) (lessons []Lesson, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.read(ctx, region, func(ctx context.Context, conn driver.Conn) (err error) {
		lessons = nil
		rows, err := conn.QueryContext(ctx, db.rebind(`
			SELECT lesson_id, course_id, title, position, duration_minutes, created_at
			FROM lessons WHERE course_id = ? ORDER BY position`), courseID)
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

		for rows.Next() {
			var lesson Lesson
			err := rows.Scan(&lesson.LessonID, &lesson.CourseID, &lesson.Title,
				&lesson.Position, &lesson.DurationMinutes, &lesson.CreatedAt)
			if err != nil {
				return err
			}
			lessons = append(lessons, lesson)
		}
		return rows.Err()
	})
	return lessons, err
}
