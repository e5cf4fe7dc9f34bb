// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package learningdb

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/zeebo/errs"

	"storj.io/regionshard/driver"
	"storj.io/regionshard/topology"
)

// CourseUpdate contains the course fields to change. Nil fields are kept.
type CourseUpdate struct {
	Title       *string
	Description *string
	Price       *decimal.Decimal
}

// CourseSearch filters published courses.
type CourseSearch struct {
	// Term matches title or description, case insensitive.
	Term      string
	MinRating decimal.Decimal
	MaxPrice  *decimal.Decimal
	Limit     int
}

// InstructorCourse is a course together with its enrollment count.
type InstructorCourse struct {
	Course
	Enrollments int64
}

// UpdateCourse changes the given fields of a course and returns the result.
func (db *DB) UpdateCourse(ctx context.Context, region topology.PartitionKey, courseID string, update CourseUpdate) (course Course, err error) {
	defer mon.Task()(&ctx)(&err)

	var sets []string
	var args []interface{}
	if update.Title != nil {
		if *update.Title == "" {
			return Course{}, Error.New("course title is required")
		}
		sets = append(sets, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *update.Description)
	}
	if update.Price != nil {
		if update.Price.IsNegative() {
			return Course{}, Error.New("negative price")
		}
		sets = append(sets, "price = ?")
		args = append(args, update.Price.Round(2))
	}
	if len(sets) == 0 {
		return Course{}, Error.New("nothing to update")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, db.now(), courseID)

	_, err = db.router.Transact(ctx, region, func(ctx context.Context, tx driver.Tx) error {
		result, err := tx.ExecContext(ctx, db.rebind(
			`UPDATE courses SET `+strings.Join(sets, ", ")+` WHERE course_id = ?`), args...)
		if err != nil {
			return Error.Wrap(err)
		}
		if err := expectAffected(result, "course %q", courseID); err != nil {
			return err
		}
		course, err = scanCourse(tx.QueryRowContext(ctx, db.rebind(
			`SELECT `+courseColumns+` FROM courses WHERE course_id = ?`), courseID))
		return notFound(err, "course %q", courseID)
	})
	if err != nil {
		return Course{}, err
	}
	return course, nil
}

// ArchiveCourse withdraws a course. Archived courses are unpublished, hidden
// from search and do not accept new enrollments; existing enrollments stay.
func (db *DB) ArchiveCourse(ctx context.Context, region topology.PartitionKey, courseID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	return db.write(ctx, region, func(ctx context.Context, conn driver.Conn) error {
		result, err := conn.ExecContext(ctx, db.rebind(
			`UPDATE courses SET is_archived = ?, is_published = ?, updated_at = ? WHERE course_id = ?`),
			true, false, db.now(), courseID)
		if err != nil {
			return Error.Wrap(err)
		}
		return expectAffected(result, "course %q", courseID)
	})
}

// SearchCourses returns published courses matching search, best rated first.
func (db *DB) SearchCourses(ctx context.Context, region topology.PartitionKey, search CourseSearch) (_ []Course, err error) {
	defer mon.Task()(&ctx)(&err)

	query := `SELECT ` + courseColumns + ` FROM courses WHERE is_published = ? AND is_archived = ? AND rating >= ?`
	args := []interface{}{true, false, search.MinRating}
	if term := strings.TrimSpace(search.Term); term != "" {
		query += ` AND (LOWER(title) LIKE ? OR LOWER(description) LIKE ?)`
		pattern := "%" + strings.ToLower(term) + "%"
		args = append(args, pattern, pattern)
	}
	if search.MaxPrice != nil {
		query += ` AND price <= ?`
		args = append(args, *search.MaxPrice)
	}
	query += ` ORDER BY rating DESC, total_ratings DESC, title, course_id LIMIT ?`
	args = append(args, limitOr(search.Limit, 50))

	return db.queryCourses(ctx, region, query, args...)
}

// PopularCourses returns the published courses with the best derived rating.
// Ties are broken by the number of ratings.
func (db *DB) PopularCourses(ctx context.Context, region topology.PartitionKey, limit int) (_ []Course, err error) {
	defer mon.Task()(&ctx)(&err)

	return db.queryCourses(ctx, region, `
		SELECT `+courseColumns+` FROM courses
		WHERE is_published = ? AND is_archived = ?
		ORDER BY rating DESC, total_ratings DESC, course_id
		LIMIT ?`, true, false, limitOr(limit, 10))
}

// InstructorCourses returns every course of an instructor, newest first,
// including unpublished and archived ones.
func (db *DB) InstructorCourses(ctx context.Context, region topology.PartitionKey, instructorID string) (courses []InstructorCourse, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.read(ctx, region, func(ctx context.Context, conn driver.Conn) (err error) {
		courses = nil
		rows, err := conn.QueryContext(ctx, db.rebind(`
			SELECT `+courseColumns+`,
				(SELECT COUNT(*) FROM enrollments e WHERE e.course_id = courses.course_id)
			FROM courses
			WHERE instructor_id = ?
			ORDER BY created_at DESC, course_id`), instructorID)
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

		for rows.Next() {
			var course InstructorCourse
			err := rows.Scan(&course.CourseID, &course.Title, &course.Description, &course.InstructorID,
				&course.Price, &course.IsPublished, &course.IsArchived, &course.Rating, &course.TotalRatings,
				&course.CreatedAt, &course.UpdatedAt, &course.Enrollments)
			if err != nil {
				return err
			}
			courses = append(courses, course)
		}
		return rows.Err()
	})
	return courses, err
}

func (db *DB) queryCourses(ctx context.Context, region topology.PartitionKey, query string, args ...interface{}) (courses []Course, err error) {
	err = db.read(ctx, region, func(ctx context.Context, conn driver.Conn) (err error) {
		courses = nil
		rows, err := conn.QueryContext(ctx, db.rebind(query), args...)
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

		for rows.Next() {
			course, err := scanCourse(rows)
			if err != nil {
				return err
			}
			courses = append(courses, course)
		}
		return rows.Err()
	})
	return courses, err
}

func limitOr(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}
