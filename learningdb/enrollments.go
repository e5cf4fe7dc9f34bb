// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package learningdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zeebo/errs"

	"storj.io/regionshard/consistency"
	"storj.io/regionshard/driver"
	"storj.io/regionshard/topology"
)

// Enrollment is the enrollment of a user in a course with its derived
// progress.
type Enrollment struct {
	EnrollmentID       string
	UserID             string
	CourseID           string
	EnrollmentDate     time.Time
	CompletionDate     *time.Time
	ProgressPercentage decimal.Decimal
	TotalLessons       int64
	CompletedLessons   int64
	Status             consistency.EnrollmentStatus
	CertificateIssued  bool
	CertificateURL     string
	LastAccessed       *time.Time
}

// LessonProgress is the progress of an enrollment in one lesson.
type LessonProgress struct {
	ProgressID       string
	EnrollmentID     string
	LessonID         string
	Completed        bool
	CompletionDate   *time.Time
	TimeSpentMinutes int
	LastPosition     int
}

const enrollmentColumns = `enrollment_id, user_id, course_id, enrollment_date, completion_date,
	progress_percentage, total_lessons, completed_lessons, status,
	certificate_issued, certificate_url, last_accessed`

func scanEnrollment(row scanner) (enrollment Enrollment, err error) {
	var status string
	var completionDate, lastAccessed sql.NullTime
	err = row.Scan(&enrollment.EnrollmentID, &enrollment.UserID, &enrollment.CourseID,
		&enrollment.EnrollmentDate, &completionDate,
		&enrollment.ProgressPercentage, &enrollment.TotalLessons, &enrollment.CompletedLessons, &status,
		&enrollment.CertificateIssued, &enrollment.CertificateURL, &lastAccessed)
	enrollment.Status = consistency.EnrollmentStatus(status)
	enrollment.CompletionDate = timePtr(completionDate)
	enrollment.LastAccessed = timePtr(lastAccessed)
	return enrollment, err
}

// Enroll enrolls an active user in a course that is not archived and creates
// a progress row for every lesson of the course.
func (db *DB) Enroll(ctx context.Context, region topology.PartitionKey, userID, courseID string) (enrollment Enrollment, err error) {
	defer mon.Task()(&ctx)(&err)

	if userID == "" {
		return Enrollment{}, Error.New("user id is required")
	}

	now := db.now()
	enrollment = Enrollment{
		EnrollmentID:   uuid.NewString(),
		UserID:         userID,
		CourseID:       courseID,
		EnrollmentDate: now,
		Status:         consistency.StatusActive,
	}

	m := consistency.Mutation{Kind: consistency.LessonProgressChanged, EnrollmentID: enrollment.EnrollmentID}
	outcome, err := db.router.Mutate(ctx, region, m, func(ctx context.Context, tx driver.Tx) error {
		var archived bool
		err := tx.QueryRowContext(ctx, db.rebind(`SELECT is_archived FROM courses WHERE course_id = ?`), courseID).Scan(&archived)
		if err != nil {
			return notFound(err, "course %q", courseID)
		}
		if archived {
			return ErrConflict.New("course %q is archived", courseID)
		}

		var users, existing int
		err = tx.QueryRowContext(ctx, db.rebind(
			`SELECT COUNT(*) FROM users WHERE user_id = ? AND status = ?`), userID, string(UserActive)).Scan(&users)
		if err != nil {
			return Error.Wrap(err)
		}
		if users == 0 {
			return ErrNotFound.New("active user %q", userID)
		}

		err = tx.QueryRowContext(ctx, db.rebind(
			`SELECT COUNT(*) FROM enrollments WHERE user_id = ? AND course_id = ?`), userID, courseID).Scan(&existing)
		if err != nil {
			return Error.Wrap(err)
		}
		if existing > 0 {
			return ErrConflict.New("user %q is already enrolled in %q", userID, courseID)
		}

		_, err = tx.ExecContext(ctx, db.rebind(`
			INSERT INTO enrollments (enrollment_id, user_id, course_id, enrollment_date, status, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`),
			enrollment.EnrollmentID, userID, courseID, now, string(consistency.StatusActive), now)
		if err != nil {
			return Error.Wrap(err)
		}

		lessons, err := lessonIDs(ctx, tx, db.rebind(`SELECT lesson_id FROM lessons WHERE course_id = ? ORDER BY position`), courseID)
		if err != nil {
			return err
		}
		for _, lessonID := range lessons {
			_, err := tx.ExecContext(ctx, db.rebind(`
				INSERT INTO lesson_progress (progress_id, enrollment_id, lesson_id, updated_at)
				VALUES (?, ?, ?, ?)`),
				uuid.NewString(), enrollment.EnrollmentID, lessonID, now)
			if err != nil {
				return Error.Wrap(err)
			}
		}
		return nil
	})
	if err != nil {
		return Enrollment{}, err
	}

	if aggregate := outcome.Report.Enrollment; aggregate != nil {
		enrollment.TotalLessons = aggregate.TotalLessons
		enrollment.CompletedLessons = aggregate.CompletedLessons
		enrollment.ProgressPercentage = aggregate.ProgressPercentage
		enrollment.Status = aggregate.Status
	}
	return enrollment, nil
}

// requireEnrollment checks on the primary of region that the enrollment exists.
func (db *DB) requireEnrollment(ctx context.Context, region topology.PartitionKey, enrollmentID string) error {
	return db.write(ctx, region, func(ctx context.Context, conn driver.Conn) error {
		var id string
		err := conn.QueryRowContext(ctx, db.rebind(
			`SELECT enrollment_id FROM enrollments WHERE enrollment_id = ?`), enrollmentID).Scan(&id)
		return notFound(err, "enrollment %q", enrollmentID)
	})
}

func lessonIDs(ctx context.Context, q driver.Queryer, query string, args ...interface{}) (ids []string, err error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetEnrollment returns an enrollment.
func (db *DB) GetEnrollment(ctx context.Context, region topology.PartitionKey, enrollmentID string) (enrollment Enrollment, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.read(ctx, region, func(ctx context.Context, conn driver.Conn) error {
		var err error
		enrollment, err = scanEnrollment(conn.QueryRowContext(ctx, db.rebind(
			`SELECT `+enrollmentColumns+` FROM enrollments WHERE enrollment_id = ?`), enrollmentID))
		return notFound(err, "enrollment %q", enrollmentID)
	})
	return enrollment, err
}

// UserEnrollments returns the enrollments of a user, newest first. An empty
// status returns all of them.
func (db *DB) UserEnrollments(ctx context.Context, region topology.PartitionKey, userID string, status consistency.EnrollmentStatus) (enrollments []Enrollment, err error) {
	defer mon.Task()(&ctx)(&err)

	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE user_id = ?`
	args := []interface{}{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY enrollment_date DESC`

	err = db.read(ctx, region, func(ctx context.Context, conn driver.Conn) (err error) {
		enrollments = nil
		rows, err := conn.QueryContext(ctx, db.rebind(query), args...)
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

		for rows.Next() {
			enrollment, err := scanEnrollment(rows)
			if err != nil {
				return err
			}
			enrollments = append(enrollments, enrollment)
		}
		return rows.Err()
	})
	return enrollments, err
}

// UpdateEnrollmentStatus changes the status of an active or dropped
// enrollment. Completion is only ever set by progress updates and is final.
func (db *DB) UpdateEnrollmentStatus(ctx context.Context, region topology.PartitionKey, enrollmentID string, status consistency.EnrollmentStatus) (err error) {
	defer mon.Task()(&ctx)(&err)

	if status != consistency.StatusActive && status != consistency.StatusDropped {
		return Error.New("status %q cannot be set directly", status)
	}

	_, err = db.router.Transact(ctx, region, func(ctx context.Context, tx driver.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, db.rebind(
			`SELECT status FROM enrollments WHERE enrollment_id = ?`), enrollmentID).Scan(&current)
		if err != nil {
			return notFound(err, "enrollment %q", enrollmentID)
		}
		if consistency.EnrollmentStatus(current) == consistency.StatusCompleted {
			return ErrConflict.New("enrollment %q is completed", enrollmentID)
		}

		_, err = tx.ExecContext(ctx, db.rebind(
			`UPDATE enrollments SET status = ?, updated_at = ? WHERE enrollment_id = ?`),
			string(status), db.now(), enrollmentID)
		return Error.Wrap(err)
	})
	return err
}

// MarkLessonComplete marks a lesson of an enrollment as completed and adds
// the time spent on it. The returned report tells whether this completed the
// enrollment.
func (db *DB) MarkLessonComplete(ctx context.Context, region topology.PartitionKey, enrollmentID, lessonID string, timeSpentMinutes int) (_ consistency.Report, err error) {
	defer mon.Task()(&ctx)(&err)

	if timeSpentMinutes < 0 {
		return consistency.Report{}, Error.New("negative time spent")
	}

	m := consistency.Mutation{Kind: consistency.LessonProgressChanged, EnrollmentID: enrollmentID}
	outcome, err := db.router.Mutate(ctx, region, m, func(ctx context.Context, tx driver.Tx) error {
		now := db.now()
		result, err := tx.ExecContext(ctx, db.rebind(`
			UPDATE lesson_progress SET
				completed = ?,
				completion_date = COALESCE(completion_date, ?),
				time_spent_minutes = time_spent_minutes + ?,
				updated_at = ?
			WHERE enrollment_id = ? AND lesson_id = ?`),
			true, now, timeSpentMinutes, now, enrollmentID, lessonID)
		if err != nil {
			return Error.Wrap(err)
		}
		if err := expectAffected(result, "lesson %q of enrollment %q", lessonID, enrollmentID); err != nil {
			return err
		}
		return db.touch(ctx, tx, enrollmentID, now)
	})
	return outcome.Report, err
}

// UpdateLessonProgress records the position reached in a lesson and the time
// spent without completing it. A nil position keeps the previous one.
func (db *DB) UpdateLessonProgress(ctx context.Context, region topology.PartitionKey, enrollmentID, lessonID string, lastPosition *int, timeSpentMinutes int) (err error) {
	defer mon.Task()(&ctx)(&err)

	if timeSpentMinutes < 0 {
		return Error.New("negative time spent")
	}

	var position sql.NullInt64
	if lastPosition != nil {
		position = sql.NullInt64{Int64: int64(*lastPosition), Valid: true}
	}

	m := consistency.Mutation{Kind: consistency.LessonProgressChanged, EnrollmentID: enrollmentID}
	_, err = db.router.Mutate(ctx, region, m, func(ctx context.Context, tx driver.Tx) error {
		now := db.now()
		result, err := tx.ExecContext(ctx, db.rebind(`
			UPDATE lesson_progress SET
				last_position = COALESCE(?, last_position),
				time_spent_minutes = time_spent_minutes + ?,
				updated_at = ?
			WHERE enrollment_id = ? AND lesson_id = ?`),
			position, timeSpentMinutes, now, enrollmentID, lessonID)
		if err != nil {
			return Error.Wrap(err)
		}
		if err := expectAffected(result, "lesson %q of enrollment %q", lessonID, enrollmentID); err != nil {
			return err
		}
		return db.touch(ctx, tx, enrollmentID, now)
	})
	return err
}

func (db *DB) touch(ctx context.Context, tx driver.Tx, enrollmentID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, db.rebind(
		`UPDATE enrollments SET last_accessed = ? WHERE enrollment_id = ?`), now, enrollmentID)
	return Error.Wrap(err)
}

const lessonProgressColumns = `progress_id, enrollment_id, lesson_id, completed, completion_date, time_spent_minutes, last_position`

func scanLessonProgress(row scanner) (progress LessonProgress, err error) {
	var completionDate sql.NullTime
	err = row.Scan(&progress.ProgressID, &progress.EnrollmentID, &progress.LessonID,
		&progress.Completed, &completionDate, &progress.TimeSpentMinutes, &progress.LastPosition)
	progress.CompletionDate = timePtr(completionDate)
	return progress, err
}

// GetLessonProgress returns the progress of an enrollment in a lesson.
func (db *DB) GetLessonProgress(ctx context.Context, region topology.PartitionKey, enrollmentID, lessonID string) (progress LessonProgress, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.read(ctx, region, func(ctx context.Context, conn driver.Conn) error {
		var err error
		progress, err = scanLessonProgress(conn.QueryRowContext(ctx, db.rebind(
			`SELECT `+lessonProgressColumns+` FROM lesson_progress WHERE enrollment_id = ? AND lesson_id = ?`),
			enrollmentID, lessonID))
		return notFound(err, "lesson %q of enrollment %q", lessonID, enrollmentID)
	})
	return progress, err
}

// CourseProgress returns the progress of an enrollment in every lesson,
// ordered by lesson position.
func (db *DB) CourseProgress(ctx context.Context, region topology.PartitionKey, enrollmentID string) (progress []LessonProgress, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.read(ctx, region, func(ctx context.Context, conn driver.Conn) (err error) {
		progress = nil
		rows, err := conn.QueryContext(ctx, db.rebind(`
			SELECT p.progress_id, p.enrollment_id, p.lesson_id, p.completed, p.completion_date,
				p.time_spent_minutes, p.last_position
			FROM lesson_progress p
			JOIN lessons l ON l.lesson_id = p.lesson_id
			WHERE p.enrollment_id = ?
			ORDER BY l.position`), enrollmentID)
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

		for rows.Next() {
			p, err := scanLessonProgress(rows)
			if err != nil {
				return err
			}
			progress = append(progress, p)
		}
		return rows.Err()
	})
	return progress, err
}

// IssueCertificate records the certificate of a completed enrollment. It
// reports false when the enrollment is not completed.
func (db *DB) IssueCertificate(ctx context.Context, region topology.PartitionKey, enrollmentID, certificateURL string) (issued bool, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.write(ctx, region, func(ctx context.Context, conn driver.Conn) error {
		result, err := conn.ExecContext(ctx, db.rebind(`
			UPDATE enrollments SET certificate_issued = ?, certificate_url = ?, updated_at = ?
			WHERE enrollment_id = ? AND status = ?`),
			true, certificateURL, db.now(), enrollmentID, string(consistency.StatusCompleted))
		if err != nil {
			return Error.Wrap(err)
		}
		affected, err := result.RowsAffected()
		issued = affected > 0
		return Error.Wrap(err)
	})
	return issued, err
}
