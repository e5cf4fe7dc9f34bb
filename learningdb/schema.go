// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package learningdb

import (
	"context"

	"storj.io/regionshard/driver"
)

// Schema returns the statements creating the e-learning tables. They are
// idempotent and valid for both postgres and sqlite3.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			user_type TEXT NOT NULL DEFAULT 'student',
			region TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			country TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			phone_number TEXT NOT NULL DEFAULT '',
			bio TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_login TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS courses (
			course_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			instructor_id TEXT NOT NULL DEFAULT '',
			price NUMERIC(10,2) NOT NULL DEFAULT 0,
			is_published BOOLEAN NOT NULL DEFAULT FALSE,
			is_archived BOOLEAN NOT NULL DEFAULT FALSE,
			rating NUMERIC(3,2) NOT NULL DEFAULT 0,
			total_ratings INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS lessons (
			lesson_id TEXT PRIMARY KEY,
			course_id TEXT NOT NULL REFERENCES courses (course_id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			position INTEGER NOT NULL,
			duration_minutes INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (course_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS enrollments (
			enrollment_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			course_id TEXT NOT NULL REFERENCES courses (course_id) ON DELETE CASCADE,
			enrollment_date TIMESTAMP NOT NULL,
			completion_date TIMESTAMP,
			progress_percentage NUMERIC(5,2) NOT NULL DEFAULT 0,
			total_lessons INTEGER NOT NULL DEFAULT 0,
			completed_lessons INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			certificate_issued BOOLEAN NOT NULL DEFAULT FALSE,
			certificate_url TEXT NOT NULL DEFAULT '',
			last_accessed TIMESTAMP,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (user_id, course_id)
		)`,
		`CREATE TABLE IF NOT EXISTS lesson_progress (
			progress_id TEXT PRIMARY KEY,
			enrollment_id TEXT NOT NULL REFERENCES enrollments (enrollment_id) ON DELETE CASCADE,
			lesson_id TEXT NOT NULL REFERENCES lessons (lesson_id) ON DELETE CASCADE,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			completion_date TIMESTAMP,
			time_spent_minutes INTEGER NOT NULL DEFAULT 0,
			last_position INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (enrollment_id, lesson_id)
		)`,
		`CREATE TABLE IF NOT EXISTS course_reviews (
			review_id TEXT PRIMARY KEY,
			enrollment_id TEXT NOT NULL UNIQUE REFERENCES enrollments (enrollment_id) ON DELETE CASCADE,
			rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
			review_text TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS enrollments_course_id ON enrollments (course_id)`,
		`CREATE INDEX IF NOT EXISTS lesson_progress_enrollment_id ON lesson_progress (enrollment_id)`,
		`CREATE INDEX IF NOT EXISTS lessons_course_id ON lessons (course_id)`,
		`CREATE INDEX IF NOT EXISTS courses_instructor_id ON courses (instructor_id)`,
		`CREATE INDEX IF NOT EXISTS users_region ON users (region, status)`,
	}
}

// CreateSchema executes Schema on q.
func CreateSchema(ctx context.Context, q driver.Queryer) (err error) {
	defer mon.Task()(&ctx)(&err)

	for _, stmt := range Schema() {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}
