// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package learningdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"storj.io/regionshard/consistency"
	"storj.io/regionshard/driver"
	"storj.io/regionshard/topology"
)

// Review is the review of a course written through an enrollment.
type Review struct {
	ReviewID     string
	EnrollmentID string
	UserID       string
	Rating       int
	Text         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AddReview creates or replaces the review of an enrollment. There is at most
// one review per enrollment.
func (db *DB) AddReview(ctx context.Context, region topology.PartitionKey, enrollmentID string, rating int, text string) (review Review, _ consistency.Report, err error) {
	defer mon.Task()(&ctx)(&err)

	if rating < 1 || rating > 5 {
		return Review{}, consistency.Report{}, Error.New("rating %d out of range 1..5", rating)
	}

	if err := db.requireEnrollment(ctx, region, enrollmentID); err != nil {
		return Review{}, consistency.Report{}, err
	}

	m := consistency.Mutation{Kind: consistency.ReviewChanged, EnrollmentID: enrollmentID}
	outcome, err := db.router.Mutate(ctx, region, m, func(ctx context.Context, tx driver.Tx) error {
		now := db.now()
		_, err := tx.ExecContext(ctx, db.rebind(`
			INSERT INTO course_reviews (review_id, enrollment_id, rating, review_text, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (enrollment_id) DO UPDATE SET
				rating = excluded.rating,
				review_text = excluded.review_text,
				updated_at = excluded.updated_at`),
			uuid.NewString(), enrollmentID, rating, text, now, now)
		if err != nil {
			return Error.Wrap(err)
		}

		err = tx.QueryRowContext(ctx, db.rebind(`
			SELECT r.review_id, r.enrollment_id, e.user_id, r.rating, r.review_text, r.created_at, r.updated_at
			FROM course_reviews r
			JOIN enrollments e ON e.enrollment_id = r.enrollment_id
			WHERE r.enrollment_id = ?`), enrollmentID).
			Scan(&review.ReviewID, &review.EnrollmentID, &review.UserID, &review.Rating,
				&review.Text, &review.CreatedAt, &review.UpdatedAt)
		return notFound(err, "enrollment %q", enrollmentID)
	})
	if err != nil {
		return Review{}, consistency.Report{}, err
	}
	return review, outcome.Report, nil
}

// CourseReviews returns the reviews of a course, newest first.
func (db *DB) CourseReviews(ctx context.Context, region topology.PartitionKey, courseID string, limit, offset int) (reviews []Review, err error) {
	defer mon.Task()(&ctx)(&err)

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	err = db.read(ctx, region, func(ctx context.Context, conn driver.Conn) (err error) {
		reviews = nil
		rows, err := conn.QueryContext(ctx, db.rebind(`
			SELECT r.review_id, r.enrollment_id, e.user_id, r.rating, r.review_text, r.created_at, r.updated_at
			FROM course_reviews r
			JOIN enrollments e ON e.enrollment_id = r.enrollment_id
			WHERE e.course_id = ?
			ORDER BY r.created_at DESC, r.review_id
			LIMIT ? OFFSET ?`), courseID, limit, offset)
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

		for rows.Next() {
			var review Review
			err := rows.Scan(&review.ReviewID, &review.EnrollmentID, &review.UserID, &review.Rating,
				&review.Text, &review.CreatedAt, &review.UpdatedAt)
			if err != nil {
				return err
			}
			reviews = append(reviews, review)
		}
		return rows.Err()
	})
	return reviews, err
}
