// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package consistency

import (
	"time"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places aggregates are rounded to.
const Places = 2

// EnrollmentStatus is the lifecycle status of an enrollment.
type EnrollmentStatus string

const (
	// StatusActive is an enrollment in progress.
	StatusActive EnrollmentStatus = "active"
	// StatusCompleted is an enrollment whose lessons are all completed.
	StatusCompleted EnrollmentStatus = "completed"
	// StatusDropped is an enrollment abandoned by the student.
	StatusDropped EnrollmentStatus = "dropped"
)

// EnrollmentAggregate is the progress of an enrollment derived from its
// lesson progress rows.
type EnrollmentAggregate struct {
	EnrollmentID       string
	TotalLessons       int64
	CompletedLessons   int64
	ProgressPercentage decimal.Decimal
	Status             EnrollmentStatus
	CompletedAt        *time.Time
}

// CourseRatingAggregate is the rating of a course derived from the reviews of
// its enrollments.
type CourseRatingAggregate struct {
	CourseID     string
	Rating       decimal.Decimal
	TotalRatings int64
}

var hundred = decimal.NewFromInt(100)

// Percentage returns completed/total*100 rounded half away from zero to two
// places, or zero when total is zero.
func Percentage(completed, total int64) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(completed).Mul(hundred).DivRound(decimal.NewFromInt(total), Places)
}

// Mean returns sum/count rounded half away from zero to two places, or zero
// when count is zero.
func Mean(sum, count int64) decimal.Decimal {
	if count <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(sum).DivRound(decimal.NewFromInt(count), Places)
}
