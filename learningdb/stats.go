// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package learningdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeebo/errs"

	"storj.io/regionshard/consistency"
	"storj.io/regionshard/driver"
	"storj.io/regionshard/topology"
)

// EnrollmentStats summarizes the enrollments of a course.
type EnrollmentStats struct {
	Total     int64
	Active    int64
	Completed int64
	Dropped   int64
	// AverageProgress is the mean progress percentage.
	AverageProgress decimal.Decimal
	// AverageCompletionDays is the mean number of days from enrollment to
	// completion of the completed enrollments.
	AverageCompletionDays decimal.Decimal
}

// EnrollmentStatistics summarizes the enrollments of a course.
func (db *DB) EnrollmentStatistics(ctx context.Context, region topology.PartitionKey, courseID string) (stats EnrollmentStats, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.read(ctx, region, func(ctx context.Context, conn driver.Conn) (err error) {
		stats = EnrollmentStats{}
		rows, err := conn.QueryContext(ctx, db.rebind(`
			SELECT status, progress_percentage, enrollment_date, completion_date
			FROM enrollments WHERE course_id = ?`), courseID)
		if err != nil {
			return Error.Wrap(err)
		}
		defer func() { err = Error.Wrap(errs.Combine(err, rows.Close())) }()

		progress := decimal.Zero
		var completionDays int64
		var completions int64
		for rows.Next() {
			var status string
			var percentage decimal.Decimal
			var enrolled time.Time
			var completed sql.NullTime
			if err := rows.Scan(&status, &percentage, &enrolled, &completed); err != nil {
				return err
			}

			stats.Total++
			switch consistency.EnrollmentStatus(status) {
			case consistency.StatusActive:
				stats.Active++
			case consistency.StatusCompleted:
				stats.Completed++
			case consistency.StatusDropped:
				stats.Dropped++
			}
			progress = progress.Add(percentage)
			if completed.Valid {
				completionDays += int64(completed.Time.Sub(enrolled) / (24 * time.Hour))
				completions++
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if stats.Total > 0 {
			stats.AverageProgress = progress.DivRound(decimal.NewFromInt(stats.Total), consistency.Places)
		}
		stats.AverageCompletionDays = consistency.Mean(completionDays, completions)
		return nil
	})
	return stats, err
}
