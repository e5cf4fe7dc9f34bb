// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package consistency keeps derived aggregates consistent with the detail
// records they are computed from.
//
// Every detail mutation is followed, inside the same transaction, by a full
// recomputation of the aggregate of its parent. Aggregates are never patched
// incrementally.
package consistency

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/regionshard/driver"
	"storj.io/regionshard/private/dbutil"
	"storj.io/regionshard/private/sync2"
)

var (
	mon = monkit.Package()

	// Error is the default consistency errs class.
	Error = errs.Class("consistency")

	// ErrRecomputeFailed is returned when an aggregate could not be
	// recomputed. The enclosing transaction must be rolled back.
	ErrRecomputeFailed = errs.Class("aggregate recompute failed")
)

// Kind is the kind of detail record a mutation touched.
type Kind int

const (
	// LessonProgressChanged means a lesson progress row of an enrollment was
	// inserted or updated.
	LessonProgressChanged Kind = iota + 1
	// ReviewChanged means a review of an enrollment was inserted or updated.
	ReviewChanged
)

// String implements fmt.Stringer.
func (kind Kind) String() string {
	switch kind {
	case LessonProgressChanged:
		return "lesson-progress"
	case ReviewChanged:
		return "review"
	default:
		return "kind(" + strconv.Itoa(int(kind)) + ")"
	}
}

// Mutation identifies a detail record change by the enrollment it belongs to.
type Mutation struct {
	Kind         Kind
	EnrollmentID string
}

// Phase is the state of a recomputation.
type Phase int

const (
	// Pending means the detail mutation was applied and the aggregate is stale.
	Pending Phase = iota
	// Recomputing means the detail set is being read.
	Recomputing
	// Applied means the new aggregate was written in the transaction.
	Applied
)

// String implements fmt.Stringer.
func (phase Phase) String() string {
	switch phase {
	case Pending:
		return "pending"
	case Recomputing:
		return "recomputing"
	case Applied:
		return "applied"
	default:
		return "phase(" + strconv.Itoa(int(phase)) + ")"
	}
}

// Report describes the aggregates written by a recomputation.
type Report struct {
	Enrollment *EnrollmentAggregate
	Course     *CourseRatingAggregate
	// Completed is true only for the recomputation that moved the enrollment
	// to the completed status.
	Completed bool
}

// Engine recomputes aggregates.
type Engine struct {
	log   *zap.Logger
	impl  dbutil.Implementation
	locks *sync2.KeyLock
	now   func() time.Time

	// TestingBeforeApply is called after a new aggregate was computed and
	// before it is written. A returned error interrupts the recomputation.
	TestingBeforeApply func(ctx context.Context, m Mutation) error
}

// NewEngine creates an engine issuing statements for the given database
// implementation.
func NewEngine(log *zap.Logger, impl dbutil.Implementation) *Engine {
	return &Engine{
		log:   log,
		impl:  impl,
		locks: sync2.NewKeyLock(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Lock takes the in-process lock of the parent that owns the aggregate
// touched by m. The returned unlock must be called once the transaction
// finished.
func (engine *Engine) Lock(ctx context.Context, q driver.Queryer, m Mutation) (unlock func(), err error) {
	defer mon.Task()(&ctx)(&err)

	key, err := engine.parentKey(ctx, q, m)
	if err != nil {
		return nil, err
	}
	return engine.locks.Lock(ctx, key)
}

func (engine *Engine) parentKey(ctx context.Context, q driver.Queryer, m Mutation) (string, error) {
	if m.EnrollmentID == "" {
		return "", ErrRecomputeFailed.New("mutation without enrollment")
	}

	switch m.Kind {
	case LessonProgressChanged:
		return "enrollment/" + m.EnrollmentID, nil
	case ReviewChanged:
		var courseID string
		err := q.QueryRowContext(ctx, engine.impl.Rebind(
			`SELECT course_id FROM enrollments WHERE enrollment_id = ?`), m.EnrollmentID).Scan(&courseID)
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrRecomputeFailed.New("enrollment %q not found", m.EnrollmentID)
		}
		if err != nil {
			return "", ErrRecomputeFailed.Wrap(err)
		}
		return "course/" + courseID, nil
	default:
		return "", ErrRecomputeFailed.New("unknown mutation kind %s", m.Kind)
	}
}

// Prepare locks the parent row of m inside tx so that writers in other
// processes are serialized as well. It must run before the detail mutation.
// A parent that does not exist yet is not an error.
func (engine *Engine) Prepare(ctx context.Context, tx driver.Tx, m Mutation) (err error) {
	defer mon.Task()(&ctx)(&err)

	var query string
	switch m.Kind {
	case LessonProgressChanged:
		query = `UPDATE enrollments SET updated_at = updated_at WHERE enrollment_id = ?`
	case ReviewChanged:
		query = `UPDATE courses SET updated_at = updated_at
			WHERE course_id = (SELECT course_id FROM enrollments WHERE enrollment_id = ?)`
	default:
		return ErrRecomputeFailed.New("unknown mutation kind %s", m.Kind)
	}

	_, err = tx.ExecContext(ctx, engine.impl.Rebind(query), m.EnrollmentID)
	return ErrRecomputeFailed.Wrap(err)
}

// Recompute recomputes the aggregate owning m from the full detail set and
// writes it inside tx.
func (engine *Engine) Recompute(ctx context.Context, tx driver.Tx, m Mutation) (report Report, err error) {
	defer mon.Task()(&ctx)(&err)

	phase := Pending
	defer func() {
		if err != nil {
			mon.Event("recompute_failed")
			engine.log.Debug("recompute failed",
				zap.Stringer("kind", m.Kind),
				zap.String("enrollment", m.EnrollmentID),
				zap.Stringer("phase", phase),
				zap.Error(err))
			if !ErrRecomputeFailed.Has(err) {
				err = ErrRecomputeFailed.Wrap(err)
			}
		}
	}()

	phase = Recomputing
	switch m.Kind {
	case LessonProgressChanged:
		report.Enrollment, report.Completed, err = engine.recomputeProgress(ctx, tx, m)
	case ReviewChanged:
		report.Course, err = engine.recomputeRating(ctx, tx, m)
	default:
		err = ErrRecomputeFailed.New("unknown mutation kind %s", m.Kind)
	}
	if err != nil {
		return Report{}, err
	}
	phase = Applied

	if report.Completed {
		mon.Event("enrollment_completed")
		engine.log.Info("enrollment completed", zap.String("enrollment", m.EnrollmentID))
	}
	return report, nil
}

func (engine *Engine) recomputeProgress(ctx context.Context, tx driver.Tx, m Mutation) (_ *EnrollmentAggregate, completed bool, err error) {
	var status string
	var completedAt sql.NullTime
	err = tx.QueryRowContext(ctx, engine.impl.Rebind(
		`SELECT status, completion_date FROM enrollments WHERE enrollment_id = ?`),
		m.EnrollmentID).Scan(&status, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrRecomputeFailed.New("enrollment %q not found", m.EnrollmentID)
	}
	if err != nil {
		return nil, false, err
	}

	agg := &EnrollmentAggregate{
		EnrollmentID: m.EnrollmentID,
		Status:       EnrollmentStatus(status),
	}
	err = tx.QueryRowContext(ctx, engine.impl.Rebind(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN completed THEN 1 ELSE 0 END), 0)
		FROM lesson_progress WHERE enrollment_id = ?`),
		m.EnrollmentID).Scan(&agg.TotalLessons, &agg.CompletedLessons)
	if err != nil {
		return nil, false, err
	}
	agg.ProgressPercentage = Percentage(agg.CompletedLessons, agg.TotalLessons)

	if completedAt.Valid {
		at := completedAt.Time.UTC()
		agg.CompletedAt = &at
	}
	if agg.TotalLessons > 0 && agg.CompletedLessons == agg.TotalLessons && agg.Status != StatusCompleted {
		agg.Status = StatusCompleted
		if agg.CompletedAt == nil {
			now := engine.now()
			agg.CompletedAt = &now
		}
		completed = true
	}

	if engine.TestingBeforeApply != nil {
		if err := engine.TestingBeforeApply(ctx, m); err != nil {
			return nil, false, err
		}
	}

	var completionDate sql.NullTime
	if agg.CompletedAt != nil {
		completionDate = sql.NullTime{Time: *agg.CompletedAt, Valid: true}
	}
	result, err := tx.ExecContext(ctx, engine.impl.Rebind(`
		UPDATE enrollments SET
			progress_percentage = ?, total_lessons = ?, completed_lessons = ?,
			status = ?, completion_date = ?, updated_at = ?
		WHERE enrollment_id = ?`),
		agg.ProgressPercentage, agg.TotalLessons, agg.CompletedLessons,
		string(agg.Status), completionDate, engine.now(),
		m.EnrollmentID)
	if err != nil {
		return nil, false, err
	}
	if err := expectOneRow(result, "enrollment", m.EnrollmentID); err != nil {
		return nil, false, err
	}
	return agg, completed, nil
}

func (engine *Engine) recomputeRating(ctx context.Context, tx driver.Tx, m Mutation) (_ *CourseRatingAggregate, err error) {
	agg := &CourseRatingAggregate{}
	err = tx.QueryRowContext(ctx, engine.impl.Rebind(
		`SELECT course_id FROM enrollments WHERE enrollment_id = ?`),
		m.EnrollmentID).Scan(&agg.CourseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecomputeFailed.New("enrollment %q not found", m.EnrollmentID)
	}
	if err != nil {
		return nil, err
	}

	var sum int64
	err = tx.QueryRowContext(ctx, engine.impl.Rebind(`
		SELECT COUNT(r.rating), COALESCE(SUM(r.rating), 0)
		FROM course_reviews r
		JOIN enrollments e ON e.enrollment_id = r.enrollment_id
		WHERE e.course_id = ?`),
		agg.CourseID).Scan(&agg.TotalRatings, &sum)
	if err != nil {
		return nil, err
	}
	agg.Rating = Mean(sum, agg.TotalRatings)

	if engine.TestingBeforeApply != nil {
		if err := engine.TestingBeforeApply(ctx, m); err != nil {
			return nil, err
		}
	}

	result, err := tx.ExecContext(ctx, engine.impl.Rebind(`
		UPDATE courses SET rating = ?, total_ratings = ?, updated_at = ?
		WHERE course_id = ?`),
		agg.Rating, agg.TotalRatings, engine.now(), agg.CourseID)
	if err != nil {
		return nil, err
	}
	if err := expectOneRow(result, "course", agg.CourseID); err != nil {
		return nil, err
	}
	return agg, nil
}

func expectOneRow(result sql.Result, what, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return ErrRecomputeFailed.New("%s %q: updated %d rows", what, id, affected)
	}
	return nil
}
