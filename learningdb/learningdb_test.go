// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package learningdb_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/regionshard/consistency"
	"storj.io/regionshard/driver/sqldriver"
	"storj.io/regionshard/learningdb"
	"storj.io/regionshard/pool"
	"storj.io/regionshard/private/testcontext"
	"storj.io/regionshard/router"
	"storj.io/regionshard/topology"
)

// newTestDB creates a database over three sqlite shards. Replicas share the
// file of their primary, so reads observe writes immediately.
func newTestDB(t *testing.T, ctx *testcontext.Context) *learningdb.DB {
	log := zaptest.NewLogger(t)

	config := topology.Config{Regions: topology.DefaultRegions()}
	for id := 1; id <= 3; id++ {
		file := ctx.File(fmt.Sprintf("shard%d.db", id))
		config.Shards = append(config.Shards, topology.ShardConfig{
			ID:       id,
			Primary:  topology.EndpointConfig{Host: "primary", Database: file},
			Replicas: []topology.EndpointConfig{{Host: "replica", Database: file}},
		})
	}
	topo, err := topology.New(config)
	require.NoError(t, err)

	drv, err := sqldriver.New(log, sqldriver.Config{Driver: "sqlite3"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, drv.Close()) })

	pools := pool.NewSet(log, topo, drv, pool.Config{MaxConns: 4, AcquireTimeout: 5 * time.Second})
	t.Cleanup(func() { require.NoError(t, pools.Close()) })

	engine := consistency.NewEngine(log.Named("consistency"), drv.Implementation())
	r, err := router.New(log.Named("router"), topo, pools, nil, engine, router.Config{
		Retry: router.RetryConfig{MaxAttempts: 3, Backoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond},
	})
	require.NoError(t, err)

	db := learningdb.New(log, r, drv.Implementation())
	require.NoError(t, db.Migrate(ctx))
	return db
}

func requireDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

func createUser(ctx *testcontext.Context, t *testing.T, db *learningdb.DB, region topology.PartitionKey, email string) string {
	t.Helper()
	user, err := db.CreateUser(ctx, region, learningdb.NewUser{Email: email})
	require.NoError(t, err)
	return user.UserID
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newTestDB(t, ctx)
	require.NoError(t, db.Migrate(ctx))
}

func TestCourses(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newTestDB(t, ctx)

	course, err := db.CreateCourse(ctx, "europe", learningdb.NewCourse{
		Title:        "Concurrency in Go",
		InstructorID: "instructor-1",
		Price:        decimal.RequireFromString("49.999"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, course.CourseID)
	requireDecimal(t, "50", course.Price)

	_, err = db.CreateCourse(ctx, "europe", learningdb.NewCourse{})
	require.Error(t, err)

	got, err := db.GetCourse(ctx, "Africa", course.CourseID)
	require.NoError(t, err)
	require.Equal(t, "Concurrency in Go", got.Title)
	require.False(t, got.IsPublished)
	require.True(t, got.Rating.IsZero())
	require.Zero(t, got.TotalRatings)

	// other shards do not have it
	_, err = db.GetCourse(ctx, "asia", course.CourseID)
	require.True(t, learningdb.ErrNotFound.Has(err))

	_, err = db.GetCourse(ctx, "atlantis", course.CourseID)
	require.True(t, topology.ErrUnknownPartition.Has(err))

	require.NoError(t, db.PublishCourse(ctx, "europe", course.CourseID))
	got, err = db.GetCourse(ctx, "europe", course.CourseID)
	require.NoError(t, err)
	require.True(t, got.IsPublished)
	require.True(t, learningdb.ErrNotFound.Has(db.PublishCourse(ctx, "europe", "missing")))

	for i, title := range []string{"Goroutines", "Channels", "Select"} {
		lesson, err := db.AddLesson(ctx, "europe", course.CourseID, title, 10*(i+1))
		require.NoError(t, err)
		require.Equal(t, i+1, lesson.Position)
	}
	_, err = db.AddLesson(ctx, "europe", "missing", "Lost", 1)
	require.True(t, learningdb.ErrNotFound.Has(err))

	lessons, err := db.Lessons(ctx, "europe", course.CourseID)
	require.NoError(t, err)
	require.Len(t, lessons, 3)
	require.Equal(t, "Select", lessons[2].Title)
	require.Equal(t, 30, lessons[2].DurationMinutes)
}

func TestEnrollmentProgress(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newTestDB(t, ctx)
	const region = "north_america"

	course, err := db.CreateCourse(ctx, region, learningdb.NewCourse{Title: "Databases"})
	require.NoError(t, err)
	var lessons []learningdb.Lesson
	for _, title := range []string{"Tables", "Indexes", "Transactions"} {
		lesson, err := db.AddLesson(ctx, region, course.CourseID, title, 15)
		require.NoError(t, err)
		lessons = append(lessons, lesson)
	}

	u1 := createUser(ctx, t, db, region, "u1@example.com")
	u2 := createUser(ctx, t, db, region, "u2@example.com")

	_, err = db.Enroll(ctx, region, "nobody", course.CourseID)
	require.True(t, learningdb.ErrNotFound.Has(err))

	enrollment, err := db.Enroll(ctx, region, u1, course.CourseID)
	require.NoError(t, err)
	require.EqualValues(t, 3, enrollment.TotalLessons)
	require.True(t, enrollment.ProgressPercentage.IsZero())
	require.Equal(t, consistency.StatusActive, enrollment.Status)

	_, err = db.Enroll(ctx, region, u1, course.CourseID)
	require.True(t, learningdb.ErrConflict.Has(err))
	_, err = db.Enroll(ctx, region, u1, "missing")
	require.True(t, learningdb.ErrNotFound.Has(err))

	progress, err := db.CourseProgress(ctx, region, enrollment.EnrollmentID)
	require.NoError(t, err)
	require.Len(t, progress, 3)
	require.Equal(t, lessons[0].LessonID, progress[0].LessonID)

	position := 42
	require.NoError(t, db.UpdateLessonProgress(ctx, region, enrollment.EnrollmentID, lessons[0].LessonID, &position, 5))
	require.NoError(t, db.UpdateLessonProgress(ctx, region, enrollment.EnrollmentID, lessons[0].LessonID, nil, 3))
	lp, err := db.GetLessonProgress(ctx, region, enrollment.EnrollmentID, lessons[0].LessonID)
	require.NoError(t, err)
	require.Equal(t, 42, lp.LastPosition)
	require.Equal(t, 8, lp.TimeSpentMinutes)
	require.False(t, lp.Completed)

	expected := []string{"33.33", "66.67", "100"}
	for i, lesson := range lessons {
		report, err := db.MarkLessonComplete(ctx, region, enrollment.EnrollmentID, lesson.LessonID, 10)
		require.NoError(t, err)
		requireDecimal(t, expected[i], report.Enrollment.ProgressPercentage)
		require.Equal(t, i == len(lessons)-1, report.Completed)
	}

	_, err = db.MarkLessonComplete(ctx, region, enrollment.EnrollmentID, "missing", 1)
	require.True(t, learningdb.ErrNotFound.Has(err))

	got, err := db.GetEnrollment(ctx, region, enrollment.EnrollmentID)
	require.NoError(t, err)
	require.Equal(t, consistency.StatusCompleted, got.Status)
	requireDecimal(t, "100", got.ProgressPercentage)
	require.EqualValues(t, 3, got.CompletedLessons)
	require.NotNil(t, got.CompletionDate)
	require.NotNil(t, got.LastAccessed)

	lp, err = db.GetLessonProgress(ctx, region, enrollment.EnrollmentID, lessons[0].LessonID)
	require.NoError(t, err)
	require.True(t, lp.Completed)
	require.NotNil(t, lp.CompletionDate)
	require.Equal(t, 18, lp.TimeSpentMinutes)

	// completion is final
	err = db.UpdateEnrollmentStatus(ctx, region, enrollment.EnrollmentID, consistency.StatusDropped)
	require.True(t, learningdb.ErrConflict.Has(err))
	err = db.UpdateEnrollmentStatus(ctx, region, enrollment.EnrollmentID, consistency.StatusCompleted)
	require.Error(t, err)

	issued, err := db.IssueCertificate(ctx, region, enrollment.EnrollmentID, "https://certs.example.com/1")
	require.NoError(t, err)
	require.True(t, issued)

	// an active enrollment cannot get a certificate
	other, err := db.Enroll(ctx, region, u2, course.CourseID)
	require.NoError(t, err)
	issued, err = db.IssueCertificate(ctx, region, other.EnrollmentID, "https://certs.example.com/2")
	require.NoError(t, err)
	require.False(t, issued)

	require.NoError(t, db.UpdateEnrollmentStatus(ctx, region, other.EnrollmentID, consistency.StatusDropped))
	enrollments, err := db.UserEnrollments(ctx, region, u2, consistency.StatusDropped)
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	enrollments, err = db.UserEnrollments(ctx, region, u2, consistency.StatusActive)
	require.NoError(t, err)
	require.Empty(t, enrollments)
	enrollments, err = db.UserEnrollments(ctx, region, u1, "")
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	require.True(t, enrollments[0].CertificateIssued)

	stats, err := db.EnrollmentStatistics(ctx, region, course.CourseID)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Total)
	require.EqualValues(t, 1, stats.Completed)
	require.EqualValues(t, 1, stats.Dropped)
	require.Zero(t, stats.Active)
	requireDecimal(t, "50", stats.AverageProgress)
	require.True(t, stats.AverageCompletionDays.IsZero())
}

func TestReviews(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newTestDB(t, ctx)
	const region = "oceania"

	course, err := db.CreateCourse(ctx, region, learningdb.NewCourse{Title: "Networking"})
	require.NoError(t, err)

	var enrollments []learningdb.Enrollment
	for _, email := range []string{"u1@example.com", "u2@example.com", "u3@example.com"} {
		enrollment, err := db.Enroll(ctx, region, createUser(ctx, t, db, region, email), course.CourseID)
		require.NoError(t, err)
		enrollments = append(enrollments, enrollment)
	}

	var report consistency.Report
	for i, rating := range []int{5, 3, 4} {
		review, r, err := db.AddReview(ctx, region, enrollments[i].EnrollmentID, rating, "review")
		require.NoError(t, err)
		require.Equal(t, rating, review.Rating)
		require.Equal(t, enrollments[i].UserID, review.UserID)
		report = r
	}
	require.EqualValues(t, 3, report.Course.TotalRatings)
	require.Equal(t, "4.00", report.Course.Rating.StringFixed(2))

	got, err := db.GetCourse(ctx, region, course.CourseID)
	require.NoError(t, err)
	requireDecimal(t, "4", got.Rating)
	require.EqualValues(t, 3, got.TotalRatings)

	// replacing a review keeps one review per enrollment
	review, report, err := db.AddReview(ctx, region, enrollments[1].EnrollmentID, 4, "better")
	require.NoError(t, err)
	require.Equal(t, "better", review.Text)
	require.EqualValues(t, 3, report.Course.TotalRatings)
	requireDecimal(t, "4.33", report.Course.Rating)

	reviews, err := db.CourseReviews(ctx, region, course.CourseID, 10, 0)
	require.NoError(t, err)
	require.Len(t, reviews, 3)
	reviews, err = db.CourseReviews(ctx, region, course.CourseID, 2, 2)
	require.NoError(t, err)
	require.Len(t, reviews, 1)

	_, _, err = db.AddReview(ctx, region, enrollments[0].EnrollmentID, 6, "")
	require.Error(t, err)
	_, _, err = db.AddReview(ctx, region, "missing", 3, "")
	require.True(t, learningdb.ErrNotFound.Has(err))
	require.False(t, consistency.ErrRecomputeFailed.Has(err))
}

func TestUsers(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newTestDB(t, ctx)

	ada, err := db.CreateUser(ctx, "Europe", learningdb.NewUser{
		Email:   "  Ada@Example.com ",
		Type:    learningdb.Instructor,
		Profile: learningdb.Profile{FirstName: "Ada", LastName: "Lovelace", Country: "UK"},
	})
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", ada.Email)
	require.Equal(t, topology.PartitionKey("europe"), ada.Region)
	require.Equal(t, learningdb.UserActive, ada.Status)
	require.Nil(t, ada.LastLogin)

	_, err = db.CreateUser(ctx, "europe", learningdb.NewUser{Email: "ADA@example.com"})
	require.True(t, learningdb.ErrConflict.Has(err))
	_, err = db.CreateUser(ctx, "europe", learningdb.NewUser{Email: "not-an-email"})
	require.Error(t, err)
	_, err = db.CreateUser(ctx, "europe", learningdb.NewUser{Email: "x@example.com", Type: "wizard"})
	require.Error(t, err)

	student, err := db.CreateUser(ctx, "europe", learningdb.NewUser{Email: "bob@example.com"})
	require.NoError(t, err)
	require.Equal(t, learningdb.Student, student.Type)

	// same shard, different region
	_, err = db.CreateUser(ctx, "africa", learningdb.NewUser{Email: "chidi@example.com"})
	require.NoError(t, err)

	got, err := db.GetUser(ctx, "europe", ada.UserID)
	require.NoError(t, err)
	require.Equal(t, ada.Profile, got.Profile)
	require.Equal(t, learningdb.Instructor, got.Type)

	byEmail, err := db.GetUserByEmail(ctx, "europe", "ADA@example.com")
	require.NoError(t, err)
	require.Equal(t, ada.UserID, byEmail.UserID)

	_, err = db.GetUser(ctx, "europe", "missing")
	require.True(t, learningdb.ErrNotFound.Has(err))
	_, err = db.GetUser(ctx, "asia", ada.UserID)
	require.True(t, learningdb.ErrNotFound.Has(err))
	_, err = db.GetUserByEmail(ctx, "europe", "nobody@example.com")
	require.True(t, learningdb.ErrNotFound.Has(err))

	profile := learningdb.Profile{FirstName: "Ada", LastName: "King", City: "London", Bio: "analyst"}
	require.NoError(t, db.UpdateUserProfile(ctx, "europe", ada.UserID, profile))
	require.True(t, learningdb.ErrNotFound.Has(db.UpdateUserProfile(ctx, "europe", "missing", profile)))
	got, err = db.GetUser(ctx, "europe", ada.UserID)
	require.NoError(t, err)
	require.Equal(t, profile, got.Profile)

	require.NoError(t, db.RecordLogin(ctx, "europe", ada.UserID))
	require.True(t, learningdb.ErrNotFound.Has(db.RecordLogin(ctx, "europe", "missing")))
	got, err = db.GetUser(ctx, "europe", ada.UserID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)

	ids := func(users []learningdb.User) (ids []string) {
		for _, user := range users {
			ids = append(ids, user.UserID)
		}
		return ids
	}

	users, err := db.ListUsers(ctx, "europe", learningdb.UserFilter{})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{ada.UserID, student.UserID}, ids(users))

	users, err = db.ListUsers(ctx, "europe", learningdb.UserFilter{Type: learningdb.Instructor})
	require.NoError(t, err)
	require.Equal(t, []string{ada.UserID}, ids(users))

	users, err = db.ListUsers(ctx, "europe", learningdb.UserFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, users, 1)

	// inactive users are kept but cannot enroll
	require.NoError(t, db.DeactivateUser(ctx, "europe", student.UserID))
	users, err = db.ListUsers(ctx, "europe", learningdb.UserFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{ada.UserID}, ids(users))
	users, err = db.ListUsers(ctx, "europe", learningdb.UserFilter{Status: learningdb.UserInactive})
	require.NoError(t, err)
	require.Equal(t, []string{student.UserID}, ids(users))

	course, err := db.CreateCourse(ctx, "europe", learningdb.NewCourse{Title: "Logic"})
	require.NoError(t, err)
	_, err = db.Enroll(ctx, "europe", student.UserID, course.CourseID)
	require.True(t, learningdb.ErrNotFound.Has(err))
}

func TestCatalog(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newTestDB(t, ctx)
	const region = "asia"

	instructor, err := db.CreateUser(ctx, region, learningdb.NewUser{Email: "teacher@example.com", Type: learningdb.Instructor})
	require.NoError(t, err)

	create := func(title, description, price string) learningdb.Course {
		course, err := db.CreateCourse(ctx, region, learningdb.NewCourse{
			Title:        title,
			Description:  description,
			InstructorID: instructor.UserID,
			Price:        decimal.RequireFromString(price),
		})
		require.NoError(t, err)
		return course
	}
	basics := create("Go Basics", "syntax and tooling", "10")
	advanced := create("Advanced Go", "Generics and concurrency", "80")
	rust := create("Rust Intro", "", "20")

	title := "Rust for Gophers"
	price := decimal.RequireFromString("25.555")
	updated, err := db.UpdateCourse(ctx, region, rust.CourseID, learningdb.CourseUpdate{Title: &title, Price: &price})
	require.NoError(t, err)
	require.Equal(t, title, updated.Title)
	requireDecimal(t, "25.56", updated.Price)
	require.Equal(t, rust.CreatedAt.Unix(), updated.CreatedAt.Unix())

	_, err = db.UpdateCourse(ctx, region, rust.CourseID, learningdb.CourseUpdate{})
	require.Error(t, err)
	empty := ""
	_, err = db.UpdateCourse(ctx, region, rust.CourseID, learningdb.CourseUpdate{Title: &empty})
	require.Error(t, err)
	_, err = db.UpdateCourse(ctx, region, "missing", learningdb.CourseUpdate{Title: &title})
	require.True(t, learningdb.ErrNotFound.Has(err))

	// unpublished courses are not listed
	popular, err := db.PopularCourses(ctx, region, 0)
	require.NoError(t, err)
	require.Empty(t, popular)

	for _, course := range []learningdb.Course{basics, advanced, rust} {
		require.NoError(t, db.PublishCourse(ctx, region, course.CourseID))
	}

	review := func(course learningdb.Course, email string, rating int) {
		enrollment, err := db.Enroll(ctx, region, createUser(ctx, t, db, region, email), course.CourseID)
		require.NoError(t, err)
		_, _, err = db.AddReview(ctx, region, enrollment.EnrollmentID, rating, "")
		require.NoError(t, err)
	}
	review(basics, "s1@example.com", 5)
	review(basics, "s2@example.com", 4)
	review(advanced, "s3@example.com", 5)

	courseIDs := func(courses []learningdb.Course) (ids []string) {
		for _, course := range courses {
			ids = append(ids, course.CourseID)
		}
		return ids
	}

	popular, err = db.PopularCourses(ctx, region, 0)
	require.NoError(t, err)
	require.Equal(t, []string{advanced.CourseID, basics.CourseID, rust.CourseID}, courseIDs(popular))
	requireDecimal(t, "4.5", popular[1].Rating)
	popular, err = db.PopularCourses(ctx, region, 2)
	require.NoError(t, err)
	require.Len(t, popular, 2)

	found, err := db.SearchCourses(ctx, region, learningdb.CourseSearch{Term: "CONCURRENCY"})
	require.NoError(t, err)
	require.Equal(t, []string{advanced.CourseID}, courseIDs(found))

	found, err = db.SearchCourses(ctx, region, learningdb.CourseSearch{Term: "go"})
	require.NoError(t, err)
	require.Equal(t, []string{advanced.CourseID, basics.CourseID, rust.CourseID}, courseIDs(found))

	maxPrice := decimal.RequireFromString("30")
	found, err = db.SearchCourses(ctx, region, learningdb.CourseSearch{MaxPrice: &maxPrice})
	require.NoError(t, err)
	require.Equal(t, []string{basics.CourseID, rust.CourseID}, courseIDs(found))

	found, err = db.SearchCourses(ctx, region, learningdb.CourseSearch{MinRating: decimal.RequireFromString("4.6")})
	require.NoError(t, err)
	require.Equal(t, []string{advanced.CourseID}, courseIDs(found))

	require.NoError(t, db.ArchiveCourse(ctx, region, basics.CourseID))
	require.True(t, learningdb.ErrNotFound.Has(db.ArchiveCourse(ctx, region, "missing")))

	archived, err := db.GetCourse(ctx, region, basics.CourseID)
	require.NoError(t, err)
	require.True(t, archived.IsArchived)
	require.False(t, archived.IsPublished)

	popular, err = db.PopularCourses(ctx, region, 0)
	require.NoError(t, err)
	require.Equal(t, []string{advanced.CourseID, rust.CourseID}, courseIDs(popular))

	_, err = db.Enroll(ctx, region, createUser(ctx, t, db, region, "late@example.com"), basics.CourseID)
	require.True(t, learningdb.ErrConflict.Has(err))

	owned, err := db.InstructorCourses(ctx, region, instructor.UserID)
	require.NoError(t, err)
	require.Len(t, owned, 3)
	enrollments := map[string]int64{}
	for _, course := range owned {
		enrollments[course.CourseID] = course.Enrollments
	}
	require.Equal(t, map[string]int64{basics.CourseID: 2, advanced.CourseID: 1, rust.CourseID: 0}, enrollments)

	owned, err = db.InstructorCourses(ctx, region, "someone-else")
	require.NoError(t, err)
	require.Empty(t, owned)
}
