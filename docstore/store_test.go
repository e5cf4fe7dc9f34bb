// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package docstore_test

import (
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/regionshard/docstore"
	"storj.io/regionshard/private/testcontext"
	"storj.io/regionshard/topology"
)

func openStore(t *testing.T) (*miniredis.Miniredis, *docstore.Store) {
	server := miniredis.RunT(t)
	store, err := docstore.Open(zaptest.NewLogger(t), "redis://"+server.Addr()+"?db=0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return server, store
}

func TestOpen(t *testing.T) {
	store, err := docstore.Open(zaptest.NewLogger(t), "redis://:hunter2@cache:6380?db=3")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.Equal(t, topology.EndpointRef{
		Host:     "cache",
		Port:     6380,
		Database: "db3",
		Role:     topology.DocumentStore,
	}, store.Endpoint())
	require.Equal(t, "docstore(cache:6380/db3)", store.Endpoint().String())

	noport, err := docstore.Open(zaptest.NewLogger(t), "redis://cache")
	require.NoError(t, err)
	defer func() { _ = noport.Close() }()
	require.Equal(t, 6379, noport.Endpoint().Port)
	require.Equal(t, "cache:6379", noport.Addr())

	for _, address := range []string{"http://localhost:6379", "redis://localhost:6379?db=x", "://"} {
		_, err := docstore.Open(zaptest.NewLogger(t), address)
		require.Error(t, err, address)
	}
}

func TestPing(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server, store := openStore(t)
	require.NoError(t, store.Ping(ctx))

	server.Close()
	require.Error(t, store.Ping(ctx))
}

func TestContent(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, store := openStore(t)

	_, err := store.GetContent(ctx, "missing")
	require.True(t, docstore.ErrNotFound.Has(err))

	video := docstore.Content{
		ContentID:       "v1",
		CourseID:        "go-101",
		LessonID:        "l1",
		Type:            docstore.Video,
		Title:           "Goroutines",
		URL:             "https://cdn.example.com/v1.mp4",
		DurationSeconds: 600,
	}
	document := docstore.Content{
		ContentID:     "d1",
		CourseID:      "go-101",
		LessonID:      "l2",
		Type:          docstore.Document,
		Title:         "Cheat sheet",
		URL:           "https://cdn.example.com/d1.pdf",
		DocumentType:  "pdf",
		FileSizeBytes: 1 << 20,
		PageCount:     4,
	}
	require.NoError(t, store.CreateContent(ctx, video))
	require.NoError(t, store.CreateContent(ctx, document))
	require.Error(t, store.CreateContent(ctx, video))
	require.Error(t, store.CreateContent(ctx, docstore.Content{ContentID: "x", CourseID: "go-101", Type: "audio"}))

	got, err := store.GetContent(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, "Goroutines", got.Title)
	require.Equal(t, 600, got.DurationSeconds)
	require.False(t, got.CreatedAt.IsZero())

	got, err = store.GetLessonContent(ctx, "l2")
	require.NoError(t, err)
	require.Equal(t, "d1", got.ContentID)

	_, err = store.GetLessonContent(ctx, "l9")
	require.True(t, docstore.ErrNotFound.Has(err))

	contents, err := store.CourseContents(ctx, "go-101")
	require.NoError(t, err)
	require.Len(t, contents, 2)

	// counters only apply to the matching type
	for i := 0; i < 3; i++ {
		ok, err := store.IncrementViews(ctx, "v1")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := store.IncrementViews(ctx, "d1")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.IncrementDownloads(ctx, "d1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.IncrementDownloads(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	got, err = store.GetContent(ctx, "v1")
	require.NoError(t, err)
	require.EqualValues(t, 3, got.Views)
	require.Zero(t, got.Downloads)

	got, err = store.GetContent(ctx, "d1")
	require.NoError(t, err)
	require.EqualValues(t, 1, got.Downloads)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, docstore.Stats{Contents: 2}, stats)

	deleted, err := store.DeleteContent(ctx, "v1")
	require.NoError(t, err)
	require.True(t, deleted)
	deleted, err = store.DeleteContent(ctx, "v1")
	require.NoError(t, err)
	require.False(t, deleted)

	contents, err = store.CourseContents(ctx, "go-101")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	_, err = store.GetLessonContent(ctx, "l1")
	require.True(t, docstore.ErrNotFound.Has(err))
}

func TestPreferences(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, store := openStore(t)

	_, err := store.GetPreferences(ctx, "u1")
	require.True(t, docstore.ErrNotFound.Has(err))

	require.NoError(t, store.SetPreferences(ctx, docstore.Preferences{
		UserID: "u1",
		Learning: &docstore.LearningPreferences{
			PreferredCategories: []string{"programming"},
			DifficultyLevel:     "beginner",
		},
		Notifications: &docstore.NotificationPreferences{Email: true},
	}))
	require.Error(t, store.SetPreferences(ctx, docstore.Preferences{}))

	prefs, err := store.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "u1", prefs.UserID)
	require.Equal(t, "beginner", prefs.Learning.DifficultyLevel)
	require.True(t, prefs.Notifications.Email)
	require.False(t, prefs.Notifications.Push)
	require.Empty(t, prefs.RecentlyViewed)

	for i := 0; i < docstore.RecentlyViewedLimit+5; i++ {
		require.NoError(t, store.AddRecentlyViewed(ctx, "u1", fmt.Sprintf("course-%d", i)))
	}
	require.NoError(t, store.AddRecentlyViewed(ctx, "u1", "course-10"))

	require.NoError(t, store.AddToWishlist(ctx, "u1", "go-101"))
	require.NoError(t, store.AddToWishlist(ctx, "u1", "go-101"))
	require.NoError(t, store.AddToWishlist(ctx, "u1", "rust-101"))

	prefs, err = store.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, prefs.RecentlyViewed, docstore.RecentlyViewedLimit)
	require.Equal(t, "course-10", prefs.RecentlyViewed[0])
	require.Equal(t, fmt.Sprintf("course-%d", docstore.RecentlyViewedLimit+4), prefs.RecentlyViewed[1])
	require.ElementsMatch(t, []string{"go-101", "rust-101"}, prefs.Wishlist)

	removed, err := store.RemoveFromWishlist(ctx, "u1", "go-101")
	require.NoError(t, err)
	require.True(t, removed)
	removed, err = store.RemoveFromWishlist(ctx, "u1", "go-101")
	require.NoError(t, err)
	require.False(t, removed)

	// a wishlist alone makes a preferences document
	require.NoError(t, store.AddToWishlist(ctx, "u2", "go-101"))
	prefs, err = store.GetPreferences(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, "u2", prefs.UserID)
	require.Nil(t, prefs.Learning)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Preferences)

	require.NoError(t, store.DeletePreferences(ctx, "u1"))
	_, err = store.GetPreferences(ctx, "u1")
	require.True(t, docstore.ErrNotFound.Has(err))
}
