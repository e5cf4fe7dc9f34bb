// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package docstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RecentlyViewedLimit is the number of recently viewed courses kept per user.
const RecentlyViewedLimit = 20

const preferencesKey = "preferences"

func userPreferencesKey(id string) string { return "preferences:" + id }
func recentlyViewedKey(id string) string  { return "recently-viewed:" + id }
func wishlistKey(id string) string        { return "wishlist:" + id }

// LearningPreferences describe what a user wants to learn.
type LearningPreferences struct {
	PreferredCategories []string `json:"preferred_categories,omitempty"`
	PreferredLanguages  []string `json:"preferred_languages,omitempty"`
	DifficultyLevel     string   `json:"difficulty_level,omitempty"`
	LearningPace        string   `json:"learning_pace,omitempty"`
}

// NotificationPreferences describe which notifications a user receives.
type NotificationPreferences struct {
	Email         bool `json:"email"`
	Push          bool `json:"push"`
	CourseUpdates bool `json:"course_updates"`
	Promotional   bool `json:"promotional"`
}

// Preferences is the preferences document of a user.
type Preferences struct {
	UserID         string                   `json:"user_id"`
	Learning       *LearningPreferences     `json:"learning,omitempty"`
	Notifications  *NotificationPreferences `json:"notifications,omitempty"`
	RecentlyViewed []string                 `json:"-"`
	Wishlist       []string                 `json:"-"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// SetPreferences replaces the learning and notification preferences of a user.
func (store *Store) SetPreferences(ctx context.Context, prefs Preferences) (err error) {
	defer mon.Task()(&ctx)(&err)

	if prefs.UserID == "" {
		return Error.New("user id is required")
	}
	prefs.UpdatedAt = now()
	doc, err := json.Marshal(prefs)
	if err != nil {
		return Error.Wrap(err)
	}

	_, err = store.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, userPreferencesKey(prefs.UserID), doc, 0)
		pipe.SAdd(ctx, preferencesKey, prefs.UserID)
		return nil
	})
	return Error.Wrap(err)
}

// GetPreferences returns the preferences of a user.
func (store *Store) GetPreferences(ctx context.Context, userID string) (prefs Preferences, err error) {
	defer mon.Task()(&ctx)(&err)

	var doc *redis.StringCmd
	var recent *redis.StringSliceCmd
	var wishlist *redis.StringSliceCmd
	_, err = store.db.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		doc = pipe.Get(ctx, userPreferencesKey(userID))
		recent = pipe.LRange(ctx, recentlyViewedKey(userID), 0, -1)
		wishlist = pipe.SMembers(ctx, wishlistKey(userID))
		return nil
	})
	if err != nil && !isNil(err) {
		return prefs, Error.Wrap(err)
	}

	data, err := doc.Result()
	switch {
	case isNil(err):
		if len(recent.Val()) == 0 && len(wishlist.Val()) == 0 {
			return prefs, ErrNotFound.New("preferences of %q", userID)
		}
		prefs.UserID = userID
	case err != nil:
		return prefs, Error.Wrap(err)
	default:
		if err := decode(data, &prefs); err != nil {
			return prefs, err
		}
	}
	prefs.RecentlyViewed = recent.Val()
	prefs.Wishlist = wishlist.Val()
	return prefs, nil
}

// DeletePreferences removes every preference of a user.
func (store *Store) DeletePreferences(ctx context.Context, userID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = store.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, userPreferencesKey(userID), recentlyViewedKey(userID), wishlistKey(userID))
		pipe.SRem(ctx, preferencesKey, userID)
		return nil
	})
	return Error.Wrap(err)
}

// AddRecentlyViewed records that a user viewed a course. Only the latest
// RecentlyViewedLimit distinct courses are kept, most recent first.
func (store *Store) AddRecentlyViewed(ctx context.Context, userID, courseID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	key := recentlyViewedKey(userID)
	_, err = store.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, key, 0, courseID)
		pipe.LPush(ctx, key, courseID)
		pipe.LTrim(ctx, key, 0, RecentlyViewedLimit-1)
		pipe.SAdd(ctx, preferencesKey, userID)
		return nil
	})
	return Error.Wrap(err)
}

// AddToWishlist adds a course to the wishlist of a user.
func (store *Store) AddToWishlist(ctx context.Context, userID, courseID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = store.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, wishlistKey(userID), courseID)
		pipe.SAdd(ctx, preferencesKey, userID)
		return nil
	})
	return Error.Wrap(err)
}

// RemoveFromWishlist removes a course from the wishlist of a user. It
// reports whether the course was on the list.
func (store *Store) RemoveFromWishlist(ctx context.Context, userID, courseID string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	removed, err := store.db.SRem(ctx, wishlistKey(userID), courseID).Result()
	return removed > 0, Error.Wrap(err)
}
