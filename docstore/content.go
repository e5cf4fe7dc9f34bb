// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package docstore

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const contentsKey = "contents"

func contentKey(id string) string       { return "content:" + id }
func courseContentKey(id string) string { return "course-content:" + id }
func lessonContentKey(id string) string { return "lesson-content:" + id }

// ContentType is the kind of a content document.
type ContentType string

const (
	// Video content counts views.
	Video ContentType = "video"
	// Document content counts downloads.
	Document ContentType = "document"
)

// Content is a lesson content document.
type Content struct {
	ContentID string      `json:"content_id"`
	CourseID  string      `json:"course_id"`
	LessonID  string      `json:"lesson_id"`
	Type      ContentType `json:"content_type"`
	Title     string      `json:"title"`
	URL       string      `json:"url"`

	DurationSeconds int    `json:"duration_seconds,omitempty"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
	DocumentType    string `json:"document_type,omitempty"`
	FileSizeBytes   int64  `json:"file_size_bytes,omitempty"`
	PageCount       int    `json:"page_count,omitempty"`

	Views     int64     `json:"-"`
	Downloads int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateContent stores a new content document. It fails when a document with
// the same id exists.
func (store *Store) CreateContent(ctx context.Context, content Content) (err error) {
	defer mon.Task()(&ctx)(&err)

	if content.ContentID == "" || content.CourseID == "" {
		return Error.New("content id and course id are required")
	}
	switch content.Type {
	case Video, Document:
	default:
		return Error.New("unknown content type %q", content.Type)
	}

	content.CreatedAt = now()
	content.UpdatedAt = content.CreatedAt
	doc, err := json.Marshal(content)
	if err != nil {
		return Error.Wrap(err)
	}

	key := contentKey(content.ContentID)
	created, err := store.db.HSetNX(ctx, key, "doc", doc).Result()
	if err != nil {
		return Error.Wrap(err)
	}
	if !created {
		return Error.New("content %q already exists", content.ContentID)
	}

	_, err = store.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "type", string(content.Type), "views", 0, "downloads", 0)
		pipe.SAdd(ctx, contentsKey, content.ContentID)
		pipe.ZAdd(ctx, courseContentKey(content.CourseID), redis.Z{
			Score:  float64(content.CreatedAt.UnixNano()),
			Member: content.ContentID,
		})
		if content.LessonID != "" {
			pipe.Set(ctx, lessonContentKey(content.LessonID), content.ContentID, 0)
		}
		return nil
	})
	if err != nil {
		return Error.Wrap(err)
	}

	store.log.Debug("created content", zap.String("content", content.ContentID), zap.String("course", content.CourseID))
	return nil
}

// GetContent returns a content document.
func (store *Store) GetContent(ctx context.Context, contentID string) (_ Content, err error) {
	defer mon.Task()(&ctx)(&err)
	return store.getContent(ctx, contentID)
}

func (store *Store) getContent(ctx context.Context, contentID string) (content Content, err error) {
	fields, err := store.db.HMGet(ctx, contentKey(contentID), "doc", "views", "downloads").Result()
	if err != nil {
		return content, Error.Wrap(err)
	}
	doc, ok := fields[0].(string)
	if !ok {
		return content, ErrNotFound.New("content %q", contentID)
	}
	if err := decode(doc, &content); err != nil {
		return content, err
	}
	content.Views = parseCount(fields[1])
	content.Downloads = parseCount(fields[2])
	return content, nil
}

func parseCount(field interface{}) int64 {
	s, _ := field.(string)
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// GetLessonContent returns the content document of a lesson.
func (store *Store) GetLessonContent(ctx context.Context, lessonID string) (_ Content, err error) {
	defer mon.Task()(&ctx)(&err)

	contentID, err := store.db.Get(ctx, lessonContentKey(lessonID)).Result()
	if isNil(err) {
		return Content{}, ErrNotFound.New("lesson %q", lessonID)
	}
	if err != nil {
		return Content{}, Error.Wrap(err)
	}
	return store.getContent(ctx, contentID)
}

// CourseContents returns the content documents of a course in creation order.
func (store *Store) CourseContents(ctx context.Context, courseID string) (_ []Content, err error) {
	defer mon.Task()(&ctx)(&err)

	ids, err := store.db.ZRange(ctx, courseContentKey(courseID), 0, -1).Result()
	if err != nil {
		return nil, Error.Wrap(err)
	}

	contents := make([]Content, 0, len(ids))
	for _, id := range ids {
		content, err := store.getContent(ctx, id)
		if ErrNotFound.Has(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		contents = append(contents, content)
	}
	return contents, nil
}

// DeleteContent deletes a content document. It reports whether it existed.
func (store *Store) DeleteContent(ctx context.Context, contentID string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	content, err := store.getContent(ctx, contentID)
	if ErrNotFound.Has(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	_, err = store.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, contentKey(contentID))
		pipe.SRem(ctx, contentsKey, contentID)
		pipe.ZRem(ctx, courseContentKey(content.CourseID), contentID)
		if content.LessonID != "" {
			pipe.Del(ctx, lessonContentKey(content.LessonID))
		}
		return nil
	})
	return err == nil, Error.Wrap(err)
}

// incrementScript increments a counter of a content document when the
// document has the expected type.
var incrementScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'type') ~= ARGV[1] then
	return -1
end
return redis.call('HINCRBY', KEYS[1], ARGV[2], 1)
`)

// IncrementViews counts a view of a video. It reports false when the
// document does not exist or is not a video.
func (store *Store) IncrementViews(ctx context.Context, contentID string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	return store.increment(ctx, contentID, Video, "views")
}

// IncrementDownloads counts a download of a document. It reports false when
// the document does not exist or is not a document.
func (store *Store) IncrementDownloads(ctx context.Context, contentID string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)
	return store.increment(ctx, contentID, Document, "downloads")
}

func (store *Store) increment(ctx context.Context, contentID string, kind ContentType, field string) (bool, error) {
	n, err := incrementScript.Run(ctx, store.db, []string{contentKey(contentID)}, string(kind), field).Int64()
	if err != nil {
		return false, Error.Wrap(err)
	}
	return n >= 0, nil
}
