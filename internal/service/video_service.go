package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/vidshare/backend/internal/apperror"
	"github.com/vidshare/backend/internal/broker"
	"github.com/vidshare/backend/internal/journal"
	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/internal/repository"
	"github.com/vidshare/backend/internal/storage"
	"github.com/vidshare/backend/pkg/logger"
	"go.uber.org/zap"
)

const (
	defaultContentType = "video/mp4"
	maxHashtagLength   = 100
	maxSlugLength      = 80
)

// VideoStore is the metadata store used by VideoService.
type VideoStore interface {
	CreateVideo(ctx context.Context, video *models.Video) error
	ListVideos(ctx context.Context, q repository.VideoQuery) ([]models.Video, error)
}

// OrphanJournal records objects that could not be cleaned up.
type OrphanJournal interface {
	Append(entry journal.OrphanEntry) error
	ReadAll() ([]journal.OrphanEntry, error)
	Remove(resolvedKeys []string) error
}

type VideoServiceConfig struct {
	StoreTimeout   time.Duration
	ListLimit      int   // 0 = all
	MaxUploadBytes int64 // 0 = unlimited
}

type VideoService struct {
	videos  VideoStore
	objects storage.ObjectStore
	orphans OrphanJournal
	events  broker.EventBroker
	cfg     VideoServiceConfig
}

func NewVideoService(
	videos VideoStore,
	objects storage.ObjectStore,
	orphans OrphanJournal,
	events broker.EventBroker,
	cfg VideoServiceConfig,
) *VideoService {
	if events == nil {
		events = broker.Noop{}
	}
	return &VideoService{
		videos:  videos,
		objects: objects,
		orphans: orphans,
		events:  events,
		cfg:     cfg,
	}
}

// UploadInput carries either raw Content or a VideoBlobName pointing at an
// object that is already in the store.
// Length caps follow the column widths of models.Video.
type UploadInput struct {
	UploaderID        string `json:"creatorId" validate:"max=64"`
	Title             string `json:"title" validate:"required,max=255"`
	Description       string
	Hashtags          []string
	Content           io.Reader
	ContentType       string
	VideoBlobName     string `json:"videoBlobName" validate:"max=512"`
	ThumbnailBlobName string `json:"thumbnailBlobName" validate:"max=512"`
}

// VideoUploadedEvent is the payload of a video.uploaded event.
type VideoUploadedEvent struct {
	VideoID    string    `json:"videoId"`
	UploaderID string    `json:"uploaderId,omitempty"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Upload writes the object, then the metadata. When the metadata write fails
// the object is deleted again; if that fails too the key goes to the journal.
// A video is listed only once both writes succeeded.
func (s *VideoService) Upload(ctx context.Context, in UploadInput) (*models.Video, error) {
	start := time.Now()

	in.Title = strings.TrimSpace(in.Title)
	in.VideoBlobName = strings.TrimSpace(in.VideoBlobName)
	in.ThumbnailBlobName = strings.TrimSpace(in.ThumbnailBlobName)

	if err := validateInput(in); err != nil {
		return nil, err
	}

	hasContent := in.Content != nil
	hasBlob := in.VideoBlobName != ""
	switch {
	case !hasContent && !hasBlob:
		return nil, apperror.Validation("missing required fields: video")
	case hasContent && hasBlob:
		return nil, apperror.Validation("provide either video content or videoBlobName, not both")
	}

	hashtags, err := NormalizeHashtags(in.Hashtags)
	if err != nil {
		return nil, err
	}

	video := &models.Video{
		ID:          uuid.NewString(),
		UploaderID:  in.UploaderID,
		Title:       in.Title,
		Description: in.Description,
	}
	for _, tag := range hashtags {
		video.Hashtags = append(video.Hashtags, models.Hashtag{VideoID: video.ID, Tag: tag})
	}

	// 1. Object write
	objectWritten := false
	if hasContent {
		data, err := s.readContent(in.Content)
		if err != nil {
			return nil, err
		}

		contentType := in.ContentType
		if contentType == "" {
			contentType = defaultContentType
		}

		video.ObjectKey = fmt.Sprintf("videos/%s/%s.mp4", video.ID, Slugify(in.Title))

		putCtx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
		url, err := s.objects.Put(putCtx, video.ObjectKey, bytes.NewReader(data), contentType)
		cancel()
		if err != nil {
			logger.Log.Error("Object write failed",
				zap.String("video_id", video.ID),
				zap.String("object_key", video.ObjectKey),
				zap.Error(err),
			)
			return nil, apperror.Storage(err)
		}
		video.URL = url
		objectWritten = true

		logger.Log.Debug("Object written",
			zap.String("object_key", video.ObjectKey),
			zap.Int("bytes", len(data)),
		)
	} else {
		video.ObjectKey = in.VideoBlobName
		video.URL = s.objects.URL(in.VideoBlobName)
		if in.ThumbnailBlobName != "" {
			video.ThumbnailKey = in.ThumbnailBlobName
			video.ThumbnailURL = s.objects.URL(in.ThumbnailBlobName)
		}
	}

	// 2. Metadata write
	video.UploadedAt = time.Now().UTC()

	createCtx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
	err = s.videos.CreateVideo(createCtx, video)
	cancel()
	if err != nil {
		logger.Log.Error("Metadata write failed",
			zap.String("video_id", video.ID),
			zap.Error(err),
		)
		// 3. Compensation
		if objectWritten {
			s.compensate(ctx, video, err)
		}
		return nil, apperror.Storage(err)
	}

	s.publishUploaded(ctx, video)

	logger.Log.Info("Video uploaded successfully",
		zap.String("video_id", video.ID),
		zap.String("uploader_id", video.UploaderID),
		zap.String("object_key", video.ObjectKey),
		zap.Int("hashtags", len(video.Hashtags)),
		zap.Duration("total_duration", time.Since(start)),
	)

	return video, nil
}

func (s *VideoService) readContent(content io.Reader) ([]byte, error) {
	if s.cfg.MaxUploadBytes > 0 {
		content = io.LimitReader(content, s.cfg.MaxUploadBytes+1)
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return nil, apperror.Validation("could not read video content")
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, apperror.Validation(fmt.Sprintf("video exceeds maximum size of %d bytes", s.cfg.MaxUploadBytes))
	}
	if len(data) == 0 {
		return nil, apperror.Validation("video content is empty")
	}
	return data, nil
}

// compensate deletes an object whose metadata never made it to the store.
// It runs even if the request context is already cancelled.
func (s *VideoService) compensate(ctx context.Context, video *models.Video, cause error) {
	deleteCtx, cancel := storeContext(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()

	err := s.objects.Delete(deleteCtx, video.ObjectKey)
	if err == nil {
		logger.Log.Warn("Compensation: orphaned object deleted",
			zap.String("video_id", video.ID),
			zap.String("object_key", video.ObjectKey),
		)
		return
	}

	logger.Log.Error("Compensation: delete failed, recording orphan",
		zap.String("video_id", video.ID),
		zap.String("object_key", video.ObjectKey),
		zap.Error(err),
	)

	if s.orphans == nil {
		return
	}
	entry := journal.OrphanEntry{
		ObjectKey: video.ObjectKey,
		VideoID:   video.ID,
		Reason:    cause.Error(),
		Timestamp: time.Now().UTC(),
	}
	if err := s.orphans.Append(entry); err != nil {
		logger.Log.Error("Compensation: journal append failed",
			zap.String("object_key", video.ObjectKey),
			zap.Error(err),
		)
	}
}

func (s *VideoService) publishUploaded(ctx context.Context, video *models.Video) {
	event, err := broker.NewEvent(broker.EventVideoUploaded, VideoUploadedEvent{
		VideoID:    video.ID,
		UploaderID: video.UploaderID,
		Title:      video.Title,
		URL:        video.URL,
		UploadedAt: video.UploadedAt,
	})
	if err != nil {
		logger.Log.Warn("Failed to encode upload event", zap.Error(err))
		return
	}

	pubCtx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.events.Publish(pubCtx, broker.UploadsTopic, event); err != nil {
		logger.Log.Warn("Failed to publish upload event",
			zap.String("video_id", video.ID),
			zap.Error(err),
		)
	}
}

// List returns videos newest first. A non-empty search keeps videos whose
// title contains it or whose hashtags include it, ignoring case.
func (s *VideoService) List(ctx context.Context, search string) ([]models.Video, error) {
	listCtx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
	defer cancel()

	videos, err := s.videos.ListVideos(listCtx, repository.VideoQuery{
		Search: search,
		Limit:  s.cfg.ListLimit,
	})
	if err != nil {
		logger.Log.Error("Failed to list videos",
			zap.String("search", search),
			zap.Error(err),
		)
		return nil, apperror.Storage(err)
	}

	logger.Log.Debug("Listed videos",
		zap.String("search", search),
		zap.Int("count", len(videos)),
	)
	return videos, nil
}

// RetryCompensations retries the delete of every journaled orphan and
// drops the entries that succeeded. It returns how many were resolved.
func (s *VideoService) RetryCompensations(ctx context.Context) (int, error) {
	if s.orphans == nil {
		return 0, nil
	}

	entries, err := s.orphans.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("read orphan journal: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var resolved []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			break
		}

		deleteCtx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
		err := s.objects.Delete(deleteCtx, entry.ObjectKey)
		cancel()
		if err != nil {
			logger.Log.Warn("Orphan delete retry failed",
				zap.String("object_key", entry.ObjectKey),
				zap.Error(err),
			)
			continue
		}
		resolved = append(resolved, entry.ObjectKey)
	}

	if err := s.orphans.Remove(resolved); err != nil {
		return 0, fmt.Errorf("compact orphan journal: %w", err)
	}

	logger.Log.Info("Orphan compensation retry finished",
		zap.Int("resolved", len(resolved)),
		zap.Int("remaining", len(entries)-len(resolved)),
	)
	return len(resolved), nil
}

// NormalizeHashtags trims, strips leading '#', lower-cases and de-duplicates
// tags, keeping first-seen order. Empty tags are dropped.
func NormalizeHashtags(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	tags := make([]string, 0, len(raw))

	for _, r := range raw {
		tag := strings.ToLower(strings.TrimLeft(strings.TrimSpace(r), "#"))
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if utf8.RuneCountInString(tag) > maxHashtagLength {
			return nil, apperror.Validation(fmt.Sprintf("hashtag must be at most %d characters", maxHashtagLength))
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	return tags, nil
}

// Slugify turns a title into a lower-case, dash-separated key segment.
func Slugify(title string) string {
	var b strings.Builder
	dash := false

	for _, r := range strings.ToLower(title) {
		if r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return "video"
	}
	return slug
}
