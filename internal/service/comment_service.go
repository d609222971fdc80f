package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vidshare/backend/internal/apperror"
	"github.com/vidshare/backend/internal/broker"
	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/pkg/logger"
	"go.uber.org/zap"
)

// MaxCommentLength is counted in runes.
const MaxCommentLength = 2000

type CommentStore interface {
	CreateComment(ctx context.Context, comment *models.Comment) error
	ListByVideo(ctx context.Context, videoID string) ([]models.Comment, error)
}

// VideoLookup answers whether a video exists.
type VideoLookup interface {
	VideoExists(ctx context.Context, id string) (bool, error)
}

type CommentServiceConfig struct {
	StoreTimeout time.Duration
	RequireVideo bool
}

type CommentService struct {
	comments CommentStore
	videos   VideoLookup
	events   broker.EventBroker
	cfg      CommentServiceConfig
}

func NewCommentService(comments CommentStore, videos VideoLookup, events broker.EventBroker, cfg CommentServiceConfig) *CommentService {
	if events == nil {
		events = broker.Noop{}
	}
	return &CommentService{
		comments: comments,
		videos:   videos,
		events:   events,
		cfg:      cfg,
	}
}

type postCommentInput struct {
	VideoID string `json:"videoId" validate:"required,max=64"`
	UserID  string `json:"userId" validate:"required,max=64"`
	Body    string `json:"comment" validate:"required,max=2000"`
}

// Post stores a comment and announces it on the video's topic.
func (s *CommentService) Post(ctx context.Context, videoID, userID, body string) (*models.Comment, error) {
	input := postCommentInput{
		VideoID: strings.TrimSpace(videoID),
		UserID:  strings.TrimSpace(userID),
		Body:    strings.TrimSpace(body),
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}

	if s.cfg.RequireVideo && s.videos != nil {
		existsCtx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
		exists, err := s.videos.VideoExists(existsCtx, input.VideoID)
		cancel()
		if err != nil {
			logger.Log.Error("Failed to check video existence",
				zap.String("video_id", input.VideoID),
				zap.Error(err),
			)
			return nil, apperror.Storage(err)
		}
		if !exists {
			return nil, apperror.Validation("video not found")
		}
	}

	comment := &models.Comment{
		ID:        uuid.NewString(),
		VideoID:   input.VideoID,
		UserID:    input.UserID,
		Body:      input.Body,
		CreatedAt: time.Now().UTC(),
	}

	createCtx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
	err := s.comments.CreateComment(createCtx, comment)
	cancel()
	if err != nil {
		logger.Log.Error("Failed to save comment",
			zap.String("video_id", comment.VideoID),
			zap.Error(err),
		)
		return nil, apperror.Storage(err)
	}

	s.publishPosted(ctx, comment)

	logger.Log.Info("Comment posted",
		zap.String("comment_id", comment.ID),
		zap.String("video_id", comment.VideoID),
		zap.String("user_id", comment.UserID),
	)
	return comment, nil
}

func (s *CommentService) publishPosted(ctx context.Context, comment *models.Comment) {
	event, err := broker.NewEvent(broker.EventCommentPosted, comment)
	if err != nil {
		logger.Log.Warn("Failed to encode comment event", zap.Error(err))
		return
	}

	pubCtx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.events.Publish(pubCtx, broker.CommentsTopic(comment.VideoID), event); err != nil {
		logger.Log.Warn("Failed to publish comment event",
			zap.String("comment_id", comment.ID),
			zap.Error(err),
		)
	}
}

// List returns the comments of a video, oldest first.
func (s *CommentService) List(ctx context.Context, videoID string) ([]models.Comment, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return nil, apperror.Validation("missing required fields: videoId")
	}

	listCtx, cancel := storeContext(ctx, s.cfg.StoreTimeout)
	defer cancel()

	comments, err := s.comments.ListByVideo(listCtx, videoID)
	if err != nil {
		logger.Log.Error("Failed to list comments",
			zap.String("video_id", videoID),
			zap.Error(err),
		)
		return nil, apperror.Storage(err)
	}
	return comments, nil
}

// Subscribe streams comment events for a video. It fails with
// broker.ErrUnavailable when no broker is configured.
func (s *CommentService) Subscribe(ctx context.Context, videoID string) (<-chan broker.Event, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return nil, apperror.Validation("missing required fields: videoId")
	}
	return s.events.Subscribe(ctx, broker.CommentsTopic(videoID))
}
