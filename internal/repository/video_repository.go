package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/vidshare/backend/internal/models"
	"gorm.io/gorm"
)

// likeEscape is the LIKE escape character. '!' needs no quoting on postgres, mysql or sqlite.
const likeEscape = "!"

var likeReplacer = strings.NewReplacer(
	likeEscape, likeEscape+likeEscape,
	"%", likeEscape+"%",
	"_", likeEscape+"_",
)

// VideoQuery filters a listing. An empty Search lists everything; Limit <= 0 means no cap.
type VideoQuery struct {
	Search string
	Limit  int
}

type VideoRepository struct {
	db *gorm.DB
}

func NewVideoRepository(db *gorm.DB) *VideoRepository {
	return &VideoRepository{db: db}
}

// CreateVideo inserts the video and its hashtags in one transaction.
func (r *VideoRepository) CreateVideo(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return fmt.Errorf("create video: %w", err)
	}
	return nil
}

func (r *VideoRepository) VideoExists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Video{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count video: %w", err)
	}
	return count > 0, nil
}

// ListVideos returns videos newest first. With a search term it keeps videos
// whose lower-cased title contains the term or whose hashtags include it.
func (r *VideoRepository) ListVideos(ctx context.Context, q VideoQuery) ([]models.Video, error) {
	db := r.db.WithContext(ctx)

	query := db.Model(&models.Video{}).
		Preload("Hashtags", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("id ASC")
		}).
		Order("uploaded_at DESC")

	if term := strings.ToLower(strings.TrimSpace(q.Search)); term != "" {
		pattern := "%" + likeReplacer.Replace(term) + "%"
		tag := strings.TrimPrefix(term, "#")
		tagged := db.Model(&models.Hashtag{}).Select("video_id").Where("tag = ?", tag)

		query = query.Where(
			"LOWER(title) LIKE ? ESCAPE '"+likeEscape+"' OR id IN (?)",
			pattern, tagged,
		)
	}

	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var videos []models.Video
	if err := query.Find(&videos).Error; err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	return videos, nil
}
