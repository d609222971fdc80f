package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/internal/utils"
)

// CreateTestUser builds a user with a hashed password, ready to insert
func CreateTestUser(username, password string, role models.Role) (*models.User, error) {
	hashedPassword, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	return &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hashedPassword,
		Role:         role,
	}, nil
}

// DefaultCreator returns a default creator account
func DefaultCreator() (*models.User, error) {
	return CreateTestUser("creator", "Creator123456", models.RoleCreator)
}

// DefaultConsumer returns a default consumer account
func DefaultConsumer() (*models.User, error) {
	return CreateTestUser("viewer", "Viewer123456", models.RoleConsumer)
}

// CreateTestVideo builds a video record uploaded at the given time
func CreateTestVideo(title string, uploadedAt time.Time, tags ...string) *models.Video {
	id := uuid.NewString()
	video := &models.Video{
		ID:         id,
		UploaderID: uuid.NewString(),
		Title:      title,
		ObjectKey:  "videos/" + id + "/clip.mp4",
		URL:        "https://cdn.example.com/videos/" + id + "/clip.mp4",
		UploadedAt: uploadedAt,
	}
	for _, tag := range tags {
		video.Hashtags = append(video.Hashtags, models.Hashtag{VideoID: id, Tag: tag})
	}
	return video
}
