package models

import "time"

// Video is the metadata record of an uploaded video. The binary lives in the
// object store under ObjectKey.
type Video struct {
	ID           string    `gorm:"type:varchar(36);primaryKey"`
	UploaderID   string    `gorm:"type:varchar(64);index"`
	Title        string    `gorm:"type:varchar(255);not null"`
	Description  string    `gorm:"type:text"`
	ObjectKey    string    `gorm:"type:varchar(512);not null"`
	ThumbnailKey string    `gorm:"type:varchar(512)"`
	URL          string    `gorm:"type:text;not null"`
	ThumbnailURL string    `gorm:"type:text"`
	Hashtags     []Hashtag `gorm:"foreignKey:VideoID;constraint:OnDelete:CASCADE"`
	UploadedAt   time.Time `gorm:"index;not null"`
}

// Hashtag is one normalised tag of a video.
type Hashtag struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	VideoID string `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_video_tag"`
	Tag     string `gorm:"type:varchar(100);not null;index;uniqueIndex:idx_video_tag"`
}

func (Hashtag) TableName() string {
	return "video_hashtags"
}

// Tags returns the hashtag strings in stored order.
func (v *Video) Tags() []string {
	tags := make([]string, 0, len(v.Hashtags))
	for _, h := range v.Hashtags {
		tags = append(tags, h.Tag)
	}
	return tags
}
