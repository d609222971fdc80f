package models

import "time"

// Comment belongs to a video by id only; the video is not a foreign key.
type Comment struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	VideoID   string    `gorm:"type:varchar(64);not null;index" json:"videoId"`
	UserID    string    `gorm:"type:varchar(64);not null" json:"userId"`
	Body      string    `gorm:"type:text;not null" json:"comment"`
	CreatedAt time.Time `gorm:"index" json:"timestamp"`
}
