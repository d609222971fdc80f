package models

import (
	"time"
)

type Role string

const (
	RoleCreator  Role = "creator"
	RoleConsumer Role = "consumer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleCreator || r == RoleConsumer
}

type User struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Username     string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"` // Never expose password hash in JSON
	Role         Role      `gorm:"type:varchar(20);not null" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
