// internal/model/user.go
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is owned by the identity service; this service only reads profile
// fields and maintains is_online / last_seen.
type User struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Username    string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"username"`
	DisplayName string    `gorm:"type:varchar(100)" json:"displayName,omitempty"`
	AvatarURL   *string   `gorm:"type:text" json:"avatarUrl,omitempty"`
	IsOnline    bool      `gorm:"not null;default:false;index" json:"isOnline"`
	LastSeen    time.Time `json:"lastSeen"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (u *User) Summary() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		IsOnline:    u.IsOnline,
		LastSeen:    u.LastSeen,
	}
}

// UserSummary is the display projection joined onto messages and partner lists.
type UserSummary struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	AvatarURL   *string   `json:"avatarUrl,omitempty"`
	IsOnline    bool      `json:"isOnline"`
	LastSeen    time.Time `json:"lastSeen"`
}

// PartnerSummary is one row of the conversation partner list.
type PartnerSummary struct {
	User        UserSummary `json:"user"`
	UnreadCount int64       `json:"unreadCount"`
}
