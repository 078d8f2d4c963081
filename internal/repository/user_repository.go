package repository

import (
	"context"
	"time"

	"dm-service/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRepository interface {
	SetOnlineStatus(ctx context.Context, userID uuid.UUID, online bool) error
	ListOnlineUserIDs(ctx context.Context) ([]uuid.UUID, error)
	ListConversationPartners(ctx context.Context, self uuid.UUID) ([]model.PartnerSummary, error)
}

type userRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// SetOnlineStatus stamps is_online and last_seen. Users unknown to the
// users table are left alone.
func (r *userRepository) SetOnlineStatus(ctx context.Context, userID uuid.UUID, online bool) error {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"is_online": online,
			"last_seen": r.now(),
		}).Error
}

func (r *userRepository) ListOnlineUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&model.User{}).
		Where("is_online = ?", true).
		Pluck("id", &ids).Error
	return ids, err
}

type partnerRow struct {
	model.User
	UnreadCount int64
}

// ListConversationPartners returns every user except self with the number
// of messages they sent to self that are not read yet.
func (r *userRepository) ListConversationPartners(ctx context.Context, self uuid.UUID) ([]model.PartnerSummary, error) {
	var rows []partnerRow
	err := r.db.WithContext(ctx).Model(&model.User{}).
		Select(`users.*, (
			SELECT COUNT(*) FROM messages
			WHERE messages.sender_id = users.id
			  AND messages.receiver_id = ?
			  AND messages.status <> ?
		) AS unread_count`, self, model.MessageStatusRead).
		Where("users.id <> ?", self).
		Order("users.is_online DESC").
		Order("users.last_seen DESC").
		Order("users.username ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	partners := make([]model.PartnerSummary, len(rows))
	for i := range rows {
		partners[i] = model.PartnerSummary{
			User:        *rows[i].User.Summary(),
			UnreadCount: rows[i].UnreadCount,
		}
	}
	return partners, nil
}
