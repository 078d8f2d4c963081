// internal/repository/message_repository.go
package repository

import (
	"context"
	"errors"
	"fmt"

	"dm-service/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageRepository interface {
	InsertMessage(ctx context.Context, in model.NewMessage) (*model.Message, error)
	GetMessage(ctx context.Context, messageID uuid.UUID) (*model.Message, error)
	UpdateMessageStatus(ctx context.Context, messageID uuid.UUID, status model.MessageStatus) (*model.Message, error)
	UpdateMessageContent(ctx context.Context, messageID uuid.UUID, content, attachmentRef *string) (*model.Message, error)
	DeleteMessage(ctx context.Context, messageID uuid.UUID) error
	ListConversation(ctx context.Context, userA, userB uuid.UUID) ([]model.Message, error)
}

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) InsertMessage(ctx context.Context, in model.NewMessage) (*model.Message, error) {
	message := &model.Message{
		SenderID:      in.SenderID,
		ReceiverID:    in.ReceiverID,
		Content:       in.Content,
		AttachmentRef: in.AttachmentRef,
		ReplyToID:     in.ReplyToID,
		SenderIP:      in.SenderIP,
		Status:        model.MessageStatusPending,
	}
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return nil, err
	}
	if err := r.attachUsers(ctx, []*model.Message{message}); err != nil {
		return nil, err
	}
	return message, nil
}

func (r *messageRepository) GetMessage(ctx context.Context, messageID uuid.UUID) (*model.Message, error) {
	var message model.Message
	err := r.db.WithContext(ctx).First(&message, "id = ?", messageID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrMessageNotFound
		}
		return nil, err
	}
	if err := r.attachUsers(ctx, []*model.Message{&message}); err != nil {
		return nil, err
	}
	return &message, nil
}

// UpdateMessageStatus only moves a message forward; a status at or behind
// the stored one leaves the row untouched and returns it as stored.
func (r *messageRepository) UpdateMessageStatus(ctx context.Context, messageID uuid.UUID, status model.MessageStatus) (*model.Message, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid message status %q", status)
	}
	if lower := status.Before(); len(lower) > 0 {
		err := r.db.WithContext(ctx).Model(&model.Message{}).
			Where("id = ? AND status IN ?", messageID, lower).
			Update("status", status).Error
		if err != nil {
			return nil, err
		}
	}
	return r.GetMessage(ctx, messageID)
}

func (r *messageRepository) UpdateMessageContent(ctx context.Context, messageID uuid.UUID, content, attachmentRef *string) (*model.Message, error) {
	updates := map[string]interface{}{"is_edited": true}
	if content != nil {
		updates["content"] = *content
	}
	if attachmentRef != nil {
		updates["attachment_ref"] = *attachmentRef
	}

	result := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ?", messageID).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, model.ErrMessageNotFound
	}
	return r.GetMessage(ctx, messageID)
}

// DeleteMessage hard-deletes a message and clears reply references to it.
func (r *messageRepository) DeleteMessage(ctx context.Context, messageID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Message{}).
			Where("reply_to_id = ?", messageID).
			Update("reply_to_id", nil).Error; err != nil {
			return err
		}

		result := tx.Delete(&model.Message{}, "id = ?", messageID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return model.ErrMessageNotFound
		}
		return nil
	})
}

func (r *messageRepository) ListConversation(ctx context.Context, userA, userB uuid.UUID) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userA, userB, userB, userA).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	ptrs := make([]*model.Message, len(messages))
	for i := range messages {
		ptrs[i] = &messages[i]
	}
	if err := r.attachUsers(ctx, ptrs); err != nil {
		return nil, err
	}
	return messages, nil
}

// attachUsers fills Sender and Receiver from one users query. Users
// missing from the table leave the summary nil.
func (r *messageRepository) attachUsers(ctx context.Context, messages []*model.Message) error {
	if len(messages) == 0 {
		return nil
	}

	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, m := range messages {
		for _, id := range []uuid.UUID{m.SenderID, m.ReceiverID} {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	var users []model.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return err
	}

	byID := make(map[uuid.UUID]*model.UserSummary, len(users))
	for i := range users {
		byID[users[i].ID] = users[i].Summary()
	}
	for _, m := range messages {
		m.Sender = byID[m.SenderID]
		m.Receiver = byID[m.ReceiverID]
	}
	return nil
}
