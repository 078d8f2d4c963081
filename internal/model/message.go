// internal/model/message.go
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Rank orders statuses along the lifecycle. Unknown statuses rank below pending.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusPending:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	default:
		return 0
	}
}

func (s MessageStatus) Valid() bool {
	return s.Rank() > 0
}

// Before returns the statuses that may still advance to s.
func (s MessageStatus) Before() []MessageStatus {
	var lower []MessageStatus
	for _, st := range []MessageStatus{MessageStatusPending, MessageStatusDelivered, MessageStatusRead} {
		if st.Rank() < s.Rank() {
			lower = append(lower, st)
		}
	}
	return lower
}

// Message is a direct message between two users.
// ReplyToID is a weak reference: it is nulled when the target is deleted.
type Message struct {
	ID            uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	SenderID      uuid.UUID     `gorm:"type:uuid;not null;index:idx_messages_pair" json:"senderId"`
	ReceiverID    uuid.UUID     `gorm:"type:uuid;not null;index:idx_messages_pair" json:"receiverId"`
	Content       string        `gorm:"type:text;not null;default:''" json:"content"`
	AttachmentRef *string       `gorm:"type:text" json:"attachmentRef,omitempty"`
	ReplyToID     *uuid.UUID    `gorm:"type:uuid;index" json:"replyToId,omitempty"`
	SenderIP      string        `gorm:"type:varchar(45)" json:"-"`
	Status        MessageStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	IsEdited      bool          `gorm:"not null;default:false" json:"isEdited"`
	CreatedAt     time.Time     `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updatedAt"`

	Sender   *UserSummary `gorm:"-" json:"sender,omitempty"`
	Receiver *UserSummary `gorm:"-" json:"receiver,omitempty"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = MessageStatusPending
	}
	return nil
}

// Clone returns a shallow copy safe to mutate before pushing to a connection.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// NewMessage is the input for inserting a message.
type NewMessage struct {
	SenderID      uuid.UUID
	ReceiverID    uuid.UUID
	Content       string
	AttachmentRef *string
	ReplyToID     *uuid.UUID
	SenderIP      string
}
