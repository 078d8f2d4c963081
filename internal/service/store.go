package service

import (
	"context"

	"dm-service/internal/model"
	"dm-service/internal/presence"

	"github.com/google/uuid"
)

// Store is the persistence gateway. Implementations must treat a status
// update as monotonic: a message never moves back along the lifecycle.
type Store interface {
	InsertMessage(ctx context.Context, in model.NewMessage) (*model.Message, error)
	GetMessage(ctx context.Context, messageID uuid.UUID) (*model.Message, error)
	UpdateMessageStatus(ctx context.Context, messageID uuid.UUID, status model.MessageStatus) (*model.Message, error)
	UpdateMessageContent(ctx context.Context, messageID uuid.UUID, content, attachmentRef *string) (*model.Message, error)
	DeleteMessage(ctx context.Context, messageID uuid.UUID) error
	ListConversation(ctx context.Context, userA, userB uuid.UUID) ([]model.Message, error)
	ListConversationPartners(ctx context.Context, self uuid.UUID) ([]model.PartnerSummary, error)
	SetOnlineStatus(ctx context.Context, userID uuid.UUID, online bool) error
	ListOnlineUserIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Notifier pushes outbound events to connections. SendTo reports whether
// the event was queued on a live connection.
type Notifier interface {
	SendTo(conn presence.ConnID, evt model.Event) bool
	Broadcast(evt model.Event)
}

// PresenceMirror publishes presence changes outside the process.
type PresenceMirror interface {
	MarkOnline(ctx context.Context, userID uuid.UUID) error
	MarkOffline(ctx context.Context, userID uuid.UUID) error
	OnlineUsers(ctx context.Context) ([]uuid.UUID, error)
}
