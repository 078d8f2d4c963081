package service

import (
	"context"
	"errors"
	"fmt"

	"dm-service/internal/metrics"
	"dm-service/internal/model"
	"dm-service/internal/presence"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeleteScope selects who hears about a deleted message.
type DeleteScope string

const (
	// DeleteScopeAll broadcasts to every connection so any open view can
	// drop the message.
	DeleteScopeAll          DeleteScope = "all"
	DeleteScopeParticipants DeleteScope = "participants"
)

// StatusService advances message status and propagates edits and deletes.
type StatusService struct {
	store       Store
	registry    *presence.Registry
	notifier    Notifier
	deleteScope DeleteScope
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewStatusService(
	store Store,
	registry *presence.Registry,
	notifier Notifier,
	deleteScope DeleteScope,
	m *metrics.Metrics,
	logger *zap.Logger,
) *StatusService {
	if deleteScope == "" {
		deleteScope = DeleteScopeAll
	}
	return &StatusService{
		store:       store,
		registry:    registry,
		notifier:    notifier,
		deleteScope: deleteScope,
		metrics:     m,
		logger:      logger,
	}
}

// MarkRead marks a message read on behalf of its receiver. The
// sender is notified with message_read and the reader's connection gets
// message_read_ack. A message that is already read is only acknowledged.
func (s *StatusService) MarkRead(ctx context.Context, readerID uuid.UUID, readerConn presence.ConnID, messageID uuid.UUID) (*model.Message, error) {
	msg, err := s.load(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.ReceiverID != readerID {
		return nil, model.ErrForbidden
	}
	alreadyRead := msg.Status == model.MessageStatusRead

	updated, err := s.store.UpdateMessageStatus(ctx, messageID, model.MessageStatusRead)
	if err != nil {
		s.metrics.RecordStoreError("update_message_status")
		return nil, fmt.Errorf("failed to mark message as read: %w", err)
	}

	if !alreadyRead {
		s.metrics.RecordMessageRead()
		if conn, ok := s.registry.Resolve(updated.SenderID); ok {
			s.notifier.SendTo(conn, model.Event{Type: model.EventMessageRead, Payload: updated})
		}
	}
	s.notifier.SendTo(readerConn, model.Event{Type: model.EventMessageReadAck, Payload: updated})
	return updated, nil
}

// Edit replaces content and/or attachment of a message owned by editorID.
// With neither field set it does nothing and returns nil.
func (s *StatusService) Edit(ctx context.Context, editorID uuid.UUID, editorConn presence.ConnID, messageID uuid.UUID, content, attachmentRef *string) (*model.Message, error) {
	if content == nil && attachmentRef == nil {
		return nil, nil
	}

	msg, err := s.load(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != editorID {
		return nil, model.ErrForbidden
	}

	updated, err := s.store.UpdateMessageContent(ctx, messageID, content, attachmentRef)
	if err != nil {
		s.metrics.RecordStoreError("update_message_content")
		return nil, fmt.Errorf("failed to edit message: %w", err)
	}

	s.notifyParticipants(updated.SenderID, updated.ReceiverID, editorConn,
		model.Event{Type: model.EventMessageEdited, Payload: updated})
	return updated, nil
}

// Delete removes a message owned by actorID. Replies keep existing with
// their reference cleared.
func (s *StatusService) Delete(ctx context.Context, actorID uuid.UUID, actorConn presence.ConnID, messageID uuid.UUID) error {
	msg, err := s.load(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != actorID {
		return model.ErrForbidden
	}

	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		s.metrics.RecordStoreError("delete_message")
		return fmt.Errorf("failed to delete message: %w", err)
	}

	evt := model.Event{
		Type:    model.EventMessageDeleted,
		Payload: model.MessageDeletedPayload{MessageID: messageID},
	}
	if s.deleteScope == DeleteScopeParticipants {
		s.notifyParticipants(msg.SenderID, msg.ReceiverID, actorConn, evt)
	} else {
		s.notifier.Broadcast(evt)
	}
	return nil
}

func (s *StatusService) load(ctx context.Context, messageID uuid.UUID) (*model.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if !errors.Is(err, model.ErrMessageNotFound) {
			s.metrics.RecordStoreError("get_message")
		}
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	return msg, nil
}

// notifyParticipants pushes evt to each participant that is online and to
// the requesting connection, once per connection.
func (s *StatusService) notifyParticipants(senderID, receiverID uuid.UUID, requester presence.ConnID, evt model.Event) {
	sent := make(map[presence.ConnID]bool, 3)
	for _, userID := range []uuid.UUID{senderID, receiverID} {
		conn, ok := s.registry.Resolve(userID)
		if !ok || sent[conn] {
			continue
		}
		s.notifier.SendTo(conn, evt)
		sent[conn] = true
	}
	if requester != "" && !sent[requester] {
		s.notifier.SendTo(requester, evt)
	}
}
