package service

import (
	"context"
	"fmt"

	"dm-service/internal/metrics"
	"dm-service/internal/model"
	"dm-service/internal/presence"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SendRequest is a message submitted on SenderConn by SenderID.
type SendRequest struct {
	SenderID      uuid.UUID
	SenderConn    presence.ConnID
	SenderIP      string
	ReceiverID    uuid.UUID
	Content       string
	AttachmentRef *string
	ReplyToID     *uuid.UUID
}

// DeliveryService persists outgoing messages and pushes them to the
// recipient's live connection.
type DeliveryService struct {
	store    Store
	registry *presence.Registry
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewDeliveryService(
	store Store,
	registry *presence.Registry,
	notifier Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *DeliveryService {
	return &DeliveryService{
		store:    store,
		registry: registry,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// Send stores the message as pending, pushes message_received to a live
// recipient and advances it to delivered, then acknowledges the sender's
// connection with the final stored record. Delivery is not transactional
// with storage: if the delivered update fails the message stays pending.
// Nothing is retried; on insert failure nothing is pushed.
func (s *DeliveryService) Send(ctx context.Context, req SendRequest) (*model.Message, error) {
	msg, err := s.store.InsertMessage(ctx, model.NewMessage{
		SenderID:      req.SenderID,
		ReceiverID:    req.ReceiverID,
		Content:       req.Content,
		AttachmentRef: req.AttachmentRef,
		ReplyToID:     req.ReplyToID,
		SenderIP:      req.SenderIP,
	})
	if err != nil {
		s.metrics.RecordDeliveryFailure()
		s.metrics.RecordStoreError("insert_message")
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	s.metrics.RecordMessageSent()

	if conn, ok := s.registry.Resolve(req.ReceiverID); ok {
		shown := msg.Clone()
		shown.Status = model.MessageStatusDelivered

		if s.notifier.SendTo(conn, model.Event{Type: model.EventMessageReceived, Payload: shown}) {
			s.metrics.RecordMessageDelivered()
			updated, err := s.store.UpdateMessageStatus(ctx, msg.ID, model.MessageStatusDelivered)
			if err != nil {
				s.metrics.RecordStoreError("update_message_status")
				s.logger.Warn("Delivered message left pending",
					zap.String("messageId", msg.ID.String()),
					zap.Error(err))
			} else {
				msg = updated
			}
		}
	} else {
		s.logger.Debug("Receiver is not online, message stays pending",
			zap.String("messageId", msg.ID.String()),
			zap.String("receiverId", req.ReceiverID.String()))
	}

	s.notifier.SendTo(req.SenderConn, model.Event{Type: model.EventMessageSent, Payload: msg})
	return msg, nil
}
