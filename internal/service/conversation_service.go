package service

import (
	"context"
	"fmt"

	"dm-service/internal/metrics"
	"dm-service/internal/model"

	"github.com/google/uuid"
)

// ConversationService answers history and partner-list queries.
type ConversationService struct {
	store   Store
	metrics *metrics.Metrics
}

func NewConversationService(store Store, m *metrics.Metrics) *ConversationService {
	return &ConversationService{store: store, metrics: m}
}

// History returns the messages exchanged by two users, oldest first.
func (s *ConversationService) History(ctx context.Context, userID, peerID uuid.UUID) ([]model.Message, error) {
	messages, err := s.store.ListConversation(ctx, userID, peerID)
	if err != nil {
		s.metrics.RecordStoreError("list_conversation")
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if messages == nil {
		messages = []model.Message{}
	}
	return messages, nil
}

// Partners lists everyone except self with their unread counts, online
// users first.
func (s *ConversationService) Partners(ctx context.Context, self uuid.UUID) ([]model.PartnerSummary, error) {
	partners, err := s.store.ListConversationPartners(ctx, self)
	if err != nil {
		s.metrics.RecordStoreError("list_partners")
		return nil, fmt.Errorf("failed to list conversation partners: %w", err)
	}
	if partners == nil {
		partners = []model.PartnerSummary{}
	}
	return partners, nil
}
