// internal/model/event.go
package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

type EventType string

// Inbound event types.
const (
	EventAnnounce     EventType = "announce"
	EventListPartners EventType = "list_partners"
	EventSend         EventType = "send"
	EventMarkRead     EventType = "mark_read"
	EventEdit         EventType = "edit"
	EventDelete       EventType = "delete"
)

// Outbound event types.
const (
	EventLoadHistory     EventType = "load_history"
	EventOnlineUsers     EventType = "online_users"
	EventMessageReceived EventType = "message_received"
	EventMessageSent     EventType = "message_sent"
	EventMessageRead     EventType = "message_read"
	EventMessageReadAck  EventType = "message_read_ack"
	EventMessageEdited   EventType = "message_edited"
	EventMessageDeleted  EventType = "message_deleted"
	EventAck             EventType = "ack"
	EventError           EventType = "error"
)

// InboundEvent is the envelope read from a connection.
type InboundEvent struct {
	Type      EventType       `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v. An absent payload leaves v untouched.
func (e *InboundEvent) Decode(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Event is the envelope written to a connection.
type Event struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"requestId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

type AnnouncePayload struct {
	UserID *uuid.UUID `json:"userId"`
	PeerID *uuid.UUID `json:"peerId,omitempty"`
}

type SendPayload struct {
	ReceiverID    *uuid.UUID `json:"receiverId"`
	Content       string     `json:"content"`
	AttachmentRef *string    `json:"attachmentRef,omitempty"`
	ReplyToID     *uuid.UUID `json:"replyToId,omitempty"`
}

type MessageRefPayload struct {
	MessageID *uuid.UUID `json:"messageId"`
}

type EditPayload struct {
	MessageID     *uuid.UUID `json:"messageId"`
	Content       *string    `json:"content,omitempty"`
	AttachmentRef *string    `json:"attachmentRef,omitempty"`
}

type MessageDeletedPayload struct {
	MessageID uuid.UUID `json:"messageId"`
}

type ErrorPayload struct {
	Message string    `json:"message"`
	Event   EventType `json:"event,omitempty"`
}

type AckPayload struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func ErrorEvent(source EventType, requestID, message string) Event {
	return Event{
		Type:      EventError,
		RequestID: requestID,
		Payload:   ErrorPayload{Message: message, Event: source},
	}
}
