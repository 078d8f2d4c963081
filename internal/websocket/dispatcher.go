package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"dm-service/internal/metrics"
	"dm-service/internal/model"
	"dm-service/internal/presence"
	"dm-service/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type sessionState int

const (
	stateUnannounced sessionState = iota
	stateAnnounced
	stateClosed
)

// Session is the per-connection state. It is only touched by the
// connection's read goroutine.
type Session struct {
	Conn     presence.ConnID
	RemoteIP string
	// AuthUserID is the token subject, or uuid.Nil when auth is off.
	AuthUserID uuid.UUID

	userID uuid.UUID
	state  sessionState
}

func NewSession(conn presence.ConnID, remoteIP string, authUserID uuid.UUID) *Session {
	return &Session{Conn: conn, RemoteIP: remoteIP, AuthUserID: authUserID}
}

// UserID returns the announced user, if any.
func (s *Session) UserID() (uuid.UUID, bool) {
	return s.userID, s.state == stateAnnounced
}

// Dispatcher maps inbound events to the services and failures to error
// events on the originating connection.
type Dispatcher struct {
	presence      *service.PresenceService
	delivery      *service.DeliveryService
	status        *service.StatusService
	conversations *service.ConversationService
	notifier      service.Notifier

	maxContentLength int
	metrics          *metrics.Metrics
	logger           *zap.Logger
}

type DispatcherConfig struct {
	Presence         *service.PresenceService
	Delivery         *service.DeliveryService
	Status           *service.StatusService
	Conversations    *service.ConversationService
	Notifier         service.Notifier
	MaxContentLength int
	Metrics          *metrics.Metrics
	Logger           *zap.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 4000
	}
	return &Dispatcher{
		presence:         cfg.Presence,
		delivery:         cfg.Delivery,
		status:           cfg.Status,
		conversations:    cfg.Conversations,
		notifier:         cfg.Notifier,
		maxContentLength: cfg.MaxContentLength,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
	}
}

// Handle processes one raw inbound frame for s.
func (d *Dispatcher) Handle(ctx context.Context, s *Session, raw []byte) {
	if s.state == stateClosed {
		return
	}

	var in model.InboundEvent
	if err := json.Unmarshal(raw, &in); err != nil || in.Type == "" {
		d.metrics.RecordEvent("invalid")
		if s.state != stateAnnounced {
			d.logger.Debug("Ignoring malformed frame before announce",
				zap.String("conn", string(s.Conn)))
			return
		}
		d.fail(s, &model.InboundEvent{}, model.InvalidEvent("Invalid event format"), "")
		return
	}

	if s.state == stateUnannounced && in.Type != model.EventAnnounce {
		d.logger.Debug("Ignoring event before announce",
			zap.String("conn", string(s.Conn)),
			zap.String("type", string(in.Type)))
		return
	}

	switch in.Type {
	case model.EventAnnounce:
		d.metrics.RecordEvent(string(in.Type))
		d.handleAnnounce(ctx, s, &in)
	case model.EventListPartners:
		d.metrics.RecordEvent(string(in.Type))
		d.handleListPartners(ctx, s, &in)
	case model.EventSend:
		d.metrics.RecordEvent(string(in.Type))
		d.handleSend(ctx, s, &in)
	case model.EventMarkRead:
		d.metrics.RecordEvent(string(in.Type))
		d.handleMarkRead(ctx, s, &in)
	case model.EventEdit:
		d.metrics.RecordEvent(string(in.Type))
		d.handleEdit(ctx, s, &in)
	case model.EventDelete:
		d.metrics.RecordEvent(string(in.Type))
		d.handleDelete(ctx, s, &in)
	default:
		d.metrics.RecordEvent("unknown")
		d.fail(s, &in, model.InvalidEvent("Unknown event type"), "")
	}
}

// Close ends the session and starts the offline countdown for its user.
func (d *Dispatcher) Close(s *Session) {
	if s.state == stateClosed {
		return
	}
	s.state = stateClosed
	d.presence.Disconnect(s.Conn)
}

func (d *Dispatcher) handleAnnounce(ctx context.Context, s *Session, in *model.InboundEvent) {
	var p model.AnnouncePayload
	if err := in.Decode(&p); err != nil || p.UserID == nil || *p.UserID == uuid.Nil {
		d.fail(s, in, model.InvalidEvent("userId is required"), "")
		return
	}
	userID := *p.UserID
	if s.AuthUserID != uuid.Nil && s.AuthUserID != userID {
		d.fail(s, in, model.ErrForbidden, "")
		return
	}

	err := d.presence.Announce(ctx, userID, s.Conn)
	s.userID = userID
	s.state = stateAnnounced
	if err != nil {
		d.logger.Error("Failed to persist online status",
			zap.String("userId", userID.String()),
			zap.Error(err))
		d.reply(s, model.ErrorEvent(in.Type, in.RequestID, "Failed to connect"))
	}

	if p.PeerID != nil && *p.PeerID != uuid.Nil {
		history, err := d.conversations.History(ctx, userID, *p.PeerID)
		if err != nil {
			d.logger.Error("Failed to load history",
				zap.String("userId", userID.String()),
				zap.String("peerId", p.PeerID.String()),
				zap.Error(err))
			d.reply(s, model.ErrorEvent(in.Type, in.RequestID, "Failed to load messages"))
		} else {
			d.reply(s, model.Event{Type: model.EventLoadHistory, RequestID: in.RequestID, Payload: history})
		}
	}

	d.presence.BroadcastOnlineUsers()
}

func (d *Dispatcher) handleListPartners(ctx context.Context, s *Session, in *model.InboundEvent) {
	partners, err := d.conversations.Partners(ctx, s.userID)
	ack := model.Event{Type: model.EventAck, RequestID: in.RequestID}
	if err != nil {
		d.logger.Error("Failed to list partners",
			zap.String("userId", s.userID.String()),
			zap.Error(err))
		ack.Payload = model.AckPayload{Error: "Failed to load conversation partners"}
	} else {
		ack.Payload = model.AckPayload{Data: partners}
	}
	d.reply(s, ack)
}

func (d *Dispatcher) handleSend(ctx context.Context, s *Session, in *model.InboundEvent) {
	var p model.SendPayload
	if err := in.Decode(&p); err != nil {
		d.fail(s, in, model.InvalidEvent("Invalid payload"), "")
		return
	}
	if p.ReceiverID == nil || *p.ReceiverID == uuid.Nil {
		d.fail(s, in, model.InvalidEvent("receiverId is required"), "")
		return
	}
	if strings.TrimSpace(p.Content) == "" && (p.AttachmentRef == nil || *p.AttachmentRef == "") {
		d.fail(s, in, model.InvalidEvent("content or attachmentRef is required"), "")
		return
	}
	if err := d.checkContent(p.Content); err != nil {
		d.fail(s, in, err, "")
		return
	}

	_, err := d.delivery.Send(ctx, service.SendRequest{
		SenderID:      s.userID,
		SenderConn:    s.Conn,
		SenderIP:      s.RemoteIP,
		ReceiverID:    *p.ReceiverID,
		Content:       p.Content,
		AttachmentRef: p.AttachmentRef,
		ReplyToID:     p.ReplyToID,
	})
	if err != nil {
		d.fail(s, in, err, "Failed to send message")
	}
}

func (d *Dispatcher) handleMarkRead(ctx context.Context, s *Session, in *model.InboundEvent) {
	id, ok := d.messageID(s, in)
	if !ok {
		return
	}
	if _, err := d.status.MarkRead(ctx, s.userID, s.Conn, id); err != nil {
		d.fail(s, in, err, "Failed to mark message as read")
	}
}

func (d *Dispatcher) handleEdit(ctx context.Context, s *Session, in *model.InboundEvent) {
	var p model.EditPayload
	if err := in.Decode(&p); err != nil {
		d.fail(s, in, model.InvalidEvent("Invalid payload"), "")
		return
	}
	if p.MessageID == nil || *p.MessageID == uuid.Nil {
		d.fail(s, in, model.InvalidEvent("messageId is required"), "")
		return
	}
	if p.Content == nil && p.AttachmentRef == nil {
		d.fail(s, in, model.InvalidEvent("content or attachmentRef is required"), "")
		return
	}
	if p.Content != nil {
		if err := d.checkContent(*p.Content); err != nil {
			d.fail(s, in, err, "")
			return
		}
	}

	if _, err := d.status.Edit(ctx, s.userID, s.Conn, *p.MessageID, p.Content, p.AttachmentRef); err != nil {
		d.fail(s, in, err, "Failed to edit message")
	}
}

func (d *Dispatcher) handleDelete(ctx context.Context, s *Session, in *model.InboundEvent) {
	id, ok := d.messageID(s, in)
	if !ok {
		return
	}
	if err := d.status.Delete(ctx, s.userID, s.Conn, id); err != nil {
		d.fail(s, in, err, "Failed to delete message")
	}
}

func (d *Dispatcher) messageID(s *Session, in *model.InboundEvent) (uuid.UUID, bool) {
	var p model.MessageRefPayload
	if err := in.Decode(&p); err != nil {
		d.fail(s, in, model.InvalidEvent("Invalid payload"), "")
		return uuid.Nil, false
	}
	if p.MessageID == nil || *p.MessageID == uuid.Nil {
		d.fail(s, in, model.InvalidEvent("messageId is required"), "")
		return uuid.Nil, false
	}
	return *p.MessageID, true
}

func (d *Dispatcher) checkContent(content string) error {
	if utf8.RuneCountInString(content) > d.maxContentLength {
		return model.InvalidEvent("content is too long")
	}
	return nil
}

// fail reports err to the originating connection. Internal details stay
// in the log.
func (d *Dispatcher) fail(s *Session, in *model.InboundEvent, err error, fallback string) {
	message := fallback
	var invalid *model.InvalidEventError
	switch {
	case errors.As(err, &invalid):
		message = invalid.Reason
	case errors.Is(err, model.ErrForbidden):
		message = "not allowed"
	case errors.Is(err, model.ErrMessageNotFound):
		message = "Message not found"
	default:
		d.logger.Error(fallback,
			zap.String("conn", string(s.Conn)),
			zap.String("userId", s.userID.String()),
			zap.String("type", string(in.Type)),
			zap.Error(err))
	}
	d.reply(s, model.ErrorEvent(in.Type, in.RequestID, message))
}

func (d *Dispatcher) reply(s *Session, evt model.Event) {
	d.notifier.SendTo(s.Conn, evt)
}
