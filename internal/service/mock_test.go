package service

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"dm-service/internal/model"
	"dm-service/internal/presence"
)

// MockStore is a mock implementation of Store
type MockStore struct {
	InsertMessageFunc            func(ctx context.Context, in model.NewMessage) (*model.Message, error)
	GetMessageFunc               func(ctx context.Context, messageID uuid.UUID) (*model.Message, error)
	UpdateMessageStatusFunc      func(ctx context.Context, messageID uuid.UUID, status model.MessageStatus) (*model.Message, error)
	UpdateMessageContentFunc     func(ctx context.Context, messageID uuid.UUID, content, attachmentRef *string) (*model.Message, error)
	DeleteMessageFunc            func(ctx context.Context, messageID uuid.UUID) error
	ListConversationFunc         func(ctx context.Context, userA, userB uuid.UUID) ([]model.Message, error)
	ListConversationPartnersFunc func(ctx context.Context, self uuid.UUID) ([]model.PartnerSummary, error)
	SetOnlineStatusFunc          func(ctx context.Context, userID uuid.UUID, online bool) error
	ListOnlineUserIDsFunc        func(ctx context.Context) ([]uuid.UUID, error)
}

func (m *MockStore) InsertMessage(ctx context.Context, in model.NewMessage) (*model.Message, error) {
	if m.InsertMessageFunc != nil {
		return m.InsertMessageFunc(ctx, in)
	}
	return nil, nil
}

func (m *MockStore) GetMessage(ctx context.Context, messageID uuid.UUID) (*model.Message, error) {
	if m.GetMessageFunc != nil {
		return m.GetMessageFunc(ctx, messageID)
	}
	return nil, model.ErrMessageNotFound
}

func (m *MockStore) UpdateMessageStatus(ctx context.Context, messageID uuid.UUID, status model.MessageStatus) (*model.Message, error) {
	if m.UpdateMessageStatusFunc != nil {
		return m.UpdateMessageStatusFunc(ctx, messageID, status)
	}
	return nil, nil
}

func (m *MockStore) UpdateMessageContent(ctx context.Context, messageID uuid.UUID, content, attachmentRef *string) (*model.Message, error) {
	if m.UpdateMessageContentFunc != nil {
		return m.UpdateMessageContentFunc(ctx, messageID, content, attachmentRef)
	}
	return nil, nil
}

func (m *MockStore) DeleteMessage(ctx context.Context, messageID uuid.UUID) error {
	if m.DeleteMessageFunc != nil {
		return m.DeleteMessageFunc(ctx, messageID)
	}
	return nil
}

func (m *MockStore) ListConversation(ctx context.Context, userA, userB uuid.UUID) ([]model.Message, error) {
	if m.ListConversationFunc != nil {
		return m.ListConversationFunc(ctx, userA, userB)
	}
	return nil, nil
}

func (m *MockStore) ListConversationPartners(ctx context.Context, self uuid.UUID) ([]model.PartnerSummary, error) {
	if m.ListConversationPartnersFunc != nil {
		return m.ListConversationPartnersFunc(ctx, self)
	}
	return nil, nil
}

func (m *MockStore) SetOnlineStatus(ctx context.Context, userID uuid.UUID, online bool) error {
	if m.SetOnlineStatusFunc != nil {
		return m.SetOnlineStatusFunc(ctx, userID, online)
	}
	return nil
}

func (m *MockStore) ListOnlineUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	if m.ListOnlineUserIDsFunc != nil {
		return m.ListOnlineUserIDsFunc(ctx)
	}
	return nil, nil
}

// memStore keeps messages and online flags in memory with the same
// monotonic status rule as the gorm store.
type memStore struct {
	MockStore

	mu       sync.Mutex
	messages map[uuid.UUID]*model.Message
	online   map[uuid.UUID]bool
	writes   []statusWrite
}

type statusWrite struct {
	UserID uuid.UUID
	Online bool
}

func newMemStore() *memStore {
	s := &memStore{
		messages: make(map[uuid.UUID]*model.Message),
		online:   make(map[uuid.UUID]bool),
	}
	s.InsertMessageFunc = s.insert
	s.GetMessageFunc = s.get
	s.UpdateMessageStatusFunc = s.updateStatus
	s.UpdateMessageContentFunc = s.updateContent
	s.DeleteMessageFunc = s.delete
	s.SetOnlineStatusFunc = s.setOnline
	s.ListOnlineUserIDsFunc = s.listOnline
	return s
}

func (s *memStore) insert(_ context.Context, in model.NewMessage) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := &model.Message{
		ID:            uuid.New(),
		SenderID:      in.SenderID,
		ReceiverID:    in.ReceiverID,
		Content:       in.Content,
		AttachmentRef: in.AttachmentRef,
		ReplyToID:     in.ReplyToID,
		SenderIP:      in.SenderIP,
		Status:        model.MessageStatusPending,
	}
	s.messages[msg.ID] = msg
	return msg.Clone(), nil
}

func (s *memStore) get(_ context.Context, id uuid.UUID) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, model.ErrMessageNotFound
	}
	return msg.Clone(), nil
}

func (s *memStore) updateStatus(_ context.Context, id uuid.UUID, status model.MessageStatus) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, model.ErrMessageNotFound
	}
	if status.Rank() > msg.Status.Rank() {
		msg.Status = status
	}
	return msg.Clone(), nil
}

func (s *memStore) updateContent(_ context.Context, id uuid.UUID, content, attachmentRef *string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, model.ErrMessageNotFound
	}
	if content != nil {
		msg.Content = *content
	}
	if attachmentRef != nil {
		msg.AttachmentRef = attachmentRef
	}
	msg.IsEdited = true
	return msg.Clone(), nil
}

func (s *memStore) delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return model.ErrMessageNotFound
	}
	delete(s.messages, id)
	for _, msg := range s.messages {
		if msg.ReplyToID != nil && *msg.ReplyToID == id {
			msg.ReplyToID = nil
		}
	}
	return nil
}

func (s *memStore) setOnline(_ context.Context, userID uuid.UUID, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = online
	s.writes = append(s.writes, statusWrite{UserID: userID, Online: online})
	return nil
}

func (s *memStore) listOnline(_ context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, online := range s.online {
		if online {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (s *memStore) isOnline(userID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userID]
}

func (s *memStore) statusWrites(userID uuid.UUID) []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []bool
	for _, w := range s.writes {
		if w.UserID == userID {
			out = append(out, w.Online)
		}
	}
	return out
}

func (s *memStore) message(id uuid.UUID) *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := s.messages[id]; ok {
		return msg.Clone()
	}
	return nil
}

type sentEvent struct {
	Conn      presence.ConnID
	Broadcast bool
	Event     model.Event
}

// recordingNotifier records pushes in order. Connections not in live are
// treated as gone and SendTo reports false for them.
type recordingNotifier struct {
	mu     sync.Mutex
	live   map[presence.ConnID]bool
	events []sentEvent
}

func newRecordingNotifier(live ...presence.ConnID) *recordingNotifier {
	n := &recordingNotifier{live: make(map[presence.ConnID]bool)}
	for _, c := range live {
		n.live[c] = true
	}
	return n
}

func (n *recordingNotifier) SendTo(conn presence.ConnID, evt model.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.live[conn] {
		return false
	}
	n.events = append(n.events, sentEvent{Conn: conn, Event: evt})
	return true
}

func (n *recordingNotifier) Broadcast(evt model.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{Broadcast: true, Event: evt})
}

func (n *recordingNotifier) all() []sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentEvent(nil), n.events...)
}

func (n *recordingNotifier) to(conn presence.ConnID) []model.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.Event
	for _, e := range n.events {
		if !e.Broadcast && e.Conn == conn {
			out = append(out, e.Event)
		}
	}
	return out
}

func (n *recordingNotifier) broadcasts(typ model.EventType) []model.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.Event
	for _, e := range n.events {
		if e.Broadcast && e.Event.Type == typ {
			out = append(out, e.Event)
		}
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}

type mockMirror struct {
	mu      sync.Mutex
	online  map[uuid.UUID]bool
	failErr error
	readErr error
}

func newMockMirror() *mockMirror {
	return &mockMirror{online: make(map[uuid.UUID]bool)}
}

func (m *mockMirror) MarkOnline(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.online[userID] = true
	return nil
}

func (m *mockMirror) MarkOffline(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	delete(m.online, userID)
	return nil
}

func (m *mockMirror) OnlineUsers(_ context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	ids := make([]uuid.UUID, 0, len(m.online))
	for id := range m.online {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *mockMirror) set(userID uuid.UUID, online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if online {
		m.online[userID] = true
	} else {
		delete(m.online, userID)
	}
}

func (m *mockMirror) isOnline(userID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online[userID]
}

func eventTypes(events []model.Event) []model.EventType {
	out := make([]model.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}
