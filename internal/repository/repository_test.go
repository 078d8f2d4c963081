package repository

import (
	"context"
	"testing"
	"time"

	"dm-service/internal/database"
	"dm-service/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.New(database.Config{Driver: database.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func createUser(t *testing.T, db *gorm.DB, username string) *model.User {
	t.Helper()
	user := &model.User{Username: username, DisplayName: username}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestMessageRepository_InsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	ref := "files/a.png"

	msg, err := repo.InsertMessage(ctx, model.NewMessage{
		SenderID:      alice.ID,
		ReceiverID:    bob.ID,
		Content:       "hi",
		AttachmentRef: &ref,
		SenderIP:      "10.1.2.3",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, msg.ID)
	assert.Equal(t, model.MessageStatusPending, msg.Status)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, "alice", msg.Sender.Username)
	require.NotNil(t, msg.Receiver)
	assert.Equal(t, "bob", msg.Receiver.Username)

	got, err := repo.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Content)
	assert.Equal(t, "10.1.2.3", got.SenderIP)
	require.NotNil(t, got.AttachmentRef)
	assert.Equal(t, ref, *got.AttachmentRef)
}

func TestMessageRepository_GetMissing(t *testing.T) {
	repo := NewMessageRepository(setupTestDB(t))

	_, err := repo.GetMessage(context.Background(), uuid.New())
	assert.ErrorIs(t, err, model.ErrMessageNotFound)
}

func TestMessageRepository_UpdateStatusIsMonotonic(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	msg, err := repo.InsertMessage(ctx, model.NewMessage{SenderID: alice.ID, ReceiverID: bob.ID, Content: "x"})
	require.NoError(t, err)

	steps := []struct {
		apply model.MessageStatus
		want  model.MessageStatus
	}{
		{model.MessageStatusDelivered, model.MessageStatusDelivered},
		{model.MessageStatusPending, model.MessageStatusDelivered},
		{model.MessageStatusRead, model.MessageStatusRead},
		{model.MessageStatusDelivered, model.MessageStatusRead},
		{model.MessageStatusRead, model.MessageStatusRead},
	}
	for _, step := range steps {
		updated, err := repo.UpdateMessageStatus(ctx, msg.ID, step.apply)
		require.NoError(t, err)
		assert.Equal(t, step.want, updated.Status, "after applying %s", step.apply)
	}
}

func TestMessageRepository_UpdateStatusErrors(t *testing.T) {
	repo := NewMessageRepository(setupTestDB(t))
	ctx := context.Background()

	_, err := repo.UpdateMessageStatus(ctx, uuid.New(), model.MessageStatusRead)
	assert.ErrorIs(t, err, model.ErrMessageNotFound)

	_, err = repo.UpdateMessageStatus(ctx, uuid.New(), model.MessageStatus("archived"))
	assert.Error(t, err)
}

func TestMessageRepository_UpdateContent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	msg, err := repo.InsertMessage(ctx, model.NewMessage{SenderID: alice.ID, ReceiverID: bob.ID, Content: "helo"})
	require.NoError(t, err)

	content := "hello"
	updated, err := repo.UpdateMessageContent(ctx, msg.ID, &content, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", updated.Content)
	assert.True(t, updated.IsEdited)
	assert.Nil(t, updated.AttachmentRef)

	ref := "files/b.pdf"
	updated, err = repo.UpdateMessageContent(ctx, msg.ID, nil, &ref)
	require.NoError(t, err)
	assert.Equal(t, "hello", updated.Content)
	require.NotNil(t, updated.AttachmentRef)
	assert.Equal(t, ref, *updated.AttachmentRef)

	_, err = repo.UpdateMessageContent(ctx, uuid.New(), &content, nil)
	assert.ErrorIs(t, err, model.ErrMessageNotFound)
}

func TestMessageRepository_DeleteNullsReplies(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	parent, err := repo.InsertMessage(ctx, model.NewMessage{SenderID: alice.ID, ReceiverID: bob.ID, Content: "parent"})
	require.NoError(t, err)
	reply, err := repo.InsertMessage(ctx, model.NewMessage{
		SenderID: bob.ID, ReceiverID: alice.ID, Content: "reply", ReplyToID: &parent.ID,
	})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteMessage(ctx, parent.ID))

	_, err = repo.GetMessage(ctx, parent.ID)
	assert.ErrorIs(t, err, model.ErrMessageNotFound)

	kept, err := repo.GetMessage(ctx, reply.ID)
	require.NoError(t, err)
	assert.Nil(t, kept.ReplyToID)
	assert.Equal(t, "reply", kept.Content)

	assert.ErrorIs(t, repo.DeleteMessage(ctx, parent.ID), model.ErrMessageNotFound)
}

func TestMessageRepository_ListConversation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	carol := createUser(t, db, "carol")

	for _, m := range []model.NewMessage{
		{SenderID: alice.ID, ReceiverID: bob.ID, Content: "1"},
		{SenderID: bob.ID, ReceiverID: alice.ID, Content: "2"},
		{SenderID: alice.ID, ReceiverID: carol.ID, Content: "other"},
		{SenderID: alice.ID, ReceiverID: bob.ID, Content: "3"},
	} {
		_, err := repo.InsertMessage(ctx, m)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	messages, err := repo.ListConversation(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "1", messages[0].Content)
	assert.Equal(t, "2", messages[1].Content)
	assert.Equal(t, "3", messages[2].Content)
	assert.Equal(t, "bob", messages[1].Sender.Username)

	empty, err := repo.ListConversation(ctx, bob.ID, carol.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUserRepository_SetOnlineStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	alice := createUser(t, db, "alice")

	require.NoError(t, repo.SetOnlineStatus(ctx, alice.ID, true))

	var stored model.User
	require.NoError(t, db.First(&stored, "id = ?", alice.ID).Error)
	assert.True(t, stored.IsOnline)
	assert.False(t, stored.LastSeen.IsZero())

	ids, err := repo.ListOnlineUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{alice.ID}, ids)

	require.NoError(t, repo.SetOnlineStatus(ctx, alice.ID, false))
	ids, err = repo.ListOnlineUserIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// unknown users are ignored
	assert.NoError(t, repo.SetOnlineStatus(ctx, uuid.New(), true))
}

func TestUserRepository_ListConversationPartners(t *testing.T) {
	db := setupTestDB(t)
	users := NewUserRepository(db)
	messages := NewMessageRepository(db)
	ctx := context.Background()

	self := createUser(t, db, "self")
	zed := createUser(t, db, "zed")
	amy := createUser(t, db, "amy")
	bea := createUser(t, db, "bea")
	cal := createUser(t, db, "cal")

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.Model(&model.User{}).Where("id = ?", zed.ID).
		Updates(map[string]interface{}{"is_online": true, "last_seen": base}).Error)
	require.NoError(t, db.Model(&model.User{}).Where("id = ?", bea.ID).
		Updates(map[string]interface{}{"last_seen": base.Add(time.Hour)}).Error)
	require.NoError(t, db.Model(&model.User{}).Where("id IN ?", []uuid.UUID{amy.ID, cal.ID}).
		Updates(map[string]interface{}{"last_seen": base}).Error)

	m1, err := messages.InsertMessage(ctx, model.NewMessage{SenderID: amy.ID, ReceiverID: self.ID, Content: "a"})
	require.NoError(t, err)
	_, err = messages.InsertMessage(ctx, model.NewMessage{SenderID: amy.ID, ReceiverID: self.ID, Content: "b"})
	require.NoError(t, err)
	_, err = messages.InsertMessage(ctx, model.NewMessage{SenderID: self.ID, ReceiverID: amy.ID, Content: "c"})
	require.NoError(t, err)
	_, err = messages.UpdateMessageStatus(ctx, m1.ID, model.MessageStatusRead)
	require.NoError(t, err)

	partners, err := users.ListConversationPartners(ctx, self.ID)
	require.NoError(t, err)

	names := make([]string, len(partners))
	for i, p := range partners {
		names[i] = p.User.Username
	}
	assert.Equal(t, []string{"zed", "bea", "amy", "cal"}, names)
	assert.Equal(t, int64(1), partners[2].UnreadCount)
	assert.Equal(t, int64(0), partners[0].UnreadCount)
	assert.True(t, partners[0].User.IsOnline)
}

func TestStore_ComposesRepositories(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	alice := createUser(t, db, "alice")

	_, err := store.InsertMessage(ctx, model.NewMessage{SenderID: alice.ID, ReceiverID: alice.ID, Content: "note"})
	require.NoError(t, err)
	assert.NoError(t, store.SetOnlineStatus(ctx, alice.ID, true))
}
