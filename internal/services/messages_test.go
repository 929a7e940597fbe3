package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhrumil1411/Web-Chat-App/internal/models"
	"github.com/Dhrumil1411/Web-Chat-App/internal/store"
)

func TestMessages_SendRejectsEmptyText(t *testing.T) {
	svc := NewMessageService(store.NewMemory())
	alice := &models.User{ID: "alice", DisplayName: "Alice"}

	assert.ErrorIs(t, svc.Send(context.Background(), "g1", alice, ""), ErrEmptyText)
	assert.ErrorIs(t, svc.Send(context.Background(), "g1", alice, "  \n "), ErrEmptyText)
}

func TestMessages_SubscribeDeliversPriorAndFuture(t *testing.T) {
	m := store.NewMemory()
	svc := NewMessageService(m)
	ctx := context.Background()
	alice := &models.User{ID: "alice", DisplayName: "Alice", AvatarURL: "http://a"}

	require.NoError(t, svc.Send(ctx, "g1", alice, "hello"))
	require.NoError(t, svc.Send(ctx, "g1", alice, "world"))
	// Traffic in another group must not leak in.
	require.NoError(t, svc.Send(ctx, "g2", alice, "elsewhere"))

	var got []models.Message
	sub, err := svc.Subscribe("g1", func(msg models.Message) {
		got = append(got, msg)
	})
	require.NoError(t, err)
	defer sub.Close()

	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, "world", got[1].Text)
	assert.Equal(t, "g1", got[0].GroupID)
	assert.Equal(t, "alice", got[0].SenderID)
	assert.Equal(t, "Alice", got[0].SenderName)
	assert.NotEmpty(t, got[0].ID, "store key becomes the message id")
	assert.Greater(t, got[0].Timestamp, int64(0))

	require.NoError(t, svc.Send(ctx, "g1", alice, "again"))
	require.Len(t, got, 3)
	assert.Equal(t, "again", got[2].Text)
}

func TestMessageView_SortsByTimestamp(t *testing.T) {
	v := NewMessageView()

	require.True(t, v.Add(models.Message{ID: "m5", Text: "five", Timestamp: 5}))
	require.True(t, v.Add(models.Message{ID: "m1", Text: "one", Timestamp: 1}))
	require.True(t, v.Add(models.Message{ID: "m3", Text: "three", Timestamp: 3}))

	msgs := v.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"one", "three", "five"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})
}

func TestMessageView_TiesBreakOnID(t *testing.T) {
	v := NewMessageView()

	require.True(t, v.Add(models.Message{ID: "b", Timestamp: 7}))
	require.True(t, v.Add(models.Message{ID: "a", Timestamp: 7}))

	msgs := v.Messages()
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "b", msgs[1].ID)
}

func TestMessageView_DropsDuplicates(t *testing.T) {
	v := NewMessageView()

	require.True(t, v.Add(models.Message{ID: "m1", Timestamp: 1}))
	assert.False(t, v.Add(models.Message{ID: "m1", Timestamp: 1}), "redelivery is ignored")
	assert.Equal(t, 1, v.Len())
}

func TestMessageView_MessagesReturnsCopy(t *testing.T) {
	v := NewMessageView()
	require.True(t, v.Add(models.Message{ID: "m1", Text: "orig", Timestamp: 1}))

	msgs := v.Messages()
	msgs[0].Text = "mutated"
	assert.Equal(t, "orig", v.Messages()[0].Text)
}
