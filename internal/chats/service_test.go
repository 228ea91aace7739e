package chats

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/apperrors"
	"chatsync/internal/docstore/memstore"
	"chatsync/internal/models"
	"chatsync/internal/relations"
	"chatsync/internal/testutil"
)

type fixture struct {
	store *memstore.Store
	rel   *relations.Service
	chats *Service
	clock *testutil.FakeClock
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	store := testutil.NewStore(t)
	testutil.SeedUsers(t, store, ids...)
	clock := testutil.NewFakeClock(testutil.Epoch)
	seq := 0
	var mu sync.Mutex
	return &fixture{
		store: store,
		rel:   relations.NewService(store),
		chats: NewService(store,
			WithClock(clock.Now),
			WithMaxImageBytes(64),
			WithIDGenerator(func() string {
				mu.Lock()
				defer mu.Unlock()
				seq++
				return fmt.Sprintf("m%03d", seq)
			}),
		),
		clock: clock,
	}
}

func (f *fixture) befriend(t *testing.T, a, b string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.rel.SendRequest(ctx, a, b))
	require.NoError(t, f.rel.AcceptRequest(ctx, b, a))
}

func TestCreateOrGetChatIsStable(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.befriend(t, "a", "b")
	ctx := context.Background()

	first, err := f.chats.CreateOrGetChat(ctx, "a", "b")
	require.NoError(t, err)
	second, err := f.chats.CreateOrGetChat(ctx, "b", "a")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.ChatIDFor("a", "b"), first.ID)
	assert.Equal(t, []string{"a", "b"}, first.Participants)
	assert.Equal(t, map[string]int{"a": 0, "b": 0}, first.Unread)
	assert.Equal(t, models.NoMessagesPreview, first.LastMessage)
}

func TestCreateOrGetChatConcurrent(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.befriend(t, "a", "b")
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 2)
	for i, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
		wg.Add(1)
		go func(i int, x, y string) {
			defer wg.Done()
			c, err := f.chats.CreateOrGetChat(ctx, x, y)
			if err == nil {
				ids[i] = c.ID
			}
		}(i, pair[0], pair[1])
	}
	wg.Wait()

	chats, err := f.store.ListChats(ctx, "a")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	for _, id := range ids {
		if id != "" {
			assert.Equal(t, chats[0].ID, id)
		}
	}
}

func TestCreateOrGetChatRequiresFriendship(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()

	_, err := f.chats.CreateOrGetChat(ctx, "a", "b")
	assert.ErrorIs(t, err, apperrors.ErrNotFriends)
	_, err = f.chats.CreateOrGetChat(ctx, "a", "a")
	assert.ErrorIs(t, err, apperrors.ErrSelfReference)
	_, err = f.chats.CreateOrGetChat(ctx, "a", "ghost")
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)

	require.NoError(t, f.rel.Block(ctx, "b", "a"))
	_, err = f.chats.CreateOrGetChat(ctx, "a", "b")
	assert.ErrorIs(t, err, apperrors.ErrBlocked)
}

func TestSendReadScenario(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.befriend(t, "a", "b")
	ctx := context.Background()
	chat, err := f.chats.CreateOrGetChat(ctx, "a", "b")
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	msg, err := f.chats.SendMessage(ctx, chat.ID, "a", MessageInput{Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeText, msg.Type)

	got, err := f.store.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Unread["b"])
	assert.Equal(t, 0, got.Unread["a"])
	assert.Equal(t, "hi", got.LastMessage)
	assert.Equal(t, "a", got.LastSenderID)
	assert.Equal(t, testutil.Epoch.Add(time.Minute), got.LastMessageAt)

	require.NoError(t, f.chats.MarkRead(ctx, chat.ID, "b"))
	got, _ = f.store.GetChat(ctx, chat.ID)
	assert.Equal(t, 0, got.Unread["b"])

	// nothing left to clear
	require.NoError(t, f.chats.MarkRead(ctx, chat.ID, "b"))
	assert.ErrorIs(t, f.chats.MarkRead(ctx, chat.ID, "c"), apperrors.ErrNotParticipant)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	f.befriend(t, "a", "b")
	ctx := context.Background()
	chat, err := f.chats.CreateOrGetChat(ctx, "a", "b")
	require.NoError(t, err)

	small := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	big := base64.StdEncoding.EncodeToString(make([]byte, 65))

	cases := []struct {
		name string
		in   MessageInput
		err  error
	}{
		{"blank text", MessageInput{Content: "   "}, apperrors.ErrEmptyMessage},
		{"long text", MessageInput{Content: strings.Repeat("x", MaxTextLength+1)}, apperrors.ErrMessageTooLarge},
		{"unknown type", MessageInput{Content: "x", Type: "video"}, apperrors.ErrInvalidPayload},
		{"empty image", MessageInput{Type: models.MessageTypeImage}, apperrors.ErrEmptyMessage},
		{"not base64", MessageInput{Content: "%%%", Type: models.MessageTypeImage}, apperrors.ErrInvalidPayload},
		{"wrong mime", MessageInput{Content: "data:text/plain;base64," + small, Type: models.MessageTypeImage}, apperrors.ErrInvalidPayload},
		{"too big", MessageInput{Content: big, Type: models.MessageTypeImage}, apperrors.ErrMessageTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.chats.SendMessage(ctx, chat.ID, "a", tc.in)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	msg, err := f.chats.SendMessage(ctx, chat.ID, "a", MessageInput{Content: "data:image/png;base64," + small, Type: models.MessageTypeImage})
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeImage, msg.Type)
	got, _ := f.store.GetChat(ctx, chat.ID)
	assert.Equal(t, models.ImagePreview, got.LastMessage)

	_, err = f.chats.SendMessage(ctx, chat.ID, "c", MessageInput{Content: "hi"})
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)
	_, err = f.chats.SendMessage(ctx, "nope", "a", MessageInput{Content: "hi"})
	assert.ErrorIs(t, err, apperrors.ErrChatNotFound)
}

func TestSendMessageBlocked(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.befriend(t, "a", "b")
	ctx := context.Background()
	chat, err := f.chats.CreateOrGetChat(ctx, "a", "b")
	require.NoError(t, err)

	require.NoError(t, f.rel.Block(ctx, "b", "a"))
	_, err = f.chats.SendMessage(ctx, chat.ID, "a", MessageInput{Content: "hi"})
	assert.ErrorIs(t, err, apperrors.ErrBlocked)
}

func TestDeleteMessageRecomputesPreview(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.befriend(t, "a", "b")
	ctx := context.Background()
	chat, _ := f.chats.CreateOrGetChat(ctx, "a", "b")

	f.clock.Advance(time.Second)
	first, err := f.chats.SendMessage(ctx, chat.ID, "a", MessageInput{Content: "one"})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second, err := f.chats.SendMessage(ctx, chat.ID, "b", MessageInput{Content: "two"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.chats.DeleteMessage(ctx, chat.ID, second.ID, "a"), apperrors.ErrNotSender)
	assert.ErrorIs(t, f.chats.DeleteMessage(ctx, chat.ID, "missing", "a"), apperrors.ErrMessageNotFound)

	require.NoError(t, f.chats.DeleteMessage(ctx, chat.ID, second.ID, "b"))
	got, _ := f.store.GetChat(ctx, chat.ID)
	assert.Equal(t, "one", got.LastMessage)
	assert.Equal(t, first.CreatedAt, got.LastMessageAt)

	require.NoError(t, f.chats.DeleteMessage(ctx, chat.ID, first.ID, "a"))
	got, _ = f.store.GetChat(ctx, chat.ID)
	assert.Equal(t, models.NoMessagesPreview, got.LastMessage)
}

func TestDeleteAllMessages(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	f.befriend(t, "a", "b")
	ctx := context.Background()
	chat, _ := f.chats.CreateOrGetChat(ctx, "a", "b")

	_, err := f.chats.DeleteAllMessages(ctx, chat.ID, "a")
	assert.ErrorIs(t, err, apperrors.ErrNoMessages)

	for _, text := range []string{"x", "y", "z"} {
		_, err := f.chats.SendMessage(ctx, chat.ID, "a", MessageInput{Content: text})
		require.NoError(t, err)
	}
	_, err = f.chats.DeleteAllMessages(ctx, chat.ID, "c")
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)

	n, err := f.chats.DeleteAllMessages(ctx, chat.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	msgs, err := f.chats.ListMessages(ctx, chat.ID, "a")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	got, _ := f.store.GetChat(ctx, chat.ID)
	assert.Equal(t, models.NoMessagesPreview, got.LastMessage)
	assert.Empty(t, got.LastSenderID)
}

func TestListMessagesChecksMembership(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	f.befriend(t, "a", "b")
	ctx := context.Background()
	chat, _ := f.chats.CreateOrGetChat(ctx, "a", "b")

	_, err := f.chats.ListMessages(ctx, chat.ID, "c")
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)
	_, err = f.chats.ListMessages(ctx, "nope", "a")
	assert.ErrorIs(t, err, apperrors.ErrChatNotFound)

	chats, err := f.chats.ListChats(ctx, "b")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, chat.ID, chats[0].ID)
}
