package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chatsync/internal/accounts"
	"chatsync/internal/chats"
	"chatsync/internal/models"
)

type RelationsServiceMock struct {
	mock.Mock
}

func (m *RelationsServiceMock) SendRequest(ctx context.Context, from, to string) error {
	return m.Called(ctx, from, to).Error(0)
}

func (m *RelationsServiceMock) AcceptRequest(ctx context.Context, userID, requester string) error {
	return m.Called(ctx, userID, requester).Error(0)
}

func (m *RelationsServiceMock) RejectRequest(ctx context.Context, userID, requester string) error {
	return m.Called(ctx, userID, requester).Error(0)
}

func (m *RelationsServiceMock) CancelRequest(ctx context.Context, userID, recipient string) error {
	return m.Called(ctx, userID, recipient).Error(0)
}

func (m *RelationsServiceMock) RemoveFriend(ctx context.Context, userID, friendID string) error {
	return m.Called(ctx, userID, friendID).Error(0)
}

func (m *RelationsServiceMock) Block(ctx context.Context, userID, target string) error {
	return m.Called(ctx, userID, target).Error(0)
}

func (m *RelationsServiceMock) Unblock(ctx context.Context, userID, target string) error {
	return m.Called(ctx, userID, target).Error(0)
}

func (m *RelationsServiceMock) CheckStatus(ctx context.Context, userID, otherID string) (models.FriendshipStatus, error) {
	args := m.Called(ctx, userID, otherID)
	var st models.FriendshipStatus
	if val := args.Get(0); val != nil {
		st = val.(models.FriendshipStatus)
	}
	return st, args.Error(1)
}

type ChatsServiceMock struct {
	mock.Mock
}

func (m *ChatsServiceMock) CreateOrGetChat(ctx context.Context, userID, otherID string) (models.Chat, error) {
	args := m.Called(ctx, userID, otherID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatsServiceMock) SendMessage(ctx context.Context, chatID, senderID string, in chats.MessageInput) (models.Message, error) {
	args := m.Called(ctx, chatID, senderID, in)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatsServiceMock) MarkRead(ctx context.Context, chatID, userID string) error {
	return m.Called(ctx, chatID, userID).Error(0)
}

func (m *ChatsServiceMock) DeleteMessage(ctx context.Context, chatID, messageID, userID string) error {
	return m.Called(ctx, chatID, messageID, userID).Error(0)
}

func (m *ChatsServiceMock) DeleteAllMessages(ctx context.Context, chatID, userID string) (int, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Int(0), args.Error(1)
}

func (m *ChatsServiceMock) ListMessages(ctx context.Context, chatID, userID string) ([]models.Message, error) {
	args := m.Called(ctx, chatID, userID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *ChatsServiceMock) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	args := m.Called(ctx, userID)
	var list []models.Chat
	if val := args.Get(0); val != nil {
		list = val.([]models.Chat)
	}
	return list, args.Error(1)
}

func (m *ChatsServiceMock) EnsureParticipant(ctx context.Context, chatID, userID string) (models.Chat, error) {
	args := m.Called(ctx, chatID, userID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

type AccountsServiceMock struct {
	mock.Mock
}

func (m *AccountsServiceMock) Register(ctx context.Context, userID string, in accounts.Registration) (models.User, error) {
	args := m.Called(ctx, userID, in)
	var u models.User
	if val := args.Get(0); val != nil {
		u = val.(models.User)
	}
	return u, args.Error(1)
}

func (m *AccountsServiceMock) Profile(ctx context.Context, userID string) (models.User, error) {
	args := m.Called(ctx, userID)
	var u models.User
	if val := args.Get(0); val != nil {
		u = val.(models.User)
	}
	return u, args.Error(1)
}

func (m *AccountsServiceMock) UpdateProfile(ctx context.Context, userID string, in accounts.ProfileUpdate) (models.User, error) {
	args := m.Called(ctx, userID, in)
	var u models.User
	if val := args.Get(0); val != nil {
		u = val.(models.User)
	}
	return u, args.Error(1)
}

func (m *AccountsServiceMock) Delete(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}
