// Package chats manages direct chats between friends and their messages.
package chats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chatsync/internal/apperrors"
	"chatsync/internal/docstore"
	"chatsync/internal/ledger"
	"chatsync/internal/models"
	"chatsync/internal/observability"
	"chatsync/internal/telemetry"
)

var tracer = otel.Tracer("chatsync/chats")

const (
	// DefaultMaxImageBytes bounds the decoded size of an inline image.
	DefaultMaxImageBytes = 1 << 20
	// MaxTextLength bounds text messages, in runes.
	MaxTextLength = 4000
)

const (
	OpCreateChat   = "create_chat"
	OpSendMessage  = "send_message"
	OpMarkRead     = "mark_read"
	OpDeleteOne    = "delete_message"
	OpDeleteAll    = "delete_all_messages"
	OpListMessages = "list_messages"
)

// Service runs chat operations against a document store.
type Service struct {
	store         docstore.Store
	audit         *telemetry.AuditEmitter
	events        *telemetry.EventEmitter
	log           *logrus.Entry
	now           func() time.Time
	newID         func() string
	maxImageBytes int
}

type Option func(*Service)

func WithAudit(a *telemetry.AuditEmitter) Option { return func(s *Service) { s.audit = a } }

func WithEvents(e *telemetry.EventEmitter) Option { return func(s *Service) { s.events = e } }

func WithLogger(l *logrus.Entry) Option { return func(s *Service) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithIDGenerator replaces the uuid message ids.
func WithIDGenerator(fn func() string) Option { return func(s *Service) { s.newID = fn } }

func WithMaxImageBytes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxImageBytes = n
		}
	}
}

func NewService(store docstore.Store, opts ...Option) *Service {
	s := &Service{
		store:         store,
		log:           logrus.NewEntry(logrus.StandardLogger()),
		now:           time.Now,
		newID:         uuid.NewString,
		maxImageBytes: DefaultMaxImageBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "chats")
	return s
}

// MessageInput is the content of a message to send.
type MessageInput struct {
	Content string            `json:"content"`
	Type    models.MessageType `json:"type"`
}

// CreateOrGetChat returns the chat between userID and otherID, creating it
// when the two are mutual friends. An existing chat is returned unchanged.
func (s *Service) CreateOrGetChat(ctx context.Context, userID, otherID string) (models.Chat, error) {
	if userID == "" || otherID == "" {
		return models.Chat{}, s.record(OpCreateChat, apperrors.ErrMissingID)
	}
	if userID == otherID {
		return models.Chat{}, s.record(OpCreateChat, apperrors.ErrSelfReference)
	}
	ctx, span := tracer.Start(ctx, "chats."+OpCreateChat)
	defer span.End()

	chatID := models.ChatIDFor(userID, otherID)
	span.SetAttributes(attribute.String("chat_id", chatID))

	var chat models.Chat
	created := false
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		created = false
		existing, err := tx.GetChat(chatID)
		if err == nil {
			chat = existing
			return nil
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		me, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		other, err := loadUser(tx, otherID)
		if err != nil {
			return err
		}
		if ledger.Contains(me, models.FieldBlocked, otherID) || ledger.Contains(other, models.FieldBlocked, userID) {
			return apperrors.ErrBlocked
		}
		if !ledger.Contains(me, models.FieldFriends, otherID) || !ledger.Contains(other, models.FieldFriends, userID) {
			return apperrors.ErrNotFriends
		}
		chat = models.NewChat(userID, otherID, s.now().UTC())
		tx.PutChat(chat)
		created = true
		return nil
	})
	if err != nil {
		return models.Chat{}, s.fail(span, OpCreateChat, err)
	}
	s.record(OpCreateChat, nil)
	if created {
		s.log.WithFields(logrus.Fields{"chat_id": chatID, "user_id": userID}).Info("chat created")
	}
	return chat, nil
}

// SendMessage appends a message, updates the chat preview and bumps the
// recipient's unread counter.
func (s *Service) SendMessage(ctx context.Context, chatID, senderID string, in MessageInput) (models.Message, error) {
	if in.Type == "" {
		in.Type = models.MessageTypeText
	}
	if err := s.validate(in); err != nil {
		return models.Message{}, s.record(OpSendMessage, err)
	}
	ctx, span := tracer.Start(ctx, "chats."+OpSendMessage)
	defer span.End()
	span.SetAttributes(attribute.String("chat_id", chatID), attribute.String("type", string(in.Type)))

	var msg models.Message
	var recipient string
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		chat, err := loadChat(tx, chatID, senderID)
		if err != nil {
			return err
		}
		recipient = chat.Other(senderID)
		sender, err := loadUser(tx, senderID)
		if err != nil {
			return err
		}
		peer, err := loadUser(tx, recipient)
		if err != nil {
			return err
		}
		if ledger.Contains(peer, models.FieldBlocked, senderID) || ledger.Contains(sender, models.FieldBlocked, recipient) {
			return apperrors.ErrBlocked
		}

		now := s.now().UTC()
		msg = models.Message{
			ID:        s.newID(),
			ChatID:    chatID,
			SenderID:  senderID,
			Content:   in.Content,
			Type:      in.Type,
			CreatedAt: now,
		}
		tx.AddMessage(msg)

		chat.LastMessage = msg.Preview()
		chat.LastMessageType = msg.Type
		chat.LastSenderID = senderID
		chat.LastMessageAt = now
		chat.UpdatedAt = now
		if chat.Unread == nil {
			chat.Unread = make(map[string]int, 2)
		}
		chat.Unread[recipient]++
		tx.PutChat(chat)
		return nil
	})
	if err != nil {
		return models.Message{}, s.fail(span, OpSendMessage, err)
	}
	s.record(OpSendMessage, nil)
	s.events.Emit(ctx, telemetry.EventMessageSent, senderID, recipient, map[string]string{
		"chat_id":    chatID,
		"message_id": msg.ID,
		"type":       string(msg.Type),
	})
	return msg, nil
}

func (s *Service) validate(in MessageInput) error {
	switch in.Type {
	case models.MessageTypeText:
		if strings.TrimSpace(in.Content) == "" {
			return apperrors.ErrEmptyMessage
		}
		if utf8.RuneCountInString(in.Content) > MaxTextLength {
			return apperrors.ErrMessageTooLarge
		}
		return nil
	case models.MessageTypeImage:
		return ValidateImage(in.Content, s.maxImageBytes)
	}
	return apperrors.ErrInvalidPayload
}

// MarkRead zeroes userID's unread counter.
func (s *Service) MarkRead(ctx context.Context, chatID, userID string) error {
	ctx, span := tracer.Start(ctx, "chats."+OpMarkRead)
	defer span.End()

	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		chat, err := loadChat(tx, chatID, userID)
		if err != nil {
			return err
		}
		if chat.Unread[userID] == 0 {
			return nil
		}
		chat.Unread[userID] = 0
		tx.PutChat(chat)
		return nil
	})
	if err != nil {
		return s.fail(span, OpMarkRead, err)
	}
	s.record(OpMarkRead, nil)
	return nil
}

// DeleteMessage removes a message sent by userID. When it was the latest
// message the chat preview falls back to the one before it.
func (s *Service) DeleteMessage(ctx context.Context, chatID, messageID, userID string) error {
	ctx, span := tracer.Start(ctx, "chats."+OpDeleteOne)
	defer span.End()

	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		chat, err := loadChat(tx, chatID, userID)
		if err != nil {
			return err
		}
		msgs, err := tx.ListMessages(chatID)
		if err != nil {
			return err
		}
		idx := -1
		for i, m := range msgs {
			if m.ID == messageID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return apperrors.ErrMessageNotFound
		}
		if msgs[idx].SenderID != userID {
			return apperrors.ErrNotSender
		}
		tx.DeleteMessage(chatID, messageID)

		if idx == len(msgs)-1 {
			now := s.now().UTC()
			if idx == 0 {
				chat.ResetLastMessage(now)
			} else {
				prev := msgs[idx-1]
				chat.LastMessage = prev.Preview()
				chat.LastMessageType = prev.Type
				chat.LastSenderID = prev.SenderID
				chat.LastMessageAt = prev.CreatedAt
			}
			chat.UpdatedAt = now
			tx.PutChat(chat)
		}
		return nil
	})
	if err != nil {
		return s.fail(span, OpDeleteOne, err)
	}
	s.record(OpDeleteOne, nil)
	return nil
}

// DeleteAllMessages deletes every message of the chat in one transaction and
// resets the preview. Unread counters are left as they are.
func (s *Service) DeleteAllMessages(ctx context.Context, chatID, userID string) (int, error) {
	ctx, span := tracer.Start(ctx, "chats."+OpDeleteAll)
	defer span.End()

	deleted := 0
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		chat, err := loadChat(tx, chatID, userID)
		if err != nil {
			return err
		}
		msgs, err := tx.ListMessages(chatID)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return apperrors.ErrNoMessages
		}
		for _, m := range msgs {
			tx.DeleteMessage(chatID, m.ID)
		}
		now := s.now().UTC()
		chat.ResetLastMessage(now)
		chat.UpdatedAt = now
		tx.PutChat(chat)
		deleted = len(msgs)
		return nil
	})
	if err != nil {
		return 0, s.fail(span, OpDeleteAll, err)
	}
	s.record(OpDeleteAll, nil)
	s.audit.Record(ctx, telemetry.AuditRecord{
		Action:  OpDeleteAll,
		ActorID: userID,
		Subject: chatID,
		Text:    fmt.Sprintf("deleted %d messages", deleted),
	})
	s.events.Emit(ctx, telemetry.EventMessagesCleared, userID, "", map[string]string{"chat_id": chatID})
	return deleted, nil
}

// ListMessages returns the messages of a chat the caller belongs to.
func (s *Service) ListMessages(ctx context.Context, chatID, userID string) ([]models.Message, error) {
	if _, err := s.EnsureParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, s.record(OpListMessages, apperrors.FromStore(err))
	}
	return msgs, nil
}

// ListChats returns the caller's chats, most recent first.
func (s *Service) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	chats, err := s.store.ListChats(ctx, userID)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	return chats, nil
}

// EnsureParticipant loads the chat and checks that userID belongs to it.
func (s *Service) EnsureParticipant(ctx context.Context, chatID, userID string) (models.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if errors.Is(err, docstore.ErrNotFound) {
		return models.Chat{}, apperrors.ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, apperrors.FromStore(err)
	}
	if !chat.HasParticipant(userID) {
		return models.Chat{}, apperrors.ErrNotParticipant
	}
	return chat, nil
}

func (s *Service) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return s.record(op, apperrors.FromStore(err))
}

func (s *Service) record(op string, err error) error {
	if err == nil {
		observability.IncChatOp(op, "ok")
		return nil
	}
	observability.IncChatOp(op, string(apperrors.CodeOf(err)))
	if apperrors.KindOf(err) == apperrors.KindInternal {
		s.log.WithError(err).WithField("op", op).Error("chat operation failed")
	}
	return err
}

func loadChat(tx docstore.Tx, chatID, userID string) (models.Chat, error) {
	chat, err := tx.GetChat(chatID)
	if errors.Is(err, docstore.ErrNotFound) {
		return models.Chat{}, apperrors.ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, err
	}
	if !chat.HasParticipant(userID) {
		return models.Chat{}, apperrors.ErrNotParticipant
	}
	return chat, nil
}

func loadUser(tx docstore.Tx, id string) (models.User, error) {
	u, err := tx.GetUser(id)
	if errors.Is(err, docstore.ErrNotFound) {
		return models.User{}, apperrors.ErrUserNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	if u.Deleted {
		return models.User{}, apperrors.ErrUserNotFound
	}
	return u, nil
}
