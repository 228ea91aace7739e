package memstore

import (
	"chatsync/internal/docstore"
	"chatsync/internal/models"
)

type messageKey struct {
	chatID    string
	messageID string
}

type tx struct {
	s *Store

	readUsers    map[string]int64
	readChats    map[string]int64
	readMessages map[string]int64

	users   map[string]models.User
	chats   map[string]models.Chat
	added   []models.Message
	deleted []messageKey
	wrote   bool
}

func newTx(s *Store) *tx {
	return &tx{
		s:            s,
		readUsers:    make(map[string]int64),
		readChats:    make(map[string]int64),
		readMessages: make(map[string]int64),
		users:        make(map[string]models.User),
		chats:        make(map[string]models.Chat),
	}
}

func (t *tx) GetUser(id string) (models.User, error) {
	if t.wrote {
		return models.User{}, docstore.ErrReadAfterWrite
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	e, ok := t.s.users[id]
	t.readUsers[id] = e.version
	if !ok {
		return models.User{}, docstore.ErrNotFound
	}
	return e.doc.Clone(), nil
}

func (t *tx) GetChat(id string) (models.Chat, error) {
	if t.wrote {
		return models.Chat{}, docstore.ErrReadAfterWrite
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	e, ok := t.s.chats[id]
	t.readChats[id] = e.version
	if !ok {
		return models.Chat{}, docstore.ErrNotFound
	}
	return e.doc.Clone(), nil
}

func (t *tx) ListMessages(chatID string) ([]models.Message, error) {
	if t.wrote {
		return nil, docstore.ErrReadAfterWrite
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	t.readMessages[chatID] = t.s.msgVersions[chatID]
	return t.s.messagesLocked(chatID), nil
}

func (t *tx) PutUser(u models.User) {
	t.wrote = true
	t.users[u.ID] = u.Clone()
}

func (t *tx) PutChat(c models.Chat) {
	t.wrote = true
	t.chats[c.ID] = c.Clone()
}

func (t *tx) AddMessage(m models.Message) {
	t.wrote = true
	t.added = append(t.added, m)
}

func (t *tx) DeleteMessage(chatID, messageID string) {
	t.wrote = true
	t.deleted = append(t.deleted, messageKey{chatID: chatID, messageID: messageID})
}
