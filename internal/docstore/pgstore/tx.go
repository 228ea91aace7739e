package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chatsync/internal/docstore"
	"chatsync/internal/models"
)

type tx struct {
	ctx context.Context
	tx  *sqlx.Tx

	users   map[string]models.User
	chats   map[string]models.Chat
	added   []models.Message
	deleted [][2]string
	wrote   bool
}

func (t *tx) GetUser(id string) (models.User, error) {
	if t.wrote {
		return models.User{}, docstore.ErrReadAfterWrite
	}
	var doc []byte
	err := t.tx.GetContext(t.ctx, &doc, `SELECT doc FROM users WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, docstore.ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	var u models.User
	return u, json.Unmarshal(doc, &u)
}

func (t *tx) GetChat(id string) (models.Chat, error) {
	if t.wrote {
		return models.Chat{}, docstore.ErrReadAfterWrite
	}
	var doc []byte
	err := t.tx.GetContext(t.ctx, &doc, `SELECT doc FROM chats WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, docstore.ErrNotFound
	}
	if err != nil {
		return models.Chat{}, err
	}
	var c models.Chat
	return c, json.Unmarshal(doc, &c)
}

func (t *tx) ListMessages(chatID string) ([]models.Message, error) {
	if t.wrote {
		return nil, docstore.ErrReadAfterWrite
	}
	return listMessages(t.ctx, t.tx, chatID)
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
	t.deleted = append(t.deleted, [2]string{chatID, messageID})
}

// apply writes the staged documents inside the open transaction.
func (t *tx) apply() ([]docstore.Change, error) {
	var changes []docstore.Change
	for id, u := range t.users {
		doc, err := json.Marshal(u)
		if err != nil {
			return nil, err
		}
		if _, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO users (id, doc) VALUES ($1, $2)
            ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`, id, doc); err != nil {
			return nil, err
		}
		changes = append(changes, docstore.Change{Collection: docstore.CollectionUsers, Key: id})
	}
	for id, c := range t.chats {
		doc, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		if _, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO chats (id, participants, last_message_at, doc) VALUES ($1, $2, $3, $4)
            ON CONFLICT (id) DO UPDATE SET participants = EXCLUDED.participants,
                last_message_at = EXCLUDED.last_message_at, doc = EXCLUDED.doc`,
			id, pq.Array(c.Participants), c.LastMessageAt, doc); err != nil {
			return nil, err
		}
		changes = append(changes, docstore.Change{Collection: docstore.CollectionChats, Key: id})
	}
	touched := map[string]struct{}{}
	for _, m := range t.added {
		doc, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		if _, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO messages (chat_id, id, created_at, doc) VALUES ($1, $2, $3, $4)`,
			m.ChatID, m.ID, m.CreatedAt, doc); err != nil {
			return nil, err
		}
		touched[m.ChatID] = struct{}{}
	}
	for _, k := range t.deleted {
		if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM messages WHERE chat_id = $1 AND id = $2`, k[0], k[1]); err != nil {
			return nil, err
		}
		touched[k[0]] = struct{}{}
	}
	for chatID := range touched {
		changes = append(changes, docstore.Change{Collection: docstore.CollectionMessages, Key: chatID})
	}
	return changes, nil
}
