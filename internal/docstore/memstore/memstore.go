// Package memstore is an in-process document store. Transactions are
// optimistic: every document carries a version, a transaction remembers the
// versions it read and its writes are applied only if none of them moved.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chatsync/internal/docstore"
	"chatsync/internal/ledger"
	"chatsync/internal/models"
	"chatsync/internal/observability"
)

var errConflict = errors.New("memstore: conflicting commit")

type userEntry struct {
	doc     models.User
	version int64
}

type chatEntry struct {
	doc     models.Chat
	version int64
}

type messageEntry struct {
	doc models.Message
	seq int64
}

// Store keeps every document in memory.
type Store struct {
	mu       sync.RWMutex
	users    map[string]userEntry
	chats    map[string]chatEntry
	messages map[string]map[string]messageEntry
	// version of each chat's message set, bumped on every add or delete
	msgVersions map[string]int64
	seq         int64
	closed      bool

	feed *docstore.Feed
}

var _ docstore.Store = (*Store)(nil)

// New creates an empty store.
func New(log *logrus.Entry) *Store {
	s := &Store{
		users:       make(map[string]userEntry),
		chats:       make(map[string]chatEntry),
		messages:    make(map[string]map[string]messageEntry),
		msgVersions: make(map[string]int64),
	}
	s.feed = docstore.NewFeed(func(ctx context.Context, q docstore.Query) (docstore.Result, error) {
		return docstore.Evaluate(ctx, s, q)
	}, log)
	return s
}

// RunTransaction runs fn and commits its staged writes atomically, rerunning
// fn when another commit changed a document it read.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	for attempt := 0; attempt < docstore.MaxTransactionAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := newTx(s)
		if err := fn(t); err != nil {
			return err
		}
		err := s.commit(t)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errConflict) {
			return err
		}
		observability.IncTxRetry("memory")
	}
	return docstore.ErrAborted
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}
	for id, v := range t.readUsers {
		if s.users[id].version != v {
			s.mu.Unlock()
			return errConflict
		}
	}
	for id, v := range t.readChats {
		if s.chats[id].version != v {
			s.mu.Unlock()
			return errConflict
		}
	}
	for id, v := range t.readMessages {
		if s.msgVersions[id] != v {
			s.mu.Unlock()
			return errConflict
		}
	}

	var changes []docstore.Change
	for id, u := range t.users {
		s.users[id] = userEntry{doc: u, version: s.users[id].version + 1}
		changes = append(changes, docstore.Change{Collection: docstore.CollectionUsers, Key: id})
	}
	for id, c := range t.chats {
		s.chats[id] = chatEntry{doc: c, version: s.chats[id].version + 1}
		changes = append(changes, docstore.Change{Collection: docstore.CollectionChats, Key: id})
	}
	touched := make(map[string]struct{})
	for _, m := range t.added {
		byID := s.messages[m.ChatID]
		if byID == nil {
			byID = make(map[string]messageEntry)
			s.messages[m.ChatID] = byID
		}
		s.seq++
		byID[m.ID] = messageEntry{doc: m, seq: s.seq}
		touched[m.ChatID] = struct{}{}
	}
	for _, k := range t.deleted {
		if byID := s.messages[k.chatID]; byID != nil {
			delete(byID, k.messageID)
		}
		touched[k.chatID] = struct{}{}
	}
	for chatID := range touched {
		s.msgVersions[chatID]++
		changes = append(changes, docstore.Change{Collection: docstore.CollectionMessages, Key: chatID})
	}
	s.mu.Unlock()

	if len(changes) > 0 {
		s.feed.Notify(changes...)
	}
	return nil
}

// CreateUser inserts a new user record.
func (s *Store) CreateUser(ctx context.Context, u models.User) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}
	if _, ok := s.users[u.ID]; ok {
		s.mu.Unlock()
		return docstore.ErrAlreadyExists
	}
	s.users[u.ID] = userEntry{doc: u.Clone(), version: 1}
	s.mu.Unlock()

	s.feed.Notify(docstore.Change{Collection: docstore.CollectionUsers, Key: u.ID})
	return nil
}

// UpdatePresence overwrites the presence fields of a user record.
func (s *Store) UpdatePresence(ctx context.Context, id string, status models.Status, lastSeen time.Time) error {
	s.mu.Lock()
	e, ok := s.users[id]
	if !ok {
		s.mu.Unlock()
		return docstore.ErrNotFound
	}
	e.doc.Status = status
	e.doc.LastSeen = lastSeen
	e.version++
	s.users[id] = e
	s.mu.Unlock()

	s.feed.Notify(docstore.Change{Collection: docstore.CollectionUsers, Key: id})
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.users[id]
	if !ok {
		return models.User{}, docstore.ErrNotFound
	}
	return e.doc.Clone(), nil
}

// GetUsers returns the records of ids in the order given, skipping ids
// without a record.
func (s *Store) GetUsers(ctx context.Context, ids []string) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.users[id]; ok {
			out = append(out, e.doc.Clone())
		}
	}
	return out, nil
}

func (s *Store) ReferencingUsers(ctx context.Context, id string) ([]string, error) {
	s.mu.RLock()
	out := make([]string, 0)
	for uid, e := range s.users {
		if _, listed := ledger.RelationOf(e.doc, id); listed {
			out = append(out, uid)
		}
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (s *Store) GetChat(ctx context.Context, id string) (models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.chats[id]
	if !ok {
		return models.Chat{}, docstore.ErrNotFound
	}
	return e.doc.Clone(), nil
}

// ListChats returns the chats of userID, most recent activity first.
func (s *Store) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	s.mu.RLock()
	out := make([]models.Chat, 0)
	for _, e := range s.chats {
		if e.doc.HasParticipant(userID) {
			out = append(out, e.doc.Clone())
		}
	}
	s.mu.RUnlock()
	docstore.SortChats(out)
	return out, nil
}

// ListMessages returns the messages of chatID, oldest first.
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messagesLocked(chatID), nil
}

func (s *Store) messagesLocked(chatID string) []models.Message {
	entries := make([]messageEntry, 0, len(s.messages[chatID]))
	for _, e := range s.messages[chatID] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.doc.CreatedAt.Equal(b.doc.CreatedAt) {
			return a.doc.CreatedAt.Before(b.doc.CreatedAt)
		}
		return a.seq < b.seq
	})
	out := make([]models.Message, len(entries))
	for i, e := range entries {
		out[i] = e.doc
	}
	return out
}

func (s *Store) Watch(q docstore.Query, onData func(docstore.Result), onError func(error)) docstore.Unsubscribe {
	return s.feed.Watch(q, onData, onError)
}

// Listeners returns the number of open live queries.
func (s *Store) Listeners() int {
	return s.feed.Len()
}

// Close stops all live queries and rejects further commits.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.feed.Close()
	return nil
}
