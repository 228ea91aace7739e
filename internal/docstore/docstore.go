// Package docstore is the document database consumed by the relationship,
// chat and realtime layers: atomic multi-document transactions plus live
// queries that deliver the full current result set on every change.
package docstore

import (
	"context"
	"errors"
	"time"

	"chatsync/internal/models"
)

var (
	ErrNotFound       = errors.New("docstore: document not found")
	ErrAlreadyExists  = errors.New("docstore: document already exists")
	ErrReadAfterWrite = errors.New("docstore: read after write in transaction")
	ErrAborted        = errors.New("docstore: transaction aborted after retries")
	ErrClosed         = errors.New("docstore: store closed")
	ErrUnavailable    = errors.New("docstore: backend unavailable")
)

// MaxTransactionAttempts bounds how often a conflicting transaction is rerun.
const MaxTransactionAttempts = 5

// Tx is the handle passed to a transaction function. All reads must happen
// before the first staged write; a later read fails with ErrReadAfterWrite.
// Staged writes become visible together when the transaction commits.
type Tx interface {
	GetUser(id string) (models.User, error)
	GetChat(id string) (models.Chat, error)
	ListMessages(chatID string) ([]models.Message, error)

	PutUser(u models.User)
	PutChat(c models.Chat)
	AddMessage(m models.Message)
	DeleteMessage(chatID, messageID string)
}

// TxFunc is run by Store.RunTransaction, possibly more than once when a
// concurrent commit invalidates what it read. Errors it returns abort the
// transaction and are returned unchanged.
type TxFunc func(tx Tx) error

// Unsubscribe stops a live query. Once it returns no further callback of that
// listener runs. It must not be called from inside the listener's callbacks.
type Unsubscribe func()

// Reader is the read side shared by every store implementation.
type Reader interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	GetUsers(ctx context.Context, ids []string) ([]models.User, error)
	// ReferencingUsers returns, ordered by id, the users whose relationship
	// arrays list id.
	ReferencingUsers(ctx context.Context, id string) ([]string, error)
	GetChat(ctx context.Context, id string) (models.Chat, error)
	ListChats(ctx context.Context, userID string) ([]models.Chat, error)
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
}

// Watcher opens live queries.
type Watcher interface {
	Watch(q Query, onData func(Result), onError func(error)) Unsubscribe
}

// Store is a document database.
type Store interface {
	Reader
	Watcher

	RunTransaction(ctx context.Context, fn TxFunc) error
	CreateUser(ctx context.Context, u models.User) error
	UpdatePresence(ctx context.Context, id string, status models.Status, lastSeen time.Time) error
	Close() error
}
