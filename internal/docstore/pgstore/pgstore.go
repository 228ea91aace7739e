// Package pgstore keeps documents as JSONB rows in PostgreSQL. Transactions
// run SERIALIZABLE and are rerun on serialization failures; live queries are
// re-evaluated when a NOTIFY arrives on NotifyChannel.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"chatsync/internal/docstore"
	"chatsync/internal/ledger"
	"chatsync/internal/models"
	"chatsync/internal/observability"
)

const (
	minReconnect = 10 * time.Second
	maxReconnect = time.Minute
	pingInterval = 90 * time.Second
)

// Store is a docstore.Store backed by PostgreSQL.
type Store struct {
	db       *sqlx.DB
	feed     *docstore.Feed
	listener *pq.Listener
	log      *logrus.Entry
	done     chan struct{}
	exited   chan struct{}
}

var _ docstore.Store = (*Store)(nil)

// Connect opens the database, applies migrations and starts listening for
// change notifications.
func Connect(ctx context.Context, dsn string, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "pgstore")

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied")

	s := &Store{
		db:     db,
		log:    log,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	s.feed = docstore.NewFeed(func(ctx context.Context, q docstore.Query) (docstore.Result, error) {
		return docstore.Evaluate(ctx, s, q)
	}, log)

	s.listener = pq.NewListener(dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.WithError(err).WithField("event", ev).Warn("change listener event")
		}
	})
	if err := s.listener.Listen(NotifyChannel); err != nil {
		s.listener.Close()
		db.Close()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	go s.listen()
	return s, nil
}

func (s *Store) listen() {
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			return
		case n := <-s.listener.Notify:
			if n == nil {
				// connection was re-established, notifications may be lost
				s.feed.NotifyAll()
				continue
			}
			if c, ok := parsePayload(n.Extra); ok {
				s.feed.Notify(c)
			}
		case <-time.After(pingInterval):
			go func() {
				if err := s.listener.Ping(); err != nil {
					s.log.WithError(err).Warn("change listener ping failed")
				}
			}()
		}
	}
}

func parsePayload(payload string) (docstore.Change, bool) {
	table, key, ok := strings.Cut(payload, ":")
	if !ok || key == "" {
		return docstore.Change{}, false
	}
	switch table {
	case docstore.CollectionUsers, docstore.CollectionChats, docstore.CollectionMessages:
		return docstore.Change{Collection: table, Key: key}, true
	}
	return docstore.Change{}, false
}

// isRetryable reports serialization failures and deadlocks.
func isRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return true
		}
	}
	return false
}

// RunTransaction runs fn inside a SERIALIZABLE transaction, applying its
// staged writes before commit.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	for attempt := 0; attempt < docstore.MaxTransactionAttempts; attempt++ {
		changes, err := s.runOnce(ctx, fn)
		if err == nil {
			// the trigger notifies too, local delivery just skips the round trip
			if len(changes) > 0 {
				s.feed.Notify(changes...)
			}
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		observability.IncTxRetry("postgres")
		s.log.WithError(err).WithField("attempt", attempt+1).Debug("transaction conflict, retrying")
	}
	return docstore.ErrAborted
}

func (s *Store) runOnce(ctx context.Context, fn docstore.TxFunc) ([]docstore.Change, error) {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	t := &tx{ctx: ctx, tx: sqlTx, users: map[string]models.User{}, chats: map[string]models.Chat{}}
	if err := fn(t); err != nil {
		sqlTx.Rollback()
		return nil, err
	}
	changes, err := t.apply()
	if err != nil {
		sqlTx.Rollback()
		return nil, err
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, err
	}
	return changes, nil
}

// CreateUser inserts a new user record.
func (s *Store) CreateUser(ctx context.Context, u models.User) error {
	doc, err := json.Marshal(u)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO users (id, doc) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, u.ID, doc)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return docstore.ErrAlreadyExists
	}
	s.feed.Notify(docstore.Change{Collection: docstore.CollectionUsers, Key: u.ID})
	return nil
}

// UpdatePresence merges the presence fields into the stored document without
// a read-modify-write cycle.
func (s *Store) UpdatePresence(ctx context.Context, id string, status models.Status, lastSeen time.Time) error {
	seen, err := json.Marshal(lastSeen)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET doc = doc || jsonb_build_object('status', $2::text, 'last_seen', $3::jsonb), updated_at = NOW() WHERE id = $1`,
		id, string(status), string(seen))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return docstore.ErrNotFound
	}
	s.feed.Notify(docstore.Change{Collection: docstore.CollectionUsers, Key: id})
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	var doc []byte
	err := s.db.GetContext(ctx, &doc, `SELECT doc FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, docstore.ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	var u models.User
	return u, json.Unmarshal(doc, &u)
}

// GetUsers returns the records of ids in the order given, skipping ids
// without a record.
func (s *Store) GetUsers(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	var rows []struct {
		ID  string `db:"id"`
		Doc []byte `db:"doc"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, doc FROM users WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return nil, err
	}
	byID := make(map[string]models.User, len(rows))
	for _, r := range rows {
		var u models.User
		if err := json.Unmarshal(r.Doc, &u); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", r.ID, err)
		}
		byID[r.ID] = u
	}
	out := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// referencingQuery matches users listing $1 in any relationship array. The
// containment tests are served by users_doc_idx.
var referencingQuery = func() string {
	conds := make([]string, len(ledger.Fields))
	for i, f := range ledger.Fields {
		conds[i] = fmt.Sprintf("doc @> jsonb_build_object('%s', jsonb_build_array($1::text))", f)
	}
	return "SELECT id FROM users WHERE " + strings.Join(conds, " OR ") + " ORDER BY id"
}()

func (s *Store) ReferencingUsers(ctx context.Context, id string) ([]string, error) {
	ids := []string{}
	if err := s.db.SelectContext(ctx, &ids, referencingQuery, id); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) GetChat(ctx context.Context, id string) (models.Chat, error) {
	var doc []byte
	err := s.db.GetContext(ctx, &doc, `SELECT doc FROM chats WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, docstore.ErrNotFound
	}
	if err != nil {
		return models.Chat{}, err
	}
	var c models.Chat
	return c, json.Unmarshal(doc, &c)
}

// ListChats returns the chats of userID, most recent activity first.
func (s *Store) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	var docs [][]byte
	err := s.db.SelectContext(ctx, &docs,
		`SELECT doc FROM chats WHERE $1 = ANY(participants) ORDER BY last_message_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Chat, 0, len(docs))
	for _, d := range docs {
		var c models.Chat
		if err := json.Unmarshal(d, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ListMessages returns the messages of chatID, oldest first.
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	return listMessages(ctx, s.db, chatID)
}

func listMessages(ctx context.Context, q sqlx.QueryerContext, chatID string) ([]models.Message, error) {
	var docs [][]byte
	if err := sqlx.SelectContext(ctx, q, &docs,
		`SELECT doc FROM messages WHERE chat_id = $1 ORDER BY created_at, seq`, chatID); err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		var m models.Message
		if err := json.Unmarshal(d, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) Watch(q docstore.Query, onData func(docstore.Result), onError func(error)) docstore.Unsubscribe {
	return s.feed.Watch(q, onData, onError)
}

// DB exposes the connection pool for health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close stops live queries and the listener, then closes the pool.
func (s *Store) Close() error {
	close(s.done)
	<-s.exited
	s.feed.Close()
	s.listener.Close()
	return s.db.Close()
}
