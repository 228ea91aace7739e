package pgstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying "table:key" payloads.
const NotifyChannel = "docstore_changes"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY,
        doc JSONB NOT NULL,
        updated_at TIMESTAMPTZ DEFAULT NOW()
    );`,
	`CREATE INDEX IF NOT EXISTS users_doc_idx ON users USING GIN (doc jsonb_path_ops);`,
	`CREATE TABLE IF NOT EXISTS chats (
        id TEXT PRIMARY KEY,
        participants TEXT[] NOT NULL,
        last_message_at TIMESTAMPTZ NOT NULL,
        doc JSONB NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS chats_participants_idx ON chats USING GIN (participants);`,
	`CREATE TABLE IF NOT EXISTS messages (
        chat_id TEXT NOT NULL,
        id TEXT NOT NULL,
        seq BIGSERIAL,
        created_at TIMESTAMPTZ NOT NULL,
        doc JSONB NOT NULL,
        PRIMARY KEY (chat_id, id)
    );`,
	`CREATE INDEX IF NOT EXISTS messages_chat_order_idx ON messages (chat_id, created_at, seq);`,
	`CREATE OR REPLACE FUNCTION docstore_notify() RETURNS trigger AS $$
    DECLARE
        rec RECORD;
        key TEXT;
    BEGIN
        IF TG_OP = 'DELETE' THEN rec := OLD; ELSE rec := NEW; END IF;
        IF TG_TABLE_NAME = 'messages' THEN key := rec.chat_id; ELSE key := rec.id; END IF;
        PERFORM pg_notify('` + NotifyChannel + `', TG_TABLE_NAME || ':' || key);
        RETURN NULL;
    END;
    $$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS users_notify ON users;`,
	`CREATE TRIGGER users_notify AFTER INSERT OR UPDATE OR DELETE ON users
        FOR EACH ROW EXECUTE FUNCTION docstore_notify();`,
	`DROP TRIGGER IF EXISTS chats_notify ON chats;`,
	`CREATE TRIGGER chats_notify AFTER INSERT OR UPDATE OR DELETE ON chats
        FOR EACH ROW EXECUTE FUNCTION docstore_notify();`,
	`DROP TRIGGER IF EXISTS messages_notify ON messages;`,
	`CREATE TRIGGER messages_notify AFTER INSERT OR UPDATE OR DELETE ON messages
        FOR EACH ROW EXECUTE FUNCTION docstore_notify();`,
}

// Migrate creates the document tables and the change-notification triggers.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
