package msgcache

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/shuleapp/shule/core/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	body            TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	delivery        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);
`

type messageRow struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	SenderID       string    `db:"sender_id"`
	Body           string    `db:"body"`
	CreatedAt      time.Time `db:"created_at"`
	Delivery       string    `db:"delivery"`
}

func (r messageRow) message() chat.Message {
	return chat.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Body:           r.Body,
		CreatedAt:      r.CreatedAt,
		Delivery:       chat.DeliveryState(r.Delivery),
	}
}

// Cache is the local sqlite message store backing offline history. It only
// ever holds reconciled messages; optimistic pending entries never reach it.
type Cache struct {
	db *sqlx.DB
}

var _ chat.MessageCache = (*Cache)(nil)

// Open opens (creating if needed) the cache at path. Use ":memory:" in tests.
func Open(path string) (*Cache, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening message cache")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "bootstrapping cache schema")
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// SaveMessage upserts by message id, so replays of the same push are
// harmless.
func (c *Cache) SaveMessage(ctx context.Context, msg chat.Message) error {
	if chat.IsTempID(msg.ID) {
		return errors.New("refusing to cache unreconciled message")
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO messages (id, conversation_id, sender_id, body, created_at, delivery)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Body, msg.CreatedAt.UTC(), string(msg.Delivery),
	)
	return errors.Wrap(err, "caching message")
}

// Recent returns the newest messages across all conversations, oldest first.
func (c *Cache) Recent(ctx context.Context, limit int) ([]chat.Message, error) {
	var rows []messageRow
	err := c.db.SelectContext(ctx, &rows,
		`SELECT * FROM (
			SELECT id, conversation_id, sender_id, body, created_at, delivery
			FROM messages ORDER BY created_at DESC LIMIT ?
		 ) ORDER BY created_at ASC`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "reading cached messages")
	}
	return rowsToMessages(rows), nil
}

// RecentByConversation returns the newest messages of one conversation,
// oldest first.
func (c *Cache) RecentByConversation(ctx context.Context, conversationID string, limit int) ([]chat.Message, error) {
	var rows []messageRow
	err := c.db.SelectContext(ctx, &rows,
		`SELECT * FROM (
			SELECT id, conversation_id, sender_id, body, created_at, delivery
			FROM messages WHERE conversation_id = ? ORDER BY created_at DESC LIMIT ?
		 ) ORDER BY created_at ASC`, conversationID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "reading cached conversation")
	}
	return rowsToMessages(rows), nil
}

func rowsToMessages(rows []messageRow) []chat.Message {
	msgs := make([]chat.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, r.message())
	}
	return msgs
}
