package store

import (
	"fmt"

	"graphchat/internal/logging"
)

// migrations are applied in order at startup. Statements must be idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		message_type    TEXT NOT NULL,
		content         TEXT NOT NULL,
		citations       TEXT NOT NULL DEFAULT '[]',
		incomplete      INTEGER NOT NULL DEFAULT 0,
		created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages (conversation_id, id)`,
}

func (s *HistoryStore) migrate() error {
	for i, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("history migration %d failed: %w", i, err)
		}
	}
	logging.StoreDebug("History migrations applied: %d statements", len(migrations))
	return nil
}
