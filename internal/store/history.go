// Package store implements the SQLite-backed conversation history store.
// Turns are append-only. Streaming writes go through an in-memory per
// conversation buffer (AddMessageChunk) and become durable only when
// FlushMessageBuffer commits them as one assembled turn.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"graphchat/internal/logging"
	"graphchat/internal/types"
)

// bufferedChunk is one pending streamed fragment for a conversation.
type bufferedChunk struct {
	content     string
	messageType types.MessageType
	citations   []string
}

// HistoryStore persists conversation turns in SQLite.
type HistoryStore struct {
	mu      sync.Mutex
	db      *sql.DB
	buffers map[string][]bufferedChunk // conversationID -> pending chunks
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}

	s := &HistoryStore{
		db:      db,
		buffers: make(map[string][]bufferedChunk),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("History store opened: %s", path)
	return s, nil
}

// Close closes the underlying database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// EnsureConversation creates the conversation row if it does not exist.
func (s *HistoryStore) EnsureConversation(ctx context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, user_id) VALUES (?, ?)`,
		conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure conversation %s: %w", conversationID, err)
	}
	return nil
}

// AddMessage appends one complete turn directly, bypassing the chunk buffer.
// Used for human turns, which arrive whole.
func (s *HistoryStore) AddMessage(ctx context.Context, conversationID, content string, messageType types.MessageType, citations []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTurn(ctx, conversationID, content, messageType, citations, false)
}

// AddMessageChunk buffers one streamed fragment for a conversation. The
// chunk is not durable until FlushMessageBuffer runs. Chunk order is
// preserved as append order.
func (s *HistoryStore) AddMessageChunk(conversationID, content string, messageType types.MessageType, citations []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffers[conversationID] = append(s.buffers[conversationID], bufferedChunk{
		content:     content,
		messageType: messageType,
		citations:   citations,
	})
	logging.StoreDebug("Buffered chunk: conversation=%s len=%d pending=%d",
		conversationID, len(content), len(s.buffers[conversationID]))
	return nil
}

// FlushMessageBuffer commits all buffered chunks of the given message type
// as one assembled turn, then clears the buffer.
func (s *HistoryStore) FlushMessageBuffer(ctx context.Context, conversationID string, messageType types.MessageType) error {
	return s.flush(ctx, conversationID, messageType, false)
}

// FlushMessageBufferIncomplete commits buffered chunks but marks the turn
// incomplete. Used by the mark-incomplete partial-flush policy.
func (s *HistoryStore) FlushMessageBufferIncomplete(ctx context.Context, conversationID string, messageType types.MessageType) error {
	return s.flush(ctx, conversationID, messageType, true)
}

// DiscardMessageBuffer drops buffered chunks without persisting them.
func (s *HistoryStore) DiscardMessageBuffer(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.buffers[conversationID]); n > 0 {
		logging.Store("Discarding %d buffered chunks for conversation=%s", n, conversationID)
	}
	delete(s.buffers, conversationID)
}

func (s *HistoryStore) flush(ctx context.Context, conversationID string, messageType types.MessageType, incomplete bool) error {
	timer := logging.StartTimer(logging.CategoryStore, "FlushMessageBuffer")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	chunks := s.buffers[conversationID]
	if len(chunks) == 0 {
		return nil
	}

	var sb strings.Builder
	var citations []string
	for _, c := range chunks {
		if c.messageType != messageType {
			continue
		}
		sb.WriteString(c.content)
		if citations == nil && len(c.citations) > 0 {
			citations = c.citations
		}
	}
	delete(s.buffers, conversationID)

	if sb.Len() == 0 {
		return nil
	}
	if err := s.insertTurn(ctx, conversationID, sb.String(), messageType, citations, incomplete); err != nil {
		return err
	}

	logging.Store("Flushed %d chunks as one turn: conversation=%s type=%s incomplete=%v",
		len(chunks), conversationID, messageType, incomplete)
	return nil
}

// insertTurn writes one turn row. Callers hold s.mu.
func (s *HistoryStore) insertTurn(ctx context.Context, conversationID, content string, messageType types.MessageType, citations []string, incomplete bool) error {
	citationsJSON := "[]"
	if len(citations) > 0 {
		data, err := json.Marshal(citations)
		if err != nil {
			return fmt.Errorf("failed to encode citations: %w", err)
		}
		citationsJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, message_type, content, citations, incomplete)
		 VALUES (?, ?, ?, ?, ?)`,
		conversationID, string(messageType), content, citationsJSON, boolToInt(incomplete),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to insert turn: conversation=%s: %v", conversationID, err)
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	return nil
}

// GetSessionHistory retrieves the full ordered history for a conversation.
// Order is insertion order; no pagination.
func (s *HistoryStore) GetSessionHistory(ctx context.Context, userID, conversationID string) ([]types.ConversationTurn, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetSessionHistory")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT m.message_type, m.content, m.citations, m.created_at
		 FROM messages m
		 JOIN conversations c ON c.id = m.conversation_id
		 WHERE m.conversation_id = ? AND c.user_id = ?
		 ORDER BY m.id ASC`,
		conversationID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var turns []types.ConversationTurn
	for rows.Next() {
		var messageType, content, citationsJSON string
		var createdAt time.Time
		if err := rows.Scan(&messageType, &content, &citationsJSON, &createdAt); err != nil {
			continue
		}

		var citations []string
		if citationsJSON != "" {
			_ = json.Unmarshal([]byte(citationsJSON), &citations)
		}
		turns = append(turns, types.ConversationTurn{
			Role:      types.MessageType(messageType),
			Content:   content,
			Citations: citations,
			Timestamp: createdAt,
		})
	}

	logging.StoreDebug("Retrieved %d turns for conversation=%s", len(turns), conversationID)
	return turns, rows.Err()
}

// PendingChunks reports how many chunks are buffered for a conversation.
func (s *HistoryStore) PendingChunks(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers[conversationID])
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
