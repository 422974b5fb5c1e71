package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphchat/internal/types"
)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHistoryStore_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.EnsureConversation(ctx, "conv-1", "user-1"))
	require.NoError(t, s.AddMessage(ctx, "conv-1", "how does auth work?", types.MessageTypeHuman, nil))
	require.NoError(t, s.AddMessage(ctx, "conv-1", "Auth lives in auth_service.", types.MessageTypeAIGenerated, []string{"auth_service.go"}))

	turns, err := s.GetSessionHistory(ctx, "user-1", "conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)

	assert.Equal(t, types.MessageTypeHuman, turns[0].Role)
	assert.Equal(t, "how does auth work?", turns[0].Content)
	assert.Equal(t, types.MessageTypeAIGenerated, turns[1].Role)
	assert.Equal(t, []string{"auth_service.go"}, turns[1].Citations)
}

func TestHistoryStore_HistoryIsScopedToUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.EnsureConversation(ctx, "conv-1", "user-1"))
	require.NoError(t, s.AddMessage(ctx, "conv-1", "hello", types.MessageTypeHuman, nil))

	turns, err := s.GetSessionHistory(ctx, "someone-else", "conv-1")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestHistoryStore_BufferedChunksFlushAsOneTurn(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureConversation(ctx, "conv-1", "user-1"))

	chunks := []string{"The ", "answer ", "is ", "42."}
	for _, c := range chunks {
		require.NoError(t, s.AddMessageChunk("conv-1", c, types.MessageTypeAIGenerated, []string{"deep_thought.go"}))
	}
	assert.Equal(t, len(chunks), s.PendingChunks("conv-1"))

	// Nothing durable before flush.
	turns, err := s.GetSessionHistory(ctx, "user-1", "conv-1")
	require.NoError(t, err)
	assert.Empty(t, turns)

	require.NoError(t, s.FlushMessageBuffer(ctx, "conv-1", types.MessageTypeAIGenerated))
	assert.Zero(t, s.PendingChunks("conv-1"))

	turns, err = s.GetSessionHistory(ctx, "user-1", "conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "The answer is 42.", turns[0].Content)
	assert.Equal(t, []string{"deep_thought.go"}, turns[0].Citations)
}

func TestHistoryStore_FlushEmptyBufferIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureConversation(ctx, "conv-1", "user-1"))

	require.NoError(t, s.FlushMessageBuffer(ctx, "conv-1", types.MessageTypeAIGenerated))

	turns, err := s.GetSessionHistory(ctx, "user-1", "conv-1")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestHistoryStore_DiscardDropsBuffer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureConversation(ctx, "conv-1", "user-1"))

	require.NoError(t, s.AddMessageChunk("conv-1", "partial", types.MessageTypeAIGenerated, nil))
	s.DiscardMessageBuffer("conv-1")

	require.NoError(t, s.FlushMessageBuffer(ctx, "conv-1", types.MessageTypeAIGenerated))
	turns, err := s.GetSessionHistory(ctx, "user-1", "conv-1")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestHistoryStore_IncompleteFlush(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureConversation(ctx, "conv-1", "user-1"))

	require.NoError(t, s.AddMessageChunk("conv-1", "half an ans", types.MessageTypeAIGenerated, nil))
	require.NoError(t, s.FlushMessageBufferIncomplete(ctx, "conv-1", types.MessageTypeAIGenerated))

	var incomplete int
	err := s.db.QueryRow(`SELECT incomplete FROM messages WHERE conversation_id = ?`, "conv-1").Scan(&incomplete)
	require.NoError(t, err)
	assert.Equal(t, 1, incomplete)
}
