package types

import (
	"context"
)

// HistoryStore persists ordered conversation turns and supports buffered
// incremental writes. Chunks appended via AddMessageChunk are not durable
// until FlushMessageBuffer commits them as one assembled turn.
type HistoryStore interface {
	GetSessionHistory(ctx context.Context, userID, conversationID string) ([]ConversationTurn, error)
	AddMessageChunk(conversationID, content string, messageType MessageType, citations []string) error
	FlushMessageBuffer(ctx context.Context, conversationID string, messageType MessageType) error
	// FlushMessageBufferIncomplete commits buffered chunks but marks the
	// resulting turn as incomplete (mid-stream failure policy).
	FlushMessageBufferIncomplete(ctx context.Context, conversationID string, messageType MessageType) error
	// DiscardMessageBuffer drops any buffered chunks without persisting them.
	DiscardMessageBuffer(conversationID string)
}

// PromptResolver renders prompt templates for an agent key and model family.
// Missing required roles are an error; the orchestrator treats that as fatal
// before any streaming starts.
type PromptResolver interface {
	GetPrompts(agentKey string, roles []PromptRole, family ModelFamily, vars map[string]string) (map[PromptRole]string, error)
}

// ModelFamily names a provider-level family of models (e.g. "openai",
// "gemini"). Classification and chain model choice are user-scoped, so the
// family is re-resolved per call rather than cached across users.
type ModelFamily string

const (
	ModelFamilyOpenAI ModelFamily = "openai"
	ModelFamilyGemini ModelFamily = "gemini"
)

// LLMClient defines the interface for LLM interactions.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// CompleteWithStreaming returns channels of incremental content deltas.
	// Both channels are closed when the stream ends; at most one error is sent.
	CompleteWithStreaming(ctx context.Context, systemPrompt, userPrompt string) (<-chan string, <-chan error)
}

// LLMProvider resolves the user's preferred model family and constructs
// clients for it. The small client backs the direct streaming chain, the
// large client backs classification and the tool-agent.
type LLMProvider interface {
	GetPreferredLLM(ctx context.Context, userID string) (ModelFamily, error)
	SmallClient(ctx context.Context, userID string) (LLMClient, error)
	LargeClient(ctx context.Context, userID string) (LLMClient, error)
}

// NodeLookup resolves code bodies for graph nodes. Implementations must
// answer a multi-node request with a single batched query, not N lookups.
type NodeLookup interface {
	GetCodeFromNodeIDs(ctx context.Context, projectID string, nodeIDs []string) ([]NodeCode, error)
}

// Tool is a knowledge-graph query tool invocable by the tool-agent.
type Tool interface {
	Name() string
	Description() string
	Run(ctx context.Context, args map[string]interface{}) (string, error)
}
