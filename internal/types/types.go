// Package types provides shared type definitions used across graphchat packages.
// This package exists to break import cycles between the orchestrator, agent,
// and perception layers. Types in this package should be foundational data
// structures with no complex dependencies.
package types

import (
	"time"
)

// =============================================================================
// CONVERSATION MODEL
// =============================================================================

// MessageType identifies who authored a conversation turn.
type MessageType string

const (
	MessageTypeHuman           MessageType = "human"
	MessageTypeAIGenerated     MessageType = "ai_generated"
	MessageTypeSystemGenerated MessageType = "system_generated"
)

// ConversationTurn is one persisted message in a conversation.
// Turns are append-only; the core never mutates or deletes existing turns.
type ConversationTurn struct {
	Role      MessageType `json:"role"`
	Content   string      `json:"content"`
	Citations []string    `json:"citations,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// IsHuman reports whether the turn was authored by the user.
func (t ConversationTurn) IsHuman() bool {
	return t.Role == MessageTypeHuman
}

// NormalizeHistory coerces bare scalar history entries into human turns.
// Store backends may hand back raw strings for legacy rows; downstream code
// always works with ConversationTurn values.
func NormalizeHistory(entries []interface{}) []ConversationTurn {
	turns := make([]ConversationTurn, 0, len(entries))
	for _, e := range entries {
		switch v := e.(type) {
		case ConversationTurn:
			turns = append(turns, v)
		case *ConversationTurn:
			if v != nil {
				turns = append(turns, *v)
			}
		case string:
			turns = append(turns, ConversationTurn{Role: MessageTypeHuman, Content: v})
		default:
			continue
		}
	}
	return turns
}

// =============================================================================
// CODE GRAPH REFERENCES
// =============================================================================

// NodeContext references a code-graph node supplied by the caller.
type NodeContext struct {
	NodeID string `json:"node_id"`
}

// NodeCode is the resolved code body for a graph node.
type NodeCode struct {
	NodeID    string `json:"node_id"`
	Name      string `json:"name"`
	FilePath  string `json:"file_path"`
	Docstring string `json:"docstring"`
	Code      string `json:"code"`
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// ClassificationResult is the binary routing decision for a query.
type ClassificationResult int

const (
	// ClassificationUnknown is the zero value; it is never a valid outcome.
	ClassificationUnknown ClassificationResult = iota

	// ClassificationAgentRequired routes the query through the tool-agent.
	ClassificationAgentRequired

	// ClassificationNoAgent answers directly from history and the query.
	ClassificationNoAgent
)

func (c ClassificationResult) String() string {
	switch c {
	case ClassificationAgentRequired:
		return "AGENT_REQUIRED"
	case ClassificationNoAgent:
		return "NO_AGENT"
	default:
		return "UNKNOWN"
	}
}

// =============================================================================
// AGENT RESULTS
// =============================================================================

// NodeAnswer is one structured answer element produced by the tool-agent.
type NodeAnswer struct {
	NodeName  string `json:"node_name"`
	Docstring string `json:"docstring"`
	Code      string `json:"code"`
}

// AgentResult is the outcome of a tool-agent run. Exactly one of Structured
// or RawTranscript is authoritative: when the structured parse of the final
// answer succeeds Structured is set, otherwise RawTranscript carries the
// degraded-mode text. Citations is always non-nil, possibly empty.
type AgentResult struct {
	Structured    []NodeAnswer `json:"structured,omitempty"`
	Citations     []string     `json:"citations"`
	RawTranscript string       `json:"raw_transcript,omitempty"`
}

// IsStructured reports whether the structured parse succeeded.
func (r AgentResult) IsStructured() bool {
	return len(r.Structured) > 0
}

// =============================================================================
// STREAM OUTPUT
// =============================================================================

// StreamChunk is the wire unit yielded to the caller, encoded as one JSON
// object per emitted item.
type StreamChunk struct {
	Citations []string `json:"citations"`
	Message   string   `json:"message"`
}

// =============================================================================
// AGENT KINDS
// =============================================================================

// AgentKind selects the prompt pack and classifier behavior for a request.
type AgentKind string

const (
	AgentKindQNA         AgentKind = "qna"
	AgentKindDebugging   AgentKind = "debugging"
	AgentKindCodeChanges AgentKind = "code_changes"
)

// Valid reports whether the kind names a known chat agent.
func (k AgentKind) Valid() bool {
	switch k {
	case AgentKindQNA, AgentKindDebugging, AgentKindCodeChanges:
		return true
	}
	return false
}

// PromptRole identifies a rendered template slot within a prompt bundle.
type PromptRole string

const (
	PromptRoleSystem PromptRole = "system"
	PromptRoleHuman  PromptRole = "human"
)
