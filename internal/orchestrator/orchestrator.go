// Package orchestrator coordinates one conversational request end to end:
// history load, classification, the optional tool-agent run, the direct
// streaming chain, and history persistence. The caller consumes a channel of
// chunks; every request terminates with a well-formed channel close, never a
// transport-level failure.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"graphchat/internal/agent"
	"graphchat/internal/config"
	"graphchat/internal/logging"
	"graphchat/internal/prompt"
	"graphchat/internal/types"
)

// chainHistoryWindow is the number of trailing turns included in the direct
// chain prompt.
const chainHistoryWindow = 10

// StreamingFailure wraps an error raised while the direct chain was already
// streaming. It is recovered: the caller sees a single inline error chunk.
type StreamingFailure struct {
	Err error
}

func (e *StreamingFailure) Error() string {
	return fmt.Sprintf("streaming failed: %v", e.Err)
}

func (e *StreamingFailure) Unwrap() error {
	return e.Err
}

// Classifier routes a query to the agent or direct branch.
type Classifier interface {
	Classify(ctx context.Context, query string, history []types.ConversationTurn, userID string) (types.ClassificationResult, error)
}

// AgentRunner launches tool-agent runs.
type AgentRunner interface {
	Start(ctx context.Context, req agent.Request) *agent.Execution
}

// Request is one conversational query.
type Request struct {
	Query          string
	ProjectID      string
	UserID         string
	ConversationID string
	NodeIDs        []string
	Logs           string
	Stacktrace     string
}

// Orchestrator drives requests for one agent kind.
type Orchestrator struct {
	kind       types.AgentKind
	store      types.HistoryStore
	provider   types.LLMProvider
	resolver   types.PromptResolver
	classifier Classifier
	runner     AgentRunner
	cache      *prompt.UserCache

	projectPath  string
	partialFlush config.PartialFlushPolicy
	buffer       int
}

// Options tunes orchestrator behavior beyond its collaborators.
type Options struct {
	ProjectPath   string
	PartialFlush  config.PartialFlushPolicy
	ChannelBuffer int
	CacheCapacity int
}

// New creates an orchestrator for one agent kind.
func New(kind types.AgentKind, store types.HistoryStore, provider types.LLMProvider, resolver types.PromptResolver, classifier Classifier, runner AgentRunner, opts Options) *Orchestrator {
	if opts.ChannelBuffer <= 0 {
		opts.ChannelBuffer = 100
	}
	if opts.PartialFlush == "" {
		opts.PartialFlush = config.PartialFlushDiscard
	}
	if opts.CacheCapacity <= 0 {
		opts.CacheCapacity = 2
	}
	return &Orchestrator{
		kind:         kind,
		store:        store,
		provider:     provider,
		resolver:     resolver,
		classifier:   classifier,
		runner:       runner,
		cache:        prompt.NewUserCache(opts.CacheCapacity),
		projectPath:  opts.ProjectPath,
		partialFlush: opts.PartialFlush,
		buffer:       opts.ChannelBuffer,
	}
}

// InvalidatePromptCache drops all cached prompt bundles. Wired to the prompt
// pack watcher.
func (o *Orchestrator) InvalidatePromptCache() {
	o.cache.InvalidateAll()
}

// Run executes one request. The returned channel yields answer chunks in
// production order and is closed when the request ends. All errors are
// contained: the last chunk before an abnormal close carries an inline error
// message.
func (o *Orchestrator) Run(ctx context.Context, req Request) <-chan types.StreamChunk {
	out := make(chan types.StreamChunk, o.buffer)

	go func() {
		defer close(out)
		o.run(ctx, req, out)
	}()

	return out
}

func (o *Orchestrator) run(ctx context.Context, req Request, out chan<- types.StreamChunk) {
	st := stateInit
	timer := logging.StartTimer(logging.CategoryOrchestrator, "request")
	defer timer.Stop()

	fail := func(err error) {
		logging.Get(logging.CategoryOrchestrator).Error("Request failed: state=%s kind=%s conversation=%s: %v", st, o.kind, req.ConversationID, err)
		st = stateFailed
		o.yield(ctx, out, types.StreamChunk{
			Citations: []string{},
			Message:   "An error occurred: " + err.Error(),
		})
	}

	history, err := o.store.GetSessionHistory(ctx, req.UserID, req.ConversationID)
	if err != nil {
		fail(fmt.Errorf("failed to load history: %w", err))
		return
	}
	st = stateHistoryLoaded
	logging.OrchestratorDebug("State %s: kind=%s turns=%d", st, o.kind, len(history))

	result, err := o.classifier.Classify(ctx, req.Query, history, req.UserID)
	if err != nil {
		fail(err)
		return
	}
	st = stateClassified
	logging.Orchestrator("State %s: kind=%s result=%s", st, o.kind, result)

	switch result {
	case types.ClassificationAgentRequired:
		st = stateAgentBranch
		o.runAgentBranch(ctx, req, history, out, &st, fail)
	default:
		st = stateDirectBranch
		o.runDirectBranch(ctx, req, history, out, &st, fail)
	}

	if st != stateFailed {
		st = stateDone
		logging.OrchestratorDebug("State %s: kind=%s conversation=%s", st, o.kind, req.ConversationID)
	}
}

// runAgentBranch executes the tool-agent and yields its consolidated result
// as a single chunk. Runner failure degrades to an inline error chunk.
func (o *Orchestrator) runAgentBranch(ctx context.Context, req Request, history []types.ConversationTurn, out chan<- types.StreamChunk, st *state, fail func(error)) {
	timer := logging.StartTimer(logging.CategoryOrchestrator, "agent branch")
	defer timer.Stop()

	nodes := make([]types.NodeContext, len(req.NodeIDs))
	for i, id := range req.NodeIDs {
		nodes[i] = types.NodeContext{NodeID: id}
	}

	exec := o.runner.Start(ctx, agent.Request{
		Query:   req.Query,
		UserID:  req.UserID,
		Project: req.ProjectID,
		Nodes:   nodes,
		History: history,
		Kind:    o.kind,
	})

	// Drain the extracted answer so the producer never blocks; the
	// consolidated result below is authoritative.
	for fragment := range agent.ExtractFinalAnswer(ctx, exec.Transcript) {
		logging.Get(logging.CategoryStream).Debug("Answer fragment: len=%d", len(fragment))
	}

	result, err := exec.Wait()
	if err != nil {
		fail(err)
		return
	}
	*st = stateStreaming

	message := consolidateResult(result)
	citations := FormatCitations(result.Citations, o.projectPath)

	if err := o.store.AddMessageChunk(req.ConversationID, message, types.MessageTypeAIGenerated, citations); err != nil {
		fail(fmt.Errorf("failed to buffer agent answer: %w", err))
		return
	}
	if err := o.store.FlushMessageBuffer(ctx, req.ConversationID, types.MessageTypeAIGenerated); err != nil {
		fail(fmt.Errorf("failed to persist agent answer: %w", err))
		return
	}
	*st = stateFlushed

	o.yield(ctx, out, types.StreamChunk{Citations: citations, Message: message})
}

// runDirectBranch streams tokens from the direct chain, buffering each chunk
// in the store before yielding it.
func (o *Orchestrator) runDirectBranch(ctx context.Context, req Request, history []types.ConversationTurn, out chan<- types.StreamChunk, st *state, fail func(error)) {
	timer := logging.StartTimer(logging.CategoryOrchestrator, "direct branch")
	defer timer.Stop()

	family, err := o.provider.GetPreferredLLM(ctx, req.UserID)
	if err != nil {
		fail(err)
		return
	}

	bundle, err := o.promptBundle(req.UserID, family)
	if err != nil {
		fail(err)
		return
	}

	vars := map[string]string{
		"query":        o.composeQuery(req),
		"history":      renderChainHistory(history),
		"tool_results": "",
	}
	system := prompt.Render(bundle[types.PromptRoleSystem], vars)
	human := prompt.Render(bundle[types.PromptRoleHuman], vars)

	client, err := o.provider.SmallClient(ctx, req.UserID)
	if err != nil {
		fail(err)
		return
	}

	*st = stateStreaming
	contentChan, errorChan := client.CompleteWithStreaming(ctx, system, human)

	streamed := 0
	for delta := range contentChan {
		// Write precedes yield: no chunk reaches the caller without a
		// corresponding buffered history write.
		if err := o.store.AddMessageChunk(req.ConversationID, delta, types.MessageTypeAIGenerated, nil); err != nil {
			o.handlePartial(ctx, req, fail, &StreamingFailure{Err: err})
			return
		}
		if !o.yield(ctx, out, types.StreamChunk{Citations: []string{}, Message: delta}) {
			o.handlePartial(ctx, req, fail, &StreamingFailure{Err: ctx.Err()})
			return
		}
		streamed++
	}

	if err := <-errorChan; err != nil {
		o.handlePartial(ctx, req, fail, &StreamingFailure{Err: err})
		return
	}

	if err := o.store.FlushMessageBuffer(ctx, req.ConversationID, types.MessageTypeAIGenerated); err != nil {
		fail(fmt.Errorf("failed to flush streamed answer: %w", err))
		return
	}
	*st = stateFlushed
	logging.Orchestrator("Direct chain flushed: conversation=%s chunks=%d", req.ConversationID, streamed)
}

// handlePartial applies the configured partial-flush policy after a
// mid-stream failure, then emits the inline error chunk.
func (o *Orchestrator) handlePartial(ctx context.Context, req Request, fail func(error), cause error) {
	switch o.partialFlush {
	case config.PartialFlushCommit:
		if err := o.store.FlushMessageBuffer(ctx, req.ConversationID, types.MessageTypeAIGenerated); err != nil {
			logging.Get(logging.CategoryOrchestrator).Error("Partial flush failed: conversation=%s: %v", req.ConversationID, err)
		}
	case config.PartialFlushMarkIncomplete:
		if err := o.store.FlushMessageBufferIncomplete(ctx, req.ConversationID, types.MessageTypeAIGenerated); err != nil {
			logging.Get(logging.CategoryOrchestrator).Error("Partial flush failed: conversation=%s: %v", req.ConversationID, err)
		}
	default:
		o.store.DiscardMessageBuffer(req.ConversationID)
	}
	fail(cause)
}

// promptBundle returns the unrendered chain templates for a user, consulting
// the per-user cache first.
func (o *Orchestrator) promptBundle(userID string, family types.ModelFamily) (prompt.Bundle, error) {
	if bundle, ok := o.cache.Get(userID); ok {
		return bundle, nil
	}

	prompts, err := o.resolver.GetPrompts(prompt.ChainKey(o.kind),
		[]types.PromptRole{types.PromptRoleSystem, types.PromptRoleHuman}, family, nil)
	if err != nil {
		return nil, err
	}

	bundle := prompt.Bundle(prompts)
	o.cache.Put(userID, bundle)
	return bundle, nil
}

// composeQuery augments the query with debugging context when present.
func (o *Orchestrator) composeQuery(req Request) string {
	var b strings.Builder
	b.WriteString(req.Query)
	if req.Logs != "" {
		b.WriteString("\n\nLogs:\n")
		b.WriteString(req.Logs)
	}
	if req.Stacktrace != "" {
		b.WriteString("\n\nStacktrace:\n")
		b.WriteString(req.Stacktrace)
	}
	return b.String()
}

// yield sends a chunk unless the context is cancelled. Returns false when
// the caller has gone away.
func (o *Orchestrator) yield(ctx context.Context, out chan<- types.StreamChunk, chunk types.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// consolidateResult renders an AgentResult as one answer message. Structured
// answers become sectioned markdown; raw answers pass through.
func consolidateResult(result types.AgentResult) string {
	if !result.IsStructured() {
		return result.RawTranscript
	}

	var b strings.Builder
	for i, answer := range result.Structured {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### %s\n", answer.NodeName)
		if answer.Docstring != "" {
			b.WriteString(answer.Docstring)
			b.WriteString("\n")
		}
		if answer.Code != "" {
			fmt.Fprintf(&b, "```\n%s\n```", answer.Code)
		}
	}
	return b.String()
}

// renderChainHistory flattens the trailing turns for the chain prompt.
func renderChainHistory(history []types.ConversationTurn) string {
	if len(history) > chainHistoryWindow {
		history = history[len(history)-chainHistoryWindow:]
	}
	var b strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	return b.String()
}
