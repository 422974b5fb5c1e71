// Package agent runs the tool-augmented reasoning agent. A run is a single
// sequential task: the model is called in a loop, each tool request is
// executed, and the loop ends when the model produces its final answer. The
// raw execution trace is published line by line on a transcript channel so a
// consumer can stream the answer while the run is still in flight.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"graphchat/internal/logging"
	"graphchat/internal/prompt"
	"graphchat/internal/types"
)

// ToolAgentFailure wraps an agent execution error. The orchestrator recovers
// from it by yielding an inline error chunk instead of aborting the request.
type ToolAgentFailure struct {
	Err error
}

func (e *ToolAgentFailure) Error() string {
	return fmt.Sprintf("tool agent failed: %v", e.Err)
}

func (e *ToolAgentFailure) Unwrap() error {
	return e.Err
}

// StructureSource supplies the project file listing included in the agent's
// seed prompt. *graph.Store satisfies it.
type StructureSource interface {
	FileStructure(ctx context.Context, projectID string) (string, error)
}

// Request describes one agent run.
type Request struct {
	Query   string
	UserID  string
	Project string
	Nodes   []types.NodeContext
	History []types.ConversationTurn
	Kind    types.AgentKind
}

// Runner executes tool-agent runs. Safe for concurrent use; each Start call
// is an independent run.
type Runner struct {
	provider  types.LLMProvider
	resolver  types.PromptResolver
	lookup    types.NodeLookup
	structure StructureSource
	tools     []types.Tool
	maxIter   int
	buffer    int
}

// NewRunner creates a runner. structure may be nil; lookup may be nil when
// callers never pass node ids.
func NewRunner(provider types.LLMProvider, resolver types.PromptResolver, lookup types.NodeLookup, structure StructureSource, tools []types.Tool, maxIter, channelBuffer int) *Runner {
	if maxIter <= 0 {
		maxIter = 5
	}
	if channelBuffer <= 0 {
		channelBuffer = 100
	}
	return &Runner{
		provider:  provider,
		resolver:  resolver,
		lookup:    lookup,
		structure: structure,
		tools:     tools,
		maxIter:   maxIter,
		buffer:    channelBuffer,
	}
}

// Execution is a live agent run. Transcript carries the raw execution trace
// and is closed when the run ends, success or failure. Wait blocks until the
// run ends and returns its result.
type Execution struct {
	Transcript <-chan string

	group  *errgroup.Group
	result *types.AgentResult
}

// Wait blocks until the run completes. The returned AgentResult always has
// non-nil Citations; on error it is zero-valued apart from that.
func (e *Execution) Wait() (types.AgentResult, error) {
	err := e.group.Wait()
	result := *e.result
	if result.Citations == nil {
		result.Citations = []string{}
	}
	return result, err
}

// Start launches a run. The transcript channel is buffered so the run is not
// blocked by a slow consumer, and it is always closed when the run ends.
func (r *Runner) Start(ctx context.Context, req Request) *Execution {
	transcript := make(chan string, r.buffer)
	result := &types.AgentResult{Citations: []string{}}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(transcript)

		timer := logging.StartTimer(logging.CategoryAgent, "agent run")
		defer timer.Stop()

		res, err := r.run(ctx, req, transcript)
		if err != nil {
			logging.Get(logging.CategoryAgent).Error("Agent run failed: kind=%s project=%s: %v", req.Kind, req.Project, err)
			return &ToolAgentFailure{Err: err}
		}
		*result = res
		return nil
	})

	return &Execution{Transcript: transcript, group: group, result: result}
}

func (r *Runner) run(ctx context.Context, req Request, transcript chan<- string) (types.AgentResult, error) {
	family, err := r.provider.GetPreferredLLM(ctx, req.UserID)
	if err != nil {
		return types.AgentResult{}, err
	}

	seedContext, err := r.seedContext(ctx, req)
	if err != nil {
		return types.AgentResult{}, err
	}

	fileStructure := ""
	if r.structure != nil {
		fileStructure, err = r.structure.FileStructure(ctx, req.Project)
		if err != nil {
			return types.AgentResult{}, fmt.Errorf("failed to load file structure: %w", err)
		}
	}

	prompts, err := r.resolver.GetPrompts(prompt.RunnerKey(req.Kind),
		[]types.PromptRole{types.PromptRoleSystem, types.PromptRoleHuman}, family,
		map[string]string{
			"query":          req.Query,
			"history":        renderHistory(req.History),
			"file_structure": fileStructure,
			"code_context":   seedContext,
			"max_iter":       fmt.Sprintf("%d", r.maxIter),
		})
	if err != nil {
		return types.AgentResult{}, err
	}

	client, err := r.provider.LargeClient(ctx, req.UserID)
	if err != nil {
		return types.AgentResult{}, err
	}

	logging.Agent("Starting run: kind=%s project=%s nodes=%d tools=%d", req.Kind, req.Project, len(req.Nodes), len(r.tools))

	userPrompt := prompts[types.PromptRoleHuman]
	var toolResults strings.Builder

	for iter := 0; iter < r.maxIter; iter++ {
		request := userPrompt
		if toolResults.Len() > 0 {
			request += "\n\nTool results so far:\n" + toolResults.String()
		}

		response, err := client.CompleteWithSystem(ctx, prompts[types.PromptRoleSystem], request)
		if err != nil {
			return types.AgentResult{}, err
		}

		toolName, toolArgs, found := parseToolCall(response)
		r.emitLines(ctx, transcript, response)

		if !found {
			return finalizeResult(response), nil
		}

		output, err := r.runTool(ctx, toolName, toolArgs)
		if err != nil {
			// The model sees the failure and can recover or answer without it.
			output = fmt.Sprintf("tool error: %v", err)
		}
		r.emit(ctx, transcript, fmt.Sprintf("[tool %s] %s", toolName, output))
		fmt.Fprintf(&toolResults, "%s -> %s\n", toolName, output)
		logging.AgentDebug("Tool call: iter=%d tool=%s output_len=%d", iter, toolName, len(output))
	}

	return types.AgentResult{}, fmt.Errorf("no final answer after %d iterations", r.maxIter)
}

// seedContext resolves the requested node bodies with a single batched
// lookup.
func (r *Runner) seedContext(ctx context.Context, req Request) (string, error) {
	if len(req.Nodes) == 0 || r.lookup == nil {
		return "", nil
	}

	ids := make([]string, len(req.Nodes))
	for i, node := range req.Nodes {
		ids[i] = node.NodeID
	}

	nodes, err := r.lookup.GetCodeFromNodeIDs(ctx, req.Project, ids)
	if err != nil {
		return "", fmt.Errorf("failed to resolve node context: %w", err)
	}

	var b strings.Builder
	for _, node := range nodes {
		fmt.Fprintf(&b, "// %s (%s)\n%s\n\n", node.Name, node.FilePath, node.Code)
	}
	return b.String(), nil
}

func (r *Runner) runTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	for _, tool := range r.tools {
		if tool.Name() == name {
			return tool.Run(ctx, args)
		}
	}
	return "", fmt.Errorf("unknown tool %q", name)
}

func (r *Runner) emitLines(ctx context.Context, transcript chan<- string, text string) {
	for _, line := range strings.Split(text, "\n") {
		r.emit(ctx, transcript, line)
	}
}

func (r *Runner) emit(ctx context.Context, transcript chan<- string, line string) {
	select {
	case transcript <- line:
	case <-ctx.Done():
	}
}

// parseToolCall finds the first "TOOL <name> <json-args>" line in a model
// response.
func parseToolCall(response string) (string, map[string]interface{}, bool) {
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "TOOL ") {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, "TOOL "))
		name, rawArgs, _ := strings.Cut(rest, " ")

		args := map[string]interface{}{}
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				continue
			}
		}
		return name, args, true
	}
	return "", nil, false
}

// finalizeResult extracts the answer after the final-answer marker and
// attempts the structured parse. Parse failure is not an error; the raw
// answer text carries the result instead.
func finalizeResult(response string) types.AgentResult {
	answer := response
	if idx := strings.Index(response, FinalAnswerMarker); idx >= 0 {
		answer = response[idx+len(FinalAnswerMarker):]
	}
	answer = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(answer), colorReset))

	result := types.AgentResult{Citations: []string{}}

	var structured struct {
		Citations []string           `json:"citations"`
		Response  []types.NodeAnswer `json:"response"`
	}
	if err := json.Unmarshal([]byte(stripFences(answer)), &structured); err == nil && len(structured.Response) > 0 {
		result.Structured = structured.Response
		if structured.Citations != nil {
			result.Citations = structured.Citations
		}
		logging.Agent("Run finished: structured answers=%d citations=%d", len(result.Structured), len(result.Citations))
		return result
	}

	result.RawTranscript = answer
	logging.Agent("Run finished: raw answer len=%d", len(answer))
	return result
}

// stripFences removes a surrounding markdown code fence, if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// renderHistory flattens conversation turns for the agent prompt.
func renderHistory(history []types.ConversationTurn) string {
	var b strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	return b.String()
}
