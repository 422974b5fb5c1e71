package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"graphchat/internal/agent"
	"graphchat/internal/config"
	"graphchat/internal/prompt"
	"graphchat/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// TEST DOUBLES
// =============================================================================

// memStore records every call so tests can assert ordering.
type memStore struct {
	mu      sync.Mutex
	history []types.ConversationTurn
	buffer  []string
	events  []string
	flushed []types.ConversationTurn
	failAdd error
}

func (s *memStore) GetSessionHistory(context.Context, string, string) ([]types.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history, nil
}

func (s *memStore) AddMessageChunk(_, content string, _ types.MessageType, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAdd != nil {
		return s.failAdd
	}
	s.buffer = append(s.buffer, content)
	s.events = append(s.events, "append:"+content)
	return nil
}

func (s *memStore) FlushMessageBuffer(_ context.Context, _ string, mt types.MessageType) error {
	return s.flush(mt, "flush")
}

func (s *memStore) FlushMessageBufferIncomplete(_ context.Context, _ string, mt types.MessageType) error {
	return s.flush(mt, "flush-incomplete")
}

func (s *memStore) flush(mt types.MessageType, event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed = append(s.flushed, types.ConversationTurn{Role: mt, Content: strings.Join(s.buffer, "")})
	s.buffer = nil
	s.events = append(s.events, event)
	return nil
}

func (s *memStore) DiscardMessageBuffer(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = nil
	s.events = append(s.events, "discard")
}

func (s *memStore) appended() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if strings.HasPrefix(e, "append:") {
			n++
		}
	}
	return n
}

func (s *memStore) eventLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// streamLLM streams scripted deltas, then an optional error.
type streamLLM struct {
	deltas    []string
	streamErr error
	response  string
}

func (l *streamLLM) Complete(ctx context.Context, p string) (string, error) {
	return l.CompleteWithSystem(ctx, "", p)
}

func (l *streamLLM) CompleteWithSystem(context.Context, string, string) (string, error) {
	return l.response, nil
}

func (l *streamLLM) CompleteWithStreaming(context.Context, string, string) (<-chan string, <-chan error) {
	content := make(chan string, len(l.deltas))
	errs := make(chan error, 1)
	for _, d := range l.deltas {
		content <- d
	}
	if l.streamErr != nil {
		errs <- l.streamErr
	}
	close(content)
	close(errs)
	return content, errs
}

type fixedProvider struct {
	llm types.LLMClient
}

func (p *fixedProvider) GetPreferredLLM(context.Context, string) (types.ModelFamily, error) {
	return types.ModelFamilyOpenAI, nil
}

func (p *fixedProvider) SmallClient(context.Context, string) (types.LLMClient, error) {
	return p.llm, nil
}

func (p *fixedProvider) LargeClient(context.Context, string) (types.LLMClient, error) {
	return p.llm, nil
}

type fixedClassifier struct {
	result types.ClassificationResult
	err    error
}

func (c *fixedClassifier) Classify(context.Context, string, []types.ConversationTurn, string) (types.ClassificationResult, error) {
	return c.result, c.err
}

// =============================================================================
// HARNESS
// =============================================================================

type fixture struct {
	store *memStore
	orch  *Orchestrator
}

func newFixture(t *testing.T, llm types.LLMClient, classification types.ClassificationResult, opts Options) *fixture {
	t.Helper()
	resolver, err := prompt.NewResolver("")
	require.NoError(t, err)

	provider := &fixedProvider{llm: llm}
	store := &memStore{}
	runner := agent.NewRunner(provider, resolver, nil, nil, nil, 5, 100)

	orch := New(types.AgentKindQNA, store, provider, resolver,
		&fixedClassifier{result: classification}, runner, opts)
	return &fixture{store: store, orch: orch}
}

func drain(ch <-chan types.StreamChunk) []types.StreamChunk {
	var chunks []types.StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	return chunks
}

// =============================================================================
// DIRECT BRANCH
// =============================================================================

func TestRun_DirectBranchStreamsAndFlushes(t *testing.T) {
	llm := &streamLLM{deltas: []string{"Hel", "lo", " world"}}
	f := newFixture(t, llm, types.ClassificationNoAgent, Options{})

	chunks := drain(f.orch.Run(context.Background(), Request{
		Query: "hi", UserID: "u1", ConversationID: "c1",
	}))

	var full strings.Builder
	for _, c := range chunks {
		full.WriteString(c.Message)
		assert.Equal(t, []string{}, c.Citations, "direct chunks carry empty citations")
	}
	assert.Equal(t, "Hello world", full.String())

	require.Len(t, f.store.flushed, 1)
	assert.Equal(t, "Hello world", f.store.flushed[0].Content)
	assert.Equal(t, types.MessageTypeAIGenerated, f.store.flushed[0].Role)

	want := []string{"append:Hel", "append:lo", "append: world", "flush"}
	if diff := cmp.Diff(want, f.store.eventLog()); diff != "" {
		t.Errorf("event log mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_WriteHappensBeforeYield(t *testing.T) {
	llm := &streamLLM{deltas: []string{"a", "b", "c"}}
	f := newFixture(t, llm, types.ClassificationNoAgent, Options{})

	received := 0
	for range f.orch.Run(context.Background(), Request{Query: "q", UserID: "u1", ConversationID: "c1"}) {
		received++
		assert.GreaterOrEqual(t, f.store.appended(), received,
			"every yielded chunk must already be buffered in the store")
	}
	assert.Equal(t, 3, received)
}

func TestRun_StreamingFailureContained(t *testing.T) {
	llm := &streamLLM{deltas: []string{"partial"}, streamErr: errors.New("connection reset")}
	f := newFixture(t, llm, types.ClassificationNoAgent, Options{})

	chunks := drain(f.orch.Run(context.Background(), Request{Query: "q", UserID: "u1", ConversationID: "c1"}))

	require.Len(t, chunks, 2)
	assert.Equal(t, "partial", chunks[0].Message)
	assert.Contains(t, chunks[1].Message, "An error occurred:")
	assert.Contains(t, chunks[1].Message, "connection reset")

	// Default policy discards the partial buffer.
	assert.Empty(t, f.store.flushed)
	assert.Contains(t, f.store.eventLog(), "discard")
}

func TestRun_PartialFlushMarkIncomplete(t *testing.T) {
	llm := &streamLLM{deltas: []string{"partial"}, streamErr: errors.New("boom")}
	f := newFixture(t, llm, types.ClassificationNoAgent, Options{
		PartialFlush: config.PartialFlushMarkIncomplete,
	})

	drain(f.orch.Run(context.Background(), Request{Query: "q", UserID: "u1", ConversationID: "c1"}))

	assert.Contains(t, f.store.eventLog(), "flush-incomplete")
	require.Len(t, f.store.flushed, 1)
	assert.Equal(t, "partial", f.store.flushed[0].Content)
}

func TestRun_PartialFlushCommit(t *testing.T) {
	llm := &streamLLM{deltas: []string{"partial"}, streamErr: errors.New("boom")}
	f := newFixture(t, llm, types.ClassificationNoAgent, Options{
		PartialFlush: config.PartialFlushCommit,
	})

	drain(f.orch.Run(context.Background(), Request{Query: "q", UserID: "u1", ConversationID: "c1"}))

	assert.Contains(t, f.store.eventLog(), "flush")
	require.Len(t, f.store.flushed, 1)
	assert.Equal(t, "partial", f.store.flushed[0].Content)
}

func TestRun_DebuggingContextAppendedToQuery(t *testing.T) {
	o := &Orchestrator{kind: types.AgentKindDebugging}
	q := o.composeQuery(Request{
		Query:      "why does it crash?",
		Logs:       "ERROR nil pointer",
		Stacktrace: "main.go:42",
	})
	assert.Contains(t, q, "why does it crash?")
	assert.Contains(t, q, "Logs:\nERROR nil pointer")
	assert.Contains(t, q, "Stacktrace:\nmain.go:42")
}

// =============================================================================
// AGENT BRANCH
// =============================================================================

func TestRun_AgentBranchYieldsOneConsolidatedChunk(t *testing.T) {
	llm := &streamLLM{
		response: "## Final Answer:\n" +
			`{"citations": ["projects/owner/repo/auth/login.go"], "response": [{"node_name": "Login", "docstring": "handles login", "code": "func Login() {}"}]}`,
	}
	f := newFixture(t, llm, types.ClassificationAgentRequired, Options{ProjectPath: "projects/"})

	chunks := drain(f.orch.Run(context.Background(), Request{
		Query: "how does login work?", UserID: "u1", ConversationID: "c1", ProjectID: "p1",
	}))

	require.Len(t, chunks, 1, "agent branch yields exactly one chunk")
	chunk := chunks[0]
	assert.Equal(t, []string{"auth/login.go"}, chunk.Citations)
	assert.Contains(t, chunk.Message, "### Login")
	assert.Contains(t, chunk.Message, "handles login")
	assert.Contains(t, chunk.Message, "func Login() {}")

	// Persisted before yielded, as one turn.
	require.Len(t, f.store.flushed, 1)
	assert.Equal(t, chunk.Message, f.store.flushed[0].Content)
}

func TestRun_AgentFailureContained(t *testing.T) {
	// Empty response script: the runner's LLM call returns an error.
	llm := &failingLLM{}
	f := newFixture(t, llm, types.ClassificationAgentRequired, Options{})

	chunks := drain(f.orch.Run(context.Background(), Request{Query: "q", UserID: "u1", ConversationID: "c1"}))

	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Message, "An error occurred:")
	assert.Equal(t, []string{}, chunks[0].Citations)
	assert.Empty(t, f.store.flushed)
}

type failingLLM struct{}

func (l *failingLLM) Complete(context.Context, string) (string, error) {
	return "", errors.New("model unavailable")
}

func (l *failingLLM) CompleteWithSystem(context.Context, string, string) (string, error) {
	return "", errors.New("model unavailable")
}

func (l *failingLLM) CompleteWithStreaming(context.Context, string, string) (<-chan string, <-chan error) {
	content := make(chan string)
	errs := make(chan error, 1)
	errs <- errors.New("model unavailable")
	close(content)
	close(errs)
	return content, errs
}

// =============================================================================
// CLASSIFICATION FAILURE
// =============================================================================

func TestRun_ClassificationErrorContained(t *testing.T) {
	resolver, err := prompt.NewResolver("")
	require.NoError(t, err)
	provider := &fixedProvider{llm: &streamLLM{}}
	store := &memStore{}
	runner := agent.NewRunner(provider, resolver, nil, nil, nil, 5, 100)

	orch := New(types.AgentKindQNA, store, provider, resolver,
		&fixedClassifier{err: errors.New("unrecognized classification")}, runner, Options{})

	chunks := drain(orch.Run(context.Background(), Request{Query: "q", UserID: "u1", ConversationID: "c1"}))

	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Message, "An error occurred:")
}

// =============================================================================
// PROMPT CACHE
// =============================================================================

func TestRun_PromptBundleCachedPerUser(t *testing.T) {
	llm := &streamLLM{deltas: []string{"x"}}
	f := newFixture(t, llm, types.ClassificationNoAgent, Options{CacheCapacity: 2})

	drain(f.orch.Run(context.Background(), Request{Query: "q", UserID: "u1", ConversationID: "c1"}))
	assert.Equal(t, 1, f.orch.cache.Len())

	drain(f.orch.Run(context.Background(), Request{Query: "q", UserID: "u2", ConversationID: "c2"}))
	assert.Equal(t, 2, f.orch.cache.Len())

	f.orch.InvalidatePromptCache()
	assert.Zero(t, f.orch.cache.Len())
}

// =============================================================================
// CITATIONS
// =============================================================================

func TestFormatCitations(t *testing.T) {
	tests := []struct {
		name        string
		citations   []string
		projectPath string
		want        []string
	}{
		{
			name:        "strips project path and container segments",
			citations:   []string{"/data/projects/owner/repo/pkg/auth/login.go"},
			projectPath: "projects/",
			want:        []string{"pkg/auth/login.go"},
		},
		{
			name:        "no project path match keeps trailing segments",
			citations:   []string{"a/b/c/d.go"},
			projectPath: "projects/",
			want:        []string{"c/d.go"},
		},
		{
			name:        "short path passes through",
			citations:   []string{"main.go"},
			projectPath: "projects/",
			want:        []string{"main.go"},
		},
		{
			name:      "empty input yields empty non-nil slice",
			citations: nil,
			want:      []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatCitations(tt.citations, tt.projectPath)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("FormatCitations mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "INIT", stateInit.String())
	assert.Equal(t, "AGENT_BRANCH", stateAgentBranch.String())
	assert.Equal(t, "FAILED", stateFailed.String())
	assert.Equal(t, "UNKNOWN", state(99).String())
}
