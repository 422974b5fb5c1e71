package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphchat/internal/prompt"
	"graphchat/internal/types"
)

type stubLLM struct {
	response string
	err      error
	prompts  []string
}

func (s *stubLLM) Complete(_ context.Context, p string) (string, error) {
	s.prompts = append(s.prompts, p)
	return s.response, s.err
}

func (s *stubLLM) CompleteWithSystem(ctx context.Context, _, user string) (string, error) {
	return s.Complete(ctx, user)
}

func (s *stubLLM) CompleteWithStreaming(context.Context, string, string) (<-chan string, <-chan error) {
	content := make(chan string)
	errs := make(chan error)
	close(content)
	close(errs)
	return content, errs
}

type stubProvider struct {
	llm *stubLLM
}

func (p *stubProvider) GetPreferredLLM(context.Context, string) (types.ModelFamily, error) {
	return types.ModelFamilyOpenAI, nil
}

func (p *stubProvider) SmallClient(context.Context, string) (types.LLMClient, error) {
	return p.llm, nil
}

func (p *stubProvider) LargeClient(context.Context, string) (types.LLMClient, error) {
	return p.llm, nil
}

func newTestClassifier(t *testing.T, response string) (*Classifier, *stubLLM) {
	t.Helper()
	resolver, err := prompt.NewResolver("")
	require.NoError(t, err)
	llm := &stubLLM{response: response}
	return New(&stubProvider{llm: llm}, resolver, types.AgentKindQNA), llm
}

func TestClassify_AgentRequired(t *testing.T) {
	c, llm := newTestClassifier(t, "AGENT_REQUIRED")

	result, err := c.Classify(context.Background(), "how does auth work?", nil, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.ClassificationAgentRequired, result)
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "how does auth work?")
}

func TestClassify_NoAgent(t *testing.T) {
	c, _ := newTestClassifier(t, "NO_AGENT")

	result, err := c.Classify(context.Background(), "thanks!", nil, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.ClassificationNoAgent, result)
}

func TestClassify_Idempotent(t *testing.T) {
	c, llm := newTestClassifier(t, "NO_AGENT")
	history := []types.ConversationTurn{
		{Role: types.MessageTypeHuman, Content: "first question"},
		{Role: types.MessageTypeAIGenerated, Content: "an answer"},
	}

	first, err := c.Classify(context.Background(), "same query", history, "u1")
	require.NoError(t, err)
	second, err := c.Classify(context.Background(), "same query", history, "u1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, llm.prompts, 2)
	assert.Equal(t, llm.prompts[0], llm.prompts[1])
}

func TestClassify_LLMFailure(t *testing.T) {
	c, llm := newTestClassifier(t, "")
	llm.err = errors.New("boom")

	_, err := c.Classify(context.Background(), "q", nil, "u1")
	assert.ErrorContains(t, err, "classification call failed")
}

func TestClassify_HistoryWindowKeepsLastFiveHumanTurns(t *testing.T) {
	c, llm := newTestClassifier(t, "NO_AGENT")

	var history []types.ConversationTurn
	for _, q := range []string{"q1", "q2", "q3", "q4", "q5", "q6", "q7"} {
		history = append(history,
			types.ConversationTurn{Role: types.MessageTypeHuman, Content: q},
			types.ConversationTurn{Role: types.MessageTypeAIGenerated, Content: "a-" + q},
		)
	}

	_, err := c.Classify(context.Background(), "q", history, "u1")
	require.NoError(t, err)

	require.Len(t, llm.prompts, 1)
	p := llm.prompts[0]
	assert.NotContains(t, p, "q1")
	assert.NotContains(t, p, "q2")
	for _, q := range []string{"q3", "q4", "q5", "q6", "q7"} {
		assert.Contains(t, p, q)
	}
	assert.NotContains(t, p, "a-q7", "assistant turns stay out of the window")
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    types.ClassificationResult
		wantErr bool
	}{
		{name: "bare token", raw: "AGENT_REQUIRED", want: types.ClassificationAgentRequired},
		{name: "lowercase with whitespace", raw: "  no_agent \n", want: types.ClassificationNoAgent},
		{name: "quoted", raw: `"NO_AGENT"`, want: types.ClassificationNoAgent},
		{name: "json tagged", raw: `{"classification": "AGENT_REQUIRED"}`, want: types.ClassificationAgentRequired},
		{name: "empty", raw: "", wantErr: true},
		{name: "prose", raw: "I think the agent is required here.", wantErr: true},
		{name: "json with unknown value", raw: `{"classification": "MAYBE"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClassification(tt.raw)
			if tt.wantErr {
				var cerr *ClassificationError
				require.Error(t, err)
				assert.True(t, errors.As(err, &cerr))
				assert.Equal(t, types.ClassificationUnknown, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassificationError_MentionsRawResponse(t *testing.T) {
	err := &ClassificationError{Raw: "garbage"}
	assert.True(t, strings.Contains(err.Error(), "garbage"))
}
