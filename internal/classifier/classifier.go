// Package classifier decides whether a query needs the knowledge-graph tool
// agent or can be answered directly from conversation context.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"graphchat/internal/logging"
	"graphchat/internal/prompt"
	"graphchat/internal/types"
)

// historyWindow is the number of trailing human turns included in the
// classification prompt.
const historyWindow = 5

// ClassificationError reports an LLM response that did not contain a valid
// classification token. The orchestrator treats it as fatal for the request.
type ClassificationError struct {
	Raw string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("unrecognized classification response: %q", e.Raw)
}

// Classifier asks the large model to route a query. The model family is
// re-resolved on every call so a changed user preference takes effect
// immediately.
type Classifier struct {
	provider types.LLMProvider
	resolver types.PromptResolver
	kind     types.AgentKind
}

// New creates a classifier for one agent kind.
func New(provider types.LLMProvider, resolver types.PromptResolver, kind types.AgentKind) *Classifier {
	return &Classifier{
		provider: provider,
		resolver: resolver,
		kind:     kind,
	}
}

// Classify routes a query. Classification is stateless and repeatable: the
// same query and history always produce the same prompt.
func (c *Classifier) Classify(ctx context.Context, query string, history []types.ConversationTurn, userID string) (types.ClassificationResult, error) {
	timer := logging.StartTimer(logging.CategoryClassifier, "classify")
	defer timer.Stop()

	family, err := c.provider.GetPreferredLLM(ctx, userID)
	if err != nil {
		return types.ClassificationUnknown, fmt.Errorf("failed to resolve model family: %w", err)
	}

	prompts, err := c.resolver.GetPrompts(prompt.ClassifierKey(c.kind),
		[]types.PromptRole{types.PromptRoleSystem}, family,
		map[string]string{
			"query":   query,
			"history": renderHistory(history),
		})
	if err != nil {
		return types.ClassificationUnknown, err
	}

	client, err := c.provider.LargeClient(ctx, userID)
	if err != nil {
		return types.ClassificationUnknown, fmt.Errorf("failed to build classification client: %w", err)
	}

	raw, err := client.Complete(ctx, prompts[types.PromptRoleSystem])
	if err != nil {
		return types.ClassificationUnknown, fmt.Errorf("classification call failed: %w", err)
	}

	result, err := ParseClassification(raw)
	if err != nil {
		return types.ClassificationUnknown, err
	}

	logging.Classifier("Classified query: kind=%s user=%s result=%s", c.kind, userID, result)
	return result, nil
}

// ParseClassification extracts a classification from an LLM response. Both a
// bare token and a JSON object with a "classification" field are accepted.
func ParseClassification(raw string) (types.ClassificationResult, error) {
	text := strings.TrimSpace(raw)

	var tagged struct {
		Classification string `json:"classification"`
	}
	if strings.HasPrefix(text, "{") && json.Unmarshal([]byte(text), &tagged) == nil && tagged.Classification != "" {
		text = tagged.Classification
	}

	switch strings.ToUpper(strings.Trim(text, " \t\n\"'.`")) {
	case "AGENT_REQUIRED":
		return types.ClassificationAgentRequired, nil
	case "NO_AGENT":
		return types.ClassificationNoAgent, nil
	default:
		return types.ClassificationUnknown, &ClassificationError{Raw: raw}
	}
}

// renderHistory formats the trailing human turns for the classification
// prompt, most recent last.
func renderHistory(history []types.ConversationTurn) string {
	var humans []string
	for _, turn := range history {
		if turn.Role == types.MessageTypeHuman {
			humans = append(humans, turn.Content)
		}
	}
	if len(humans) > historyWindow {
		humans = humans[len(humans)-historyWindow:]
	}
	return strings.Join(humans, "\n")
}
