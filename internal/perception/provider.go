package perception

import (
	"context"
	"fmt"
	"sync"

	"graphchat/internal/config"
	"graphchat/internal/logging"
	"graphchat/internal/types"
)

// Service resolves the model family for a user and builds clients for it.
// The default family comes from config; per-user overrides are re-resolved
// on every call so a preference change takes effect mid-session.
type Service struct {
	cfg *config.Config

	mu        sync.RWMutex
	overrides map[string]types.ModelFamily
}

// NewService creates a provider service from config.
func NewService(cfg *config.Config) *Service {
	return &Service{
		cfg:       cfg,
		overrides: make(map[string]types.ModelFamily),
	}
}

// SetPreferredLLM records a per-user model family override.
func (s *Service) SetPreferredLLM(userID string, family types.ModelFamily) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[userID] = family
	logging.Perception("Preferred LLM set: user=%s family=%s", userID, family)
}

// GetPreferredLLM returns the model family for a user. The override map is
// consulted first, then the configured provider.
func (s *Service) GetPreferredLLM(_ context.Context, userID string) (types.ModelFamily, error) {
	s.mu.RLock()
	family, ok := s.overrides[userID]
	s.mu.RUnlock()
	if ok {
		return family, nil
	}

	switch s.cfg.LLM.Provider {
	case "gemini":
		return types.ModelFamilyGemini, nil
	case "openai":
		return types.ModelFamilyOpenAI, nil
	default:
		return "", fmt.Errorf("unknown llm provider %q", s.cfg.LLM.Provider)
	}
}

// SmallClient builds the streaming-chain client for a user.
func (s *Service) SmallClient(ctx context.Context, userID string) (types.LLMClient, error) {
	return s.client(ctx, userID, true)
}

// LargeClient builds the classification and tool-agent client for a user.
func (s *Service) LargeClient(ctx context.Context, userID string) (types.LLMClient, error) {
	return s.client(ctx, userID, false)
}

func (s *Service) client(ctx context.Context, userID string, small bool) (types.LLMClient, error) {
	family, err := s.GetPreferredLLM(ctx, userID)
	if err != nil {
		return nil, err
	}

	model := s.cfg.LLM.Model
	if small && s.cfg.LLM.SmallModel != "" {
		model = s.cfg.LLM.SmallModel
	}

	switch family {
	case types.ModelFamilyGemini:
		return NewGeminiClientWithConfig(ctx, GeminiConfig{
			APIKey:          s.cfg.LLM.APIKey,
			Model:           model,
			MaxOutputTokens: s.cfg.LLM.MaxTokens,
			Timeout:         s.cfg.LLM.TimeoutDuration(),
		})
	case types.ModelFamilyOpenAI:
		return NewOpenAIClientWithConfig(OpenAIConfig{
			APIKey:    s.cfg.LLM.APIKey,
			BaseURL:   s.cfg.LLM.BaseURL,
			Model:     model,
			MaxTokens: s.cfg.LLM.MaxTokens,
			Timeout:   s.cfg.LLM.TimeoutDuration(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown model family %q", family)
	}
}
