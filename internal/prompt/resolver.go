// Package prompt resolves rendered prompt templates for agents. Packs are
// YAML files in a prompts directory overlaying built-in defaults; a small
// per-user cache avoids redundant resolution within a session, and an
// fsnotify watcher invalidates it when templates change on disk.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"graphchat/internal/logging"
	"graphchat/internal/types"
)

// Pack is one agent's prompt templates. Family-specific overrides take
// precedence over the top-level templates when present.
type Pack struct {
	Key      string                 `yaml:"key"`
	System   string                 `yaml:"system"`
	Human    string                 `yaml:"human"`
	Families map[string]PackVariant `yaml:"families,omitempty"`
}

// PackVariant is a model-family specific override of a pack's templates.
type PackVariant struct {
	System string `yaml:"system"`
	Human  string `yaml:"human"`
}

// ResolutionError reports a missing required prompt. It is fatal for the
// request and raised before any streaming starts.
type ResolutionError struct {
	AgentKey string
	Role     types.PromptRole
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("required prompt not found: agent=%s role=%s", e.AgentKey, e.Role)
}

// Resolver loads prompt packs and renders templates with per-request
// variables. Safe for concurrent use.
type Resolver struct {
	mu    sync.RWMutex
	dir   string
	packs map[string]Pack
}

// NewResolver creates a resolver rooted at dir. Built-in default packs are
// always available; YAML files in dir overlay them by key. A missing or
// empty dir is fine.
func NewResolver(dir string) (*Resolver, error) {
	r := &Resolver{dir: dir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads all packs from disk over the defaults.
func (r *Resolver) Reload() error {
	packs := make(map[string]Pack, len(defaultPacks))
	for k, p := range defaultPacks {
		packs[k] = p
	}

	if r.dir != "" {
		entries, err := os.ReadDir(r.dir)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read prompts dir %s: %w", r.dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
				continue
			}

			data, err := os.ReadFile(filepath.Join(r.dir, name))
			if err != nil {
				logging.Get(logging.CategoryPrompts).Warn("Skipping unreadable pack %s: %v", name, err)
				continue
			}

			var pack Pack
			if err := yaml.Unmarshal(data, &pack); err != nil {
				logging.Get(logging.CategoryPrompts).Warn("Skipping malformed pack %s: %v", name, err)
				continue
			}
			if pack.Key == "" {
				pack.Key = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
			}
			packs[pack.Key] = pack
		}
	}

	r.mu.Lock()
	r.packs = packs
	r.mu.Unlock()

	logging.Prompts("Loaded %d prompt packs (dir=%s)", len(packs), r.dir)
	return nil
}

// GetPrompts renders the requested roles of an agent's pack for a model
// family. All requested roles must resolve or a ResolutionError is returned.
func (r *Resolver) GetPrompts(agentKey string, roles []types.PromptRole, family types.ModelFamily, vars map[string]string) (map[types.PromptRole]string, error) {
	r.mu.RLock()
	pack, ok := r.packs[agentKey]
	r.mu.RUnlock()

	if !ok {
		return nil, &ResolutionError{AgentKey: agentKey, Role: types.PromptRoleSystem}
	}

	system, human := pack.System, pack.Human
	if variant, ok := pack.Families[string(family)]; ok {
		if variant.System != "" {
			system = variant.System
		}
		if variant.Human != "" {
			human = variant.Human
		}
	}

	out := make(map[types.PromptRole]string, len(roles))
	for _, role := range roles {
		var text string
		switch role {
		case types.PromptRoleSystem:
			text = system
		case types.PromptRoleHuman:
			text = human
		}
		if strings.TrimSpace(text) == "" {
			return nil, &ResolutionError{AgentKey: agentKey, Role: role}
		}
		out[role] = Render(text, vars)
	}
	return out, nil
}

// Render substitutes {name} placeholders in a template. Unknown placeholders
// are left untouched.
func Render(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// ClassifierKey returns the pack key holding the classification prompt for
// an agent kind.
func ClassifierKey(kind types.AgentKind) string {
	return string(kind) + "_classifier"
}

// ChainKey returns the pack key holding the direct-chain prompts for an
// agent kind.
func ChainKey(kind types.AgentKind) string {
	return string(kind)
}

// RunnerKey returns the pack key holding the tool-agent prompts for an
// agent kind.
func RunnerKey(kind types.AgentKind) string {
	return string(kind) + "_rag"
}
