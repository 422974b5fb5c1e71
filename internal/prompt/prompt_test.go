package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphchat/internal/types"
)

func TestResolver_DefaultPacks(t *testing.T) {
	r, err := NewResolver("")
	require.NoError(t, err)

	prompts, err := r.GetPrompts("qna", []types.PromptRole{types.PromptRoleSystem, types.PromptRoleHuman},
		types.ModelFamilyOpenAI, map[string]string{"query": "what does Login do?"})
	require.NoError(t, err)

	assert.Contains(t, prompts[types.PromptRoleSystem], "Q&A assistant")
	assert.Contains(t, prompts[types.PromptRoleHuman], "what does Login do?")
}

func TestResolver_MissingPackIsResolutionError(t *testing.T) {
	r, err := NewResolver("")
	require.NoError(t, err)

	_, err = r.GetPrompts("nonexistent_agent", []types.PromptRole{types.PromptRoleSystem}, types.ModelFamilyOpenAI, nil)
	require.Error(t, err)

	var resErr *ResolutionError
	assert.True(t, errors.As(err, &resErr))
	assert.Equal(t, "nonexistent_agent", resErr.AgentKey)
}

func TestResolver_DirOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	pack := `key: qna
system: custom system prompt for {query}
human: custom human prompt
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "qna.yaml"), []byte(pack), 0o644))

	r, err := NewResolver(dir)
	require.NoError(t, err)

	prompts, err := r.GetPrompts("qna", []types.PromptRole{types.PromptRoleSystem}, types.ModelFamilyOpenAI,
		map[string]string{"query": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "custom system prompt for hello", prompts[types.PromptRoleSystem])
}

func TestResolver_FamilyVariant(t *testing.T) {
	dir := t.TempDir()
	pack := `key: qna
system: generic system
human: generic human
families:
  gemini:
    system: gemini-tuned system
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "qna.yaml"), []byte(pack), 0o644))

	r, err := NewResolver(dir)
	require.NoError(t, err)

	prompts, err := r.GetPrompts("qna",
		[]types.PromptRole{types.PromptRoleSystem, types.PromptRoleHuman}, types.ModelFamilyGemini, nil)
	require.NoError(t, err)
	assert.Equal(t, "gemini-tuned system", prompts[types.PromptRoleSystem])
	assert.Equal(t, "generic human", prompts[types.PromptRoleHuman])
}

func TestRender_UnknownPlaceholdersUntouched(t *testing.T) {
	out := Render("a {known} and {unknown}", map[string]string{"known": "value"})
	assert.Equal(t, "a value and {unknown}", out)
}

func TestUserCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewUserCache(2)
	c.Put("u1", Bundle{types.PromptRoleSystem: "s1"})
	c.Put("u2", Bundle{types.PromptRoleSystem: "s2"})

	// Touch u1 so u2 becomes the eviction candidate.
	_, ok := c.Get("u1")
	require.True(t, ok)

	c.Put("u3", Bundle{types.PromptRoleSystem: "s3"})

	_, ok = c.Get("u2")
	assert.False(t, ok, "u2 should have been evicted")
	_, ok = c.Get("u1")
	assert.True(t, ok)
	_, ok = c.Get("u3")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestUserCache_InvalidateAll(t *testing.T) {
	c := NewUserCache(2)
	c.Put("u1", Bundle{})
	c.Put("u2", Bundle{})

	c.InvalidateAll()
	assert.Zero(t, c.Len())

	// Cache remains usable after invalidation.
	c.Put("u1", Bundle{})
	assert.Equal(t, 1, c.Len())
}

func TestWatcher_ReloadOnPackChange(t *testing.T) {
	dir := t.TempDir()
	r, err := NewResolver(dir)
	require.NoError(t, err)

	changed := make(chan struct{}, 1)
	w, err := NewWatcher(r, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	pack := `key: qna
system: watched system
human: watched human
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "qna.yaml"), []byte(pack), 0o644))

	// Debounce is 250ms; give the watcher ample room on slow CI.
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not fire on pack change")
	}

	prompts, err := r.GetPrompts("qna", []types.PromptRole{types.PromptRoleSystem}, types.ModelFamilyOpenAI, nil)
	require.NoError(t, err)
	assert.Equal(t, "watched system", prompts[types.PromptRoleSystem])
}
