package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/martinemde/harness/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathHierarchy(t *testing.T) {
	root := filepath.Join("/", "repo")
	assert.Equal(t, []string{root}, pathHierarchy(root, root))
	assert.Equal(t,
		[]string{root, filepath.Join(root, "a"), filepath.Join(root, "a", "b")},
		pathHierarchy(root, filepath.Join(root, "a", "b")))
	assert.Equal(t, []string{root}, pathHierarchy(root, filepath.Join("/", "elsewhere")))
}

func TestDiscoverProjectDocs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("Run make test."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CLAUDE.md"), []byte("Prefer table tests."), 0o644))

	docs := DiscoverProjectDocs(dir, "anthropic")
	assert.Contains(t, docs, "# AGENTS.md")
	assert.Contains(t, docs, "Run make test.")
	assert.Contains(t, docs, "Prefer table tests.")

	docs = DiscoverProjectDocs(dir, "openai")
	assert.Contains(t, docs, "Run make test.")
	assert.NotContains(t, docs, "Prefer table tests.")

	assert.Empty(t, DiscoverProjectDocs(t.TempDir(), "anthropic"))
}

func TestBuildSystemPrompt(t *testing.T) {
	env := newTestEnv(t)
	model := llm.Model{ID: "claude-sonnet-4-5", Provider: "anthropic"}

	prompt := BuildSystemPrompt(env, "", model)
	assert.Contains(t, prompt, "coding agent")
	assert.Contains(t, prompt, "<environment>")
	assert.Contains(t, prompt, "Working directory: "+env.WorkDir())
	assert.Contains(t, prompt, "Model: claude-sonnet-4-5")

	prompt = BuildSystemPrompt(env, "Answer in French.", model)
	assert.Contains(t, prompt, "Answer in French.")
	assert.NotContains(t, prompt, "coding agent")
}
