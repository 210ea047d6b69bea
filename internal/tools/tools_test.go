package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/martinemde/harness/agentloop"
	"github.com/martinemde/harness/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnv(t *testing.T) *Environment {
	t.Helper()
	return NewEnvironment(t.TempDir(), nil)
}

func run(t *testing.T, tool agentloop.AgentTool, args map[string]any) (agentloop.ToolResult, error) {
	t.Helper()
	return tool.Execute(context.Background(), "call_1", args, nil)
}

func text(res agentloop.ToolResult) string {
	return llm.TextOf(res.Content)
}

func TestAllTools(t *testing.T) {
	reg := agentloop.NewToolRegistry()
	Register(reg, newTestEnv(t))
	assert.Equal(t, []string{"bash", "edit", "read", "write"}, reg.Names())

	for _, tool := range reg.Tools() {
		assert.Equal(t, "object", tool.Parameters["type"], tool.Name)
		assert.NotEmpty(t, tool.Description, tool.Name)
	}
}

func TestRead(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.WorkDir(), "a.txt"), []byte("hello\nworld\nagain\n"), 0o644))
	read := Read(env)

	res, err := run(t, read, map[string]any{"path": "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "1 | hello\n2 | world\n3 | again\n", text(res))
	details := res.Details.(ReadDetails)
	assert.Equal(t, 3, details.TotalLines)
	assert.False(t, details.Truncated)

	res, err = run(t, read, map[string]any{"path": "a.txt", "offset": float64(2), "limit": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, "2 | world\n\n[1 more lines. Use offset=3 to continue.]", text(res))

	_, err = run(t, read, map[string]any{"path": "a.txt", "offset": float64(10)})
	assert.ErrorContains(t, err, "beyond the end")

	_, err = run(t, read, map[string]any{"path": "missing.txt"})
	assert.Error(t, err)

	_, err = run(t, read, map[string]any{})
	assert.ErrorContains(t, err, "path is required")
}

func TestWriteThenEdit(t *testing.T) {
	env := newTestEnv(t)

	res, err := run(t, Write(env), map[string]any{"path": "dir/notes.md", "content": "alpha beta alpha"})
	require.NoError(t, err)
	assert.Equal(t, "Wrote 16 bytes to dir/notes.md", text(res))

	edit := Edit(env)
	_, err = run(t, edit, map[string]any{"path": "dir/notes.md", "oldText": "alpha", "newText": "gamma"})
	assert.ErrorContains(t, err, "found 2 times")

	_, err = run(t, edit, map[string]any{"path": "dir/notes.md", "oldText": "delta", "newText": "x"})
	assert.ErrorContains(t, err, "not found")

	res, err = run(t, edit, map[string]any{"path": "dir/notes.md", "oldText": "alpha", "newText": "gamma", "replaceAll": true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Details.(EditDetails).Replacements)

	data, err := os.ReadFile(filepath.Join(env.WorkDir(), "dir", "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "gamma beta gamma", string(data))
}

func TestBash(t *testing.T) {
	env := newTestEnv(t)
	bash := Bash(env)

	res, err := run(t, bash, map[string]any{"command": "echo hello; echo oops 1>&2"})
	require.NoError(t, err)
	assert.Contains(t, text(res), "hello")
	assert.Contains(t, text(res), "oops")
	assert.Equal(t, 0, res.Details.(BashDetails).ExitCode)

	res, err = run(t, bash, map[string]any{"command": "true"})
	require.NoError(t, err)
	assert.Equal(t, "(no output)", text(res))

	_, err = run(t, bash, map[string]any{"command": "echo partial; exit 3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partial")
	assert.Contains(t, err.Error(), "Command exited with code 3")

	res, err = run(t, bash, map[string]any{"command": "pwd"})
	require.NoError(t, err)
	wd, err := filepath.EvalSymlinks(env.WorkDir())
	require.NoError(t, err)
	assert.Contains(t, text(res), filepath.Base(wd))
}

func TestBashStreamsOutput(t *testing.T) {
	env := newTestEnv(t)
	var mu sync.Mutex
	var updates []string
	onUpdate := func(partial agentloop.ToolResult) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, text(partial))
	}

	_, err := Bash(env).Execute(context.Background(), "call_1", map[string]any{"command": "echo one; sleep 0.1; echo two"}, onUpdate)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates)
	assert.Contains(t, updates[len(updates)-1], "two")
}

func TestBashAbortKillsProcessGroup(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := Bash(env).Execute(ctx, "call_1", map[string]any{"command": "sleep 30 & sleep 30"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Command aborted")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestBashTimeout(t *testing.T) {
	env := newTestEnv(t)
	_, err := Bash(env).Execute(context.Background(), "call_1", map[string]any{"command": "sleep 5", "timeout": float64(1)}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestBashHidesCredentials(t *testing.T) {
	t.Setenv("HARNESS_TEST_API_KEY", "s3cr3t")
	t.Setenv("HARNESS_TEST_VISIBLE", "shown")
	res, err := run(t, Bash(newTestEnv(t)), map[string]any{"command": `echo "[$HARNESS_TEST_API_KEY][$HARNESS_TEST_VISIBLE]"`})
	require.NoError(t, err)
	assert.Equal(t, "[][shown]\n", text(res))
}

func TestFilterEnvironment(t *testing.T) {
	got := filterEnvironment([]string{
		"PATH=/usr/bin",
		"OPENAI_API_KEY=sk",
		"GITHUB_TOKEN=ghp",
		"db_password=hunter2",
		"HOME=/home/me",
		"MALFORMED",
	})
	assert.Equal(t, []string{"PATH=/usr/bin", "HOME=/home/me"}, got)
}

func TestTruncate(t *testing.T) {
	out, cut := Truncate("short", bashLimits)
	assert.False(t, cut)
	assert.Equal(t, "short", out)

	long := strings.Repeat("a", 60) + strings.Repeat("z", 60)
	out = TruncateOutput(long, 40, TruncateHeadTail)
	assert.True(t, strings.HasPrefix(out, strings.Repeat("a", 20)))
	assert.True(t, strings.HasSuffix(out, strings.Repeat("z", 20)))
	assert.Contains(t, out, "80 characters removed from the middle")

	out = TruncateOutput(long, 40, TruncateTail)
	assert.True(t, strings.HasSuffix(out, strings.Repeat("z", 40)))
	assert.Contains(t, out, "first 80 characters removed")

	var lines []string
	for i := 1; i <= 10; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	joined := strings.Join(lines, "\n")
	assert.Equal(t, "line 1\nline 2\n[... 6 lines omitted ...]\nline 9\nline 10", TruncateLines(joined, 4))

	out, cut = Truncate(joined, Limits{MaxLines: 3, Mode: TruncateTail})
	assert.True(t, cut)
	assert.Equal(t, "[... 7 lines omitted ...]\nline 8\nline 9\nline 10", out)
}
