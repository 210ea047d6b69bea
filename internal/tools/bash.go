package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/martinemde/harness/agentloop"
	"github.com/martinemde/harness/llm"
)

const (
	defaultBashTimeout = 2 * time.Minute
	maxBashTimeout     = 10 * time.Minute
)

type bashParams struct {
	Command string `json:"command" jsonschema:"description=Shell command to run from the working directory"`
	Timeout int    `json:"timeout,omitempty" jsonschema:"description=Timeout in seconds. Default 120.,minimum=1"`
}

// BashDetails describes a finished command.
type BashDetails struct {
	ExitCode   int   `json:"exitCode"`
	DurationMs int64 `json:"durationMs"`
	Truncated  bool  `json:"truncated"`
}

// Bash returns the bash tool. Output streams to onUpdate as it arrives; a
// non-zero exit, a timeout or an abort produce an error result carrying the
// output collected so far.
func Bash(env *Environment) agentloop.AgentTool {
	return agentloop.AgentTool{
		Name:        "bash",
		Label:       "Bash",
		Description: "Run a shell command in the working directory. Returns combined stdout and stderr; long output keeps its head and tail.",
		Parameters:  agentloop.SchemaFor[bashParams](),
		Execute: func(ctx context.Context, _ string, args map[string]any, onUpdate agentloop.ToolUpdateFunc) (agentloop.ToolResult, error) {
			p, err := agentloop.DecodeArgs[bashParams](args)
			if err != nil {
				return agentloop.ToolResult{}, err
			}
			if p.Command == "" {
				return agentloop.ToolResult{}, fmt.Errorf("command is required")
			}
			timeout := defaultBashTimeout
			if p.Timeout > 0 {
				timeout = min(time.Duration(p.Timeout)*time.Second, maxBashTimeout)
			}

			var progress func(string)
			if onUpdate != nil {
				progress = func(total string) {
					tail, _ := Truncate(total, progressLimits)
					onUpdate(agentloop.TextResult(tail))
				}
			}

			res, err := env.Exec(ctx, p.Command, timeout, progress)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return agentloop.ToolResult{}, fmt.Errorf("%sCommand aborted", outputPrefix(res))
			}
			if err != nil {
				return agentloop.ToolResult{}, err
			}
			if res.TimedOut {
				return agentloop.ToolResult{}, fmt.Errorf("%sCommand timed out after %s", outputPrefix(res), timeout)
			}
			if res.ExitCode != 0 {
				return agentloop.ToolResult{}, fmt.Errorf("%sCommand exited with code %d", outputPrefix(res), res.ExitCode)
			}

			text, truncated := Truncate(res.Output, bashLimits)
			if text == "" {
				text = "(no output)"
			}
			return agentloop.ToolResult{
				Content: []llm.Content{llm.Text(text)},
				Details: BashDetails{
					ExitCode:   res.ExitCode,
					DurationMs: res.Duration.Milliseconds(),
					Truncated:  truncated,
				},
			}, nil
		},
	}
}

func outputPrefix(res *ExecResult) string {
	if res == nil || res.Output == "" {
		return ""
	}
	text, _ := Truncate(res.Output, bashLimits)
	return text + "\n\n"
}
