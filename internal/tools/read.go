package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/martinemde/harness/agentloop"
	"github.com/martinemde/harness/llm"
)

const defaultReadLimit = 2000

type readParams struct {
	Path   string `json:"path" jsonschema:"description=Path of the file to read. Relative paths resolve against the working directory."`
	Offset int    `json:"offset,omitempty" jsonschema:"description=1-based line number to start from,minimum=1"`
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Maximum number of lines to read. Default 2000.,minimum=1"`
}

// ReadDetails describes what a read returned.
type ReadDetails struct {
	Path       string `json:"path"`
	StartLine  int    `json:"startLine"`
	EndLine    int    `json:"endLine"`
	TotalLines int    `json:"totalLines"`
	Truncated  bool   `json:"truncated"`
}

// Read returns the read tool: line-numbered file contents with offset and
// limit paging.
func Read(env *Environment) agentloop.AgentTool {
	return agentloop.AgentTool{
		Name:        "read",
		Label:       "Read",
		Description: "Read a text file. Returns line-numbered content. Use offset and limit to page through large files.",
		Parameters:  agentloop.SchemaFor[readParams](),
		Execute: func(ctx context.Context, _ string, args map[string]any, _ agentloop.ToolUpdateFunc) (agentloop.ToolResult, error) {
			p, err := agentloop.DecodeArgs[readParams](args)
			if err != nil {
				return agentloop.ToolResult{}, err
			}
			if p.Path == "" {
				return agentloop.ToolResult{}, fmt.Errorf("path is required")
			}
			if p.Limit <= 0 {
				p.Limit = defaultReadLimit
			}
			return env.readFile(p.Path, p.Offset, p.Limit)
		},
	}
}

func (e *Environment) readFile(path string, offset, limit int) (agentloop.ToolResult, error) {
	data, err := os.ReadFile(e.resolvePath(path))
	if err != nil {
		return agentloop.ToolResult{}, fmt.Errorf("read %s: %w", path, err)
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	start := 0
	if offset > 0 {
		start = offset - 1
	}
	if start >= len(lines) {
		return agentloop.ToolResult{}, fmt.Errorf("offset %d is beyond the end of %s (%d lines)", offset, path, len(lines))
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	text, truncated := Truncate(sb.String(), readLimits)
	if end < len(lines) {
		text += fmt.Sprintf("\n[%d more lines. Use offset=%d to continue.]", len(lines)-end, end+1)
	}

	return agentloop.ToolResult{
		Content: []llm.Content{llm.Text(text)},
		Details: ReadDetails{
			Path:       path,
			StartLine:  start + 1,
			EndLine:    end,
			TotalLines: len(lines),
			Truncated:  truncated,
		},
	}, nil
}
