package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/martinemde/harness/agentloop"
)

type writeParams struct {
	Path    string `json:"path" jsonschema:"description=Path of the file to write"`
	Content string `json:"content" jsonschema:"description=The full file content"`
}

// Write returns the write tool. It creates parent directories and replaces
// any existing file.
func Write(env *Environment) agentloop.AgentTool {
	return agentloop.AgentTool{
		Name:        "write",
		Label:       "Write",
		Description: "Write content to a file, creating it and its parent directories if needed. Overwrites existing files.",
		Parameters:  agentloop.SchemaFor[writeParams](),
		Execute: func(ctx context.Context, _ string, args map[string]any, _ agentloop.ToolUpdateFunc) (agentloop.ToolResult, error) {
			p, err := agentloop.DecodeArgs[writeParams](args)
			if err != nil {
				return agentloop.ToolResult{}, err
			}
			if p.Path == "" {
				return agentloop.ToolResult{}, fmt.Errorf("path is required")
			}
			resolved := env.resolvePath(p.Path)
			if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
				return agentloop.ToolResult{}, fmt.Errorf("write %s: %w", p.Path, err)
			}
			if err := os.WriteFile(resolved, []byte(p.Content), 0o644); err != nil {
				return agentloop.ToolResult{}, fmt.Errorf("write %s: %w", p.Path, err)
			}
			return agentloop.TextResult(fmt.Sprintf("Wrote %d bytes to %s", len(p.Content), p.Path)), nil
		},
	}
}
