package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/martinemde/harness/agentloop"
)

type editParams struct {
	Path       string `json:"path" jsonschema:"description=Path of the file to edit"`
	OldText    string `json:"oldText" jsonschema:"description=Exact text to replace. Must be unique unless replaceAll is set."`
	NewText    string `json:"newText" jsonschema:"description=Replacement text"`
	ReplaceAll bool   `json:"replaceAll,omitempty" jsonschema:"description=Replace every occurrence"`
}

// EditDetails reports how many replacements an edit made.
type EditDetails struct {
	Path         string `json:"path"`
	Replacements int    `json:"replacements"`
}

// Edit returns the edit tool: exact string replacement within a file.
func Edit(env *Environment) agentloop.AgentTool {
	return agentloop.AgentTool{
		Name:        "edit",
		Label:       "Edit",
		Description: "Replace exact text in a file. oldText must occur exactly once unless replaceAll is true.",
		Parameters:  agentloop.SchemaFor[editParams](),
		Execute: func(ctx context.Context, _ string, args map[string]any, _ agentloop.ToolUpdateFunc) (agentloop.ToolResult, error) {
			p, err := agentloop.DecodeArgs[editParams](args)
			if err != nil {
				return agentloop.ToolResult{}, err
			}
			if p.Path == "" {
				return agentloop.ToolResult{}, fmt.Errorf("path is required")
			}
			if p.OldText == "" {
				return agentloop.ToolResult{}, fmt.Errorf("oldText is required")
			}

			resolved := env.resolvePath(p.Path)
			data, err := os.ReadFile(resolved)
			if err != nil {
				return agentloop.ToolResult{}, fmt.Errorf("edit %s: %w", p.Path, err)
			}
			content := string(data)

			count := strings.Count(content, p.OldText)
			switch {
			case count == 0:
				return agentloop.ToolResult{}, fmt.Errorf("oldText not found in %s", p.Path)
			case count > 1 && !p.ReplaceAll:
				return agentloop.ToolResult{}, fmt.Errorf("oldText found %d times in %s. Provide more context to make it unique, or set replaceAll", count, p.Path)
			}

			replacements := 1
			if p.ReplaceAll {
				content = strings.ReplaceAll(content, p.OldText, p.NewText)
				replacements = count
			} else {
				content = strings.Replace(content, p.OldText, p.NewText, 1)
			}
			if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
				return agentloop.ToolResult{}, fmt.Errorf("edit %s: %w", p.Path, err)
			}

			res := agentloop.TextResult(fmt.Sprintf("Replaced %d occurrence(s) in %s", replacements, p.Path))
			res.Details = EditDetails{Path: p.Path, Replacements: replacements}
			return res, nil
		},
	}
}
