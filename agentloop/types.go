package agentloop

import (
	"context"
	"maps"
	"slices"

	"github.com/martinemde/harness/llm"
)

// ToolResult is what a tool returns: content for the model and opaque
// details for observers.
type ToolResult struct {
	Content []llm.Content
	Details any
}

// TextResult creates a ToolResult holding a single text block.
func TextResult(text string) ToolResult {
	return ToolResult{Content: []llm.Content{llm.Text(text)}}
}

// ToolUpdateFunc receives partial results while a tool runs.
type ToolUpdateFunc func(partial ToolResult)

// ToolExecutor runs one tool call. ctx is cancelled when the run is aborted.
type ToolExecutor func(ctx context.Context, toolCallID string, args map[string]any, onUpdate ToolUpdateFunc) (ToolResult, error)

// AgentTool is a callable tool: metadata sent to the model plus the executor.
type AgentTool struct {
	Name        string
	Label       string
	Description string
	Parameters  map[string]any // JSON Schema
	Execute     ToolExecutor
}

// Definition returns the tool metadata in the form providers consume.
func (t AgentTool) Definition() llm.Tool {
	return llm.Tool{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

func toolDefinitions(tools []AgentTool) []llm.Tool {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]llm.Tool, len(tools))
	for i, t := range tools {
		defs[i] = t.Definition()
	}
	return defs
}

func findTool(tools []AgentTool, name string) (AgentTool, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return AgentTool{}, false
}

// QueueMode controls how many queued messages are delivered at once.
type QueueMode string

const (
	QueueOneAtATime QueueMode = "one-at-a-time"
	QueueAll        QueueMode = "all"
)

// AgentState is the observable state of an Agent.
type AgentState struct {
	SystemPrompt     string
	Model            llm.Model
	ThinkingLevel    llm.ThinkingLevel
	Tools            []AgentTool
	Messages         []llm.Message
	IsStreaming      bool
	StreamMessage    *llm.AssistantMessage
	PendingToolCalls map[string]struct{}
	Error            string
}

func (s AgentState) clone() AgentState {
	cp := s
	cp.Tools = slices.Clone(s.Tools)
	cp.Messages = slices.Clone(s.Messages)
	cp.PendingToolCalls = maps.Clone(s.PendingToolCalls)
	if cp.PendingToolCalls == nil {
		cp.PendingToolCalls = map[string]struct{}{}
	}
	return cp
}

// AgentContext is the input to one run: the prompt, history and tools.
type AgentContext struct {
	SystemPrompt string
	Messages     []llm.Message
	Tools        []AgentTool
}
