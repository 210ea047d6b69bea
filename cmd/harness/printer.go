package main

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/martinemde/harness/agentloop"
	"github.com/martinemde/harness/llm"
)

// printer renders agent events: assistant text to out, everything else to
// the log.
type printer struct {
	out io.Writer
	log *slog.Logger

	mu       sync.Mutex
	midLine  bool
	usage    llm.Usage
	toolRuns int
}

func newPrinter(out io.Writer, log *slog.Logger) *printer {
	return &printer{out: out, log: log}
}

func (p *printer) handle(ev agentloop.AgentEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := ev.(type) {
	case agentloop.MessageUpdate:
		switch d := e.Event.(type) {
		case llm.TextDeltaEvent:
			fmt.Fprint(p.out, d.Delta)
			p.midLine = true
		case llm.ThinkingEndEvent:
			p.log.Debug("thinking", "text", d.Content)
		}
	case agentloop.MessageEnd:
		msg, ok := e.Message.(*llm.AssistantMessage)
		if !ok {
			return
		}
		p.endLine()
		p.usage = p.usage.Add(msg.Usage)
		switch msg.StopReason {
		case llm.StopError:
			p.log.Error("model error", "model", msg.Model, "error", msg.ErrorMessage)
		case llm.StopAborted:
			p.log.Warn("response aborted", "model", msg.Model)
		case llm.StopLength:
			p.log.Warn("response hit the output token limit", "model", msg.Model)
		}
	case agentloop.ToolExecutionStart:
		p.endLine()
		p.toolRuns++
		p.log.Info("tool call", "tool", e.ToolName, "id", e.ToolCallID, "args", e.Args)
	case agentloop.ToolExecutionEnd:
		if e.IsError {
			p.log.Warn("tool failed", "tool", e.ToolName, "id", e.ToolCallID, "result", llm.TextOf(e.Result.Content))
		} else {
			p.log.Debug("tool finished", "tool", e.ToolName, "id", e.ToolCallID)
		}
	case agentloop.AgentEnd:
		p.endLine()
		p.log.Info("run finished",
			"messages", len(e.Messages),
			"tool_calls", p.toolRuns,
			"input_tokens", p.usage.Input,
			"output_tokens", p.usage.Output,
			"cost_usd", fmt.Sprintf("%.4f", p.usage.Cost.Total),
		)
	}
}

func (p *printer) endLine() {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
}
