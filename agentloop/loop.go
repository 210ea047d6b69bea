package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/martinemde/harness/llm"
)

const skippedToolResult = "Skipped due to queued user message."

// LoopConfig holds everything a run needs besides the conversation itself.
type LoopConfig struct {
	Model          llm.Model
	Reasoning      llm.ThinkingLevel
	SessionID      string
	MaxTokens      int
	Temperature    *float64
	CacheRetention llm.CacheRetention

	// Streamer starts model responses. Defaults to llm.NewDefaultRegistry().
	Streamer llm.Streamer

	// GetAPIKey resolves credentials per provider. A missing key is not an
	// error; the request proceeds and the provider rejects it.
	GetAPIKey func(ctx context.Context, provider string) (string, error)

	// ConvertToLLM maps history to model messages. Defaults to
	// DefaultConvertToLLM.
	ConvertToLLM func(messages []llm.Message) []llm.Message

	// TransformContext rewrites history before conversion, e.g. to prune it.
	TransformContext func(ctx context.Context, messages []llm.Message) ([]llm.Message, error)

	// GetSteeringMessages is polled before each turn and after each tool
	// call. Returned messages interrupt the remaining tool calls.
	GetSteeringMessages func() []llm.Message

	// GetFollowUpMessages is polled once the model stops with no tool calls
	// and no steering pending.
	GetFollowUpMessages func() []llm.Message

	// LoopDetectionWindow, when positive, is how many recent tool calls are
	// checked for a repeating pattern after each tool turn. A detected loop
	// queues a warning for the model as a steering message.
	LoopDetectionWindow int

	Logger *slog.Logger
}

func (c *LoopConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// RunLoop starts a run with prompts appended to the history in actx. The
// returned stream begins with AgentStart and ends with exactly one AgentEnd
// carrying every message the run added.
func RunLoop(ctx context.Context, prompts []llm.Message, actx AgentContext, cfg LoopConfig) *AgentEventStream {
	return startLoop(ctx, prompts, actx, cfg, false)
}

// RunLoopContinue resumes from the existing history without new input. The
// last message must not be an assistant message.
func RunLoopContinue(ctx context.Context, actx AgentContext, cfg LoopConfig) (*AgentEventStream, error) {
	if len(actx.Messages) == 0 {
		return nil, ErrNoMessages
	}
	if _, ok := actx.Messages[len(actx.Messages)-1].(*llm.AssistantMessage); ok {
		return nil, ErrInvalidContinue
	}
	return startLoop(ctx, nil, actx, cfg, false), nil
}

func startLoop(ctx context.Context, prompts []llm.Message, actx AgentContext, cfg LoopConfig, skipInitialSteering bool) *AgentEventStream {
	if cfg.Streamer == nil {
		cfg.Streamer = llm.NewDefaultRegistry()
	}
	if cfg.ConvertToLLM == nil {
		cfg.ConvertToLLM = DefaultConvertToLLM
	}
	out := NewAgentEventStream()
	l := &loop{
		cfg: cfg,
		out: out,
		log: cfg.logger(),
		current: AgentContext{
			SystemPrompt: actx.SystemPrompt,
			Messages:     slices.Clone(actx.Messages),
			Tools:        slices.Clone(actx.Tools),
		},
	}
	go l.run(ctx, prompts, skipInitialSteering)
	return out
}

// loop is the state of one run. It is owned by the run goroutine.
type loop struct {
	cfg         LoopConfig
	out         *AgentEventStream
	log         *slog.Logger
	current     AgentContext
	newMessages []llm.Message
}

func (l *loop) emit(e AgentEvent) {
	l.out.Push(e)
}

func (l *loop) run(ctx context.Context, prompts []llm.Message, skipInitialSteering bool) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("agent loop panic", "panic", r)
			l.fail(ctx, fmt.Errorf("agent loop panic: %v", r))
		}
	}()

	l.log.Debug("agent run started", "model", l.cfg.Model.ID, "prompts", len(prompts))
	l.emit(AgentStart{})
	l.emit(TurnStart{})
	for _, p := range prompts {
		l.addMessage(p)
	}

	if err := l.turns(ctx, skipInitialSteering); err != nil {
		l.fail(ctx, err)
		return
	}
	l.log.Debug("agent run finished", "messages", len(l.newMessages))
	l.emit(AgentEnd{Messages: l.newMessages})
}

// turns drives AwaitingModel, ExecutingTools and CheckingQueues until the
// model stops and no queued input remains.
func (l *loop) turns(ctx context.Context, skipInitialSteering bool) error {
	var pending []llm.Message
	if !skipInitialSteering {
		pending = l.steering(ctx)
	}
	first := true

	for {
		more := true
		for more || len(pending) > 0 {
			if !first {
				l.emit(TurnStart{})
			}
			first = false

			for _, m := range pending {
				l.addMessage(m)
			}
			pending = nil

			msg, err := l.streamAssistant(ctx)
			if err != nil {
				return err
			}
			l.newMessages = append(l.newMessages, msg)
			if msg.StopReason == llm.StopError || msg.StopReason == llm.StopAborted {
				l.emit(TurnEnd{Message: msg})
				return nil
			}

			calls := msg.ToolCalls()
			more = len(calls) > 0
			var results []*llm.ToolResultMessage
			var steered []llm.Message
			if more {
				results, steered = l.executeToolCalls(ctx, calls)
			}
			l.emit(TurnEnd{Message: msg, ToolResults: results})

			if len(steered) > 0 {
				pending = steered
			} else {
				pending = l.steering(ctx)
			}
			if more && DetectLoop(l.current.Messages, l.cfg.LoopDetectionWindow) {
				l.log.Warn("tool call loop detected", "window", l.cfg.LoopDetectionWindow)
				pending = append(pending, loopWarning(l.cfg.LoopDetectionWindow))
			}
		}

		if pending = l.followUps(ctx); len(pending) == 0 {
			return nil
		}
	}
}

// steering and followUps poll the queues. A cancelled run takes nothing so
// that messages queued after an abort stay for the next run.
func (l *loop) steering(ctx context.Context) []llm.Message {
	if l.cfg.GetSteeringMessages == nil || ctx.Err() != nil {
		return nil
	}
	return l.cfg.GetSteeringMessages()
}

func (l *loop) followUps(ctx context.Context) []llm.Message {
	if l.cfg.GetFollowUpMessages == nil || ctx.Err() != nil {
		return nil
	}
	return l.cfg.GetFollowUpMessages()
}

// addMessage records a complete non-streamed message.
func (l *loop) addMessage(m llm.Message) {
	l.current.Messages = append(l.current.Messages, m)
	l.newMessages = append(l.newMessages, m)
	l.emit(MessageStart{Message: m})
	l.emit(MessageEnd{Message: m})
}

// streamAssistant runs one model call, mirroring its progress into the
// working history. The returned message is already part of l.current.
func (l *loop) streamAssistant(ctx context.Context) (*llm.AssistantMessage, error) {
	messages := l.current.Messages
	if l.cfg.TransformContext != nil {
		var err error
		if messages, err = l.cfg.TransformContext(ctx, messages); err != nil {
			return nil, fmt.Errorf("transform context: %w", err)
		}
	}

	opts := &llm.StreamOptions{
		Reasoning:      l.cfg.Reasoning,
		SessionID:      l.cfg.SessionID,
		MaxTokens:      l.cfg.MaxTokens,
		Temperature:    l.cfg.Temperature,
		CacheRetention: l.cfg.CacheRetention,
		Logger:         l.log,
	}
	if l.cfg.GetAPIKey != nil {
		key, err := l.cfg.GetAPIKey(ctx, l.cfg.Model.Provider)
		if err != nil {
			return nil, fmt.Errorf("resolve api key for %s: %w", l.cfg.Model.Provider, err)
		}
		opts.APIKey = key
	}

	llmCtx := llm.Context{
		SystemPrompt: l.current.SystemPrompt,
		Messages:     l.cfg.ConvertToLLM(messages),
		Tools:        toolDefinitions(l.current.Tools),
	}
	stream := l.cfg.Streamer.Stream(ctx, l.cfg.Model, llmCtx, opts)

	slot := -1
	var partial *llm.AssistantMessage
	begin := func(msg *llm.AssistantMessage) {
		slot = len(l.current.Messages)
		l.current.Messages = append(l.current.Messages, msg)
		l.emit(MessageStart{Message: msg})
	}

	for ev := range stream.All(ctx) {
		switch ev.(type) {
		case llm.StartEvent:
			partial = ev.PartialMessage()
			begin(partial)
		case llm.DoneEvent, llm.ErrorEvent:
			return l.endAssistant(slot, ev.PartialMessage()), nil
		default:
			partial = ev.PartialMessage()
			if slot < 0 {
				begin(partial)
			} else {
				l.current.Messages[slot] = partial
			}
			l.emit(MessageUpdate{Message: partial, Event: ev})
		}
	}

	// The stream ended without a terminal event: the run was cancelled.
	stream.Cancel()
	msg := &llm.AssistantMessage{
		Content:   []llm.Content{},
		API:       l.cfg.Model.API,
		Provider:  l.cfg.Model.Provider,
		Model:     l.cfg.Model.ID,
		Timestamp: time.Now(),
	}
	if partial != nil {
		msg = partial.Clone()
	}
	msg.StopReason = llm.StopAborted
	msg.ErrorMessage = "request was aborted"
	return l.endAssistant(slot, msg), nil
}

func (l *loop) endAssistant(slot int, msg *llm.AssistantMessage) *llm.AssistantMessage {
	if slot < 0 {
		l.current.Messages = append(l.current.Messages, msg)
		l.emit(MessageStart{Message: msg})
	} else {
		l.current.Messages[slot] = msg
	}
	l.emit(MessageEnd{Message: msg})
	return msg
}

// executeToolCalls runs calls in order. When steering arrives after a call,
// the remaining calls are skipped and the steering messages are returned.
func (l *loop) executeToolCalls(ctx context.Context, calls []*llm.ToolCall) ([]*llm.ToolResultMessage, []llm.Message) {
	results := make([]*llm.ToolResultMessage, 0, len(calls))
	for i, call := range calls {
		res := l.executeToolCall(ctx, call)
		results = append(results, res)
		l.addMessage(res)

		if steering := l.steering(ctx); len(steering) > 0 {
			for _, skipped := range calls[i+1:] {
				res := l.skipToolCall(skipped)
				results = append(results, res)
				l.addMessage(res)
			}
			return results, steering
		}
	}
	return results, nil
}

func (l *loop) executeToolCall(ctx context.Context, call *llm.ToolCall) *llm.ToolResultMessage {
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	l.emit(ToolExecutionStart{ToolCallID: call.ID, ToolName: call.Name, Args: args})
	result, isError := l.runTool(ctx, call, args)
	l.emit(ToolExecutionEnd{ToolCallID: call.ID, ToolName: call.Name, Result: result, IsError: isError})
	return toolResultMessage(call, result, isError)
}

func (l *loop) skipToolCall(call *llm.ToolCall) *llm.ToolResultMessage {
	result := TextResult(skippedToolResult)
	l.emit(ToolExecutionStart{ToolCallID: call.ID, ToolName: call.Name, Args: call.Arguments})
	l.emit(ToolExecutionEnd{ToolCallID: call.ID, ToolName: call.Name, Result: result, IsError: true})
	return toolResultMessage(call, result, true)
}

// runTool executes one call. Lookup failures, returned errors and panics
// all become error results.
func (l *loop) runTool(ctx context.Context, call *llm.ToolCall, args map[string]any) (result ToolResult, isError bool) {
	tool, ok := findTool(l.current.Tools, call.Name)
	if !ok || tool.Execute == nil {
		return TextResult(fmt.Sprintf("Tool %s not found", call.Name)), true
	}
	if ctx.Err() != nil {
		return TextResult("Tool execution aborted."), true
	}

	var mu sync.Mutex
	finished := false
	onUpdate := func(partial ToolResult) {
		mu.Lock()
		defer mu.Unlock()
		if finished {
			return
		}
		l.emit(ToolExecutionUpdate{ToolCallID: call.ID, ToolName: call.Name, Args: args, PartialResult: partial})
	}
	defer func() {
		mu.Lock()
		finished = true
		mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			l.log.Warn("tool panicked", "tool", call.Name, "tool_call_id", call.ID, "panic", r)
			result, isError = TextResult(fmt.Sprintf("Tool %s panicked: %v", call.Name, r)), true
		}
	}()

	res, err := tool.Execute(ctx, call.ID, args, onUpdate)
	if err != nil {
		l.log.Debug("tool failed", "tool", call.Name, "tool_call_id", call.ID, "error", err)
		return TextResult(err.Error()), true
	}
	return res, false
}

func toolResultMessage(call *llm.ToolCall, result ToolResult, isError bool) *llm.ToolResultMessage {
	return &llm.ToolResultMessage{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    result.Content,
		Details:    result.Details,
		IsError:    isError,
		Timestamp:  time.Now(),
	}
}

// fail ends the run after an error escaped the turn loop. The error is
// recorded as an assistant message so it persists like any other turn.
func (l *loop) fail(ctx context.Context, err error) {
	reason := llm.StopError
	text := err.Error()
	if ctx.Err() != nil {
		reason = llm.StopAborted
		text = "request was aborted"
	}
	msg := &llm.AssistantMessage{
		Content:      []llm.Content{},
		API:          l.cfg.Model.API,
		Provider:     l.cfg.Model.Provider,
		Model:        l.cfg.Model.ID,
		StopReason:   reason,
		ErrorMessage: text,
		Timestamp:    time.Now(),
	}
	l.current.Messages = append(l.current.Messages, msg)
	l.newMessages = append(l.newMessages, msg)
	l.emit(MessageStart{Message: msg})
	l.emit(MessageEnd{Message: msg})
	l.emit(TurnEnd{Message: msg})
	l.emit(AgentEnd{Messages: l.newMessages})
}
