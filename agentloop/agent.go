package agentloop

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/martinemde/harness/llm"
)

// AgentOptions configures an Agent.
type AgentOptions struct {
	InitialState     *AgentState
	Streamer         llm.Streamer // defaults to llm.NewDefaultRegistry()
	ConvertToLLM     func(messages []llm.Message) []llm.Message
	TransformContext func(ctx context.Context, messages []llm.Message) ([]llm.Message, error)
	SteeringMode     QueueMode
	FollowUpMode     QueueMode
	SessionID        string // defaults to a random UUID
	GetAPIKey        func(ctx context.Context, provider string) (string, error)
	MaxTokens        int
	Temperature      *float64
	CacheRetention   llm.CacheRetention
	// LoopDetectionWindow enables repeated tool call detection; see
	// LoopConfig.
	LoopDetectionWindow int
	Logger              *slog.Logger
}

// agentRun is one in-flight run. A run is current while a.run points at it.
type agentRun struct {
	cancel context.CancelFunc
	stream *AgentEventStream
	done   chan struct{}
}

// Agent runs the turn loop one prompt at a time and keeps the resulting
// state. Subscribers see every event after the Agent has applied it.
type Agent struct {
	id               string
	streamer         llm.Streamer
	convertToLLM     func([]llm.Message) []llm.Message
	transformContext func(context.Context, []llm.Message) ([]llm.Message, error)
	getAPIKey        func(context.Context, string) (string, error)
	maxTokens        int
	temperature      *float64
	cacheRetention   llm.CacheRetention
	loopWindow       int
	log              *slog.Logger

	steering *messageQueue
	followUp *messageQueue

	mu        sync.Mutex // guards state, listeners, run and lastDone
	state     AgentState
	listeners map[int]func(AgentEvent)
	nextID    int
	run       *agentRun
	lastDone  chan struct{}

	outMu    sync.Mutex // guards outbox and draining; taken before mu
	outbox   []AgentEvent
	draining bool
}

// NewAgent creates an idle Agent.
func NewAgent(opts AgentOptions) *Agent {
	a := &Agent{
		id:               opts.SessionID,
		streamer:         opts.Streamer,
		convertToLLM:     opts.ConvertToLLM,
		transformContext: opts.TransformContext,
		getAPIKey:        opts.GetAPIKey,
		maxTokens:        opts.MaxTokens,
		temperature:      opts.Temperature,
		cacheRetention:   opts.CacheRetention,
		loopWindow:       opts.LoopDetectionWindow,
		log:              opts.Logger,
		steering:         newMessageQueue(opts.SteeringMode),
		followUp:         newMessageQueue(opts.FollowUpMode),
		listeners:        make(map[int]func(AgentEvent)),
	}
	if a.id == "" {
		a.id = uuid.New().String()
	}
	if a.streamer == nil {
		a.streamer = llm.NewDefaultRegistry()
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if opts.InitialState != nil {
		a.state = opts.InitialState.clone()
	}
	if a.state.ThinkingLevel == "" {
		a.state.ThinkingLevel = llm.ThinkingOff
	}
	a.state.PendingToolCalls = map[string]struct{}{}
	a.state.IsStreaming = false
	a.state.StreamMessage = nil
	return a
}

// ID returns the session identifier sent to providers for cache affinity.
func (a *Agent) ID() string { return a.id }

// Subscribe registers fn for every published event and returns a function
// that removes it. Listeners are called one at a time in publish order.
func (a *Agent) Subscribe(fn func(AgentEvent)) (unsubscribe func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

// State returns a snapshot of the agent state.
func (a *Agent) State() AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.clone()
}

// SetSystemPrompt sets the system prompt used from the next run.
func (a *Agent) SetSystemPrompt(prompt string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.SystemPrompt = prompt
}

// SetModel sets the model used from the next run.
func (a *Agent) SetModel(model llm.Model) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Model = model
}

// SetThinkingLevel sets the reasoning level used from the next run.
func (a *Agent) SetThinkingLevel(level llm.ThinkingLevel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.ThinkingLevel = level
}

// SetTools replaces the tools offered to the model.
func (a *Agent) SetTools(tools []AgentTool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Tools = slices.Clone(tools)
}

// SetSteeringMode sets how many steering messages each queue check takes.
func (a *Agent) SetSteeringMode(mode QueueMode) { a.steering.setMode(mode) }

// SteeringMode returns the steering queue mode.
func (a *Agent) SteeringMode() QueueMode { return a.steering.getMode() }

// SetFollowUpMode sets how many follow-up messages each queue check takes.
func (a *Agent) SetFollowUpMode(mode QueueMode) { a.followUp.setMode(mode) }

// FollowUpMode returns the follow-up queue mode.
func (a *Agent) FollowUpMode() QueueMode { return a.followUp.getMode() }

// ReplaceMessages swaps the history.
func (a *Agent) ReplaceMessages(messages []llm.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Messages = slices.Clone(messages)
}

// AppendMessage adds m to the end of the history.
func (a *Agent) AppendMessage(m llm.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Messages = append(a.state.Messages, m)
}

// ClearMessages empties the history.
func (a *Agent) ClearMessages() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Messages = nil
}

// Steer queues a message delivered at the next queue check of the running
// loop: before the next turn or after the current tool call.
func (a *Agent) Steer(m llm.Message) { a.steering.push(m) }

// FollowUp queues a message delivered once the agent would otherwise stop.
func (a *Agent) FollowUp(m llm.Message) { a.followUp.push(m) }

// ClearSteeringQueue drops queued steering messages.
func (a *Agent) ClearSteeringQueue() { a.steering.clear() }

// ClearFollowUpQueue drops queued follow-up messages.
func (a *Agent) ClearFollowUpQueue() { a.followUp.clear() }

// ClearAllQueues drops every queued message.
func (a *Agent) ClearAllQueues() {
	a.steering.clear()
	a.followUp.clear()
}

// HasQueuedMessages reports whether either queue holds messages.
func (a *Agent) HasQueuedMessages() bool {
	return a.steering.len() > 0 || a.followUp.len() > 0
}

// Prompt starts a run with a user message built from text and images. It
// returns once the run has started; use WaitForIdle to wait for the end.
// The run is bound to ctx.
func (a *Agent) Prompt(ctx context.Context, text string, images ...*llm.ImageContent) error {
	return a.PromptMessages(ctx, llm.NewUserMessage(text, images...))
}

// PromptMessages starts a run with the given messages as input.
func (a *Agent) PromptMessages(ctx context.Context, messages ...llm.Message) error {
	return a.start(ctx, messages, false, false)
}

// Continue resumes from the current history. When the last message is an
// assistant message, queued steering (or else follow-up) messages become the
// input; with neither, Continue fails with ErrInvalidContinue.
func (a *Agent) Continue(ctx context.Context) error {
	a.mu.Lock()
	if a.run != nil {
		a.mu.Unlock()
		return ErrAlreadyStreaming
	}
	messages := a.state.Messages
	hasModel := a.state.Model.ID != ""
	a.mu.Unlock()

	if !hasModel {
		return ErrNoModel
	}
	if len(messages) == 0 {
		return ErrNoMessages
	}
	if _, ok := messages[len(messages)-1].(*llm.AssistantMessage); !ok {
		return a.start(ctx, nil, true, false)
	}
	if queued := a.steering.drain(); len(queued) > 0 {
		return a.startQueued(ctx, a.steering, queued, true)
	}
	if queued := a.followUp.drain(); len(queued) > 0 {
		return a.startQueued(ctx, a.followUp, queued, false)
	}
	return ErrInvalidContinue
}

// startQueued starts a run from messages drained off q, returning them to q
// if the run cannot start.
func (a *Agent) startQueued(ctx context.Context, q *messageQueue, queued []llm.Message, skipInitialSteering bool) error {
	if err := a.start(ctx, queued, false, skipInitialSteering); err != nil {
		q.requeue(queued)
		return err
	}
	return nil
}

func (a *Agent) start(ctx context.Context, prompts []llm.Message, resume, skipInitialSteering bool) error {
	a.mu.Lock()
	if a.run != nil {
		a.mu.Unlock()
		return ErrAlreadyStreaming
	}
	if a.state.Model.ID == "" {
		a.mu.Unlock()
		return ErrNoModel
	}

	runCtx, cancel := context.WithCancel(ctx)
	actx := AgentContext{
		SystemPrompt: a.state.SystemPrompt,
		Messages:     slices.Clone(a.state.Messages),
		Tools:        slices.Clone(a.state.Tools),
	}
	cfg := LoopConfig{
		Model:               a.state.Model,
		Reasoning:           a.state.ThinkingLevel,
		SessionID:           a.id,
		MaxTokens:           a.maxTokens,
		Temperature:         a.temperature,
		CacheRetention:      a.cacheRetention,
		Streamer:            a.streamer,
		GetAPIKey:           a.getAPIKey,
		ConvertToLLM:        a.convertToLLM,
		TransformContext:    a.transformContext,
		GetSteeringMessages: a.runQueue(runCtx, a.steering),
		GetFollowUpMessages: a.runQueue(runCtx, a.followUp),
		LoopDetectionWindow: a.loopWindow,
		Logger:              a.log,
	}

	var stream *AgentEventStream
	if resume {
		var err error
		if stream, err = RunLoopContinue(runCtx, actx, cfg); err != nil {
			a.mu.Unlock()
			cancel()
			return err
		}
	} else {
		stream = startLoop(runCtx, prompts, actx, cfg, skipInitialSteering)
	}

	run := &agentRun{cancel: cancel, stream: stream, done: make(chan struct{})}
	a.run = run
	a.lastDone = run.done
	a.state.IsStreaming = true
	a.state.StreamMessage = nil
	a.state.Error = ""
	a.mu.Unlock()

	go a.consume(run)
	return nil
}

// runQueue drains q for the run bound to ctx. Once the run is cancelled it
// returns nothing, leaving the queue to whichever run starts next. Abort
// cancels under a.mu, so a drain never races an abort.
func (a *Agent) runQueue(ctx context.Context, q *messageQueue) func() []llm.Message {
	return func() []llm.Message {
		a.mu.Lock()
		defer a.mu.Unlock()
		if ctx.Err() != nil {
			return nil
		}
		return q.drain()
	}
}

// consume applies and publishes the events of run until it ends or is
// aborted.
func (a *Agent) consume(run *agentRun) {
	defer close(run.done)
	defer run.cancel()
	for ev := range run.stream.All(context.Background()) {
		a.publish(run, ev)
	}
}

// publish applies ev to the state and queues it for listeners. Events from a
// run that is no longer current are dropped.
func (a *Agent) publish(run *agentRun, ev AgentEvent) {
	a.outMu.Lock()
	a.mu.Lock()
	if a.run != run {
		a.mu.Unlock()
		a.outMu.Unlock()
		return
	}
	a.apply(ev)
	a.mu.Unlock()
	a.outbox = append(a.outbox, ev)
	a.outMu.Unlock()
	a.drain()
}

// apply updates the state for ev. Caller holds a.mu.
func (a *Agent) apply(ev AgentEvent) {
	switch e := ev.(type) {
	case MessageStart:
		if msg, ok := e.Message.(*llm.AssistantMessage); ok {
			a.state.StreamMessage = msg
		}
	case MessageUpdate:
		a.state.StreamMessage = e.Message
	case MessageEnd:
		a.state.StreamMessage = nil
		a.state.Messages = append(a.state.Messages, e.Message)
	case ToolExecutionStart:
		a.state.PendingToolCalls[e.ToolCallID] = struct{}{}
	case ToolExecutionEnd:
		delete(a.state.PendingToolCalls, e.ToolCallID)
	case TurnEnd:
		if e.Message != nil && e.Message.StopReason == llm.StopError {
			a.state.Error = e.Message.ErrorMessage
		}
	case AgentEnd:
		a.state.IsStreaming = false
		a.state.StreamMessage = nil
		a.run = nil
	}
}

// drain delivers queued events. Only one goroutine drains at a time; a
// listener that publishes (e.g. by calling Abort) has its event delivered
// after it returns.
func (a *Agent) drain() {
	a.outMu.Lock()
	if a.draining {
		a.outMu.Unlock()
		return
	}
	a.draining = true
	for len(a.outbox) > 0 {
		ev := a.outbox[0]
		a.outbox = a.outbox[1:]
		a.outMu.Unlock()

		a.mu.Lock()
		listeners := make([]func(AgentEvent), 0, len(a.listeners))
		for id := 0; id < a.nextID; id++ {
			if fn, ok := a.listeners[id]; ok {
				listeners = append(listeners, fn)
			}
		}
		a.mu.Unlock()
		for _, fn := range listeners {
			fn(ev)
		}

		a.outMu.Lock()
	}
	a.draining = false
	a.outMu.Unlock()
}

// Abort stops the current run. It cancels network and tool work, clears
// both queues and publishes a single AgentEnd with no messages. It does not
// wait for the run to unwind and is a no-op when idle.
func (a *Agent) Abort() {
	a.outMu.Lock()
	a.mu.Lock()
	run := a.run
	if run == nil {
		a.mu.Unlock()
		a.outMu.Unlock()
		return
	}
	a.run = nil
	a.state.IsStreaming = false
	a.state.StreamMessage = nil
	clear(a.state.PendingToolCalls)
	run.cancel()
	a.mu.Unlock()
	a.outbox = append(a.outbox, AgentEnd{Messages: []llm.Message{}})
	a.outMu.Unlock()

	a.log.Debug("agent run aborted", "session_id", a.id)
	run.stream.Cancel()
	a.ClearAllQueues()
	a.drain()
}

// WaitForIdle blocks until the most recent run's worker has finished or ctx
// ends.
func (a *Agent) WaitForIdle(ctx context.Context) error {
	a.mu.Lock()
	done := a.lastDone
	a.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset aborts any run and clears history, queues and errors.
func (a *Agent) Reset() {
	a.Abort()
	a.ClearAllQueues()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Messages = nil
	a.state.Error = ""
	a.state.StreamMessage = nil
	clear(a.state.PendingToolCalls)
}
