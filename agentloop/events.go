package agentloop

import "github.com/martinemde/harness/llm"

// EventKind identifies the type of agent event.
type EventKind string

const (
	EventAgentStart          EventKind = "agent_start"
	EventAgentEnd            EventKind = "agent_end"
	EventTurnStart           EventKind = "turn_start"
	EventTurnEnd             EventKind = "turn_end"
	EventMessageStart        EventKind = "message_start"
	EventMessageUpdate       EventKind = "message_update"
	EventMessageEnd          EventKind = "message_end"
	EventToolExecutionStart  EventKind = "tool_execution_start"
	EventToolExecutionUpdate EventKind = "tool_execution_update"
	EventToolExecutionEnd    EventKind = "tool_execution_end"
)

// AgentEvent is a typed event published during a run.
type AgentEvent interface {
	Kind() EventKind
	isAgentEvent()
}

// AgentStart is always the first event of a run.
type AgentStart struct{}

// AgentEnd is always the last event of a run. Messages holds every message
// the run added to the history; it is empty after Abort.
type AgentEnd struct {
	Messages []llm.Message
}

// TurnStart opens a turn: one model call plus its tool executions.
type TurnStart struct{}

// TurnEnd closes a turn.
type TurnEnd struct {
	Message     *llm.AssistantMessage
	ToolResults []*llm.ToolResultMessage
}

// MessageStart announces a message entering the history. For assistant
// messages Message is the first partial snapshot.
type MessageStart struct {
	Message llm.Message
}

// MessageUpdate carries streaming progress of the assistant message.
type MessageUpdate struct {
	Message *llm.AssistantMessage
	Event   llm.AssistantEvent
}

// MessageEnd carries the final form of a message.
type MessageEnd struct {
	Message llm.Message
}

// ToolExecutionStart is published before a tool runs.
type ToolExecutionStart struct {
	ToolCallID string
	ToolName   string
	Args       map[string]any
}

// ToolExecutionUpdate carries a partial result reported by a running tool.
type ToolExecutionUpdate struct {
	ToolCallID    string
	ToolName      string
	Args          map[string]any
	PartialResult ToolResult
}

// ToolExecutionEnd is published after a tool finished, failed or was skipped.
type ToolExecutionEnd struct {
	ToolCallID string
	ToolName   string
	Result     ToolResult
	IsError    bool
}

func (AgentStart) Kind() EventKind          { return EventAgentStart }
func (AgentEnd) Kind() EventKind            { return EventAgentEnd }
func (TurnStart) Kind() EventKind           { return EventTurnStart }
func (TurnEnd) Kind() EventKind             { return EventTurnEnd }
func (MessageStart) Kind() EventKind        { return EventMessageStart }
func (MessageUpdate) Kind() EventKind       { return EventMessageUpdate }
func (MessageEnd) Kind() EventKind          { return EventMessageEnd }
func (ToolExecutionStart) Kind() EventKind  { return EventToolExecutionStart }
func (ToolExecutionUpdate) Kind() EventKind { return EventToolExecutionUpdate }
func (ToolExecutionEnd) Kind() EventKind    { return EventToolExecutionEnd }

func (AgentStart) isAgentEvent()          {}
func (AgentEnd) isAgentEvent()            {}
func (TurnStart) isAgentEvent()           {}
func (TurnEnd) isAgentEvent()             {}
func (MessageStart) isAgentEvent()        {}
func (MessageUpdate) isAgentEvent()       {}
func (MessageEnd) isAgentEvent()          {}
func (ToolExecutionStart) isAgentEvent()  {}
func (ToolExecutionUpdate) isAgentEvent() {}
func (ToolExecutionEnd) isAgentEvent()    {}

// AgentEventStream is the event log of one run. It completes on AgentEnd
// and resolves to the messages the run added.
type AgentEventStream = llm.EventStream[AgentEvent, []llm.Message]

// NewAgentEventStream creates an empty run stream.
func NewAgentEventStream() *AgentEventStream {
	return llm.NewEventStream(
		func(e AgentEvent) bool {
			_, end := e.(AgentEnd)
			return end
		},
		func(e AgentEvent) []llm.Message {
			return e.(AgentEnd).Messages
		},
	)
}
