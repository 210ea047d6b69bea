package llm

// AssistantEventType identifies a canonical streaming event.
type AssistantEventType string

const (
	EventStart         AssistantEventType = "start"
	EventTextStart     AssistantEventType = "text_start"
	EventTextDelta     AssistantEventType = "text_delta"
	EventTextEnd       AssistantEventType = "text_end"
	EventThinkingStart AssistantEventType = "thinking_start"
	EventThinkingDelta AssistantEventType = "thinking_delta"
	EventThinkingEnd   AssistantEventType = "thinking_end"
	EventToolCallStart AssistantEventType = "toolcall_start"
	EventToolCallDelta AssistantEventType = "toolcall_delta"
	EventToolCallEnd   AssistantEventType = "toolcall_end"
	EventDone          AssistantEventType = "done"
	EventError         AssistantEventType = "error"
)

// AssistantEvent is a provider-agnostic progress event. Every variant
// carries a snapshot of the message built so far.
type AssistantEvent interface {
	EventType() AssistantEventType
	PartialMessage() *AssistantMessage
	isAssistantEvent()
}

// StartEvent opens a response.
type StartEvent struct {
	Partial *AssistantMessage
}

// TextStartEvent opens a text block at ContentIndex.
type TextStartEvent struct {
	ContentIndex int
	Partial      *AssistantMessage
}

// TextDeltaEvent appends Delta to the text block at ContentIndex.
type TextDeltaEvent struct {
	ContentIndex int
	Delta        string
	Partial      *AssistantMessage
}

// TextEndEvent finalizes the text block at ContentIndex.
type TextEndEvent struct {
	ContentIndex int
	Content      string
	Partial      *AssistantMessage
}

// ThinkingStartEvent opens a reasoning block.
type ThinkingStartEvent struct {
	ContentIndex int
	Partial      *AssistantMessage
}

// ThinkingDeltaEvent appends reasoning text.
type ThinkingDeltaEvent struct {
	ContentIndex int
	Delta        string
	Partial      *AssistantMessage
}

// ThinkingEndEvent finalizes a reasoning block.
type ThinkingEndEvent struct {
	ContentIndex int
	Content      string
	Partial      *AssistantMessage
}

// ToolCallStartEvent opens a tool call block.
type ToolCallStartEvent struct {
	ContentIndex int
	ID           string
	Name         string
	Partial      *AssistantMessage
}

// ToolCallDeltaEvent carries a raw argument fragment.
type ToolCallDeltaEvent struct {
	ContentIndex int
	Delta        string
	Partial      *AssistantMessage
}

// ToolCallEndEvent carries the finalized tool call with parsed arguments.
type ToolCallEndEvent struct {
	ContentIndex int
	ToolCall     *ToolCall
	Partial      *AssistantMessage
}

// DoneEvent terminates a successful response.
type DoneEvent struct {
	Reason  StopReason
	Message *AssistantMessage
}

// ErrorEvent terminates a failed or aborted response. Message.ErrorMessage
// holds the human-readable cause; Err the typed error, when known.
type ErrorEvent struct {
	Reason  StopReason
	Message *AssistantMessage
	Err     error
}

func (StartEvent) EventType() AssistantEventType         { return EventStart }
func (TextStartEvent) EventType() AssistantEventType     { return EventTextStart }
func (TextDeltaEvent) EventType() AssistantEventType     { return EventTextDelta }
func (TextEndEvent) EventType() AssistantEventType       { return EventTextEnd }
func (ThinkingStartEvent) EventType() AssistantEventType { return EventThinkingStart }
func (ThinkingDeltaEvent) EventType() AssistantEventType { return EventThinkingDelta }
func (ThinkingEndEvent) EventType() AssistantEventType   { return EventThinkingEnd }
func (ToolCallStartEvent) EventType() AssistantEventType { return EventToolCallStart }
func (ToolCallDeltaEvent) EventType() AssistantEventType { return EventToolCallDelta }
func (ToolCallEndEvent) EventType() AssistantEventType   { return EventToolCallEnd }
func (DoneEvent) EventType() AssistantEventType          { return EventDone }
func (ErrorEvent) EventType() AssistantEventType         { return EventError }

func (e StartEvent) PartialMessage() *AssistantMessage         { return e.Partial }
func (e TextStartEvent) PartialMessage() *AssistantMessage     { return e.Partial }
func (e TextDeltaEvent) PartialMessage() *AssistantMessage     { return e.Partial }
func (e TextEndEvent) PartialMessage() *AssistantMessage       { return e.Partial }
func (e ThinkingStartEvent) PartialMessage() *AssistantMessage { return e.Partial }
func (e ThinkingDeltaEvent) PartialMessage() *AssistantMessage { return e.Partial }
func (e ThinkingEndEvent) PartialMessage() *AssistantMessage   { return e.Partial }
func (e ToolCallStartEvent) PartialMessage() *AssistantMessage { return e.Partial }
func (e ToolCallDeltaEvent) PartialMessage() *AssistantMessage { return e.Partial }
func (e ToolCallEndEvent) PartialMessage() *AssistantMessage   { return e.Partial }
func (e DoneEvent) PartialMessage() *AssistantMessage          { return e.Message }
func (e ErrorEvent) PartialMessage() *AssistantMessage         { return e.Message }

func (StartEvent) isAssistantEvent()         {}
func (TextStartEvent) isAssistantEvent()     {}
func (TextDeltaEvent) isAssistantEvent()     {}
func (TextEndEvent) isAssistantEvent()       {}
func (ThinkingStartEvent) isAssistantEvent() {}
func (ThinkingDeltaEvent) isAssistantEvent() {}
func (ThinkingEndEvent) isAssistantEvent()   {}
func (ToolCallStartEvent) isAssistantEvent() {}
func (ToolCallDeltaEvent) isAssistantEvent() {}
func (ToolCallEndEvent) isAssistantEvent()   {}
func (DoneEvent) isAssistantEvent()          {}
func (ErrorEvent) isAssistantEvent()         {}

// AssistantEventStream is the stream every APIProvider returns. It completes
// on DoneEvent or ErrorEvent and resolves to the final message.
type AssistantEventStream = EventStream[AssistantEvent, *AssistantMessage]

// NewAssistantEventStream creates an empty provider output stream.
func NewAssistantEventStream() *AssistantEventStream {
	return NewEventStream(
		func(e AssistantEvent) bool {
			switch e.(type) {
			case DoneEvent, ErrorEvent:
				return true
			}
			return false
		},
		func(e AssistantEvent) *AssistantMessage {
			return e.PartialMessage()
		},
	)
}
