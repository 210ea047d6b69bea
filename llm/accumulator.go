package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type blockSlot struct {
	kind      ContentType
	text      strings.Builder // text, thinking, or raw tool arguments
	signature string
	redacted  bool
	id        string
	name      string
	finalized bool
}

// Accumulator folds one turn's provider deltas into a canonical assistant
// message and pushes the matching canonical events to its stream.
//
// Blocks are opened in the order their start is observed; that order is the
// order of the final content list, whatever order their content arrives in.
// The content index carried by events is the block's start position.
type Accumulator struct {
	model        Model
	out          *AssistantEventStream
	slots        []*blockSlot
	usage        Usage
	stopReason   StopReason
	errorMessage string
	timestamp    time.Time
	started      bool
	finished     bool
}

// NewAccumulator creates the per-turn builder for model, publishing to out.
func NewAccumulator(model Model, out *AssistantEventStream) *Accumulator {
	return &Accumulator{
		model:      model,
		out:        out,
		stopReason: StopInProgress,
		timestamp:  time.Now(),
	}
}

// Begin publishes the StartEvent. It is idempotent.
func (a *Accumulator) Begin() {
	if a.started {
		return
	}
	a.started = true
	a.out.Push(StartEvent{Partial: a.BuildPartial()})
}

// StartBlock opens a text or thinking block and returns its content index.
func (a *Accumulator) StartBlock(kind ContentType) int {
	a.Begin()
	idx := len(a.slots)
	a.slots = append(a.slots, &blockSlot{kind: kind})
	switch kind {
	case ContentThinking:
		a.out.Push(ThinkingStartEvent{ContentIndex: idx, Partial: a.BuildPartial()})
	default:
		a.out.Push(TextStartEvent{ContentIndex: idx, Partial: a.BuildPartial()})
	}
	return idx
}

// StartToolCall opens a tool call block and returns its content index.
func (a *Accumulator) StartToolCall(id, name string) int {
	a.Begin()
	idx := len(a.slots)
	a.slots = append(a.slots, &blockSlot{kind: ContentToolCall, id: id, name: name})
	a.out.Push(ToolCallStartEvent{ContentIndex: idx, ID: id, Name: name, Partial: a.BuildPartial()})
	return idx
}

func (a *Accumulator) open(idx int) *blockSlot {
	if idx < 0 || idx >= len(a.slots) || a.slots[idx].finalized {
		return nil
	}
	return a.slots[idx]
}

// Delta appends a raw fragment to the open block at idx. Deltas for unknown
// or finalized blocks are ignored.
func (a *Accumulator) Delta(idx int, delta string) {
	slot := a.open(idx)
	if slot == nil || delta == "" {
		return
	}
	slot.text.WriteString(delta)
	switch slot.kind {
	case ContentText:
		a.out.Push(TextDeltaEvent{ContentIndex: idx, Delta: delta, Partial: a.BuildPartial()})
	case ContentThinking:
		a.out.Push(ThinkingDeltaEvent{ContentIndex: idx, Delta: delta, Partial: a.BuildPartial()})
	case ContentToolCall:
		a.out.Push(ToolCallDeltaEvent{ContentIndex: idx, Delta: delta, Partial: a.BuildPartial()})
	}
}

// SetSignature records the provider signature of the block at idx: the
// thinking signature, the text signature, or the tool call's thought
// signature depending on the block kind.
func (a *Accumulator) SetSignature(idx int, signature string) {
	if slot := a.open(idx); slot != nil {
		slot.signature = signature
	}
}

// AppendSignature extends a signature that streams in pieces.
func (a *Accumulator) AppendSignature(idx int, fragment string) {
	if slot := a.open(idx); slot != nil {
		slot.signature += fragment
	}
}

// SetRedacted marks a thinking block as redacted.
func (a *Accumulator) SetRedacted(idx int) {
	if slot := a.open(idx); slot != nil {
		slot.redacted = true
	}
}

// SetToolIdentity fills in a tool call's id or name when they arrive after
// the block was opened. Empty values leave the current ones unchanged.
func (a *Accumulator) SetToolIdentity(idx int, id, name string) {
	slot := a.open(idx)
	if slot == nil {
		return
	}
	if id != "" {
		slot.id = id
	}
	if name != "" {
		slot.name = name
	}
}

// ReplaceArgs discards streamed argument fragments in favour of the
// provider's final argument text.
func (a *Accumulator) ReplaceArgs(idx int, raw string) {
	slot := a.open(idx)
	if slot == nil || slot.kind != ContentToolCall {
		return
	}
	slot.text.Reset()
	slot.text.WriteString(raw)
}

// Current returns the text accumulated so far in block idx.
func (a *Accumulator) Current(idx int) string {
	if idx < 0 || idx >= len(a.slots) {
		return ""
	}
	return a.slots[idx].text.String()
}

// IsOpen reports whether block idx exists and is not yet finalized.
func (a *Accumulator) IsOpen(idx int) bool {
	return a.open(idx) != nil
}

// Finalize closes block idx and publishes its end event. Finalizing twice is
// a no-op.
func (a *Accumulator) Finalize(idx int) {
	slot := a.open(idx)
	if slot == nil {
		return
	}
	slot.finalized = true
	switch block := slot.content().(type) {
	case *TextContent:
		a.out.Push(TextEndEvent{ContentIndex: idx, Content: block.Text, Partial: a.BuildPartial()})
	case *ThinkingContent:
		a.out.Push(ThinkingEndEvent{ContentIndex: idx, Content: block.Thinking, Partial: a.BuildPartial()})
	case *ToolCall:
		a.out.Push(ToolCallEndEvent{ContentIndex: idx, ToolCall: block, Partial: a.BuildPartial()})
	}
}

// FinalizeAll closes every open block in start order.
func (a *Accumulator) FinalizeAll() {
	for idx := range a.slots {
		a.Finalize(idx)
	}
}

// HasToolCalls reports whether any tool call block was opened.
func (a *Accumulator) HasToolCalls() bool {
	for _, slot := range a.slots {
		if slot.kind == ContentToolCall {
			return true
		}
	}
	return false
}

// HasFinalizedText reports whether a finalized text block equals text.
func (a *Accumulator) HasFinalizedText(text string) bool {
	for _, slot := range a.slots {
		if slot.finalized && slot.kind == ContentText && slot.text.String() == text {
			return true
		}
	}
	return false
}

// Usage returns the running usage counters for in-place updates.
func (a *Accumulator) Usage() *Usage {
	return &a.usage
}

// SetStopReason records the provider's stop reason.
func (a *Accumulator) SetStopReason(reason StopReason) {
	a.stopReason = reason
}

// SetErrorMessage records a provider-reported failure description.
func (a *Accumulator) SetErrorMessage(msg string) {
	a.errorMessage = msg
}

// StopReason returns the current stop reason.
func (a *Accumulator) StopReason() StopReason {
	return a.stopReason
}

// BuildPartial returns a snapshot of the finalized blocks so far. It does
// not mutate accumulator state.
func (a *Accumulator) BuildPartial() *AssistantMessage {
	msg := a.message()
	for _, slot := range a.slots {
		if slot.finalized {
			msg.Content = append(msg.Content, slot.content())
		}
	}
	return msg
}

func (a *Accumulator) message() *AssistantMessage {
	return &AssistantMessage{
		Content:      []Content{},
		API:          a.model.API,
		Provider:     a.model.Provider,
		Model:        a.model.ID,
		Usage:        a.usage,
		StopReason:   a.stopReason,
		ErrorMessage: a.errorMessage,
		Timestamp:    a.timestamp,
	}
}

func (a *Accumulator) finalMessage() *AssistantMessage {
	if a.usage.TotalTokens == 0 {
		a.usage.TotalTokens = a.usage.Input + a.usage.Output + a.usage.CacheRead + a.usage.CacheWrite
	}
	CalculateCost(a.model, &a.usage)
	return a.BuildPartial()
}

// Done finalizes any open block, resolves the stop reason and publishes the
// DoneEvent. A stop reason still in progress becomes toolUse when the
// response carries tool calls and stop otherwise.
func (a *Accumulator) Done() *AssistantMessage {
	if a.finished {
		return nil
	}
	a.Begin()
	a.FinalizeAll()
	if a.stopReason == StopInProgress {
		a.stopReason = StopNormal
		if a.HasToolCalls() {
			a.stopReason = StopToolUse
		}
	}
	if a.stopReason == StopError || a.stopReason == StopAborted {
		if a.errorMessage == "" {
			a.errorMessage = "model stopped with an error"
		}
		return a.fail(a.stopReason, a.errorMessage, nil)
	}
	a.finished = true
	msg := a.finalMessage()
	a.out.Push(DoneEvent{Reason: a.stopReason, Message: msg})
	return msg
}

// Fail terminates the turn with an ErrorEvent. Content received so far is
// kept. When ctx is cancelled the stop reason is aborted.
func (a *Accumulator) Fail(ctx context.Context, err error) *AssistantMessage {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		abort := &AbortError{SDKError: SDKError{Message: "request was aborted", Cause: err}}
		return a.fail(StopAborted, abort.Message, abort)
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return a.fail(StopError, msg, err)
}

func (a *Accumulator) fail(reason StopReason, message string, err error) *AssistantMessage {
	if a.finished {
		return nil
	}
	a.Begin()
	a.finished = true
	for _, slot := range a.slots {
		slot.finalized = true
	}
	a.stopReason = reason
	a.errorMessage = message
	msg := a.finalMessage()
	a.out.Push(ErrorEvent{Reason: reason, Message: msg, Err: err})
	return msg
}

func (s *blockSlot) content() Content {
	switch s.kind {
	case ContentThinking:
		return &ThinkingContent{Thinking: s.text.String(), ThinkingSignature: s.signature, Redacted: s.redacted}
	case ContentToolCall:
		return &ToolCall{ID: s.id, Name: s.name, Arguments: ParseArguments(s.text.String()), ThoughtSignature: s.signature}
	default:
		return &TextContent{Text: s.text.String(), TextSignature: s.signature}
	}
}

// ParseArguments parses accumulated tool-call argument text. Empty or
// invalid JSON yields an empty object.
func ParseArguments(raw string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || parsed == nil {
		return args
	}
	return parsed
}
