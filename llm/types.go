package llm

import (
	"strings"
	"time"
)

// ContentType is the discriminator for Content variants.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentThinking ContentType = "thinking"
	ContentImage    ContentType = "image"
	ContentToolCall ContentType = "toolCall"
)

// Content is a closed union of content blocks: *TextContent, *ThinkingContent,
// *ImageContent and *ToolCall. Ordering within a message is significant.
type Content interface {
	ContentType() ContentType
	isContent()
}

// TextContent is plain model or user text.
type TextContent struct {
	Text          string `json:"text"`
	TextSignature string `json:"textSignature,omitempty"`
}

// ThinkingContent is model reasoning. ThinkingSignature carries the
// provider's opaque signature or encrypted reasoning item, when any.
type ThinkingContent struct {
	Thinking          string `json:"thinking"`
	ThinkingSignature string `json:"thinkingSignature,omitempty"`
	Redacted          bool   `json:"redacted,omitempty"`
}

// ImageContent holds base64-encoded image data.
type ImageContent struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// ToolCall is a model-initiated tool invocation.
type ToolCall struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Arguments        map[string]any `json:"arguments"`
	ThoughtSignature string         `json:"thoughtSignature,omitempty"`
}

func (*TextContent) ContentType() ContentType     { return ContentText }
func (*ThinkingContent) ContentType() ContentType { return ContentThinking }
func (*ImageContent) ContentType() ContentType    { return ContentImage }
func (*ToolCall) ContentType() ContentType        { return ContentToolCall }

func (*TextContent) isContent()     {}
func (*ThinkingContent) isContent() {}
func (*ImageContent) isContent()    {}
func (*ToolCall) isContent()        {}

// Text creates a text content block.
func Text(text string) *TextContent {
	return &TextContent{Text: text}
}

// Image creates an image content block from base64 data.
func Image(data, mimeType string) *ImageContent {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return &ImageContent{Data: data, MimeType: mimeType}
}

// CloneContent returns a deep copy of a content block.
func CloneContent(c Content) Content {
	switch v := c.(type) {
	case *TextContent:
		cp := *v
		return &cp
	case *ThinkingContent:
		cp := *v
		return &cp
	case *ImageContent:
		cp := *v
		return &cp
	case *ToolCall:
		cp := *v
		cp.Arguments = cloneArgs(v.Arguments)
		return &cp
	}
	return c
}

func cloneContents(in []Content) []Content {
	if in == nil {
		return nil
	}
	out := make([]Content, len(in))
	for i, c := range in {
		out[i] = CloneContent(c)
	}
	return out
}

func cloneArgs(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Role identifies the message variant.
type Role string

const (
	RoleUser              Role = "user"
	RoleAssistant         Role = "assistant"
	RoleToolResult        Role = "toolResult"
	RoleCustom            Role = "custom"
	RoleBranchSummary     Role = "branchSummary"
	RoleCompactionSummary Role = "compactionSummary"
)

// Message is a closed union of conversation messages.
type Message interface {
	Role() Role
	Time() time.Time
	isMessage()
}

// UserMessage is input from the user.
type UserMessage struct {
	Content   []Content `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// AssistantMessage is a (possibly partial) model response.
type AssistantMessage struct {
	Content      []Content  `json:"content"`
	API          string     `json:"api"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	Usage        Usage      `json:"usage"`
	StopReason   StopReason `json:"stopReason"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// ToolResultMessage carries a tool's output back to the model.
type ToolResultMessage struct {
	ToolCallID string    `json:"toolCallId"`
	ToolName   string    `json:"toolName"`
	Content    []Content `json:"content"`
	Details    any       `json:"details,omitempty"`
	IsError    bool      `json:"isError"`
	Timestamp  time.Time `json:"timestamp"`
}

// CustomMessage is an application-defined message. The default converter
// does not send it to the model.
type CustomMessage struct {
	CustomType string    `json:"customType"`
	Content    []Content `json:"content"`
	Display    bool      `json:"display"`
	Details    any       `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// BranchSummaryMessage summarizes an abandoned conversation branch.
type BranchSummaryMessage struct {
	Summary   string    `json:"summary"`
	FromID    string    `json:"fromId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CompactionSummaryMessage replaces compacted history.
type CompactionSummaryMessage struct {
	Summary      string    `json:"summary"`
	TokensBefore int       `json:"tokensBefore,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (*UserMessage) Role() Role              { return RoleUser }
func (*AssistantMessage) Role() Role         { return RoleAssistant }
func (*ToolResultMessage) Role() Role        { return RoleToolResult }
func (*CustomMessage) Role() Role            { return RoleCustom }
func (*BranchSummaryMessage) Role() Role     { return RoleBranchSummary }
func (*CompactionSummaryMessage) Role() Role { return RoleCompactionSummary }

func (m *UserMessage) Time() time.Time              { return m.Timestamp }
func (m *AssistantMessage) Time() time.Time         { return m.Timestamp }
func (m *ToolResultMessage) Time() time.Time        { return m.Timestamp }
func (m *CustomMessage) Time() time.Time            { return m.Timestamp }
func (m *BranchSummaryMessage) Time() time.Time     { return m.Timestamp }
func (m *CompactionSummaryMessage) Time() time.Time { return m.Timestamp }

func (*UserMessage) isMessage()              {}
func (*AssistantMessage) isMessage()         {}
func (*ToolResultMessage) isMessage()        {}
func (*CustomMessage) isMessage()            {}
func (*BranchSummaryMessage) isMessage()     {}
func (*CompactionSummaryMessage) isMessage() {}

// NewUserMessage creates a user message with text and optional images.
func NewUserMessage(text string, images ...*ImageContent) *UserMessage {
	content := []Content{Text(text)}
	for _, img := range images {
		content = append(content, img)
	}
	return &UserMessage{Content: content, Timestamp: time.Now()}
}

// TextOf returns the concatenation of all text blocks in content.
func TextOf(content []Content) string {
	var sb strings.Builder
	for _, c := range content {
		if t, ok := c.(*TextContent); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

// Text returns the concatenated text of the response.
func (m *AssistantMessage) Text() string {
	return TextOf(m.Content)
}

// Thinking returns the concatenated reasoning of the response.
func (m *AssistantMessage) Thinking() string {
	var sb strings.Builder
	for _, c := range m.Content {
		if t, ok := c.(*ThinkingContent); ok {
			sb.WriteString(t.Thinking)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool call blocks in emission order.
func (m *AssistantMessage) ToolCalls() []*ToolCall {
	var calls []*ToolCall
	for _, c := range m.Content {
		if tc, ok := c.(*ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// Clone returns a deep copy of the message.
func (m *AssistantMessage) Clone() *AssistantMessage {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Content = cloneContents(m.Content)
	return &cp
}

// CloneMessage returns a deep copy of any message variant.
func CloneMessage(m Message) Message {
	switch v := m.(type) {
	case *UserMessage:
		cp := *v
		cp.Content = cloneContents(v.Content)
		return &cp
	case *AssistantMessage:
		return v.Clone()
	case *ToolResultMessage:
		cp := *v
		cp.Content = cloneContents(v.Content)
		return &cp
	case *CustomMessage:
		cp := *v
		cp.Content = cloneContents(v.Content)
		return &cp
	case *BranchSummaryMessage:
		cp := *v
		return &cp
	case *CompactionSummaryMessage:
		cp := *v
		return &cp
	}
	return m
}

// StopReason describes why generation stopped.
type StopReason string

const (
	StopInProgress StopReason = "in_progress"
	StopNormal     StopReason = "stop"
	StopLength     StopReason = "length"
	StopToolUse    StopReason = "toolUse"
	StopError      StopReason = "error"
	StopAborted    StopReason = "aborted"
)

// Cost is a dollar breakdown parallel to token counts.
type Cost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite"`
	Total      float64 `json:"total"`
}

// Usage tracks token consumption for one response.
type Usage struct {
	Input       int  `json:"input"`
	Output      int  `json:"output"`
	CacheRead   int  `json:"cacheRead"`
	CacheWrite  int  `json:"cacheWrite"`
	TotalTokens int  `json:"totalTokens"`
	Cost        Cost `json:"cost"`
}

// Add returns the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		Input:       u.Input + other.Input,
		Output:      u.Output + other.Output,
		CacheRead:   u.CacheRead + other.CacheRead,
		CacheWrite:  u.CacheWrite + other.CacheWrite,
		TotalTokens: u.TotalTokens + other.TotalTokens,
		Cost: Cost{
			Input:      u.Cost.Input + other.Cost.Input,
			Output:     u.Cost.Output + other.Cost.Output,
			CacheRead:  u.Cost.CacheRead + other.Cost.CacheRead,
			CacheWrite: u.Cost.CacheWrite + other.Cost.CacheWrite,
			Total:      u.Cost.Total + other.Cost.Total,
		},
	}
}

// Tool describes a callable tool to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Context is everything a provider needs to produce the next response.
type Context struct {
	SystemPrompt string    `json:"systemPrompt,omitempty"`
	Messages     []Message `json:"messages"`
	Tools        []Tool    `json:"tools,omitempty"`
}
