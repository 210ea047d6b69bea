package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAICompletionsProvider streams from OpenAI-compatible Chat Completions
// endpoints.
type OpenAICompletionsProvider struct{}

// NewOpenAICompletionsProvider creates the openai-completions adapter.
func NewOpenAICompletionsProvider() *OpenAICompletionsProvider {
	return &OpenAICompletionsProvider{}
}

// API returns "openai-completions".
func (p *OpenAICompletionsProvider) API() string { return APIOpenAICompletions }

// Stream sends one chat completion request and translates its SSE stream.
func (p *OpenAICompletionsProvider) Stream(ctx context.Context, model Model, c Context, opts *StreamOptions) *AssistantEventStream {
	opts = opts.orDefault()
	build := func() (sseRequest, error) {
		return sseRequest{
			URL:     baseURL(model, openAIBaseURL) + "/chat/completions",
			Headers: bearerHeaders(opts.APIKey),
			Payload: buildChatRequest(model, c, opts),
		}, nil
	}
	return streamSSE(ctx, model, opts, build, func(acc *Accumulator) wireHandler {
		return &chatStream{
			acc:     acc,
			current: -1,
			tools:   orderedmap.New[int, int](),
			log:     opts.logger(),
		}
	})
}

// chatCompat is OpenAICompat with every field resolved.
type chatCompat struct {
	supportsStore                    bool
	supportsDeveloperRole            bool
	supportsReasoningEffort          bool
	supportsUsageInStreaming         bool
	maxTokensField                   string
	requiresToolResultName           bool
	requiresAssistantAfterToolResult bool
	requiresThinkingAsText           bool
	requiresMistralToolIDs           bool
}

func resolveChatCompat(model Model) chatCompat {
	host := strings.ToLower(model.BaseURL)
	provider := strings.ToLower(model.Provider)
	isMistral := provider == "mistral" || strings.Contains(host, "mistral.ai")
	isGrok := provider == "xai" || strings.Contains(host, "api.x.ai")
	nonStandard := isMistral || isGrok ||
		provider == "deepseek" || strings.Contains(host, "deepseek.com") ||
		provider == "cerebras" || strings.Contains(host, "cerebras.ai") ||
		provider == "zai" || strings.Contains(host, "api.z.ai")

	c := chatCompat{
		supportsStore:            !nonStandard,
		supportsDeveloperRole:    !nonStandard,
		supportsReasoningEffort:  !isGrok && provider != "zai",
		supportsUsageInStreaming: true,
		maxTokensField:           "max_completion_tokens",
		requiresToolResultName:   isMistral,
		requiresThinkingAsText:   isMistral,
		requiresMistralToolIDs:   isMistral,
	}
	if isMistral {
		c.maxTokensField = "max_tokens"
	}

	if o := model.Compat; o != nil {
		override := func(dst *bool, src *bool) {
			if src != nil {
				*dst = *src
			}
		}
		override(&c.supportsStore, o.SupportsStore)
		override(&c.supportsDeveloperRole, o.SupportsDeveloperRole)
		override(&c.supportsReasoningEffort, o.SupportsReasoningEffort)
		override(&c.supportsUsageInStreaming, o.SupportsUsageInStreaming)
		override(&c.requiresToolResultName, o.RequiresToolResultName)
		override(&c.requiresAssistantAfterToolResult, o.RequiresAssistantAfterToolResult)
		override(&c.requiresThinkingAsText, o.RequiresThinkingAsText)
		override(&c.requiresMistralToolIDs, o.RequiresMistralToolIDs)
		if o.MaxTokensField != "" {
			c.maxTokensField = o.MaxTokensField
		}
	}
	return c
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// normalizeMistralToolID maps a tool call id onto Mistral's required nine
// alphanumeric characters.
func normalizeMistralToolID(id string) string {
	id = nonAlphanumeric.ReplaceAllString(id, "")
	if len(id) < 9 {
		id += "ABCDEFGHI"[len(id):]
	}
	return id[:9]
}

// reasoningEffort maps a thinking level to an OpenAI effort string. xhigh is
// clamped to high for models that do not accept it.
func reasoningEffort(model Model, level ThinkingLevel) string {
	switch level {
	case ThinkingOff, "":
		return ""
	case ThinkingXHigh:
		if strings.HasPrefix(model.ID, "gpt-5.2") || strings.Contains(model.ID, "codex-max") {
			return "xhigh"
		}
		return "high"
	}
	return string(level)
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatFunctionCall `json:"function"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatRequest struct {
	Model               string             `json:"model"`
	Messages            []chatMessage      `json:"messages"`
	Stream              bool               `json:"stream"`
	StreamOptions       *chatStreamOptions `json:"stream_options,omitempty"`
	MaxCompletionTokens int                `json:"max_completion_tokens,omitempty"`
	MaxTokens           int                `json:"max_tokens,omitempty"`
	Temperature         *float64           `json:"temperature,omitempty"`
	Tools               []chatTool         `json:"tools,omitempty"`
	ReasoningEffort     string             `json:"reasoning_effort,omitempty"`
	Store               *bool              `json:"store,omitempty"`
}

func buildChatRequest(model Model, c Context, opts *StreamOptions) *chatRequest {
	compat := resolveChatCompat(model)
	var normalize func(string) string
	if compat.requiresMistralToolIDs {
		normalize = normalizeMistralToolID
	}

	req := &chatRequest{
		Model:       model.ID,
		Messages:    convertChatMessages(model, compat, c.SystemPrompt, TransformMessages(c.Messages, model, normalize)),
		Stream:      true,
		Temperature: opts.Temperature,
	}
	if compat.supportsUsageInStreaming {
		req.StreamOptions = &chatStreamOptions{IncludeUsage: true}
	}
	if compat.supportsStore {
		store := false
		req.Store = &store
	}
	if opts.MaxTokens > 0 {
		if compat.maxTokensField == "max_tokens" {
			req.MaxTokens = opts.MaxTokens
		} else {
			req.MaxCompletionTokens = opts.MaxTokens
		}
	}
	for _, t := range c.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, chatTool{Type: "function", Function: chatFunction{
			Name: t.Name, Description: t.Description, Parameters: params,
		}})
	}
	if model.Reasoning && compat.supportsReasoningEffort {
		req.ReasoningEffort = reasoningEffort(model, opts.thinking())
	}
	return req
}

func convertChatMessages(model Model, compat chatCompat, systemPrompt string, messages []Message) []chatMessage {
	var out []chatMessage
	if systemPrompt != "" {
		role := "system"
		if model.Reasoning && compat.supportsDeveloperRole {
			role = "developer"
		}
		out = append(out, chatMessage{Role: role, Content: systemPrompt})
	}

	var pendingImages []Content
	flushImages := func() {
		if len(pendingImages) == 0 {
			return
		}
		parts := append([]Content{Text("Attached image(s) from tool result:")}, pendingImages...)
		out = append(out, chatMessage{Role: "user", Content: chatParts(parts, model)})
		pendingImages = nil
	}
	lastRole := ""

	for _, m := range messages {
		if _, isResult := m.(*ToolResultMessage); !isResult {
			flushImages()
		}
		switch msg := m.(type) {
		case *UserMessage:
			if compat.requiresAssistantAfterToolResult && lastRole == "tool" {
				out = append(out, chatMessage{Role: "assistant", Content: "I have processed the tool results."})
			}
			content := chatUserContent(msg.Content, model)
			if content == nil {
				continue
			}
			out = append(out, chatMessage{Role: "user", Content: content})
			lastRole = "user"

		case *AssistantMessage:
			am, ok := chatAssistantMessage(msg, compat)
			if !ok {
				continue
			}
			out = append(out, am)
			lastRole = "assistant"

		case *ToolResultMessage:
			text := TextOf(msg.Content)
			for _, c := range msg.Content {
				if img, ok := c.(*ImageContent); ok && model.SupportsImages() {
					pendingImages = append(pendingImages, img)
				}
			}
			if text == "" {
				text = "(see attached image)"
				if len(pendingImages) == 0 {
					text = "(no output)"
				}
			}
			tm := chatMessage{Role: "tool", Content: text, ToolCallID: msg.ToolCallID}
			if compat.requiresToolResultName {
				tm.Name = msg.ToolName
			}
			out = append(out, tm)
			lastRole = "tool"
		}
	}
	flushImages()
	return out
}

// chatUserContent returns a plain string for text-only content and content
// parts otherwise. It returns nil when nothing remains to send.
func chatUserContent(content []Content, model Model) any {
	hasImage := false
	for _, c := range content {
		if _, ok := c.(*ImageContent); ok && model.SupportsImages() {
			hasImage = true
		}
	}
	if !hasImage {
		text := TextOf(content)
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return text
	}
	return chatParts(content, model)
}

func chatParts(content []Content, model Model) []chatContentPart {
	var parts []chatContentPart
	for _, c := range content {
		switch block := c.(type) {
		case *TextContent:
			if block.Text != "" {
				parts = append(parts, chatContentPart{Type: "text", Text: block.Text})
			}
		case *ImageContent:
			if model.SupportsImages() {
				parts = append(parts, chatContentPart{Type: "image_url", ImageURL: &chatImageURL{
					URL: "data:" + block.MimeType + ";base64," + block.Data,
				}})
			}
		}
	}
	return parts
}

func chatAssistantMessage(msg *AssistantMessage, compat chatCompat) (chatMessage, bool) {
	var text strings.Builder
	var calls []chatToolCall
	for _, c := range msg.Content {
		switch block := c.(type) {
		case *TextContent:
			text.WriteString(block.Text)
		case *ThinkingContent:
			if compat.requiresThinkingAsText && !block.Redacted && block.Thinking != "" {
				text.WriteString(block.Thinking)
				text.WriteString("\n\n")
			}
		case *ToolCall:
			args, err := json.Marshal(block.Arguments)
			if err != nil || block.Arguments == nil {
				args = []byte("{}")
			}
			calls = append(calls, chatToolCall{ID: block.ID, Type: "function", Function: chatFunctionCall{
				Name: block.Name, Arguments: string(args),
			}})
		}
	}
	body := strings.TrimSpace(text.String())
	if body == "" && len(calls) == 0 {
		return chatMessage{}, false
	}
	am := chatMessage{Role: "assistant", ToolCalls: calls}
	if body != "" {
		am.Content = body
	}
	return am, true
}

type chatUsage struct {
	PromptTokens        *int `json:"prompt_tokens"`
	CompletionTokens    *int `json:"completion_tokens"`
	TotalTokens         *int `json:"total_tokens"`
	PromptTokensDetails *struct {
		CachedTokens *int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content          *string `json:"content"`
			ReasoningContent *string `json:"reasoning_content"`
			Reasoning        *string `json:"reasoning"`
			ReasoningText    *string `json:"reasoning_text"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type chatStream struct {
	acc         *Accumulator
	current     int // open text or thinking block, -1 when none
	currentKind ContentType
	tools       *orderedmap.OrderedMap[int, int] // wire tool index to content index
	log         *slog.Logger
	done        bool // finish_reason or [DONE] seen

	// raw usage counters, merged across chunks
	prompt, completion, cached, total int
}

func (s *chatStream) completed() bool { return s.done }

func (s *chatStream) handle(ev SSEEvent) error {
	data := strings.TrimSpace(string(ev.Data))
	if data == "[DONE]" {
		s.done = true
		return nil
	}
	if data == "" {
		return nil
	}

	var chunk chatChunk
	if err := json.Unmarshal(ev.Data, &chunk); err != nil {
		s.log.Debug("skipping malformed chat chunk", "error", err)
		return nil
	}
	if chunk.Error != nil {
		return &StreamError{SDKError: SDKError{Message: chunk.Error.Message}}
	}
	s.acc.Begin()

	if chunk.Usage != nil {
		s.mergeUsage(chunk.Usage)
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]
	delta := choice.Delta

	for _, reasoning := range []*string{delta.ReasoningContent, delta.Reasoning, delta.ReasoningText} {
		if reasoning != nil && *reasoning != "" {
			s.appendBlock(ContentThinking, *reasoning)
			break
		}
	}
	if delta.Content != nil && *delta.Content != "" {
		s.appendBlock(ContentText, *delta.Content)
	}

	for _, tc := range delta.ToolCalls {
		idx, ok := s.tools.Get(tc.Index)
		if !ok {
			s.closeCurrent()
			id := tc.ID
			if id == "" {
				id = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
			}
			idx = s.acc.StartToolCall(id, tc.Function.Name)
			s.tools.Set(tc.Index, idx)
		} else {
			s.acc.SetToolIdentity(idx, tc.ID, tc.Function.Name)
		}
		s.acc.Delta(idx, tc.Function.Arguments)
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		s.done = true
		s.closeCurrent()
		for pair := s.tools.Oldest(); pair != nil; pair = pair.Next() {
			s.acc.Finalize(pair.Value)
		}
		reason := chatStopReason(*choice.FinishReason)
		s.acc.SetStopReason(reason)
		if reason == StopError {
			s.acc.SetErrorMessage("model stopped: " + *choice.FinishReason)
		}
	}
	return nil
}

// appendBlock routes a text or thinking fragment into the open block of the
// same kind, opening a new block when the kind changes.
func (s *chatStream) appendBlock(kind ContentType, fragment string) {
	if s.current < 0 || s.currentKind != kind || !s.acc.IsOpen(s.current) {
		s.closeCurrent()
		s.current = s.acc.StartBlock(kind)
		s.currentKind = kind
	}
	s.acc.Delta(s.current, fragment)
}

func (s *chatStream) closeCurrent() {
	if s.current >= 0 {
		s.acc.Finalize(s.current)
		s.current = -1
	}
}

// mergeUsage applies the counters present in u; absent fields keep their
// previous values.
func (s *chatStream) mergeUsage(u *chatUsage) {
	if u.PromptTokens != nil {
		s.prompt = *u.PromptTokens
	}
	if u.CompletionTokens != nil {
		s.completion = *u.CompletionTokens
	}
	if u.PromptTokensDetails != nil && u.PromptTokensDetails.CachedTokens != nil {
		s.cached = *u.PromptTokensDetails.CachedTokens
	}
	if u.TotalTokens != nil {
		s.total = *u.TotalTokens
	}
	usage := s.acc.Usage()
	usage.Input = max(0, s.prompt-s.cached)
	usage.Output = s.completion
	usage.CacheRead = s.cached
	usage.TotalTokens = s.total
}

func chatStopReason(reason string) StopReason {
	switch reason {
	case "stop":
		return StopNormal
	case "length":
		return StopLength
	case "tool_calls", "function_call":
		return StopToolUse
	case "content_filter":
		return StopError
	}
	return StopNormal
}
