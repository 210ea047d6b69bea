package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

const (
	anthropicVersion     = "2023-06-01"
	anthropicBaseURL     = "https://api.anthropic.com"
	betaFineGrainedTools = "fine-grained-tool-streaming-2025-05-14"
	betaInterleaved      = "interleaved-thinking-2025-05-14"

	// maxCacheBreakpoints is the number of cache_control markers the
	// Messages API accepts per request.
	maxCacheBreakpoints = 4
)

// AnthropicProvider streams from the Anthropic Messages API.
type AnthropicProvider struct{}

// NewAnthropicProvider creates the anthropic-messages adapter.
func NewAnthropicProvider() *AnthropicProvider {
	return &AnthropicProvider{}
}

// API returns "anthropic-messages".
func (p *AnthropicProvider) API() string { return APIAnthropicMessages }

// Stream sends one Messages request and translates its SSE stream.
func (p *AnthropicProvider) Stream(ctx context.Context, model Model, c Context, opts *StreamOptions) *AssistantEventStream {
	opts = opts.orDefault()
	build := func() (sseRequest, error) {
		headers := map[string]string{
			"anthropic-version": anthropicVersion,
		}
		if opts.APIKey != "" {
			headers["x-api-key"] = opts.APIKey
		}
		betas := []string{betaFineGrainedTools}
		if model.Reasoning && opts.thinking() != ThinkingOff {
			betas = append(betas, betaInterleaved)
		}
		headers["anthropic-beta"] = strings.Join(betas, ",")
		return sseRequest{
			URL:     baseURL(model, anthropicBaseURL) + "/v1/messages",
			Headers: headers,
			Payload: buildAnthropicRequest(model, c, opts),
		}, nil
	}
	return streamSSE(ctx, model, opts, build, func(acc *Accumulator) wireHandler {
		return &anthropicStream{acc: acc, blocks: map[int]int{}, log: opts.logger()}
	})
}

type anthropicCacheControl struct {
	Type string `json:"type"`
	TTL  string `json:"ttl,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicBlock struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text,omitempty"`
	Thinking     string                 `json:"thinking,omitempty"`
	Signature    string                 `json:"signature,omitempty"`
	Data         string                 `json:"data,omitempty"`
	Source       *anthropicImageSource  `json:"source,omitempty"`
	ID           string                 `json:"id,omitempty"`
	Name         string                 `json:"name,omitempty"`
	Input        any                    `json:"input,omitempty"`
	ToolUseID    string                 `json:"tool_use_id,omitempty"`
	Content      []anthropicBlock       `json:"content,omitempty"`
	IsError      bool                   `json:"is_error,omitempty"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicTool struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	InputSchema  map[string]any         `json:"input_schema"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream"`
	System      []anthropicBlock   `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Thinking    *anthropicThinking `json:"thinking,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

var anthropicToolIDInvalid = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// normalizeAnthropicToolID maps foreign tool call ids onto the Messages API
// id alphabet and length limit.
func normalizeAnthropicToolID(id string) string {
	id = anthropicToolIDInvalid.ReplaceAllString(id, "_")
	if len(id) > 64 {
		id = id[:64]
	}
	return id
}

func defaultMaxTokens(model Model, opts *StreamOptions) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	if model.MaxTokens > 0 {
		return min(model.MaxTokens, 32000)
	}
	return 4096
}

func buildAnthropicRequest(model Model, c Context, opts *StreamOptions) *anthropicRequest {
	req := &anthropicRequest{
		Model:     model.ID,
		MaxTokens: defaultMaxTokens(model, opts),
		Stream:    true,
		Messages:  convertAnthropicMessages(TransformMessages(c.Messages, model, normalizeAnthropicToolID), model),
	}
	if c.SystemPrompt != "" {
		req.System = []anthropicBlock{{Type: "text", Text: c.SystemPrompt}}
	}
	for _, t := range c.Tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}

	if level := opts.thinking(); model.Reasoning && level != ThinkingOff {
		budget := ThinkingBudget(level)
		if req.MaxTokens <= budget {
			req.MaxTokens = budget + 4096
			if model.MaxTokens > 0 && req.MaxTokens > model.MaxTokens {
				req.MaxTokens = model.MaxTokens
				budget = max(1024, req.MaxTokens-4096)
			}
		}
		req.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: budget}
	} else if opts.Temperature != nil {
		req.Temperature = opts.Temperature
	}

	if retention := opts.cacheRetention(); retention != CacheNone {
		marker := anthropicCacheControl{Type: "ephemeral"}
		if retention == CacheLong {
			marker.TTL = "1h"
		}
		applyCacheBreakpoints(req, marker)
	}
	return req
}

func convertAnthropicMessages(messages []Message, model Model) []anthropicMessage {
	var out []anthropicMessage
	for _, m := range messages {
		switch msg := m.(type) {
		case *UserMessage:
			blocks := anthropicUserBlocks(msg.Content, model)
			if len(blocks) > 0 {
				out = append(out, anthropicMessage{Role: "user", Content: blocks})
			}
		case *AssistantMessage:
			blocks := anthropicAssistantBlocks(msg)
			if len(blocks) > 0 {
				out = append(out, anthropicMessage{Role: "assistant", Content: blocks})
			}
		case *ToolResultMessage:
			block := anthropicBlock{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   anthropicUserBlocks(msg.Content, model),
				IsError:   msg.IsError,
			}
			if len(block.Content) == 0 {
				block.Content = []anthropicBlock{{Type: "text", Text: "(no output)"}}
			}
			// Consecutive tool results share one user turn.
			if n := len(out); n > 0 && out[n-1].Role == "user" && isToolResultTurn(out[n-1]) {
				out[n-1].Content = append(out[n-1].Content, block)
				continue
			}
			out = append(out, anthropicMessage{Role: "user", Content: []anthropicBlock{block}})
		}
	}
	return out
}

func isToolResultTurn(m anthropicMessage) bool {
	return len(m.Content) > 0 && m.Content[0].Type == "tool_result"
}

func anthropicUserBlocks(content []Content, model Model) []anthropicBlock {
	var blocks []anthropicBlock
	for _, c := range content {
		switch block := c.(type) {
		case *TextContent:
			if strings.TrimSpace(block.Text) == "" {
				continue
			}
			blocks = append(blocks, anthropicBlock{Type: "text", Text: block.Text})
		case *ImageContent:
			if !model.SupportsImages() {
				continue
			}
			blocks = append(blocks, anthropicBlock{Type: "image", Source: &anthropicImageSource{
				Type: "base64", MediaType: block.MimeType, Data: block.Data,
			}})
		}
	}
	return blocks
}

func anthropicAssistantBlocks(msg *AssistantMessage) []anthropicBlock {
	var blocks []anthropicBlock
	for _, c := range msg.Content {
		switch block := c.(type) {
		case *TextContent:
			if strings.TrimSpace(block.Text) == "" {
				continue
			}
			blocks = append(blocks, anthropicBlock{Type: "text", Text: block.Text})
		case *ThinkingContent:
			switch {
			case block.Redacted:
				blocks = append(blocks, anthropicBlock{Type: "redacted_thinking", Data: block.ThinkingSignature})
			case block.ThinkingSignature != "":
				blocks = append(blocks, anthropicBlock{Type: "thinking", Thinking: block.Thinking, Signature: block.ThinkingSignature})
			case strings.TrimSpace(block.Thinking) != "":
				blocks = append(blocks, anthropicBlock{Type: "text", Text: block.Thinking})
			}
		case *ToolCall:
			input := block.Arguments
			if input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: block.ID, Name: block.Name, Input: input})
		}
	}
	return blocks
}

// applyCacheBreakpoints marks the last tool, the last system block and the
// last block of the final two user turns, in that order, until the request
// carries maxCacheBreakpoints markers. Existing markers count toward the
// limit and are never duplicated.
func applyCacheBreakpoints(req *anthropicRequest, marker anthropicCacheControl) {
	count := 0
	for _, t := range req.Tools {
		if t.CacheControl != nil {
			count++
		}
	}
	for _, b := range req.System {
		if b.CacheControl != nil {
			count++
		}
	}
	for _, m := range req.Messages {
		for _, b := range m.Content {
			if b.CacheControl != nil {
				count++
			}
		}
	}

	var targets []**anthropicCacheControl
	if n := len(req.Tools); n > 0 {
		targets = append(targets, &req.Tools[n-1].CacheControl)
	}
	if n := len(req.System); n > 0 {
		targets = append(targets, &req.System[n-1].CacheControl)
	}
	var userTurns []int
	for i := len(req.Messages) - 1; i >= 0 && len(userTurns) < 2; i-- {
		if req.Messages[i].Role == "user" && len(req.Messages[i].Content) > 0 {
			userTurns = append(userTurns, i)
		}
	}
	// Penultimate user turn first, then the last.
	for j := len(userTurns) - 1; j >= 0; j-- {
		content := req.Messages[userTurns[j]].Content
		targets = append(targets, &content[len(content)-1].CacheControl)
	}

	for _, target := range targets {
		if count >= maxCacheBreakpoints {
			return
		}
		if *target != nil {
			continue
		}
		m := marker
		*target = &m
		count++
	}
}

type anthropicUsage struct {
	InputTokens              *int `json:"input_tokens"`
	OutputTokens             *int `json:"output_tokens"`
	CacheReadInputTokens     *int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens *int `json:"cache_creation_input_tokens"`
}

type anthropicStreamEvent struct {
	Index   int `json:"index"`
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	ContentBlock struct {
		Type      string `json:"type"`
		ID        string `json:"id"`
		Name      string `json:"name"`
		Text      string `json:"text"`
		Thinking  string `json:"thinking"`
		Signature string `json:"signature"`
		Data      string `json:"data"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		Signature   string `json:"signature"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage anthropicUsage `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicStream struct {
	acc    *Accumulator
	blocks map[int]int // wire index to content index
	log    *slog.Logger
	done   bool // stop reason or message_stop seen
}

func (s *anthropicStream) completed() bool { return s.done }

func (s *anthropicStream) handle(ev SSEEvent) error {
	typ := eventType(ev)
	switch typ {
	case "message_stop":
		s.done = true
		return nil
	case "ping", "":
		return nil
	}

	var e anthropicStreamEvent
	if err := json.Unmarshal(ev.Data, &e); err != nil {
		s.log.Debug("skipping malformed anthropic event", "type", typ, "error", err)
		return nil
	}

	switch typ {
	case "message_start":
		s.mergeUsage(e.Message.Usage)
		s.acc.Begin()

	case "content_block_start":
		block := e.ContentBlock
		switch block.Type {
		case "text":
			idx := s.acc.StartBlock(ContentText)
			s.blocks[e.Index] = idx
			s.acc.Delta(idx, block.Text)
		case "thinking":
			idx := s.acc.StartBlock(ContentThinking)
			s.blocks[e.Index] = idx
			s.acc.Delta(idx, block.Thinking)
			if block.Signature != "" {
				s.acc.SetSignature(idx, block.Signature)
			}
		case "redacted_thinking":
			idx := s.acc.StartBlock(ContentThinking)
			s.blocks[e.Index] = idx
			s.acc.SetRedacted(idx)
			s.acc.SetSignature(idx, block.Data)
			s.acc.Delta(idx, "[Reasoning redacted]")
		case "tool_use":
			s.blocks[e.Index] = s.acc.StartToolCall(block.ID, block.Name)
		default:
			s.log.Debug("skipping unknown anthropic content block", "type", block.Type)
		}

	case "content_block_delta":
		idx, ok := s.blocks[e.Index]
		if !ok {
			s.log.Debug("delta for unknown anthropic block", "index", e.Index)
			return nil
		}
		switch e.Delta.Type {
		case "text_delta":
			s.acc.Delta(idx, e.Delta.Text)
		case "thinking_delta":
			s.acc.Delta(idx, e.Delta.Thinking)
		case "input_json_delta":
			s.acc.Delta(idx, e.Delta.PartialJSON)
		case "signature_delta":
			s.acc.AppendSignature(idx, e.Delta.Signature)
		default:
			s.log.Debug("skipping unknown anthropic delta", "type", e.Delta.Type)
		}

	case "content_block_stop":
		if idx, ok := s.blocks[e.Index]; ok {
			s.acc.Finalize(idx)
		}

	case "message_delta":
		s.mergeUsage(e.Usage)
		if e.Delta.StopReason != "" {
			s.done = true
			reason := anthropicStopReason(e.Delta.StopReason)
			s.acc.SetStopReason(reason)
			if reason == StopError {
				s.acc.SetErrorMessage("model stopped: " + e.Delta.StopReason)
			}
		}

	case "error":
		msg := e.Error.Message
		if e.Error.Type != "" {
			msg = e.Error.Type + ": " + msg
		}
		if e.Error.Type == "overloaded_error" || e.Error.Type == "api_error" {
			return &ServerError{ProviderError: ProviderError{
				SDKError: SDKError{Message: msg}, Provider: "anthropic", ErrorCode: e.Error.Type, Retryable: true,
			}}
		}
		return &StreamError{SDKError: SDKError{Message: msg}}

	default:
		s.log.Debug("skipping unknown anthropic event", "type", typ)
	}
	return nil
}

// mergeUsage applies the counters present in u; absent fields keep their
// previous values.
func (s *anthropicStream) mergeUsage(u anthropicUsage) {
	usage := s.acc.Usage()
	if u.InputTokens != nil {
		usage.Input = *u.InputTokens
	}
	if u.OutputTokens != nil {
		usage.Output = *u.OutputTokens
	}
	if u.CacheReadInputTokens != nil {
		usage.CacheRead = *u.CacheReadInputTokens
	}
	if u.CacheCreationInputTokens != nil {
		usage.CacheWrite = *u.CacheCreationInputTokens
	}
}

func anthropicStopReason(reason string) StopReason {
	switch reason {
	case "end_turn", "stop_sequence", "pause_turn":
		return StopNormal
	case "max_tokens":
		return StopLength
	case "tool_use":
		return StopToolUse
	case "refusal", "sensitive":
		return StopError
	}
	return StopNormal
}
