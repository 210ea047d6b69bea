package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/buger/jsonparser"
)

// OpenAIResponsesProvider streams from the OpenAI Responses API.
type OpenAIResponsesProvider struct{}

// NewOpenAIResponsesProvider creates the openai-responses adapter.
func NewOpenAIResponsesProvider() *OpenAIResponsesProvider {
	return &OpenAIResponsesProvider{}
}

// API returns "openai-responses".
func (p *OpenAIResponsesProvider) API() string { return APIOpenAIResponses }

// Stream sends one Responses request and translates its SSE stream.
func (p *OpenAIResponsesProvider) Stream(ctx context.Context, model Model, c Context, opts *StreamOptions) *AssistantEventStream {
	opts = opts.orDefault()
	build := func() (sseRequest, error) {
		return sseRequest{
			URL:     baseURL(model, openAIBaseURL) + "/responses",
			Headers: bearerHeaders(opts.APIKey),
			Payload: buildResponsesRequest(model, c, opts),
		}, nil
	}
	return streamSSE(ctx, model, opts, build, func(acc *Accumulator) wireHandler {
		return &responsesStream{
			acc:       acc,
			items:     map[int]int{},
			partBreak: map[int]bool{},
			log:       opts.logger(),
		}
	})
}

type responsesTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
	Strict      *bool          `json:"strict"`
}

type responsesReasoning struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type responsesRequest struct {
	Model           string              `json:"model"`
	Input           []any               `json:"input"`
	Stream          bool                `json:"stream"`
	Store           bool                `json:"store"`
	Instructions    string              `json:"instructions,omitempty"`
	MaxOutputTokens int                 `json:"max_output_tokens,omitempty"`
	Temperature     *float64            `json:"temperature,omitempty"`
	Tools           []responsesTool     `json:"tools,omitempty"`
	Reasoning       *responsesReasoning `json:"reasoning,omitempty"`
	Include         []string            `json:"include,omitempty"`
	PromptCacheKey  string              `json:"prompt_cache_key,omitempty"`
}

type responsesContentPart struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Detail      string `json:"detail,omitempty"`
	Annotations []any  `json:"annotations,omitempty"`
}

type responsesInputMessage struct {
	Type    string                 `json:"type,omitempty"`
	ID      string                 `json:"id,omitempty"`
	Role    string                 `json:"role"`
	Content []responsesContentPart `json:"content"`
	Status  string                 `json:"status,omitempty"`
}

type responsesFunctionCall struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type responsesFunctionOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// splitToolCallID splits a "call_id|item_id" tool call id.
func splitToolCallID(id string) (callID, itemID string) {
	callID, itemID, _ = strings.Cut(id, "|")
	return callID, itemID
}

func buildResponsesRequest(model Model, c Context, opts *StreamOptions) *responsesRequest {
	req := &responsesRequest{
		Model:           model.ID,
		Input:           convertResponsesInput(model, TransformMessages(c.Messages, model, nil)),
		Stream:          true,
		Store:           false,
		Instructions:    c.SystemPrompt,
		MaxOutputTokens: opts.MaxTokens,
		PromptCacheKey:  opts.SessionID,
	}
	if opts.cacheRetention() == CacheNone {
		req.PromptCacheKey = ""
	}
	for _, t := range c.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, responsesTool{Type: "function", Name: t.Name, Description: t.Description, Parameters: params})
	}
	if model.Reasoning {
		if effort := reasoningEffort(model, opts.thinking()); effort != "" {
			req.Reasoning = &responsesReasoning{Effort: effort, Summary: "auto"}
			req.Include = []string{"reasoning.encrypted_content"}
		}
	} else {
		req.Temperature = opts.Temperature
	}
	return req
}

func convertResponsesInput(model Model, messages []Message) []any {
	var input []any
	var pendingImages []responsesContentPart
	flushImages := func() {
		if len(pendingImages) == 0 {
			return
		}
		parts := append([]responsesContentPart{{Type: "input_text", Text: "Attached image(s) from tool result:"}}, pendingImages...)
		input = append(input, responsesInputMessage{Role: "user", Content: parts})
		pendingImages = nil
	}

	for _, m := range messages {
		if _, isResult := m.(*ToolResultMessage); !isResult {
			flushImages()
		}
		switch msg := m.(type) {
		case *UserMessage:
			parts := responsesUserParts(msg.Content, model)
			if len(parts) > 0 {
				input = append(input, responsesInputMessage{Role: "user", Content: parts})
			}
		case *AssistantMessage:
			input = append(input, responsesAssistantItems(msg, model)...)
		case *ToolResultMessage:
			callID, _ := splitToolCallID(msg.ToolCallID)
			text := TextOf(msg.Content)
			for _, c := range msg.Content {
				if img, ok := c.(*ImageContent); ok && model.SupportsImages() {
					pendingImages = append(pendingImages, responsesContentPart{
						Type: "input_image", Detail: "auto", ImageURL: "data:" + img.MimeType + ";base64," + img.Data,
					})
				}
			}
			if text == "" {
				text = "(no output)"
			}
			input = append(input, responsesFunctionOutput{Type: "function_call_output", CallID: callID, Output: text})
		}
	}
	flushImages()
	return input
}

func responsesUserParts(content []Content, model Model) []responsesContentPart {
	var parts []responsesContentPart
	for _, c := range content {
		switch block := c.(type) {
		case *TextContent:
			if strings.TrimSpace(block.Text) != "" {
				parts = append(parts, responsesContentPart{Type: "input_text", Text: block.Text})
			}
		case *ImageContent:
			if model.SupportsImages() {
				parts = append(parts, responsesContentPart{
					Type: "input_image", Detail: "auto", ImageURL: "data:" + block.MimeType + ";base64," + block.Data,
				})
			}
		}
	}
	return parts
}

func responsesAssistantItems(msg *AssistantMessage, model Model) []any {
	same := sameModel(msg, model)
	var items []any
	for _, c := range msg.Content {
		switch block := c.(type) {
		case *ThinkingContent:
			// The signature holds the full reasoning item, encrypted content
			// included, and is only replayed to the model that produced it.
			if same && block.ThinkingSignature != "" && json.Valid([]byte(block.ThinkingSignature)) {
				items = append(items, json.RawMessage(block.ThinkingSignature))
			}
		case *TextContent:
			if block.Text == "" {
				continue
			}
			item := responsesInputMessage{
				Type:    "message",
				Role:    "assistant",
				Content: []responsesContentPart{{Type: "output_text", Text: block.Text, Annotations: []any{}}},
				Status:  "completed",
			}
			if same {
				item.ID = block.TextSignature
			}
			items = append(items, item)
		case *ToolCall:
			callID, itemID := splitToolCallID(block.ID)
			args, err := json.Marshal(block.Arguments)
			if err != nil || block.Arguments == nil {
				args = []byte("{}")
			}
			item := responsesFunctionCall{Type: "function_call", CallID: callID, Name: block.Name, Arguments: string(args)}
			if same {
				item.ID = itemID
			}
			items = append(items, item)
		}
	}
	return items
}

type responsesItem struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Content   []struct {
		Type    string `json:"type"`
		Text    string `json:"text"`
		Refusal string `json:"refusal"`
	} `json:"content"`
	Summary []struct {
		Text string `json:"text"`
	} `json:"summary"`
}

func (it responsesItem) text() string {
	var sb strings.Builder
	for _, c := range it.Content {
		sb.WriteString(c.Text)
		sb.WriteString(c.Refusal)
	}
	return sb.String()
}

type responsesUsage struct {
	InputTokens        int `json:"input_tokens"`
	OutputTokens       int `json:"output_tokens"`
	TotalTokens        int `json:"total_tokens"`
	InputTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"input_tokens_details"`
}

type responsesEvent struct {
	OutputIndex int             `json:"output_index"`
	Item        json.RawMessage `json:"item"`
	Delta       string          `json:"delta"`
	Arguments   string          `json:"arguments"`
	Message     string          `json:"message"`
	Code        string          `json:"code"`
	Response    struct {
		Status string          `json:"status"`
		Usage  *responsesUsage `json:"usage"`
		Output []responsesItem `json:"output"`
		Error  *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		IncompleteDetails *struct {
			Reason string `json:"reason"`
		} `json:"incomplete_details"`
	} `json:"response"`
}

type responsesStream struct {
	acc       *Accumulator
	items     map[int]int  // output index to content index
	partBreak map[int]bool // a summary part ended; separate the next one
	log       *slog.Logger
	done      bool // terminal response event seen
}

func (s *responsesStream) completed() bool { return s.done }

func (s *responsesStream) handle(ev SSEEvent) error {
	typ := eventType(ev)
	var e responsesEvent
	if err := json.Unmarshal(ev.Data, &e); err != nil {
		s.log.Debug("skipping malformed responses event", "type", typ, "error", err)
		return nil
	}

	switch typ {
	case "response.created", "response.in_progress":
		s.acc.Begin()

	case "response.output_item.added":
		var item responsesItem
		if err := json.Unmarshal(e.Item, &item); err != nil {
			s.log.Debug("skipping malformed output item", "error", err)
			return nil
		}
		switch item.Type {
		case "reasoning":
			s.items[e.OutputIndex] = s.acc.StartBlock(ContentThinking)
		case "message":
			idx := s.acc.StartBlock(ContentText)
			s.acc.SetSignature(idx, item.ID)
			s.items[e.OutputIndex] = idx
		case "function_call":
			idx := s.acc.StartToolCall(item.CallID+"|"+item.ID, item.Name)
			s.acc.Delta(idx, item.Arguments)
			s.items[e.OutputIndex] = idx
		default:
			s.log.Debug("skipping unknown output item", "type", item.Type)
		}

	case "response.reasoning_summary_text.delta":
		if idx, ok := s.items[e.OutputIndex]; ok {
			if s.partBreak[idx] {
				s.acc.Delta(idx, "\n\n")
				s.partBreak[idx] = false
			}
			s.acc.Delta(idx, e.Delta)
		}

	case "response.reasoning_summary_part.done":
		if idx, ok := s.items[e.OutputIndex]; ok && s.acc.Current(idx) != "" {
			s.partBreak[idx] = true
		}

	case "response.output_text.delta", "response.refusal.delta", "response.function_call_arguments.delta":
		if idx, ok := s.items[e.OutputIndex]; ok {
			s.acc.Delta(idx, e.Delta)
		}

	case "response.function_call_arguments.done":
		if idx, ok := s.items[e.OutputIndex]; ok && e.Arguments != "" {
			s.acc.ReplaceArgs(idx, e.Arguments)
		}

	case "response.output_item.done":
		s.itemDone(e.OutputIndex, e.Item)

	case "response.completed", "response.incomplete", "response.failed", "response.cancelled":
		s.done = true
		s.complete(e)

	case "error":
		msg := e.Message
		if msg == "" {
			msg, _ = jsonparser.GetString(ev.Data, "error", "message")
		}
		if e.Code != "" {
			msg = e.Code + ": " + msg
		}
		return &StreamError{SDKError: SDKError{Message: msg}}

	default:
		s.log.Debug("skipping responses event", "type", typ)
	}
	return nil
}

func (s *responsesStream) itemDone(outputIndex int, raw json.RawMessage) {
	idx, ok := s.items[outputIndex]
	if !ok {
		return
	}
	var item responsesItem
	if err := json.Unmarshal(raw, &item); err != nil {
		s.log.Debug("skipping malformed output item", "error", err)
		s.acc.Finalize(idx)
		return
	}
	switch item.Type {
	case "reasoning":
		if s.acc.Current(idx) == "" {
			parts := make([]string, 0, len(item.Summary))
			for _, p := range item.Summary {
				parts = append(parts, p.Text)
			}
			s.acc.Delta(idx, strings.Join(parts, "\n\n"))
		}
		s.acc.SetSignature(idx, string(raw))
	case "message":
		if s.acc.Current(idx) == "" {
			s.acc.Delta(idx, item.text())
		}
	case "function_call":
		if item.Arguments != "" {
			s.acc.ReplaceArgs(idx, item.Arguments)
		}
	}
	s.acc.Finalize(idx)
}

// complete applies the terminal response: usage, stop reason, and a final
// flush of message output the stream never finished.
func (s *responsesStream) complete(e responsesEvent) {
	resp := e.Response
	if u := resp.Usage; u != nil {
		usage := s.acc.Usage()
		usage.CacheRead = u.InputTokensDetails.CachedTokens
		usage.Input = max(0, u.InputTokens-u.InputTokensDetails.CachedTokens)
		usage.Output = u.OutputTokens
		usage.TotalTokens = u.TotalTokens
	}

	for i, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		text := item.text()
		if idx, ok := s.items[i]; ok {
			if s.acc.IsOpen(idx) && s.acc.Current(idx) == "" {
				s.acc.Delta(idx, text)
			}
			continue
		}
		if text == "" || s.acc.HasFinalizedText(text) {
			continue
		}
		idx := s.acc.StartBlock(ContentText)
		s.acc.SetSignature(idx, item.ID)
		s.acc.Delta(idx, text)
		s.acc.Finalize(idx)
	}
	s.acc.FinalizeAll()

	switch resp.Status {
	case "completed":
		if s.acc.HasToolCalls() {
			s.acc.SetStopReason(StopToolUse)
		} else {
			s.acc.SetStopReason(StopNormal)
		}
	case "incomplete":
		s.acc.SetStopReason(StopLength)
		if d := resp.IncompleteDetails; d != nil && d.Reason == "content_filter" {
			s.acc.SetStopReason(StopError)
			s.acc.SetErrorMessage("response incomplete: content_filter")
		}
	case "failed", "cancelled":
		s.acc.SetStopReason(StopError)
		msg := "response " + resp.Status
		if resp.Error != nil && resp.Error.Message != "" {
			msg = resp.Error.Message
		}
		s.acc.SetErrorMessage(msg)
	}
}
