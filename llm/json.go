package llm

import (
	"encoding/json"
	"fmt"
)

// Content and Message variants encode with a "type" or "role" discriminator
// so histories can be written out and read back.

func (c *TextContent) MarshalJSON() ([]byte, error) {
	type plain TextContent
	return json.Marshal(struct {
		Type ContentType `json:"type"`
		*plain
	}{ContentText, (*plain)(c)})
}

func (c *ThinkingContent) MarshalJSON() ([]byte, error) {
	type plain ThinkingContent
	return json.Marshal(struct {
		Type ContentType `json:"type"`
		*plain
	}{ContentThinking, (*plain)(c)})
}

func (c *ImageContent) MarshalJSON() ([]byte, error) {
	type plain ImageContent
	return json.Marshal(struct {
		Type ContentType `json:"type"`
		*plain
	}{ContentImage, (*plain)(c)})
}

func (c *ToolCall) MarshalJSON() ([]byte, error) {
	type plain ToolCall
	return json.Marshal(struct {
		Type ContentType `json:"type"`
		*plain
	}{ContentToolCall, (*plain)(c)})
}

// UnmarshalContent decodes one content block by its "type" field.
func UnmarshalContent(data []byte) (Content, error) {
	var head struct {
		Type ContentType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	var c Content
	switch head.Type {
	case ContentText:
		c = &TextContent{}
	case ContentThinking:
		c = &ThinkingContent{}
	case ContentImage:
		c = &ImageContent{}
	case ContentToolCall:
		c = &ToolCall{}
	default:
		return nil, fmt.Errorf("unknown content type %q", head.Type)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UnmarshalContents decodes a JSON array of content blocks.
func UnmarshalContents(data []byte) ([]Content, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]Content, 0, len(raw))
	for _, r := range raw {
		c, err := UnmarshalContent(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func marshalWithRole(role Role, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["role"], _ = json.Marshal(role)
	return json.Marshal(fields)
}

func (m *UserMessage) MarshalJSON() ([]byte, error) {
	type plain UserMessage
	return marshalWithRole(RoleUser, (*plain)(m))
}

func (m *AssistantMessage) MarshalJSON() ([]byte, error) {
	type plain AssistantMessage
	return marshalWithRole(RoleAssistant, (*plain)(m))
}

func (m *ToolResultMessage) MarshalJSON() ([]byte, error) {
	type plain ToolResultMessage
	return marshalWithRole(RoleToolResult, (*plain)(m))
}

func (m *CustomMessage) MarshalJSON() ([]byte, error) {
	type plain CustomMessage
	return marshalWithRole(RoleCustom, (*plain)(m))
}

func (m *BranchSummaryMessage) MarshalJSON() ([]byte, error) {
	type plain BranchSummaryMessage
	return marshalWithRole(RoleBranchSummary, (*plain)(m))
}

func (m *CompactionSummaryMessage) MarshalJSON() ([]byte, error) {
	type plain CompactionSummaryMessage
	return marshalWithRole(RoleCompactionSummary, (*plain)(m))
}

// decodeWithContent decodes a message whose "content" field is a content
// union array.
func decodeWithContent(data []byte, into any, content *[]Content) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	rawContent := fields["content"]
	delete(fields, "content")
	rest, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(rest, into); err != nil {
		return err
	}
	if len(rawContent) == 0 || string(rawContent) == "null" {
		*content = nil
		return nil
	}
	*content, err = UnmarshalContents(rawContent)
	return err
}

func (m *UserMessage) UnmarshalJSON(data []byte) error {
	type plain UserMessage
	return decodeWithContent(data, (*plain)(m), &m.Content)
}

func (m *AssistantMessage) UnmarshalJSON(data []byte) error {
	type plain AssistantMessage
	return decodeWithContent(data, (*plain)(m), &m.Content)
}

func (m *ToolResultMessage) UnmarshalJSON(data []byte) error {
	type plain ToolResultMessage
	return decodeWithContent(data, (*plain)(m), &m.Content)
}

func (m *CustomMessage) UnmarshalJSON(data []byte) error {
	type plain CustomMessage
	return decodeWithContent(data, (*plain)(m), &m.Content)
}

// UnmarshalMessage decodes one message by its "role" field.
func UnmarshalMessage(data []byte) (Message, error) {
	var head struct {
		Role Role `json:"role"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	var m Message
	switch head.Role {
	case RoleUser:
		m = &UserMessage{}
	case RoleAssistant:
		m = &AssistantMessage{}
	case RoleToolResult:
		m = &ToolResultMessage{}
	case RoleCustom:
		m = &CustomMessage{}
	case RoleBranchSummary:
		m = &BranchSummaryMessage{}
	case RoleCompactionSummary:
		m = &CompactionSummaryMessage{}
	default:
		return nil, fmt.Errorf("unknown message role %q", head.Role)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

// UnmarshalMessages decodes a JSON array of messages.
func UnmarshalMessages(data []byte) ([]Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		m, err := UnmarshalMessage(r)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
