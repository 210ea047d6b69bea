package llm

import "time"

// TransformMessages prepares a history for model before an adapter encodes
// it:
//   - errored and aborted assistant messages are dropped;
//   - thinking from a different provider, api or model becomes plain text,
//     and empty thinking is dropped;
//   - tool call ids pass through normalizeID (nil keeps them) and the
//     matching tool results follow;
//   - a tool call without a result gets a synthetic error result before the
//     next user or assistant message, or at the end.
func TransformMessages(messages []Message, model Model, normalizeID func(string) string) []Message {
	idMap := map[string]string{}
	mapped := make([]Message, 0, len(messages))

	for _, m := range messages {
		switch msg := m.(type) {
		case *UserMessage:
			mapped = append(mapped, msg)
		case *ToolResultMessage:
			if id, ok := idMap[msg.ToolCallID]; ok && id != msg.ToolCallID {
				cp := *msg
				cp.ToolCallID = id
				mapped = append(mapped, &cp)
				continue
			}
			mapped = append(mapped, msg)
		case *AssistantMessage:
			if msg.StopReason == StopError || msg.StopReason == StopAborted {
				continue
			}
			mapped = append(mapped, transformAssistant(msg, model, normalizeID, idMap))
		}
	}

	return fillOrphanedToolResults(mapped)
}

func sameModel(msg *AssistantMessage, model Model) bool {
	return msg.Provider == model.Provider && msg.API == model.API && msg.Model == model.ID
}

func transformAssistant(msg *AssistantMessage, model Model, normalizeID func(string) string, idMap map[string]string) *AssistantMessage {
	same := sameModel(msg, model)
	cp := *msg
	cp.Content = make([]Content, 0, len(msg.Content))

	for _, c := range msg.Content {
		switch block := c.(type) {
		case *ThinkingContent:
			if same {
				if block.Redacted || block.Thinking != "" || block.ThinkingSignature != "" {
					cp.Content = append(cp.Content, block)
				}
				continue
			}
			if block.Redacted || block.Thinking == "" {
				continue
			}
			cp.Content = append(cp.Content, &TextContent{Text: block.Thinking})
		case *TextContent:
			if same {
				cp.Content = append(cp.Content, block)
				continue
			}
			cp.Content = append(cp.Content, &TextContent{Text: block.Text})
		case *ToolCall:
			tc := *block
			if !same {
				tc.ThoughtSignature = ""
			}
			if normalizeID != nil {
				tc.ID = normalizeID(block.ID)
				idMap[block.ID] = tc.ID
			}
			cp.Content = append(cp.Content, &tc)
		default:
			cp.Content = append(cp.Content, c)
		}
	}
	return &cp
}

func fillOrphanedToolResults(messages []Message) []Message {
	result := make([]Message, 0, len(messages))
	var pending []*ToolCall
	answered := map[string]bool{}

	flush := func() {
		for _, tc := range pending {
			if answered[tc.ID] {
				continue
			}
			result = append(result, &ToolResultMessage{
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				Content:    []Content{Text("No result provided")},
				IsError:    true,
				Timestamp:  time.Now(),
			})
		}
		pending = nil
		answered = map[string]bool{}
	}

	for _, m := range messages {
		switch msg := m.(type) {
		case *AssistantMessage:
			flush()
			pending = msg.ToolCalls()
		case *UserMessage:
			flush()
		case *ToolResultMessage:
			answered[msg.ToolCallID] = true
		}
		result = append(result, m)
	}
	flush()
	return result
}
