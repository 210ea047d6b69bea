package agentloop

import (
	"github.com/martinemde/harness/llm"
)

const (
	branchSummaryPrefix     = "The following is a summary of a branch that this conversation came back from:\n\n<summary>\n"
	compactionSummaryPrefix = "The conversation history before this point was compacted into the following summary:\n\n<summary>\n"
	summarySuffix           = "\n</summary>"
)

// DefaultConvertToLLM maps agent history to the messages a model sees. User,
// assistant and tool result messages pass through, summaries become user
// text, and custom messages are dropped.
func DefaultConvertToLLM(messages []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		switch msg := m.(type) {
		case *llm.UserMessage, *llm.AssistantMessage, *llm.ToolResultMessage:
			out = append(out, m)
		case *llm.BranchSummaryMessage:
			out = append(out, &llm.UserMessage{
				Content:   []llm.Content{llm.Text(branchSummaryPrefix + msg.Summary + summarySuffix)},
				Timestamp: msg.Timestamp,
			})
		case *llm.CompactionSummaryMessage:
			out = append(out, &llm.UserMessage{
				Content:   []llm.Content{llm.Text(compactionSummaryPrefix + msg.Summary + summarySuffix)},
				Timestamp: msg.Timestamp,
			})
		}
	}
	return out
}
