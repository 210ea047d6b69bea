package agentloop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/martinemde/harness/llm"
)

// toolCallSignature identifies a call by name and a hash of its arguments.
// encoding/json sorts map keys, so equal arguments hash equally.
func toolCallSignature(call *llm.ToolCall) string {
	raw, _ := json.Marshal(call.Arguments)
	h := sha256.Sum256(raw)
	return fmt.Sprintf("%s:%x", call.Name, h[:8])
}

// recentToolCallSignatures returns the signatures of the last count tool
// calls in history, oldest first.
func recentToolCallSignatures(history []llm.Message, count int) []string {
	var sigs []string
	for i := len(history) - 1; i >= 0 && len(sigs) < count; i-- {
		msg, ok := history[i].(*llm.AssistantMessage)
		if !ok {
			continue
		}
		calls := msg.ToolCalls()
		for j := len(calls) - 1; j >= 0 && len(sigs) < count; j-- {
			sigs = append(sigs, toolCallSignature(calls[j]))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop reports whether the last windowSize tool calls in history
// repeat a pattern of length 1, 2 or 3 at least twice.
func DetectLoop(history []llm.Message, windowSize int) bool {
	if windowSize <= 0 {
		return false
	}
	sigs := recentToolCallSignatures(history, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 || windowSize/patternLen < 2 {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}

func loopWarning(windowSize int) *llm.UserMessage {
	return llm.NewUserMessage(fmt.Sprintf(
		"Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach.", windowSize))
}
