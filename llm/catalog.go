package llm

import "strings"

// API family identifiers. Each maps to one registered APIProvider.
const (
	APIAnthropicMessages = "anthropic-messages"
	APIOpenAICompletions = "openai-completions"
	APIOpenAIResponses   = "openai-responses"
	APIGollm             = "gollm"
)

// ModelCost is the price in dollars per million tokens.
type ModelCost struct {
	Input      float64 `json:"input" toml:"input" yaml:"input"`
	Output     float64 `json:"output" toml:"output" yaml:"output"`
	CacheRead  float64 `json:"cacheRead" toml:"cache_read" yaml:"cache_read"`
	CacheWrite float64 `json:"cacheWrite" toml:"cache_write" yaml:"cache_write"`
}

// OpenAICompat overrides what an OpenAI-compatible deployment supports.
// Nil pointer fields are detected from the provider and base URL.
type OpenAICompat struct {
	SupportsStore                    *bool  `json:"supportsStore,omitempty"`
	SupportsDeveloperRole            *bool  `json:"supportsDeveloperRole,omitempty"`
	SupportsReasoningEffort          *bool  `json:"supportsReasoningEffort,omitempty"`
	SupportsUsageInStreaming         *bool  `json:"supportsUsageInStreaming,omitempty"`
	MaxTokensField                   string `json:"maxTokensField,omitempty"` // "max_completion_tokens" or "max_tokens"
	RequiresToolResultName           *bool  `json:"requiresToolResultName,omitempty"`
	RequiresAssistantAfterToolResult *bool  `json:"requiresAssistantAfterToolResult,omitempty"`
	RequiresThinkingAsText           *bool  `json:"requiresThinkingAsText,omitempty"`
	RequiresMistralToolIDs           *bool  `json:"requiresMistralToolIds,omitempty"`
}

// Model is a resolved model descriptor. It is treated as immutable for the
// duration of a turn.
type Model struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	API           string            `json:"api"`
	Provider      string            `json:"provider"`
	BaseURL       string            `json:"baseUrl"`
	Reasoning     bool              `json:"reasoning"`
	Input         []string          `json:"input"` // "text", "image"
	Cost          ModelCost         `json:"cost"`
	ContextWindow int               `json:"contextWindow"`
	MaxTokens     int               `json:"maxTokens"`
	Headers       map[string]string `json:"headers,omitempty"`
	Compat        *OpenAICompat     `json:"compat,omitempty"`
}

// SupportsImages reports whether the model accepts image input.
func (m Model) SupportsImages() bool {
	for _, in := range m.Input {
		if in == "image" {
			return true
		}
	}
	return false
}

// CalculateCost fills u.Cost from the model's price table and returns it.
func CalculateCost(model Model, u *Usage) Cost {
	u.Cost.Input = model.Cost.Input / 1e6 * float64(u.Input)
	u.Cost.Output = model.Cost.Output / 1e6 * float64(u.Output)
	u.Cost.CacheRead = model.Cost.CacheRead / 1e6 * float64(u.CacheRead)
	u.Cost.CacheWrite = model.Cost.CacheWrite / 1e6 * float64(u.CacheWrite)
	u.Cost.Total = u.Cost.Input + u.Cost.Output + u.Cost.CacheRead + u.Cost.CacheWrite
	return u.Cost
}

var textAndImage = []string{"text", "image"}

// Models is the built-in model catalog.
var Models = []Model{
	// Anthropic
	{
		ID: "claude-opus-4-6", Name: "Claude Opus 4.6", API: APIAnthropicMessages, Provider: "anthropic",
		BaseURL: "https://api.anthropic.com", Reasoning: true, Input: textAndImage,
		Cost: ModelCost{Input: 15, Output: 75, CacheRead: 1.5, CacheWrite: 18.75},
		ContextWindow: 200000, MaxTokens: 32000,
	},
	{
		ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", API: APIAnthropicMessages, Provider: "anthropic",
		BaseURL: "https://api.anthropic.com", Reasoning: true, Input: textAndImage,
		Cost: ModelCost{Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
		ContextWindow: 200000, MaxTokens: 64000,
	},
	{
		ID: "claude-haiku-4-5", Name: "Claude Haiku 4.5", API: APIAnthropicMessages, Provider: "anthropic",
		BaseURL: "https://api.anthropic.com", Reasoning: true, Input: textAndImage,
		Cost: ModelCost{Input: 1, Output: 5, CacheRead: 0.1, CacheWrite: 1.25},
		ContextWindow: 200000, MaxTokens: 64000,
	},

	// OpenAI
	{
		ID: "gpt-5.2", Name: "GPT-5.2", API: APIOpenAIResponses, Provider: "openai",
		BaseURL: "https://api.openai.com/v1", Reasoning: true, Input: textAndImage,
		Cost: ModelCost{Input: 1.75, Output: 14, CacheRead: 0.175},
		ContextWindow: 400000, MaxTokens: 128000,
	},
	{
		ID: "gpt-5.2-codex", Name: "GPT-5.2 Codex", API: APIOpenAIResponses, Provider: "openai",
		BaseURL: "https://api.openai.com/v1", Reasoning: true, Input: textAndImage,
		Cost: ModelCost{Input: 1.75, Output: 14, CacheRead: 0.175},
		ContextWindow: 400000, MaxTokens: 128000,
	},
	{
		ID: "gpt-4.1", Name: "GPT-4.1", API: APIOpenAICompletions, Provider: "openai",
		BaseURL: "https://api.openai.com/v1", Reasoning: false, Input: textAndImage,
		Cost: ModelCost{Input: 2, Output: 8, CacheRead: 0.5},
		ContextWindow: 1047576, MaxTokens: 32768,
	},
	{
		ID: "gpt-4o-mini", Name: "GPT-4o mini", API: APIOpenAICompletions, Provider: "openai",
		BaseURL: "https://api.openai.com/v1", Reasoning: false, Input: textAndImage,
		Cost: ModelCost{Input: 0.15, Output: 0.6, CacheRead: 0.075},
		ContextWindow: 128000, MaxTokens: 16384,
	},

	// OpenAI-compatible
	{
		ID: "mistral-large-latest", Name: "Mistral Large", API: APIOpenAICompletions, Provider: "mistral",
		BaseURL: "https://api.mistral.ai/v1", Reasoning: false, Input: textAndImage,
		Cost: ModelCost{Input: 0.5, Output: 1.5},
		ContextWindow: 128000, MaxTokens: 32768,
	},
	{
		ID: "deepseek-reasoner", Name: "DeepSeek Reasoner", API: APIOpenAICompletions, Provider: "deepseek",
		BaseURL: "https://api.deepseek.com", Reasoning: true, Input: []string{"text"},
		Cost: ModelCost{Input: 0.28, Output: 0.42, CacheRead: 0.028},
		ContextWindow: 128000, MaxTokens: 64000,
	},
}

// GetModel returns the catalog entry for provider/id. An empty provider
// matches any provider.
func GetModel(provider, id string) (Model, bool) {
	for _, m := range Models {
		if m.ID == id && (provider == "" || m.Provider == provider) {
			return m, true
		}
	}
	return Model{}, false
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []Model {
	var result []Model
	for _, m := range Models {
		if provider == "" || strings.EqualFold(m.Provider, provider) {
			result = append(result, m)
		}
	}
	return result
}
