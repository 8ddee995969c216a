package config

import "fmt"

// Provider identifies the API dialect a model belongs to. The string values
// appear in /v1/models responses as owned_by.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

// Generation strategies.
const (
	StrategyTemplate = "template"
	StrategyLorem    = "lorem"
	StrategyEcho     = "echo"
	StrategyFixed    = "fixed"
	StrategyRandom   = "random"
)

// GenerationConfig controls how synthetic response text is produced.
type GenerationConfig struct {
	// MinTokens and MaxTokens bound the target response length; the target
	// is drawn uniformly from [MinTokens, min(MaxTokens, request max)].
	MinTokens int `json:"min_tokens" mapstructure:"min_tokens"`
	MaxTokens int `json:"max_tokens" mapstructure:"max_tokens"`

	// Strategy selects the text source: template, lorem, echo, fixed, random.
	Strategy string `json:"strategy" mapstructure:"strategy"`

	// Templates seed the template and fixed strategies.
	Templates []string `json:"templates" mapstructure:"templates"`
}

// DefaultGenerationConfig returns the stock template set.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		MinTokens: 10,
		MaxTokens: 500,
		Strategy:  StrategyTemplate,
		Templates: []string{
			"I'd be happy to help you with that.",
			"Based on the information provided, here's my analysis:",
			"Let me think about this step by step.",
			"That's an interesting question. Here's what I can tell you:",
		},
	}
}

// ModelConfig describes one simulated model.
type ModelConfig struct {
	ID                  string           `json:"id" mapstructure:"id"`
	Provider            Provider         `json:"provider" mapstructure:"provider"`
	ContextLength       int              `json:"context_length" mapstructure:"context_length"`
	MaxOutputTokens     int              `json:"max_output_tokens" mapstructure:"max_output_tokens"`
	SupportsStreaming   bool             `json:"supports_streaming" mapstructure:"supports_streaming"`
	SupportsFunctions   bool             `json:"supports_functions" mapstructure:"supports_functions"`
	SupportsVision      bool             `json:"supports_vision" mapstructure:"supports_vision"`
	IsEmbedding         bool             `json:"is_embedding" mapstructure:"is_embedding"`
	EmbeddingDimensions int              `json:"embedding_dimensions,omitempty" mapstructure:"embedding_dimensions"`
	Generation          GenerationConfig `json:"generation" mapstructure:"generation"`

	// LatencyProfile overrides the default latency profile for this model.
	LatencyProfile string `json:"latency_profile,omitempty" mapstructure:"latency_profile"`
}

// Validate checks the per-model invariants.
func (m ModelConfig) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("model id cannot be empty")
	}
	if m.ContextLength <= 0 {
		return fmt.Errorf("context_length must be > 0")
	}
	// Embedding models produce no output tokens, so 0 is allowed for them.
	if m.MaxOutputTokens <= 0 && !m.IsEmbedding {
		return fmt.Errorf("max_output_tokens must be > 0")
	}
	if m.IsEmbedding && m.EmbeddingDimensions <= 0 {
		return fmt.Errorf("embedding models must specify embedding_dimensions")
	}
	return nil
}

func chatModel(id string, provider Provider, contextLen, maxOut int, vision bool, profile string) ModelConfig {
	return ModelConfig{
		ID:                id,
		Provider:          provider,
		ContextLength:     contextLen,
		MaxOutputTokens:   maxOut,
		SupportsStreaming: true,
		SupportsFunctions: true,
		SupportsVision:    vision,
		Generation:        DefaultGenerationConfig(),
		LatencyProfile:    profile,
	}
}

func embeddingModel(id string, dims int) ModelConfig {
	return ModelConfig{
		ID:                  id,
		Provider:            ProviderOpenAI,
		ContextLength:       8191,
		IsEmbedding:         true,
		EmbeddingDimensions: dims,
		Generation:          DefaultGenerationConfig(),
	}
}

// DefaultModels returns the built-in model catalog.
func DefaultModels() map[string]ModelConfig {
	return map[string]ModelConfig{
		"gpt-4":         chatModel("gpt-4", ProviderOpenAI, 8_192, 4096, false, "gpt4"),
		"gpt-4-turbo":   chatModel("gpt-4-turbo", ProviderOpenAI, 128_000, 4096, true, "gpt4"),
		"gpt-4o":        chatModel("gpt-4o", ProviderOpenAI, 128_000, 16_384, true, "fast"),
		"gpt-4o-mini":   chatModel("gpt-4o-mini", ProviderOpenAI, 128_000, 16_384, true, "fast"),
		"gpt-3.5-turbo": chatModel("gpt-3.5-turbo", ProviderOpenAI, 16_385, 4096, false, "fast"),

		"claude-3-5-sonnet-20241022": chatModel("claude-3-5-sonnet-20241022", ProviderAnthropic, 200_000, 8192, true, "claude"),
		"claude-3-opus-20240229":     chatModel("claude-3-opus-20240229", ProviderAnthropic, 200_000, 4096, true, "claude"),
		"claude-3-sonnet-20240229":   chatModel("claude-3-sonnet-20240229", ProviderAnthropic, 200_000, 4096, true, "claude"),
		"claude-3-haiku-20240307":    chatModel("claude-3-haiku-20240307", ProviderAnthropic, 200_000, 4096, true, "claude"),

		"gemini-1.5-pro":   chatModel("gemini-1.5-pro", ProviderGoogle, 2_000_000, 8192, true, "gemini"),
		"gemini-1.5-flash": chatModel("gemini-1.5-flash", ProviderGoogle, 1_000_000, 8192, true, "gemini"),

		"text-embedding-ada-002": embeddingModel("text-embedding-ada-002", 1536),
		"text-embedding-3-small": embeddingModel("text-embedding-3-small", 1536),
		"text-embedding-3-large": embeddingModel("text-embedding-3-large", 3072),
	}
}
