package api

import (
	"github.com/nulpointcorp/llm-simulator/internal/engine"
)

// GeminiPart is one part of a content entry. Only text parts are simulated.
type GeminiPart struct {
	Text string `json:"text,omitempty"`
}

// GeminiContent is one conversation turn on the Gemini dialect. Roles are
// "user" and "model".
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// Text flattens the parts to a single string.
func (c GeminiContent) Text() string {
	var out string
	for _, p := range c.Parts {
		out += p.Text
	}
	return out
}

// GeminiGenerationConfig is the generationConfig request block.
type GeminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// GeminiRequest is the generateContent / streamGenerateContent request body.
// The model is not part of the body, it comes from the URL path.
type GeminiRequest struct {
	Contents          []GeminiContent         `json:"contents"`
	SystemInstruction *GeminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

// geminiRole maps a Gemini role to the engine's vocabulary.
func geminiRole(role string) string {
	switch role {
	case "model":
		return "assistant"
	case "system":
		return "user"
	default:
		return "user"
	}
}

// ToEngine converts to the engine's neutral shape. The model id comes from
// the request path.
func (r *GeminiRequest) ToEngine(model string, stream bool) *engine.ChatRequest {
	msgs := make([]engine.Message, 0, len(r.Contents)+1)
	if r.SystemInstruction != nil {
		msgs = append(msgs, engine.Message{Role: "system", Content: r.SystemInstruction.Text()})
	}
	for _, c := range r.Contents {
		msgs = append(msgs, engine.Message{Role: geminiRole(c.Role), Content: c.Text()})
	}

	req := &engine.ChatRequest{Model: model, Messages: msgs, Stream: stream}
	if gc := r.GenerationConfig; gc != nil {
		if gc.MaxOutputTokens != nil {
			req.MaxTokens = *gc.MaxOutputTokens
		}
		req.Temperature = gc.Temperature
		req.TopP = gc.TopP
	}
	return req
}

// GeminiCandidate is one generated candidate.
type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

// GeminiUsageMetadata is the Gemini token accounting block.
type GeminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// GeminiResponse is the generateContent response body, and also the frame
// shape used on the streaming variant.
type GeminiResponse struct {
	Candidates    []GeminiCandidate    `json:"candidates"`
	UsageMetadata *GeminiUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string               `json:"modelVersion,omitempty"`
}

func geminiUsage(u engine.Usage) *GeminiUsageMetadata {
	return &GeminiUsageMetadata{
		PromptTokenCount:     u.PromptTokens,
		CandidatesTokenCount: u.CompletionTokens,
		TotalTokenCount:      u.TotalTokens,
	}
}

// NewGeminiResponse renders an engine result on the Gemini dialect.
func NewGeminiResponse(res *engine.ChatResult) GeminiResponse {
	return GeminiResponse{
		Candidates: []GeminiCandidate{{
			Content: GeminiContent{
				Role:  "model",
				Parts: []GeminiPart{{Text: res.Content}},
			},
			FinishReason: "STOP",
		}},
		UsageMetadata: geminiUsage(res.Usage),
		ModelVersion:  res.Model,
	}
}

// GeminiStreamFrame renders one token as a streaming frame. Intermediate
// frames carry no finish reason or usage.
func GeminiStreamFrame(model, text string) GeminiResponse {
	return GeminiResponse{
		Candidates: []GeminiCandidate{{
			Content: GeminiContent{
				Role:  "model",
				Parts: []GeminiPart{{Text: text}},
			},
		}},
		ModelVersion: model,
	}
}

// GeminiFinalFrame closes a stream with the finish reason and usage.
func GeminiFinalFrame(model string, usage engine.Usage) GeminiResponse {
	return GeminiResponse{
		Candidates: []GeminiCandidate{{
			Content: GeminiContent{
				Role:  "model",
				Parts: []GeminiPart{{Text: ""}},
			},
			FinishReason: "STOP",
		}},
		UsageMetadata: geminiUsage(usage),
		ModelVersion:  model,
	}
}
