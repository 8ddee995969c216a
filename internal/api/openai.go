// Package api defines the wire formats of the three simulated provider
// dialects and their conversions to and from the engine's neutral shapes.
package api

import (
	"encoding/json"
	"time"

	"github.com/nulpointcorp/llm-simulator/internal/engine"
	"github.com/nulpointcorp/llm-simulator/internal/version"
)

// MessageContent accepts either a plain string or an array of typed parts,
// as the OpenAI API does. Only text parts contribute to Text().
type MessageContent struct {
	text  string
	parts []ContentPart
	multi bool
}

// ContentPart is one entry of multipart message content.
type ContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL json.RawMessage `json:"image_url,omitempty"`
}

// Text flattens the content to a single string.
func (c MessageContent) Text() string {
	if !c.multi {
		return c.text
	}
	var out string
	for _, p := range c.parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// UnmarshalJSON accepts a string or a part array.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.text = s
		c.multi = false
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	c.parts = parts
	c.multi = true
	return nil
}

// MarshalJSON renders the original shape back out.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.multi {
		return json.Marshal(c.parts)
	}
	return json.Marshal(c.text)
}

// TextContent builds string content.
func TextContent(s string) MessageContent { return MessageContent{text: s} }

// ChatMessage is one OpenAI chat message.
type ChatMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
	Name    string         `json:"name,omitempty"`
}

// StringList accepts a single string or an array of strings, used for stop
// sequences and embedding inputs.
type StringList []string

// UnmarshalJSON accepts "x" or ["x","y"].
func (l *StringList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = []string{s}
		return nil
	}
	var v []string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*l = v
	return nil
}

// ChatCompletionRequest is the OpenAI /v1/chat/completions request body.
// Fields the simulator does not act on are still parsed so well-formed
// client payloads round-trip without errors.
type ChatCompletionRequest struct {
	Model               string          `json:"model"`
	Messages            []ChatMessage   `json:"messages"`
	Temperature         *float64        `json:"temperature,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	N                   *int            `json:"n,omitempty"`
	Stream              bool            `json:"stream,omitempty"`
	Stop                StringList      `json:"stop,omitempty"`
	MaxTokens           *int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	PresencePenalty     *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty    *float64        `json:"frequency_penalty,omitempty"`
	User                string          `json:"user,omitempty"`
	Tools               json.RawMessage `json:"tools,omitempty"`
	ToolChoice          json.RawMessage `json:"tool_choice,omitempty"`
	ResponseFormat      json.RawMessage `json:"response_format,omitempty"`
	Seed                *int64          `json:"seed,omitempty"`
}

// EffectiveMaxTokens resolves max_completion_tokens over max_tokens, with
// the conventional 4096 fallback.
func (r *ChatCompletionRequest) EffectiveMaxTokens() int {
	if r.MaxCompletionTokens != nil {
		return *r.MaxCompletionTokens
	}
	if r.MaxTokens != nil {
		return *r.MaxTokens
	}
	return 4096
}

// ToEngine converts the wire request to the engine's neutral shape.
func (r *ChatCompletionRequest) ToEngine() *engine.ChatRequest {
	msgs := make([]engine.Message, len(r.Messages))
	for i, m := range r.Messages {
		msgs[i] = engine.Message{Role: m.Role, Content: m.Content.Text()}
	}
	return &engine.ChatRequest{
		Model:       r.Model,
		Messages:    msgs,
		MaxTokens:   r.EffectiveMaxTokens(),
		Temperature: r.Temperature,
		TopP:        r.TopP,
		N:           r.N,
		Stream:      r.Stream,
	}
}

// ChatCompletionResponse is the OpenAI response body.
type ChatCompletionResponse struct {
	ID                string       `json:"id"`
	Object            string       `json:"object"`
	Created           int64        `json:"created"`
	Model             string       `json:"model"`
	Choices           []ChatChoice `json:"choices"`
	Usage             engine.Usage `json:"usage"`
	SystemFingerprint string       `json:"system_fingerprint,omitempty"`
}

// ChatChoice is one response choice.
type ChatChoice struct {
	Index        int                 `json:"index"`
	Message      ChatResponseMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

// ChatResponseMessage is the assistant message inside a choice.
type ChatResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewChatCompletionResponse renders an engine result as an OpenAI response.
func NewChatCompletionResponse(res *engine.ChatResult) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:      res.ID,
		Object:  "chat.completion",
		Created: res.Created,
		Model:   res.Model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ChatResponseMessage{Role: "assistant", Content: res.Content},
			FinishReason: "stop",
		}},
		Usage:             res.Usage,
		SystemFingerprint: version.Fingerprint(),
	}
}

// ChunkDelta is the incremental payload of one stream chunk.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice is one choice inside a stream chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChatCompletionChunk is one SSE frame body on the OpenAI dialect.
type ChatCompletionChunk struct {
	ID                string        `json:"id"`
	Object            string        `json:"object"`
	Created           int64         `json:"created"`
	Model             string        `json:"model"`
	Choices           []ChunkChoice `json:"choices"`
	Usage             *engine.Usage `json:"usage,omitempty"`
	SystemFingerprint string        `json:"system_fingerprint,omitempty"`
}

func newChunk(id, model string, created int64, choice ChunkChoice) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:                id,
		Object:            "chat.completion.chunk",
		Created:           created,
		Model:             model,
		Choices:           []ChunkChoice{choice},
		SystemFingerprint: version.Fingerprint(),
	}
}

// RoleChunk is the opening frame carrying the assistant role.
func RoleChunk(id, model string, created int64) ChatCompletionChunk {
	return newChunk(id, model, created, ChunkChoice{Delta: ChunkDelta{Role: "assistant"}})
}

// ContentChunk carries one token of content.
func ContentChunk(id, model string, created int64, content string) ChatCompletionChunk {
	return newChunk(id, model, created, ChunkChoice{Delta: ChunkDelta{Content: content}})
}

// FinishChunk closes the stream with a finish reason and usage.
func FinishChunk(id, model string, created int64, usage engine.Usage) ChatCompletionChunk {
	reason := "stop"
	c := newChunk(id, model, created, ChunkChoice{FinishReason: &reason})
	c.Usage = &usage
	return c
}

// EmbeddingsRequest is the OpenAI /v1/embeddings request body.
type EmbeddingsRequest struct {
	Model          string     `json:"model"`
	Input          StringList `json:"input"`
	EncodingFormat string     `json:"encoding_format,omitempty"`
	Dimensions     *int       `json:"dimensions,omitempty"`
	User           string     `json:"user,omitempty"`
}

// ToEngine converts to the engine's request shape.
func (r *EmbeddingsRequest) ToEngine() *engine.EmbeddingsRequest {
	dims := 0
	if r.Dimensions != nil {
		dims = *r.Dimensions
	}
	return &engine.EmbeddingsRequest{Model: r.Model, Inputs: r.Input, Dimensions: dims}
}

// EmbeddingObject is one vector in the response list.
type EmbeddingObject struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// EmbeddingUsage is the token accounting for embeddings.
type EmbeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EmbeddingsResponse is the OpenAI embeddings response body.
type EmbeddingsResponse struct {
	Object string            `json:"object"`
	Data   []EmbeddingObject `json:"data"`
	Model  string            `json:"model"`
	Usage  EmbeddingUsage    `json:"usage"`
}

// NewEmbeddingsResponse renders an engine result.
func NewEmbeddingsResponse(res *engine.EmbeddingsResult) EmbeddingsResponse {
	data := make([]EmbeddingObject, len(res.Vectors))
	for i, v := range res.Vectors {
		data[i] = EmbeddingObject{Object: "embedding", Index: i, Embedding: v}
	}
	return EmbeddingsResponse{
		Object: "list",
		Data:   data,
		Model:  res.Model,
		Usage: EmbeddingUsage{
			PromptTokens: res.Usage.PromptTokens,
			TotalTokens:  res.Usage.TotalTokens,
		},
	}
}

// ModelObject is one /v1/models entry.
type ModelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse is the /v1/models list body.
type ModelsResponse struct {
	Object string        `json:"object"`
	Data   []ModelObject `json:"data"`
}

// NewModelsResponse renders the catalog.
func NewModelsResponse(models []engine.ModelInfo) ModelsResponse {
	data := make([]ModelObject, len(models))
	for i, m := range models {
		data[i] = NewModelObject(m)
	}
	return ModelsResponse{Object: "list", Data: data}
}

// NewModelObject renders one catalog entry.
func NewModelObject(m engine.ModelInfo) ModelObject {
	created := m.Created
	if created == 0 {
		created = time.Now().Unix()
	}
	return ModelObject{ID: m.ID, Object: "model", Created: created, OwnedBy: m.OwnedBy}
}
