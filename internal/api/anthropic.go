package api

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/nulpointcorp/llm-simulator/internal/engine"
)

// AnthropicContent accepts a plain string or an array of content blocks.
type AnthropicContent struct {
	text   string
	blocks []AnthropicContentBlock
	multi  bool
}

// AnthropicContentBlock is one typed block of message content.
type AnthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Text flattens the content to a single string.
func (c AnthropicContent) Text() string {
	if !c.multi {
		return c.text
	}
	var out string
	for _, b := range c.blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// UnmarshalJSON accepts a string or a block array.
func (c *AnthropicContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.text = s
		c.multi = false
		return nil
	}
	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	c.blocks = blocks
	c.multi = true
	return nil
}

// MarshalJSON renders the original shape back out.
func (c AnthropicContent) MarshalJSON() ([]byte, error) {
	if c.multi {
		return json.Marshal(c.blocks)
	}
	return json.Marshal(c.text)
}

// AnthropicMessage is one turn in the Messages API.
type AnthropicMessage struct {
	Role    string           `json:"role"`
	Content AnthropicContent `json:"content"`
}

// AnthropicMessagesRequest is the POST /v1/messages body.
type AnthropicMessagesRequest struct {
	Model         string             `json:"model"`
	Messages      []AnthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

// ToEngine converts to the engine's neutral shape. The system prompt
// becomes a leading system message.
func (r *AnthropicMessagesRequest) ToEngine() *engine.ChatRequest {
	msgs := make([]engine.Message, 0, len(r.Messages)+1)
	if r.System != "" {
		msgs = append(msgs, engine.Message{Role: "system", Content: r.System})
	}
	for _, m := range r.Messages {
		msgs = append(msgs, engine.Message{Role: m.Role, Content: m.Content.Text()})
	}
	return &engine.ChatRequest{
		Model:       r.Model,
		Messages:    msgs,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		Stream:      r.Stream,
	}
}

// AnthropicUsage is the Messages API token accounting.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicMessagesResponse is the non-streaming /v1/messages body.
type AnthropicMessagesResponse struct {
	ID           string                  `json:"id"`
	Type         string                  `json:"type"`
	Role         string                  `json:"role"`
	Content      []AnthropicContentBlock `json:"content"`
	Model        string                  `json:"model"`
	StopReason   *string                 `json:"stop_reason"`
	StopSequence *string                 `json:"stop_sequence"`
	Usage        AnthropicUsage          `json:"usage"`
}

// AnthropicMessageID builds a Messages API id: "msg_" plus 24 hex chars.
func AnthropicMessageID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "msg_" + raw[:24]
}

// NewAnthropicResponse renders an engine result on the Anthropic dialect.
// The engine's "chatcmpl-" id is replaced by a "msg_" id.
func NewAnthropicResponse(res *engine.ChatResult) AnthropicMessagesResponse {
	stop := "end_turn"
	return AnthropicMessagesResponse{
		ID:         AnthropicMessageID(),
		Type:       "message",
		Role:       "assistant",
		Content:    []AnthropicContentBlock{{Type: "text", Text: res.Content}},
		Model:      res.Model,
		StopReason: &stop,
		Usage: AnthropicUsage{
			InputTokens:  res.Usage.PromptTokens,
			OutputTokens: res.Usage.CompletionTokens,
		},
	}
}

// ── Streaming events ─────────────────────────────────────────────────────────

// AnthropicStreamMessage is the message envelope in message_start.
type AnthropicStreamMessage struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []any          `json:"content"`
	Model        string         `json:"model"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        AnthropicUsage `json:"usage"`
}

// AnthropicEvent is one typed SSE event. Exactly the fields relevant to
// Type are populated.
type AnthropicEvent struct {
	Type string `json:"type"`

	Message      *AnthropicStreamMessage `json:"message,omitempty"`
	Index        *int                    `json:"index,omitempty"`
	ContentBlock *AnthropicContentBlock  `json:"content_block,omitempty"`
	Delta        json.RawMessage         `json:"delta,omitempty"`
	Usage        *AnthropicUsage         `json:"usage,omitempty"`
}

// EventName returns the SSE "event:" field for this event.
func (e AnthropicEvent) EventName() string { return e.Type }

func intPtr(i int) *int { return &i }

// AnthropicMessageStart opens a stream.
func AnthropicMessageStart(id, model string, inputTokens int) AnthropicEvent {
	return AnthropicEvent{
		Type: "message_start",
		Message: &AnthropicStreamMessage{
			ID:      id,
			Type:    "message",
			Role:    "assistant",
			Content: []any{},
			Model:   model,
			Usage:   AnthropicUsage{InputTokens: inputTokens},
		},
	}
}

// AnthropicContentBlockStart opens the text block.
func AnthropicContentBlockStart() AnthropicEvent {
	return AnthropicEvent{
		Type:         "content_block_start",
		Index:        intPtr(0),
		ContentBlock: &AnthropicContentBlock{Type: "text", Text: ""},
	}
}

// AnthropicTextDelta carries one token of text.
func AnthropicTextDelta(text string) AnthropicEvent {
	delta, _ := json.Marshal(map[string]string{"type": "text_delta", "text": text})
	return AnthropicEvent{
		Type:  "content_block_delta",
		Index: intPtr(0),
		Delta: delta,
	}
}

// AnthropicContentBlockStop closes the text block.
func AnthropicContentBlockStop() AnthropicEvent {
	return AnthropicEvent{Type: "content_block_stop", Index: intPtr(0)}
}

// AnthropicMessageDelta carries the stop reason and final usage.
func AnthropicMessageDelta(outputTokens int) AnthropicEvent {
	delta, _ := json.Marshal(map[string]any{"stop_reason": "end_turn", "stop_sequence": nil})
	return AnthropicEvent{
		Type:  "message_delta",
		Delta: delta,
		Usage: &AnthropicUsage{OutputTokens: outputTokens},
	}
}

// AnthropicMessageStop ends the stream.
func AnthropicMessageStop() AnthropicEvent { return AnthropicEvent{Type: "message_stop"} }

// AnthropicPing is the keep-alive event.
func AnthropicPing() AnthropicEvent { return AnthropicEvent{Type: "ping"} }
