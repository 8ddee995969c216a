// Package engine is the simulation core: it generates synthetic completions
// and embeddings, shapes their timing from latency profiles, and routes every
// request through the chaos pipeline. It knows nothing about HTTP; provider
// handlers convert wire formats to and from its neutral request shapes.
package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/llm-simulator/internal/chaos"
	"github.com/nulpointcorp/llm-simulator/internal/config"
	"github.com/nulpointcorp/llm-simulator/internal/latency"
	"github.com/nulpointcorp/llm-simulator/internal/simerr"
)

// ChatRequest is the provider-neutral chat completion request.
type ChatRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int // 0 means the model's maximum
	Temperature *float64
	TopP        *float64
	N           *int
	Stream      bool
}

// Validate checks the request fields the engine cares about.
func (r *ChatRequest) Validate() *simerr.Error {
	if r.Model == "" {
		return simerr.Validation("model", "model is required")
	}
	if len(r.Messages) == 0 {
		return simerr.Validation("messages", "messages cannot be empty")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return simerr.Validation("temperature", "temperature must be between 0 and 2")
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return simerr.Validation("top_p", "top_p must be between 0 and 1")
	}
	if r.N != nil && (*r.N < 1 || *r.N > 128) {
		return simerr.Validation("n", "n must be between 1 and 128")
	}
	if r.MaxTokens < 0 {
		return simerr.Validation("max_tokens", "max_tokens must be positive")
	}
	return nil
}

// EstimateInputTokens approximates prompt size at ~4 chars per token with a
// one-token floor per message.
func (r *ChatRequest) EstimateInputTokens() int {
	total := 0
	for _, m := range r.Messages {
		n := len(m.Content) / 4
		if n < 1 {
			n = 1
		}
		total += n
	}
	return total
}

// Usage is the token accounting attached to every response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewUsage builds a usage record.
func NewUsage(prompt, completion int) Usage {
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// ChatResult is a completed (non-streaming) chat response.
type ChatResult struct {
	ID      string
	Model   string
	Content string
	Usage   Usage
	Created int64
}

// StreamResult carries everything a streaming renderer needs: the token
// chunks and the timing schedule to play them out on.
type StreamResult struct {
	ID       string
	Model    string
	Tokens   []string
	Schedule latency.Schedule
	Usage    Usage
	Created  int64
}

// EmbeddingsRequest is the provider-neutral embeddings request.
type EmbeddingsRequest struct {
	Model      string
	Inputs     []string
	Dimensions int // 0 means the model default
}

// EmbeddingsResult holds one vector per input.
type EmbeddingsResult struct {
	Model   string
	Vectors [][]float32
	Usage   Usage
}

// ModelInfo is the catalog entry returned by model listing.
type ModelInfo struct {
	ID      string
	OwnedBy string
	Created int64
}

// Engine ties the generator, latency simulator, and chaos pipeline together.
// Safe for concurrent use; UpdateConfig swaps all three atomically.
type Engine struct {
	mu        sync.RWMutex
	cfg       *config.SimulatorConfig
	sampler   *latency.Sampler
	latency   *latency.Simulator
	chaos     *chaos.Engine
	generator *Generator

	state *State
	start time.Time
}

// New builds an engine over a validated configuration.
func New(cfg *config.SimulatorConfig) *Engine {
	e := &Engine{
		state: NewState(),
		start: time.Now(),
	}
	e.install(cfg)
	return e
}

// install rebuilds the seeded components from cfg. Callers hold no locks.
func (e *Engine) install(cfg *config.SimulatorConfig) {
	sampler := latency.NewSampler(cfg.Seed)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.sampler = sampler
	e.latency = latency.NewSimulator(cfg.Latency, sampler)
	e.chaos = chaos.New(cfg.Chaos, sampler)
	if e.generator == nil || cfg.Seed != nil {
		e.generator = NewGenerator(cfg.Seed)
	}
}

// Config returns the current configuration.
func (e *Engine) Config() *config.SimulatorConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// UpdateConfig validates and applies a new configuration at runtime. The
// latency simulator and chaos engine are rebuilt; the generator is re-seeded
// only when the new config carries a seed.
func (e *Engine) UpdateConfig(cfg *config.SimulatorConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.install(cfg)
	return nil
}

// Uptime returns how long the engine has been running.
func (e *Engine) Uptime() time.Duration { return time.Since(e.start) }

// Chaos returns the current chaos engine, for breaker admin endpoints.
func (e *Engine) Chaos() *chaos.Engine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.chaos
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats { return e.state.Snapshot() }

// ResetStats clears the engine counters.
func (e *Engine) ResetStats() { e.state.Reset() }

// components snapshots the swappable parts under one read lock.
func (e *Engine) components() (*config.SimulatorConfig, *latency.Simulator, *chaos.Engine, *Generator) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg, e.latency, e.chaos, e.generator
}

// ChatCompletion produces a full response, sleeping out the simulated
// time-to-first-token plus overhead before returning.
func (e *Engine) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	e.state.IncRequests()

	cfg, lat, chaosEng, gen := e.components()

	if err := chaosEng.MaybeInject(req.Model, "/chat/completions"); err != nil {
		e.state.IncErrors()
		return nil, err
	}

	model, ok := cfg.Model(req.Model)
	if !ok {
		e.state.IncErrors()
		return nil, simerr.ModelNotFound(req.Model)
	}
	if err := req.Validate(); err != nil {
		e.state.IncErrors()
		return nil, err
	}

	inputTokens := req.EstimateInputTokens()
	if inputTokens > model.ContextLength {
		e.state.IncErrors()
		return nil, simerr.ContextLengthExceeded(inputTokens, model.ContextLength)
	}

	content, outputTokens := gen.Generate(req.Messages, effectiveMaxTokens(req, model), model.Generation)

	if err := sleep(ctx, lat.TTFT(model.LatencyProfile)+lat.Overhead(model.LatencyProfile)); err != nil {
		e.state.IncErrors()
		return nil, err
	}

	e.state.RecordLatency(time.Since(start))
	e.state.AddTokens(uint64(inputTokens), uint64(outputTokens))

	return &ChatResult{
		ID:      completionID(),
		Model:   req.Model,
		Content: content,
		Usage:   NewUsage(inputTokens, outputTokens),
		Created: time.Now().Unix(),
	}, nil
}

// ChatCompletionStream prepares a streaming response. It does not sleep:
// the renderer plays out the schedule while writing chunks.
func (e *Engine) ChatCompletionStream(_ context.Context, req *ChatRequest) (*StreamResult, error) {
	e.state.IncRequests()

	cfg, lat, chaosEng, gen := e.components()

	if err := chaosEng.MaybeInject(req.Model, "/chat/completions"); err != nil {
		e.state.IncErrors()
		return nil, err
	}

	model, ok := cfg.Model(req.Model)
	if !ok {
		e.state.IncErrors()
		return nil, simerr.ModelNotFound(req.Model)
	}
	if !model.SupportsStreaming {
		e.state.IncErrors()
		return nil, simerr.Validation("stream", "model %s does not support streaming", req.Model)
	}
	if err := req.Validate(); err != nil {
		e.state.IncErrors()
		return nil, err
	}

	inputTokens := req.EstimateInputTokens()
	if inputTokens > model.ContextLength {
		e.state.IncErrors()
		return nil, simerr.ContextLengthExceeded(inputTokens, model.ContextLength)
	}

	content, outputTokens := gen.Generate(req.Messages, effectiveMaxTokens(req, model), model.Generation)
	tokens := gen.Tokenize(content)

	e.state.AddTokens(uint64(inputTokens), uint64(outputTokens))

	return &StreamResult{
		ID:       completionID(),
		Model:    req.Model,
		Tokens:   tokens,
		Schedule: lat.GenerateSchedule(model.LatencyProfile, len(tokens)),
		Usage:    NewUsage(inputTokens, outputTokens),
		Created:  time.Now().Unix(),
	}, nil
}

// Embeddings produces deterministic vectors for each input, sleeping out
// the time-to-first-token.
func (e *Engine) Embeddings(ctx context.Context, req *EmbeddingsRequest) (*EmbeddingsResult, error) {
	start := time.Now()
	e.state.IncRequests()

	cfg, lat, chaosEng, gen := e.components()

	if err := chaosEng.MaybeInject(req.Model, "/embeddings"); err != nil {
		e.state.IncErrors()
		return nil, err
	}

	model, ok := cfg.Model(req.Model)
	if !ok {
		e.state.IncErrors()
		return nil, simerr.ModelNotFound(req.Model)
	}
	if !model.IsEmbedding {
		e.state.IncErrors()
		return nil, simerr.Validation("model", "model %s is not an embedding model", req.Model)
	}
	if len(req.Inputs) == 0 {
		e.state.IncErrors()
		return nil, simerr.Validation("input", "input cannot be empty")
	}

	dims := req.Dimensions
	if dims <= 0 {
		dims = model.EmbeddingDimensions
	}
	if dims <= 0 {
		dims = 1536
	}

	vectors := make([][]float32, 0, len(req.Inputs))
	totalTokens := 0
	for _, input := range req.Inputs {
		vectors = append(vectors, gen.GenerateEmbedding(dims, input))
		n := len(input) / 4
		if n < 1 {
			n = 1
		}
		totalTokens += n
	}

	if err := sleep(ctx, lat.TTFT("")); err != nil {
		e.state.IncErrors()
		return nil, err
	}

	e.state.RecordLatency(time.Since(start))
	e.state.AddTokens(uint64(totalTokens), 0)

	return &EmbeddingsResult{
		Model:   req.Model,
		Vectors: vectors,
		Usage:   Usage{PromptTokens: totalTokens, TotalTokens: totalTokens},
	}, nil
}

// ListModels returns the catalog sorted by id.
func (e *Engine) ListModels() []ModelInfo {
	cfg := e.Config()
	out := make([]ModelInfo, 0, len(cfg.Models))
	for id, m := range cfg.Models {
		out = append(out, ModelInfo{ID: id, OwnedBy: string(m.Provider), Created: e.start.Unix()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetModel returns one catalog entry.
func (e *Engine) GetModel(id string) (ModelInfo, bool) {
	cfg := e.Config()
	m, ok := cfg.Models[id]
	if !ok {
		return ModelInfo{}, false
	}
	return ModelInfo{ID: id, OwnedBy: string(m.Provider), Created: e.start.Unix()}, true
}

// ModelExists reports whether a model id is in the catalog.
func (e *Engine) ModelExists(id string) bool {
	_, ok := e.Config().Models[id]
	return ok
}

func effectiveMaxTokens(req *ChatRequest, model config.ModelConfig) int {
	max := req.MaxTokens
	if max <= 0 || max > model.MaxOutputTokens {
		max = model.MaxOutputTokens
	}
	return max
}

// completionID builds an OpenAI-shaped id: "chatcmpl-" plus 24 hex chars.
func completionID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "chatcmpl-" + raw[:24]
}

// sleep waits for d, returning early with a timeout error if ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return simerr.Internal("request cancelled: %v", ctx.Err())
	}
}
