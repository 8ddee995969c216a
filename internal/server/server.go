// Package server is the HTTP surface of the simulator.
//
// It binds the three provider dialects (OpenAI, Anthropic, Gemini) plus the
// ops and admin endpoints onto one fasthttp listener, applies the middleware
// chain (recovery → request-id → timing → security headers → CORS → drain →
// rate limit → auth → admin gate), and renders engine results as JSON or
// SSE.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-simulator/internal/api"
	"github.com/nulpointcorp/llm-simulator/internal/config"
	"github.com/nulpointcorp/llm-simulator/internal/engine"
	"github.com/nulpointcorp/llm-simulator/internal/logger"
	"github.com/nulpointcorp/llm-simulator/internal/metrics"
	"github.com/nulpointcorp/llm-simulator/internal/ratelimit"
	"github.com/nulpointcorp/llm-simulator/internal/security"
	"github.com/nulpointcorp/llm-simulator/internal/simerr"
	"github.com/nulpointcorp/llm-simulator/pkg/apierr"
)

// Options holds the optional dependencies of a Server. All fields are
// nil-safe.
type Options struct {
	// Metrics enables Prometheus collection. When nil, metrics are disabled.
	Metrics *metrics.Registry

	// RequestLogger is the async request logger.
	RequestLogger *logger.Logger

	// SharedLimiter replaces the in-process token buckets with a Redis
	// sliding window shared across replicas.
	SharedLimiter *ratelimit.SharedLimiter

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// Server dispatches simulator requests. All dependencies are injected via
// the constructor so they can be replaced in unit tests.
type Server struct {
	cfg      atomic.Pointer[config.SimulatorConfig]
	engine   *engine.Engine
	keystore *security.Keystore
	limiter  *security.Limiter
	drain    *DrainController

	metrics   *metrics.Registry
	reqLogger *logger.Logger
	shared    *ratelimit.SharedLimiter
	log       *slog.Logger

	srv *fasthttp.Server
}

// New builds a Server over a validated config and a running engine.
func New(cfg *config.SimulatorConfig, eng *engine.Engine, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		engine:    eng,
		keystore:  security.NewKeystore(cfg.Security.APIKeys.Keys),
		limiter:   security.NewLimiter(),
		drain:     NewDrainController(cfg.Server.DrainTimeout),
		metrics:   opts.Metrics,
		reqLogger: opts.RequestLogger,
		shared:    opts.SharedLimiter,
		log:       log,
	}
	s.cfg.Store(cfg)
	return s
}

// config returns the current configuration snapshot. Admin config updates
// swap the pointer; readers never block.
func (s *Server) config() *config.SimulatorConfig {
	return s.cfg.Load()
}

// applyConfig installs a validated config on the engine, the key table, and
// the middleware chain.
func (s *Server) applyConfig(cfg *config.SimulatorConfig) error {
	if err := s.engine.UpdateConfig(cfg); err != nil {
		return err
	}
	s.keystore.ReplaceKeys(cfg.Security.APIKeys.Keys)
	s.cfg.Store(cfg)
	return nil
}

// Drain exposes the drain controller for lifecycle management.
func (s *Server) Drain() *DrainController { return s.drain }

// ── OpenAI dialect ───────────────────────────────────────────────────────────

// handleChatCompletions serves POST /v1/chat/completions and /v1/completions.
func (s *Server) handleChatCompletions(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	route := "chat_completions"
	if string(ctx.Path()) == "/v1/completions" {
		route = "completions"
	}
	streaming := false
	model := "unknown"

	if s.metrics != nil {
		s.metrics.IncInFlight()
	}
	defer func() {
		if s.metrics == nil || streaming {
			return // streams are finalised by the stream writer
		}
		s.metrics.DecInFlight()
		status := ctx.Response.StatusCode()
		dur := time.Since(start)
		s.metrics.ObserveHTTP(route, status, dur)
		s.metrics.RecordRequest("openai", model, status)
		s.metrics.ObserveRequestDuration("openai", route, dur)
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	var req api.ChatCompletionRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	model = req.Model

	s.log.Info("chat_request",
		slog.String("request_id", reqID),
		slog.String("dialect", "openai"),
		slog.String("model", req.Model),
		slog.Bool("stream", req.Stream),
	)

	engReq := req.ToEngine()

	if req.Stream {
		res, err := s.engine.ChatCompletionStream(ctx, engReq)
		if err != nil {
			s.recordOutcome(req.Model, err)
			s.writeError(ctx, err, "openai", route, reqID, req.Model, start)
			return
		}
		s.recordOutcome(req.Model, nil)
		streaming = true
		s.streamOpenAI(ctx, res, streamFinisher{
			server: s, dialect: "openai", route: route,
			reqID: reqID, keyID: identityFrom(ctx).KeyID, model: req.Model, start: start,
		})
		return
	}

	res, err := s.engine.ChatCompletion(ctx, engReq)
	if err != nil {
		s.recordOutcome(req.Model, err)
		s.writeError(ctx, err, "openai", route, reqID, req.Model, start)
		return
	}
	s.recordOutcome(req.Model, nil)

	s.finishRequest("openai", route, reqID, identityFrom(ctx).KeyID, res.Model, res.Usage, start, fasthttp.StatusOK, false)
	writeJSON(ctx, api.NewChatCompletionResponse(res))
}

// handleEmbeddings serves POST /v1/embeddings.
func (s *Server) handleEmbeddings(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	route := "embeddings"
	model := "unknown"

	if s.metrics != nil {
		s.metrics.IncInFlight()
	}
	defer func() {
		if s.metrics == nil {
			return
		}
		s.metrics.DecInFlight()
		status := ctx.Response.StatusCode()
		dur := time.Since(start)
		s.metrics.ObserveHTTP(route, status, dur)
		s.metrics.RecordRequest("openai", model, status)
		s.metrics.ObserveRequestDuration("openai", route, dur)
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	var req api.EmbeddingsRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	model = req.Model

	res, err := s.engine.Embeddings(ctx, req.ToEngine())
	if err != nil {
		s.recordOutcome(req.Model, err)
		s.writeError(ctx, err, "openai", route, reqID, req.Model, start)
		return
	}
	s.recordOutcome(req.Model, nil)

	s.finishRequest("openai", route, reqID, identityFrom(ctx).KeyID, res.Model, res.Usage, start, fasthttp.StatusOK, false)
	writeJSON(ctx, api.NewEmbeddingsResponse(res))
}

// handleListModels serves GET /v1/models.
func (s *Server) handleListModels(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, api.NewModelsResponse(s.engine.ListModels()))
}

// handleGetModel serves GET /v1/models/{id}.
func (s *Server) handleGetModel(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	m, ok := s.engine.GetModel(id)
	if !ok {
		apierr.WriteSimError(ctx, simerr.ModelNotFound(id))
		return
	}
	writeJSON(ctx, api.NewModelObject(m))
}

// ── Anthropic dialect ────────────────────────────────────────────────────────

// handleMessages serves POST /v1/messages and /messages.
func (s *Server) handleMessages(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	route := "messages"
	streaming := false
	model := "unknown"

	if s.metrics != nil {
		s.metrics.IncInFlight()
	}
	defer func() {
		if s.metrics == nil || streaming {
			return
		}
		s.metrics.DecInFlight()
		status := ctx.Response.StatusCode()
		dur := time.Since(start)
		s.metrics.ObserveHTTP(route, status, dur)
		s.metrics.RecordRequest("anthropic", model, status)
		s.metrics.ObserveRequestDuration("anthropic", route, dur)
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	var req api.AnthropicMessagesRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	model = req.Model

	if req.MaxTokens <= 0 {
		apierr.WriteSimError(ctx, simerr.Validation("max_tokens", "max_tokens is required and must be positive"))
		return
	}

	s.log.Info("chat_request",
		slog.String("request_id", reqID),
		slog.String("dialect", "anthropic"),
		slog.String("model", req.Model),
		slog.Bool("stream", req.Stream),
	)

	engReq := req.ToEngine()

	if req.Stream {
		res, err := s.engine.ChatCompletionStream(ctx, engReq)
		if err != nil {
			s.recordOutcome(req.Model, err)
			s.writeError(ctx, err, "anthropic", route, reqID, req.Model, start)
			return
		}
		s.recordOutcome(req.Model, nil)
		streaming = true
		s.streamAnthropic(ctx, res, streamFinisher{
			server: s, dialect: "anthropic", route: route,
			reqID: reqID, keyID: identityFrom(ctx).KeyID, model: req.Model, start: start,
		})
		return
	}

	res, err := s.engine.ChatCompletion(ctx, engReq)
	if err != nil {
		s.recordOutcome(req.Model, err)
		s.writeError(ctx, err, "anthropic", route, reqID, req.Model, start)
		return
	}
	s.recordOutcome(req.Model, nil)

	s.finishRequest("anthropic", route, reqID, identityFrom(ctx).KeyID, res.Model, res.Usage, start, fasthttp.StatusOK, false)
	writeJSON(ctx, api.NewAnthropicResponse(res))
}

// ── Gemini dialect ───────────────────────────────────────────────────────────

// handleGenerateContent serves the Gemini generateContent routes, both the
// "/model/action" and "model:action" URL shapes, for /v1 and /v1beta.
func (s *Server) handleGenerateContent(ctx *fasthttp.RequestCtx) {
	model, _ := ctx.UserValue("model").(string)
	action, _ := ctx.UserValue("action").(string)

	// The colon form arrives as a single path segment: "gemini-1.5-pro:generateContent".
	if action == "" {
		if i := strings.IndexByte(model, ':'); i >= 0 {
			model, action = model[:i], model[i+1:]
		}
	}

	switch action {
	case "generateContent":
		s.dispatchGemini(ctx, model, false)
	case "streamGenerateContent":
		s.dispatchGemini(ctx, model, true)
	default:
		apierr.Write(ctx, fasthttp.StatusNotFound,
			fmt.Sprintf("unknown method %q", action),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
	}
}

func (s *Server) dispatchGemini(ctx *fasthttp.RequestCtx, model string, stream bool) {
	start := time.Now()
	route := "generate_content"
	streaming := false

	if s.metrics != nil {
		s.metrics.IncInFlight()
	}
	defer func() {
		if s.metrics == nil || streaming {
			return
		}
		s.metrics.DecInFlight()
		status := ctx.Response.StatusCode()
		dur := time.Since(start)
		s.metrics.ObserveHTTP(route, status, dur)
		s.metrics.RecordRequest("gemini", model, status)
		s.metrics.ObserveRequestDuration("gemini", route, dur)
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	var req api.GeminiRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			fmt.Sprintf("invalid JSON: %s", err.Error()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	s.log.Info("chat_request",
		slog.String("request_id", reqID),
		slog.String("dialect", "gemini"),
		slog.String("model", model),
		slog.Bool("stream", stream),
	)

	engReq := req.ToEngine(model, stream)

	if stream {
		res, err := s.engine.ChatCompletionStream(ctx, engReq)
		if err != nil {
			s.recordOutcome(model, err)
			s.writeError(ctx, err, "gemini", route, reqID, model, start)
			return
		}
		s.recordOutcome(model, nil)
		streaming = true
		s.streamGemini(ctx, res, streamFinisher{
			server: s, dialect: "gemini", route: route,
			reqID: reqID, keyID: identityFrom(ctx).KeyID, model: model, start: start,
		})
		return
	}

	res, err := s.engine.ChatCompletion(ctx, engReq)
	if err != nil {
		s.recordOutcome(model, err)
		s.writeError(ctx, err, "gemini", route, reqID, model, start)
		return
	}
	s.recordOutcome(model, nil)

	s.finishRequest("gemini", route, reqID, identityFrom(ctx).KeyID, res.Model, res.Usage, start, fasthttp.StatusOK, false)
	writeJSON(ctx, api.NewGeminiResponse(res))
}

// ── Shared helpers ───────────────────────────────────────────────────────────

// recordOutcome feeds the circuit breakers. Injected errors count as
// failures so breakers trip on chaos exactly like on real faults.
func (s *Server) recordOutcome(model string, err error) {
	ch := s.engine.Chaos()
	if err != nil {
		ch.RecordFailure(model)
		return
	}
	ch.RecordSuccess(model)
}

// writeError renders an engine error, honoring injected delays and counting
// chaos metrics.
func (s *Server) writeError(ctx *fasthttp.RequestCtx, err error, dialect, route, reqID, model string, start time.Time) {
	if se, ok := err.(*simerr.Error); ok {
		if se.Delay > 0 {
			time.Sleep(se.Delay)
		}
		if se.Kind == simerr.KindInjected && s.metrics != nil {
			s.metrics.RecordInjectedError(string(se.Injected))
		}
	}
	apierr.WriteSimError(ctx, err)

	s.log.Warn("request_failed",
		slog.String("request_id", reqID),
		slog.String("dialect", dialect),
		slog.String("model", model),
		slog.String("error", err.Error()),
		slog.Duration("elapsed", time.Since(start)),
	)
	s.logRequest(dialect, route, reqID, identityFrom(ctx).KeyID, model, engine.Usage{}, start,
		ctx.Response.StatusCode(), false, isInjected(err))
}

func isInjected(err error) bool {
	se, ok := err.(*simerr.Error)
	return ok && se.Kind == simerr.KindInjected
}

// finishRequest emits the success log entry and token metrics.
func (s *Server) finishRequest(dialect, route, reqID, keyID, model string, usage engine.Usage, start time.Time, status int, streamed bool) {
	if s.metrics != nil {
		s.metrics.AddTokens(model, usage.PromptTokens, usage.CompletionTokens)
	}
	s.logRequest(dialect, route, reqID, keyID, model, usage, start, status, streamed, false)

	s.log.Debug("response_ok",
		slog.String("request_id", reqID),
		slog.String("dialect", dialect),
		slog.String("model", model),
		slog.Int("input_tokens", usage.PromptTokens),
		slog.Int("output_tokens", usage.CompletionTokens),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// logRequest enqueues a RequestLog entry to the async logger. Never blocks.
func (s *Server) logRequest(dialect, route, reqID, keyID, model string, usage engine.Usage, start time.Time, status int, streamed, injected bool) {
	if s.reqLogger == nil {
		return
	}

	reqUUID, _ := uuid.Parse(reqID)

	s.reqLogger.Log(logger.RequestLog{
		ID:           reqUUID,
		Dialect:      dialect,
		Endpoint:     route,
		Model:        model,
		KeyID:        keyID,
		InputTokens:  uint32(usage.PromptTokens),
		OutputTokens: uint32(usage.CompletionTokens),
		LatencyMs:    uint32(time.Since(start).Milliseconds()),
		Status:       uint16(status),
		Streamed:     streamed,
		Injected:     injected,
		CreatedAt:    time.Now(),
	})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
