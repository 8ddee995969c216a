package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-simulator/internal/api"
	"github.com/nulpointcorp/llm-simulator/internal/engine"
)

// keepAliveInterval bounds the silence on an SSE connection: if the next
// token is further away than this, a keep-alive frame is emitted first.
const keepAliveInterval = 15 * time.Second

// drainHandoffKey marks a request whose in-flight slot is released by the
// stream finisher instead of the drain middleware.
const drainHandoffKey = "drain_handoff"

// streamFinisher finalises the in-flight slot, metrics, and logging for a
// streaming response once the writer drains (the handler's own deferred
// accounting is skipped for streams).
type streamFinisher struct {
	server  *Server
	dialect string
	route   string
	reqID   string
	keyID   string
	model   string
	start   time.Time
}

func (f streamFinisher) finish(usage engine.Usage, tokensEmitted int) {
	s := f.server
	s.drain.RequestCompleted()
	if s.metrics != nil {
		dur := time.Since(f.start)
		s.metrics.DecInFlight()
		s.metrics.StreamFinished()
		s.metrics.ObserveHTTP(f.route, fasthttp.StatusOK, dur)
		s.metrics.RecordRequest(f.dialect, f.model, fasthttp.StatusOK)
		s.metrics.ObserveRequestDuration(f.dialect, f.route, dur)
		s.metrics.AddStreamTokens(f.dialect, tokensEmitted)
		s.metrics.AddTokens(f.model, usage.PromptTokens, usage.CompletionTokens)
	}
	s.logRequest(f.dialect, f.route, f.reqID, f.keyID, f.model, usage, f.start, fasthttp.StatusOK, true, false)
}

func sseHeaders(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)
}

// waitStream sleeps out one inter-event delay, emitting keep-alive frames
// when the gap exceeds keepAliveInterval. Returns false when a keep-alive
// write fails (client gone).
func waitStream(d time.Duration, keepalive func() bool) bool {
	for d > 0 {
		step := d
		if step > keepAliveInterval {
			step = keepAliveInterval
		}
		time.Sleep(step)
		d -= step
		if d > 0 && keepalive != nil && !keepalive() {
			return false
		}
	}
	return true
}

// delayFor returns the inter-token delay applied before emitting token i.
func delayFor(sched *engine.StreamResult, i int) time.Duration {
	if i >= len(sched.Schedule.TokenDelays) {
		return 0
	}
	return sched.Schedule.TokenDelays[i]
}

// sseSanitizer escapes raw newlines so a JSON payload can never break SSE
// framing.
var sseSanitizer = strings.NewReplacer("\n", "\\n", "\r", "\\r")

// writeData emits one "data: <json>\n\n" frame and flushes it.
func writeData(w *bufio.Writer, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	fmt.Fprintf(w, "data: %s\n\n", sseSanitizer.Replace(string(data)))
	return w.Flush() == nil
}

// writeEvent emits one typed "event: <name>\ndata: <json>\n\n" frame.
func writeEvent(w *bufio.Writer, name string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, sseSanitizer.Replace(string(data)))
	return w.Flush() == nil
}

func writeComment(w *bufio.Writer) bool {
	fmt.Fprint(w, ": keep-alive\n\n")
	return w.Flush() == nil
}

// streamOpenAI plays out a schedule as OpenAI chat.completion.chunk frames:
// role chunk after TTFT+overhead, one content chunk per token with its ITL
// delay, a finish chunk with usage, then the [DONE] terminator.
func (s *Server) streamOpenAI(ctx *fasthttp.RequestCtx, res *engine.StreamResult, fin streamFinisher) {
	sseHeaders(ctx)
	ctx.SetUserValue(drainHandoffKey, true)
	if s.metrics != nil {
		s.metrics.StreamStarted()
	}

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }() //nolint:errcheck // panic recovery in stream writer

		emitted := 0
		defer func() { fin.finish(res.Usage, emitted) }()

		keepalive := func() bool { return writeComment(w) }

		if !waitStream(res.Schedule.TTFT+res.Schedule.Overhead, keepalive) {
			return
		}
		if !writeData(w, api.RoleChunk(res.ID, res.Model, res.Created)) {
			return
		}

		for i, tok := range res.Tokens {
			if !waitStream(delayFor(res, i), keepalive) {
				return
			}
			if !writeData(w, api.ContentChunk(res.ID, res.Model, res.Created, tok)) {
				return
			}
			emitted++
		}

		if !writeData(w, api.FinishChunk(res.ID, res.Model, res.Created, res.Usage)) {
			return
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		w.Flush() //nolint:errcheck
	})
}

// streamAnthropic plays out a schedule as typed Anthropic events. Empty
// token deltas are replaced by ping frames so the event count stays stable.
func (s *Server) streamAnthropic(ctx *fasthttp.RequestCtx, res *engine.StreamResult, fin streamFinisher) {
	sseHeaders(ctx)
	ctx.SetUserValue(drainHandoffKey, true)
	if s.metrics != nil {
		s.metrics.StreamStarted()
	}

	msgID := api.AnthropicMessageID()

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }() //nolint:errcheck // panic recovery in stream writer

		emitted := 0
		defer func() { fin.finish(res.Usage, emitted) }()

		ping := api.AnthropicPing()
		keepalive := func() bool { return writeEvent(w, ping.EventName(), ping) }

		if !waitStream(res.Schedule.TTFT+res.Schedule.Overhead, keepalive) {
			return
		}

		start := api.AnthropicMessageStart(msgID, res.Model, res.Usage.PromptTokens)
		if !writeEvent(w, start.EventName(), start) {
			return
		}
		blockStart := api.AnthropicContentBlockStart()
		if !writeEvent(w, blockStart.EventName(), blockStart) {
			return
		}

		for i, tok := range res.Tokens {
			if !waitStream(delayFor(res, i), keepalive) {
				return
			}
			ev := api.AnthropicTextDelta(tok)
			if tok == "" {
				ev = api.AnthropicPing()
			}
			if !writeEvent(w, ev.EventName(), ev) {
				return
			}
			emitted++
		}

		blockStop := api.AnthropicContentBlockStop()
		if !writeEvent(w, blockStop.EventName(), blockStop) {
			return
		}
		delta := api.AnthropicMessageDelta(res.Usage.CompletionTokens)
		if !writeEvent(w, delta.EventName(), delta) {
			return
		}
		stop := api.AnthropicMessageStop()
		writeEvent(w, stop.EventName(), stop)
	})
}

// streamGemini plays out a schedule as bare Gemini data frames: one frame
// per token, a final frame carrying finishReason and usage, no terminator.
func (s *Server) streamGemini(ctx *fasthttp.RequestCtx, res *engine.StreamResult, fin streamFinisher) {
	sseHeaders(ctx)
	ctx.SetUserValue(drainHandoffKey, true)
	if s.metrics != nil {
		s.metrics.StreamStarted()
	}

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }() //nolint:errcheck // panic recovery in stream writer

		emitted := 0
		defer func() { fin.finish(res.Usage, emitted) }()

		keepalive := func() bool { return writeComment(w) }

		if !waitStream(res.Schedule.TTFT+res.Schedule.Overhead, keepalive) {
			return
		}

		for i, tok := range res.Tokens {
			if !waitStream(delayFor(res, i), keepalive) {
				return
			}
			if !writeData(w, api.GeminiStreamFrame(res.Model, tok)) {
				return
			}
			emitted++
		}

		writeData(w, api.GeminiFinalFrame(res.Model, res.Usage))
	})
}
