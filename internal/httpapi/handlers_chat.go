package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BlockRunAI/ClawRouter/internal/balance"
	"github.com/BlockRunAI/ClawRouter/internal/classifier"
	"github.com/BlockRunAI/ClawRouter/internal/dedup"
	"github.com/BlockRunAI/ClawRouter/internal/dispatch"
	"github.com/BlockRunAI/ClawRouter/internal/events"
	"github.com/BlockRunAI/ClawRouter/internal/router"
)

const defaultMaxTokens = 512

// errorBody is the wire shape for both client_error passthrough and the
// exhausted-fallback provider_error wrapper.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// chatCompletions implements POST /v1/chat/completions: parse, classify,
// route, dedup-or-dispatch, respond.
func (h *handler) chatCompletions(w http.ResponseWriter, r *http.Request) {
	raw := make(map[string]any)
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Message: "malformed request body: " + err.Error(),
			Type:    "client_error",
		}})
		return
	}

	sessionID := r.Header.Get("x-session-id")
	modelField, _ := raw["model"].(string)
	maxTokens := intField(raw["max_tokens"], defaultMaxTokens)
	stream, _ := raw["stream"].(bool)

	messages, parts := extractMessages(raw["messages"])

	tags := classifier.Classify(classifier.Request{Parts: parts, MaxTokens: maxTokens})

	balanceState := h.balanceState()

	decision := h.deps.Router.Route(router.Request{
		Messages:  messages,
		Model:     modelField,
		MaxTokens: maxTokens,
		SessionID: sessionID,
	}, tags, balanceState)

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout())
	defer cancel()

	if stream {
		// Streaming bypasses dedup entirely.
		outcome := h.deps.Executor.Run(ctx, decision.CandidateChain, raw, maxTokens, sessionID, decision.Tier)
		h.recordOutcome(outcome)
		h.writeSSE(w, outcome)
		return
	}

	fp := dedup.Compute(dedup.Fields{
		Model:       router.Normalize(modelField),
		Messages:    raw["messages"],
		MaxTokens:   maxTokens,
		Temperature: floatField(raw["temperature"]),
		Seed:        int64(intField(raw["seed"], 0)),
	})

	var lastOutcome dispatch.Outcome
	result := h.deps.Dedup.Do(ctx, fp, func() dedup.Result {
		outcome := h.deps.Executor.Run(ctx, decision.CandidateChain, raw, maxTokens, sessionID, decision.Tier)
		lastOutcome = outcome
		return outcomeToResult(outcome)
	})

	h.recordOutcome(lastOutcome)
	h.writeResult(w, result, lastOutcome)
}

// outcomeToResult maps a dispatch.Outcome onto the dedup cache's narrower
// Result shape. Only a successful outcome is ever cached; dedup.Cache
// never stores a result with Err set.
func outcomeToResult(outcome dispatch.Outcome) dedup.Result {
	r := dedup.Result{
		Body:       outcome.FinalAttempt.Body,
		StatusCode: outcome.FinalAttempt.StatusCode,
	}
	if !outcome.Success {
		if outcome.FinalAttempt.Err != nil {
			r.Err = outcome.FinalAttempt.Err
		} else {
			r.Err = fmt.Errorf("upstream attempt failed: %s", outcome.FinalAttempt.Kind)
		}
	}
	return r
}

// writeResult renders the dedup/executor outcome as an HTTP response.
// lastOutcome is only reliably populated when this goroutine actually ran
// the executor (cache miss or first-in coalesced waiter); a cache hit is
// always a prior success, so the zero-value fallback path below is never
// reached for cached results.
func (h *handler) writeResult(w http.ResponseWriter, result dedup.Result, lastOutcome dispatch.Outcome) {
	if result.Err == nil && result.StatusCode >= 200 && result.StatusCode < 300 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(result.StatusCode)
		_, _ = w.Write(result.Body)
		return
	}

	if lastOutcome.FinalAttempt.Kind == dispatch.KindClientError {
		// Fatal, non-payment client errors are returned verbatim.
		status := result.StatusCode
		if status == 0 {
			status = http.StatusBadRequest
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if len(result.Body) > 0 {
			_, _ = w.Write(result.Body)
			return
		}
		_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
			Message: errString(result.Err),
			Type:    "client_error",
		}})
		return
	}

	// Every other non-success outcome (payment_failed/provider_error/
	// transport_error, chain exhausted) is reported to the client as
	// provider_error, status mirroring the last upstream attempt.
	status := result.StatusCode
	if status == 0 {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Message: lastUpstreamMessage(result),
		Type:    "provider_error",
	}})
}

// writeSSE forwards the executor's final attempt as a single-event SSE
// stream. The payment backend buffers the full upstream body before
// returning it (see internal/payment), so this is a pass-through of the
// complete response rather than incremental token streaming.
func (h *handler) writeSSE(w http.ResponseWriter, outcome dispatch.Outcome) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if !outcome.Success {
		status := outcome.FinalAttempt.StatusCode
		if status == 0 {
			status = http.StatusBadGateway
		}
		w.WriteHeader(status)
		errEvent, _ := json.Marshal(errorBody{Error: errorDetail{
			Message: lastUpstreamMessage(dedup.Result{Body: outcome.FinalAttempt.Body, StatusCode: status}),
			Type:    classifyErrorType(outcome.FinalAttempt.Kind),
		}})
		fmt.Fprintf(w, "data: %s\n\n", errEvent)
		if flusher != nil {
			flusher.Flush()
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "data: %s\n\n", outcome.FinalAttempt.Body)
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func classifyErrorType(kind dispatch.Kind) string {
	if kind == dispatch.KindClientError {
		return "client_error"
	}
	return "provider_error"
}

// lastUpstreamMessage extracts the upstream's own error message field, if
// present, falling back to the raw body or the cached error string.
func lastUpstreamMessage(result dedup.Result) string {
	if len(result.Body) > 0 {
		var wrapped errorBody
		if err := json.Unmarshal(result.Body, &wrapped); err == nil && wrapped.Error.Message != "" {
			return wrapped.Error.Message
		}
		return string(result.Body)
	}
	return errString(result.Err)
}

func errString(err error) string {
	if err == nil {
		return "upstream request failed"
	}
	return err.Error()
}

// recordOutcome updates the flat /stats counters, the Prometheus registry,
// and the event bus for one completed pipeline run.
func (h *handler) recordOutcome(outcome dispatch.Outcome) {
	if len(outcome.TriedModels) == 0 {
		return
	}
	for i, model := range outcome.TriedModels {
		h.deps.Stats.RecordAttempt(model)
		isLast := i == len(outcome.TriedModels)-1
		if isLast && outcome.Success {
			h.deps.Stats.RecordSuccess(model)
			h.deps.Metrics.RequestsTotal.WithLabelValues(model, "ok").Inc()
		} else if !isLast {
			h.deps.Stats.RecordFallbackEngaged(model)
		} else {
			h.deps.Metrics.RequestsTotal.WithLabelValues(model, "error").Inc()
		}
	}
	if outcome.FallbackUsed {
		h.deps.Metrics.FallbacksTotal.Inc()
	}

	finalModel := outcome.FinalAttempt.ModelID
	if outcome.FinalAttempt.Kind == dispatch.KindPaymentFailed {
		h.deps.Stats.RecordWrappedPaymentFailure(finalModel)
		h.deps.Metrics.PaymentFailures.WithLabelValues(finalModel).Inc()
	}

	if h.deps.Events == nil {
		return
	}
	evt := events.Event{
		ModelID:     finalModel,
		TriedModels: outcome.TriedModels,
	}
	if outcome.Success {
		evt.Type = events.EventRouteSuccess
		h.deps.Events.Publish(evt)
	} else if outcome.FallbackUsed {
		evt.Type = events.EventRouteFallback
		evt.ErrorClass = string(outcome.FinalAttempt.Kind)
		h.deps.Events.Publish(evt)
	}
	if outcome.FinalAttempt.Kind == dispatch.KindPaymentFailed {
		h.deps.Events.Publish(events.Event{
			Type:       events.EventPaymentFailed,
			ModelID:    finalModel,
			ErrorClass: string(outcome.FinalAttempt.Kind),
		})
	}
}

func (h *handler) balanceState() router.BalanceState {
	if h.deps.Balance == nil {
		return router.BalanceState{}
	}
	snap := h.deps.Balance.Snapshot()
	if !snap.Known {
		return router.BalanceState{}
	}
	return router.BalanceState{
		Known:   true,
		IsEmpty: snap.State == balance.StateEmpty,
		IsLow:   snap.State == balance.StateLow,
	}
}

func (h *handler) requestTimeout() time.Duration {
	if h.deps.RequestTimeout > 0 {
		return h.deps.RequestTimeout
	}
	return 120 * time.Second
}

// extractMessages decodes the raw "messages" JSON value into both the
// router's Message envelope and the classifier's text/non-text parts. A
// message's content may be a plain string or an OpenAI-style array of
// {type, text|image_url} parts; image/audio parts are flagged NonText for
// the classifier without attempting to extract their content.
func extractMessages(raw any) ([]router.Message, []classifier.MessagePart) {
	list, _ := raw.([]any)
	messages := make([]router.Message, 0, len(list))
	parts := make([]classifier.MessagePart, 0, len(list))

	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := obj["role"].(string)

		switch content := obj["content"].(type) {
		case string:
			messages = append(messages, router.Message{Role: role, Content: content})
			parts = append(parts, classifier.MessagePart{Content: content})
		case []any:
			var text strings.Builder
			nonText := false
			for _, p := range content {
				part, ok := p.(map[string]any)
				if !ok {
					continue
				}
				switch part["type"] {
				case "text":
					if s, ok := part["text"].(string); ok {
						text.WriteString(s)
						text.WriteByte('\n')
					}
				case "image_url", "input_audio":
					nonText = true
				}
			}
			messages = append(messages, router.Message{Role: role, Content: text.String()})
			parts = append(parts, classifier.MessagePart{Content: text.String(), NonText: nonText})
		}
	}
	return messages, parts
}

func intField(v any, def int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	default:
		return def
	}
}

func floatField(v any) float64 {
	if n, ok := v.(float64); ok {
		return n
	}
	return 0
}
