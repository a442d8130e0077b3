// Package dispatch implements the upstream dispatcher and the
// fallback executor: building and sending one candidate attempt,
// classifying its outcome, and walking the candidate chain until success or
// exhaustion.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/BlockRunAI/ClawRouter/internal/catalog"
	"github.com/BlockRunAI/ClawRouter/internal/payment"
	"github.com/BlockRunAI/ClawRouter/internal/sessionpin"
	"github.com/BlockRunAI/ClawRouter/internal/upstream"
)

// Kind classifies the outcome of one upstream attempt.
type Kind string

const (
	KindSuccess        Kind = "success"
	KindPaymentFailed  Kind = "payment_failed"
	KindProviderError  Kind = "provider_error"
	KindClientError    Kind = "client_error"
	KindTransportError Kind = "transport_error"
)

// Attempt is the outcome of one candidate dispatch.
type Attempt struct {
	ModelID    string
	Kind       Kind
	StatusCode int
	Body       []byte
	Err        error
}

// Outcome is the final result of walking a candidate chain.
type Outcome struct {
	Success      bool
	FinalAttempt Attempt
	TriedModels  []string
	FallbackUsed bool
}

// Dispatcher executes a single candidate attempt against BlockRun.
type Dispatcher struct {
	backend  payment.Backend
	upstream string // base URL, e.g. https://api.blockrun.ai
	catalog  *catalog.Catalog
}

// New builds a Dispatcher that attaches payment via backend and sends
// attempts to upstreamBaseURL.
func New(backend payment.Backend, upstreamBaseURL string, cat *catalog.Catalog) *Dispatcher {
	return &Dispatcher{backend: backend, upstream: strings.TrimRight(upstreamBaseURL, "/"), catalog: cat}
}

// Dispatch executes one attempt for modelID. rawBody is the original,
// client-visible chat-completions body (already parsed into a map so the
// model field can be rewritten) and maxTokens drives the pre-authorization
// estimate.
func (d *Dispatcher) Dispatch(ctx context.Context, modelID string, rawBody map[string]any, maxTokens int) Attempt {
	if reqID := chimw.GetReqID(ctx); reqID != "" {
		ctx = upstream.WithRequestID(ctx, reqID)
	}

	body := make(map[string]any, len(rawBody))
	for k, v := range rawBody {
		body[k] = v
	}
	body["model"] = modelID
	delete(body, "x-session-id")

	encoded, err := json.Marshal(body)
	if err != nil {
		return Attempt{ModelID: modelID, Kind: KindClientError, Err: fmt.Errorf("encode request: %w", err)}
	}

	preAuth := d.preAuthMicroUSD(modelID, maxTokens)
	req := payment.UpstreamRequest{
		URL:    d.upstream + "/v1/chat/completions",
		Method: "POST",
		Body:   encoded,
	}

	resp, err := d.backend.Invoke(ctx, req, preAuth)
	if err != nil {
		return Attempt{ModelID: modelID, Kind: KindTransportError, Err: err}
	}

	kind := Classify(resp.StatusCode, resp.Body)
	return Attempt{ModelID: modelID, Kind: kind, StatusCode: resp.StatusCode, Body: resp.Body}
}

// preAuthMicroUSD estimates the call's cost in micro-USD from the catalog's
// advertised price per million tokens. Unknown models (explicit ids absent
// from the catalog) pre-authorize a conservative flat estimate since the
// catalog is advisory-only for pricing.
func (d *Dispatcher) preAuthMicroUSD(modelID string, maxTokens int) int64 {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	const fallbackPricePerMillion = 5.0
	price := fallbackPricePerMillion
	if m, ok := d.catalog.Get(modelID); ok {
		price = m.PricePerMillion
	}
	usd := price * float64(maxTokens) / 1e6
	return int64(usd * 1_000_000)
}

// Classify maps a status code and body to an outcome kind. It must scan
// the body for the wrapped payment-failure marker regardless of status,
// so this is not purely a switch on statusCode.
func Classify(statusCode int, body []byte) Kind {
	if statusCode >= 200 && statusCode < 300 {
		return KindSuccess
	}
	if payment.IsWrappedPaymentFailure(statusCode, body) {
		return KindPaymentFailed
	}
	if statusCode >= 400 && statusCode < 600 && looksLikeProviderError(body) {
		return KindProviderError
	}
	if statusCode >= 400 && statusCode < 500 {
		return KindClientError
	}
	if statusCode >= 500 {
		return KindProviderError
	}
	return KindClientError
}

// looksLikeProviderError scans a 4xx/5xx body for billing/credit language
// or an explicit provider_error type.
func looksLikeProviderError(body []byte) bool {
	s := strings.ToLower(string(body))
	for _, marker := range []string{
		`"type":"provider_error"`,
		`"type": "provider_error"`,
		"insufficient_quota",
		"insufficient funds",
		"billing",
		"credit",
		"rate_limit",
		"overloaded",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// Executor walks a candidate chain, invoking the Dispatcher per step until
// success or exhaustion.
type Executor struct {
	dispatcher *Dispatcher
	pins       *sessionpin.Store
}

// NewExecutor builds a fallback executor over dispatcher, pinning
// successful models in pins.
func NewExecutor(dispatcher *Dispatcher, pins *sessionpin.Store) *Executor {
	return &Executor{dispatcher: dispatcher, pins: pins}
}

// The request deadline is divided evenly across remaining candidates, with
// each attempt clamped to [minAttemptTimeout, maxAttemptTimeout].
const (
	defaultRequestDeadline = 120 * time.Second
	minAttemptTimeout      = 10 * time.Second
	maxAttemptTimeout      = 60 * time.Second
)

// Run walks chain, trying each candidate in order. On the first success it
// pins the model (if sessionID is non-empty) and returns. On a fatal
// client_error it returns immediately without trying further candidates.
// Otherwise it tries every remaining candidate and returns the last
// recoverable result once the chain is exhausted.
func (e *Executor) Run(ctx context.Context, chain []string, rawBody map[string]any, maxTokens int, sessionID, tierProfile string) Outcome {
	deadline := defaultRequestDeadline
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining > 0 && remaining < deadline {
			deadline = remaining
		}
	}

	var last Attempt
	tried := make([]string, 0, len(chain))

	for i, modelID := range chain {
		remaining := len(chain) - i
		perAttempt := deadline / time.Duration(remaining)
		if perAttempt < minAttemptTimeout {
			perAttempt = minAttemptTimeout
		}
		if perAttempt > maxAttemptTimeout {
			perAttempt = maxAttemptTimeout
		}

		attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)
		attempt := e.dispatcher.Dispatch(attemptCtx, modelID, rawBody, maxTokens)
		cancel()

		tried = append(tried, modelID)
		last = attempt

		if ctx.Err() != nil {
			// Client disconnected or request deadline passed: never pin,
			// never continue the chain.
			return Outcome{Success: false, FinalAttempt: attempt, TriedModels: tried, FallbackUsed: i > 0}
		}

		if attempt.Kind == KindSuccess {
			if sessionID != "" {
				e.pins.Set(sessionID, tierProfile, modelID)
			}
			return Outcome{Success: true, FinalAttempt: attempt, TriedModels: tried, FallbackUsed: i > 0}
		}
		if attempt.Kind == KindClientError {
			return Outcome{Success: false, FinalAttempt: attempt, TriedModels: tried, FallbackUsed: i > 0}
		}
		// Recoverable: fall through to the next candidate.
	}

	return Outcome{Success: false, FinalAttempt: last, TriedModels: tried, FallbackUsed: len(tried) > 1}
}
