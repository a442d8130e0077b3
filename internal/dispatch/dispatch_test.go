package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BlockRunAI/ClawRouter/internal/catalog"
	"github.com/BlockRunAI/ClawRouter/internal/payment"
	"github.com/BlockRunAI/ClawRouter/internal/sessionpin"
)

// fakeBackend scripts one canned response (or error) per call, in order.
type fakeBackend struct {
	responses []fakeResponse
	calls     []string // request bodies observed, in call order
	idx       int
}

type fakeResponse struct {
	status int
	body   string
	err    error
}

func (f *fakeBackend) Mode() string { return "fake" }

func (f *fakeBackend) Invoke(ctx context.Context, req payment.UpstreamRequest, preAuthMicroUSD int64) (*payment.Response, error) {
	f.calls = append(f.calls, string(req.Body))
	if f.idx >= len(f.responses) {
		panic("fakeBackend: more calls than scripted responses")
	}
	r := f.responses[f.idx]
	f.idx++
	if r.err != nil {
		return nil, r.err
	}
	return &payment.Response{StatusCode: r.status, Body: []byte(r.body)}, nil
}

func TestClassify_Success(t *testing.T) {
	if Classify(200, []byte(`{"choices":[]}`)) != KindSuccess {
		t.Fatalf("expected success")
	}
}

func TestClassify_DirectPaymentFailure(t *testing.T) {
	if Classify(402, []byte(`{"error":"payment required"}`)) != KindPaymentFailed {
		t.Fatalf("expected payment_failed")
	}
}

func TestClassify_WrappedPaymentFailure(t *testing.T) {
	body := []byte(`{"error":{"message":"x402_payment_failed: no allowance"}}`)
	if Classify(400, body) != KindPaymentFailed {
		t.Fatalf("expected payment_failed for wrapped marker")
	}
}

func TestClassify_ProviderError(t *testing.T) {
	if Classify(429, []byte(`{"error":"rate_limit exceeded"}`)) != KindProviderError {
		t.Fatalf("expected provider_error")
	}
	if Classify(503, []byte(`{"error":"overloaded"}`)) != KindProviderError {
		t.Fatalf("expected provider_error for 5xx")
	}
}

func TestClassify_ClientError(t *testing.T) {
	if Classify(400, []byte(`{"error":"invalid request: missing field"}`)) != KindClientError {
		t.Fatalf("expected client_error")
	}
}

func TestExecutor_FirstCandidateSucceeds(t *testing.T) {
	backend := &fakeBackend{responses: []fakeResponse{{status: 200, body: `{"ok":true}`}}}
	d := New(backend, "https://api.blockrun.ai", catalog.Default())
	pins := sessionpin.New(time.Minute, 0)
	exec := NewExecutor(d, pins)

	out := exec.Run(context.Background(), []string{"deepseek/deepseek-chat", "nvidia/gpt-oss-120b"},
		map[string]any{"messages": []any{}}, 100, "sess-1", "standard")

	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if len(out.TriedModels) != 1 || out.TriedModels[0] != "deepseek/deepseek-chat" {
		t.Fatalf("expected exactly one attempt, got %v", out.TriedModels)
	}
	if out.FallbackUsed {
		t.Fatalf("fallback should not be marked used on first-try success")
	}
	pinned, ok := pins.Get("sess-1", "standard")
	if !ok || pinned != "deepseek/deepseek-chat" {
		t.Fatalf("expected session pin to deepseek/deepseek-chat, got %q %v", pinned, ok)
	}
}

func TestExecutor_FallsBackOnProviderError(t *testing.T) {
	backend := &fakeBackend{responses: []fakeResponse{
		{status: 503, body: `{"error":"overloaded"}`},
		{status: 200, body: `{"ok":true}`},
	}}
	d := New(backend, "https://api.blockrun.ai", catalog.Default())
	pins := sessionpin.New(time.Minute, 0)
	exec := NewExecutor(d, pins)

	out := exec.Run(context.Background(), []string{"deepseek/deepseek-chat", "nvidia/gpt-oss-120b"},
		map[string]any{"messages": []any{}}, 100, "", "")

	if !out.Success {
		t.Fatalf("expected eventual success, got %+v", out)
	}
	if len(out.TriedModels) != 2 {
		t.Fatalf("expected two attempts, got %v", out.TriedModels)
	}
	if !out.FallbackUsed {
		t.Fatalf("expected FallbackUsed to be true")
	}
}

func TestExecutor_StopsOnClientError(t *testing.T) {
	backend := &fakeBackend{responses: []fakeResponse{
		{status: 400, body: `{"error":"invalid request"}`},
	}}
	d := New(backend, "https://api.blockrun.ai", catalog.Default())
	pins := sessionpin.New(time.Minute, 0)
	exec := NewExecutor(d, pins)

	out := exec.Run(context.Background(), []string{"deepseek/deepseek-chat", "nvidia/gpt-oss-120b"},
		map[string]any{"messages": []any{}}, 100, "", "")

	if out.Success {
		t.Fatalf("expected failure")
	}
	if len(out.TriedModels) != 1 {
		t.Fatalf("client_error must not try further candidates, got %v", out.TriedModels)
	}
}

func TestExecutor_ExhaustsChainAndReturnsLastResult(t *testing.T) {
	backend := &fakeBackend{responses: []fakeResponse{
		{status: 503, body: `{"error":"overloaded"}`},
		{status: 402, body: `{"error":"payment required"}`},
	}}
	d := New(backend, "https://api.blockrun.ai", catalog.Default())
	pins := sessionpin.New(time.Minute, 0)
	exec := NewExecutor(d, pins)

	out := exec.Run(context.Background(), []string{"deepseek/deepseek-chat", "qwen/qwen-2.5-72b"},
		map[string]any{"messages": []any{}}, 100, "", "")

	if out.Success {
		t.Fatalf("expected overall failure once chain is exhausted")
	}
	if out.FinalAttempt.Kind != KindPaymentFailed {
		t.Fatalf("expected final attempt to be the last recoverable result, got %v", out.FinalAttempt.Kind)
	}
	if len(out.TriedModels) != 2 {
		t.Fatalf("expected both candidates tried, got %v", out.TriedModels)
	}
}

func TestDispatch_RewritesModelField(t *testing.T) {
	backend := &fakeBackend{responses: []fakeResponse{{status: 200, body: `{}`}}}
	d := New(backend, "https://api.blockrun.ai", catalog.Default())

	d.Dispatch(context.Background(), "qwen/qwen-2.5-72b", map[string]any{"model": "auto", "messages": []any{}}, 50)

	if len(backend.calls) != 1 {
		t.Fatalf("expected one upstream call")
	}
	if !strings.Contains(backend.calls[0], "qwen/qwen-2.5-72b") {
		t.Fatalf("expected rewritten body to carry the candidate model id, got %s", backend.calls[0])
	}
}
