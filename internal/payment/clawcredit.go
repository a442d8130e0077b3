package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/BlockRunAI/ClawRouter/internal/upstream"
	"github.com/BlockRunAI/ClawRouter/internal/vault"
)

// strippedHeaders are removed from the embedded request_body.http.headers
// before the envelope is sent to claw.credit — they describe the leg to
// claw.credit itself, not the leg claw.credit will make on our behalf.
var strippedHeaders = map[string]bool{
	"host":           true,
	"content-length": true,
	"connection":     true,
}

type payEnvelope struct {
	Transaction  payTransaction  `json:"transaction"`
	RequestBody  payRequestBody  `json:"request_body"`
	AuditContext payAuditContext `json:"audit_context"`
	SDKMeta      paySDKMeta      `json:"sdk_meta"`
}

type payTransaction struct {
	Recipient string  `json:"recipient"`
	Amount    float64 `json:"amount"`
	Chain     string  `json:"chain"`
	Asset     string  `json:"asset"`
}

type payRequestBodyHTTP struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
}

type payRequestBody struct {
	HTTP payRequestBodyHTTP `json:"http"`
	Body json.RawMessage    `json:"body"`
}

type payAuditContext struct {
	CurrentTask      string `json:"current_task"`
	ReasoningProcess string `json:"reasoning_process"`
	Timestamp        string `json:"timestamp"`
}

type paySDKMeta struct {
	SDKName    string `json:"sdk_name"`
	SDKVersion string `json:"sdk_version"`
}

type payResponseWrapper struct {
	MerchantResponse json.RawMessage `json:"merchant_response"`
}

// ClawCreditConfig configures the custodial payment backend.
type ClawCreditConfig struct {
	BaseURL string
	Chain   string // upper-cased, e.g. "BASE"
	Asset   string
	Timeout time.Duration
}

// ClawCreditBackend does not call the inference endpoint directly. It POSTs
// a pay-call envelope to {BaseURL}/v1/transaction/pay and extracts the
// embedded merchant_response, presenting it as if the upstream had
// responded directly.
type ClawCreditBackend struct {
	cfg    ClawCreditConfig
	vault  *vault.Vault
	client *http.Client
}

// NewClawCreditBackend builds a custodial payment backend. The API token is
// read from v at invocation time, never cached in plaintext on this struct.
func NewClawCreditBackend(cfg ClawCreditConfig, v *vault.Vault) *ClawCreditBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.Chain = strings.ToUpper(cfg.Chain)
	return &ClawCreditBackend{
		cfg:    cfg,
		vault:  v,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (b *ClawCreditBackend) Mode() string { return "clawcredit" }

func (b *ClawCreditBackend) Invoke(ctx context.Context, req UpstreamRequest, preAuthMicroUSD int64) (*Response, error) {
	apiToken, err := b.vault.Get("clawcredit_api_token")
	if err != nil {
		return nil, fmt.Errorf("clawcredit token unavailable: %w", err)
	}

	envelope := payEnvelope{
		Transaction: payTransaction{
			Recipient: req.URL,
			Amount:    microUSDToUSD(preAuthMicroUSD),
			Chain:     b.cfg.Chain,
			Asset:     b.cfg.Asset,
		},
		RequestBody: payRequestBody{
			HTTP: payRequestBodyHTTP{
				URL:     req.URL,
				Method:  req.Method,
				Headers: stripHeaders(req.Headers),
			},
			Body: json.RawMessage(req.Body),
		},
		AuditContext: payAuditContext{
			CurrentTask:      "chat_completion",
			ReasoningProcess: "clawrouter_fallback_dispatch",
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
		},
		SDKMeta: paySDKMeta{
			SDKName:    "clawrouter",
			SDKVersion: "1.0",
		},
	}

	payURL := strings.TrimRight(b.cfg.BaseURL, "/") + "/v1/transaction/pay"
	headers := map[string]string{"Authorization": "Bearer " + apiToken}

	body, err := upstream.DoRequest(ctx, b.client, payURL, envelope, headers)
	if err != nil {
		// A non-2xx from the pay endpoint itself is propagated verbatim.
		var statusErr *upstream.StatusError
		if errors.As(err, &statusErr) {
			return &Response{StatusCode: statusErr.StatusCode, Body: []byte(statusErr.Body)}, nil
		}
		return nil, err
	}

	var wrapper payResponseWrapper
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("malformed clawcredit response: %w", err)
	}
	return &Response{StatusCode: http.StatusOK, Body: wrapper.MerchantResponse}, nil
}

// microUSDToUSD converts an estimated micro-USD amount to USD, rounded to
// six decimal places and floored to a minimum of 0.01 USD.
func microUSDToUSD(microUSD int64) float64 {
	usd := float64(microUSD) / 1_000_000
	usd = math.Round(usd*1e6) / 1e6
	if usd < 0.01 {
		usd = 0.01
	}
	return usd
}

func stripHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if strippedHeaders[strings.ToLower(k)] {
			continue
		}
		out[k] = v
	}
	return out
}
