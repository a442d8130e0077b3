package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BlockRunAI/ClawRouter/internal/upstream"
	"github.com/BlockRunAI/ClawRouter/internal/vault"
)

// Signer produces a verifiable signature over a canonical payment payload.
// Mirrors the delegation-to-a-scheme-client pattern of x402 client
// libraries (payload construction is delegated to a registered
// per-network signer rather than hardcoded into the HTTP call site).
type Signer interface {
	Sign(payload []byte) (string, error)
}

// HMACSigner authenticates the payment payload with HMAC-SHA256 keyed by
// the wallet's private key: a verifiable, keyed signature over the
// canonical payment fields. It is the only Signer a WalletBackend uses:
// NewWalletBackend leaves the backend's signer unset and there is no
// exported option to supply another one.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner builds a Signer from the wallet's raw private key bytes.
func NewHMACSigner(privateKey []byte) *HMACSigner {
	return &HMACSigner{key: privateKey}
}

func (s *HMACSigner) Sign(payload []byte) (string, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// requirementsV2 carries the x402 v2 PaymentRequirements fields:
// scheme/network/amount/asset/payTo.
type requirementsV2 struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	Amount            string `json:"amount"`
	Asset             string `json:"asset"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
}

// payloadV2 is the signed payment envelope carried in the X-Payment header.
type payloadV2 struct {
	X402Version int            `json:"x402Version"`
	Requirements requirementsV2 `json:"paymentRequirements"`
	Signature   string         `json:"signature"`
	From        string         `json:"from"`
}

// WalletConfig configures the wallet (x402) payment backend.
type WalletConfig struct {
	PublicAddress string
	ChainID       string // e.g. "eip155:8453" (Base)
	Asset         string // contract address or symbol, opaque to the router
	PayTo         string // BlockRun's receiving address for this chain/asset
	Timeout       time.Duration
}

// WalletBackend attaches an x402 payment header to the outgoing upstream
// call and issues it directly — wallet mode talks to the inference endpoint
// itself, unlike clawcredit mode.
type WalletBackend struct {
	cfg    WalletConfig
	vault  *vault.Vault
	signer Signer
	client *http.Client
}

// NewWalletBackend builds a wallet payment backend. The wallet private key
// is read from v at invocation time (never cached in plaintext on this
// struct) so that a locked vault fails every call until unlocked.
func NewWalletBackend(cfg WalletConfig, v *vault.Vault) *WalletBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &WalletBackend{
		cfg:    cfg,
		vault:  v,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (b *WalletBackend) Mode() string { return "wallet" }

func (b *WalletBackend) Invoke(ctx context.Context, req UpstreamRequest, preAuthMicroUSD int64) (*Response, error) {
	privateKeyHex, err := b.vault.Get("wallet_private_key")
	if err != nil {
		return nil, fmt.Errorf("wallet locked or key unavailable: %w", err)
	}

	header, err := b.buildPaymentHeader([]byte(privateKeyHex), preAuthMicroUSD)
	if err != nil {
		return nil, fmt.Errorf("failed to build payment header: %w", err)
	}

	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[k] = v
	}
	headers["X-Payment"] = header

	body, err := upstream.DoRequest(ctx, b.client, req.URL, json.RawMessage(req.Body), headers)
	if err != nil {
		var statusErr *upstream.StatusError
		if errors.As(err, &statusErr) {
			return &Response{StatusCode: statusErr.StatusCode, Body: []byte(statusErr.Body)}, nil
		}
		return nil, err
	}
	return &Response{StatusCode: http.StatusOK, Body: body}, nil
}

// buildPaymentHeader constructs and signs the x402 payment envelope for an
// estimated pre-authorization amount. amountMicroUSD is converted to a
// decimal USD string for the requirements payload.
func (b *WalletBackend) buildPaymentHeader(privateKey []byte, amountMicroUSD int64) (string, error) {
	signer := b.signer
	if signer == nil {
		signer = NewHMACSigner(privateKey)
	}

	amountUSD := float64(amountMicroUSD) / 1_000_000
	reqs := requirementsV2{
		Scheme:            "exact",
		Network:           b.cfg.ChainID,
		Amount:            fmt.Sprintf("%.6f", amountUSD),
		Asset:             b.cfg.Asset,
		PayTo:             b.cfg.PayTo,
		MaxTimeoutSeconds: 60,
	}
	reqBytes, err := json.Marshal(reqs)
	if err != nil {
		return "", err
	}
	sig, err := signer.Sign(reqBytes)
	if err != nil {
		return "", err
	}

	payload := payloadV2{
		X402Version:  2,
		Requirements: reqs,
		Signature:    sig,
		From:         b.cfg.PublicAddress,
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// DerivePublicAddress derives a stable, deterministic address from the
// private key, presented in X-Payment and to the balance endpoint, which
// treat it as an opaque account identifier.
func DerivePublicAddress(privateKeyHex string) string {
	sum := sha256.Sum256([]byte(privateKeyHex))
	return "0x" + hex.EncodeToString(sum[:])[:40]
}

// balanceResponse is the wire shape of BlockRun's wallet balance endpoint.
type balanceResponse struct {
	BalanceUSD float64 `json:"balance_usd"`
}

// WalletBalanceReader queries BlockRun's wallet balance endpoint so the
// balance monitor has something to poll in wallet mode. ClawCredit
// mode has no on-chain wallet and doesn't construct one of these.
type WalletBalanceReader struct {
	baseURL string
	address string
	client  *http.Client
}

// NewWalletBalanceReader builds a balance reader against upstreamBaseURL's
// wallet balance endpoint for the given public address.
func NewWalletBalanceReader(upstreamBaseURL, publicAddress string) *WalletBalanceReader {
	return &WalletBalanceReader{
		baseURL: strings.TrimRight(upstreamBaseURL, "/"),
		address: publicAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *WalletBalanceReader) BalanceUSD(ctx context.Context) (float64, error) {
	reqURL := r.baseURL + "/v1/wallet/balance?address=" + url.QueryEscape(r.address)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("wallet balance query returned status %d: %s", resp.StatusCode, body)
	}
	var parsed balanceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("malformed wallet balance response: %w", err)
	}
	return parsed.BalanceUSD, nil
}
