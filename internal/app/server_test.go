package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestConfig(t *testing.T) Config {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]float64{"balance_usd": 5.0})
	}))
	t.Cleanup(up.Close)

	return Config{
		ListenAddr:              ":0",
		LogLevel:                "error",
		UpstreamBaseURL:         up.URL,
		PaymentMode:             "wallet",
		WalletKeyHex:            "deadbeefcafebabe",
		ClawCreditBaseURL:       "https://api.claw.credit",
		ClawCreditChain:         "BASE",
		ClawCreditAsset:         "0xUSDC",
		SessionPinTTLSecs:       600,
		DedupTTLSecs:            30,
		BalancePollIntervalSecs: 3600,
		RequestTimeoutSecs:      120,
		CORSOrigins:             []string{"*"},
		RateLimitRPS:            60,
		RateLimitBurst:          120,
	}
}

func TestNewServer_WalletMode(t *testing.T) {
	cfg := newTestConfig(t)
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	if srv.Router() == nil {
		t.Fatal("expected non-nil Router()")
	}
	if srv.balance == nil {
		t.Error("expected a balance monitor in wallet mode")
	}
}

func TestNewServer_ClawCreditMode(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.PaymentMode = "clawcredit"
	cfg.ClawCreditAPIToken = "tok-abc"

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	if srv.balance != nil {
		t.Error("expected no balance monitor in clawcredit mode")
	}
}

func TestNewServer_HealthEndpoint(t *testing.T) {
	cfg := newTestConfig(t)
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rr.Code)
	}
	var decoded struct {
		Status string `json:"status"`
		Wallet string `json:"wallet"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Status != "ok" {
		t.Errorf("status = %q, want ok", decoded.Status)
	}
	if decoded.Wallet == "" {
		t.Error("expected a non-empty wallet address in wallet mode")
	}
}

func TestServerClose(t *testing.T) {
	cfg := newTestConfig(t)
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}
