package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is ClawRouter's typed configuration, loaded once at startup from
// environment variables. Two namespaces coexist: BLOCKRUN_*/CLAWCREDIT_*
// select and credential the payment backend; CLAWROUTER_* covers the rest
// of the stack (listen address, logging, CORS, rate limiting, tracing).
type Config struct {
	ListenAddr string
	LogLevel   string

	UpstreamBaseURL string

	PaymentMode  string // "wallet" or "clawcredit"
	WalletKeyHex string // hex private key; required in wallet mode

	ClawCreditAPIToken string
	ClawCreditBaseURL  string
	ClawCreditChain    string
	ClawCreditAsset    string

	VaultPassword string

	SessionPinTTLSecs       int
	DedupTTLSecs            int
	BalancePollIntervalSecs int
	RequestTimeoutSecs      int

	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string

	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int
}

// LoadConfig reads Config from the environment and validates it. A
// non-nil error here is fatal: the caller (cmd/clawrouter) must exit 1
// without starting the server.
func LoadConfig() (Config, error) {
	listenAddr := getEnv("CLAWROUTER_LISTEN_ADDR", ":8402")
	if port := os.Getenv("BLOCKRUN_PROXY_PORT"); port != "" {
		listenAddr = ":" + port
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		LogLevel:        getEnv("CLAWROUTER_LOG_LEVEL", "info"),
		UpstreamBaseURL: getEnv("CLAWROUTER_UPSTREAM_BASE_URL", "https://api.blockrun.ai"),

		PaymentMode:  strings.ToLower(getEnv("BLOCKRUN_PAYMENT_MODE", "wallet")),
		WalletKeyHex: getEnv("BLOCKRUN_WALLET_KEY", ""),

		ClawCreditAPIToken: getEnv("CLAWCREDIT_API_TOKEN", ""),
		ClawCreditBaseURL:  getEnv("CLAWCREDIT_BASE_URL", "https://api.claw.credit"),
		ClawCreditChain:    strings.ToUpper(getEnv("CLAWCREDIT_PAYMENT_CHAIN", "BASE")),
		ClawCreditAsset:    getEnv("CLAWCREDIT_PAYMENT_ASSET", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),

		VaultPassword: getEnv("CLAWROUTER_VAULT_PASSWORD", ""),

		SessionPinTTLSecs:       getEnvInt("CLAWROUTER_SESSION_PIN_TTL_SECS", 600),
		DedupTTLSecs:            getEnvInt("CLAWROUTER_DEDUP_TTL_SECS", 30),
		BalancePollIntervalSecs: getEnvInt("CLAWROUTER_BALANCE_POLL_INTERVAL_SECS", 60),
		RequestTimeoutSecs:      getEnvInt("CLAWROUTER_REQUEST_TIMEOUT_SECS", 120),

		OTelEnabled:     getEnvBool("CLAWROUTER_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("CLAWROUTER_OTEL_ENDPOINT", "localhost:4318"),
		OTelServiceName: getEnv("CLAWROUTER_OTEL_SERVICE_NAME", "clawrouter"),

		CORSOrigins:    getEnvStringSlice("CLAWROUTER_CORS_ORIGINS", []string{"*"}),
		RateLimitRPS:   getEnvInt("CLAWROUTER_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("CLAWROUTER_RATE_LIMIT_BURST", 120),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.PaymentMode != "wallet" && c.PaymentMode != "clawcredit" {
		return fmt.Errorf("BLOCKRUN_PAYMENT_MODE must be \"wallet\" or \"clawcredit\", got %q", c.PaymentMode)
	}
	if c.PaymentMode == "clawcredit" && c.ClawCreditAPIToken == "" {
		return fmt.Errorf("CLAWCREDIT_API_TOKEN is required when BLOCKRUN_PAYMENT_MODE=clawcredit")
	}
	if c.PaymentMode == "wallet" && c.WalletKeyHex == "" {
		// Key generation and on-disk persistence belong to the external auth
		// tooling; the core never writes a private key anywhere.
		return fmt.Errorf("BLOCKRUN_WALLET_KEY is required when BLOCKRUN_PAYMENT_MODE=wallet")
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("CLAWROUTER_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("CLAWROUTER_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.RequestTimeoutSecs <= 0 {
		return fmt.Errorf("CLAWROUTER_REQUEST_TIMEOUT_SECS must be > 0, got %d", c.RequestTimeoutSecs)
	}
	if c.SessionPinTTLSecs <= 0 {
		return fmt.Errorf("CLAWROUTER_SESSION_PIN_TTL_SECS must be > 0, got %d", c.SessionPinTTLSecs)
	}
	if c.DedupTTLSecs <= 0 {
		return fmt.Errorf("CLAWROUTER_DEDUP_TTL_SECS must be > 0, got %d", c.DedupTTLSecs)
	}
	if c.BalancePollIntervalSecs <= 0 {
		return fmt.Errorf("CLAWROUTER_BALANCE_POLL_INTERVAL_SECS must be > 0, got %d", c.BalancePollIntervalSecs)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
