package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BlockRunAI/ClawRouter/internal/balance"
	"github.com/BlockRunAI/ClawRouter/internal/catalog"
	"github.com/BlockRunAI/ClawRouter/internal/dedup"
	"github.com/BlockRunAI/ClawRouter/internal/dispatch"
	"github.com/BlockRunAI/ClawRouter/internal/events"
	"github.com/BlockRunAI/ClawRouter/internal/httpapi"
	"github.com/BlockRunAI/ClawRouter/internal/logging"
	"github.com/BlockRunAI/ClawRouter/internal/metrics"
	"github.com/BlockRunAI/ClawRouter/internal/payment"
	"github.com/BlockRunAI/ClawRouter/internal/router"
	"github.com/BlockRunAI/ClawRouter/internal/sessionpin"
	"github.com/BlockRunAI/ClawRouter/internal/tracing"
	"github.com/BlockRunAI/ClawRouter/internal/vault"
)

// walletChainID is the x402 network identifier for the wallet payment
// context. ClawRouter runs against BlockRun's Base deployment, matching the
// clawcredit mode's "BASE" default.
const walletChainID = "eip155:8453"

// Server holds every long-lived ClawRouter component and the chi router
// they're mounted on. All state here is created in NewServer and torn down
// in Close; the core itself keeps nothing on disk — the wallet private key
// arrives fully formed via BLOCKRUN_WALLET_KEY, generated and persisted by
// the external auth tooling.
type Server struct {
	cfg Config

	r *chi.Mux

	vault   *vault.Vault
	balance *balance.Monitor // nil in clawcredit mode
	metrics *metrics.Registry
	events  *events.Bus
	logger  *slog.Logger

	dedupCache   *dedup.Cache
	otelShutdown func(context.Context) error

	httpServer *http.Server
}

// NewServer constructs every ClawRouter component, wires them into
// an httpapi.Dependencies struct, and mounts the HTTP surface. It does not
// start listening — that is cmd/clawrouter's job via SetHTTPServer +
// http.Server.ListenAndServe.
func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	otelShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}
	if cfg.OTelEnabled {
		logger.Info("opentelemetry tracing enabled",
			slog.String("endpoint", cfg.OTelEndpoint),
			slog.String("service", cfg.OTelServiceName),
		)
	}

	v, err := vault.New(true)
	if err != nil {
		return nil, fmt.Errorf("vault init: %w", err)
	}
	masterPassword := cfg.VaultPassword
	if masterPassword == "" {
		// No interactive unlock exists on this surface, and ClawRouter has
		// no cross-restart credential persistence, so a process-lifetime
		// random master password is equivalent in practice to an explicit
		// one and keeps wallet/clawcredit mode usable out of the box.
		masterPassword = randomHex(32)
	} else {
		logger.Warn("CLAWROUTER_VAULT_PASSWORD is set: vault password is visible in the process environment — prefer a secrets manager in production")
	}
	if err := v.Unlock([]byte(masterPassword)); err != nil {
		return nil, fmt.Errorf("vault unlock: %w", err)
	}

	cat := catalog.Default()
	pins := sessionpin.New(time.Duration(cfg.SessionPinTTLSecs)*time.Second, 0)
	engine := router.New(cat, pins)

	m := metrics.New()
	stats := metrics.NewStats()
	bus := events.NewBus()

	dedupCache := dedup.New(time.Duration(cfg.DedupTTLSecs)*time.Second, 10000)

	var backend payment.Backend
	var walletAddress string
	var balanceMonitor *balance.Monitor

	switch cfg.PaymentMode {
	case "clawcredit":
		if err := v.Set("clawcredit_api_token", cfg.ClawCreditAPIToken); err != nil {
			return nil, fmt.Errorf("store clawcredit token: %w", err)
		}
		backend = payment.NewClawCreditBackend(payment.ClawCreditConfig{
			BaseURL: cfg.ClawCreditBaseURL,
			Chain:   cfg.ClawCreditChain,
			Asset:   cfg.ClawCreditAsset,
		}, v)
		logger.Info("payment backend: clawcredit", slog.String("base_url", cfg.ClawCreditBaseURL))

	default: // "wallet"
		// Key generation and persistence live outside this process; by the
		// time we get here Validate has already required BLOCKRUN_WALLET_KEY.
		keyHex := cfg.WalletKeyHex
		if err := v.Set("wallet_private_key", keyHex); err != nil {
			return nil, fmt.Errorf("store wallet key: %w", err)
		}
		walletAddress = payment.DerivePublicAddress(keyHex)
		backend = payment.NewWalletBackend(payment.WalletConfig{
			PublicAddress: walletAddress,
			ChainID:       walletChainID,
			Asset:         cfg.ClawCreditAsset,
			PayTo:         walletAddress,
		}, v)
		logger.Info("payment backend: wallet", slog.String("address", walletAddress))

		reader := payment.NewWalletBalanceReader(cfg.UpstreamBaseURL, walletAddress)
		balanceMonitor = balance.New(balance.Config{
			PollInterval: time.Duration(cfg.BalancePollIntervalSecs) * time.Second,
			ProbeTimeout: 10 * time.Second,
		}, reader, bus, logger)
		balanceMonitor.Start()
	}

	dispatcher := dispatch.New(backend, cfg.UpstreamBaseURL, cat)
	executor := dispatch.NewExecutor(dispatcher, pins)

	r := chi.NewRouter()
	deps := httpapi.Dependencies{
		Router:         engine,
		Catalog:        cat,
		Executor:       executor,
		Dedup:          dedupCache,
		Balance:        balanceMonitor,
		Metrics:        m,
		Stats:          stats,
		Events:         bus,
		Logger:         logger,
		WalletAddress:  walletAddress,
		PaymentMode:    cfg.PaymentMode,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSecs) * time.Second,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		OTelEnabled:    cfg.OTelEnabled,
	}
	httpapi.MountRoutes(r, deps)

	return &Server{
		cfg:          cfg,
		r:            r,
		vault:        v,
		balance:      balanceMonitor,
		metrics:      m,
		events:       bus,
		logger:       logger,
		dedupCache:   dedupCache,
		otelShutdown: otelShutdown,
	}, nil
}

func (s *Server) Router() http.Handler { return s.r }

// SetHTTPServer registers the HTTP server so Close() can drain in-flight
// requests via http.Server.Shutdown before releasing other resources.
func (s *Server) SetHTTPServer(srv *http.Server) {
	s.httpServer = srv
}

// Close tears down every background component in reverse dependency order.
func (s *Server) Close() error {
	if s.httpServer != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(drainCtx); err != nil {
			s.logger.Warn("HTTP drain error", slog.String("error", err.Error()))
		}
	}
	if s.balance != nil {
		s.balance.Stop()
	}
	if s.dedupCache != nil {
		s.dedupCache.Stop()
	}
	if s.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.otelShutdown(ctx); err != nil {
			s.logger.Warn("otel shutdown error", slog.String("error", err.Error()))
		}
	}
	return nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is unrecoverable; a zero-filled key would be
		// a silent security hole, so panic rather than limp on.
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return hex.EncodeToString(b)
}
