// Package httpapi mounts ClawRouter's HTTP surface on a chi router: the
// chat-completions proxy path, the model list, health, stats, and the
// Prometheus exposition. Collaborators are constructed by the caller and
// passed in as a Dependencies struct.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/BlockRunAI/ClawRouter/internal/balance"
	"github.com/BlockRunAI/ClawRouter/internal/catalog"
	"github.com/BlockRunAI/ClawRouter/internal/dedup"
	"github.com/BlockRunAI/ClawRouter/internal/dispatch"
	"github.com/BlockRunAI/ClawRouter/internal/events"
	"github.com/BlockRunAI/ClawRouter/internal/logging"
	"github.com/BlockRunAI/ClawRouter/internal/metrics"
	"github.com/BlockRunAI/ClawRouter/internal/ratelimit"
	"github.com/BlockRunAI/ClawRouter/internal/router"
	"github.com/BlockRunAI/ClawRouter/internal/tracing"
)

// maxRequestBodyBytes caps the incoming chat-completions body. BlockRun
// payloads are chat prompts, not file uploads; 10 MiB is generous.
const maxRequestBodyBytes = 10 << 20

// Dependencies holds every collaborator the HTTP surface dispatches to.
// Constructed once in internal/app and passed to MountRoutes.
type Dependencies struct {
	Router      *router.Engine
	Catalog     *catalog.Catalog
	Executor    *dispatch.Executor
	Dedup       *dedup.Cache
	Balance     *balance.Monitor
	Metrics     *metrics.Registry
	Stats       *metrics.Stats
	Events      *events.Bus
	Logger      *slog.Logger

	WalletAddress   string // empty in clawcredit mode
	PaymentMode     string // "wallet" or "clawcredit"
	RequestTimeout  time.Duration
	CORSOrigins     []string
	RateLimitRPS    int
	RateLimitBurst  int
	OTelEnabled     bool
}

// MountRoutes wires the proxy's endpoints and middleware onto r.
func MountRoutes(r chi.Router, d Dependencies) {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logging.RequestLogger(d.Logger))
	if d.OTelEnabled {
		r.Use(tracing.Middleware())
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "x-session-id"},
		MaxAge:           300,
	}))

	if d.RateLimitRPS > 0 {
		limiter := ratelimit.New(d.RateLimitRPS, d.RateLimitBurst, time.Second,
			ratelimit.WithCounter(d.Metrics.RateLimitedTotal))
		r.Use(limiter.Middleware)
	}

	h := &handler{deps: d}

	r.Route("/v1", func(r chi.Router) {
		r.With(bodySizeLimit(maxRequestBodyBytes)).Post("/chat/completions", h.chatCompletions)
		r.Get("/models", h.listModels)
	})
	r.Get("/health", h.health)
	r.Get("/stats", h.stats)
	r.Get("/metrics", d.Metrics.Handler().ServeHTTP)

	r.NotFound(notFound)
}

type handler struct {
	deps Dependencies
}

// bodySizeLimit wraps the request body in http.MaxBytesReader so an
// oversized client payload fails fast instead of exhausting memory.
func bodySizeLimit(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
