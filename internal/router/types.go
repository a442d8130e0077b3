// Package router implements the routing decision: alias resolution,
// candidate chain construction, and session-pin consultation.
package router

import "github.com/BlockRunAI/ClawRouter/internal/classifier"

// Message is a single chat message, mirroring the OpenAI chat envelope.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the provider-agnostic envelope the router decides over.
type Request struct {
	Messages  []Message
	Model     string // raw model field from the client: alias or explicit id
	MaxTokens int
	SessionID string // from the optional x-session-id header
}

// Decision is the routing outcome for one request: which model to try first
// and the ordered fallback chain behind it.
type Decision struct {
	Tier            string
	PrimaryModel    string
	CandidateChain  []string
	Reasoning       string
	CostEstimateUSD float64
	Savings         float64
}

// BalanceState summarizes what the router needs to know about wallet
// balance to make the auto-tier-downgrade decision. The zero value means
// "unknown, proceed": the request path never blocks on balance polling.
type BalanceState struct {
	Known   bool
	IsEmpty bool
	IsLow   bool
}

// Tags is re-exported for callers that only import router.
type Tags = map[classifier.Tag]bool
