// Package catalog holds the static registry of models ClawRouter can route
// to: their tier, price, and capability flags.
package catalog

import "sort"

// Tier is the pricing/quality bucket a model belongs to.
type Tier string

const (
	TierFree     Tier = "free"
	TierEco      Tier = "eco"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// Capability is a tag describing what a model is good at, used to match
// against a prompt's Classification.
type Capability string

const (
	CapReasoning    Capability = "reasoning"
	CapCode         Capability = "code"
	CapVision       Capability = "vision"
	CapLongContext  Capability = "long-context"
	CapGeneral      Capability = "general"
)

// Model is the immutable descriptor for one routable model. The catalog is
// built once at startup and never mutated afterward.
type Model struct {
	ID               string
	Tier             Tier
	PricePerMillion  float64 // USD per 1,000,000 tokens; 0 for free models
	Capabilities     map[Capability]bool
	RequiresPayment  bool
	Weight           int  // tie-break ordering within a tier, higher sorts first
	EmergencyFree    bool // true for the one model guaranteed to end every chain
}

// HasCapability reports whether the model is tagged with cap.
func (m Model) HasCapability(cap Capability) bool {
	return m.Capabilities[cap]
}

// Catalog is the immutable, in-memory set of known models.
type Catalog struct {
	models []Model
	byID   map[string]Model
}

// New builds a Catalog from a literal model list. Duplicate IDs in models
// are an input error; the later entry wins.
func New(models []Model) *Catalog {
	byID := make(map[string]Model, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}
	return &Catalog{models: models, byID: byID}
}

// Default returns the built-in BlockRun model list. Pricing and capability
// tags are advisory: an explicit model id absent from the catalog is still
// forwarded upstream, the catalog exists to drive tier/cost decisions.
func Default() *Catalog {
	cap := func(tags ...Capability) map[Capability]bool {
		m := make(map[Capability]bool, len(tags))
		for _, t := range tags {
			m[t] = true
		}
		return m
	}
	return New([]Model{
		{
			ID:              "nvidia/gpt-oss-120b",
			Tier:            TierFree,
			PricePerMillion: 0,
			Capabilities:    cap(CapGeneral, CapCode, CapReasoning),
			RequiresPayment: false,
			EmergencyFree:   true,
		},
		{
			ID:              "meta/llama-3.1-8b",
			Tier:            TierFree,
			PricePerMillion: 0,
			Capabilities:    cap(CapGeneral),
			RequiresPayment: false,
		},
		{
			ID:              "deepseek/deepseek-chat",
			Tier:            TierEco,
			PricePerMillion: 0.27,
			Capabilities:    cap(CapGeneral, CapCode),
			RequiresPayment: true,
			Weight:          10,
		},
		{
			ID:              "qwen/qwen-2.5-72b",
			Tier:            TierEco,
			PricePerMillion: 0.35,
			Capabilities:    cap(CapGeneral, CapCode, CapLongContext),
			RequiresPayment: true,
			Weight:          5,
		},
		{
			ID:              "deepseek/deepseek-reasoner",
			Tier:            TierStandard,
			PricePerMillion: 0.55,
			Capabilities:    cap(CapGeneral, CapReasoning, CapCode),
			RequiresPayment: true,
			Weight:          10,
		},
		{
			ID:              "xai/grok-code-fast-1",
			Tier:            TierStandard,
			PricePerMillion: 0.8,
			Capabilities:    cap(CapGeneral, CapCode),
			RequiresPayment: true,
			Weight:          5,
		},
		{
			ID:              "anthropic/claude-3.7-sonnet",
			Tier:            TierPremium,
			PricePerMillion: 3.0,
			Capabilities:    cap(CapGeneral, CapReasoning, CapCode, CapVision, CapLongContext),
			RequiresPayment: true,
			Weight:          10,
		},
		{
			ID:              "openai/gpt-4.1",
			Tier:            TierPremium,
			PricePerMillion: 2.5,
			Capabilities:    cap(CapGeneral, CapReasoning, CapCode, CapVision),
			RequiresPayment: true,
			Weight:          5,
		},
	})
}

// Get returns the model with the given id, if registered.
func (c *Catalog) Get(id string) (Model, bool) {
	m, ok := c.byID[id]
	return m, ok
}

// All returns every registered model in catalog order.
func (c *Catalog) All() []Model {
	out := make([]Model, len(c.models))
	copy(out, c.models)
	return out
}

// EmergencyFreeModel returns the catalog's designated always-available free
// model — the one every fallback chain ends with in wallet mode.
func (c *Catalog) EmergencyFreeModel() (Model, bool) {
	for _, m := range c.models {
		if m.EmergencyFree {
			return m, true
		}
	}
	return Model{}, false
}

// Tier returns all models in the given tier, sorted ascending by price then
// descending by weight.
func (c *Catalog) Tier(tier Tier) []Model {
	var out []Model
	for _, m := range c.models {
		if m.Tier == tier {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PricePerMillion != out[j].PricePerMillion {
			return out[i].PricePerMillion < out[j].PricePerMillion
		}
		return out[i].Weight > out[j].Weight
	})
	return out
}

// FreeModels returns all models with price 0, regardless of tier tag.
func (c *Catalog) FreeModels() []Model {
	var out []Model
	for _, m := range c.models {
		if m.PricePerMillion == 0 {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}
