package router

import (
	"strings"

	"github.com/BlockRunAI/ClawRouter/internal/catalog"
	"github.com/BlockRunAI/ClawRouter/internal/classifier"
	"github.com/BlockRunAI/ClawRouter/internal/sessionpin"
)

// Alias is a routing shorthand a client can pass in the model field instead
// of an explicit model id.
type Alias string

const (
	AliasAuto    Alias = "auto"
	AliasEco     Alias = "eco"
	AliasPremium Alias = "premium"
	AliasFree    Alias = "free"
)

func isAlias(s string) bool {
	switch Alias(s) {
	case AliasAuto, AliasEco, AliasPremium, AliasFree:
		return true
	}
	return false
}

// Engine resolves a routing decision for one request. It is stateless aside
// from the catalog (immutable) and the session pin store (its own
// concurrency-safe state).
type Engine struct {
	catalog *catalog.Catalog
	pins    *sessionpin.Store
}

// New builds a routing engine over the given catalog and session pin store.
func New(cat *catalog.Catalog, pins *sessionpin.Store) *Engine {
	return &Engine{catalog: cat, pins: pins}
}

// Route produces a routing decision for req, given its classification and
// the current wallet balance state.
func (e *Engine) Route(req Request, tags map[classifier.Tag]bool, balance BalanceState) Decision {
	tierProfile, primary := e.resolveAlias(req.Model, tags, balance)

	chain := e.buildChain(primary, tierProfile, tags)

	if req.SessionID != "" {
		if pinned, ok := e.pins.Get(req.SessionID, tierProfile); ok && e.compatible(pinned, tags) {
			chain = prependUnique(pinned, chain)
			primary = chain[0]
		}
	}

	primaryModel, hasPrimary := e.catalog.Get(primary)
	var costEstimate, savings float64
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if hasPrimary {
		costEstimate = primaryModel.PricePerMillion * float64(maxTokens) / 1e6
	}
	if premium, ok := e.catalog.Get(e.topQualityInTier(catalog.TierPremium, tags)); ok && premium.PricePerMillion > 0 {
		premiumCost := premium.PricePerMillion * float64(maxTokens) / 1e6
		if premiumCost > 0 {
			savings = 1 - costEstimate/premiumCost
		}
	}

	return Decision{
		Tier:            tierProfile,
		PrimaryModel:    primary,
		CandidateChain:  chain,
		Reasoning:       reasonFor(req.Model, tierProfile, tags),
		CostEstimateUSD: costEstimate,
		Savings:         savings,
	}
}

// resolveAlias maps the client's model field — an alias or an explicit id —
// to the tier profile (used to scope session pins) and the resolved primary
// model id (not yet deduplicated or chained).
func (e *Engine) resolveAlias(model string, tags map[classifier.Tag]bool, balance BalanceState) (tierProfile, primary string) {
	trimmed := strings.TrimSpace(model)
	if !isAlias(trimmed) {
		if trimmed == "" {
			trimmed = string(AliasAuto)
		} else {
			normalized := Normalize(trimmed)
			return normalized, normalized
		}
	}

	switch Alias(trimmed) {
	case AliasAuto:
		if balance.Known && balance.IsEmpty {
			return string(AliasFree), e.bestInTier(catalog.TierFree, tags)
		}
		if classifier.Has(tags, classifier.TagReasoning) || classifier.Has(tags, classifier.TagCode) || classifier.Has(tags, classifier.TagLongContext) {
			return string(AliasAuto), e.bestInTier(catalog.TierPremium, tags)
		}
		return string(AliasAuto), e.bestInTier(catalog.TierStandard, tags)
	case AliasEco:
		return string(AliasEco), e.bestInTier(catalog.TierEco, tags)
	case AliasPremium:
		return string(AliasPremium), e.topQualityInTier(catalog.TierPremium, tags)
	case AliasFree:
		return string(AliasFree), e.bestInTier(catalog.TierFree, tags)
	}
	return trimmed, Normalize(trimmed)
}

// Normalize canonicalizes an explicit model id: trim whitespace, lowercase
// the vendor prefix segment before the first '/', preserve the rest.
// Idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(model string) string {
	trimmed := strings.TrimSpace(model)
	idx := strings.Index(trimmed, "/")
	if idx < 0 {
		return strings.ToLower(trimmed)
	}
	vendor := strings.ToLower(trimmed[:idx])
	return vendor + trimmed[idx:]
}

// bestInTier returns the cheapest (ascending price, then descending weight)
// model in tier whose capabilities satisfy tags, falling back to any model
// in the tier if none match, and to the emergency free model if the tier is
// empty.
func (e *Engine) bestInTier(tier catalog.Tier, tags map[classifier.Tag]bool) string {
	candidates := e.catalog.Tier(tier)
	for _, m := range candidates {
		if e.compatible(m.ID, tags) {
			return m.ID
		}
	}
	if len(candidates) > 0 {
		return candidates[0].ID
	}
	if free, ok := e.catalog.EmergencyFreeModel(); ok {
		return free.ID
	}
	return ""
}

// topQualityInTier returns the highest-quality (descending weight, then
// descending price) model in tier whose capabilities satisfy tags, with the
// same fallbacks as bestInTier. Used for the premium alias, which asks for
// quality rather than price.
func (e *Engine) topQualityInTier(tier catalog.Tier, tags map[classifier.Tag]bool) string {
	candidates := e.catalog.Tier(tier)
	var best string
	bestWeight, bestPrice := -1, -1.0
	for _, m := range candidates {
		if !e.compatible(m.ID, tags) {
			continue
		}
		if m.Weight > bestWeight || (m.Weight == bestWeight && m.PricePerMillion > bestPrice) {
			best, bestWeight, bestPrice = m.ID, m.Weight, m.PricePerMillion
		}
	}
	if best != "" {
		return best
	}
	return e.bestInTier(tier, tags)
}

// compatible reports whether model's capability set covers the classified
// tags (ignoring "general", which every model implicitly satisfies).
func (e *Engine) compatible(modelID string, tags map[classifier.Tag]bool) bool {
	m, ok := e.catalog.Get(modelID)
	if !ok {
		return true // unknown models (explicit ids) are advisory-only; always "compatible"
	}
	for tag := range tags {
		if tag == classifier.TagGeneral {
			continue
		}
		if !m.HasCapability(catalog.Capability(tag)) {
			return false
		}
	}
	return true
}

// buildChain constructs the ordered candidate chain: primary first, then
// same-tier/capability-matching models by ascending price, then the
// emergency free model last, de-duplicated while preserving order. When the
// primary is itself the emergency free model, the chain is that model alone.
func (e *Engine) buildChain(primary, tierProfile string, tags map[classifier.Tag]bool) []string {
	chain := []string{primary}

	if primaryModel, ok := e.catalog.Get(primary); ok && !primaryModel.EmergencyFree {
		for _, m := range e.catalog.Tier(primaryModel.Tier) {
			if m.ID == primary {
				continue
			}
			if e.compatible(m.ID, tags) {
				chain = append(chain, m.ID)
			}
		}
	}

	if free, ok := e.catalog.EmergencyFreeModel(); ok {
		chain = append(chain, free.ID)
	}

	return dedupe(chain)
}

func dedupe(chain []string) []string {
	seen := make(map[string]bool, len(chain))
	out := make([]string, 0, len(chain))
	for _, id := range chain {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func prependUnique(model string, chain []string) []string {
	out := make([]string, 0, len(chain)+1)
	out = append(out, model)
	for _, id := range chain {
		if id != model {
			out = append(out, id)
		}
	}
	return out
}

func reasonFor(rawModel, tierProfile string, tags map[classifier.Tag]bool) string {
	tagNames := make([]string, 0, len(tags))
	for t := range tags {
		tagNames = append(tagNames, string(t))
	}
	return "requested=" + rawModel + " tier=" + tierProfile + " tags=" + strings.Join(tagNames, ",")
}
