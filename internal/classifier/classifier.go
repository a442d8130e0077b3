// Package classifier heuristically labels a chat request with capability
// tags, used by the router to pick a model tier. Classification is pure and
// deterministic: identical inputs always yield identical tag sets.
package classifier

import (
	"regexp"
	"strings"
)

// Tag is a capability label attached to a classified request.
type Tag string

const (
	TagReasoning   Tag = "reasoning"
	TagCode        Tag = "code"
	TagVision      Tag = "vision"
	TagLongContext Tag = "long-context"
	TagGeneral     Tag = "general"
)

// longContextThreshold is the prompt character length, in bytes, above which
// a request is tagged long-context regardless of its other tags.
const longContextThreshold = 32 * 1024

var (
	codeFenceRe  = regexp.MustCompile("```")
	codeExtRe    = regexp.MustCompile(`\.(go|py|js|ts|rs|java|c|cpp|rb|sh|yaml|yml|json|sql)\b`)
	codeIdentRe  = regexp.MustCompile(`\b(func|def|class|import|package|const|let|var)\b`)
	reasoningRe  = regexp.MustCompile(`(?i)\b(prove|proof|step by step|derive|reason about|explain why|theorem)\b`)
	mathExprRe   = regexp.MustCompile(`[=≤≥∑∫√]|\bsqrt\(`)
)

// MessagePart is the minimal shape the classifier needs from a chat message:
// its text content and whether it carries non-text media (image/audio).
type MessagePart struct {
	Content   string
	NonText   bool
}

// Request is the minimal shape the classifier needs from an incoming chat
// request.
type Request struct {
	Parts     []MessagePart
	MaxTokens int
}

// Classify returns the capability tag set for req. Rules are evaluated in
// order with first-match semantics, except long-context, which always
// applies when triggered regardless of the other tags.
func Classify(req Request) map[Tag]bool {
	tags := make(map[Tag]bool)

	var totalLen int
	var text strings.Builder
	hasNonText := false
	for _, p := range req.Parts {
		if p.NonText {
			hasNonText = true
		}
		totalLen += len(p.Content)
		text.WriteString(p.Content)
		text.WriteByte('\n')
	}

	if totalLen > longContextThreshold {
		tags[TagLongContext] = true
	}

	content := text.String()
	switch {
	case hasNonText:
		tags[TagVision] = true
	case codeFenceRe.MatchString(content) || codeExtRe.MatchString(content) || codeIdentRe.MatchString(content):
		tags[TagCode] = true
	case reasoningRe.MatchString(content) || mathExprRe.MatchString(content):
		tags[TagReasoning] = true
	default:
		tags[TagGeneral] = true
	}

	return tags
}

// Has reports whether the tag set contains tag.
func Has(tags map[Tag]bool, tag Tag) bool {
	return tags[tag]
}
