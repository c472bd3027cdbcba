package intelligence

import (
	"context"
	"regexp"
)

// Contradiction describes a conflict signal between new and existing text.
type Contradiction struct {
	Detected    bool    `json:"detected"`
	Type        string  `json:"type,omitempty"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// ContradictionDetector decides whether new content contradicts existing
// content. Implementations must be safe for concurrent use.
type ContradictionDetector interface {
	Detect(ctx context.Context, newContent, existingContent string) (Contradiction, error)
}

// existingOnlyDiscount scales signals found only in the existing text.
const existingOnlyDiscount = 0.6

type contradictionPattern struct {
	re          *regexp.Regexp
	kind        string
	description string
	confidence  float64
}

// Catalogue order breaks confidence ties: the earlier entry wins.
var contradictionPatterns = []contradictionPattern{
	{regexp.MustCompile(`(?is)\bnot\b.*\bbut\b`), "negation", "Direct negation detected", 0.60},
	{regexp.MustCompile(`(?i)\binstead\b`), "replacement", "Alternative approach suggested", 0.55},
	{regexp.MustCompile(`(?i)\bno longer\b`), "deprecation", "Previous approach deprecated", 0.75},
	{regexp.MustCompile(`(?i)\bwrong\b|\bincorrect\b`), "correction", "Correction applied", 0.70},
	{regexp.MustCompile(`(?i)\bactually\b`), "clarification", "Clarification of prior understanding", 0.45},
	{regexp.MustCompile(`(?i)\bshould not\b|\bshouldn't\b`), "prohibition", "Prohibited pattern identified", 0.65},
	{regexp.MustCompile(`(?i)\bobsolete\b|\bdeprecated\b`), "obsolescence", "Knowledge marked obsolete", 0.80},
	{regexp.MustCompile(`(?i)\bcontradicts?\b`), "explicit", "Explicit contradiction statement", 0.85},
}

// PatternDetector detects contradictions with a fixed catalogue of signal
// phrases. Each pattern runs separately against the new and the existing
// text, never their concatenation.
type PatternDetector struct{}

// NewPatternDetector returns the catalogue detector.
func NewPatternDetector() *PatternDetector {
	return &PatternDetector{}
}

// Detect implements ContradictionDetector. It never fails.
func (PatternDetector) Detect(_ context.Context, newContent, existingContent string) (Contradiction, error) {
	return DetectContradiction(newContent, existingContent), nil
}

// DetectContradiction runs the pattern catalogue.
//
// A signal only in the new text counts at full confidence; a signal only in
// the existing text counts at 0.6x; a signal in both is inherited phrasing
// and ignored. The strongest asymmetric signal is returned.
func DetectContradiction(newContent, existingContent string) Contradiction {
	if newContent == "" || existingContent == "" {
		return Contradiction{}
	}

	var best Contradiction
	for _, p := range contradictionPatterns {
		inNew := p.re.MatchString(newContent)
		inExisting := p.re.MatchString(existingContent)

		var confidence float64
		switch {
		case inNew && !inExisting:
			confidence = p.confidence
		case inExisting && !inNew:
			confidence = p.confidence * existingOnlyDiscount
		default:
			continue
		}

		if confidence > best.Confidence {
			best = Contradiction{
				Detected:    true,
				Type:        p.kind,
				Description: p.description,
				Confidence:  confidence,
			}
		}
	}
	return best
}

// ContradictionTypes lists the catalogue's signal types.
func ContradictionTypes() []string {
	out := make([]string, len(contradictionPatterns))
	for i, p := range contradictionPatterns {
		out[i] = p.kind
	}
	return out
}
