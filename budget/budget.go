// Package budget computes token estimates and the history budget available
// for reconstructed context. Estimates are deterministic and parameterized by
// the target provider profile: different backends tokenize at different
// chars-per-token ratios, so there is no global estimate.
package budget

import (
	"math"

	"github.com/conclave-ai/conclave/core"
)

// DefaultCharsPerToken is used when a profile does not declare a ratio.
// Matches the common ~4 chars/token heuristic for English prose.
const DefaultCharsPerToken = 4.0

// DefaultSafetyMarginRatio is the fraction of the context window held back
// from the history budget to absorb estimation error.
const DefaultSafetyMarginRatio = 0.05

// ReferenceTokenCost is the flat estimated cost of a deduplicated content
// reference (a fingerprint citation instead of the full blob).
const ReferenceTokenCost = 8

// Options configure an Estimator.
type Options struct {
	// SafetyMarginRatio overrides the held-back fraction of the window.
	SafetyMarginRatio float64
}

// Estimator produces deterministic token estimates for a given profile.
type Estimator struct {
	safetyMarginRatio float64
}

// NewEstimator constructs an Estimator with optional overrides.
func NewEstimator(optFns ...func(o *Options)) *Estimator {
	opts := Options{SafetyMarginRatio: DefaultSafetyMarginRatio}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Estimator{safetyMarginRatio: opts.SafetyMarginRatio}
}

// Estimate returns the approximate token count of text under the profile's
// tokenization ratio. Deterministic: same inputs, same result.
func (e *Estimator) Estimate(profile core.Profile, text string) int {
	if text == "" {
		return 0
	}
	ratio := profile.CharsPerToken
	if ratio <= 0 {
		ratio = DefaultCharsPerToken
	}
	return int(math.Ceil(float64(len(text)) / ratio))
}

// EstimateTurn returns the cost of a turn with all attachments embedded in
// full. Deduplication savings are applied by the reconstructor, which knows
// which fingerprints are already retained.
func (e *Estimator) EstimateTurn(profile core.Profile, turn core.Turn) int {
	cost := e.Estimate(profile, turn.Text)
	for _, a := range turn.Attachments {
		cost += e.Estimate(profile, a.Text)
	}
	return cost
}

// HistoryBudget returns the tokens available for conversation history after
// reserving output space and a safety margin. Never negative: when the
// reservation already exceeds the window the budget is zero and truncated is
// true, leaving the fatality decision to the caller.
func (e *Estimator) HistoryBudget(profile core.Profile, reservedOutput int) (tokens int, truncated bool) {
	margin := int(float64(profile.MaxContext) * e.safetyMarginRatio)
	available := profile.MaxContext - reservedOutput - margin
	if available <= 0 {
		return 0, true
	}
	return available, false
}
