package budget

import (
	"strings"
	"testing"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestEstimate_ProfileRatio(t *testing.T) {
	e := NewEstimator()
	text := strings.Repeat("a", 100)

	fourPer := core.Profile{CharsPerToken: 4.0}
	twoPer := core.Profile{CharsPerToken: 2.0}

	assert.Equal(t, 25, e.Estimate(fourPer, text))
	assert.Equal(t, 50, e.Estimate(twoPer, text))
	// Zero ratio falls back to the default.
	assert.Equal(t, 25, e.Estimate(core.Profile{}, text))
	assert.Equal(t, 0, e.Estimate(fourPer, ""))
}

func TestEstimate_Deterministic(t *testing.T) {
	e := NewEstimator()
	p := core.Profile{CharsPerToken: 3.5}
	text := "the same input every time"
	first := e.Estimate(p, text)
	for i := 0; i < 10; i++ {
		if got := e.Estimate(p, text); got != first {
			t.Fatalf("estimate changed between calls: %d vs %d", first, got)
		}
	}
}

func TestEstimateTurn_IncludesAttachments(t *testing.T) {
	e := NewEstimator()
	p := core.Profile{CharsPerToken: 4.0}
	turn := testutil.NewTurnBuilder().
		Caller().
		Text(strings.Repeat("x", 40)).
		Attachment("fp", "notes.txt", strings.Repeat("y", 80)).
		Build()

	assert.Equal(t, 10+20, e.EstimateTurn(p, turn))
}

func TestHistoryBudget(t *testing.T) {
	e := NewEstimator()
	p := core.Profile{MaxContext: 1000}

	tokens, truncated := e.HistoryBudget(p, 100)
	assert.False(t, truncated)
	assert.Equal(t, 1000-100-50, tokens) // 5% margin of 1000 is 50

	// Reservation consuming the whole window yields zero, not negative.
	tokens, truncated = e.HistoryBudget(p, 1000)
	assert.True(t, truncated)
	assert.Equal(t, 0, tokens)

	tokens, truncated = e.HistoryBudget(p, 5000)
	assert.True(t, truncated)
	assert.Equal(t, 0, tokens)
}

func TestHistoryBudget_CustomMargin(t *testing.T) {
	e := NewEstimator(func(o *Options) { o.SafetyMarginRatio = 0.1 })
	tokens, truncated := e.HistoryBudget(core.Profile{MaxContext: 1000}, 100)
	assert.False(t, truncated)
	assert.Equal(t, 800, tokens)
}
