package prompt

import (
	"strings"
	"testing"

	"github.com/conclave-ai/conclave/budget"
	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/thread"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testProfile tokenizes at 4 chars/token with a 1000 token window; the 5%
// safety margin leaves 1000 - reserved - 50 for history.
var testProfile = core.Profile{
	ID:            "test",
	MaxContext:    1000,
	MaxOutput:     200,
	CharsPerToken: 4.0,
}

func newFixture(t *testing.T) (*thread.InMemoryStore, *Reconstructor, string) {
	t.Helper()
	store := thread.NewInMemoryStore()
	rec := NewReconstructor(store, budget.NewEstimator())
	th, err := store.Create("chat")
	require.NoError(t, err)
	return store, rec, th.ID
}

func text(tokens int) string { return strings.Repeat("a", tokens*4) }

func TestRebuild_UnknownThread(t *testing.T) {
	_, rec, _ := newFixture(t)
	_, err := rec.Rebuild("missing", testProfile, 100)
	assert.ErrorIs(t, err, core.ErrThreadNotFound)
}

func TestRebuild_EmptyThread(t *testing.T) {
	_, rec, id := newFixture(t)
	res, err := rec.Rebuild(id, testProfile, 100)
	require.NoError(t, err)
	assert.Empty(t, res.Fragments)
	assert.False(t, res.Truncated)
	assert.Zero(t, res.Tokens)
}

func TestRebuild_AllTurnsFitInOrder(t *testing.T) {
	store, rec, id := newFixture(t)
	require.NoError(t, store.Append(id, core.NewCallerTurn(text(10))))
	require.NoError(t, store.Append(id, core.NewProviderTurn("p1", text(20), 0, 0)))
	require.NoError(t, store.Append(id, core.NewCallerTurn(text(30))))

	res, err := rec.Rebuild(id, testProfile, 100)
	require.NoError(t, err)
	require.Len(t, res.Fragments, 3)
	assert.False(t, res.Truncated)
	assert.Equal(t, 60, res.Tokens)
	// Chronological order survives the newest-first walk.
	assert.Equal(t, core.RoleCaller, res.Fragments[0].Role)
	assert.Equal(t, 40, len(res.Fragments[0].Text))
	assert.Equal(t, core.RoleProvider, res.Fragments[1].Role)
	assert.Equal(t, 120, len(res.Fragments[2].Text))
}

func TestRebuild_DropsOldestFirst(t *testing.T) {
	store, rec, id := newFixture(t)
	// Budget: 1000 - 800 - 50 = 150 tokens.
	require.NoError(t, store.Append(id, core.NewCallerTurn(text(100)))) // dropped
	require.NoError(t, store.Append(id, core.NewCallerTurn(text(80))))
	require.NoError(t, store.Append(id, core.NewCallerTurn(text(60))))

	res, err := rec.Rebuild(id, testProfile, 800)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, 1, res.Dropped)
	require.Len(t, res.Fragments, 2)
	assert.Equal(t, 80*4, len(res.Fragments[0].Text))
	assert.Equal(t, 60*4, len(res.Fragments[1].Text))
	assert.LessOrEqual(t, res.Tokens, res.Budget)
}

func TestRebuild_NewestTurnAloneOverBudget(t *testing.T) {
	store, rec, id := newFixture(t)
	require.NoError(t, store.Append(id, core.NewCallerTurn(text(5))))
	require.NoError(t, store.Append(id, core.NewCallerTurn(text(500)))) // over any budget here

	res, err := rec.Rebuild(id, testProfile, 800)
	require.NoError(t, err)
	// The newest turn is never silently dropped.
	require.Len(t, res.Fragments, 1)
	assert.Equal(t, 500*4, len(res.Fragments[0].Text))
	assert.True(t, res.Truncated)
	assert.Equal(t, 1, res.Dropped)
}

func TestRebuild_ZeroBudgetStillIncludesNewest(t *testing.T) {
	store, rec, id := newFixture(t)
	require.NoError(t, store.Append(id, core.NewCallerTurn(text(5))))

	res, err := rec.Rebuild(id, testProfile, 5000)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, 0, res.Budget)
	require.Len(t, res.Fragments, 1)
}

func TestRebuild_Deterministic(t *testing.T) {
	store, rec, id := newFixture(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, store.Append(id, core.NewCallerTurn(text(30),
			core.Attachment{Fingerprint: "shared", Text: text(20)})))
	}

	first, err := rec.Rebuild(id, testProfile, 500)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := rec.Rebuild(id, testProfile, 500)
		require.NoError(t, err)
		assert.Equal(t, first.Fragments, again.Fragments)
		assert.Equal(t, first.Tokens, again.Tokens)
		assert.Equal(t, first.Truncated, again.Truncated)
	}
}

func TestRebuild_DeduplicatesFingerprints(t *testing.T) {
	store, rec, id := newFixture(t)
	att := core.Attachment{Fingerprint: "fp-main", Name: "main.go", Text: text(50)}
	require.NoError(t, store.Append(id, core.NewCallerTurn(text(10), att)))
	require.NoError(t, store.Append(id, core.NewProviderTurn("p1", text(10), 0, 0)))
	require.NoError(t, store.Append(id, core.NewCallerTurn(text(10), att)))

	res, err := rec.Rebuild(id, testProfile, 100)
	require.NoError(t, err)
	require.Len(t, res.Fragments, 5)

	// First retained occurrence embedded in full.
	assert.Equal(t, "fp-main", res.Fragments[1].Ref)
	assert.False(t, res.Fragments[1].IsReference())
	assert.Equal(t, 50*4, len(res.Fragments[1].Text))
	// Repeat referenced by id only.
	assert.Equal(t, "fp-main", res.Fragments[4].Ref)
	assert.True(t, res.Fragments[4].IsReference())

	// Dedup saves budget: one full embed plus one flat reference.
	assert.Equal(t, 10+50+10+10+budget.ReferenceTokenCost, res.Tokens)
}

func TestRebuild_CostNeverExceedsBudget(t *testing.T) {
	store, rec, id := newFixture(t)
	for i := 0; i < 30; i++ {
		require.NoError(t, store.Append(id, core.NewCallerTurn(text(25))))
	}

	for _, reserved := range []int{100, 400, 700, 900} {
		res, err := rec.Rebuild(id, testProfile, reserved)
		require.NoError(t, err)
		if res.Budget > 0 && len(res.Fragments) > 1 {
			assert.LessOrEqual(t, res.Tokens, res.Budget, "reserved=%d", reserved)
		}
	}
}
