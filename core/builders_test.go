package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/internal/testutil"
)

func TestThreadBuilder_RederivesFingerprints(t *testing.T) {
	th := testutil.NewThreadBuilder("chat").
		Turn(testutil.NewTurnBuilder().
			Caller().
			Text("please review").
			Attachment("fp-main", "main.go", "package main").
			Build()).
		ProviderText("gpt", "looks fine").
		Build()

	assert.True(t, th.SeenFingerprint("fp-main"))
	assert.False(t, th.SeenFingerprint("fp-other"))
	require.Equal(t, 2, th.Len())

	turns := th.GetTurns()
	assert.Equal(t, core.RoleCaller, turns[0].Role)
	assert.Equal(t, "gpt", turns[1].ProviderID)
}

func TestTurnBuilder_Defaults(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	turn := testutil.NewTurnBuilder().
		Provider("claude").
		Text("answer").
		Tokens(120, 40).
		At(ts).
		Build()

	assert.NotEmpty(t, turn.ID)
	assert.Equal(t, core.RoleProvider, turn.Role)
	assert.Equal(t, "claude", turn.ProviderID)
	assert.Equal(t, 120, turn.InputTokens)
	assert.Equal(t, 40, turn.OutputTokens)
	assert.Equal(t, ts, turn.Timestamp)
}
