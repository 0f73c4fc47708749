package testutil

import (
	"time"

	"github.com/conclave-ai/conclave/core"
)

// ThreadBuilder helps construct threads with fluent chaining for tests.
// Example:
//
//	th := NewThreadBuilder("chat").CallerText("hi").ProviderText("gpt", "hello").Build()
type ThreadBuilder struct {
	id    string
	owner string
	ttl   time.Duration
	turns []core.Turn
}

// NewThreadBuilder creates a new builder for a thread owned by the given tool.
// Use chainable methods (Turn, CallerText, ProviderText) then call Build.
func NewThreadBuilder(owner string) *ThreadBuilder {
	return &ThreadBuilder{owner: owner, ttl: 3 * time.Hour}
}

// ID overrides the auto-generated continuation id (chainable).
func (b *ThreadBuilder) ID(id string) *ThreadBuilder { b.id = id; return b }

// TTL overrides the default expiry window (chainable).
func (b *ThreadBuilder) TTL(ttl time.Duration) *ThreadBuilder { b.ttl = ttl; return b }

// Turn appends a single pre-built turn to the history (chainable).
func (b *ThreadBuilder) Turn(t core.Turn) *ThreadBuilder {
	b.turns = append(b.turns, t)
	return b
}

// Turns appends multiple turns to the history (chainable).
func (b *ThreadBuilder) Turns(ts ...core.Turn) *ThreadBuilder {
	b.turns = append(b.turns, ts...)
	return b
}

// CallerText appends a caller turn with the given text (chainable).
func (b *ThreadBuilder) CallerText(text string) *ThreadBuilder {
	return b.Turn(NewTurnBuilder().Caller().Text(text).Build())
}

// ProviderText appends a provider turn with the given text (chainable).
func (b *ThreadBuilder) ProviderText(providerID, text string) *ThreadBuilder {
	return b.Turn(NewTurnBuilder().Provider(providerID).Text(text).Build())
}

// Build returns a *core.Thread with pre-populated history and a re-derived
// fingerprint set.
func (b *ThreadBuilder) Build() *core.Thread {
	id := b.id
	if id == "" {
		id = core.NewID()
	}
	now := time.Now().UTC()
	return core.RestoreThread(id, b.owner, now, now, now.Add(b.ttl), b.turns)
}
