package testutil

import (
	"time"

	"github.com/conclave-ai/conclave/core"
)

// TurnBuilder provides a fluent helper for constructing turns in tests.
// Example:
//
//	turn := NewTurnBuilder().Provider("gpt").Text("hello").Tokens(12, 4).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type TurnBuilder struct {
	id          string
	role        core.Role
	providerID  string
	text        string
	attachments []core.Attachment
	inputTokens int
	outputToken int
	timestamp   *time.Time
}

// NewTurnBuilder creates a builder with default role caller.
func NewTurnBuilder() *TurnBuilder { return &TurnBuilder{role: core.RoleCaller} }

// ID overrides the auto-generated turn ID (chainable). Use mainly in tests
// where determinism matters.
func (b *TurnBuilder) ID(id string) *TurnBuilder { b.id = id; return b }

// Caller marks the turn as caller-authored (chainable).
func (b *TurnBuilder) Caller() *TurnBuilder { b.role = core.RoleCaller; return b }

// Provider marks the turn as provider-authored by the given provider (chainable).
func (b *TurnBuilder) Provider(providerID string) *TurnBuilder {
	b.role = core.RoleProvider
	b.providerID = providerID
	return b
}

// Text sets the turn body (chainable).
func (b *TurnBuilder) Text(t string) *TurnBuilder { b.text = t; return b }

// Attachment appends a fingerprinted attachment (chainable).
func (b *TurnBuilder) Attachment(fingerprint, name, text string) *TurnBuilder {
	b.attachments = append(b.attachments, core.Attachment{
		Fingerprint: fingerprint,
		Name:        name,
		Text:        text,
	})
	return b
}

// Tokens records the usage observed on the producing call (chainable).
func (b *TurnBuilder) Tokens(input, output int) *TurnBuilder {
	b.inputTokens = input
	b.outputToken = output
	return b
}

// At pins the turn timestamp (chainable).
func (b *TurnBuilder) At(ts time.Time) *TurnBuilder { b.timestamp = &ts; return b }

// Build constructs the core.Turn value.
func (b *TurnBuilder) Build() core.Turn {
	turn := core.Turn{
		ID:           b.id,
		Role:         b.role,
		ProviderID:   b.providerID,
		Text:         b.text,
		Attachments:  b.attachments,
		InputTokens:  b.inputTokens,
		OutputTokens: b.outputToken,
		Timestamp:    time.Now().UTC(),
	}
	if turn.ID == "" {
		turn.ID = core.NewID()
	}
	if b.timestamp != nil {
		turn.Timestamp = *b.timestamp
	}
	return turn
}
