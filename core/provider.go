package core

import (
	"context"
	"fmt"
	"time"
)

// Fragment is one element of a reconstructed prompt. Either Text carries the
// full content, or Ref names a content fingerprint the backend has already
// seen in this conversation (deduplicated by the reconstructor).
type Fragment struct {
	Role Role   `json:"role"`
	Text string `json:"text,omitempty"`
	Ref  string `json:"ref,omitempty"`
}

// IsReference reports whether the fragment is a dedup reference rather than
// embedded content.
func (f Fragment) IsReference() bool { return f.Text == "" && f.Ref != "" }

// CallOptions tune a single provider invocation.
type CallOptions struct {
	SystemPrompt string
	Temperature  float64
	// MaxOutputTokens caps the completion; zero means the profile's MaxOutput.
	MaxOutputTokens int
}

// Result is the normalized outcome of one successful provider call.
type Result struct {
	ProviderID   string `json:"provider_id"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Request is the normalized provider input: the reconstructed fragments plus
// call options. Adapters shape this into vendor message formats.
type Request struct {
	Fragments []Fragment
	Options   CallOptions
}

// Provider is the closed interface every backend adapter implements. Send is
// the only blocking operation in the system; implementations must honor ctx
// cancellation and classify failures via CallError.
type Provider interface {
	Send(ctx context.Context, req Request) (*Result, error)
	Profile() Profile
}

// MockProvider is a lightweight in-memory Provider useful for tests and
// demos: canned responses keyed by the last embedded fragment text, with
// optional scripted failure and latency.
type MockProvider struct {
	profile   Profile
	responses map[string]string
	fail      error
	latency   time.Duration
}

// NewMockProvider constructs a MockProvider with a permissive default profile.
func NewMockProvider(id string) *MockProvider {
	return &MockProvider{
		profile: Profile{
			ID:         id,
			Model:      "mock-" + id,
			MaxContext: 8192,
			MaxOutput:  1024,
			Capabilities: Capabilities{
				SystemPrompts: true,
			},
		},
		responses: make(map[string]string),
	}
}

// WithProfile overrides the mock's profile (chainable).
func (m *MockProvider) WithProfile(p Profile) *MockProvider {
	m.profile = p
	return m
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockProvider) AddResponse(prompt, response string) { m.responses[prompt] = response }

// FailWith makes every subsequent Send return the given error.
func (m *MockProvider) FailWith(err error) { m.fail = err }

// Succeed clears a scripted failure.
func (m *MockProvider) Succeed() { m.fail = nil }

// WithLatency makes Send sleep before responding, for timeout tests.
func (m *MockProvider) WithLatency(d time.Duration) *MockProvider {
	m.latency = d
	return m
}

// Send implements Provider.
func (m *MockProvider) Send(ctx context.Context, req Request) (*Result, error) {
	if m.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, NewCallError(m.profile.ID, ErrTimeout, ctx.Err())
		case <-time.After(m.latency):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, NewCallError(m.profile.ID, ErrTimeout, err)
	}
	if m.fail != nil {
		return nil, NewCallError(m.profile.ID, m.fail, nil)
	}
	var last string
	for _, f := range req.Fragments {
		if !f.IsReference() {
			last = f.Text
		}
	}
	text := m.responses[last]
	if text == "" {
		text = fmt.Sprintf("mock response to: %s", last)
	}
	return &Result{
		ProviderID:   m.profile.ID,
		Text:         text,
		FinishReason: "stop",
		InputTokens:  len(last) / 4,
		OutputTokens: len(text) / 4,
	}, nil
}

// Profile implements Provider.
func (m *MockProvider) Profile() Profile { return m.profile }
