package core

import (
	"errors"
	"testing"
)

func TestCapabilities_Satisfies(t *testing.T) {
	full := Capabilities{Images: true, SystemPrompts: true, JSONMode: true}
	textOnly := Capabilities{SystemPrompts: true}

	if !full.Satisfies(Capabilities{Images: true}) {
		t.Error("full capability set should satisfy images requirement")
	}
	if textOnly.Satisfies(Capabilities{Images: true}) {
		t.Error("text-only provider must not satisfy images requirement")
	}
	if !textOnly.Satisfies(Capabilities{}) {
		t.Error("empty requirement is always satisfied")
	}
}

func TestCapabilities_Score(t *testing.T) {
	if got := (Capabilities{Images: true, JSONMode: true}).Score(); got != 2 {
		t.Errorf("expected score 2, got %d", got)
	}
}

func TestCallError_Matching(t *testing.T) {
	cause := errors.New("429 too many requests")
	err := NewCallError("openai-gpt5", ErrRateLimited, cause)

	if !errors.Is(err, ErrRateLimited) {
		t.Error("call error should match its kind")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("call error must not match a different kind")
	}
	if !errors.Is(err, cause) {
		t.Error("call error should unwrap to its cause")
	}
}
