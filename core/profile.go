package core

// Availability is the observed health state of a provider, folded by the
// gateway from call outcomes.
type Availability int

const (
	// Available means the provider is serving calls normally.
	Available Availability = iota
	// Degraded means recent failures were observed but the provider is still
	// eligible for calls.
	Degraded
	// Unavailable means consecutive failures crossed the gateway threshold;
	// the provider is skipped until a successful call resets it.
	Unavailable
)

// String returns the string representation of the availability state.
func (a Availability) String() string {
	switch a {
	case Available:
		return "available"
	case Degraded:
		return "degraded"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Capabilities are the static feature flags of a provider backend.
type Capabilities struct {
	Images        bool `json:"images" yaml:"images"`
	SystemPrompts bool `json:"system_prompts" yaml:"system_prompts"`
	JSONMode      bool `json:"json_mode" yaml:"json_mode"`
}

// Satisfies reports whether these capabilities cover every flag required.
func (c Capabilities) Satisfies(required Capabilities) bool {
	if required.Images && !c.Images {
		return false
	}
	if required.SystemPrompts && !c.SystemPrompts {
		return false
	}
	if required.JSONMode && !c.JSONMode {
		return false
	}
	return true
}

// Score counts the enabled capability flags. Used as a deterministic
// tie-breaker when ordering eligible providers.
func (c Capabilities) Score() int {
	score := 0
	if c.Images {
		score++
	}
	if c.SystemPrompts {
		score++
	}
	if c.JSONMode {
		score++
	}
	return score
}

// Profile is the static per-backend description: identity, context limits,
// tokenization ratio, capability flags and preference rank. Availability is
// dynamic and owned by the gateway, not stored here.
type Profile struct {
	ID           string       `json:"id" yaml:"id"`
	Model        string       `json:"model" yaml:"model"`
	FriendlyName string       `json:"friendly_name,omitempty" yaml:"friendly_name,omitempty"`
	Aliases      []string     `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	MaxContext   int          `json:"max_context" yaml:"max_context"`
	MaxOutput    int          `json:"max_output" yaml:"max_output"`
	// CharsPerToken is the tokenization ratio used by the budget estimator.
	// Zero means the estimator default applies.
	CharsPerToken float64      `json:"chars_per_token,omitempty" yaml:"chars_per_token,omitempty"`
	Rank          int          `json:"rank" yaml:"rank"`
	Capabilities  Capabilities `json:"capabilities" yaml:"capabilities"`
}
