// Package gateway fronts the configured provider backends. It owns provider
// profiles and their availability state, classifies call failures into the
// core taxonomy, and answers deterministic eligibility queries. It never
// retries on its own: retry policy belongs to the caller, because a
// single-provider call may retry once while a consensus fan-out must not
// retry a slow member at the expense of the others.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/logging"
)

// DefaultFailureThreshold is the number of consecutive failures after which a
// provider is marked Unavailable.
const DefaultFailureThreshold = 3

// DefaultCooldown is how long an Unavailable provider is short-circuited
// before a single call is let through as a probe. A probe success resets the
// provider to Available.
const DefaultCooldown = 30 * time.Second

// Options configure a Gateway.
type Options struct {
	// FailureThreshold sets the consecutive-failure count that flips a
	// provider to Unavailable.
	FailureThreshold int
	// AllowedModels restricts registration to the listed model or provider
	// names when non-empty.
	AllowedModels []string
	// DisabledModels rejects the listed model or provider names at
	// registration.
	DisabledModels []string
	// Cooldown overrides how long Unavailable providers are short-circuited.
	Cooldown time.Duration
	// Logger receives call outcome events.
	Logger logging.Logger
}

// providerState pairs a provider with its gateway-owned availability. The
// mutex serializes state updates for one provider; updates to one provider
// never block calls to another.
type providerState struct {
	provider core.Provider

	mu                  sync.Mutex
	availability        core.Availability
	consecutiveFailures int
	unavailableSince    time.Time
}

// Gateway is the process-wide registry of provider backends.
type Gateway struct {
	mu        sync.RWMutex
	providers map[string]*providerState
	aliases   map[string]string

	failureThreshold int
	cooldown         time.Duration
	allowed          map[string]bool
	disabled         map[string]bool
	logger           logging.Logger
}

// New constructs an empty Gateway.
func New(optFns ...func(o *Options)) *Gateway {
	opts := Options{
		FailureThreshold: DefaultFailureThreshold,
		Cooldown:         DefaultCooldown,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	g := &Gateway{
		providers:        make(map[string]*providerState),
		aliases:          make(map[string]string),
		failureThreshold: opts.FailureThreshold,
		cooldown:         opts.Cooldown,
		logger:           opts.Logger,
	}
	if len(opts.AllowedModels) > 0 {
		g.allowed = make(map[string]bool, len(opts.AllowedModels))
		for _, m := range opts.AllowedModels {
			g.allowed[m] = true
		}
	}
	if len(opts.DisabledModels) > 0 {
		g.disabled = make(map[string]bool, len(opts.DisabledModels))
		for _, m := range opts.DisabledModels {
			g.disabled[m] = true
		}
	}
	return g
}

// Register adds a provider under its profile id and aliases. Fails when the
// id or an alias is already taken, or when the restriction policy excludes
// the profile's model.
func (g *Gateway) Register(p core.Provider) error {
	profile := p.Profile()
	if profile.ID == "" {
		return fmt.Errorf("register: provider profile has no id")
	}
	if g.disabled[profile.Model] || g.disabled[profile.ID] {
		return fmt.Errorf("register %s: model %q is disabled by policy", profile.ID, profile.Model)
	}
	if g.allowed != nil && !g.allowed[profile.Model] && !g.allowed[profile.ID] {
		return fmt.Errorf("register %s: model %q is not in the allowed list", profile.ID, profile.Model)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.providers[profile.ID]; exists {
		return fmt.Errorf("register %s: already registered", profile.ID)
	}
	for _, alias := range profile.Aliases {
		if _, taken := g.aliases[alias]; taken {
			return fmt.Errorf("register %s: alias %q already taken", profile.ID, alias)
		}
	}

	g.providers[profile.ID] = &providerState{provider: p, availability: core.Available}
	for _, alias := range profile.Aliases {
		g.aliases[alias] = profile.ID
	}
	g.logger.Debug("provider registered", "provider_id", profile.ID, "model", profile.Model)
	return nil
}

// Resolve maps a provider id or alias to the canonical id.
func (g *Gateway) Resolve(idOrAlias string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.providers[idOrAlias]; ok {
		return idOrAlias, true
	}
	if id, ok := g.aliases[idOrAlias]; ok {
		return id, true
	}
	return "", false
}

// Profile returns the profile of a registered provider.
func (g *Gateway) Profile(idOrAlias string) (core.Profile, error) {
	state, err := g.state(idOrAlias)
	if err != nil {
		return core.Profile{}, err
	}
	return state.provider.Profile(), nil
}

// Availability returns the current availability of a provider.
func (g *Gateway) Availability(idOrAlias string) (core.Availability, error) {
	state, err := g.state(idOrAlias)
	if err != nil {
		return core.Unavailable, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.availability, nil
}

// Invoke sends the request to one provider and folds the outcome into its
// availability state. Failures are classified (Unavailable, Timeout,
// RateLimited, BackendError) and returned without retry.
func (g *Gateway) Invoke(ctx context.Context, idOrAlias string, req core.Request) (*core.Result, error) {
	state, err := g.state(idOrAlias)
	if err != nil {
		return nil, err
	}
	profile := state.provider.Profile()

	state.mu.Lock()
	if state.availability == core.Unavailable && time.Since(state.unavailableSince) < g.cooldown {
		state.mu.Unlock()
		return nil, core.NewCallError(profile.ID, core.ErrUnavailable, errors.New("circuit open after repeated failures"))
	}
	state.mu.Unlock()

	start := time.Now()
	result, err := state.provider.Send(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		classified := g.classify(profile.ID, ctx, err)
		g.recordFailure(state, profile.ID)
		g.logCall(profile.ID, 0, elapsed, false, classified)
		return nil, classified
	}

	g.recordSuccess(state)
	g.logCall(profile.ID, result.InputTokens+result.OutputTokens, elapsed, true, nil)
	return result, nil
}

// logCall records one call outcome, through the metric helper when the
// configured logger carries one.
func (g *Gateway) logCall(providerID string, tokens int, elapsed time.Duration, success bool, err error) {
	if cl, ok := g.logger.(logging.ProviderCallLogger); ok {
		cl.LogProviderCall(providerID, tokens, elapsed, success, err)
		return
	}
	if !success {
		g.logger.Warn("provider call failed",
			"provider_id", providerID, "duration", elapsed, "error", err.Error())
		return
	}
	g.logger.Debug("provider call completed",
		"provider_id", providerID, "duration", elapsed, "tokens", tokens)
}

// ListAvailable returns the profiles of providers that satisfy the required
// capabilities and are not Unavailable, ordered by preference rank, then by
// capability score (higher first), then by id. Never by arrival order.
func (g *Gateway) ListAvailable(required core.Capabilities) []core.Profile {
	g.mu.RLock()
	states := make([]*providerState, 0, len(g.providers))
	for _, state := range g.providers {
		states = append(states, state)
	}
	g.mu.RUnlock()

	var eligible []core.Profile
	for _, state := range states {
		state.mu.Lock()
		available := state.availability != core.Unavailable
		state.mu.Unlock()
		if !available {
			continue
		}
		profile := state.provider.Profile()
		if !profile.Capabilities.Satisfies(required) {
			continue
		}
		eligible = append(eligible, profile)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Rank != eligible[j].Rank {
			return eligible[i].Rank < eligible[j].Rank
		}
		si, sj := eligible[i].Capabilities.Score(), eligible[j].Capabilities.Score()
		if si != sj {
			return si > sj
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible
}

func (g *Gateway) state(idOrAlias string) (*providerState, error) {
	id, ok := g.Resolve(idOrAlias)
	if !ok {
		return nil, core.NewCallError(idOrAlias, core.ErrUnavailable, errors.New("unknown provider"))
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.providers[id], nil
}

// classify maps raw send errors into the taxonomy. Adapter-classified
// CallErrors pass through; a dead context becomes Timeout.
func (g *Gateway) classify(providerID string, ctx context.Context, err error) error {
	var callErr *core.CallError
	if errors.As(err, &callErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return core.NewCallError(providerID, core.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return core.NewCallError(providerID, core.ErrTimeout, err)
	}
	return core.NewCallError(providerID, core.ErrBackend, err)
}

func (g *Gateway) recordFailure(state *providerState, providerID string) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.consecutiveFailures++
	if state.consecutiveFailures >= g.failureThreshold {
		if state.availability != core.Unavailable {
			g.logger.Warn("provider marked unavailable",
				"provider_id", providerID, "consecutive_failures", state.consecutiveFailures)
		}
		state.availability = core.Unavailable
		state.unavailableSince = time.Now()
		return
	}
	state.availability = core.Degraded
}

func (g *Gateway) recordSuccess(state *providerState) {
	state.mu.Lock()
	defer state.mu.Unlock()
	state.consecutiveFailures = 0
	state.availability = core.Available
}
