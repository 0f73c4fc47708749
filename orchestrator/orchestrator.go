// Package orchestrator runs the per-call workflow a tool goes through:
// resolve or create the continuation thread, rebuild bounded context, invoke
// one provider or a consensus fan-out, append the produced turns and hand the
// continuation id back for the next call. A totally failed call leaves the
// thread untouched so the caller can retry with the same continuation id.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/conclave-ai/conclave/budget"
	"github.com/conclave-ai/conclave/consensus"
	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/gateway"
	"github.com/conclave-ai/conclave/logging"
	"github.com/conclave-ai/conclave/prompt"
)

// DefaultReservedOutput is the output allowance reserved when a request does
// not specify one.
const DefaultReservedOutput = 8192

// Request is one tool call entering the orchestrator. Provider selects
// single-provider mode; a non-empty Members list selects consensus mode.
type Request struct {
	Tool           string
	ContinuationID string
	Text           string
	Attachments    []core.Attachment
	Provider       string
	Members        []string
	ReservedOutput int
	CallOptions    core.CallOptions
}

func (r Request) consensusMode() bool { return len(r.Members) > 0 }

// Response is the outcome handed back to the tool.
type Response struct {
	ContinuationID string
	// Result is set in single-provider mode.
	Result *core.Result
	// Outcomes and Status are set in consensus mode.
	Outcomes map[string]consensus.Outcome
	Status   consensus.Status
	// Truncated reports that reconstructed history was dropped to fit the
	// token budget.
	Truncated bool
}

// Options configure an Orchestrator.
type Options struct {
	Coordinator   *consensus.Coordinator
	Estimator     *budget.Estimator
	Reconstructor *prompt.Reconstructor
	Logger        logging.Logger
	// ReservedOutput overrides the default output allowance.
	ReservedOutput int
	// RetryTransientOnce retries a single-provider call exactly once when it
	// fails as rate-limited or unavailable. Consensus members are never
	// retried.
	RetryTransientOnce bool
}

// Orchestrator wires the store, reconstructor, gateway and coordinator into
// the per-call loop. Safe for concurrent use; each call is independent.
type Orchestrator struct {
	store          core.ThreadStore
	gateway        *gateway.Gateway
	coordinator    *consensus.Coordinator
	reconstructor  *prompt.Reconstructor
	logger         logging.Logger
	reservedOutput int
	retryTransient bool
}

// New constructs an Orchestrator over a store and gateway. Estimator,
// reconstructor and coordinator default to standard instances when not
// overridden.
func New(store core.ThreadStore, gw *gateway.Gateway, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Logger:         logging.NoOpLogger{},
		ReservedOutput: DefaultReservedOutput,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Estimator == nil {
		opts.Estimator = budget.NewEstimator()
	}
	if opts.Reconstructor == nil {
		opts.Reconstructor = prompt.NewReconstructor(store, opts.Estimator)
	}
	if opts.Coordinator == nil {
		opts.Coordinator = consensus.NewCoordinator(gw)
	}
	return &Orchestrator{
		store:          store,
		gateway:        gw,
		coordinator:    opts.Coordinator,
		reconstructor:  opts.Reconstructor,
		logger:         opts.Logger,
		reservedOutput: opts.ReservedOutput,
		retryTransient: opts.RetryTransientOnce,
	}
}

// StartOrContinue executes one tool call. An absent continuation id starts a
// fresh thread; an unknown or expired id fails with core.ErrThreadNotFound
// and never silently creates a replacement.
func (o *Orchestrator) StartOrContinue(ctx context.Context, req Request) (*Response, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("start or continue: empty input text")
	}
	if !req.consensusMode() && req.Provider == "" {
		return nil, fmt.Errorf("start or continue: no provider or consensus members selected")
	}

	thread, err := o.resolveThread(req)
	if err != nil {
		return nil, err
	}

	profile, err := o.budgetProfile(req)
	if err != nil {
		return nil, err
	}
	reserved := o.clampReserved(req.ReservedOutput, profile)

	// Store and reconstructor errors abort before any provider is contacted.
	rebuilt, err := o.reconstructor.Rebuild(thread.ID, profile, reserved)
	if err != nil {
		return nil, err
	}

	callReq := core.Request{
		Fragments: o.appendCallerFragments(rebuilt.Fragments, req),
		Options:   req.CallOptions,
	}
	if callReq.Options.MaxOutputTokens == 0 {
		callReq.Options.MaxOutputTokens = reserved
	}

	if req.consensusMode() {
		return o.dispatchConsensus(ctx, thread, req, callReq, rebuilt.Truncated)
	}
	return o.dispatchSingle(ctx, thread, req, callReq, rebuilt.Truncated)
}

// resolveThread creates a thread for an absent continuation id and validates
// a present one.
func (o *Orchestrator) resolveThread(req Request) (*core.Thread, error) {
	if req.ContinuationID == "" {
		thread, err := o.store.Create(req.Tool)
		if err != nil {
			return nil, fmt.Errorf("start thread: %w", err)
		}
		o.logger.Debug("thread started", "thread_id", thread.ID, "tool", req.Tool)
		return thread, nil
	}
	thread, err := o.store.Get(req.ContinuationID)
	if err != nil {
		return nil, fmt.Errorf("continuation %s: %w", req.ContinuationID, err)
	}
	return thread, nil
}

// budgetProfile picks the profile the context budget is computed against: the
// single provider's, or in consensus mode the member with the smallest
// context window, so the rebuilt history fits every member.
func (o *Orchestrator) budgetProfile(req Request) (core.Profile, error) {
	if !req.consensusMode() {
		return o.gateway.Profile(req.Provider)
	}
	var smallest core.Profile
	found := false
	for _, m := range req.Members {
		p, err := o.gateway.Profile(m)
		if err != nil {
			continue
		}
		if !found || p.MaxContext < smallest.MaxContext {
			smallest, found = p, true
		}
	}
	if !found {
		return core.Profile{}, core.NewCallError("", core.ErrUnavailable, errors.New("no consensus member is registered"))
	}
	return smallest, nil
}

func (o *Orchestrator) clampReserved(reserved int, profile core.Profile) int {
	if reserved <= 0 {
		reserved = o.reservedOutput
	}
	if profile.MaxOutput > 0 && reserved > profile.MaxOutput {
		reserved = profile.MaxOutput
	}
	return reserved
}

// appendCallerFragments adds the current input after the rebuilt history.
// An attachment whose fingerprint is already embedded in the retained window
// is sent as a reference, like the reconstructor does for stored turns.
func (o *Orchestrator) appendCallerFragments(history []core.Fragment, req Request) []core.Fragment {
	embedded := map[string]bool{}
	for _, f := range history {
		if f.Ref != "" && !f.IsReference() {
			embedded[f.Ref] = true
		}
	}

	fragments := make([]core.Fragment, 0, len(history)+1+len(req.Attachments))
	fragments = append(fragments, history...)
	fragments = append(fragments, core.Fragment{Role: core.RoleCaller, Text: req.Text})
	for _, a := range req.Attachments {
		if a.Fingerprint != "" && embedded[a.Fingerprint] {
			fragments = append(fragments, core.Fragment{Role: core.RoleCaller, Ref: a.Fingerprint})
			continue
		}
		fragments = append(fragments, core.Fragment{Role: core.RoleCaller, Text: a.Text, Ref: a.Fingerprint})
	}
	return fragments
}

func (o *Orchestrator) dispatchSingle(ctx context.Context, thread *core.Thread, req Request, callReq core.Request, truncated bool) (*Response, error) {
	result, err := o.gateway.Invoke(ctx, req.Provider, callReq)
	if err != nil && o.retryTransient && isTransient(err) {
		o.logger.Debug("retrying transient failure", "thread_id", thread.ID, "provider_id", req.Provider)
		result, err = o.gateway.Invoke(ctx, req.Provider, callReq)
	}
	if err != nil {
		// No turn is appended: history stays clean for a retry.
		return nil, err
	}

	if err := o.appendTurns(thread.ID, req, []*core.Result{result}); err != nil {
		return nil, err
	}
	return &Response{
		ContinuationID: thread.ID,
		Result:         result,
		Truncated:      truncated,
	}, nil
}

func (o *Orchestrator) dispatchConsensus(ctx context.Context, thread *core.Thread, req Request, callReq core.Request, truncated bool) (*Response, error) {
	resolution, err := o.coordinator.Run(ctx, req.Members, callReq)
	if err != nil {
		// AllProvidersFailed (or dispatch error): thread left unmodified.
		return nil, err
	}

	var results []*core.Result
	for _, outcome := range resolution.Successes(req.Members) {
		results = append(results, outcome.Result)
	}
	if err := o.appendTurns(thread.ID, req, results); err != nil {
		return nil, err
	}
	return &Response{
		ContinuationID: thread.ID,
		Outcomes:       resolution.Outcomes,
		Status:         resolution.Status,
		Truncated:      truncated,
	}, nil
}

// appendTurns records the caller turn and one provider turn per result, then
// refreshes the thread's expiry.
func (o *Orchestrator) appendTurns(threadID string, req Request, results []*core.Result) error {
	callerTurn := core.NewCallerTurn(req.Text, req.Attachments...)
	if len(results) > 0 {
		callerTurn.InputTokens = results[0].InputTokens
	}
	if err := o.store.Append(threadID, callerTurn); err != nil {
		return fmt.Errorf("append caller turn: %w", err)
	}
	for _, r := range results {
		turn := core.NewProviderTurn(r.ProviderID, r.Text, r.InputTokens, r.OutputTokens)
		if err := o.store.Append(threadID, turn); err != nil {
			return fmt.Errorf("append provider turn: %w", err)
		}
	}
	if err := o.store.Touch(threadID); err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return nil
}

func isTransient(err error) bool {
	return errors.Is(err, core.ErrRateLimited) || errors.Is(err, core.ErrUnavailable)
}
