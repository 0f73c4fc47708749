// Package consensus fans a single logical request out to several providers
// in parallel and folds the independent outcomes back into one resolution.
// Each member runs under its own timeout; one member's failure or slowness
// never aborts the others, and a session resolves as soon as every member
// has reported success, failure or timeout.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/logging"
)

// DefaultMemberTimeout bounds each member call of a session.
const DefaultMemberTimeout = 2 * time.Minute

// State tracks a session through its lifecycle.
type State int

const (
	// Pending means the session exists but nothing was dispatched yet.
	Pending State = iota
	// Dispatched means member calls are being launched.
	Dispatched
	// Collecting means at least one outcome has arrived.
	Collecting
	// Resolved means every member has reported.
	Resolved
)

// String returns the string representation of the session state.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Dispatched:
		return "dispatched"
	case Collecting:
		return "collecting"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// OutcomeStatus classifies one member's report.
type OutcomeStatus int

const (
	// OutcomeSuccess means the member produced a result.
	OutcomeSuccess OutcomeStatus = iota
	// OutcomeFailure means the member failed with a backend error.
	OutcomeFailure
	// OutcomeTimeout means the member's individual timeout elapsed.
	OutcomeTimeout
)

// String returns the string representation of the outcome status.
func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Outcome is one member's report within a session.
type Outcome struct {
	ProviderID string
	Status     OutcomeStatus
	Result     *core.Result
	Err        error
	Elapsed    time.Duration
}

// Status is the overall resolution of a session.
type Status int

const (
	// FullSuccess means every member succeeded.
	FullSuccess Status = iota
	// PartialSuccess means at least one member succeeded.
	PartialSuccess
	// Failed means no member succeeded.
	Failed
)

// String returns the string representation of the overall status.
func (s Status) String() string {
	switch s {
	case FullSuccess:
		return "full_success"
	case PartialSuccess:
		return "partial_success"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Resolution is the combined result of a resolved session.
type Resolution struct {
	SessionID string
	Outcomes  map[string]Outcome
	Status    Status
}

// Successes returns the successful outcomes in member dispatch order.
func (r *Resolution) Successes(members []string) []Outcome {
	var out []Outcome
	for _, m := range members {
		if o, ok := r.Outcomes[m]; ok && o.Status == OutcomeSuccess {
			out = append(out, o)
		}
	}
	return out
}

// Policy combines per-member outcomes into a Resolution. The default policy
// annotates every outcome by provider and computes no vote; interpretation
// of agreement belongs to the caller.
type Policy interface {
	Resolve(sessionID string, outcomes map[string]Outcome) Resolution
}

// AnnotateAll is the default Policy.
type AnnotateAll struct{}

// Resolve implements Policy.
func (AnnotateAll) Resolve(sessionID string, outcomes map[string]Outcome) Resolution {
	succeeded := 0
	for _, o := range outcomes {
		if o.Status == OutcomeSuccess {
			succeeded++
		}
	}
	status := Failed
	switch {
	case succeeded == len(outcomes) && succeeded > 0:
		status = FullSuccess
	case succeeded > 0:
		status = PartialSuccess
	}
	return Resolution{SessionID: sessionID, Outcomes: outcomes, Status: status}
}

// Invoker is the slice of the gateway the coordinator needs.
type Invoker interface {
	Invoke(ctx context.Context, providerID string, req core.Request) (*core.Result, error)
}

// Options configure a Coordinator.
type Options struct {
	// MemberTimeout bounds each member call independently.
	MemberTimeout time.Duration
	// Policy overrides the aggregation policy.
	Policy Policy
	// Logger receives session lifecycle events.
	Logger logging.Logger
}

// Coordinator runs consensus sessions against an Invoker.
type Coordinator struct {
	invoker       Invoker
	memberTimeout time.Duration
	policy        Policy
	logger        logging.Logger
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(invoker Invoker, optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		MemberTimeout: DefaultMemberTimeout,
		Policy:        AnnotateAll{},
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Coordinator{
		invoker:       invoker,
		memberTimeout: opts.MemberTimeout,
		policy:        opts.Policy,
		logger:        opts.Logger,
	}
}

// session is the ephemeral per-call state machine. Not persisted; only the
// resolution leaves the call.
type session struct {
	id      string
	members []string

	mu       sync.Mutex
	state    State
	outcomes map[string]Outcome
}

func newSession(members []string) *session {
	return &session{
		id:       core.NewID(),
		members:  members,
		state:    Pending,
		outcomes: make(map[string]Outcome, len(members)),
	}
}

func (s *session) record(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Collecting
	s.outcomes[o.ProviderID] = o
}

// Run dispatches one call per member concurrently and blocks until every
// member reports. Partial failure is not an error; only a session with zero
// successes fails, with core.ErrAllProvidersFailed. The returned Resolution
// is non-nil in both cases so callers can inspect per-member outcomes.
func (c *Coordinator) Run(ctx context.Context, members []string, req core.Request) (*Resolution, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("consensus: no members selected")
	}

	sess := newSession(members)
	start := time.Now()

	sess.mu.Lock()
	sess.state = Dispatched
	sess.mu.Unlock()
	c.logger.Debug("consensus session dispatched", "session_id", sess.id, "members", len(members))

	var wg sync.WaitGroup
	for _, member := range members {
		wg.Add(1)
		go func(providerID string) {
			defer wg.Done()
			sess.record(c.callMember(ctx, providerID, req))
		}(member)
	}
	wg.Wait()

	sess.mu.Lock()
	sess.state = Resolved
	outcomes := sess.outcomes
	sess.mu.Unlock()

	resolution := c.policy.Resolve(sess.id, outcomes)
	succeeded := 0
	for _, o := range outcomes {
		if o.Status == OutcomeSuccess {
			succeeded++
		}
	}
	if sl, ok := c.logger.(logging.ConsensusSessionLogger); ok {
		sl.LogConsensusSession(sess.id, len(members), succeeded, time.Since(start))
	} else {
		c.logger.Info("consensus session resolved",
			"session_id", sess.id, "status", resolution.Status.String(),
			"members", len(members), "succeeded", succeeded, "duration", time.Since(start))
	}

	if resolution.Status == Failed {
		return &resolution, fmt.Errorf("consensus session %s: %w", sess.id, core.ErrAllProvidersFailed)
	}
	return &resolution, nil
}

// callMember runs one member under its own timeout and classifies the report.
func (c *Coordinator) callMember(ctx context.Context, providerID string, req core.Request) Outcome {
	memberCtx, cancel := context.WithTimeout(ctx, c.memberTimeout)
	defer cancel()

	start := time.Now()
	result, err := c.invoker.Invoke(memberCtx, providerID, req)
	elapsed := time.Since(start)

	if err != nil {
		status := OutcomeFailure
		if errors.Is(err, core.ErrTimeout) || errors.Is(memberCtx.Err(), context.DeadlineExceeded) {
			status = OutcomeTimeout
		}
		return Outcome{ProviderID: providerID, Status: status, Err: err, Elapsed: elapsed}
	}
	return Outcome{ProviderID: providerID, Status: OutcomeSuccess, Result: result, Elapsed: elapsed}
}
