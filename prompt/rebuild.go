// Package prompt rebuilds a bounded prompt context from stored conversation
// history. The walk is newest-first under a token budget, then reversed so
// the emitted fragments read in causal order. Repeated content fingerprints
// inside the retained window are referenced by id instead of re-embedded;
// the chronologically first retained occurrence carries the full content.
package prompt

import (
	"fmt"

	"github.com/conclave-ai/conclave/budget"
	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/logging"
)

// Result is a deterministic reconstruction: the same stored turns and the
// same budget always produce the same fragments and the same flags.
type Result struct {
	// Fragments in chronological order, ready for a provider request.
	Fragments []core.Fragment
	// Tokens is the estimated cost of the retained window.
	Tokens int
	// Budget is the history budget the window was fitted into.
	Budget int
	// Truncated is set when history was dropped, when the newest turn alone
	// exceeds the budget, or when the budget itself was zero.
	Truncated bool
	// Dropped counts turns excluded from the window.
	Dropped int
}

// Options configure a Reconstructor.
type Options struct {
	Logger logging.Logger
}

// Reconstructor rebuilds prompt context from a thread store.
type Reconstructor struct {
	store     core.ThreadStore
	estimator *budget.Estimator
	logger    logging.Logger
}

// NewReconstructor constructs a Reconstructor over the given store and
// estimator.
func NewReconstructor(store core.ThreadStore, estimator *budget.Estimator, optFns ...func(o *Options)) *Reconstructor {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Reconstructor{store: store, estimator: estimator, logger: opts.Logger}
}

// Rebuild returns the bounded context for the thread, fitted to the profile's
// window after reserving output space. Fails with core.ErrThreadNotFound for
// unknown or expired ids; a zero budget is not an error, only a flag.
func (r *Reconstructor) Rebuild(threadID string, profile core.Profile, reservedOutput int) (*Result, error) {
	th, err := r.store.Get(threadID)
	if err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}

	historyBudget, budgetExhausted := r.estimator.HistoryBudget(profile, reservedOutput)
	turns := th.GetTurns()

	accepted, tokens, newestOverBudget := r.selectWindow(turns, profile, historyBudget)

	res := &Result{
		Fragments: r.emit(accepted, profile),
		Tokens:    tokens,
		Budget:    historyBudget,
		Truncated: budgetExhausted || newestOverBudget || len(accepted) < len(turns),
		Dropped:   len(turns) - len(accepted),
	}
	if res.Truncated {
		r.logger.Debug("context truncated",
			"thread_id", threadID, "retained", len(accepted), "dropped", res.Dropped, "budget", historyBudget)
	}
	return res, nil
}

// selectWindow walks turns newest-first, accumulating estimated cost until
// the budget would be exceeded, and returns the retained suffix in
// chronological order. The newest turn is always retained, even alone over
// budget. Duplicate fingerprints within the window are costed once in full
// and as flat references thereafter, matching how emit renders them.
func (r *Reconstructor) selectWindow(turns []core.Turn, profile core.Profile, historyBudget int) (window []core.Turn, tokens int, newestOverBudget bool) {
	counted := map[string]bool{}
	start := len(turns) // first retained index

	for i := len(turns) - 1; i >= 0; i-- {
		cost := r.estimator.Estimate(profile, turns[i].Text)
		var newFPs []string
		for _, a := range turns[i].Attachments {
			if a.Fingerprint != "" && counted[a.Fingerprint] {
				cost += budget.ReferenceTokenCost
				continue
			}
			cost += r.estimator.Estimate(profile, a.Text)
			if a.Fingerprint != "" {
				newFPs = append(newFPs, a.Fingerprint)
			}
		}

		if i == len(turns)-1 {
			// Never drop the newest turn, even when it alone busts the budget.
			if cost > historyBudget {
				newestOverBudget = true
			}
		} else if tokens+cost > historyBudget {
			break
		}

		tokens += cost
		start = i
		for _, fp := range newFPs {
			counted[fp] = true
		}
	}

	return turns[start:], tokens, newestOverBudget
}

// emit renders the retained window as fragments: the chronologically first
// occurrence of a fingerprint embeds the content, repeats become references.
func (r *Reconstructor) emit(window []core.Turn, profile core.Profile) []core.Fragment {
	fragments := make([]core.Fragment, 0, len(window))
	embedded := map[string]bool{}

	for _, turn := range window {
		if turn.Text != "" {
			fragments = append(fragments, core.Fragment{Role: turn.Role, Text: turn.Text})
		}
		for _, a := range turn.Attachments {
			if a.Fingerprint != "" && embedded[a.Fingerprint] {
				fragments = append(fragments, core.Fragment{Role: turn.Role, Ref: a.Fingerprint})
				continue
			}
			fragments = append(fragments, core.Fragment{Role: turn.Role, Text: a.Text, Ref: a.Fingerprint})
			if a.Fingerprint != "" {
				embedded[a.Fingerprint] = true
			}
		}
	}
	return fragments
}
