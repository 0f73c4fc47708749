package core

// ThreadStore persists conversation threads and their append-only turn
// history under opaque continuation ids.
//
// Contract:
//   - Get returns ErrThreadNotFound for unknown or expired ids
//   - Append serializes concurrent appends to the same id; appends to
//     different ids proceed independently
//   - Touch refreshes the expiry deadline on activity
//   - Eviction of a thread that is mid-append is deferred until the append
//     completes
type ThreadStore interface {
	Create(owner string) (*Thread, error)
	Get(id string) (*Thread, error)
	Append(id string, turn Turn) error
	Touch(id string) error
}
