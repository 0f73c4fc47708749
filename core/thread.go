package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author side of a Turn.
type Role string

const (
	// RoleCaller marks turns authored by the invoking tool/agent.
	RoleCaller Role = "caller"
	// RoleProvider marks turns produced by a model backend.
	RoleProvider Role = "provider"
)

// Attachment is a content blob referenced by a Turn (a file, a diff, a log
// excerpt). Fingerprint is a stable content hash used for deduplication when
// the same blob reappears across turns.
type Attachment struct {
	Fingerprint string `json:"fingerprint"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
	Text        string `json:"text"`
}

// Turn is one recorded exchange within a Thread. Turns are immutable once
// appended; token counts are recorded at creation time and never recomputed.
type Turn struct {
	ID           string       `json:"id"`
	Role         Role         `json:"role"`
	ProviderID   string       `json:"provider_id,omitempty"`
	Text         string       `json:"text"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	InputTokens  int          `json:"input_tokens"`
	OutputTokens int          `json:"output_tokens"`
	Timestamp    time.Time    `json:"timestamp"`
}

// NewCallerTurn constructs a caller-authored turn.
func NewCallerTurn(text string, attachments ...Attachment) Turn {
	return Turn{
		ID:          NewID(),
		Role:        RoleCaller,
		Text:        text,
		Attachments: attachments,
		Timestamp:   time.Now().UTC(),
	}
}

// NewProviderTurn constructs a provider-authored turn with the token usage
// observed on the producing call.
func NewProviderTurn(providerID, text string, inputTokens, outputTokens int) Turn {
	return Turn{
		ID:           NewID(),
		Role:         RoleProvider,
		ProviderID:   providerID,
		Text:         text,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Timestamp:    time.Now().UTC(),
	}
}

// Thread is a conversation container identified by an opaque continuation id.
// The turn sequence is append-only: insertion order is causal order and turns
// are never reordered or mutated in place. Safe for concurrent access.
//
// Contract:
//   - Append updates LastActive and records attachment fingerprints as seen
//   - Turns returns a defensive copy to avoid external mutation
//   - Clone deep-copies slices/maps for safe divergence
type Thread struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	Turns      []Turn    `json:"turns"`
	Created    time.Time `json:"created"`
	LastActive time.Time `json:"last_active"`
	ExpiresAt  time.Time `json:"expires_at"`

	seen map[string]bool
	mu   sync.RWMutex
}

// NewThread creates a thread owned by the named tool, expiring after ttl.
func NewThread(owner string, ttl time.Duration) *Thread {
	now := time.Now().UTC()
	return &Thread{
		ID:         NewID(),
		Owner:      owner,
		Turns:      []Turn{},
		Created:    now,
		LastActive: now,
		ExpiresAt:  now.Add(ttl),
		seen:       map[string]bool{},
	}
}

// RestoreThread rebuilds a thread from persisted fields, re-deriving the
// fingerprint set from the turn history. Used by durable stores.
func RestoreThread(id, owner string, created, lastActive, expiresAt time.Time, turns []Turn) *Thread {
	t := &Thread{
		ID:         id,
		Owner:      owner,
		Turns:      turns,
		Created:    created,
		LastActive: lastActive,
		ExpiresAt:  expiresAt,
		seen:       map[string]bool{},
	}
	for _, turn := range turns {
		for _, a := range turn.Attachments {
			if a.Fingerprint != "" {
				t.seen[a.Fingerprint] = true
			}
		}
	}
	return t
}

// Append adds a turn to the history, refreshing LastActive and recording any
// attachment fingerprints carried by the turn.
func (t *Thread) Append(turn Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Turns = append(t.Turns, turn)
	for _, a := range turn.Attachments {
		if a.Fingerprint != "" {
			t.seen[a.Fingerprint] = true
		}
	}
	t.LastActive = time.Now().UTC()
}

// GetTurns returns a copy of the turn slice in causal order.
func (t *Thread) GetTurns() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	turns := make([]Turn, len(t.Turns))
	copy(turns, t.Turns)
	return turns
}

// Len returns the number of recorded turns.
func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.Turns)
}

// SeenFingerprint reports whether a content fingerprint has already been
// referenced by any appended turn.
func (t *Thread) SeenFingerprint(fp string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seen[fp]
}

// Fingerprints returns the set of referenced content fingerprints.
func (t *Thread) Fingerprints() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fps := make([]string, 0, len(t.seen))
	for fp := range t.seen {
		fps = append(fps, fp)
	}
	return fps
}

// Touch extends the expiry deadline to now+ttl.
func (t *Thread) Touch(ttl time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	t.LastActive = now
	t.ExpiresAt = now.Add(ttl)
}

// ExpiryDeadline returns the current expiry deadline.
func (t *Thread) ExpiryDeadline() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ExpiresAt
}

// ExpiredAt reports whether the thread's expiry deadline has passed at now.
func (t *Thread) ExpiredAt(now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return now.After(t.ExpiresAt)
}

// Clone returns a deep copy of the thread safe for independent mutation.
func (t *Thread) Clone() *Thread {
	t.mu.RLock()
	defer t.mu.RUnlock()
	clone := &Thread{
		ID:         t.ID,
		Owner:      t.Owner,
		Turns:      make([]Turn, len(t.Turns)),
		Created:    t.Created,
		LastActive: t.LastActive,
		ExpiresAt:  t.ExpiresAt,
		seen:       make(map[string]bool, len(t.seen)),
	}
	copy(clone.Turns, t.Turns)
	for fp := range t.seen {
		clone.seen[fp] = true
	}
	return clone
}

// NewID generates a new unique identifier for threads, turns and calls.
func NewID() string { return uuid.NewString() }
