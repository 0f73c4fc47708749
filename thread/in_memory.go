package thread

import (
	"fmt"
	"sync"
	"time"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/logging"
)

// DefaultTTL is the idle lifetime of a thread before eviction.
const DefaultTTL = 3 * time.Hour

// DefaultCapacity bounds the number of live threads; reaching it evicts the
// thread closest to its expiry deadline.
const DefaultCapacity = 1000

// Options configure an InMemoryStore.
type Options struct {
	// TTL is the expiry deadline applied on create/touch/append.
	TTL time.Duration
	// Capacity bounds live threads; 0 means unbounded.
	Capacity int
	// SweepInterval enables a background eviction sweep when > 0. Expired
	// threads are evicted lazily on access either way.
	SweepInterval time.Duration
	// Logger receives store lifecycle events.
	Logger logging.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// record pairs a thread with its append lock. The lock serializes appends to
// one thread id and defers eviction while an append is in flight; appends to
// different ids never contend on it. evicted is set under appendMu when the
// record leaves the map, so a writer that fetched the record before eviction
// sees the removal instead of appending into an orphan.
type record struct {
	thread   *core.Thread
	appendMu sync.Mutex
	evicted  bool
}

// InMemoryStore is a volatile core.ThreadStore keeping threads in a process
// local map. Safe for concurrent access. Returned threads are clones so
// callers can never mutate store state directly; all mutation goes through
// Append/Touch.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*record

	fpMu         sync.Mutex
	fingerprints map[string]int

	ttl      time.Duration
	capacity int
	logger   logging.Logger
	now      func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewInMemoryStore constructs an empty in-memory thread store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{
		TTL:      DefaultTTL,
		Capacity: DefaultCapacity,
		Logger:   logging.NoOpLogger{},
		Now:      func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &InMemoryStore{
		threads:      make(map[string]*record),
		fingerprints: make(map[string]int),
		ttl:          opts.TTL,
		capacity:     opts.Capacity,
		logger:       opts.Logger,
		now:          opts.Now,
		done:         make(chan struct{}),
	}
	if opts.SweepInterval > 0 {
		go s.sweepLoop(opts.SweepInterval)
	}
	return s
}

// Create allocates a new thread owned by the named tool and returns a clone.
func (s *InMemoryStore) Create(owner string) (*core.Thread, error) {
	th := core.NewThread(owner, s.ttl)

	s.mu.Lock()
	if s.capacity > 0 && len(s.threads) >= s.capacity {
		s.evictOldestLocked()
	}
	s.threads[th.ID] = &record{thread: th}
	s.mu.Unlock()

	s.logger.Debug("thread created", "thread_id", th.ID, "owner", owner)
	return th.Clone(), nil
}

// Get returns a clone of the thread, or core.ErrThreadNotFound if the id is
// unknown or the thread has expired. Expired threads found here are evicted
// lazily.
func (s *InMemoryStore) Get(id string) (*core.Thread, error) {
	s.mu.RLock()
	rec, ok := s.threads[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, core.ErrThreadNotFound)
	}
	if rec.thread.ExpiredAt(s.now()) {
		s.evict(id)
		return nil, fmt.Errorf("get %s: expired: %w", id, core.ErrThreadNotFound)
	}
	return rec.thread.Clone(), nil
}

// Append adds a turn to the thread. Concurrent appends to the same id are
// serialized; both turns survive in arrival order. Appending refreshes the
// expiry deadline.
func (s *InMemoryStore) Append(id string, turn core.Turn) error {
	s.mu.RLock()
	rec, ok := s.threads[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("append %s: %w", id, core.ErrThreadNotFound)
	}

	return s.appendToRecord(id, rec, turn)
}

// appendToRecord finishes an append after the map lookup. The record may have
// been evicted between the lookup and taking its lock; that is a NotFound,
// never a silent write into an orphaned record.
func (s *InMemoryStore) appendToRecord(id string, rec *record, turn core.Turn) error {
	rec.appendMu.Lock()
	defer rec.appendMu.Unlock()

	if rec.evicted {
		return fmt.Errorf("append %s: %w", id, core.ErrThreadNotFound)
	}
	if rec.thread.ExpiredAt(s.now()) {
		return fmt.Errorf("append %s: expired: %w", id, core.ErrThreadNotFound)
	}

	s.fpMu.Lock()
	for _, a := range turn.Attachments {
		if a.Fingerprint != "" && !rec.thread.SeenFingerprint(a.Fingerprint) {
			s.fingerprints[a.Fingerprint]++
		}
	}
	s.fpMu.Unlock()

	rec.thread.Append(turn)
	rec.thread.Touch(s.ttl)
	return nil
}

// Touch refreshes the expiry deadline without appending.
func (s *InMemoryStore) Touch(id string) error {
	s.mu.RLock()
	rec, ok := s.threads[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("touch %s: %w", id, core.ErrThreadNotFound)
	}

	rec.appendMu.Lock()
	defer rec.appendMu.Unlock()
	if rec.evicted || rec.thread.ExpiredAt(s.now()) {
		return fmt.Errorf("touch %s: %w", id, core.ErrThreadNotFound)
	}
	rec.thread.Touch(s.ttl)
	return nil
}

// Len returns the number of live threads.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

// FingerprintRefs returns the number of distinct content fingerprints held by
// live threads. Eviction releases a thread's entries.
func (s *InMemoryStore) FingerprintRefs() int {
	s.fpMu.Lock()
	defer s.fpMu.Unlock()
	return len(s.fingerprints)
}

// Close stops the background sweep, if running.
func (s *InMemoryStore) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *InMemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep evicts every expired thread. A thread whose append is in flight is
// skipped this round; the append's touch pushes its deadline forward anyway.
func (s *InMemoryStore) Sweep() int {
	now := s.now()

	s.mu.RLock()
	var expired []string
	for id, rec := range s.threads {
		if rec.thread.ExpiredAt(now) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	evicted := 0
	for _, id := range expired {
		if s.evict(id) {
			evicted++
		}
	}
	return evicted
}

// evict removes a thread if it is still expired once its append lock is
// acquired. Returns whether the thread was removed.
func (s *InMemoryStore) evict(id string) bool {
	s.mu.Lock()
	rec, ok := s.threads[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	// Wait for any in-flight append; its touch may have revived the thread.
	rec.appendMu.Lock()
	defer rec.appendMu.Unlock()

	if !rec.thread.ExpiredAt(s.now()) {
		return false
	}
	rec.evicted = true

	s.mu.Lock()
	delete(s.threads, id)
	s.mu.Unlock()

	s.releaseFingerprints(rec.thread)
	s.logger.Debug("thread evicted", "thread_id", id)
	return true
}

// evictOldestLocked removes the thread with the earliest expiry deadline.
// Caller holds the write lock. Threads mid-append are passed over.
func (s *InMemoryStore) evictOldestLocked() {
	var oldestID string
	var oldest *record
	for id, rec := range s.threads {
		if oldest == nil || rec.thread.ExpiryDeadline().Before(oldest.thread.ExpiryDeadline()) {
			oldestID, oldest = id, rec
		}
	}
	if oldest == nil {
		return
	}
	if !oldest.appendMu.TryLock() {
		return
	}
	defer oldest.appendMu.Unlock()

	oldest.evicted = true
	delete(s.threads, oldestID)
	s.releaseFingerprints(oldest.thread)
	s.logger.Debug("thread evicted at capacity", "thread_id", oldestID)
}

func (s *InMemoryStore) releaseFingerprints(th *core.Thread) {
	s.fpMu.Lock()
	defer s.fpMu.Unlock()
	for _, fp := range th.Fingerprints() {
		if s.fingerprints[fp] <= 1 {
			delete(s.fingerprints, fp)
			continue
		}
		s.fingerprints[fp]--
	}
}
