package thread

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/conclave-ai/conclave/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Interface compliance (compile-time assertions)
var (
	_ core.ThreadStore = (*InMemoryStore)(nil)
	_ core.ThreadStore = (*SQLiteStore)(nil)
)

func TestInMemoryStore_CreateAndGet(t *testing.T) {
	s := NewInMemoryStore()
	th, err := s.Create("chat")
	require.NoError(t, err)
	require.NotEmpty(t, th.ID)

	got, err := s.Get(th.ID)
	require.NoError(t, err)
	assert.Equal(t, th.ID, got.ID)
	assert.Equal(t, "chat", got.Owner)

	_, err = s.Get("no-such-id")
	assert.ErrorIs(t, err, core.ErrThreadNotFound)
}

func TestInMemoryStore_AppendOrdering(t *testing.T) {
	s := NewInMemoryStore()
	th, _ := s.Create("chat")

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(th.ID, core.NewCallerTurn(fmt.Sprintf("turn-%d", i))))
	}

	got, err := s.Get(th.ID)
	require.NoError(t, err)
	turns := got.GetTurns()
	require.Len(t, turns, 5)
	for i, turn := range turns {
		assert.Equal(t, fmt.Sprintf("turn-%d", i), turn.Text)
	}
}

func TestInMemoryStore_AppendUnknownThread(t *testing.T) {
	s := NewInMemoryStore()
	err := s.Append("missing", core.NewCallerTurn("hello"))
	assert.ErrorIs(t, err, core.ErrThreadNotFound)
}

func TestInMemoryStore_ConcurrentAppendsSameThread(t *testing.T) {
	s := NewInMemoryStore()
	th, _ := s.Create("chat")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Append(th.ID, core.NewCallerTurn(fmt.Sprintf("turn-%d", i)))
		}(i)
	}
	wg.Wait()

	got, err := s.Get(th.ID)
	require.NoError(t, err)
	// Serialized appends: every turn present, none lost.
	assert.Equal(t, n, len(got.GetTurns()))
}

func TestInMemoryStore_ConcurrentAppendsDistinctThreads(t *testing.T) {
	s := NewInMemoryStore()
	t1, _ := s.Create("chat")
	t2, _ := s.Create("review")

	const n = 100
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_ = s.Append(t1.ID, core.NewCallerTurn("a"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_ = s.Append(t2.ID, core.NewCallerTurn("b"))
		}
	}()
	wg.Wait()

	g1, _ := s.Get(t1.ID)
	g2, _ := s.Get(t2.ID)
	assert.Equal(t, n, g1.Len())
	assert.Equal(t, n, g2.Len())
}

func TestInMemoryStore_ExpiryIsNotFound(t *testing.T) {
	now := time.Now().UTC()
	current := now
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	s := NewInMemoryStore(func(o *Options) {
		o.TTL = time.Minute
		o.Now = clock
	})
	th, _ := s.Create("chat")

	mu.Lock()
	current = now.Add(2 * time.Minute)
	mu.Unlock()

	_, err := s.Get(th.ID)
	assert.ErrorIs(t, err, core.ErrThreadNotFound)
	// Lazy eviction removed it.
	assert.Equal(t, 0, s.Len())

	err = s.Append(th.ID, core.NewCallerTurn("too late"))
	assert.ErrorIs(t, err, core.ErrThreadNotFound)
}

func TestInMemoryStore_TouchRefreshesExpiry(t *testing.T) {
	now := time.Now().UTC()
	current := now
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	s := NewInMemoryStore(func(o *Options) {
		o.TTL = time.Minute
		o.Now = clock
	})
	th, _ := s.Create("chat")

	mu.Lock()
	current = now.Add(50 * time.Second)
	mu.Unlock()
	require.NoError(t, s.Touch(th.ID))

	mu.Lock()
	current = now.Add(100 * time.Second)
	mu.Unlock()
	// Without the touch the thread would be expired by now.
	_, err := s.Get(th.ID)
	assert.NoError(t, err)
}

func TestInMemoryStore_CapacityEvictsOldestExpiry(t *testing.T) {
	s := NewInMemoryStore(func(o *Options) { o.Capacity = 2 })

	t1, _ := s.Create("a")
	t2, _ := s.Create("b")
	// t1 has the earliest deadline; creating a third evicts it.
	t3, _ := s.Create("c")

	assert.Equal(t, 2, s.Len())
	_, err := s.Get(t1.ID)
	assert.ErrorIs(t, err, core.ErrThreadNotFound)
	_, err = s.Get(t2.ID)
	assert.NoError(t, err)
	_, err = s.Get(t3.ID)
	assert.NoError(t, err)
}

func TestInMemoryStore_SweepReleasesFingerprints(t *testing.T) {
	now := time.Now().UTC()
	current := now
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	s := NewInMemoryStore(func(o *Options) {
		o.TTL = time.Minute
		o.Now = clock
	})
	th, _ := s.Create("chat")
	require.NoError(t, s.Append(th.ID, core.NewCallerTurn("see file",
		core.Attachment{Fingerprint: "fp-1", Text: "contents"})))
	assert.Equal(t, 1, s.FingerprintRefs())

	mu.Lock()
	current = now.Add(time.Hour)
	mu.Unlock()

	evicted := s.Sweep()
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, s.FingerprintRefs())
	assert.Equal(t, 0, s.Len())
}

func TestInMemoryStore_GetReturnsClone(t *testing.T) {
	s := NewInMemoryStore()
	th, _ := s.Create("chat")
	require.NoError(t, s.Append(th.ID, core.NewCallerTurn("original")))

	got, _ := s.Get(th.ID)
	got.Append(core.NewCallerTurn("rogue append"))

	again, _ := s.Get(th.ID)
	if again.Len() != 1 {
		t.Error("mutating a returned thread must not affect store state")
	}
}

func TestInMemoryStore_ErrorsAreWrapped(t *testing.T) {
	s := NewInMemoryStore()
	_, err := s.Get("ghost")
	if !errors.Is(err, core.ErrThreadNotFound) {
		t.Fatalf("expected ErrThreadNotFound, got %v", err)
	}
}

// A writer that resolved the record but has not yet taken its append lock may
// interleave with capacity eviction. The write must surface NotFound, never
// silently land in a record that already left the map.
func TestInMemoryStore_AppendRacingCapacityEviction(t *testing.T) {
	s := NewInMemoryStore(func(o *Options) { o.Capacity = 1 })
	defer s.Close()

	th, err := s.Create("chat")
	require.NoError(t, err)

	// First half of Append: look up the record, stop before locking it.
	s.mu.RLock()
	rec := s.threads[th.ID]
	s.mu.RUnlock()
	require.NotNil(t, rec)

	// Capacity eviction removes the thread while the writer is parked.
	_, err = s.Create("chat")
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	// Second half of Append against the now-orphaned record.
	err = s.appendToRecord(th.ID, rec, core.NewCallerTurn("late write"))
	assert.ErrorIs(t, err, core.ErrThreadNotFound)

	_, err = s.Get(th.ID)
	assert.ErrorIs(t, err, core.ErrThreadNotFound)
}

func TestInMemoryStore_TouchEvictedThread(t *testing.T) {
	s := NewInMemoryStore(func(o *Options) { o.Capacity = 1 })
	defer s.Close()

	th, err := s.Create("chat")
	require.NoError(t, err)

	s.mu.RLock()
	rec := s.threads[th.ID]
	s.mu.RUnlock()

	_, err = s.Create("chat")
	require.NoError(t, err)

	assert.True(t, rec.evicted)
	assert.ErrorIs(t, s.Touch(th.ID), core.ErrThreadNotFound)
}
