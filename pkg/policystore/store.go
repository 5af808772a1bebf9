package policystore

import (
	"sync"
	"sync/atomic"

	guardianv1 "github.com/guardian-io/guardian/api/guardian/v1"
	"github.com/guardian-io/guardian/pkg/logging"
)

var logger = logging.WithName("policystore")

// Snapshot is a consistent point-in-time view of all known policies for one
// cluster. It is immutable: readers hold whatever reference they captured and
// never need synchronization.
type Snapshot map[string]*guardianv1.GuardianPolicy

// Get returns the policy stored under name, or nil.
func (s Snapshot) Get(name string) *guardianv1.GuardianPolicy {
	return s[name]
}

// Len returns the number of policies in the snapshot.
func (s Snapshot) Len() int {
	return len(s)
}

// Interface is the in-memory policy set for one cluster. Writers replace the
// whole snapshot reference on every change, so Snapshot never blocks on them
// and never observes a partially updated policy.
type Interface interface {
	// Upsert stores a deep copy of the policy. An upsert carrying a
	// generation at or below the stored one is a no-op: stale and duplicate
	// change events are expected under at-least-once delivery. It reports
	// whether the policy was applied.
	Upsert(policy *guardianv1.GuardianPolicy) bool
	// Remove deletes the policy stored under name.
	Remove(name string)
	// Snapshot returns the current immutable policy set.
	Snapshot() Snapshot
	// MarkSynced records that the initial policy sync completed.
	MarkSynced()
	// HasSynced reports whether the initial policy sync completed.
	HasSynced() bool
}

type store struct {
	mu       sync.Mutex
	snapshot atomic.Value
	synced   atomic.Bool
}

// New returns an empty policy store.
func New() Interface {
	s := &store{}
	s.snapshot.Store(Snapshot{})
	return s
}

func (s *store) Upsert(policy *guardianv1.GuardianPolicy) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.snapshot.Load().(Snapshot)
	if existing := current[policy.GetName()]; existing != nil && policy.GetGeneration() <= existing.GetGeneration() {
		logger.V(4).Info("ignoring stale policy", "name", policy.GetName(), "generation", policy.GetGeneration(), "stored", existing.GetGeneration())
		return false
	}
	next := make(Snapshot, len(current)+1)
	for name, p := range current {
		next[name] = p
	}
	next[policy.GetName()] = policy.DeepCopy()
	s.snapshot.Store(next)
	logger.V(4).Info("policy added to store", "name", policy.GetName(), "generation", policy.GetGeneration())
	return true
}

func (s *store) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.snapshot.Load().(Snapshot)
	if _, ok := current[name]; !ok {
		return
	}
	next := make(Snapshot, len(current))
	for n, p := range current {
		if n != name {
			next[n] = p
		}
	}
	s.snapshot.Store(next)
	logger.V(4).Info("policy removed from store", "name", name)
}

func (s *store) Snapshot() Snapshot {
	return s.snapshot.Load().(Snapshot)
}

func (s *store) MarkSynced() {
	s.synced.Store(true)
}

func (s *store) HasSynced() bool {
	return s.synced.Load()
}
