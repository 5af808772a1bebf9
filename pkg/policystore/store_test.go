package policystore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	guardianv1 "github.com/guardian-io/guardian/api/guardian/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func newPolicy(name string, generation int64) *guardianv1.GuardianPolicy {
	return &guardianv1.GuardianPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:       name,
			Generation: generation,
		},
		Spec: guardianv1.GuardianPolicySpec{
			Severity: guardianv1.SeverityHigh,
		},
	}
}

func TestUpsertAndSnapshot(t *testing.T) {
	s := New()
	assert.True(t, s.Upsert(newPolicy("require-labels", 1)))
	snapshot := s.Snapshot()
	assert.Equal(t, 1, snapshot.Len())
	assert.NotNil(t, snapshot.Get("require-labels"))
	assert.Nil(t, snapshot.Get("missing"))
}

func TestUpsertStoresCopy(t *testing.T) {
	s := New()
	policy := newPolicy("require-labels", 1)
	s.Upsert(policy)
	policy.Spec.Severity = guardianv1.SeverityLow
	assert.Equal(t, guardianv1.SeverityHigh, s.Snapshot().Get("require-labels").Spec.Severity)
}

func TestUpsertStaleGenerationIsNoOp(t *testing.T) {
	s := New()
	assert.True(t, s.Upsert(newPolicy("require-labels", 3)))
	assert.False(t, s.Upsert(newPolicy("require-labels", 2)))
	assert.Equal(t, int64(3), s.Snapshot().Get("require-labels").GetGeneration())

	// duplicate delivery of the stored generation is a no-op too
	assert.False(t, s.Upsert(newPolicy("require-labels", 3)))
	assert.True(t, s.Upsert(newPolicy("require-labels", 4)))
}

func TestSnapshotIsImmutable(t *testing.T) {
	s := New()
	s.Upsert(newPolicy("a", 1))
	before := s.Snapshot()
	s.Upsert(newPolicy("b", 1))
	s.Remove("a")
	assert.Equal(t, 1, before.Len())
	assert.NotNil(t, before.Get("a"))
	after := s.Snapshot()
	assert.Equal(t, 1, after.Len())
	assert.NotNil(t, after.Get("b"))
}

func TestRemove(t *testing.T) {
	s := New()
	s.Upsert(newPolicy("a", 1))
	s.Remove("a")
	s.Remove("a") // removing twice is fine
	assert.Equal(t, 0, s.Snapshot().Len())
}

func TestSynced(t *testing.T) {
	s := New()
	assert.False(t, s.HasSynced())
	s.MarkSynced()
	assert.True(t, s.HasSynced())
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int64) {
			defer wg.Done()
			for g := int64(1); g <= 100; g++ {
				s.Upsert(newPolicy("p", g))
			}
		}(int64(i))
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				snapshot := s.Snapshot()
				if p := snapshot.Get("p"); p != nil {
					// a snapshot never exposes a partially written policy
					assert.Equal(t, guardianv1.SeverityHigh, p.Spec.Severity)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), s.Snapshot().Get("p").GetGeneration())
}
