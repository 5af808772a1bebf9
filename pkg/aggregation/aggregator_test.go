package aggregation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	guardianv1 "github.com/guardian-io/guardian/api/guardian/v1"
	"github.com/guardian-io/guardian/pkg/config"
)

type fakeRuntime struct {
	mu       sync.Mutex
	statuses []guardianv1.GuardianPolicyStatus
	denied   int64
	// block makes PolicyStatuses hang until the poll context expires
	block bool
	err   error
}

func (f *fakeRuntime) Run(ctx context.Context) {
	<-ctx.Done()
}

func (f *fakeRuntime) PolicyStatuses(ctx context.Context) ([]guardianv1.GuardianPolicyStatus, error) {
	f.mu.Lock()
	block, err := f.block, f.err
	statuses := append([]guardianv1.GuardianPolicyStatus(nil), f.statuses...)
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

func (f *fakeRuntime) DeniedLast24h() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.denied
}

func (f *fakeRuntime) setBlock(block bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = block
}

func statuses(ready, failed int) []guardianv1.GuardianPolicyStatus {
	var out []guardianv1.GuardianPolicyStatus
	for i := 0; i < ready; i++ {
		out = append(out, guardianv1.GuardianPolicyStatus{Condition: guardianv1.PolicyConditionReady})
	}
	for i := 0; i < failed; i++ {
		out = append(out, guardianv1.GuardianPolicyStatus{Condition: guardianv1.PolicyConditionFailed})
	}
	return out
}

func newTestAggregator(t *testing.T, runtimes map[string]*fakeRuntime) *aggregator {
	t.Helper()
	factory := func(handle ClusterHandle) (ClusterRuntime, error) {
		runtime, ok := runtimes[handle.ClusterID]
		if !ok {
			return nil, errors.Errorf("no runtime for %s", handle.ClusterID)
		}
		return runtime, nil
	}
	cfg := config.NewConfiguration("", "", 10*time.Millisecond, 50*time.Millisecond)
	a := New(factory, cfg).(*aggregator)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	for id := range runtimes {
		require.NoError(t, a.AddCluster(ctx, ClusterHandle{ClusterID: id}))
	}
	return a
}

func TestAggregateBuildsPerClusterSummaries(t *testing.T) {
	runtimes := map[string]*fakeRuntime{
		"east": {statuses: statuses(3, 1), denied: 7},
		"west": {statuses: statuses(2, 0), denied: 0},
	}
	a := newTestAggregator(t, runtimes)

	a.aggregate(context.Background())
	view := a.CurrentView()

	require.Len(t, view.PerCluster, 2)
	assert.Equal(t, 3, view.PerCluster["east"].ReadyPolicies)
	assert.Equal(t, 1, view.PerCluster["east"].FailedPolicies)
	assert.Equal(t, int64(7), view.PerCluster["east"].DeniedLast24h)
	assert.Equal(t, 2, view.PerCluster["west"].ReadyPolicies)
	assert.Empty(t, view.StaleClusters)
	assert.False(t, view.GeneratedAt.IsZero())
}

func TestAggregateRetainsStaleSummaryOnTimeout(t *testing.T) {
	runtimes := map[string]*fakeRuntime{
		"cluster-1": {statuses: statuses(1, 0)},
		"cluster-2": {statuses: statuses(5, 2), denied: 3},
		"cluster-3": {statuses: statuses(0, 1)},
	}
	a := newTestAggregator(t, runtimes)

	a.aggregate(context.Background())
	firstView := a.CurrentView()
	require.Empty(t, firstView.StaleClusters)
	retained := firstView.PerCluster["cluster-2"]

	// cluster 2 stops answering, the others stay healthy
	runtimes["cluster-2"].setBlock(true)
	a.aggregate(context.Background())
	view := a.CurrentView()

	assert.Equal(t, []string{"cluster-2"}, view.StaleClusters.UnsortedList())
	assert.Equal(t, retained, view.PerCluster["cluster-2"])
	assert.True(t, view.PerCluster["cluster-1"].LastSync.After(firstView.PerCluster["cluster-1"].LastSync) ||
		view.PerCluster["cluster-1"].LastSync.Equal(firstView.PerCluster["cluster-1"].LastSync))
	require.Len(t, view.PerCluster, 3)

	// the cluster recovers on the next cycle
	runtimes["cluster-2"].setBlock(false)
	a.aggregate(context.Background())
	assert.Empty(t, a.CurrentView().StaleClusters)
}

func TestAggregateFirstPollFailureHasNoSummary(t *testing.T) {
	runtimes := map[string]*fakeRuntime{
		"east": {err: errors.New("connection refused")},
	}
	a := newTestAggregator(t, runtimes)

	a.aggregate(context.Background())
	view := a.CurrentView()

	assert.True(t, view.StaleClusters.Has("east"))
	_, ok := view.PerCluster["east"]
	assert.False(t, ok)
}

func TestAddClusterRejectsDuplicate(t *testing.T) {
	runtimes := map[string]*fakeRuntime{"east": {}}
	a := newTestAggregator(t, runtimes)

	err := a.AddCluster(context.Background(), ClusterHandle{ClusterID: "east"})
	assert.Error(t, err)
}

func TestAddClusterFactoryError(t *testing.T) {
	a := newTestAggregator(t, map[string]*fakeRuntime{})

	err := a.AddCluster(context.Background(), ClusterHandle{ClusterID: "unknown"})
	assert.Error(t, err)
	assert.NotContains(t, a.clusters, "unknown")
}

func TestRemoveClusterDropsFromNextView(t *testing.T) {
	runtimes := map[string]*fakeRuntime{
		"east": {statuses: statuses(1, 0)},
		"west": {statuses: statuses(1, 0)},
	}
	a := newTestAggregator(t, runtimes)

	a.aggregate(context.Background())
	require.Len(t, a.CurrentView().PerCluster, 2)

	a.RemoveCluster("west")
	a.aggregate(context.Background())
	view := a.CurrentView()
	assert.Len(t, view.PerCluster, 1)
	assert.NotContains(t, view.PerCluster, "west")
}

func TestCurrentViewIsACopy(t *testing.T) {
	runtimes := map[string]*fakeRuntime{"east": {statuses: statuses(1, 0)}}
	a := newTestAggregator(t, runtimes)
	a.aggregate(context.Background())

	view := a.CurrentView()
	view.PerCluster["injected"] = ComplianceSummary{}
	view.StaleClusters.Insert("injected")

	fresh := a.CurrentView()
	assert.NotContains(t, fresh.PerCluster, "injected")
	assert.False(t, fresh.StaleClusters.Has("injected"))
}
