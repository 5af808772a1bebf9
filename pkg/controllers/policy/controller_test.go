package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/util/workqueue"

	guardianv1 "github.com/guardian-io/guardian/api/guardian/v1"
	"github.com/guardian-io/guardian/pkg/client"
	"github.com/guardian-io/guardian/pkg/client/fake"
	"github.com/guardian-io/guardian/pkg/config"
	"github.com/guardian-io/guardian/pkg/policystore"
	kubeutils "github.com/guardian-io/guardian/pkg/utils/kube"
)

func validPolicy(name string, generation int64) *guardianv1.GuardianPolicy {
	return &guardianv1.GuardianPolicy{
		ObjectMeta: metav1.ObjectMeta{Name: name, Generation: generation},
		Spec: guardianv1.GuardianPolicySpec{
			Severity: guardianv1.SeverityHigh,
			Rules: []guardianv1.Rule{{
				FieldPath: "metadata.labels.team",
				Operator:  guardianv1.OperatorExists,
			}},
		},
	}
}

func invalidPolicy(name string, generation int64) *guardianv1.GuardianPolicy {
	p := validPolicy(name, generation)
	p.Spec.Rules[0].Operator = "Regex"
	return p
}

func newFixture(policies ...*guardianv1.GuardianPolicy) (*fake.Client, policystore.Interface, *controller) {
	cluster := fake.New(policies...)
	store := policystore.New()
	c := NewController("test-cluster", cluster.GuardianPolicies(), store).(*controller)
	return cluster, store, c
}

func reconcileOnce(t *testing.T, c *controller, name string) error {
	t.Helper()
	return c.reconcile(context.Background(), logger, name)
}

func TestReconcileBecomesReady(t *testing.T) {
	cluster, store, c := newFixture(validPolicy("require-labels", 1))

	require.NoError(t, reconcileOnce(t, c, "require-labels"))

	assert.NotNil(t, store.Snapshot().Get("require-labels"))
	stored := cluster.Stored("require-labels")
	assert.Equal(t, guardianv1.PolicyConditionReady, stored.Status.Condition)
	assert.Equal(t, int64(1), stored.Status.ObservedGeneration)
	assert.NotNil(t, stored.Status.LastEvaluated)
	assert.True(t, kubeutils.HasFinalizer(stored, config.CleanupFinalizer))
}

func TestReconcileDuplicateDeliveryIsIdempotent(t *testing.T) {
	cluster, store, c := newFixture(validPolicy("require-labels", 1))

	require.NoError(t, reconcileOnce(t, c, "require-labels"))
	statusWrites := cluster.UpdateStatusCalls()
	snapshot := store.Snapshot()

	require.NoError(t, reconcileOnce(t, c, "require-labels"))
	assert.Equal(t, statusWrites, cluster.UpdateStatusCalls())
	assert.Equal(t, snapshot.Get("require-labels").GetGeneration(), store.Snapshot().Get("require-labels").GetGeneration())
}

func TestReconcileValidationFailureIsTerminalForGeneration(t *testing.T) {
	cluster, store, c := newFixture(invalidPolicy("broken", 2))

	require.NoError(t, reconcileOnce(t, c, "broken"))

	assert.Nil(t, store.Snapshot().Get("broken"))
	stored := cluster.Stored("broken")
	assert.Equal(t, guardianv1.PolicyConditionFailed, stored.Status.Condition)
	assert.Equal(t, int64(2), stored.Status.ObservedGeneration)
	assert.Contains(t, stored.Status.Message, "operator")

	// re-delivery of the failed generation schedules no further writes
	statusWrites := cluster.UpdateStatusCalls()
	require.NoError(t, reconcileOnce(t, c, "broken"))
	assert.Equal(t, statusWrites, cluster.UpdateStatusCalls())
}

func TestReconcileNewGenerationRecoversFromFailure(t *testing.T) {
	cluster, store, c := newFixture(invalidPolicy("broken", 1))
	require.NoError(t, reconcileOnce(t, c, "broken"))
	assert.Nil(t, store.Snapshot().Get("broken"))

	fixed := validPolicy("broken", 2)
	fixed.Finalizers = cluster.Stored("broken").Finalizers
	cluster.Set(fixed)
	require.NoError(t, reconcileOnce(t, c, "broken"))

	assert.NotNil(t, store.Snapshot().Get("broken"))
	assert.Equal(t, guardianv1.PolicyConditionReady, cluster.Stored("broken").Status.Condition)
}

func pendingPolicy(name string, generation int64) *guardianv1.GuardianPolicy {
	p := validPolicy(name, generation)
	p.Status.SetPending(generation, "policy observed, awaiting reconciliation")
	return p
}

func TestReconcileFirstObservationWritesPending(t *testing.T) {
	cluster, _, c := newFixture(validPolicy("require-labels", 1))
	// let the initial Pending write through, fail the Ready write
	cluster.UpdateStatusErrs = []error{nil, apierrors.NewTimeoutError("etcd unavailable", 1)}

	assert.Error(t, reconcileOnce(t, c, "require-labels"))
	stored := cluster.Stored("require-labels")
	assert.Equal(t, guardianv1.PolicyConditionPending, stored.Status.Condition)
	assert.Equal(t, int64(1), stored.Status.ObservedGeneration)
	assert.Nil(t, stored.Status.LastEvaluated)

	require.NoError(t, reconcileOnce(t, c, "require-labels"))
	assert.Equal(t, guardianv1.PolicyConditionReady, cluster.Stored("require-labels").Status.Condition)
}

func TestReconcileTransientStatusErrorIsRetried(t *testing.T) {
	cluster, store, c := newFixture(pendingPolicy("require-labels", 1))
	cluster.UpdateStatusErrs = []error{apierrors.NewTimeoutError("etcd unavailable", 1)}

	err := reconcileOnce(t, c, "require-labels")
	assert.Error(t, err)
	// the policy is already served, only the status write failed
	assert.NotNil(t, store.Snapshot().Get("require-labels"))

	require.NoError(t, reconcileOnce(t, c, "require-labels"))
	assert.Equal(t, guardianv1.PolicyConditionReady, cluster.Stored("require-labels").Status.Condition)
}

func TestReconcileStatusConflictRefetchesAndReappliesOnce(t *testing.T) {
	cluster, _, c := newFixture(pendingPolicy("require-labels", 1))
	cluster.UpdateStatusErrs = []error{
		apierrors.NewConflict(guardianv1.Resource("guardianpolicies"), "require-labels", errors.New("modified")),
		nil,
	}

	require.NoError(t, reconcileOnce(t, c, "require-labels"))
	assert.Equal(t, 2, cluster.UpdateStatusCalls())
	assert.Equal(t, guardianv1.PolicyConditionReady, cluster.Stored("require-labels").Status.Condition)
}

func TestReconcileEscalatesAfterSecondConflict(t *testing.T) {
	cluster, _, c := newFixture(pendingPolicy("require-labels", 1))
	conflict := apierrors.NewConflict(guardianv1.Resource("guardianpolicies"), "require-labels", errors.New("modified"))
	cluster.UpdateStatusErrs = []error{conflict, conflict}

	err := reconcileOnce(t, c, "require-labels")
	assert.Error(t, err)
	assert.Equal(t, 2, cluster.UpdateStatusCalls())
}

func TestFinalizeRetainsPolicyUntilFinalizerClearAcknowledged(t *testing.T) {
	policy := validPolicy("require-labels", 1)
	kubeutils.AddFinalizer(policy, config.CleanupFinalizer)
	now := metav1.Now()
	policy.DeletionTimestamp = &now

	cluster, store, c := newFixture(policy)
	store.Upsert(policy)

	cluster.UpdateErr = apierrors.NewConflict(guardianv1.Resource("guardianpolicies"), "require-labels", errors.New("modified"))
	assert.Error(t, reconcileOnce(t, c, "require-labels"))
	// the finalizer-clearing update failed, the policy must still be served
	assert.NotNil(t, store.Snapshot().Get("require-labels"))

	require.NoError(t, reconcileOnce(t, c, "require-labels"))
	assert.Nil(t, store.Snapshot().Get("require-labels"))
	assert.Empty(t, cluster.Stored("require-labels").GetFinalizers())
}

func TestReconcileNotFoundRemovesFromStore(t *testing.T) {
	cluster, store, c := newFixture(validPolicy("require-labels", 1))
	require.NoError(t, reconcileOnce(t, c, "require-labels"))
	assert.NotNil(t, store.Snapshot().Get("require-labels"))

	cluster.Remove("require-labels")
	require.NoError(t, reconcileOnce(t, c, "require-labels"))
	assert.Nil(t, store.Snapshot().Get("require-labels"))
}

func TestWarmUp(t *testing.T) {
	_, store, c := newFixture(
		validPolicy("a", 1),
		validPolicy("b", 2),
		invalidPolicy("broken", 1),
	)
	require.NoError(t, c.WarmUp(context.Background()))

	assert.True(t, store.HasSynced())
	snapshot := store.Snapshot()
	assert.NotNil(t, snapshot.Get("a"))
	assert.NotNil(t, snapshot.Get("b"))
	assert.Nil(t, snapshot.Get("broken"))

	// a replayed warm up applies the same state without growing the snapshot
	require.NoError(t, c.WarmUp(context.Background()))
	assert.Equal(t, 2, store.Snapshot().Len())
}

func TestWarmUpPrunesPoliciesDeletedDuringOutage(t *testing.T) {
	cluster, store, c := newFixture(validPolicy("a", 1), validPolicy("b", 1))
	require.NoError(t, c.WarmUp(context.Background()))
	require.NotNil(t, store.Snapshot().Get("a"))

	// deleted while no watch was running, so no Delete event was ever seen
	cluster.Remove("a")
	require.NoError(t, c.WarmUp(context.Background()))

	snapshot := store.Snapshot()
	assert.Nil(t, snapshot.Get("a"))
	assert.NotNil(t, snapshot.Get("b"))
}

func TestBackoffDelayIsCapped(t *testing.T) {
	limiter := workqueue.NewItemExponentialFailureRateLimiter(backoffBase, backoffCap)
	var last time.Duration
	for i := 0; i < 30; i++ {
		last = limiter.When("require-labels")
		assert.LessOrEqual(t, last, backoffCap)
	}
	assert.Equal(t, backoffCap, last)
}

func TestRunProcessesChangeEvents(t *testing.T) {
	cluster, store, c := newFixture(validPolicy("require-labels", 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, Workers)
	}()

	c.OnChangeEvent(client.ChangeEvent{Type: client.Upsert, Name: "require-labels"})
	assert.Eventually(t, func() bool {
		return store.Snapshot().Get("require-labels") != nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return cluster.Stored("require-labels").Status.Condition == guardianv1.PolicyConditionReady
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
