package policy

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/util/workqueue"

	guardianv1 "github.com/guardian-io/guardian/api/guardian/v1"
	"github.com/guardian-io/guardian/pkg/client"
	"github.com/guardian-io/guardian/pkg/config"
	"github.com/guardian-io/guardian/pkg/controllers"
	"github.com/guardian-io/guardian/pkg/metrics"
	"github.com/guardian-io/guardian/pkg/policystore"
	controllerutils "github.com/guardian-io/guardian/pkg/utils/controller"
	kubeutils "github.com/guardian-io/guardian/pkg/utils/kube"
)

const (
	// Workers is the number of workers for this controller
	Workers        = 3
	ControllerName = "policy-controller"
	// maxRetries <= 0: transient failures retry until they succeed or the
	// resource is superseded by a newer change event
	maxRetries = 0

	backoffBase = time.Second
	backoffCap  = 300 * time.Second
)

type Controller interface {
	controllers.Controller
	// OnChangeEvent enqueues one observed policy change. Events for the same
	// name are coalesced and processed serially, events for different names
	// run in parallel.
	OnChangeEvent(client.ChangeEvent)
	// WarmUp reconciles the store against a full relist and marks it synced.
	// It tolerates being called again after a stream loss: replayed state is
	// applied idempotently and entries missing from the relist are pruned.
	WarmUp(ctx context.Context) error
}

type controller struct {
	clusterName string
	policies    client.GuardianPolicyInterface
	store       policystore.Interface

	// queue
	queue workqueue.RateLimitingInterface
}

func NewController(clusterName string, policies client.GuardianPolicyInterface, store policystore.Interface) Controller {
	return &controller{
		clusterName: clusterName,
		policies:    policies,
		store:       store,
		queue: workqueue.NewNamedRateLimitingQueue(
			workqueue.NewItemExponentialFailureRateLimiter(backoffBase, backoffCap),
			ControllerName,
		),
	}
}

func (c *controller) OnChangeEvent(event client.ChangeEvent) {
	c.queue.Add(event.Name)
}

func (c *controller) WarmUp(ctx context.Context) error {
	logger.V(2).Info("warming up ...")
	defer logger.V(2).Info("warm up done")
	list, err := c.policies.List(ctx)
	if err != nil {
		return err
	}
	listed := make(map[string]struct{}, len(list.Items))
	for i := range list.Items {
		policy := &list.Items[i]
		listed[policy.GetName()] = struct{}{}
		if policy.GetDeletionTimestamp() == nil && len(policy.Validate()) == 0 {
			c.store.Upsert(policy)
		}
		// converge finalizers and statuses through the normal path
		c.queue.Add(policy.GetName())
	}
	// a policy deleted while the feed was down leaves no Delete event
	// behind, prune whatever the relist no longer contains
	for name := range c.store.Snapshot() {
		if _, ok := listed[name]; !ok {
			c.store.Remove(name)
			c.queue.Add(name)
		}
	}
	c.store.MarkSynced()
	return nil
}

func (c *controller) Run(ctx context.Context, workers int) {
	controllerutils.Run(ctx, ControllerName, logger, c.queue, workers, maxRetries, c.reconcile)
}

func (c *controller) reconcile(ctx context.Context, logger logr.Logger, key string) error {
	policy, err := c.policies.Get(ctx, key)
	if err != nil {
		if apierrors.IsNotFound(err) {
			// physically removed, nothing left to serve
			c.store.Remove(key)
			return nil
		}
		metrics.RecordReconcile(c.clusterName, metrics.ReconcileFailedTransient)
		return err
	}
	if policy.GetDeletionTimestamp() != nil {
		return c.finalize(ctx, logger, policy)
	}
	if kubeutils.AddFinalizer(policy, config.CleanupFinalizer) {
		updated, err := c.policies.Update(ctx, policy)
		if err != nil {
			metrics.RecordReconcile(c.clusterName, metrics.ReconcileFailedTransient)
			return err
		}
		policy = updated
	}
	if policy.Status.Condition == "" {
		// first observation, surface Pending before validation settles it
		if err := c.updateStatus(ctx, policy, func(status *guardianv1.GuardianPolicyStatus) {
			status.SetPending(policy.GetGeneration(), "policy observed, awaiting reconciliation")
		}); err != nil {
			metrics.RecordReconcile(c.clusterName, metrics.ReconcileFailedTransient)
			return err
		}
		policy.Status.SetPending(policy.GetGeneration(), "policy observed, awaiting reconciliation")
	}
	if errs := policy.Validate(); len(errs) > 0 {
		// terminal for this generation, a new generation re-enters via its
		// own change event
		c.store.Remove(policy.GetName())
		if policy.Status.Condition == guardianv1.PolicyConditionFailed && policy.Status.ObservedGeneration == policy.GetGeneration() {
			// duplicate delivery of an already failed generation
			return nil
		}
		message := errs.ToAggregate().Error()
		logger.V(2).Info("policy failed validation", "message", message)
		if err := c.updateStatus(ctx, policy, func(status *guardianv1.GuardianPolicyStatus) {
			status.SetFailed(policy.GetGeneration(), message)
		}); err != nil {
			metrics.RecordReconcile(c.clusterName, metrics.ReconcileFailedTransient)
			return err
		}
		metrics.RecordReconcile(c.clusterName, metrics.ReconcileFailedValidation)
		return nil
	}
	c.store.Upsert(policy)
	if policy.IsReady() {
		// duplicate delivery of an already reconciled generation
		return nil
	}
	if err := c.updateStatus(ctx, policy, func(status *guardianv1.GuardianPolicyStatus) {
		status.SetReady(policy.GetGeneration(), "policy is ready")
	}); err != nil {
		metrics.RecordReconcile(c.clusterName, metrics.ReconcileFailedTransient)
		return err
	}
	metrics.RecordReconcile(c.clusterName, metrics.ReconcileSucceeded)
	return nil
}

// finalize releases everything derived from a policy being deleted and clears
// the finalizer. The policy stays in the store until the finalizer-clearing
// update is acknowledged.
func (c *controller) finalize(ctx context.Context, logger logr.Logger, policy *guardianv1.GuardianPolicy) error {
	if kubeutils.RemoveFinalizer(policy, config.CleanupFinalizer) {
		if _, err := c.policies.Update(ctx, policy); err != nil && !apierrors.IsNotFound(err) {
			metrics.RecordReconcile(c.clusterName, metrics.ReconcileFailedTransient)
			return err
		}
	}
	c.store.Remove(policy.GetName())
	logger.V(2).Info("policy finalized")
	metrics.RecordReconcile(c.clusterName, metrics.ReconcileDeleted)
	return nil
}

// updateStatus writes the mutated status back, refetching and reapplying once
// on a concurrent modification conflict before escalating.
func (c *controller) updateStatus(ctx context.Context, policy *guardianv1.GuardianPolicy, mutate func(*guardianv1.GuardianPolicyStatus)) error {
	policy = policy.DeepCopy()
	mutate(&policy.Status)
	_, err := c.policies.UpdateStatus(ctx, policy)
	if err == nil || !apierrors.IsConflict(err) {
		return err
	}
	fresh, err := c.policies.Get(ctx, policy.GetName())
	if err != nil {
		return err
	}
	mutate(&fresh.Status)
	_, err = c.policies.UpdateStatus(ctx, fresh)
	return err
}
