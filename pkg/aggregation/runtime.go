package aggregation

import (
	"context"

	"github.com/pkg/errors"

	guardianv1 "github.com/guardian-io/guardian/api/guardian/v1"
	"github.com/guardian-io/guardian/pkg/client"
	"github.com/guardian-io/guardian/pkg/config"
	"github.com/guardian-io/guardian/pkg/controllers/policy"
	"github.com/guardian-io/guardian/pkg/engine"
	"github.com/guardian-io/guardian/pkg/policystore"
	"github.com/guardian-io/guardian/pkg/webhooks/resource"
)

// ClusterRuntime is the per-cluster machinery the aggregator owns: a store
// kept fresh by a reconcile loop, and an admission gate reading it.
type ClusterRuntime interface {
	// Run starts the watch and reconcile loops and blocks until ctx is done.
	Run(ctx context.Context)
	// PolicyStatuses fetches the current per-policy statuses from the cluster
	// API, bounded by ctx.
	PolicyStatuses(ctx context.Context) ([]guardianv1.GuardianPolicyStatus, error)
	// DeniedLast24h reports deny decisions over the trailing window.
	DeniedLast24h() int64
}

// RuntimeFactory builds the runtime for one handle. Injectable so tests and
// the command wiring can substitute prebuilt runtimes.
type RuntimeFactory func(handle ClusterHandle) (ClusterRuntime, error)

// Runtime is the production ClusterRuntime.
type Runtime struct {
	clusterID  string
	policies   client.GuardianPolicyInterface
	store      policystore.Interface
	controller policy.Controller
	gate       *resource.Handler
}

var _ ClusterRuntime = &Runtime{}

// NewRuntime assembles the store, reconcile controller and admission gate for
// one cluster handle.
func NewRuntime(handle ClusterHandle, cfg config.Configuration) (*Runtime, error) {
	cli, err := client.New(handle.RestConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create client for cluster %s", handle.ClusterID)
	}
	return NewRuntimeWithClient(handle.ClusterID, cli, cfg), nil
}

// NewRuntimeWithClient is NewRuntime over an already constructed client.
func NewRuntimeWithClient(clusterID string, cli client.Interface, cfg config.Configuration) *Runtime {
	store := policystore.New()
	policies := cli.GuardianPolicies()
	return &Runtime{
		clusterID:  clusterID,
		policies:   policies,
		store:      store,
		controller: policy.NewController(clusterID, policies, store),
		gate:       resource.NewHandler(clusterID, cfg, store, engine.New(cfg.GetDenySeverity())),
	}
}

// Gate exposes the admission gate so the webhook server can serve it.
func (r *Runtime) Gate() *resource.Handler {
	return r.gate
}

func (r *Runtime) Run(ctx context.Context) {
	logger := logger.WithValues("cluster", r.clusterID)
	// WarmUp runs before every watch attempt, so the gate turns ready after
	// the first successful relist and deletes missed during an outage are
	// pruned on reconnect
	go client.RunWatcher(ctx, r.policies, r.controller.WarmUp, r.controller.OnChangeEvent, logger.WithName("watcher"))
	r.controller.Run(ctx, policy.Workers)
}

func (r *Runtime) PolicyStatuses(ctx context.Context) ([]guardianv1.GuardianPolicyStatus, error) {
	list, err := r.policies.List(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]guardianv1.GuardianPolicyStatus, 0, len(list.Items))
	for i := range list.Items {
		statuses = append(statuses, list.Items[i].Status)
	}
	return statuses, nil
}

func (r *Runtime) DeniedLast24h() int64 {
	return r.gate.DeniedLast24h()
}
