package aggregation

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"

	guardianv1 "github.com/guardian-io/guardian/api/guardian/v1"
	"github.com/guardian-io/guardian/pkg/config"
	"github.com/guardian-io/guardian/pkg/metrics"
)

// Aggregator owns one runtime per configured cluster and periodically merges
// their compliance summaries into one cross cluster view.
type Aggregator interface {
	// AddCluster builds and starts the runtime for a handle. The runtime
	// lives until the given context is done or the cluster is removed.
	AddCluster(ctx context.Context, handle ClusterHandle) error
	// RemoveCluster stops a cluster's runtime and drops it from the view on
	// the next cycle.
	RemoveCluster(id string)
	// CurrentView returns the most recently built view.
	CurrentView() AggregatedComplianceView
	// Run executes aggregation cycles until the context is done.
	Run(ctx context.Context)
}

type clusterState struct {
	handle  ClusterHandle
	runtime ClusterRuntime
	cancel  context.CancelFunc
	// lastSummary is retained across failed polls, stale data with a
	// freshness flag beats no data
	lastSummary *ComplianceSummary
	reachable   bool
}

type aggregator struct {
	mu       sync.RWMutex
	factory  RuntimeFactory
	interval time.Duration
	timeout  time.Duration
	clusters map[string]*clusterState
	view     AggregatedComplianceView
	now      func() time.Time
}

func New(factory RuntimeFactory, cfg config.Configuration) Aggregator {
	return &aggregator{
		factory:  factory,
		interval: cfg.GetAggregationInterval(),
		timeout:  cfg.GetAggregationTimeout(),
		clusters: map[string]*clusterState{},
		view: AggregatedComplianceView{
			PerCluster:    map[string]ComplianceSummary{},
			StaleClusters: sets.New[string](),
		},
		now: time.Now,
	}
}

func (a *aggregator) AddCluster(ctx context.Context, handle ClusterHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.clusters[handle.ClusterID]; ok {
		return errors.Errorf("cluster %s is already registered", handle.ClusterID)
	}
	runtime, err := a.factory(handle)
	if err != nil {
		return errors.Wrapf(err, "failed to build runtime for cluster %s", handle.ClusterID)
	}
	ctx, cancel := context.WithCancel(ctx)
	a.clusters[handle.ClusterID] = &clusterState{
		handle:    handle,
		runtime:   runtime,
		cancel:    cancel,
		reachable: true,
	}
	go runtime.Run(ctx)
	logger.Info("cluster registered", "cluster", handle.ClusterID)
	return nil
}

func (a *aggregator) RemoveCluster(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.clusters[id]
	if !ok {
		return
	}
	state.cancel()
	delete(a.clusters, id)
	metrics.DeleteCluster(id)
	logger.Info("cluster removed", "cluster", id)
}

func (a *aggregator) CurrentView() AggregatedComplianceView {
	a.mu.RLock()
	defer a.mu.RUnlock()
	view := AggregatedComplianceView{
		PerCluster:    make(map[string]ComplianceSummary, len(a.view.PerCluster)),
		StaleClusters: a.view.StaleClusters.Clone(),
		GeneratedAt:   a.view.GeneratedAt,
	}
	for id, summary := range a.view.PerCluster {
		view.PerCluster[id] = summary
	}
	return view
}

func (a *aggregator) Run(ctx context.Context) {
	logger.Info("starting ...", "interval", a.interval.String(), "timeout", a.timeout.String())
	defer logger.Info("stopped")
	wait.UntilWithContext(ctx, a.aggregate, a.interval)
}

// aggregate runs one polling cycle: every cluster in parallel, each bounded
// by its own timeout, one slow cluster never delays the others.
func (a *aggregator) aggregate(ctx context.Context) {
	a.mu.RLock()
	targets := make(map[string]ClusterRuntime, len(a.clusters))
	for id, state := range a.clusters {
		targets[id] = state.runtime
	}
	a.mu.RUnlock()

	type pollResult struct {
		id      string
		summary ComplianceSummary
		err     error
	}
	results := make(chan pollResult, len(targets))
	for id, runtime := range targets {
		go func(id string, runtime ClusterRuntime) {
			pollCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			summary, err := a.poll(pollCtx, runtime)
			results <- pollResult{id: id, summary: summary, err: err}
		}(id, runtime)
	}

	var errs error
	a.mu.Lock()
	defer a.mu.Unlock()
	for range targets {
		result := <-results
		state, ok := a.clusters[result.id]
		if !ok {
			// removed while the poll was in flight
			continue
		}
		if result.err != nil {
			state.reachable = false
			errs = multierr.Append(errs, errors.Wrapf(result.err, "cluster %s", result.id))
			continue
		}
		summary := result.summary
		state.lastSummary = &summary
		state.reachable = true
	}
	a.rebuildViewLocked()
	if errs != nil {
		logger.Error(errs, "some cluster polls failed")
	}
}

func (a *aggregator) poll(ctx context.Context, runtime ClusterRuntime) (ComplianceSummary, error) {
	statuses, err := runtime.PolicyStatuses(ctx)
	if err != nil {
		return ComplianceSummary{}, err
	}
	summary := ComplianceSummary{
		DeniedLast24h: runtime.DeniedLast24h(),
		LastSync:      a.now(),
	}
	for _, status := range statuses {
		switch status.Condition {
		case guardianv1.PolicyConditionReady:
			summary.ReadyPolicies++
		case guardianv1.PolicyConditionFailed:
			summary.FailedPolicies++
		}
	}
	return summary, nil
}

func (a *aggregator) rebuildViewLocked() {
	view := AggregatedComplianceView{
		PerCluster:    make(map[string]ComplianceSummary, len(a.clusters)),
		StaleClusters: sets.New[string](),
		GeneratedAt:   a.now(),
	}
	for id, state := range a.clusters {
		if state.lastSummary != nil {
			view.PerCluster[id] = *state.lastSummary
		}
		if !state.reachable {
			view.StaleClusters.Insert(id)
		}
		metrics.SetClusterStale(id, !state.reachable)
	}
	a.view = view
}
