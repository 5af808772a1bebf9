package config

import (
	"sync"
	"time"

	guardianv1 "github.com/guardian-io/guardian/api/guardian/v1"
)

// These constants MUST be equal to the corresponding names in the service
// definition in the installation manifests.
const (
	// GuardianNamespace is the default guardian namespace.
	GuardianNamespace = "guardian-system"
	// WebhookServiceName is the default guardian webhook service name.
	WebhookServiceName = "guardian-svc"
	// ValidatingWebhookServicePath is the path for workload admission review requests.
	ValidatingWebhookServicePath = "/validate"
	// PolicyValidatingWebhookServicePath is the path for policy admission review requests.
	PolicyValidatingWebhookServicePath = "/policyvalidate"
	// LivenessServicePath is the path for the liveness probe.
	LivenessServicePath = "/health/liveness"
	// ReadinessServicePath is the path for the readiness probe.
	ReadinessServicePath = "/health/readiness"
	// MetricsServicePath is the path the metrics exposition is served under.
	MetricsServicePath = "/metrics"
	// CleanupFinalizer blocks physical deletion of a policy until the
	// reconciler has released everything derived from it.
	CleanupFinalizer = "guardian.io/cleanup"
)

// FailurePolicy resolves admission decisions that could not be computed in time.
type FailurePolicy string

const (
	// FailOpen allows the workload when evaluation does not complete before the deadline.
	FailOpen FailurePolicy = "FailOpen"
	// FailClosed denies the workload when evaluation does not complete before the deadline.
	FailClosed FailurePolicy = "FailClosed"
)

// Configuration exposes the tunables of the governance core. Implementations
// must be safe for concurrent use.
type Configuration interface {
	// GetFailurePolicy returns how admission timeouts are resolved.
	GetFailurePolicy() FailurePolicy
	// GetDenySeverity returns the smallest severity that turns a policy match
	// into a denial. Matches below the threshold are recorded but allowed.
	GetDenySeverity() guardianv1.PolicySeverity
	// GetAggregationInterval returns the period of the cross cluster polling cycle.
	GetAggregationInterval() time.Duration
	// GetAggregationTimeout returns the per cluster poll deadline.
	GetAggregationTimeout() time.Duration
}

type configuration struct {
	mu                  sync.RWMutex
	failurePolicy       FailurePolicy
	denySeverity        guardianv1.PolicySeverity
	aggregationInterval time.Duration
	aggregationTimeout  time.Duration
}

// NewDefaultConfiguration returns a Configuration with production defaults.
func NewDefaultConfiguration() Configuration {
	return &configuration{
		failurePolicy:       FailClosed,
		denySeverity:        guardianv1.SeverityHigh,
		aggregationInterval: 30 * time.Second,
		aggregationTimeout:  10 * time.Second,
	}
}

// NewConfiguration returns a Configuration from explicit values, falling back
// to defaults for zero values.
func NewConfiguration(failurePolicy FailurePolicy, denySeverity guardianv1.PolicySeverity, interval, timeout time.Duration) Configuration {
	cfg := NewDefaultConfiguration().(*configuration)
	if failurePolicy != "" {
		cfg.failurePolicy = failurePolicy
	}
	if denySeverity != "" {
		cfg.denySeverity = denySeverity
	}
	if interval > 0 {
		cfg.aggregationInterval = interval
	}
	if timeout > 0 {
		cfg.aggregationTimeout = timeout
	}
	return cfg
}

func (c *configuration) GetFailurePolicy() FailurePolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failurePolicy
}

func (c *configuration) GetDenySeverity() guardianv1.PolicySeverity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.denySeverity
}

func (c *configuration) GetAggregationInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.aggregationInterval
}

func (c *configuration) GetAggregationTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.aggregationTimeout
}
