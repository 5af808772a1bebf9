package aggregation

import (
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/client-go/rest"
)

// ClusterHandle names one cluster and carries what is needed to reach its API.
// Every handle owns a disjoint runtime, nothing is shared across clusters.
type ClusterHandle struct {
	ClusterID  string
	RestConfig *rest.Config
}

// ComplianceSummary is the per-cluster aggregate of policy health and
// admission outcomes observed by one poll.
type ComplianceSummary struct {
	ReadyPolicies  int
	FailedPolicies int
	// DeniedLast24h is best-effort, derived from in-process counters.
	DeniedLast24h int64
	LastSync      time.Time
}

// AggregatedComplianceView is the merged cross-cluster report. It is rebuilt
// wholesale every cycle, never patched in place.
type AggregatedComplianceView struct {
	PerCluster map[string]ComplianceSummary
	// StaleClusters flags clusters whose latest poll failed or timed out.
	// Their PerCluster entry, when present, is the retained last-known summary.
	StaleClusters sets.Set[string]
	GeneratedAt   time.Time
}
