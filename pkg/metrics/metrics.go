package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// The core only increments these counters, formatting and serving the
// exposition is left to the HTTP layer in cmd.
var (
	admissionDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_admission_decisions_total",
		Help: "Admission decisions by cluster, outcome and decisive policy.",
	}, []string{"cluster", "allowed", "policy"})

	reconcileResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_reconcile_total",
		Help: "Policy reconcile attempts by cluster and result.",
	}, []string{"cluster", "result"})

	clusterStale = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guardian_cluster_stale",
		Help: "1 when the latest compliance poll for the cluster failed and stale data is being served.",
	}, []string{"cluster"})
)

func init() {
	prometheus.MustRegister(admissionDecisions, reconcileResults, clusterStale)
}

// Reconcile results.
const (
	ReconcileSucceeded        = "succeeded"
	ReconcileFailedValidation = "failed_validation"
	ReconcileFailedTransient  = "failed_transient"
	ReconcileDeleted          = "deleted"
)

// RecordAdmissionDecision counts one admission verdict. policy may be empty
// when no policy was decisive.
func RecordAdmissionDecision(cluster string, allowed bool, policy string) {
	admissionDecisions.WithLabelValues(cluster, strconv.FormatBool(allowed), policy).Inc()
}

// RecordReconcile counts one reconcile attempt outcome.
func RecordReconcile(cluster, result string) {
	reconcileResults.WithLabelValues(cluster, result).Inc()
}

// SetClusterStale flags whether the cluster's compliance data is stale.
func SetClusterStale(cluster string, stale bool) {
	value := 0.0
	if stale {
		value = 1.0
	}
	clusterStale.WithLabelValues(cluster).Set(value)
}

// DeleteCluster drops all series labelled with the cluster, so metrics for a
// removed cluster do not linger in the exposition.
func DeleteCluster(cluster string) {
	clusterStale.DeleteLabelValues(cluster)
	admissionDecisions.DeletePartialMatch(prometheus.Labels{"cluster": cluster})
	reconcileResults.DeletePartialMatch(prometheus.Labels{"cluster": cluster})
}

// Handler returns the exposition handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
