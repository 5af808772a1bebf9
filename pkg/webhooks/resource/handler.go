package resource

import (
	"context"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	admissionv1 "k8s.io/api/admission/v1"

	"github.com/guardian-io/guardian/pkg/config"
	"github.com/guardian-io/guardian/pkg/engine"
	"github.com/guardian-io/guardian/pkg/metrics"
	"github.com/guardian-io/guardian/pkg/policystore"
	admissionutils "github.com/guardian-io/guardian/pkg/utils/admission"
	"github.com/guardian-io/guardian/pkg/webhooks/handlers"
)

// Handler gates workload admission for one cluster. Each decision reads a
// single policy snapshot, so concurrent store updates never produce a verdict
// mixing two policy sets.
type Handler struct {
	clusterName   string
	store         policystore.Interface
	engine        engine.Evaluator
	failurePolicy config.FailurePolicy
	stats         *decisionStats
	now           func() time.Time
}

func NewHandler(clusterName string, cfg config.Configuration, store policystore.Interface, evaluator engine.Evaluator) *Handler {
	return &Handler{
		clusterName:   clusterName,
		store:         store,
		engine:        evaluator,
		failurePolicy: cfg.GetFailurePolicy(),
		stats:         newDecisionStats(),
		now:           time.Now,
	}
}

var _ handlers.AdmissionHandler = (&Handler{}).Validate

// Validate evaluates the admission request against the current snapshot,
// bounded by the request context deadline.
func (h *Handler) Validate(ctx context.Context, logger logr.Logger, request *admissionv1.AdmissionRequest, startTime time.Time) *admissionv1.AdmissionResponse {
	workload, err := engine.WorkloadFromAdmissionRequest(request)
	if err != nil {
		logger.Error(err, "failed to extract workload from admission request")
		return h.inconclusive(logger, request, errors.Wrap(err, "malformed admission request"))
	}
	snapshot := h.store.Snapshot()
	verdicts := make(chan engine.Verdict, 1)
	go func() {
		verdicts <- h.engine.Evaluate(snapshot, workload)
	}()
	select {
	case verdict := <-verdicts:
		return h.respond(logger, request, verdict, startTime)
	case <-ctx.Done():
		return h.inconclusive(logger, request, errors.Wrap(ctx.Err(), "policy evaluation did not complete in time"))
	}
}

// Ready reports whether the backing store completed its initial sync. The
// webhook must not serve verdicts from an empty snapshot at startup.
func (h *Handler) Ready() bool {
	return h.store.HasSynced()
}

// DeniedLast24h returns the number of deny decisions issued over the trailing
// 24 hours.
func (h *Handler) DeniedLast24h() int64 {
	return h.stats.deniedLast24h(h.now())
}

func (h *Handler) respond(logger logr.Logger, request *admissionv1.AdmissionRequest, verdict engine.Verdict, startTime time.Time) *admissionv1.AdmissionResponse {
	h.stats.record(h.now(), verdict.Allowed)
	metrics.RecordAdmissionDecision(h.clusterName, verdict.Allowed, verdict.MatchedPolicy)
	if verdict.Allowed {
		if len(verdict.Reasons) > 0 {
			logger.V(3).Info("workload allowed with violations below the deny threshold", "policy", verdict.MatchedPolicy, "reasons", verdict.Reasons)
		}
		// violations below the deny threshold surface as warnings
		return admissionutils.ResponseSuccess(request.UID, verdict.Reasons...)
	}
	logger.V(2).Info("workload denied", "policy", verdict.MatchedPolicy, "reasons", verdict.Reasons, "duration", time.Since(startTime).String())
	return admissionutils.Response(request.UID, errors.Errorf("policy %s denies admission: %s", verdict.MatchedPolicy, strings.Join(verdict.Reasons, "; ")))
}

// inconclusive resolves a decision that could not be computed, honoring the
// configured failure policy.
func (h *Handler) inconclusive(logger logr.Logger, request *admissionv1.AdmissionRequest, err error) *admissionv1.AdmissionResponse {
	if h.failurePolicy == config.FailOpen {
		h.stats.record(h.now(), true)
		metrics.RecordAdmissionDecision(h.clusterName, true, "")
		logger.V(2).Info("allowing inconclusive decision", "failurePolicy", h.failurePolicy, "error", err.Error())
		return admissionutils.ResponseSuccess(request.UID, err.Error())
	}
	h.stats.record(h.now(), false)
	metrics.RecordAdmissionDecision(h.clusterName, false, "")
	logger.V(2).Info("denying inconclusive decision", "failurePolicy", h.failurePolicy, "error", err.Error())
	return admissionutils.Response(request.UID, err)
}
