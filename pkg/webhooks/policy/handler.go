package policy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	admissionv1 "k8s.io/api/admission/v1"

	guardianv1 "github.com/guardian-io/guardian/api/guardian/v1"
	admissionutils "github.com/guardian-io/guardian/pkg/utils/admission"
	"github.com/guardian-io/guardian/pkg/webhooks/handlers"
)

// Handler rejects malformed GuardianPolicy objects at admission time, before
// the reconciler would mark them Failed. Validation here and in the
// reconciler apply the same spec checks.
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

var _ handlers.AdmissionHandler = (&Handler{}).Validate

func (h *Handler) Validate(ctx context.Context, logger logr.Logger, request *admissionv1.AdmissionRequest, startTime time.Time) *admissionv1.AdmissionResponse {
	if request.Operation == admissionv1.Delete {
		return admissionutils.ResponseSuccess(request.UID)
	}
	policy := &guardianv1.GuardianPolicy{}
	if err := json.Unmarshal(request.Object.Raw, policy); err != nil {
		logger.Error(err, "failed to decode policy")
		return admissionutils.Response(request.UID, errors.Wrap(err, "failed to decode policy"))
	}
	if errs := policy.Validate(); len(errs) > 0 {
		logger.V(2).Info("policy rejected", "policy", policy.GetName(), "message", errs.ToAggregate().Error())
		return admissionutils.Response(request.UID, errs.ToAggregate())
	}
	return admissionutils.ResponseSuccess(request.UID)
}
