package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// PolicyCondition is the coarse reconciliation state of a policy.
type PolicyCondition string

const (
	// PolicyConditionPending means the policy has been observed but not reconciled yet.
	PolicyConditionPending PolicyCondition = "Pending"
	// PolicyConditionReady means the policy is served for admission decisions.
	PolicyConditionReady PolicyCondition = "Ready"
	// PolicyConditionFailed means the policy spec did not validate at its current generation.
	PolicyConditionFailed PolicyCondition = "Failed"
)

// GuardianPolicyStatus contains policy runtime data, mutated only by the reconciler.
type GuardianPolicyStatus struct {
	// ObservedGeneration is the spec generation the status reflects.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// Condition is the reconciliation state at ObservedGeneration.
	// +optional
	Condition PolicyCondition `json:"condition,omitempty"`

	// LastEvaluated is when the reconciler last processed the policy.
	// +optional
	LastEvaluated *metav1.Time `json:"lastEvaluated,omitempty"`

	// Message is a human readable explanation of the current condition.
	// +optional
	Message string `json:"message,omitempty"`
}

// SetPending records the first observation of a policy, before its initial
// reconciliation completes. LastEvaluated stays unset until then.
func (status *GuardianPolicyStatus) SetPending(generation int64, message string) {
	status.ObservedGeneration = generation
	status.Condition = PolicyConditionPending
	status.Message = message
}

// SetReady records a successful reconciliation of the given generation.
func (status *GuardianPolicyStatus) SetReady(generation int64, message string) {
	status.ObservedGeneration = generation
	status.Condition = PolicyConditionReady
	status.Message = message
	now := metav1.Now()
	status.LastEvaluated = &now
}

// SetFailed records a terminal validation failure of the given generation.
func (status *GuardianPolicyStatus) SetFailed(generation int64, message string) {
	status.ObservedGeneration = generation
	status.Condition = PolicyConditionFailed
	status.Message = message
	now := metav1.Now()
	status.LastEvaluated = &now
}
