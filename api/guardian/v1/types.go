package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// RuleOperator is the comparison applied by a single rule predicate.
type RuleOperator string

const (
	// OperatorEquals matches when the workload field equals the expected value.
	OperatorEquals RuleOperator = "Equals"
	// OperatorNotEquals matches when the workload field differs from the expected value.
	OperatorNotEquals RuleOperator = "NotEquals"
	// OperatorExists matches when the workload field is present, regardless of value.
	OperatorExists RuleOperator = "Exists"
	// OperatorMatches matches when the workload field matches the expected wildcard pattern.
	OperatorMatches RuleOperator = "Matches"
)

// PolicySeverity ranks policies when more than one matches a workload.
type PolicySeverity string

const (
	SeverityLow    PolicySeverity = "Low"
	SeverityMedium PolicySeverity = "Medium"
	SeverityHigh   PolicySeverity = "High"
)

// Rank returns the ordering weight of a severity, higher is more severe.
// Unknown severities rank lowest.
func (s PolicySeverity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// +genclient
// +genclient:nonNamespaced
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:path=guardianpolicies,scope="Cluster",shortName=gp
// +kubebuilder:printcolumn:name="Severity",type="string",JSONPath=".spec.severity"
// +kubebuilder:printcolumn:name="Enabled",type="boolean",JSONPath=".spec.enabled"
// +kubebuilder:printcolumn:name="Status",type="string",JSONPath=".status.condition"

// GuardianPolicy declares admission constraints for matching workloads.
type GuardianPolicy struct {
	metav1.TypeMeta   `json:",inline,omitempty"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	// Spec declares policy behaviors.
	Spec GuardianPolicySpec `json:"spec"`

	// Status contains policy runtime data.
	// +optional
	Status GuardianPolicyStatus `json:"status,omitempty"`
}

// GuardianPolicySpec describes the rules a workload must satisfy.
type GuardianPolicySpec struct {
	// Severity ranks the policy among other matching policies and, above the
	// configured threshold, turns a match into a denial.
	Severity PolicySeverity `json:"severity"`

	// Rules is the ordered list of requirements a workload is checked against.
	// A workload complies with the policy only when it satisfies every rule.
	Rules []Rule `json:"rules,omitempty"`

	// Enabled excludes the policy from evaluation when false.
	// +optional
	// +kubebuilder:default=true
	Enabled *bool `json:"enabled,omitempty"`
}

// Rule is a single predicate over one workload description field.
type Rule struct {
	// FieldPath is the flattened, dot separated path of the workload field,
	// e.g. "metadata.labels.team".
	FieldPath string `json:"fieldPath"`

	// Operator selects the comparison to apply.
	Operator RuleOperator `json:"operator"`

	// Expected is the value compared against the workload field. Unused for Exists.
	// +optional
	Expected string `json:"expected,omitempty"`
}

// IsEnabled returns the effective enabled flag, defaulting to true.
func (s *GuardianPolicySpec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// GetSpec returns the policy spec.
func (p *GuardianPolicy) GetSpec() *GuardianPolicySpec {
	return &p.Spec
}

// GetStatus returns the policy status.
func (p *GuardianPolicy) GetStatus() *GuardianPolicyStatus {
	return &p.Status
}

// IsReady indicates if the policy has been reconciled at its current generation.
func (p *GuardianPolicy) IsReady() bool {
	return p.Status.Condition == PolicyConditionReady && p.Status.ObservedGeneration == p.GetGeneration()
}

// Validate implements programmatic validation of the policy spec.
func (p *GuardianPolicy) Validate() (errs field.ErrorList) {
	specPath := field.NewPath("spec")
	if p.Spec.Severity.Rank() == 0 {
		errs = append(errs, field.NotSupported(specPath.Child("severity"), p.Spec.Severity, []string{
			string(SeverityLow), string(SeverityMedium), string(SeverityHigh),
		}))
	}
	for i, rule := range p.Spec.Rules {
		errs = append(errs, rule.Validate(specPath.Child("rules").Index(i))...)
	}
	return errs
}

// Validate checks rule well-formedness.
func (r *Rule) Validate(path *field.Path) (errs field.ErrorList) {
	if r.FieldPath == "" {
		errs = append(errs, field.Required(path.Child("fieldPath"), "a field path is required"))
	}
	switch r.Operator {
	case OperatorEquals, OperatorNotEquals, OperatorMatches:
		if r.Expected == "" {
			errs = append(errs, field.Required(path.Child("expected"), "an expected value is required for operator "+string(r.Operator)))
		}
	case OperatorExists:
	default:
		errs = append(errs, field.NotSupported(path.Child("operator"), r.Operator, []string{
			string(OperatorEquals), string(OperatorNotEquals), string(OperatorExists), string(OperatorMatches),
		}))
	}
	return errs
}

// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// GuardianPolicyList is a list of GuardianPolicy instances.
type GuardianPolicyList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata"`
	Items           []GuardianPolicy `json:"items"`
}
