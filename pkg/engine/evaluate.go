package engine

import (
	"fmt"
	"sort"

	wildcard "github.com/IGLOU-EU/go-wildcard"

	guardianv1 "github.com/guardian-io/guardian/api/guardian/v1"
	"github.com/guardian-io/guardian/pkg/policystore"
)

// Verdict is the outcome of evaluating a workload against a policy snapshot.
// It is deterministic given the same (snapshot, workload) pair.
type Verdict struct {
	// Allowed reports whether the workload may proceed.
	Allowed bool
	// MatchedPolicy is the name of the decisive policy, empty when the
	// workload satisfies every enabled policy.
	MatchedPolicy string
	// Reasons lists one human readable line per violated policy, most severe first.
	Reasons []string
}

// Evaluator turns a policy snapshot plus a candidate workload into a verdict.
// Implementations must be pure: no I/O, no mutable state, identical inputs
// always produce an identical Verdict. Purity is required because the
// admission gate may re-evaluate under retry.
type Evaluator interface {
	Evaluate(snapshot policystore.Snapshot, workload WorkloadDescription) Verdict
}

type evaluator struct {
	denySeverity guardianv1.PolicySeverity
}

// New returns an Evaluator. A workload violating a policy at or above
// denySeverity is denied; violations below it are recorded but allowed.
func New(denySeverity guardianv1.PolicySeverity) Evaluator {
	return evaluator{denySeverity: denySeverity}
}

type violation struct {
	policy *guardianv1.GuardianPolicy
	rule   guardianv1.Rule
}

func (e evaluator) Evaluate(snapshot policystore.Snapshot, workload WorkloadDescription) Verdict {
	var violations []violation
	for _, policy := range snapshot {
		if !policy.Spec.IsEnabled() {
			continue
		}
		if rule, violated := firstViolatedRule(policy, workload); violated {
			violations = append(violations, violation{policy: policy, rule: rule})
		}
	}
	if len(violations) == 0 {
		return Verdict{Allowed: true}
	}
	// most severe first, ties broken on the lexicographically smallest name
	// so verdicts stay deterministic
	sort.Slice(violations, func(i, j int) bool {
		ri, rj := violations[i].policy.Spec.Severity.Rank(), violations[j].policy.Spec.Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return violations[i].policy.GetName() < violations[j].policy.GetName()
	})
	decisive := violations[0].policy
	reasons := make([]string, 0, len(violations))
	for _, v := range violations {
		reasons = append(reasons, fmt.Sprintf("policy %s (severity %s): %s", v.policy.GetName(), v.policy.Spec.Severity, describeViolation(v.rule)))
	}
	return Verdict{
		Allowed:       decisive.Spec.Severity.Rank() < e.denySeverity.Rank(),
		MatchedPolicy: decisive.GetName(),
		Reasons:       reasons,
	}
}

// firstViolatedRule reports whether the workload fails any of the policy's
// requirements, returning the first failing rule in declaration order.
func firstViolatedRule(policy *guardianv1.GuardianPolicy, workload WorkloadDescription) (guardianv1.Rule, bool) {
	for _, rule := range policy.Spec.Rules {
		if !ruleSatisfied(rule, workload) {
			return rule, true
		}
	}
	return guardianv1.Rule{}, false
}

// ruleSatisfied dispatches over the closed operator set. Unknown operators
// never hold, the reconciler rejects them before a policy is served.
func ruleSatisfied(rule guardianv1.Rule, workload WorkloadDescription) bool {
	value, present := workload.Field(rule.FieldPath)
	switch rule.Operator {
	case guardianv1.OperatorExists:
		return present
	case guardianv1.OperatorEquals:
		return present && value == rule.Expected
	case guardianv1.OperatorNotEquals:
		// an absent field differs from any expected value
		return !present || value != rule.Expected
	case guardianv1.OperatorMatches:
		return present && wildcard.Match(rule.Expected, value)
	}
	return false
}

func describeViolation(rule guardianv1.Rule) string {
	switch rule.Operator {
	case guardianv1.OperatorExists:
		return fmt.Sprintf("field %q is required", rule.FieldPath)
	case guardianv1.OperatorEquals:
		return fmt.Sprintf("field %q must equal %q", rule.FieldPath, rule.Expected)
	case guardianv1.OperatorNotEquals:
		return fmt.Sprintf("field %q must not equal %q", rule.FieldPath, rule.Expected)
	case guardianv1.OperatorMatches:
		return fmt.Sprintf("field %q must match %q", rule.FieldPath, rule.Expected)
	}
	return fmt.Sprintf("field %q failed operator %q", rule.FieldPath, rule.Operator)
}
