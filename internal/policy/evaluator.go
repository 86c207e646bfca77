package policy

import (
	"fmt"
	"sort"

	"github.com/wardenlabs/llm-warden/internal/rules"
)

// Evaluate matches a single detection against a policy set and resolves the
// final action. The highest-priority matching policy decides the action and
// severity override; ties break by policy id ascending so results are
// deterministic regardless of input order. Metadata from every matched policy
// is merged in that same order, and a key set by a higher-priority policy is
// never overwritten by a lower one.
//
// Evaluate is pure: it reads its inputs and produces a Decision, nothing else.
// No matching policy yields the default decision (log, no override).
func Evaluate(d rules.Detection, policies []Policy) Decision {
	matched := make([]Policy, 0, len(policies))
	for _, p := range policies {
		if p.Matches(d) {
			matched = append(matched, p)
		}
	}

	decision := Decision{
		Action:           ActionLog,
		OriginalSeverity: d.Severity,
		FinalSeverity:    d.Severity,
	}
	if len(matched) == 0 {
		return decision
	}

	// Priority descending, then id ascending.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].ID < matched[j].ID
	})

	winner := matched[0]
	decision.Action = winner.Action
	if winner.OverrideSeverity != "" {
		decision.FinalSeverity = winner.OverrideSeverity
	}

	for _, p := range matched {
		decision.MatchedPolicies = append(decision.MatchedPolicies, p.ID)
		for k, v := range p.Metadata {
			if decision.Metadata == nil {
				decision.Metadata = make(map[string]interface{})
			}
			if _, set := decision.Metadata[k]; !set {
				decision.Metadata[k] = v
			}
		}
	}
	return decision
}

// EvaluateBatch evaluates each detection independently and keys the results
// by the detection's fully versioned rule id.
func EvaluateBatch(ds []rules.Detection, policies []Policy) map[string]Decision {
	out := make(map[string]Decision, len(ds))
	for _, d := range ds {
		out[d.VersionedID()] = Evaluate(d, policies)
	}
	return out
}

// FilterByCustomer returns only the policies owned by customerID. Evaluation
// paths apply this before Evaluate; callers are never trusted to pre-filter.
func FilterByCustomer(policies []Policy, customerID string) []Policy {
	out := make([]Policy, 0, len(policies))
	for _, p := range policies {
		if p.CustomerID == customerID {
			out = append(out, p)
		}
	}
	return out
}

// ValidateAll validates a loaded policy set and rejects duplicate ids.
func ValidateAll(policies []Policy) error {
	seen := make(map[string]struct{}, len(policies))
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate policy %s", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}
