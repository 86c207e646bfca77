package policy

import (
	"testing"

	"github.com/wardenlabs/llm-warden/internal/rules"
)

func detection(id string, severity rules.Severity, confidence float64) rules.Detection {
	return rules.Detection{
		RuleID:     id,
		Version:    "1.0.0",
		Severity:   severity,
		Confidence: confidence,
	}
}

func blockPolicy(id string, priority int) Policy {
	return Policy{
		ID:         id,
		CustomerID: "cust-1",
		Enabled:    true,
		Priority:   priority,
		Conditions: []Condition{{MinSeverity: rules.SeverityLow}},
		Action:     ActionBlock,
	}
}

func TestEvaluate(t *testing.T) {
	t.Run("NoMatchDefaultsToLog", func(t *testing.T) {
		d := detection("pi-001", rules.SeverityHigh, 0.9)
		dec := Evaluate(d, nil)
		if dec.Action != ActionLog {
			t.Errorf("Action = %s, want %s", dec.Action, ActionLog)
		}
		if dec.FinalSeverity != rules.SeverityHigh {
			t.Errorf("FinalSeverity = %s, want unchanged", dec.FinalSeverity)
		}
		if len(dec.MatchedPolicies) != 0 {
			t.Errorf("MatchedPolicies = %v, want none", dec.MatchedPolicies)
		}
	})

	t.Run("HigherPriorityWinsRegardlessOfOrder", func(t *testing.T) {
		low := blockPolicy("p-low", 5)
		low.Action = ActionFlag
		high := blockPolicy("p-high", 10)
		high.Action = ActionBlock

		d := detection("pi-001", rules.SeverityHigh, 0.9)

		forward := Evaluate(d, []Policy{low, high})
		reverse := Evaluate(d, []Policy{high, low})
		if forward.Action != ActionBlock || reverse.Action != ActionBlock {
			t.Errorf("Actions = %s/%s, want %s for both orders", forward.Action, reverse.Action, ActionBlock)
		}
	})

	t.Run("PriorityTieBreaksByID", func(t *testing.T) {
		a := blockPolicy("p-aaa", 5)
		a.Action = ActionAlert
		b := blockPolicy("p-bbb", 5)
		b.Action = ActionFlag

		dec := Evaluate(detection("pi-001", rules.SeverityHigh, 0.9), []Policy{b, a})
		if dec.Action != ActionAlert {
			t.Errorf("Action = %s, want %s (lower id wins the tie)", dec.Action, ActionAlert)
		}
	})

	t.Run("DisabledPolicyNeverMatches", func(t *testing.T) {
		p := blockPolicy("p-off", 10)
		p.Enabled = false

		dec := Evaluate(detection("pi-001", rules.SeverityHigh, 0.9), []Policy{p})
		if dec.Action != ActionLog {
			t.Errorf("Disabled policy applied: action = %s", dec.Action)
		}
	})

	t.Run("SeverityOverride", func(t *testing.T) {
		p := blockPolicy("p-esc", 10)
		p.OverrideSeverity = rules.SeverityCritical

		dec := Evaluate(detection("pi-001", rules.SeverityMedium, 0.9), []Policy{p})
		if dec.OriginalSeverity != rules.SeverityMedium {
			t.Errorf("OriginalSeverity = %s, want medium", dec.OriginalSeverity)
		}
		if dec.FinalSeverity != rules.SeverityCritical {
			t.Errorf("FinalSeverity = %s, want critical", dec.FinalSeverity)
		}
	})

	t.Run("MetadataMergeHigherPriorityWins", func(t *testing.T) {
		winner := blockPolicy("p-high", 10)
		winner.Metadata = map[string]interface{}{"team": "secops", "route": "pager"}
		loser := blockPolicy("p-low", 5)
		loser.Metadata = map[string]interface{}{"team": "platform", "extra": "kept"}

		dec := Evaluate(detection("pi-001", rules.SeverityHigh, 0.9), []Policy{loser, winner})
		if dec.Metadata["team"] != "secops" {
			t.Errorf("Metadata team = %v, want secops", dec.Metadata["team"])
		}
		if dec.Metadata["extra"] != "kept" {
			t.Errorf("Non-conflicting key from lower priority lost: %v", dec.Metadata)
		}
		if len(dec.MatchedPolicies) != 2 {
			t.Errorf("MatchedPolicies = %v, want both", dec.MatchedPolicies)
		}
	})

	t.Run("ConditionFieldsAreANDed", func(t *testing.T) {
		minConf := 0.8
		p := Policy{
			ID:         "p-and",
			CustomerID: "cust-1",
			Enabled:    true,
			Priority:   1,
			Action:     ActionBlock,
			Conditions: []Condition{{
				RuleIDs:       []string{"pi-001"},
				MinSeverity:   rules.SeverityHigh,
				MinConfidence: &minConf,
			}},
		}

		// Right rule, right severity, confidence below bound.
		dec := Evaluate(detection("pi-001", rules.SeverityHigh, 0.5), []Policy{p})
		if dec.Action != ActionLog {
			t.Errorf("Partial condition matched: action = %s", dec.Action)
		}

		dec = Evaluate(detection("pi-001", rules.SeverityCritical, 0.9), []Policy{p})
		if dec.Action != ActionBlock {
			t.Errorf("Full condition did not match: action = %s", dec.Action)
		}
	})

	t.Run("ConditionsAreORed", func(t *testing.T) {
		p := Policy{
			ID:         "p-or",
			CustomerID: "cust-1",
			Enabled:    true,
			Priority:   1,
			Action:     ActionReview,
			Conditions: []Condition{
				{RuleIDs: []string{"other-rule"}},
				{MinSeverity: rules.SeverityCritical},
			},
		}
		dec := Evaluate(detection("pi-001", rules.SeverityCritical, 0.9), []Policy{p})
		if dec.Action != ActionReview {
			t.Errorf("Second condition should have matched: action = %s", dec.Action)
		}
	})
}

func TestEvaluateBatch(t *testing.T) {
	p := blockPolicy("p-1", 1)
	ds := []rules.Detection{
		detection("pi-001", rules.SeverityHigh, 0.9),
		detection("jb-001", rules.SeverityMedium, 0.7),
	}

	out := EvaluateBatch(ds, []Policy{p})
	if len(out) != 2 {
		t.Fatalf("Expected 2 decisions, got %d", len(out))
	}
	if _, ok := out["pi-001@1.0.0"]; !ok {
		t.Errorf("Decisions not keyed by versioned id: %v", out)
	}
}

func TestFilterByCustomer(t *testing.T) {
	mine := blockPolicy("p-mine", 1)
	other := blockPolicy("p-other", 1)
	other.CustomerID = "cust-2"

	got := FilterByCustomer([]Policy{mine, other}, "cust-1")
	if len(got) != 1 || got[0].ID != "p-mine" {
		t.Errorf("FilterByCustomer returned %v", got)
	}
}

func TestValidateAll(t *testing.T) {
	t.Run("DuplicateIDsRejected", func(t *testing.T) {
		a := blockPolicy("p-dup", 1)
		b := blockPolicy("p-dup", 2)
		if err := ValidateAll([]Policy{a, b}); err == nil {
			t.Error("Expected duplicate id error")
		}
	})

	t.Run("InvalidActionRejected", func(t *testing.T) {
		p := blockPolicy("p-bad", 1)
		p.Action = Action("explode")
		if err := ValidateAll([]Policy{p}); err == nil {
			t.Error("Expected unknown action error")
		}
	})

	t.Run("NoConditionsRejected", func(t *testing.T) {
		p := blockPolicy("p-empty", 1)
		p.Conditions = nil
		if err := ValidateAll([]Policy{p}); err == nil {
			t.Error("Expected no-conditions error")
		}
	})
}
