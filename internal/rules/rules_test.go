package rules

import (
	"strings"
	"testing"
	"time"
)

func validRule() Rule {
	return Rule{
		ID:         "t-001",
		Version:    "1.0.0",
		Family:     FamilyCustom,
		Severity:   SeverityHigh,
		Confidence: 0.8,
		Patterns:   []Pattern{{Regex: `test`, Timeout: 100 * time.Millisecond}},
	}
}

func TestSeverity(t *testing.T) {
	t.Run("Ordering", func(t *testing.T) {
		order := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
		for i := 1; i < len(order); i++ {
			if order[i].Rank() <= order[i-1].Rank() {
				t.Errorf("%s should rank above %s", order[i], order[i-1])
			}
		}
	})

	t.Run("AtLeast", func(t *testing.T) {
		if !SeverityCritical.AtLeast(SeverityHigh) {
			t.Error("critical should be at least high")
		}
		if !SeverityHigh.AtLeast(SeverityHigh) {
			t.Error("AtLeast should be inclusive")
		}
		if SeverityMedium.AtLeast(SeverityHigh) {
			t.Error("medium should not be at least high")
		}
	})

	t.Run("UnknownRanksBelowEverything", func(t *testing.T) {
		if Severity("extreme").AtLeast(SeverityInfo) {
			t.Error("Unknown severity must never reach a blocking threshold")
		}
		if Severity("extreme").Valid() {
			t.Error("Unknown severity reported valid")
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("ValidRule", func(t *testing.T) {
		if err := validRule().Validate(); err != nil {
			t.Errorf("Valid rule rejected: %v", err)
		}
	})

	cases := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"EmptyID", func(r *Rule) { r.ID = "" }},
		{"UnknownSeverity", func(r *Rule) { r.Severity = "extreme" }},
		{"ConfidenceAboveOne", func(r *Rule) { r.Confidence = 1.5 }},
		{"NegativeConfidence", func(r *Rule) { r.Confidence = -0.1 }},
		{"NoPatterns", func(r *Rule) { r.Patterns = nil }},
		{"EmptyRegex", func(r *Rule) { r.Patterns[0].Regex = "" }},
		{"NegativeTimeout", func(r *Rule) { r.Patterns[0].Timeout = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validRule()
			tc.mutate(&r)
			if err := r.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestValidateAll(t *testing.T) {
	t.Run("DuplicateVersionedID", func(t *testing.T) {
		if err := ValidateAll([]Rule{validRule(), validRule()}); err == nil {
			t.Error("Duplicate versioned id accepted")
		}
	})

	t.Run("SameIDDifferentVersionAllowed", func(t *testing.T) {
		a := validRule()
		b := validRule()
		b.Version = "2.0.0"
		if err := ValidateAll([]Rule{a, b}); err != nil {
			t.Errorf("Distinct versions rejected: %v", err)
		}
	})

	t.Run("DefaultRulesValid", func(t *testing.T) {
		if err := ValidateAll(DefaultRules()); err != nil {
			t.Errorf("Built-in rule pack invalid: %v", err)
		}
	})
}

func TestVersionedID(t *testing.T) {
	r := validRule()
	if got := r.VersionedID(); got != "t-001@1.0.0" {
		t.Errorf("VersionedID = %s", got)
	}
	r.Version = ""
	if got := r.VersionedID(); got != "t-001" {
		t.Errorf("VersionedID without version = %s", got)
	}
}

func TestPackVersion(t *testing.T) {
	t.Run("Stable", func(t *testing.T) {
		a := PackVersion(DefaultRules())
		b := PackVersion(DefaultRules())
		if a != b {
			t.Errorf("PackVersion not deterministic: %s vs %s", a, b)
		}
		if len(a) != 16 || strings.ToLower(a) != a {
			t.Errorf("PackVersion = %q, want 16 lowercase hex chars", a)
		}
	})

	t.Run("OrderIndependent", func(t *testing.T) {
		rs := DefaultRules()
		reversed := make([]Rule, len(rs))
		for i, r := range rs {
			reversed[len(rs)-1-i] = r
		}
		if PackVersion(rs) != PackVersion(reversed) {
			t.Error("PackVersion depends on rule order")
		}
	})

	t.Run("ChangesWithRuleVersion", func(t *testing.T) {
		rs := DefaultRules()
		before := PackVersion(rs)
		rs[0].Version = "9.9.9"
		if PackVersion(rs) == before {
			t.Error("Bumping a rule version did not change the pack version")
		}
	})

	t.Run("ChangesWithRuleCount", func(t *testing.T) {
		rs := DefaultRules()
		before := PackVersion(rs)
		if PackVersion(append(rs, validRule())) == before {
			t.Error("Adding a rule did not change the pack version")
		}
	})
}
