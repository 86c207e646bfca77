// Package rules defines the immutable value types shared by the detection
// pipeline: rules, patterns, matches and detections. Rules are produced by an
// external pack loader and are never mutated after construction; updates ship
// as a new versioned rule.
package rules

import (
	"fmt"
	"time"
)

// Severity is the ordered severity scale for rules and detections.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for comparison. Unknown severities rank
// below info so they can never drive a blocking decision.
var severityRank = map[Severity]int{
	SeverityInfo:     1,
	SeverityLow:      2,
	SeverityMedium:   3,
	SeverityHigh:     4,
	SeverityCritical: 5,
}

// Rank returns the numeric order of the severity (higher is more severe).
func (s Severity) Rank() int {
	return severityRank[s]
}

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Family is the coarse threat category a rule belongs to.
type Family string

const (
	FamilyPromptInjection  Family = "prompt_injection"
	FamilyJailbreak        Family = "jailbreak"
	FamilyPII              Family = "pii"
	FamilyCommandInjection Family = "command_injection"
	FamilyEncoding         Family = "encoding"
	FamilyExfiltration     Family = "data_exfiltration"
	FamilyCustom           Family = "custom"
)

// PatternFlag is a named regex compilation flag.
type PatternFlag string

const (
	FlagIgnoreCase PatternFlag = "ignore_case"
	FlagMultiline  PatternFlag = "multiline"
	FlagDotAll     PatternFlag = "dot_all"
)

// Pattern is one regular expression of a rule, with its compilation flags and
// execution budget. Patterns are compiled lazily and cached by the matcher.
type Pattern struct {
	Regex   string        `json:"regex" yaml:"regex"`
	Flags   []PatternFlag `json:"flags,omitempty" yaml:"flags,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Rule is a versioned detection rule. A rule matches when any of its patterns
// matches (OR semantics).
type Rule struct {
	ID         string    `json:"rule_id" yaml:"rule_id"`
	Version    string    `json:"version" yaml:"version"`
	Family     Family    `json:"family" yaml:"family"`
	SubFamily  string    `json:"sub_family,omitempty" yaml:"sub_family,omitempty"`
	Severity   Severity  `json:"severity" yaml:"severity"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
	Message    string    `json:"message,omitempty" yaml:"message,omitempty"`
	Patterns   []Pattern `json:"patterns" yaml:"patterns"`

	// TestExamples are author-supplied texts the rule is expected to match.
	// Used by the evaluation pipeline, never at scan time.
	TestExamples []string `json:"test_examples,omitempty" yaml:"test_examples,omitempty"`
}

// VersionedID returns the rule identity including its version, the key used
// for batch policy evaluation and telemetry correlation.
func (r Rule) VersionedID() string {
	if r.Version == "" {
		return r.ID
	}
	return r.ID + "@" + r.Version
}

// Validate checks the rule's construction invariants. Violations are load
// failures, not scan-time conditions.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule has empty id")
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("rule %s: unknown severity %q", r.ID, r.Severity)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("rule %s: confidence %v outside [0,1]", r.ID, r.Confidence)
	}
	if len(r.Patterns) == 0 {
		return fmt.Errorf("rule %s: no patterns", r.ID)
	}
	for i, p := range r.Patterns {
		if p.Regex == "" {
			return fmt.Errorf("rule %s: pattern %d has empty regex", r.ID, i)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("rule %s: pattern %d has negative timeout", r.ID, i)
		}
	}
	return nil
}

// ValidateAll validates a loaded rule set and rejects duplicate versioned ids.
func ValidateAll(rs []Rule) error {
	seen := make(map[string]struct{}, len(rs))
	for _, r := range rs {
		if err := r.Validate(); err != nil {
			return err
		}
		key := r.VersionedID()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate rule %s", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Match records where and what a single pattern matched, with surrounding
// context for explainability. Derived per scan, never persisted.
type Match struct {
	PatternIndex  int      `json:"pattern_index"`
	Start         int      `json:"start"`
	End           int      `json:"end"`
	Text          string   `json:"matched_text"`
	Groups        []string `json:"capture_groups,omitempty"`
	ContextBefore string   `json:"context_before,omitempty"`
	ContextAfter  string   `json:"context_after,omitempty"`
}

// Detection is the rule-level result the pipeline operates on. Both the
// pattern layer and the classifier layer produce detections in this shape.
type Detection struct {
	RuleID     string                 `json:"rule_id"`
	Version    string                 `json:"version,omitempty"`
	Severity   Severity               `json:"severity"`
	Confidence float64                `json:"confidence"`
	Message    string                 `json:"message,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// VersionedID returns the detection's fully versioned rule id.
func (d Detection) VersionedID() string {
	if d.Version == "" {
		return d.RuleID
	}
	return d.RuleID + "@" + d.Version
}
