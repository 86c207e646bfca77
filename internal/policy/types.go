// Package policy evaluates detections against customer-defined condition
// policies and resolves the winning action.
package policy

import (
	"fmt"

	"github.com/wardenlabs/llm-warden/internal/rules"
)

// Action is what a matched policy asks the caller to do with a detection.
type Action string

const (
	ActionLog    Action = "log"
	ActionFlag   Action = "flag"
	ActionReview Action = "review"
	ActionBlock  Action = "block"
	ActionAlert  Action = "alert"
)

var knownActions = map[Action]struct{}{
	ActionLog:    {},
	ActionFlag:   {},
	ActionReview: {},
	ActionBlock:  {},
	ActionAlert:  {},
}

// Condition is one AND-combined set of match fields. Unset fields match
// anything.
type Condition struct {
	// RuleIDs restricts the condition to these rule ids (unversioned).
	RuleIDs []string `json:"rule_ids,omitempty" yaml:"rule_ids,omitempty"`
	// MinSeverity is the minimum detection severity, inclusive.
	MinSeverity rules.Severity `json:"min_severity,omitempty" yaml:"min_severity,omitempty"`
	// MinConfidence / MaxConfidence bound the detection confidence. Nil means
	// unbounded on that side.
	MinConfidence *float64 `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`
	MaxConfidence *float64 `json:"max_confidence,omitempty" yaml:"max_confidence,omitempty"`
}

// Validate checks condition invariants at construction/load time.
func (c Condition) Validate() error {
	if c.MinSeverity != "" && !c.MinSeverity.Valid() {
		return fmt.Errorf("unknown min_severity %q", c.MinSeverity)
	}
	if c.MinConfidence != nil && (*c.MinConfidence < 0 || *c.MinConfidence > 1) {
		return fmt.Errorf("min_confidence %v outside [0,1]", *c.MinConfidence)
	}
	if c.MaxConfidence != nil && (*c.MaxConfidence < 0 || *c.MaxConfidence > 1) {
		return fmt.Errorf("max_confidence %v outside [0,1]", *c.MaxConfidence)
	}
	if c.MinConfidence != nil && c.MaxConfidence != nil && *c.MinConfidence > *c.MaxConfidence {
		return fmt.Errorf("min_confidence %v above max_confidence %v", *c.MinConfidence, *c.MaxConfidence)
	}
	return nil
}

// matches reports whether all set fields of the condition hold for d.
func (c Condition) matches(d rules.Detection) bool {
	if len(c.RuleIDs) > 0 {
		found := false
		for _, id := range c.RuleIDs {
			if id == d.RuleID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.MinSeverity != "" && !d.Severity.AtLeast(c.MinSeverity) {
		return false
	}
	if c.MinConfidence != nil && d.Confidence < *c.MinConfidence {
		return false
	}
	if c.MaxConfidence != nil && d.Confidence > *c.MaxConfidence {
		return false
	}
	return true
}

// Policy is a customer-owned condition policy. A policy matches a detection
// when any of its conditions matches (OR across conditions).
type Policy struct {
	ID               string                 `json:"policy_id" yaml:"policy_id"`
	CustomerID       string                 `json:"customer_id" yaml:"customer_id"`
	Enabled          bool                   `json:"enabled" yaml:"enabled"`
	Priority         int                    `json:"priority" yaml:"priority"`
	Conditions       []Condition            `json:"conditions" yaml:"conditions"`
	Action           Action                 `json:"action" yaml:"action"`
	OverrideSeverity rules.Severity         `json:"override_severity,omitempty" yaml:"override_severity,omitempty"`
	WebhookURL       string                 `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Validate checks policy invariants. Policies that fail validation are load
// failures; they never reach scan time.
func (p Policy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("policy has empty id")
	}
	if p.CustomerID == "" {
		return fmt.Errorf("policy %s: empty customer_id", p.ID)
	}
	if _, ok := knownActions[p.Action]; !ok {
		return fmt.Errorf("policy %s: unknown action %q", p.ID, p.Action)
	}
	if p.OverrideSeverity != "" && !p.OverrideSeverity.Valid() {
		return fmt.Errorf("policy %s: unknown override_severity %q", p.ID, p.OverrideSeverity)
	}
	if len(p.Conditions) == 0 {
		return fmt.Errorf("policy %s: no conditions", p.ID)
	}
	for i, c := range p.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("policy %s: condition %d: %w", p.ID, i, err)
		}
	}
	return nil
}

// Matches reports whether any condition of an enabled policy matches d.
func (p Policy) Matches(d rules.Detection) bool {
	if !p.Enabled {
		return false
	}
	for _, c := range p.Conditions {
		if c.matches(d) {
			return true
		}
	}
	return false
}

// Decision is the outcome of evaluating one detection against a policy set.
type Decision struct {
	Action           Action                 `json:"action"`
	OriginalSeverity rules.Severity         `json:"original_severity"`
	FinalSeverity    rules.Severity         `json:"final_severity"`
	MatchedPolicies  []string               `json:"matched_policies,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}
