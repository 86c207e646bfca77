// Package suppress filters detections against operator- or caller-supplied
// suppression patterns before the blocking decision is made. Suppressed
// detections stay in the audit record; only the action calculation stops
// seeing them.
package suppress

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wardenlabs/llm-warden/internal/rules"
)

// Action is what a matching suppression does to a detection.
type Action string

const (
	// ActionSuppress removes the detection from the action calculation.
	ActionSuppress Action = "suppress"
	// ActionFlag keeps the detection counted but annotates it.
	ActionFlag Action = "flag"
	// ActionLog only affects the audit trail, never the decision.
	ActionLog Action = "log"
)

// Suppression is one suppression entry. Pattern is an exact rule id or a
// prefix wildcard ("pi-*" matches any id sharing the prefix).
type Suppression struct {
	Pattern   string     `json:"pattern" yaml:"pattern"`
	Action    Action     `json:"action" yaml:"action"`
	Reason    string     `json:"reason,omitempty" yaml:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}

// Validate checks the entry at load time.
func (s Suppression) Validate() error {
	if s.Pattern == "" {
		return fmt.Errorf("suppression has empty pattern")
	}
	switch s.Action {
	case ActionSuppress, ActionFlag, ActionLog:
	default:
		return fmt.Errorf("suppression %s: unknown action %q", s.Pattern, s.Action)
	}
	return nil
}

// matches reports whether the entry applies to ruleID at time now.
func (s Suppression) matches(ruleID string, now time.Time) bool {
	if s.ExpiresAt != nil && now.After(*s.ExpiresAt) {
		return false
	}
	if prefix, ok := strings.CutSuffix(s.Pattern, "*"); ok {
		return strings.HasPrefix(ruleID, prefix)
	}
	return s.Pattern == ruleID
}

// Merge combines stored and inline suppressions into exactly one entry per
// pattern, inline winning on overlap. Output order is deterministic (pattern
// ascending).
func Merge(stored, inline []Suppression) []Suppression {
	byPattern := make(map[string]Suppression, len(stored)+len(inline))
	for _, s := range stored {
		byPattern[s.Pattern] = s
	}
	for _, s := range inline {
		byPattern[s.Pattern] = s
	}

	patterns := make([]string, 0, len(byPattern))
	for p := range byPattern {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	out := make([]Suppression, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, byPattern[p])
	}
	return out
}

// Suppressed is the audit record of one suppression hit.
type Suppressed struct {
	Detection rules.Detection `json:"detection"`
	Pattern   string          `json:"pattern"`
	Action    Action          `json:"action"`
	Reason    string          `json:"reason,omitempty"`
}

// Apply partitions detections by the suppression list. kept are the
// detections the action calculation still sees (FLAG hits stay, annotated via
// metadata; LOG hits stay untouched); audit records every suppression hit.
func Apply(detections []rules.Detection, suppressions []Suppression, now time.Time) (kept []rules.Detection, audit []Suppressed) {
	kept = make([]rules.Detection, 0, len(detections))
	for _, d := range detections {
		entry, hit := firstMatch(d.RuleID, suppressions, now)
		if !hit {
			kept = append(kept, d)
			continue
		}

		audit = append(audit, Suppressed{
			Detection: d,
			Pattern:   entry.Pattern,
			Action:    entry.Action,
			Reason:    entry.Reason,
		})

		switch entry.Action {
		case ActionSuppress:
			// Removed from the action calculation entirely.
		case ActionFlag:
			annotated := d
			annotated.Metadata = copyMetadata(d.Metadata)
			annotated.Metadata["suppression_flag"] = entry.Pattern
			if entry.Reason != "" {
				annotated.Metadata["suppression_reason"] = entry.Reason
			}
			kept = append(kept, annotated)
		case ActionLog:
			kept = append(kept, d)
		}
	}
	return kept, audit
}

// firstMatch returns the first matching entry in list order. Merge output is
// sorted, so matching is deterministic.
func firstMatch(ruleID string, suppressions []Suppression, now time.Time) (Suppression, bool) {
	for _, s := range suppressions {
		if s.matches(ruleID, now) {
			return s, true
		}
	}
	return Suppression{}, false
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}
