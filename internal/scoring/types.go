// Package scoring turns raw classifier cascade output into a calibrated
// threat verdict. Scoring is a pure computation: same input and mode always
// produce the identical result, and nothing here performs I/O.
package scoring

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidScoreInput indicates malformed classifier output. A scan cannot
// produce a trustworthy verdict from it, so scoring fails instead of
// renormalizing or defaulting.
var ErrInvalidScoreInput = errors.New("invalid score input")

// simplexTolerance is how far a probability vector may drift from summing to
// exactly 1 before it is rejected.
const simplexTolerance = 0.01

// ThreatScore is the raw output of the three-stage classifier cascade:
// binary threat/safe, family distribution, sub-family distribution. It is an
// external input; Validate gates every use.
type ThreatScore struct {
	// Binary holds [P(safe), P(threat)].
	Binary []float64 `json:"binary"`
	// Family maps family label to probability.
	Family map[string]float64 `json:"family"`
	// SubFamily maps sub-family label to probability.
	SubFamily map[string]float64 `json:"sub_family"`
}

// ThreatProbability returns P(threat) from the binary stage.
func (ts *ThreatScore) ThreatProbability() float64 {
	if len(ts.Binary) != 2 {
		return 0
	}
	return ts.Binary[1]
}

// Validate checks that every stage is a valid probability simplex. Invalid
// input is rejected, never silently repaired.
func (ts *ThreatScore) Validate() error {
	if ts == nil {
		return fmt.Errorf("%w: nil score", ErrInvalidScoreInput)
	}
	if len(ts.Binary) != 2 {
		return fmt.Errorf("%w: binary stage has %d entries, want 2", ErrInvalidScoreInput, len(ts.Binary))
	}
	if err := validateSimplex("binary", ts.Binary); err != nil {
		return err
	}
	if len(ts.Family) == 0 {
		return fmt.Errorf("%w: empty family distribution", ErrInvalidScoreInput)
	}
	if err := validateSimplex("family", distValues(ts.Family)); err != nil {
		return err
	}
	if len(ts.SubFamily) == 0 {
		return fmt.Errorf("%w: empty sub-family distribution", ErrInvalidScoreInput)
	}
	if err := validateSimplex("sub_family", distValues(ts.SubFamily)); err != nil {
		return err
	}
	return nil
}

func distValues(m map[string]float64) []float64 {
	vs := make([]float64, 0, len(m))
	for _, v := range m {
		vs = append(vs, v)
	}
	return vs
}

func validateSimplex(stage string, probs []float64) error {
	sum := 0.0
	for _, p := range probs {
		if p < 0 || p > 1 || math.IsNaN(p) {
			return fmt.Errorf("%w: %s probability %v outside [0,1]", ErrInvalidScoreInput, stage, p)
		}
		sum += p
	}
	if math.Abs(sum-1) > simplexTolerance {
		return fmt.Errorf("%w: %s probabilities sum to %v", ErrInvalidScoreInput, stage, sum)
	}
	return nil
}

// Classification is the calibrated verdict category.
type Classification string

const (
	ClassSafe       Classification = "safe"
	ClassFPLikely   Classification = "fp_likely"
	ClassReview     Classification = "review"
	ClassThreat     Classification = "threat"
	ClassHighThreat Classification = "high_threat"
)

// Action is the recommended handling for a classification.
type Action string

const (
	ActionAllow        Action = "allow"
	ActionAllowWithLog Action = "allow_with_log"
	ActionManualReview Action = "manual_review"
	ActionBlock        Action = "block"
	ActionBlockAlert   Action = "block_alert"
)

// StageMargins holds the top-1 minus top-2 probability at each cascade stage.
type StageMargins struct {
	Binary    float64 `json:"binary"`
	Family    float64 `json:"family"`
	SubFamily float64 `json:"sub_family"`
}

// Result is the calibrated scoring verdict. Computed fresh per scan and never
// cached: it depends on per-request probabilities.
type Result struct {
	Classification    Classification `json:"classification"`
	Action            Action         `json:"action"`
	HierarchicalScore float64        `json:"hierarchical_score"`
	Margins           StageMargins   `json:"margins"`
	Variance          float64        `json:"variance"`
	IsConsistent      bool           `json:"is_consistent"`
	WeakMarginCount   int            `json:"weak_margin_count"`
	TopFamily         string         `json:"top_family,omitempty"`
	TopSubFamily      string         `json:"top_sub_family,omitempty"`
	Mode              Mode           `json:"mode"`
}
