package scoring

import "fmt"

// Mode selects a threshold table for the scorer. Operators re-tune behavior
// by editing the tables, not the scoring code.
type Mode string

const (
	ModeHighSecurity Mode = "high_security"
	ModeBalanced     Mode = "balanced"
	ModeLowFP        Mode = "low_fp"
)

// Thresholds is one mode's tuning table.
type Thresholds struct {
	// HighThreat and Threat gate the two blocking classifications on the
	// binary threat probability, given consistent downstream stages.
	HighThreat float64
	Threat     float64
	// Review is the floor above which an unconfirmed signal still goes to a
	// human instead of passing silently.
	Review float64

	// FamilyMin and SubFamilyMin are the minimum top-class confidences for
	// the downstream stages to count as supporting the binary verdict.
	FamilyMin    float64
	SubFamilyMin float64

	// WeakMargin classifies a stage margin (top1 - top2) as weak below this
	// cutoff; MaxWeakStages is how many weak stages consistency tolerates.
	WeakMargin    float64
	MaxWeakStages int

	// Weights blend the stage confidences into the hierarchical score. They
	// must sum to 1.
	BinaryWeight    float64
	FamilyWeight    float64
	SubFamilyWeight float64
}

// modeTable holds the shipped tuning per mode.
var modeTable = map[Mode]Thresholds{
	ModeHighSecurity: {
		HighThreat:      0.90,
		Threat:          0.70,
		Review:          0.40,
		FamilyMin:       0.45,
		SubFamilyMin:    0.35,
		WeakMargin:      0.15,
		MaxWeakStages:   2,
		BinaryWeight:    0.60,
		FamilyWeight:    0.25,
		SubFamilyWeight: 0.15,
	},
	ModeBalanced: {
		HighThreat:      0.95,
		Threat:          0.85,
		Review:          0.50,
		FamilyMin:       0.60,
		SubFamilyMin:    0.50,
		WeakMargin:      0.20,
		MaxWeakStages:   1,
		BinaryWeight:    0.50,
		FamilyWeight:    0.30,
		SubFamilyWeight: 0.20,
	},
	ModeLowFP: {
		HighThreat:      0.98,
		Threat:          0.92,
		Review:          0.65,
		FamilyMin:       0.70,
		SubFamilyMin:    0.60,
		WeakMargin:      0.25,
		MaxWeakStages:   0,
		BinaryWeight:    0.45,
		FamilyWeight:    0.30,
		SubFamilyWeight: 0.25,
	},
}

// actionTable maps each classification to its action deterministically.
var actionTable = map[Classification]Action{
	ClassSafe:       ActionAllow,
	ClassFPLikely:   ActionAllowWithLog,
	ClassReview:     ActionManualReview,
	ClassThreat:     ActionBlock,
	ClassHighThreat: ActionBlockAlert,
}

// ThresholdsFor returns the tuning table for a mode.
func ThresholdsFor(mode Mode) (Thresholds, error) {
	t, ok := modeTable[mode]
	if !ok {
		return Thresholds{}, fmt.Errorf("unknown scoring mode %q", mode)
	}
	return t, nil
}

// ActionFor returns the action mapped to a classification.
func ActionFor(c Classification) Action {
	return actionTable[c]
}
