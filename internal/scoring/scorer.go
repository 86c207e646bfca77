package scoring

import (
	"math"
	"sort"
)

// Score calibrates one cascade output under the given mode. It validates the
// input, measures per-stage margins and cross-stage consistency, blends the
// stage confidences into a hierarchical score, and classifies.
//
// The hierarchical score is a fixed-weight blend of the stage confidences, so
// it is monotone in the binary threat probability when the downstream stages
// are held fixed.
func Score(ts *ThreatScore, mode Mode) (*Result, error) {
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	th, err := ThresholdsFor(mode)
	if err != nil {
		return nil, err
	}

	threat := ts.ThreatProbability()
	famLabel, famTop, famMargin := topTwo(ts.Family)
	subLabel, subTop, subMargin := topTwo(ts.SubFamily)
	binMargin := math.Abs(ts.Binary[1] - ts.Binary[0])

	margins := StageMargins{Binary: binMargin, Family: famMargin, SubFamily: subMargin}

	weak := 0
	for _, m := range []float64{binMargin, famMargin, subMargin} {
		if m < th.WeakMargin {
			weak++
		}
	}

	variance := populationVariance(ts.Binary[1], famTop, subTop)

	supported := famTop >= th.FamilyMin && subTop >= th.SubFamilyMin
	consistent := supported && weak <= th.MaxWeakStages

	hierarchical := th.BinaryWeight*threat + th.FamilyWeight*famTop + th.SubFamilyWeight*subTop

	var class Classification
	switch {
	case threat >= th.Threat && consistent:
		if threat >= th.HighThreat {
			class = ClassHighThreat
		} else {
			class = ClassThreat
		}
	case threat >= th.Threat:
		// High binary score without downstream support: typically a keyword
		// hit in an innocuous context.
		class = ClassFPLikely
	case threat >= th.Review:
		class = ClassReview
	default:
		class = ClassSafe
	}

	return &Result{
		Classification:    class,
		Action:            ActionFor(class),
		HierarchicalScore: hierarchical,
		Margins:           margins,
		Variance:          variance,
		IsConsistent:      consistent,
		WeakMarginCount:   weak,
		TopFamily:         famLabel,
		TopSubFamily:      subLabel,
		Mode:              mode,
	}, nil
}

// topTwo returns the top label, its probability, and the top-1 minus top-2
// margin of a distribution. A single-class distribution has margin equal to
// its probability. Label ties break lexicographically for determinism.
func topTwo(dist map[string]float64) (label string, top, margin float64) {
	labels := make([]string, 0, len(dist))
	for l := range dist {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	var second float64
	for _, l := range labels {
		p := dist[l]
		if p > top {
			second = top
			top = p
			label = l
		} else if p > second {
			second = p
		}
	}
	return label, top, top - second
}

// populationVariance of the three stage confidences; the cross-stage
// consistency signal.
func populationVariance(a, b, c float64) float64 {
	mean := (a + b + c) / 3
	return ((a-mean)*(a-mean) + (b-mean)*(b-mean) + (c-mean)*(c-mean)) / 3
}
