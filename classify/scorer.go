// Package classify turns accumulated evidence into a confidence score and an
// ad-type classification, with a short-lived per-node cache to amortise
// recomputation under mutation churn.
package classify

import "github.com/hazyhaar/adscan/finding"

// Threshold is the minimum confidence before a detection is eligible for
// reporting. Named because multiple consumers reference it: the scanner's
// report filter, the status API, and the MCP tools.
const Threshold = 0.6

// Blend constants for ScoreEvidence. The max/average split favours the single
// strongest signal while still rewarding corroboration; the boost caps how
// much a pile of strong signals can add.
const (
	maxBlend      = 0.7
	avgBlend      = 0.3
	boostPerToken = 0.03
	boostCap      = 0.1
)

// ScoreEvidence converts an evidence list into a confidence in [0,1].
// Empty evidence scores 0. Duplicated tokens count twice and shift the
// weighted average toward their weight.
func ScoreEvidence(ev finding.Evidence) float64 {
	if len(ev) == 0 {
		return 0
	}

	var maxWeight, totalWeight, weightedSum float64
	strongSignals := 0
	for _, tok := range ev {
		w := Weight(tok)
		if w > maxWeight {
			maxWeight = w
		}
		totalWeight += w
		weightedSum += w * w
		if w > StrongSignal {
			strongSignals++
		}
	}

	avgWeight := weightedSum / totalWeight
	base := maxWeight*maxBlend + avgWeight*avgBlend

	boost := float64(strongSignals) * boostPerToken
	if boost > boostCap {
		boost = boostCap
	}

	score := base + boost
	if score > 1 {
		score = 1
	}
	return score
}
