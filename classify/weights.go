package classify

import "strings"

// Evidence weights. Resolution order: exact token match, then longest
// matching prefix, then DefaultWeight. Weights are empirically chosen and
// deliberately kept as data, not re-derived. Recalibrate against labelled
// detections before trusting them further.
const DefaultWeight = 0.5

// StrongSignal is the weight above which a token counts toward the
// corroboration boost.
const StrongSignal = 0.8

var exactWeights = map[string]float64{
	"state:ad-showing":              0.95,
	"state:ad-interrupting":         0.95,
	"element:ytp-ad-skip-button":    0.9,
	"element:ytp-ad-player-overlay": 0.85,
	"element:ytp-ad-text":           0.8,
	"element:video-ads":             0.75,
	"network:ad-request":            0.85,
	"content:aria-label-domain":     0.7,
	"content:link-domain":           0.65,
	"attr:data-ad-slot":             0.7,
	"visual:sticky-overlay":         0.6,
	"visual:banner-size":            0.55,
}

// prefixWeights apply to any token whose tag starts with the prefix and has
// no exact entry. Longest prefix wins.
var prefixWeights = map[string]float64{
	"state:":   0.9,
	"network:": 0.8,
	"element:": 0.6,
	"content:": 0.6,
	"attr:":    0.55,
	"visual:":  0.5,
}

// Weight resolves the weight of a single evidence token.
func Weight(token string) float64 {
	if w, ok := exactWeights[token]; ok {
		return w
	}
	best := ""
	for prefix := range prefixWeights {
		if strings.HasPrefix(token, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return prefixWeights[best]
	}
	return DefaultWeight
}
