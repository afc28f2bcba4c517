// Package finding defines the structured types emitted by adscan.
// These are the public API contract: any consumer (sinks, the status API,
// MCP tools) imports this package to receive and process detections.
package finding

// AdType classifies the kind of advertising element detected.
type AdType string

const (
	TypePreroll   AdType = "preroll"    // video ad before/at the start of playback
	TypeMidroll   AdType = "midroll"    // video ad interrupting playback
	TypeBanner    AdType = "banner"     // fixed-size banner creative
	TypeSponsored AdType = "sponsored"  // promoted/sponsored organic content
	TypeOverlay   AdType = "overlay"    // overlay on top of other content
	TypeDisplay   AdType = "display-ad" // generic display placement
	TypeVideo     AdType = "video-ad"   // in-player video creative
	TypeNetwork   AdType = "network-ad" // identified via ad-network traffic
)

// Evidence is an ordered list of signal tokens. Duplicates are allowed and
// influence the corroboration term of the confidence score. Tokens are
// opaque tags of the form "source:detail", e.g. "element:ytp-ad-skip-button".
type Evidence []string

// Contains reports whether any token mentions the given substring.
func (e Evidence) Contains(sub string) bool {
	for _, tok := range e {
		if indexFold(tok, sub) {
			return true
		}
	}
	return false
}

// Union returns e extended with the tokens of other that e does not already
// hold, preserving order on both sides. The boolean is true when the result
// is strictly larger than e.
func (e Evidence) Union(other Evidence) (Evidence, bool) {
	seen := make(map[string]struct{}, len(e))
	for _, tok := range e {
		seen[tok] = struct{}{}
	}
	out := e
	grew := false
	for _, tok := range other {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		grew = true
	}
	return out, grew
}

// Finding is a single classified detection, owned by the pipeline run that
// created it. It is never mutated after creation; a later run supersedes it
// with a new Finding once the node's cache entry has expired.
type Finding struct {
	NodeID         string   `json:"node_id"` // stable opaque node identifier
	Tag            string   `json:"tag,omitempty"`
	Type           AdType   `json:"type"`
	Confidence     float64  `json:"confidence"`
	Evidence       Evidence `json:"evidence"`
	DestinationURL string   `json:"destination_url,omitempty"`
	Source         string   `json:"source,omitempty"` // evidence source tag, e.g. "aria-label"
	Timestamp      int64    `json:"timestamp"`        // epoch milliseconds
}

// Report is the outbound record handed to sinks. One report = one detection
// that passed the confidence threshold and the session dedup.
type Report struct {
	ID             string   `json:"id"` // UUIDv7
	DestinationURL string   `json:"destination_url"`
	AdType         AdType   `json:"ad_type"`
	Source         string   `json:"source"`
	Confidence     float64  `json:"confidence"`
	Evidence       Evidence `json:"evidence"`
	Snippet        string   `json:"snippet,omitempty"` // markdown rendering of the creative
	PageURL        string   `json:"page_url,omitempty"`
	Timestamp      int64    `json:"timestamp"`  // epoch milliseconds
	ContextID      string   `json:"context_id"` // pipeline run that produced it
}

func indexFold(s, sub string) bool {
	// ASCII case-insensitive substring test; evidence tokens are ASCII tags.
	if len(sub) == 0 {
		return true
	}
	if len(s) < len(sub) {
		return false
	}
	lower := func(b byte) byte {
		if 'A' <= b && b <= 'Z' {
			return b + 'a' - 'A'
		}
		return b
	}
outer:
	for i := 0; i+len(sub) <= len(s); i++ {
		for j := 0; j < len(sub); j++ {
			if lower(s[i+j]) != lower(sub[j]) {
				continue outer
			}
		}
		return true
	}
	return false
}
