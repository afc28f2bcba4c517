package classify

import "strings"

// Allow-listed TLD suffixes for plausible ad destinations. Deliberately
// short: the goal is rejecting UI copy that happens to contain a dot, not
// enumerating the IANA root zone.
var allowedSuffixes = []string{
	".com", ".net", ".org", ".io", ".co", ".shop", ".store", ".xyz",
	".app", ".site", ".online", ".biz", ".info", ".deals", ".club",
}

// excludeWords are case-insensitive substrings that mark ordinary interface
// text rather than an advertised destination.
var excludeWords = []string{
	"subscribe", "channel", "playlist", "views", "likes", "comment",
	"share", "settings", "loading", "search", "notification",
}

// excludedDomains are infrastructure hosts that appear inside pages but are
// never the advertised destination themselves.
var excludedDomains = []string{
	"googlevideo.com", "ytimg.com", "gstatic.com", "googleapis.com",
	"youtube.com", "youtu.be", "google.com", "doubleclick.net",
	"googlesyndication.com", "cloudfront.net", "akamaihd.net",
}

// IsPlausibleAdReference reports whether text plausibly names an advertised
// destination domain. All four conditions are required: a dot, an
// allow-listed suffix, no excluded word or infrastructure domain, and a
// strict character class. This is the primary defence against false
// positives from ordinary UI copy.
func IsPlausibleAdReference(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || !strings.Contains(text, ".") {
		return false
	}

	lower := strings.ToLower(text)

	suffixOK := false
	for _, suf := range allowedSuffixes {
		if strings.HasSuffix(lower, suf) {
			suffixOK = true
			break
		}
	}
	if !suffixOK {
		return false
	}

	for _, word := range excludeWords {
		if strings.Contains(lower, word) {
			return false
		}
	}
	for _, domain := range excludedDomains {
		if strings.Contains(lower, domain) {
			return false
		}
	}

	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '.':
		default:
			return false
		}
	}
	return true
}
