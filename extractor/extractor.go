// Package extractor pulls reportable content out of a candidate subtree:
// the advertised destination URL and a sanitised markdown snippet of the
// creative. Extraction is best-effort; a candidate without a plausible
// destination is simply reported without one, never dropped here.
package extractor

import (
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/adscan/classify"
	"github.com/hazyhaar/adscan/dom"
)

// Destination is an extracted ad destination with the source tag that
// produced it. Source tags feed the session dedup key.
type Destination struct {
	URL    string `json:"url"`
	Source string `json:"source"` // "link" | "aria-label" | "text"
}

// Extractor produces destinations and snippets for candidate nodes.
type Extractor struct {
	sanitizer *bluemonday.Policy
	md        *converter.Converter
}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{
		sanitizer: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

// Destination extracts the most credible advertised destination from a
// candidate subtree. Precedence: outbound link hrefs, then aria-label, then
// visible text. Values that fail to parse as a reference or do not look
// like an ad destination are skipped, not fatal.
func (e *Extractor) Destination(node dom.Node) (Destination, bool) {
	for _, href := range node.Links() {
		if host, ok := hostOf(href); ok && classify.IsPlausibleAdReference(host) {
			return Destination{URL: href, Source: "link"}, true
		}
	}

	if label := strings.TrimSpace(node.Attr("aria-label")); label != "" {
		if classify.IsPlausibleAdReference(label) {
			return Destination{URL: "https://" + strings.ToLower(label), Source: "aria-label"}, true
		}
	}

	for _, word := range strings.Fields(node.Text()) {
		token := strings.Trim(word, ".,;:!?()[]\"'")
		if classify.IsPlausibleAdReference(token) {
			return Destination{URL: "https://" + strings.ToLower(token), Source: "text"}, true
		}
	}

	return Destination{}, false
}

// Snippet renders a short markdown snippet of raw creative HTML, sanitised
// first so scripts and event handlers never reach a report. Returns "" when
// nothing renderable remains.
func (e *Extractor) Snippet(rawHTML string, maxLen int) string {
	if strings.TrimSpace(rawHTML) == "" {
		return ""
	}

	clean := e.sanitizer.Sanitize(rawHTML)
	md, err := e.md.ConvertString(clean)
	if err != nil {
		return ""
	}
	md = strings.TrimSpace(md)
	if maxLen > 0 && len(md) > maxLen {
		md = md[:maxLen]
	}
	return md
}

// hostOf parses a URL and returns its host. A value that fails to parse is
// reported as not-a-reference rather than an error: malformed candidate
// references exclude the candidate, they never abort extraction.
func hostOf(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	return strings.TrimPrefix(u.Host, "www."), true
}
