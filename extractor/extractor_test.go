package extractor

import (
	"strings"
	"testing"

	"github.com/hazyhaar/adscan/dom/htmldom"
)

func nodeFrom(t *testing.T, rawHTML, selector string) *htmldom.Node {
	t.Helper()
	d, err := htmldom.Parse(rawHTML, "https://example.com")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	nodes, err := d.QueryAll(selector)
	if err != nil || len(nodes) == 0 {
		t.Fatalf("query %q: %d nodes, err %v", selector, len(nodes), err)
	}
	return nodes[0].(*htmldom.Node)
}

func TestDestination_LinkWins(t *testing.T) {
	e := New()
	node := nodeFrom(t,
		`<div id="c" aria-label="other-place.com"><a href="https://sketchy-deals.xyz/offer">deal</a></div>`,
		"#c")

	dest, ok := e.Destination(node)
	if !ok {
		t.Fatal("Destination: got none")
	}
	if dest.Source != "link" || dest.URL != "https://sketchy-deals.xyz/offer" {
		t.Errorf("Destination: got %+v", dest)
	}
}

func TestDestination_AriaLabel(t *testing.T) {
	e := New()
	node := nodeFrom(t, `<div id="c" aria-label="sketchy-deals.xyz">Great offers</div>`, "#c")

	dest, ok := e.Destination(node)
	if !ok {
		t.Fatal("Destination: got none")
	}
	if dest.Source != "aria-label" || dest.URL != "https://sketchy-deals.xyz" {
		t.Errorf("Destination: got %+v", dest)
	}
}

func TestDestination_TextFallback(t *testing.T) {
	e := New()
	node := nodeFrom(t, `<div id="c">Visit sketchy-deals.xyz today!</div>`, "#c")

	dest, ok := e.Destination(node)
	if !ok {
		t.Fatal("Destination: got none")
	}
	if dest.Source != "text" || dest.URL != "https://sketchy-deals.xyz" {
		t.Errorf("Destination: got %+v", dest)
	}
}

func TestDestination_RejectsUICopyAndInfra(t *testing.T) {
	e := New()
	cases := []string{
		`<div id="c">Subscribe to our channel</div>`,
		`<div id="c"><a href="https://i.ytimg.com/vi/x.jpg">thumb</a></div>`,
		`<div id="c"><a href="::bad::url">x</a></div>`,
	}
	for _, raw := range cases {
		node := nodeFrom(t, raw, "#c")
		if dest, ok := e.Destination(node); ok {
			t.Errorf("Destination(%q): unexpectedly got %+v", raw, dest)
		}
	}
}

func TestSnippet_SanitisesAndTruncates(t *testing.T) {
	e := New()

	got := e.Snippet(`<p>Buy <b>now</b></p><script>alert(1)</script>`, 0)
	if got == "" {
		t.Fatal("Snippet: got empty")
	}
	if strings.Contains(got, "alert") {
		t.Errorf("Snippet: script survived sanitisation: %q", got)
	}

	long := e.Snippet("<p>"+strings.Repeat("ad ", 200)+"</p>", 20)
	if len(long) > 20 {
		t.Errorf("Snippet: got %d bytes, want <= 20", len(long))
	}

	if e.Snippet("   ", 0) != "" {
		t.Error("Snippet: blank input should yield empty")
	}
}
