package patterns

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogPattern is one pattern in a catalog file.
type CatalogPattern struct {
	Pattern  string `yaml:"pattern" json:"pattern"`
	Priority int    `yaml:"priority" json:"priority"` // 1 = highest; default 10
}

// Catalog is the YAML catalog file format:
//
//	categories:
//	  video_players:
//	    - pattern: ".video-ads .ad-showing"
//	      priority: 1
//	  banners:
//	    - pattern: "[id^=google_ads_iframe]"
type Catalog struct {
	Categories map[string][]CatalogPattern `yaml:"categories"`
}

// LoadCatalogFile reads a YAML catalog file.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("patterns: read catalog: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("patterns: parse catalog: %w", err)
	}
	return &cat, nil
}

// LoadCatalog ingests a catalog into the registry.
func (r *Registry) LoadCatalog(cat *Catalog) {
	r.UpdateFromConfig(cat.Categories)
}

// DefaultCatalog returns the built-in starter catalog: common ad containers
// seen across large video and content sites. Site-specific files extend or
// replace it.
func DefaultCatalog() *Catalog {
	return &Catalog{Categories: map[string][]CatalogPattern{
		"player": {
			{Pattern: ".ad-showing", Priority: 1},
			{Pattern: ".ad-interrupting", Priority: 1},
			{Pattern: ".ytp-ad-player-overlay", Priority: 2},
			{Pattern: ".ytp-ad-skip-button", Priority: 2},
			{Pattern: ".video-ads", Priority: 3},
		},
		"banner": {
			{Pattern: "[id^=google_ads_iframe]", Priority: 2},
			{Pattern: ".adsbygoogle", Priority: 3},
			{Pattern: "[data-ad-slot]", Priority: 4},
			{Pattern: "iframe[src*=doubleclick]", Priority: 4},
		},
		"sponsored": {
			{Pattern: "[aria-label*=ponsored]", Priority: 3},
			{Pattern: ".sponsored-content", Priority: 5},
			{Pattern: "[data-promoted]", Priority: 5},
		},
		"overlay": {
			{Pattern: ".ad-overlay", Priority: 4},
			{Pattern: ".video-ad-overlay", Priority: 5},
		},
	}}
}
