// Package catalog loads the list of known filters and their categories.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/bnema/cbsync/internal/models"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// Group is a filter category
type Group struct {
	GroupID       int    `yaml:"groupId"`
	Name          string `yaml:"name"`
	DisplayNumber int    `yaml:"displayNumber"`
}

// Catalog lists the categories and the filters they contain
type Catalog struct {
	Groups  []Group                 `yaml:"groups"`
	Filters []models.FilterMetadata `yaml:"filters"`
}

// Default returns the catalog bundled with the binary
func Default() (*Catalog, error) {
	return Parse(bytes.NewReader(defaultCatalog))
}

// Load reads a catalog file, falling back to the bundled one when path is empty
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(f)
}

// Parse decodes and validates a YAML catalog. Filters are returned sorted
// by category, then display number, then id.
func Parse(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}

	groups := map[int]bool{models.CategoryCustomFilters: true}
	for _, g := range c.Groups {
		if groups[g.GroupID] {
			return nil, fmt.Errorf("duplicate group %d", g.GroupID)
		}
		groups[g.GroupID] = true
	}

	seen := make(map[int]bool, len(c.Filters))
	for i := range c.Filters {
		f := &c.Filters[i]
		switch {
		case f.FilterID <= models.UserFilterID || f.FilterID >= models.FirstCustomFilterID:
			return nil, fmt.Errorf("filter %d: id outside the catalog range", f.FilterID)
		case seen[f.FilterID]:
			return nil, fmt.Errorf("duplicate filter %d", f.FilterID)
		case !groups[f.GroupID] || f.GroupID == models.CategoryCustomFilters:
			return nil, fmt.Errorf("filter %d: unknown group %d", f.FilterID, f.GroupID)
		}
		seen[f.FilterID] = true

		// Catalog filters are trusted; enabled ones start installed
		f.Trusted = true
		f.Installed = f.Enabled
	}

	sort.SliceStable(c.Filters, func(i, j int) bool {
		return Less(c.Filters[i], c.Filters[j])
	})

	return &c, nil
}

// Less orders filters by category, display number and id
func Less(a, b models.FilterMetadata) bool {
	if a.GroupID != b.GroupID {
		return a.GroupID < b.GroupID
	}
	if a.DisplayNumber != b.DisplayNumber {
		return a.DisplayNumber < b.DisplayNumber
	}
	return a.FilterID < b.FilterID
}

// GroupName returns the display name of a category
func (c *Catalog) GroupName(groupID int) string {
	if groupID == models.CategoryCustomFilters {
		return "Custom"
	}
	for _, g := range c.Groups {
		if g.GroupID == groupID {
			return g.Name
		}
	}
	return ""
}
