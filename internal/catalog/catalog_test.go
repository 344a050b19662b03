package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bnema/cbsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.NotEmpty(t, c.Filters)

	for i := 1; i < len(c.Filters); i++ {
		assert.False(t, Less(c.Filters[i], c.Filters[i-1]), "filters must be sorted")
	}
	for _, f := range c.Filters {
		assert.True(t, f.Trusted)
		assert.Equal(t, f.Enabled, f.Installed)
		assert.NotEmpty(t, c.GroupName(f.GroupID))
	}
	assert.Equal(t, "Custom", c.GroupName(models.CategoryCustomFilters))
}

func TestParseOrdersByDisplayNumber(t *testing.T) {
	input := `
groups:
  - groupId: 1
    name: Ads
filters:
  - filterId: 5
    groupId: 1
    name: b
    displayNumber: 2
  - filterId: 9
    groupId: 1
    name: a
    displayNumber: 1
`
	c, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, c.Filters, 2)
	assert.Equal(t, 9, c.Filters[0].FilterID)
	assert.Equal(t, 5, c.Filters[1].FilterID)
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "unknown field", input: "groups: []\nfilterz: []\n"},
		{name: "duplicate filter", input: "groups:\n  - groupId: 1\nfilters:\n  - filterId: 2\n    groupId: 1\n  - filterId: 2\n    groupId: 1\n"},
		{name: "unknown group", input: "groups: []\nfilters:\n  - filterId: 2\n    groupId: 4\n"},
		{name: "custom range id", input: "groups:\n  - groupId: 1\nfilters:\n  - filterId: 1000\n    groupId: 1\n"},
		{name: "user filter id", input: "groups:\n  - groupId: 1\nfilters:\n  - filterId: 0\n    groupId: 1\n"},
		{name: "custom group", input: "groups: []\nfilters:\n  - filterId: 3\n    groupId: 0\n"},
		{name: "duplicate group", input: "groups:\n  - groupId: 1\n  - groupId: 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, c.Filters)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("groups:\n  - groupId: 2\n    name: Privacy\nfilters:\n  - filterId: 3\n    groupId: 2\n    name: p\n"), 0o644))

	c, err = Load(path)
	require.NoError(t, err)
	require.Len(t, c.Filters, 1)
	assert.Equal(t, "Privacy", c.GroupName(2))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
