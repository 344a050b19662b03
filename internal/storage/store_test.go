package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/cbsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "nested", "cb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoreRules(t *testing.T) {
	st := openTemp(t)

	lines, err := st.LoadRules(1)
	require.NoError(t, err)
	assert.Nil(t, lines)

	require.NoError(t, st.SaveRules(1, []string{"a.com##.x", "||b.com^"}))
	lines, err = st.LoadRules(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com##.x", "||b.com^"}, lines)

	require.NoError(t, st.SaveRules(1, nil))
	lines, err = st.LoadRules(1)
	require.NoError(t, err)
	assert.Nil(t, lines)
}

func TestStoreFilterStates(t *testing.T) {
	st := openTemp(t)
	checked := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	m := models.FilterMetadata{
		FilterID:      2,
		GroupID:       models.CategoryAdBlocking,
		Version:       "2.0.1.5",
		LastCheckTime: checked,
		Enabled:       true,
		Installed:     true,
	}
	require.NoError(t, st.SaveFilter(m, []string{"||ads.com^"}))

	custom := models.FilterMetadata{FilterID: 1000, GroupID: models.CategoryCustomFilters, CustomURL: "https://example.com/list.txt"}
	require.NoError(t, st.SaveFilterState(custom))

	states, err := st.FilterStates()
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "2.0.1.5", states[2].Version)
	assert.True(t, states[2].LastCheckTime.Equal(checked))
	assert.Equal(t, "https://example.com/list.txt", states[1000].CustomURL)

	require.NoError(t, st.DeleteFilter(2))
	states, err = st.FilterStates()
	require.NoError(t, err)
	assert.Len(t, states, 1)

	lines, err := st.LoadRules(2)
	require.NoError(t, err)
	assert.Nil(t, lines)
}

func TestStoreAllowList(t *testing.T) {
	st := openTemp(t)

	_, ok, err := st.AllowList()
	require.NoError(t, err)
	assert.False(t, ok)

	want := models.AllowListState{Mode: models.AllowListInverted, Domains: []string{"a.com", "b.org"}}
	require.NoError(t, st.SaveAllowList(want))

	got, ok, err := st.AllowList()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

func TestStoreInitialized(t *testing.T) {
	st := openTemp(t)

	done, err := st.Initialized()
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, st.MarkInitialized(time.Now()))
	done, err = st.Initialized()
	require.NoError(t, err)
	assert.True(t, done)
}

func TestStoreReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cb.db")
	st, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, st.SaveRules(models.UserFilterID, []string{"mine.com##.ad"}))
	require.NoError(t, st.Close())

	st, err = Open(path)
	require.NoError(t, err)
	defer st.Close()

	lines, err := st.LoadRules(models.UserFilterID)
	require.NoError(t, err)
	assert.Equal(t, []string{"mine.com##.ad"}, lines)
}

func TestStoreSaveFiltersBatch(t *testing.T) {
	st := openTemp(t)
	require.NoError(t, st.SaveRules(2, []string{"old"}))

	states := []models.FilterMetadata{
		{FilterID: 1, Version: "2.0.0", Loaded: true},
		{FilterID: 2, Version: "1.0.1"},
	}
	require.NoError(t, st.SaveFilters(states, map[int][]string{1: {"||a.com^"}}))

	got, err := st.FilterStates()
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", got[1].Version)
	assert.Equal(t, "1.0.1", got[2].Version)

	lines, err := st.LoadRules(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"||a.com^"}, lines)

	lines, err = st.LoadRules(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, lines)
}
