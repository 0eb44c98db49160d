// ABOUTME: Tests for the fake extension's tab loading and host startup errors.
// ABOUTME: The full spawn path is covered by the host's own end-to-end test.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTabs(t *testing.T) {
	tabs, err := loadTabs("")
	require.NoError(t, err)
	assert.Equal(t, defaultTabs, tabs)

	path := filepath.Join(t.TempDir(), "tabs.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":9,"windowId":3,"title":"x","url":"https://x"}]`), 0o644))
	tabs, err = loadTabs(path)
	require.NoError(t, err)
	require.Len(t, tabs, 1)
	assert.Equal(t, 9, tabs[0].ID)
	assert.Equal(t, 3, tabs[0].WindowID)

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
	_, err = loadTabs(path)
	assert.Error(t, err)

	_, err = loadTabs(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestRun_MissingHost(t *testing.T) {
	err := run(filepath.Join(t.TempDir(), "no-such-host"), nil, "", false)
	assert.Error(t, err)
}
