package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"scenarios:\n  - id: cafe\n    name: Cafe\n    assistant_role: Barista\n"+
			"  - id: airport\n    name: Airport\n    assistant_role: Agent\n"), 0o600))

	catalog, count, err := loadCatalog(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	_, err = catalog.Get(context.Background(), "airport")
	assert.NoError(t, err)
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	catalog, count, err := loadCatalog(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Nil(t, catalog)
	assert.Zero(t, count)
}
