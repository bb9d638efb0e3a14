package magetasks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	originalDir, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(originalDir) })

	tmpDir := t.TempDir()
	require.NoError(t, os.Chdir(tmpDir))

	require.NoError(t, Initialize())
	assert.DirExists(t, filepath.Join(tmpDir, "bin"))

	// EvalSymlinks handles temp dirs behind symlinks (macOS /var).
	expectedRoot, _ := filepath.EvalSymlinks(tmpDir)
	actualRoot, _ := filepath.EvalSymlinks(ProjectRoot)
	assert.Equal(t, expectedRoot, actualRoot)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "github.com/dkoosis/covgate", ModulePath)
	assert.Equal(t, "./bin/covgate", BinPath)
	assert.Equal(t, "./cmd/covgate", MainPackage)
}
