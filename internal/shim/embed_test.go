package shim

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtract_WritesEmbeddedAssetToTempFile(t *testing.T) {
	path, cleanup, err := Extract()
	require.NoError(t, err)
	defer cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "installPermissionBridge")

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
	cleanup()
	_, statErr = os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestNodeOptionsEnv_PreservesExistingValue(t *testing.T) {
	got := NodeOptionsEnv("/tmp/intercept.js", "")
	require.Equal(t, `NODE_OPTIONS=--require "/tmp/intercept.js"`, got)

	got = NodeOptionsEnv("/tmp/intercept.js", "--max-old-space-size=4096")
	require.True(t, strings.HasPrefix(got, "NODE_OPTIONS=--max-old-space-size=4096 --require"))
}
