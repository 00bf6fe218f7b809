package toolutils_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pinorobotics/rtpstalk/std/utils/toolutils"
	"github.com/stretchr/testify/require"
)

func TestReadYamlStrict(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yml")
	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(good, []byte("name: abc\ncount: 3\n"), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("name: abc\nextra: 1\n"), 0o644))

	dest := struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}{}
	require.NoError(t, toolutils.ReadYaml(&dest, good))
	require.Equal(t, "abc", dest.Name)
	require.Equal(t, 3, dest.Count)

	require.Error(t, toolutils.ReadYaml(&dest, bad))
	require.Error(t, toolutils.ReadYaml(&dest, filepath.Join(dir, "missing.yml")))
}
