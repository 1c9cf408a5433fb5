package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPrefersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte("  from-file \n"), 0o600))

	got, err := Load(Source{Name: "api key", Value: "inline", File: path})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)
}

func TestLoadInlineThenEnv(t *testing.T) {
	t.Setenv("AUTOAPPLY_TEST_KEY", "from-env")

	got, err := Load(Source{Value: "inline", Env: "AUTOAPPLY_TEST_KEY"})
	require.NoError(t, err)
	assert.Equal(t, "inline", got)

	got, err = Load(Source{Env: "AUTOAPPLY_TEST_KEY"})
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)
}

func TestLoadErrors(t *testing.T) {
	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o600))

	_, err := Load(Source{Name: "api key", File: empty})
	assert.ErrorContains(t, err, "is empty")

	_, err = Load(Source{Name: "api key", File: filepath.Join(t.TempDir(), "missing")})
	assert.ErrorContains(t, err, "reading api key")

	t.Setenv("AUTOAPPLY_UNSET_KEY", "")
	_, err = Load(Source{Name: "api key", Env: "AUTOAPPLY_UNSET_KEY"})
	assert.ErrorContains(t, err, "AUTOAPPLY_UNSET_KEY")
}
