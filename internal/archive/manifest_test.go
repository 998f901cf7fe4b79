package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFilename), []byte(body), 0o644))
	return dir
}

func TestReadManifest(t *testing.T) {
	t.Parallel()

	t.Run("missing file is nil, not an error", func(t *testing.T) {
		m, err := ReadManifest(t.TempDir())
		require.NoError(t, err)
		require.Nil(t, m)
	})

	t.Run("valid manifest", func(t *testing.T) {
		dir := writeManifest(t, `{"name":"payments","branch":"main","commit":"abc123","query":"focus on auth"}`)
		m, err := ReadManifest(dir)
		require.NoError(t, err)
		require.NotNil(t, m)
		require.Equal(t, "payments", m.Name)
		require.Equal(t, "main", m.Branch)
		require.Equal(t, "abc123", m.Commit)
		require.Equal(t, "focus on auth", m.Query)
	})

	t.Run("malformed json", func(t *testing.T) {
		dir := writeManifest(t, `{"name":`)
		_, err := ReadManifest(dir)
		require.Error(t, err)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		dir := writeManifest(t, `{"name":"x","owner":"me"}`)
		_, err := ReadManifest(dir)
		require.Error(t, err)
	})

	t.Run("non-hex commit rejected", func(t *testing.T) {
		dir := writeManifest(t, `{"commit":"not-a-sha!"}`)
		_, err := ReadManifest(dir)
		require.Error(t, err)
	})

	t.Run("empty name rejected", func(t *testing.T) {
		dir := writeManifest(t, `{"name":""}`)
		_, err := ReadManifest(dir)
		require.Error(t, err)
	})
}
