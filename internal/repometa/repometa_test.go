package repometa

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

func TestDetectPlainTree(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))

	md := Detect(dir, nil)
	require.Empty(t, md.Branch)
	require.Empty(t, md.Commit)
}

func TestDetectGitRepository(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("main.go")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com"},
	})
	require.NoError(t, err)

	md := Detect(dir, nil)
	require.Equal(t, hash.String(), md.Commit)
	require.NotEmpty(t, md.Branch)
}

func TestDetectMissingDir(t *testing.T) {
	t.Parallel()

	md := Detect(filepath.Join(t.TempDir(), "nope"), nil)
	require.Empty(t, md.Commit)
}
