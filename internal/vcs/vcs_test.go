package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.name", "Test User")
	runGit(t, dir, "config", "user.email", "test@example.com")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test Repo\n"), 0o644))
	runGit(t, dir, "add", "README.md")
	runGit(t, dir, "commit", "-m", "Initial commit")
	return dir
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, out)
	return string(out)
}

func TestCurrentHeadAndBranch(t *testing.T) {
	dir := setupTestRepo(t)
	repo := New(dir)
	ctx := context.Background()

	head, err := repo.CurrentHead(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, head)

	branch, err := repo.CurrentBranch(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, branch)
}

func TestIsDirtyDetectsUncommittedChanges(t *testing.T) {
	dir := setupTestRepo(t)
	repo := New(dir)
	ctx := context.Background()

	dirty, err := repo.IsDirty(ctx)
	require.NoError(t, err)
	require.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))
	dirty, err = repo.IsDirty(ctx)
	require.NoError(t, err)
	require.True(t, dirty)
}

func TestChangedFilesSinceRef(t *testing.T) {
	dir := setupTestRepo(t)
	repo := New(dir)
	ctx := context.Background()

	base, err := repo.CurrentHead(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "second.txt"), []byte("hello"), 0o644))
	runGit(t, dir, "add", "second.txt")
	runGit(t, dir, "commit", "-m", "add second file")

	files, err := repo.ChangedFiles(ctx, base)
	require.NoError(t, err)
	require.Equal(t, []string{"second.txt"}, files)
}

func TestLogReturnsCommitsNewestOrder(t *testing.T) {
	dir := setupTestRepo(t)
	repo := New(dir)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "second.txt"), []byte("hello"), 0o644))
	runGit(t, dir, "add", "second.txt")
	runGit(t, dir, "commit", "-m", "add second file")

	commits, err := repo.Log(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	require.Equal(t, "add second file", commits[0].Message)
}

func TestErrorWrapsFailedCommand(t *testing.T) {
	dir := setupTestRepo(t)
	repo := New(dir)
	_, err := repo.run(context.Background(), "this-is-not-a-git-command")
	require.Error(t, err)
}
