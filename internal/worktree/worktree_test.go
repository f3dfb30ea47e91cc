package worktree

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

func TestCreateThenDetect(t *testing.T) {
	repoDir := setupTestRepo(t)
	wtDir := t.TempDir()
	mgr := New(repoDir, wtDir)
	ctx := context.Background()

	info, err := mgr.Create(ctx, "feature-x", "deadbeef")
	require.NoError(t, err)
	require.Equal(t, "spec/feature-x", info.BranchName)

	exists, err := mgr.Detect(ctx, "feature-x", "deadbeef")
	require.NoError(t, err)
	require.True(t, exists)

	present, path := mgr.Status("feature-x", "deadbeef")
	require.True(t, present)
	require.Equal(t, info.Path, path)
}

func TestCreateTwiceWithSameSha8IsIdempotent(t *testing.T) {
	repoDir := setupTestRepo(t)
	wtDir := t.TempDir()
	mgr := New(repoDir, wtDir)
	ctx := context.Background()

	first, err := mgr.Create(ctx, "feature-x", "deadbeef")
	require.NoError(t, err)

	second, err := mgr.Create(ctx, "feature-x", "deadbeef")
	require.NoError(t, err, "re-creating with an identical (slug, sha8) must return the existing worktree, not error")
	require.Equal(t, first.Path, second.Path)
	require.Equal(t, first.BranchName, second.BranchName)
	require.Equal(t, first.BaseCommit, second.BaseCommit)
}

func TestCreateWithDifferentSha8UsesDistinctPath(t *testing.T) {
	repoDir := setupTestRepo(t)
	wtDir := t.TempDir()
	mgr := New(repoDir, wtDir)
	ctx := context.Background()

	first, err := mgr.Create(ctx, "feature-x", "aaaaaaaa")
	require.NoError(t, err)

	second, err := mgr.Create(ctx, "feature-x", "bbbbbbbb")
	require.NoError(t, err)

	require.NotEqual(t, first.Path, second.Path, "different plan fingerprints for the same slug must not collide on path")
}

func TestCleanupIsIdempotent(t *testing.T) {
	repoDir := setupTestRepo(t)
	wtDir := t.TempDir()
	mgr := New(repoDir, wtDir)
	ctx := context.Background()

	_, err := mgr.Create(ctx, "feature-x", "deadbeef")
	require.NoError(t, err)

	require.NoError(t, mgr.Cleanup(ctx, "feature-x", "deadbeef"))
	require.NoError(t, mgr.Cleanup(ctx, "feature-x", "deadbeef"), "cleanup of an already-removed worktree must not error")

	present, _ := mgr.Status("feature-x", "deadbeef")
	require.False(t, present)
}

func TestCreateCopiesAssistantConfig(t *testing.T) {
	repoDir := setupTestRepo(t)
	require.NoError(t, os.MkdirAll(filepath.Join(repoDir, ".claude"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, ".claude", "settings.json"), []byte("{}"), 0o644))

	wtDir := t.TempDir()
	mgr := New(repoDir, wtDir)
	ctx := context.Background()

	info, err := mgr.Create(ctx, "feature-x", "deadbeef")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(info.Path, ".claude", "settings.json"))
	require.NoError(t, err)
}
