package scheduler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ai-framework/daemon/internal/config"
	"github.com/ai-framework/daemon/internal/governance"
	"github.com/ai-framework/daemon/internal/learning"
	"github.com/ai-framework/daemon/internal/orchestrate"
	"github.com/ai-framework/daemon/internal/vcs"
	"github.com/ai-framework/daemon/internal/worktree"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, out)
}

func setupRepo(t *testing.T, commits int) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.name", "Test User")
	runGit(t, dir, "config", "user.email", "test@example.com")
	for i := 0; i < commits; i++ {
		name := filepath.Join(dir, "file.txt")
		require.NoError(t, os.WriteFile(name, []byte{byte('a' + i)}, 0o644))
		runGit(t, dir, "add", "file.txt")
		runGit(t, dir, "commit", "-m", "change")
	}
	return dir
}

func newScheduler(t *testing.T, cfg *config.Config, gitRoot string) *Scheduler {
	t.Helper()
	learn, err := learning.Open(filepath.Join(t.TempDir(), "learning.db"))
	require.NoError(t, err)
	t.Cleanup(func() { learn.Close() })

	gov, err := governance.Open(filepath.Join(t.TempDir(), "governance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { gov.Close() })

	orch := orchestrate.NewStore(filepath.Join(t.TempDir(), "specs"), worktree.New(gitRoot, t.TempDir()))

	markerPath := filepath.Join(t.TempDir(), "commit-marker")
	return New(config.NewManager(cfg), vcs.New(gitRoot), learn, gov, nil, orch, gitRoot, markerPath, testLogger())
}

func TestCommitObserverTickSkipsWhenLearningDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.Learning.GlobalEnabled = false
	gitRoot := setupRepo(t, 5)
	s := newScheduler(t, cfg, gitRoot)

	s.commitObserverTick(context.Background())
	require.Equal(t, "", s.loadMarker())
}

func TestCommitObserverTickSkipsBelowThreshold(t *testing.T) {
	cfg := config.Defaults()
	cfg.Learning.GlobalEnabled = true
	cfg.Learning.CommitsPerTrigger = 10
	gitRoot := setupRepo(t, 2)
	s := newScheduler(t, cfg, gitRoot)

	s.commitObserverTick(context.Background())
	require.Equal(t, "", s.loadMarker())
}

func TestCommitObserverTickRunsAndPersistsMarker(t *testing.T) {
	cfg := config.Defaults()
	cfg.Learning.GlobalEnabled = true
	cfg.Learning.CommitsPerTrigger = 1
	gitRoot := setupRepo(t, 2)
	s := newScheduler(t, cfg, gitRoot)

	s.commitObserverTick(context.Background())

	head, err := s.repo.CurrentHead(context.Background())
	require.NoError(t, err)
	require.Equal(t, head, s.loadMarker())
}

func TestGovernanceRecrawlTickSkipsWhenDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.Retrieval.GovernanceEnabled = false
	gitRoot := setupRepo(t, 1)
	s := newScheduler(t, cfg, gitRoot)

	// With no roots and the feature disabled this must not touch the store.
	s.governanceRecrawlTick(context.Background())
}

func TestStuckSpecTickFindsStaleSpec(t *testing.T) {
	cfg := config.Defaults()
	gitRoot := setupRepo(t, 1)
	s := newScheduler(t, cfg, gitRoot)

	_, err := s.orch.Start("demo", filepath.Join(gitRoot, "file.txt"))
	require.NoError(t, err)
	_, err = s.orch.ApprovePlan("demo", 1)
	require.NoError(t, err)

	stuck, err := s.orch.StuckSpecs(time.Now().UTC().Add(10*time.Hour), 4*time.Hour)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, "demo", stuck[0].Slug)

	s.stuckSpecTick(context.Background())
}

func TestMarkerRoundTrip(t *testing.T) {
	cfg := config.Defaults()
	gitRoot := setupRepo(t, 1)
	s := newScheduler(t, cfg, gitRoot)

	require.Equal(t, "", s.loadMarker())
	s.saveMarker("deadbeef")
	require.Equal(t, "deadbeef", s.loadMarker())
}
