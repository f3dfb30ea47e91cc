// Package worktree manages isolated git worktrees for spec-driven
// orchestration, routed through the single vcs.Repo choke point instead of
// ad hoc exec.Command call sites.
package worktree

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ai-framework/daemon/internal/errkind"
	"github.com/ai-framework/daemon/internal/vcs"
)

// Info describes a spec's worktree.
type Info struct {
	Slug        string
	BranchName  string
	Path        string
	BaseCommit  string
	CreatedAt   time.Time
	LastSyncAt  time.Time
}

// Manager creates and lifecycle-manages spec worktrees under a root repo.
type Manager struct {
	repo        *vcs.Repo
	worktreeDir string // parent directory holding all spec worktrees
}

func New(repoDir, worktreeDir string) *Manager {
	return &Manager{repo: vcs.New(repoDir), worktreeDir: worktreeDir}
}

func branchName(slug string) string { return "spec/" + slug }

// pathFor builds the spec's worktree path: exactly one worktree per
// (slug, sha8), with the path fully derivable from those two attributes.
func (m *Manager) pathFor(slug, sha8 string) string {
	return filepath.Join(m.worktreeDir, fmt.Sprintf("spec-%s-%s", slug, sha8))
}

// Detect reports whether a worktree already exists for (slug, sha8).
func (m *Manager) Detect(ctx context.Context, slug, sha8 string) (bool, error) {
	out, err := m.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return false, err
	}
	path := m.pathFor(slug, sha8)
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "worktree ") && strings.TrimPrefix(line, "worktree ") == path {
			return true, nil
		}
	}
	return false, nil
}

// Create stashes any dirty base-repo state, adds a new worktree on branch
// spec/<slug>, and copies assistant configuration into it. Idempotent:
// calling Create twice with the same (slug, sha8) returns the existing
// worktree rather than erroring, since identical plan contents fingerprint
// to the identical path.
func (m *Manager) Create(ctx context.Context, slug, sha8 string) (Info, error) {
	path := m.pathFor(slug, sha8)
	branch := branchName(slug)

	exists, err := m.Detect(ctx, slug, sha8)
	if err != nil {
		return Info{}, err
	}
	if exists {
		return m.existingInfo(ctx, slug, path, branch)
	}

	dirty, err := m.repo.IsDirty(ctx)
	if err != nil {
		return Info{}, err
	}
	if dirty {
		// The assistant config stays out of the stash so it can be copied below.
		if _, err := m.run(ctx, "stash", "push", "-u", "-m", "worktree-create:"+slug, "--", ".", ":(exclude).claude", ":(exclude).mcp.json"); err != nil {
			return Info{}, err
		}
	}

	base, err := m.repo.CurrentHead(ctx)
	if err != nil {
		return Info{}, err
	}

	if _, err := m.run(ctx, "worktree", "add", "-b", branch, path, base); err != nil {
		return Info{}, err
	}

	if err := copyAssistantConfig(m.repo.Dir, path); err != nil {
		return Info{}, errkind.Wrap(errkind.Internal, err, "copy assistant config into worktree")
	}

	now := time.Now().UTC()
	return Info{Slug: slug, BranchName: branch, Path: path, BaseCommit: base, CreatedAt: now, LastSyncAt: now}, nil
}

// existingInfo reconstructs Info for a worktree that was already created.
// BaseCommit is recovered as the merge-base of the spec branch against the
// base repo's current HEAD: since the branch forked from that commit and
// the base branch only fast-forwards, the common ancestor is the original
// fork point regardless of how far HEAD has since advanced.
func (m *Manager) existingInfo(ctx context.Context, slug, path, branch string) (Info, error) {
	base, err := m.run(ctx, "merge-base", branch, "HEAD")
	if err != nil {
		return Info{}, err
	}
	createdAt := time.Now().UTC()
	if info, statErr := os.Stat(path); statErr == nil {
		createdAt = info.ModTime().UTC()
	}
	return Info{
		Slug:       slug,
		BranchName: branch,
		Path:       path,
		BaseCommit: strings.TrimSpace(base),
		CreatedAt:  createdAt,
		LastSyncAt: createdAt,
	}, nil
}

// Diff returns the unified diff of the worktree's branch against its base.
func (m *Manager) Diff(ctx context.Context, slug, sha8, baseCommit string) (string, error) {
	wt := vcs.New(m.pathFor(slug, sha8))
	out, err := wt.RunRaw(ctx, "diff", baseCommit+"..HEAD")
	if err != nil {
		return "", err
	}
	return out, nil
}

// Sync stashes-if-dirty the base repo, then squash-merges the worktree
// branch into it without committing, so the caller can review before
// finalizing.
func (m *Manager) Sync(ctx context.Context, slug, sha8 string) (string, error) {
	dirty, err := m.repo.IsDirty(ctx)
	if err != nil {
		return "", err
	}
	if dirty {
		if _, err := m.run(ctx, "stash", "push", "-u", "-m", "worktree-sync:"+slug); err != nil {
			return "", err
		}
	}

	branch := branchName(slug)
	out, err := m.run(ctx, "merge", "--squash", "--stat", "--no-commit", branch)
	if err != nil {
		return "", err
	}
	return out, nil
}

// Cleanup removes the worktree and deletes its branch. Idempotent: calling
// Cleanup on an already-removed slug is not an error.
func (m *Manager) Cleanup(ctx context.Context, slug, sha8 string) error {
	exists, err := m.Detect(ctx, slug, sha8)
	if err != nil {
		return err
	}
	if exists {
		if _, err := m.run(ctx, "worktree", "remove", "--force", m.pathFor(slug, sha8)); err != nil {
			return err
		}
	}

	branch := branchName(slug)
	if _, err := m.run(ctx, "branch", "-D", branch); err != nil {
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "branch name") {
			return nil
		}
		return err
	}
	return nil
}

// Status reports whether the worktree path exists on disk, regardless of
// git's own bookkeeping (used to detect manually-deleted worktrees).
func (m *Manager) Status(slug, sha8 string) (present bool, path string) {
	path = m.pathFor(slug, sha8)
	_, err := os.Stat(path)
	return err == nil, path
}

func (m *Manager) run(ctx context.Context, args ...string) (string, error) {
	return m.repo.RunRaw(ctx, args...)
}

// copyAssistantConfig copies .claude/ and MCP configuration files from the
// base repo into the new worktree so assistant tooling behaves identically
// there.
func copyAssistantConfig(srcRoot, dstRoot string) error {
	candidates := []string{".claude", ".mcp.json"}
	for _, name := range candidates {
		src := filepath.Join(srcRoot, name)
		info, err := os.Stat(src)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		dst := filepath.Join(dstRoot, name)
		if info.IsDir() {
			if err := copyDir(src, dst); err != nil {
				return err
			}
		} else {
			if err := copyFile(src, dst); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
