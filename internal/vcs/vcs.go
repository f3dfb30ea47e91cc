// Package vcs is the single subprocess choke point for git: every call site
// that used to shell out ad hoc is collapsed into one runner.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ai-framework/daemon/internal/errkind"
	"github.com/ai-framework/daemon/internal/retry"
)

// Error wraps a non-zero git exit with its command and combined output.
type Error struct {
	Args   []string
	Output string
	Cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("git %s: %v (%s)", strings.Join(e.Args, " "), e.Cause, strings.TrimSpace(e.Output))
}

func (e *Error) Unwrap() error { return e.Cause }

// Repo runs git subprocesses rooted at Dir. All git invocations in the
// daemon go through Repo.run so retry, timeout, and error wrapping stay in
// one place.
type Repo struct {
	Dir string
}

func New(dir string) *Repo { return &Repo{Dir: dir} }

// RunRaw runs an arbitrary git subcommand through the same choke point as
// every other Repo method, for callers (e.g. internal/worktree) that need
// git plumbing this package doesn't wrap directly.
func (r *Repo) RunRaw(ctx context.Context, args ...string) (string, error) {
	return r.run(ctx, args...)
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	const gitTimeout = 30 * time.Second
	return retry.Do(ctx, retry.DefaultPolicy(), isLockContention, func() (string, error) {
		runCtx, cancel := context.WithTimeout(ctx, gitTimeout)
		defer cancel()
		cmd := exec.CommandContext(runCtx, "git", args...)
		cmd.Dir = r.Dir
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			if ctx.Err() == nil && runCtx.Err() == context.DeadlineExceeded {
				return "", errkind.Wrap(errkind.Timeout, &Error{Args: args, Output: out.String(), Cause: err}, "git command timed out after %s", gitTimeout)
			}
			return "", errkind.Wrap(errkind.Vcs, &Error{Args: args, Output: out.String(), Cause: err}, "git command failed")
		}
		return out.String(), nil
	})
}

// isLockContention reports whether err looks like git's "index.lock exists"
// failure, which another concurrent git process will clear shortly — worth
// a bounded retry, unlike a genuine merge conflict or bad ref.
func isLockContention(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "index.lock") || strings.Contains(err.Error(), "Unable to create")
}

// CurrentHead returns the current commit sha.
func (r *Repo) CurrentHead(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// IsDirty reports whether the worktree has uncommitted changes.
func (r *Repo) IsDirty(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// ChangedFiles returns the set of files touched since the given ref.
func (r *Repo) ChangedFiles(ctx context.Context, since string) ([]string, error) {
	out, err := r.run(ctx, "diff", "--name-only", since+"..HEAD")
	if err != nil {
		return nil, err
	}
	return splitNonEmpty(out), nil
}

// Commit is one entry in Log's result.
type Commit struct {
	Hash    string
	Message string
	Author  string
	Date    time.Time
}

// Log returns up to max commits since the given ref, newest first.
func (r *Repo) Log(ctx context.Context, since string, max int) ([]Commit, error) {
	args := []string{"log", "--pretty=format:%H|%s|%an|%aI", "--no-merges"}
	if since != "" {
		args = append(args, since+"..HEAD")
	}
	if max > 0 {
		args = append(args, "-n", strconv.Itoa(max))
	}
	out, err := r.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var commits []Commit
	for _, line := range splitNonEmpty(out) {
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		date, perr := time.Parse(time.RFC3339, parts[3])
		if perr != nil {
			continue
		}
		commits = append(commits, Commit{Hash: parts[0], Message: parts[1], Author: parts[2], Date: date})
	}
	return commits, nil
}

// Hunk is one contiguous changed region within a file at a given commit.
type Hunk struct {
	FilePath string
	Header   string
	Body     string
}

// DiffHunks returns the per-file unified diff hunks introduced by sha,
// parsed from `git show`.
func (r *Repo) DiffHunks(ctx context.Context, sha string) ([]Hunk, error) {
	out, err := r.run(ctx, "show", "--unified=3", "--pretty=format:", sha)
	if err != nil {
		return nil, err
	}
	return parseHunks(out), nil
}

func parseHunks(diff string) []Hunk {
	var hunks []Hunk
	var currentFile string
	var cur *Hunk
	var body strings.Builder

	flush := func() {
		if cur != nil {
			cur.Body = body.String()
			hunks = append(hunks, *cur)
		}
		body.Reset()
	}

	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ b/"):
			currentFile = strings.TrimPrefix(line, "+++ b/")
		case strings.HasPrefix(line, "@@"):
			flush()
			cur = &Hunk{FilePath: currentFile, Header: line}
		default:
			if cur != nil {
				body.WriteString(line)
				body.WriteString("\n")
			}
		}
	}
	flush()
	return hunks
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
