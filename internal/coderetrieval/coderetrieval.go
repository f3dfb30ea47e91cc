// Package coderetrieval is a thin subprocess wrapper over an external
// semantic code-search binary, using a fixed argv builder rather than a
// provider/model matrix.
package coderetrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ai-framework/daemon/internal/errkind"
	"github.com/ai-framework/daemon/internal/retry"
	"github.com/ai-framework/daemon/internal/vcs"
)

// Status reports the external code-search backend's indexing state.
type Status struct {
	Available         bool
	LastIndexedCommit string
	TotalFiles        int
	Model             string
	LastIndexedAt     time.Time
	Stale             bool
}

// Hit is one ranked code search result.
type Hit struct {
	FilePath string  `json:"file_path"`
	Line     int     `json:"line"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
}

// Adapter shells out to an external code-search binary. Any failure to
// exec or a non-zero exit surfaces as errkind.BackendUnavailable, never a
// crash, so callers can treat it as "skip this backend".
type Adapter struct {
	BinaryPath string
	RepoDir    string
	repo       *vcs.Repo
}

func New(binaryPath, repoDir string) *Adapter {
	return &Adapter{BinaryPath: binaryPath, RepoDir: repoDir, repo: vcs.New(repoDir)}
}

type statusPayload struct {
	LastIndexedCommit string `json:"last_indexed_commit"`
	TotalFiles        int    `json:"total_files"`
	Model             string `json:"model"`
	LastIndexedAt     string `json:"last_indexed_at"`
}

// Status reports backend availability and derives staleness by diffing the
// working tree against last_indexed_commit: any tracked-file difference
// means stale.
func (a *Adapter) Status(ctx context.Context) (Status, error) {
	out, err := a.run(ctx, "status")
	if err != nil {
		return Status{Available: false}, nil
	}

	var payload statusPayload
	if jsonErr := json.Unmarshal(out, &payload); jsonErr != nil {
		return Status{Available: false}, nil
	}

	st := Status{
		Available:         true,
		LastIndexedCommit: payload.LastIndexedCommit,
		TotalFiles:        payload.TotalFiles,
		Model:             payload.Model,
	}
	if payload.LastIndexedAt != "" {
		if t, perr := time.Parse(time.RFC3339, payload.LastIndexedAt); perr == nil {
			st.LastIndexedAt = t
		}
	}

	if payload.LastIndexedCommit != "" {
		changed, cerr := a.repo.ChangedFiles(ctx, payload.LastIndexedCommit)
		if cerr == nil {
			st.Stale = len(changed) > 0
		}
	}
	return st, nil
}

// Search returns ranked hits, or errkind.BackendUnavailable if the binary
// is missing or exits non-zero.
func (a *Adapter) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	out, err := a.run(ctx, "search", "--query", query, "--top-k", fmt.Sprintf("%d", topK))
	if err != nil {
		return nil, errkind.Wrap(errkind.BackendUnavailable, err, "code search backend unavailable")
	}
	var hits []Hit
	if err := json.Unmarshal(out, &hits); err != nil {
		return nil, errkind.Wrap(errkind.BackendUnavailable, err, "code search backend returned malformed output")
	}
	return hits, nil
}

// Reindex invokes the binary's reindex operation, full or incremental.
func (a *Adapter) Reindex(ctx context.Context, full bool) error {
	args := []string{"reindex"}
	if full {
		args = append(args, "--full")
	}
	if _, err := a.run(ctx, args...); err != nil {
		return errkind.Wrap(errkind.BackendUnavailable, err, "code search reindex failed")
	}
	return nil
}

func (a *Adapter) run(ctx context.Context, args ...string) ([]byte, error) {
	if a.BinaryPath == "" {
		return nil, errkind.New(errkind.BackendUnavailable, "no code search binary configured")
	}

	policy := retry.DefaultPolicy()
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		out, err := a.execOnce(ctx, args)
		if err == nil || !isResourceBusy(err) || attempt == policy.MaxAttempts {
			return out, err
		}
		lastErr = err
		select {
		case <-time.After(retry.Delay(attempt, policy.BaseDelay, policy.MaxDelay)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (a *Adapter) execOnce(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, a.BinaryPath, args...)
	cmd.Dir = a.RepoDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// isResourceBusy reports whether err looks like a transient OS-level
// contention on the binary itself, worth a bounded retry.
func isResourceBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "resource busy") || strings.Contains(msg, "text file busy")
}
