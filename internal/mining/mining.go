// Package mining runs the pattern-detection pipeline over a repository's
// changed files: syntactic extraction, heuristic detection, and proposal
// generation. It is the one place that wires internal/vcs, internal/syntax,
// internal/heuristics, and internal/learning together, so both the
// orchestration workflow's learning phase and the background commit
// watcher drive identical logic.
package mining

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ai-framework/daemon/internal/heuristics"
	"github.com/ai-framework/daemon/internal/learning"
	"github.com/ai-framework/daemon/internal/syntax"
	"github.com/ai-framework/daemon/internal/vcs"
)

// Result reports how many proposals a mining pass produced.
type Result struct {
	ProposalsSaved int
}

// Run lists the files changed in baseRef..HEAD, reads their current
// contents from gitRoot, extracts syntactic shapes per changed file, runs the heuristic detectors, and saves any surviving
// proposals through learn.
func Run(ctx context.Context, repo *vcs.Repo, gitRoot string, learn *learning.Store, baseRef string, now time.Time) (Result, error) {
	changed, err := repo.ChangedFiles(ctx, baseRef)
	if err != nil {
		return Result{}, err
	}
	_ = learn.Log(ctx, "mining", "starting mining pass against %s: %d changed files", baseRef, len(changed))

	commits, err := repo.Log(ctx, baseRef, 50)
	if err != nil {
		return Result{}, err
	}
	latest := now
	if len(commits) > 0 {
		latest = commits[0].Date
	}

	var files []heuristics.FileObservation
	for _, rel := range changed {
		abs := filepath.Join(gitRoot, rel)
		content, err := os.ReadFile(abs)
		if err != nil {
			continue // file deleted or unreadable since the diff was taken; skip it
		}
		shapes := syntax.Extract(ctx, rel, content)
		files = append(files, heuristics.FileObservation{
			Path:       rel,
			Shapes:     shapes,
			RawContent: string(content),
			CommitDate: latest,
		})
	}

	siblingTestExists := func(path string) bool {
		_, err := os.Stat(testSiblingPath(gitRoot, path))
		return err == nil
	}
	hasDescriptor := func(dir string) bool {
		_, err := os.Stat(filepath.Join(gitRoot, dir, "README.md"))
		return err == nil
	}

	prior, err := learn.PriorDecisionsFromStore(ctx)
	if err != nil {
		prior = heuristics.PriorDecisions{}
	}
	cooldowns, err := learn.CooldownsFromStore(ctx)
	if err != nil {
		cooldowns = heuristics.Cooldowns{}
	}

	detections := heuristics.DetectAll(files, siblingTestExists, hasDescriptor)
	candidates := heuristics.Aggregate(detections, now, prior, cooldowns)
	candidates = heuristics.Filter(candidates, 3, nil, now)
	proposals := learning.Generate(candidates, now, 5)

	saved := 0
	for _, p := range proposals {
		if err := learn.Save(ctx, p); err != nil {
			continue
		}
		saved++
	}
	_ = learn.Log(ctx, "mining", "mining pass complete: %d candidates, %d proposals saved", len(candidates), saved)
	return Result{ProposalsSaved: saved}, nil
}

func testSiblingPath(gitRoot, path string) string {
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	return filepath.Join(gitRoot, base+"_test"+ext)
}
