package temporal

import (
	"context"
	"time"

	"github.com/ai-framework/daemon/internal/learning"
	"github.com/ai-framework/daemon/internal/mining"
	"github.com/ai-framework/daemon/internal/orchestrate"
	"github.com/ai-framework/daemon/internal/review"
	"github.com/ai-framework/daemon/internal/vcs"
)

// Activities holds the non-deterministic side-effecting dependencies the
// spec workflow delegates to: the pure FSM store (file I/O + worktree git
// commands), the repo under orchestration, and the learning pipeline that
// mines the completed spec's diff for reusable patterns.
type Activities struct {
	Orch    *orchestrate.Store
	Learn   *learning.Store
	Repo    *vcs.Repo
	GitRoot string
}

func (a *Activities) ApprovePlanActivity(ctx context.Context, slug string, totalTasks int) (orchestrate.SpecState, error) {
	return a.Orch.ApprovePlan(slug, totalTasks)
}

func (a *Activities) StartTaskActivity(ctx context.Context, slug string, n int) (orchestrate.SpecState, error) {
	return a.Orch.StartTask(slug, n)
}

func (a *Activities) CompleteTaskActivity(ctx context.Context, slug string, n int) (orchestrate.SpecState, error) {
	return a.Orch.CompleteTask(slug, n)
}

func (a *Activities) StartVerifyActivity(ctx context.Context, slug string) (orchestrate.SpecState, error) {
	return a.Orch.StartVerify(slug)
}

func (a *Activities) SubmitVerdictActivity(ctx context.Context, slug string, v review.ReviewVerdict) (orchestrate.SpecState, error) {
	return a.Orch.SubmitVerdict(slug, v)
}

func (a *Activities) ResolveVerifyActivity(ctx context.Context, slug string) (orchestrate.SpecState, error) {
	return a.Orch.ResolveVerify(slug)
}

func (a *Activities) ReenterImplementingActivity(ctx context.Context, slug string) (orchestrate.SpecState, error) {
	return a.Orch.ReenterImplementing(slug)
}

func (a *Activities) CompleteActivity(ctx context.Context, slug string) (orchestrate.SpecState, error) {
	return a.Orch.Complete(slug)
}

func (a *Activities) AbortActivity(ctx context.Context, slug, reason string) (orchestrate.SpecState, error) {
	return a.Orch.Abort(slug, reason)
}

// MineProposalsResult reports how many proposals the learning pipeline
// produced from the orchestrated repo's changed files, for workflow-side
// logging.
type MineProposalsResult struct {
	ProposalsSaved int
}

// MineProposalsActivity runs during the learning phase: it mines a.Repo's
// changes since baseRef for reusable patterns and saves any surviving
// proposals to the learning store. Governance artifacts are written only
// when a proposal is later accepted.
func (a *Activities) MineProposalsActivity(ctx context.Context, slug, baseRef string) (MineProposalsResult, error) {
	result, err := mining.Run(ctx, a.Repo, a.GitRoot, a.Learn, baseRef, time.Now().UTC())
	if err != nil {
		return MineProposalsResult{}, err
	}
	return MineProposalsResult{ProposalsSaved: result.ProposalsSaved}, nil
}
