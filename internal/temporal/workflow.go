package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ai-framework/daemon/internal/orchestrate"
)

// SpecWorkflow durably drives one orchestration run through planning ->
// implementing -> verifying -> {learning | fixing} -> done. The pure
// orchestrate.Store does the actual phase bookkeeping and worktree
// sequencing as Activities; this workflow only sequences signals and
// activity calls so the lifecycle survives process restarts.
func SpecWorkflow(ctx workflow.Context, req SpecWorkflowRequest) error {
	logger := workflow.GetLogger(ctx)
	var a *Activities

	fastOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	}
	worktreeOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1}, // vcs errors are never auto-retried
	}
	learnOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}

	logger.Info("Phase: planning", "Slug", req.Slug)

	// Nothing enters the coding loop until the plan is approved.
	approvalCh := workflow.GetSignalChannel(ctx, "plan-approval")
	var approval PlanApprovalSignal
	approvalCh.Receive(ctx, &approval)

	if !approval.Approved {
		abortCtx := workflow.WithActivityOptions(ctx, fastOpts)
		_ = workflow.ExecuteActivity(abortCtx, a.AbortActivity, req.Slug, "plan_rejected").Get(ctx, nil)
		return fmt.Errorf("plan rejected for spec %q", req.Slug)
	}

	totalTasks := approval.TotalTasks
	if totalTasks <= 0 {
		totalTasks = req.TotalTasks
	}

	logger.Info("Phase: implementing", "Slug", req.Slug, "TotalTasks", totalTasks)
	approveCtx := workflow.WithActivityOptions(ctx, worktreeOpts)
	var st orchestrate.SpecState
	if err := workflow.ExecuteActivity(approveCtx, a.ApprovePlanActivity, req.Slug, totalTasks).Get(ctx, &st); err != nil {
		return fmt.Errorf("approve plan: %w", err)
	}

	taskCh := workflow.GetSignalChannel(ctx, "task-complete")
	for st.CompletedTasks < st.TotalTasks {
		var sig TaskSignal
		taskCh.Receive(ctx, &sig)

		taskCtx := workflow.WithActivityOptions(ctx, fastOpts)
		if err := workflow.ExecuteActivity(taskCtx, a.CompleteTaskActivity, req.Slug, sig.TaskNumber).Get(ctx, &st); err != nil {
			return fmt.Errorf("complete task %d: %w", sig.TaskNumber, err)
		}
		logger.Info("Task completed", "Slug", req.Slug, "Completed", st.CompletedTasks, "Total", st.TotalTasks)
	}

	for {
		logger.Info("Phase: verifying", "Slug", req.Slug, "Iteration", st.ReviewIteration)
		verifyCtx := workflow.WithActivityOptions(ctx, fastOpts)
		if err := workflow.ExecuteActivity(verifyCtx, a.StartVerifyActivity, req.Slug).Get(ctx, &st); err != nil {
			return fmt.Errorf("start verify: %w", err)
		}

		verdictCh := workflow.GetSignalChannel(ctx, "review-verdict")
		for i := 0; i < ExpectedReviewers; i++ {
			var sig VerdictSignal
			verdictCh.Receive(ctx, &sig)
			submitCtx := workflow.WithActivityOptions(ctx, fastOpts)
			if err := workflow.ExecuteActivity(submitCtx, a.SubmitVerdictActivity, req.Slug, sig.Verdict).Get(ctx, &st); err != nil {
				return fmt.Errorf("submit verdict: %w", err)
			}
		}

		resolveCtx := workflow.WithActivityOptions(ctx, worktreeOpts)
		if err := workflow.ExecuteActivity(resolveCtx, a.ResolveVerifyActivity, req.Slug).Get(ctx, &st); err != nil {
			return fmt.Errorf("resolve verify: %w", err)
		}

		verifyDone := false
		switch st.Phase {
		case orchestrate.Learning:
			logger.Info("Verify passed, entering learning", "Slug", req.Slug)
			verifyDone = true
		case orchestrate.Fixing:
			logger.Warn("Verify failed, re-entering implementing", "Slug", req.Slug, "Iteration", st.ReviewIteration)
			reenterCtx := workflow.WithActivityOptions(ctx, fastOpts)
			if err := workflow.ExecuteActivity(reenterCtx, a.ReenterImplementingActivity, req.Slug).Get(ctx, &st); err != nil {
				return fmt.Errorf("reenter implementing: %w", err)
			}
			fixTaskCh := workflow.GetSignalChannel(ctx, "task-complete")
			var sig TaskSignal
			fixTaskCh.Receive(ctx, &sig)
			fixCtx := workflow.WithActivityOptions(ctx, fastOpts)
			if err := workflow.ExecuteActivity(fixCtx, a.CompleteTaskActivity, req.Slug, sig.TaskNumber).Get(ctx, &st); err != nil {
				return fmt.Errorf("complete fix task: %w", err)
			}
			continue
		case orchestrate.Aborted:
			logger.Error("Spec aborted after exhausting review iterations", "Slug", req.Slug, "Reason", st.AbortReason)
			return fmt.Errorf("spec %q aborted: %s", req.Slug, st.AbortReason)
		}
		if verifyDone {
			break
		}
	}

	logger.Info("Phase: learning", "Slug", req.Slug)
	mineCtx := workflow.WithActivityOptions(ctx, learnOpts)
	var mined MineProposalsResult
	if err := workflow.ExecuteActivity(mineCtx, a.MineProposalsActivity, req.Slug, st.WorktreeBaseCommit).Get(ctx, &mined); err != nil {
		logger.Warn("Proposal mining failed (non-fatal)", "error", err)
	} else {
		logger.Info("Proposals mined", "Slug", req.Slug, "Saved", mined.ProposalsSaved)
	}

	completeCtx := workflow.WithActivityOptions(ctx, worktreeOpts)
	if err := workflow.ExecuteActivity(completeCtx, a.CompleteActivity, req.Slug).Get(ctx, &st); err != nil {
		return fmt.Errorf("complete: %w", err)
	}

	logger.Info("Spec done", "Slug", req.Slug)
	return nil
}
