package temporal

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/ai-framework/daemon/internal/orchestrate"
	"github.com/ai-framework/daemon/internal/review"
)

func TestSpecWorkflowHappyPath(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	var a *Activities

	env.OnActivity(a.ApprovePlanActivity, mock.Anything, "widget", 2).Return(
		orchestrate.SpecState{Slug: "widget", Phase: orchestrate.Implementing, TotalTasks: 2}, nil)
	env.OnActivity(a.CompleteTaskActivity, mock.Anything, "widget", 1).Return(
		orchestrate.SpecState{Slug: "widget", Phase: orchestrate.Implementing, TotalTasks: 2, CompletedTasks: 1}, nil)
	env.OnActivity(a.CompleteTaskActivity, mock.Anything, "widget", 2).Return(
		orchestrate.SpecState{Slug: "widget", Phase: orchestrate.Implementing, TotalTasks: 2, CompletedTasks: 2}, nil)
	env.OnActivity(a.StartVerifyActivity, mock.Anything, "widget").Return(
		orchestrate.SpecState{Slug: "widget", Phase: orchestrate.Verifying, TotalTasks: 2, CompletedTasks: 2}, nil)
	env.OnActivity(a.SubmitVerdictActivity, mock.Anything, "widget", mock.Anything).Return(
		orchestrate.SpecState{Slug: "widget", Phase: orchestrate.Verifying, TotalTasks: 2, CompletedTasks: 2}, nil)
	env.OnActivity(a.ResolveVerifyActivity, mock.Anything, "widget").Return(
		orchestrate.SpecState{Slug: "widget", Phase: orchestrate.Learning, TotalTasks: 2, CompletedTasks: 2}, nil)
	env.OnActivity(a.MineProposalsActivity, mock.Anything, "widget", mock.Anything).Return(
		MineProposalsResult{ProposalsSaved: 1}, nil)
	env.OnActivity(a.CompleteActivity, mock.Anything, "widget").Return(
		orchestrate.SpecState{Slug: "widget", Phase: orchestrate.Done, TotalTasks: 2, CompletedTasks: 2}, nil)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow("plan-approval", PlanApprovalSignal{Approved: true, TotalTasks: 2})
	}, 0)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow("task-complete", TaskSignal{TaskNumber: 1})
	}, 0)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow("task-complete", TaskSignal{TaskNumber: 2})
	}, 0)
	for i := 0; i < ExpectedReviewers; i++ {
		env.RegisterDelayedCallback(func() {
			env.SignalWorkflow("review-verdict", VerdictSignal{Verdict: review.ReviewVerdict{ReviewerID: "r", Verdict: review.Pass}})
		}, 0)
	}

	env.ExecuteWorkflow(SpecWorkflow, SpecWorkflowRequest{Slug: "widget", TotalTasks: 2})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
}

func TestSpecWorkflowRejectedPlanAborts(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	var a *Activities

	env.OnActivity(a.AbortActivity, mock.Anything, "widget", "plan_rejected").Return(
		orchestrate.SpecState{Slug: "widget", Phase: orchestrate.Aborted, AbortReason: "plan_rejected"}, nil)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow("plan-approval", PlanApprovalSignal{Approved: false})
	}, 0)

	env.ExecuteWorkflow(SpecWorkflow, SpecWorkflowRequest{Slug: "widget", TotalTasks: 1})

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
}

func TestSpecWorkflowFixLoopReentersImplementing(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	var a *Activities

	env.OnActivity(a.ApprovePlanActivity, mock.Anything, "flaky", 1).Return(
		orchestrate.SpecState{Slug: "flaky", Phase: orchestrate.Implementing, TotalTasks: 1}, nil)
	env.OnActivity(a.CompleteTaskActivity, mock.Anything, "flaky", 1).Return(
		orchestrate.SpecState{Slug: "flaky", Phase: orchestrate.Implementing, TotalTasks: 1, CompletedTasks: 1}, nil).Once()

	firstVerify := orchestrate.SpecState{Slug: "flaky", Phase: orchestrate.Verifying, TotalTasks: 1, CompletedTasks: 1}
	env.OnActivity(a.StartVerifyActivity, mock.Anything, "flaky").Return(firstVerify, nil)
	env.OnActivity(a.SubmitVerdictActivity, mock.Anything, "flaky", mock.Anything).Return(firstVerify, nil)

	env.OnActivity(a.ResolveVerifyActivity, mock.Anything, "flaky").Return(
		orchestrate.SpecState{Slug: "flaky", Phase: orchestrate.Fixing, TotalTasks: 1, CompletedTasks: 1, ReviewIteration: 1}, nil).Once()
	env.OnActivity(a.ReenterImplementingActivity, mock.Anything, "flaky").Return(
		orchestrate.SpecState{Slug: "flaky", Phase: orchestrate.Implementing, TotalTasks: 1, CompletedTasks: 1, ReviewIteration: 1}, nil)
	env.OnActivity(a.CompleteTaskActivity, mock.Anything, "flaky", 1).Return(
		orchestrate.SpecState{Slug: "flaky", Phase: orchestrate.Implementing, TotalTasks: 1, CompletedTasks: 1, ReviewIteration: 1}, nil).Once()
	env.OnActivity(a.ResolveVerifyActivity, mock.Anything, "flaky").Return(
		orchestrate.SpecState{Slug: "flaky", Phase: orchestrate.Learning, TotalTasks: 1, CompletedTasks: 1, ReviewIteration: 1}, nil).Once()
	env.OnActivity(a.MineProposalsActivity, mock.Anything, "flaky", mock.Anything).Return(MineProposalsResult{}, nil)
	env.OnActivity(a.CompleteActivity, mock.Anything, "flaky").Return(
		orchestrate.SpecState{Slug: "flaky", Phase: orchestrate.Done, TotalTasks: 1, CompletedTasks: 1}, nil)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow("plan-approval", PlanApprovalSignal{Approved: true, TotalTasks: 1})
	}, 0)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow("task-complete", TaskSignal{TaskNumber: 1})
	}, 0)
	for i := 0; i < ExpectedReviewers; i++ {
		env.RegisterDelayedCallback(func() {
			env.SignalWorkflow("review-verdict", VerdictSignal{Verdict: review.ReviewVerdict{ReviewerID: "r", Verdict: review.Fail}})
		}, 0)
	}
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow("task-complete", TaskSignal{TaskNumber: 1})
	}, 0)
	for i := 0; i < ExpectedReviewers; i++ {
		env.RegisterDelayedCallback(func() {
			env.SignalWorkflow("review-verdict", VerdictSignal{Verdict: review.ReviewVerdict{ReviewerID: "r", Verdict: review.Pass}})
		}, 0)
	}

	env.ExecuteWorkflow(SpecWorkflow, SpecWorkflowRequest{Slug: "flaky", TotalTasks: 1})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}
