package temporal

import "github.com/ai-framework/daemon/internal/review"

// SpecWorkflowRequest starts a durable spec lifecycle for one worktree slug.
type SpecWorkflowRequest struct {
	Slug       string `json:"slug"`
	PlanPath   string `json:"plan_path"`
	TotalTasks int    `json:"total_tasks"`
}

// TaskSignal marks a single implementation task complete. Sent to the
// workflow on the "task-complete" signal channel as tasks finish.
type TaskSignal struct {
	TaskNumber int `json:"task_number"`
}

// VerdictSignal carries one reviewer's verdict into the workflow on the
// "review-verdict" signal channel during the verifying phase.
type VerdictSignal struct {
	Verdict review.ReviewVerdict `json:"verdict"`
}

// PlanApprovalSignal gates the planning->implementing transition. Nothing
// enters the coding loop until a human (or an auto-approve policy) sends
// this on the "plan-approval" signal channel.
type PlanApprovalSignal struct {
	Approved   bool `json:"approved"`
	TotalTasks int  `json:"total_tasks"`
}

// ExpectedReviewers is the number of VerdictSignal deliveries the workflow
// waits for before resolving a verify phase.
const ExpectedReviewers = 2
