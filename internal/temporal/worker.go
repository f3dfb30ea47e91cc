package temporal

import (
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/ai-framework/daemon/internal/learning"
	"github.com/ai-framework/daemon/internal/orchestrate"
	"github.com/ai-framework/daemon/internal/vcs"
)

// TaskQueue is the Temporal task queue the daemon's worker polls.
const TaskQueue = "ai-framework-spec-queue"

// StartWorker connects to a local Temporal server and runs SpecWorkflow's
// worker loop. orch and learn back the workflow's activities; repo is the
// git repository being orchestrated.
func StartWorker(orch *orchestrate.Store, learn *learning.Store, repo *vcs.Repo, gitRoot string) error {
	c, err := client.Dial(client.Options{
		HostPort: "127.0.0.1:7233",
	})
	if err != nil {
		return err
	}
	defer c.Close()

	w := worker.New(c, TaskQueue, worker.Options{})

	acts := &Activities{Orch: orch, Learn: learn, Repo: repo, GitRoot: gitRoot}

	w.RegisterWorkflow(SpecWorkflow)

	w.RegisterActivity(acts.ApprovePlanActivity)
	w.RegisterActivity(acts.StartTaskActivity)
	w.RegisterActivity(acts.CompleteTaskActivity)
	w.RegisterActivity(acts.StartVerifyActivity)
	w.RegisterActivity(acts.SubmitVerdictActivity)
	w.RegisterActivity(acts.ResolveVerifyActivity)
	w.RegisterActivity(acts.ReenterImplementingActivity)
	w.RegisterActivity(acts.CompleteActivity)
	w.RegisterActivity(acts.AbortActivity)
	w.RegisterActivity(acts.MineProposalsActivity)

	log.Println("Temporal worker started on", TaskQueue)
	return w.Run(worker.InterruptCh())
}
