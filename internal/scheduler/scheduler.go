// Package scheduler runs the daemon's periodic background triggers —
// commit-cadence pattern mining, governance re-crawling and the stuck-spec
// sweep — on cron expressions rather than a bare ticker. The expressions
// are fixed constants in this package.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ai-framework/daemon/internal/config"
	"github.com/ai-framework/daemon/internal/governance"
	"github.com/ai-framework/daemon/internal/learning"
	"github.com/ai-framework/daemon/internal/mining"
	"github.com/ai-framework/daemon/internal/orchestrate"
	"github.com/ai-framework/daemon/internal/vcs"
)

// CommitObserverSchedule, GovernanceRecrawlSchedule and StuckSpecSchedule
// are the cron expressions for the three background jobs. None is exposed
// as a config field; they're fixed cadences, distinct from the per-tick
// commits_per_trigger threshold evaluated inside the commit observer.
const (
	CommitObserverSchedule    = "@every 10m"
	GovernanceRecrawlSchedule = "@every 1h"
	StuckSpecSchedule         = "@every 15m"
)

// Scheduler owns the cron jobs that drive the learning pipeline's
// commit-cadence trigger and the governance index's re-crawl.
type Scheduler struct {
	cfgMgr     config.ConfigManager
	repo       *vcs.Repo
	learn      *learning.Store
	gov        *governance.Store
	govRoots   []governance.Root
	orch       *orchestrate.Store
	gitRoot    string
	markerPath string
	logger     *slog.Logger

	cron *cron.Cron
}

// New builds a Scheduler. markerPath is where the last-mined commit sha is
// persisted between runs; govRoots is the set of directories the
// governance re-crawl job indexes (empty disables that job). orch may be
// nil, which disables the stuck-spec sweep.
func New(cfgMgr config.ConfigManager, repo *vcs.Repo, learn *learning.Store, gov *governance.Store, govRoots []governance.Root, orch *orchestrate.Store, gitRoot, markerPath string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfgMgr:     cfgMgr,
		repo:       repo,
		learn:      learn,
		gov:        gov,
		govRoots:   govRoots,
		orch:       orch,
		gitRoot:    gitRoot,
		markerPath: markerPath,
		logger:     logger,
	}
}

// Start registers the cron jobs and runs until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc(CommitObserverSchedule, func() { s.commitObserverTick(ctx) }); err != nil {
		return err
	}
	if len(s.govRoots) > 0 {
		if _, err := s.cron.AddFunc(GovernanceRecrawlSchedule, func() { s.governanceRecrawlTick(ctx) }); err != nil {
			return err
		}
	}
	if s.orch != nil {
		if _, err := s.cron.AddFunc(StuckSpecSchedule, func() { s.stuckSpecTick(ctx) }); err != nil {
			return err
		}
	}

	s.logger.Info("scheduler started", "commit_observer", CommitObserverSchedule, "governance_recrawl_enabled", len(s.govRoots) > 0)
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// commitObserverTick mines for new patterns once at least
// Learning.CommitsPerTrigger commits have landed since the last mined sha.
func (s *Scheduler) commitObserverTick(ctx context.Context) {
	cfg := s.cfgMgr.Get()
	if !cfg.Learning.GlobalEnabled {
		return
	}

	last := s.loadMarker()
	commits, err := s.repo.Log(ctx, last, 0)
	if err != nil {
		s.logger.Warn("scheduler: commit log failed", "error", err)
		return
	}
	if len(commits) < cfg.Learning.CommitsPerTrigger {
		return
	}

	head, err := s.repo.CurrentHead(ctx)
	if err != nil {
		s.logger.Warn("scheduler: resolving HEAD failed", "error", err)
		return
	}

	result, err := mining.Run(ctx, s.repo, s.gitRoot, s.learn, last, time.Now().UTC())
	if err != nil {
		s.logger.Warn("scheduler: mining pass failed", "error", err)
		return
	}
	s.logger.Info("scheduler: mining pass complete", "commits_observed", len(commits), "proposals_saved", result.ProposalsSaved)
	s.saveMarker(head)
}

func (s *Scheduler) governanceRecrawlTick(ctx context.Context) {
	cfg := s.cfgMgr.Get()
	if !cfg.Retrieval.GovernanceEnabled {
		return
	}
	n, err := s.gov.Reindex(ctx, s.govRoots)
	if err != nil {
		s.logger.Warn("scheduler: governance re-crawl failed", "error", err)
		return
	}
	s.logger.Info("scheduler: governance re-crawl complete", "files_indexed", n)
}

// stuckSpecTick logs every busy spec that has sat past the staleness
// horizon without advancing. It never aborts a spec itself — an operator
// or a later explicit Abort call decides that.
func (s *Scheduler) stuckSpecTick(ctx context.Context) {
	stuck, err := s.orch.StuckSpecs(time.Now().UTC(), orchestrate.StaleBusyHorizon)
	if err != nil {
		s.logger.Warn("scheduler: stuck-spec sweep failed", "error", err)
		return
	}
	for _, sp := range stuck {
		s.logger.Warn("scheduler: spec appears stuck", "slug", sp.Slug, "phase", sp.Phase, "idle", sp.Idle.String(), "updated_at", sp.UpdatedAt)
	}
}

func (s *Scheduler) loadMarker() string {
	data, err := os.ReadFile(s.markerPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (s *Scheduler) saveMarker(sha string) {
	if err := os.WriteFile(s.markerPath, []byte(sha), 0o644); err != nil {
		s.logger.Warn("scheduler: persisting commit marker failed", "error", err, "sha", sha)
	}
}
