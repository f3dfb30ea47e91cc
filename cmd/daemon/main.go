// Command daemon runs the developer-assistance daemon: memory, retrieval,
// learning, and spec-driven orchestration, exposed over a local HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ai-framework/daemon/internal/analytics"
	"github.com/ai-framework/daemon/internal/coderetrieval"
	"github.com/ai-framework/daemon/internal/config"
	"github.com/ai-framework/daemon/internal/governance"
	"github.com/ai-framework/daemon/internal/health"
	"github.com/ai-framework/daemon/internal/httpapi"
	"github.com/ai-framework/daemon/internal/learning"
	"github.com/ai-framework/daemon/internal/memory"
	"github.com/ai-framework/daemon/internal/orchestrate"
	"github.com/ai-framework/daemon/internal/retrieve"
	"github.com/ai-framework/daemon/internal/scheduler"
	"github.com/ai-framework/daemon/internal/temporal"
	"github.com/ai-framework/daemon/internal/vcs"
	"github.com/ai-framework/daemon/internal/worktree"
)

func main() {
	var (
		configPath     = flag.String("config", "~/.ai-framework.json", "path to the project config file")
		addr           = flag.String("addr", "127.0.0.1:7420", "HTTP API bind address")
		dev            = flag.Bool("dev", false, "use human-readable text logging instead of JSON")
		dataDirFlag    = flag.String("data-dir", "", "override the daemon's data directory (defaults to "+config.DefaultDataDir+")")
		governanceDirs multiFlag
	)
	flag.Var(&governanceDirs, "governance-dir", "directory to index as governance docs (repeatable)")
	flag.Parse()

	logger := configureLogger(*dev)

	expandedConfigPath := config.ExpandHome(*configPath)
	cfg, err := config.Load(expandedConfigPath)
	if err != nil {
		logger.Warn("no usable config file, starting from defaults", "path", expandedConfigPath, "error", err)
		cfg = config.Defaults()
	}
	cfgMgr := config.NewManager(cfg)

	dataDir := config.DataDir(*dataDirFlag)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logger.Error("cannot create data directory", "dir", dataDir, "error", err)
		os.Exit(1)
	}

	lockPath := filepath.Join(dataDir, "daemon.lock")
	instanceLock, err := health.AcquireSingleInstance(lockPath, logger)
	if err != nil {
		logger.Error("failed to acquire single-instance lock", "error", err)
		os.Exit(1)
	}
	defer instanceLock.Release()

	gitRoot := cfg.Project.Root
	if gitRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			logger.Error("cannot determine working directory", "error", err)
			os.Exit(1)
		}
		gitRoot = wd
	}

	mem, err := memory.Open(filepath.Join(dataDir, "memory.db"))
	if err != nil {
		logger.Error("failed to open memory store", "error", err)
		os.Exit(1)
	}
	defer mem.Close()

	gov, err := governance.Open(filepath.Join(dataDir, "governance.db"))
	if err != nil {
		logger.Error("failed to open governance store", "error", err)
		os.Exit(1)
	}
	defer gov.Close()

	govRoots := make([]governance.Root, 0, len(governanceDirs))
	for _, dir := range governanceDirs {
		govRoots = append(govRoots, governance.Root{Dir: dir, DocType: governance.DocProject})
	}
	if cfg.Retrieval.GovernanceEnabled && len(govRoots) > 0 {
		n, err := gov.Reindex(context.Background(), govRoots)
		if err != nil {
			logger.Warn("initial governance reindex failed", "error", err)
		} else {
			logger.Info("governance reindex complete", "files", n)
		}
	}

	learn, err := learning.Open(filepath.Join(dataDir, "learning.db"))
	if err != nil {
		logger.Error("failed to open learning store", "error", err)
		os.Exit(1)
	}
	defer learn.Close()

	an, err := analytics.Open(filepath.Join(dataDir, "analytics.db"))
	if err != nil {
		logger.Error("failed to open analytics store", "error", err)
		os.Exit(1)
	}
	defer an.Close()

	var codeAdapter *coderetrieval.Adapter
	if cfg.Retrieval.CodeEnabled && cfg.Retrieval.CodeBinary != "" {
		codeAdapter = coderetrieval.New(cfg.Retrieval.CodeBinary, gitRoot)
	}
	retriever := retrieve.New(codeAdapter, gov)

	repo := vcs.New(gitRoot)
	wt := worktree.New(gitRoot, filepath.Join(dataDir, "worktrees"))
	orch := orchestrate.NewStore(filepath.Join(dataDir, "specs"), wt)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := temporal.StartWorker(orch, learn, repo, gitRoot); err != nil {
			logger.Error("temporal worker stopped", "error", err)
		}
	}()

	apiSrv := &httpapi.Server{
		Memory:    mem,
		Retriever: retriever,
		Learning:  learn,
		Analytics: an,
		Orch:      orch,
		CfgMgr:    cfgMgr,
		GitRoot:   gitRoot,
		Logger:    logger,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiSrv.Start(ctx, *addr); err != nil {
			logger.Error("http api server stopped", "error", err)
		}
	}()

	stopWatch := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := config.Watch(expandedConfigPath, cfgMgr, logger, stopWatch); err != nil {
			logger.Warn("config watcher stopped", "error", err)
		}
	}()

	sched := scheduler.New(cfgMgr, repo, learn, gov, govRoots, orch, gitRoot, filepath.Join(dataDir, "commit-marker"), logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Start(ctx); err != nil {
			logger.Warn("scheduler stopped", "error", err)
		}
	}()

	logger.Info("daemon started", "addr", *addr, "data_dir", dataDir, "git_root", gitRoot)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			logger.Info("reloading config", "path", expandedConfigPath)
			if err := cfgMgr.Reload(expandedConfigPath); err != nil {
				logger.Warn("config reload failed, keeping prior config", "error", err)
			}
		case syscall.SIGINT, syscall.SIGTERM:
			logger.Info("shutting down", "signal", sig.String())
			start := time.Now()
			close(stopWatch)
			cancel()
			wg.Wait()
			logger.Info("shutdown complete", "duration", time.Since(start))
			return
		}
	}
}

func configureLogger(dev bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if dev {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// multiFlag collects repeated -governance-dir flags into a slice.
type multiFlag []string

func (m *multiFlag) String() string { return fmt.Sprintf("%v", []string(*m)) }
func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}
