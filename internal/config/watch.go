package config

import (
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// ImmutableFields holds the data directory and bind address, which come
// from command-line flags rather than Config. ValidateReload does not
// consult it; the only Config field it refuses to change is project.root.
type ImmutableFields struct {
	DataDir string
	Bind    string
}

// ValidateReload rejects a reload that changes a field that requires a
// process restart to take effect safely.
func ValidateReload(oldCfg, newCfg *Config) error {
	if oldCfg == nil || newCfg == nil {
		return fmt.Errorf("invalid config state during reload")
	}
	if oldCfg.Project.Root != newCfg.Project.Root {
		return fmt.Errorf("project.root changed (%q -> %q) and requires restart", oldCfg.Project.Root, newCfg.Project.Root)
	}
	return nil
}

// Watch starts an fsnotify watcher on path and calls mgr.Reload whenever the
// file is written, validating the reload with ValidateReload first. It runs
// until stop is closed. Failures reloading are logged and the prior config
// is kept in place: errors here never crash the daemon.
func Watch(path string, mgr ConfigManager, logger *slog.Logger, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				before := mgr.Get()
				after, err := Load(path)
				if err != nil {
					logger.Warn("config reload failed, keeping previous config", "path", path, "error", err)
					continue
				}
				if err := ValidateReload(before, after); err != nil {
					logger.Warn("config reload rejected", "path", path, "error", err)
					continue
				}
				mgr.Set(after)
				logger.Info("config reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
