package health

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"
)

// SingleInstance holds the exclusive lock that keeps two daemon processes
// from sharing one data directory. The lock file also records the holding
// PID so `cat <data-dir>/daemon.lock` answers "who has this locked" without
// extra tooling.
type SingleInstance struct {
	f      *os.File
	Path   string
	Pid    int
	logger *slog.Logger
}

// AcquireSingleInstance takes an exclusive, non-blocking lock on path,
// failing immediately if another daemon already holds it rather than
// queuing behind it.
func AcquireSingleInstance(path string, logger *slog.Logger) (*SingleInstance, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("flock: open %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another daemon instance is running (lock: %s)", path)
	}

	pid := os.Getpid()
	f.Truncate(0)
	f.Seek(0, 0)
	fmt.Fprintf(f, "%d\n", pid)

	if logger != nil {
		logger.Info("acquired single-instance lock", "path", path, "pid", pid)
	}
	return &SingleInstance{f: f, Path: path, Pid: pid, logger: logger}, nil
}

// Release releases the lock and removes the lock file. Safe to call on a
// nil receiver so deferring it unconditionally is always valid.
func (s *SingleInstance) Release() {
	if s == nil || s.f == nil {
		return
	}
	syscall.Flock(int(s.f.Fd()), syscall.LOCK_UN)
	s.f.Close()
	os.Remove(s.Path)
	if s.logger != nil {
		s.logger.Info("released single-instance lock", "path", s.Path, "pid", s.Pid)
	}
}
