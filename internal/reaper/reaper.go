// Package reaper implements the child-process reaper (spec §4.5): a
// PID->slot table capped at 1024 entries, a non-blocking drain of exited
// children, and a polling wait for handlers that need to block on a
// specific child. Grounded on FreeRADIUS's thread_fork/thread_waitpid/
// reap_children (src/main/threads.c); substitutes Go's
// syscall.Wait4(pid, ..., syscall.WNOHANG, ...) for waitpid(-1, WNOHANG),
// since the native SIGCHLD semantics are just as unusable from a
// goroutine as from an arbitrary pthread.
package reaper

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const maxOutstanding = 1024

type slot struct {
	pid    int
	exited bool
	status syscall.WaitStatus
}

// Reaper owns the PID waiter table, guarded by its own mutex — a separate
// lock from the scheduler's pool mutex by design (§5: "a separate
// wait_mutex guards the PID waiter table").
type Reaper struct {
	mu     sync.Mutex
	logger *zap.Logger
	table  map[int]*slot
}

func New(logger *zap.Logger) *Reaper {
	return &Reaper{logger: logger, table: make(map[int]*slot)}
}

// ErrTableFull is returned by Fork when the waiter table is at its
// 1024-entry cap (§4.5, an overload error per §7).
var ErrTableFull = fmt.Errorf("reaper: PID waiter table full")

// Fork starts cmd and registers its PID in the waiter table.
func (r *Reaper) Fork(cmd *exec.Cmd) (int, error) {
	r.mu.Lock()
	if len(r.table) >= maxOutstanding {
		r.mu.Unlock()
		return 0, ErrTableFull
	}
	r.mu.Unlock()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("reaper: start child: %w", err)
	}
	pid := cmd.Process.Pid

	r.mu.Lock()
	r.table[pid] = &slot{pid: pid}
	r.mu.Unlock()

	return pid, nil
}

// Reap performs one non-blocking drain pass over every outstanding child,
// marking any that have exited. It mirrors reap_children's behavior of
// draining the whole table on every call, not just one PID.
func (r *Reaper) Reap() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for pid, s := range r.table {
		if s.exited {
			continue
		}
		var ws syscall.WaitStatus
		got, err := syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
		if err != nil || got <= 0 {
			continue
		}
		s.exited = true
		s.status = ws
		r.logger.Debug("reaped child", zap.Int("pid", pid))
	}
}

// Wait polls the table for pid's exit, every 100ms, up to 10s, matching
// thread_waitpid. If the child hasn't been reaped by then, the entry is
// dropped and the child is logged as an orphan; Wait returns false.
func (r *Reaper) Wait(pid int) (syscall.WaitStatus, bool) {
	deadline := time.Now().Add(10 * time.Second)
	for {
		r.mu.Lock()
		s, ok := r.table[pid]
		if ok && s.exited {
			delete(r.table, pid)
			r.mu.Unlock()
			return s.status, true
		}
		r.mu.Unlock()

		if time.Now().After(deadline) {
			r.mu.Lock()
			delete(r.table, pid)
			r.mu.Unlock()
			r.logger.Warn("child process orphaned, giving up wait", zap.Int("pid", pid))
			return syscall.WaitStatus(0), false
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Outstanding reports how many children are currently tracked.
func (r *Reaper) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.table)
}
