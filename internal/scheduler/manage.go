package scheduler

import (
	"time"

	"go.uber.org/zap"
)

// manageLocked is the manager tick (§4.3). It is called at most once per
// wall-clock second, with mu already held; it releases mu internally for
// the (slow) reap-join and grow-spawn steps, matching the original's
// mutex-release-for-thread-creation behavior.
func (p *Pool) manageLocked(now time.Time) {
	p.lastManaged = now

	p.enforceDeadlinesLocked(now)

	// Reap one exited worker per tick.
	if w := p.exited.front(); w != nil {
		p.exited.remove(w)
		p.mu.Unlock()
		<-w.done
		p.mu.Lock()
	}

	// Grow toward min_spare_servers.
	if !p.spawning && p.totalThreads < p.cfg.MaxServers && p.idle.len < p.cfg.MinSpareServers {
		need := p.cfg.MinSpareServers - p.idle.len
		if room := p.cfg.MaxServers - p.totalThreads; need > room {
			need = room
		}
		if need > 0 {
			p.spawning = true
			p.mu.Unlock()
			spawned := 0
			for i := 0; i < need; i++ {
				p.mu.Lock()
				ok := p.spawnWorker()
				p.mu.Unlock()
				if !ok {
					break
				}
				spawned++
			}
			p.mu.Lock()
			p.spawning = false
			if spawned > 0 {
				p.timeLastSpawned = now
			}
		}
	}

	// Shrink past max_spare_servers, one per tick, gated by cleanup_delay
	// hysteresis so a burst of idle time doesn't cause a thundering
	// cancellation.
	if now.Sub(p.timeLastSpawned) >= p.cfg.CleanupDelay && p.idle.len > p.cfg.MaxSpareServers {
		w := p.idle.back()
		if w != nil {
			// Status transitions straight to CANCELLED (not IDLE->EXITED
			// via the helper) since the worker hasn't actually exited
			// yet; it will on waking to the closed channel. The exited
			// list already holds CANCELLED-or-EXITED workers per §3.
			p.idle.remove(w)
			w.status = WorkerCancelled
			p.exited.pushFront(w)
			p.totalThreads--
			close(w.wake)
			p.logger.Debug("shrinking idle worker", zap.Int64("worker_id", w.ID))
		}
	}
}
