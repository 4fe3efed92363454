package scheduler

import (
	"container/heap"
	"context"
	"time"

	"go.uber.org/zap"
)

// spawnWorker creates and starts one worker goroutine, linking it at the
// head of the idle list (§4.3 step 3). Returns false if the spawn was
// rejected (simulated failure, §7) — the caller retries next tick.
func (p *Pool) spawnWorker() bool {
	if p.failNextSpawn.Swap(false) {
		p.logger.Error("worker spawn failed, will retry next tick")
		return false
	}

	w := &Worker{
		ID:        p.nextWorkerID(),
		status:    WorkerIdle,
		wake:      make(chan Request, 1),
		done:      make(chan struct{}),
		startTime: time.Now(),
	}

	p.wg.Add(1)
	go runWorker(p, w)

	p.idle.pushFront(w)
	p.totalThreads++
	p.trigger("server.thread.start", zap.Int64("worker_id", w.ID))
	return true
}

func (p *Pool) nextWorkerID() int64 {
	p.nextID++
	return p.nextID
}

// runWorker is the per-worker event loop (§4.2). It waits to be woken with
// an attached request, invokes process(req, RUN), drains the heap while it
// remains non-empty without returning to idle ("hot thread stays hot"),
// then goes back to idle and waits again.
func runWorker(p *Pool, w *Worker) {
	defer p.wg.Done()
	defer close(w.done)

	for {
		req, ok := <-w.wake
		if !ok {
			// cancelled while idle: the canceller (the manager's shrink
			// step or Stop) has already moved this worker to the exited
			// list; nothing further to unlink here.
			p.trigger("server.thread.stop", zap.Int64("worker_id", w.ID))
			return
		}

		for {
			if req.IsAccounting() && p.cfg.AutoLimitAcct {
				p.mu.Lock()
				ppsIn := p.ppsIn.Rate(time.Now())
				ppsOut := p.ppsOut.Rate(time.Now())
				freePct := p.queueFreePct()
				p.mu.Unlock()
				req.SetControlAttrs(float64(ppsIn), float64(ppsOut), freePct)
			}

			p.process(context.Background(), req, ActionRun)
			if p.reapHook != nil {
				p.reapHook()
			}

			now := time.Now()
			p.mu.Lock()
			w.handled++
			w.request = nil
			p.ppsOut.Sample(now)

			if now.Sub(p.lastManaged) >= time.Second {
				p.manageLocked(now)
			}

			if p.stopFlag {
				p.active2exited(w)
				p.mu.Unlock()
				p.trigger("server.thread.stop", zap.Int64("worker_id", w.ID))
				return
			}

			if p.heap.Len() > 0 {
				next := heap.Pop(&p.heap).(Request)
				w.deadline = now.Add(next.MaxRequestTime())
				w.request = next
				next.SetMasterState(StateRunning)
				req = next
				p.mu.Unlock()
				continue
			}

			p.active2idle(w)
			p.mu.Unlock()
			break
		}
	}
}
