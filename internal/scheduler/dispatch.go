package scheduler

import (
	"container/heap"
	"context"
	"time"

	"go.uber.org/zap"
)

// Enqueue is the single admission entry point (§4.1). It never blocks on
// I/O and acquires the pool mutex only briefly. On every path where the
// request will not be processed normally, Enqueue marks it STOP_PROCESSING
// and calls process(request, DONE) exactly once before returning.
func (p *Pool) Enqueue(req Request) {
	now := time.Now()

	p.mu.Lock()
	p.enforceDeadlinesLocked(now)

	if p.heap.Len()+1 >= p.cfg.MaxQueueSize {
		p.mu.Unlock()
		p.logger.Warn("request queue full, rejecting", zap.Int("max_queue_size", p.cfg.MaxQueueSize))
		p.failRequest(req)
		return
	}

	if p.cfg.AutoLimitAcct && req.IsAccounting() {
		half := p.cfg.MaxQueueSize / 2
		if p.heap.Len() > half {
			ppsIn := p.ppsIn.Rate(now)
			ppsOut := p.ppsOut.Rate(now)
			if ppsIn > ppsOut {
				var u uint64
				if p.testForceU != nil {
					u = uint64(p.testForceU())
				} else {
					u = uint64(p.rng.IntN(1024))
				}
				keep := uint64(half) + (uint64(half)*u)/1024
				if uint64(p.heap.Len()) > keep {
					p.mu.Unlock()
					p.failRequest(req)
					return
				}
			}
		}
	}

	p.ppsIn.Sample(now)

	if p.heap.Len() > 0 || p.idle.len == 0 {
		req.SetMasterState(StateQueued)
		heap.Push(&p.heap, req)
		if p.idle.len == 0 {
			p.mu.Unlock()
			return
		}
		dispatched := heap.Pop(&p.heap).(Request)
		w := p.idle.popFront()
		p.handoff(w, dispatched, now)
		p.mu.Unlock()
		return
	}

	w := p.idle.popFront()
	p.handoff(w, req, now)
	p.mu.Unlock()
}

// handoff must be called with mu held. It transitions w IDLE->ACTIVE and
// wakes it with req attached (§4.1 step 6).
func (p *Pool) handoff(w *Worker, req Request, now time.Time) {
	p.idle2active(w)
	w.request = req
	w.deadline = now.Add(req.MaxRequestTime())
	req.SetMasterState(StateRunning)
	w.wake <- req
}

// failRequest implements the shared "reject without a worker" path used by
// admission control and the probabilistic accounting drop.
func (p *Pool) failRequest(req Request) {
	req.SetMasterState(StateStopProcessing)
	p.process(context.Background(), req, ActionDone)
}
