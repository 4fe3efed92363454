package scheduler

import (
	"container/heap"
	"context"
	"time"

	"go.uber.org/zap"
)

// enforceDeadlinesLocked is the deadline enforcer (§4.4). It must be called
// with mu held, and is idempotent within the same wall-clock second via
// lastDeadline (a pool field, not a function-local static — §9 design
// note).
//
// The heap-head staleness scan intentionally inspects only the current
// head rather than scanning the whole heap: under any comparator other than
// ComparatorTime (ComparatorDefault orders by priority first,
// ComparatorByRound by round count) the head need not be the oldest
// arrival, so a stale
// request could in principle sit un-drained behind a fresher one. This
// matches the original's own behavior; spec.md §9 sanctions either choice,
// and fidelity to the original was preferred over "fixing" it silently.
func (p *Pool) enforceDeadlinesLocked(now time.Time) {
	sec := now.Truncate(time.Second)
	if sec.Equal(p.lastDeadline) {
		return
	}
	p.lastDeadline = sec

	for w := p.active.front(); w != nil; w = w.next {
		if w.request != nil && now.After(w.deadline) {
			req := w.request
			req.SetMasterState(StateStopProcessing)
			p.process(context.Background(), req, ActionDone)
			p.logger.Error("worker unresponsive, request past deadline",
				zap.Int64("worker_id", w.ID), zap.String("request_id", req.ID()))
			p.trigger("server.thread.unresponsive", zap.Int64("worker_id", w.ID))
		}
	}

	if head := p.heap.peek(); head != nil {
		if now.Sub(head.ArrivalTime()) > 5*time.Second && !head.IsProxied() {
			if now.Sub(p.lastBlockedWarn) >= time.Second {
				p.logger.Error("request queue appears blocked",
					zap.Duration("head_age", now.Sub(head.ArrivalTime())))
				p.lastBlockedWarn = now
			}
		}
	}

	for {
		head := p.heap.peek()
		if head == nil {
			break
		}
		if now.Sub(head.ArrivalTime()) <= head.MaxRequestTime() {
			break
		}
		stale := heap.Pop(&p.heap).(Request)
		stale.SetMasterState(StateStopProcessing)
		p.process(context.Background(), stale, ActionDone)
	}
}
