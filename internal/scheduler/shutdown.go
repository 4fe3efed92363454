package scheduler

import (
	"container/heap"
	"context"
)

// Stop sets the global stop flag, closes every idle worker's wake channel
// so it exits, and waits for every spawned worker (idle or active)
// to finish. Active workers finish their in-flight request first, then
// notice stopFlag in the post-process check and exit instead of returning
// to idle — the in-flight request itself is never aborted (§5).
//
// After Stop returns, every spawned worker has been joined and every
// heap-resident request has received process(DONE), satisfying the "clean
// shutdown" law (§8).
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopFlag = true

	for w := p.idle.front(); w != nil; {
		next := w.next
		p.idle.remove(w)
		w.status = WorkerExited
		p.exited.pushFront(w)
		p.totalThreads--
		close(w.wake)
		w = next
	}

	for p.heap.Len() > 0 {
		stale := heap.Pop(&p.heap).(Request)
		stale.SetMasterState(StateStopProcessing)
		p.process(context.Background(), stale, ActionDone)
	}

	p.mu.Unlock()

	p.wg.Wait()
}
