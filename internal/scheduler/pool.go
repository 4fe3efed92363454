package scheduler

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config is the parsed `thread` subsection (§6). Bounds are validated by
// internal/config.ThreadConfig.Validate before a Config reaches NewPool.
type Config struct {
	StartServers         int
	MaxServers           int
	MinSpareServers      int
	MaxSpareServers      int
	MaxRequestsPerServer int // reserved; not enforced (§9 open question)
	CleanupDelay         time.Duration
	MaxQueueSize         int
	QueuePriority        Comparator
	AutoLimitAcct        bool
}

// Triggers is the observability side-channel for named events (§6).
// Implementations typically log via zap and/or bump a Prometheus counter;
// see internal/observability.Trigger.
type Triggers interface {
	Fire(name string, fields ...zap.Field)
}

type noopTriggers struct{}

func (noopTriggers) Fire(string, ...zap.Field) {}

// Pool is the aggregate scheduler state: the worker lists, the pending
// heap, counters and configuration, all serialized by mu (§5). wait_mutex
// equivalent protection for child processes lives in internal/reaper, a
// separate lock by design.
type Pool struct {
	mu sync.Mutex

	cfg     Config
	process ProcessFunc
	logger  *zap.Logger
	trig    Triggers

	idle   workerList
	active workerList
	exited workerList

	totalThreads int
	nextID       int64

	heap      requestHeap
	ppsIn     PPSCounter
	ppsOut    PPSCounter

	spawning        bool
	timeLastSpawned time.Time
	lastManaged     time.Time
	lastDeadline    time.Time
	lastBlockedWarn time.Time

	stopFlag bool
	wg       sync.WaitGroup

	rng *rand.Rand

	failNextSpawn atomic.Bool // test hook: simulate one spawn failure (§7)

	// reapHook is called by a worker immediately after process(req, RUN)
	// returns, giving internal/reaper a chance to collect any children
	// the handler forked (§4.2 step 5, §4.5). Nil is a valid no-op.
	reapHook func()

	// testForceU overrides the 10-bit uniform draw used by the
	// probabilistic accounting drop, letting tests pin U without
	// reseeding the shared RNG (§8 scenario 4).
	testForceU func() uint32
}

// SetForcedDrawForTest pins the 10-bit uniform draw used by the
// probabilistic accounting-drop admission rule. Test-only.
func (p *Pool) SetForcedDrawForTest(u uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.testForceU = func() uint32 { return u }
}

// NewPool constructs a pool and spawns its initial StartServers workers.
// process is called for every RUN/DONE dispatch; it must never panic.
func NewPool(cfg Config, process ProcessFunc, logger *zap.Logger, trig Triggers) (*Pool, error) {
	if cfg.MaxSpareServers < cfg.MinSpareServers {
		return nil, fmt.Errorf("scheduler: max_spare_servers (%d) must be >= min_spare_servers (%d)", cfg.MaxSpareServers, cfg.MinSpareServers)
	}
	if cfg.MaxQueueSize < 2 || cfg.MaxQueueSize > 1048575 {
		return nil, fmt.Errorf("scheduler: max_queue_size %d out of bounds [2, 1048575]", cfg.MaxQueueSize)
	}
	if cfg.StartServers > cfg.MaxServers {
		return nil, fmt.Errorf("scheduler: start_servers (%d) must be <= max_servers (%d)", cfg.StartServers, cfg.MaxServers)
	}
	if trig == nil {
		trig = noopTriggers{}
	}

	p := &Pool{
		cfg:     cfg,
		process: process,
		logger:  logger,
		trig:    trig,
		heap:    requestHeap{cmp: cfg.QueuePriority},
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0xa5a5a5a5)),
	}

	now := time.Now()
	p.timeLastSpawned = now
	p.lastManaged = now

	for i := 0; i < cfg.StartServers; i++ {
		p.spawnWorker()
	}

	return p, nil
}

// FailNextSpawn arms a one-shot simulated spawn failure, exercising the §7
// "spawn failure" degrade-gracefully path from a test.
func (p *Pool) FailNextSpawn() { p.failNextSpawn.Store(true) }

// SetReapHook installs the function the worker loop calls immediately
// after each RUN invocation returns (see reapHook on Pool).
func (p *Pool) SetReapHook(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reapHook = fn
}

func (p *Pool) trigger(name string, fields ...zap.Field) {
	p.trig.Fire(name, fields...)
}

// QueueStats is the §6 queue_stats() return shape.
type QueueStats struct {
	QueueLen int
	PPSIn    uint64
	PPSOut   uint64
}

func (p *Pool) QueueStats() QueueStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	return QueueStats{
		QueueLen: p.heap.Len(),
		PPSIn:    p.ppsIn.Rate(now),
		PPSOut:   p.ppsOut.Rate(now),
	}
}

// Stats is a broader snapshot used by the admin REPL and the HTTP status
// endpoint.
type Stats struct {
	IdleThreads   int
	ActiveThreads int
	TotalThreads  int
	NumQueued     int
	PPSIn         uint64
	PPSOut        uint64
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	return Stats{
		IdleThreads:   p.idle.len,
		ActiveThreads: p.active.len,
		TotalThreads:  p.totalThreads,
		NumQueued:     p.heap.Len(),
		PPSIn:         p.ppsIn.Rate(now),
		PPSOut:        p.ppsOut.Rate(now),
	}
}

func (p *Pool) queueFreePct() float64 {
	if p.cfg.MaxQueueSize == 0 {
		return 0
	}
	return 1 - float64(p.heap.Len())/float64(p.cfg.MaxQueueSize)
}

func (p *Pool) idle2active(w *Worker) {
	p.idle.remove(w)
	w.status = WorkerActive
	p.active.pushFront(w)
}

func (p *Pool) active2idle(w *Worker) {
	p.active.remove(w)
	w.status = WorkerIdle
	p.idle.pushFront(w)
}

func (p *Pool) idle2exited(w *Worker) {
	p.idle.remove(w)
	w.status = WorkerExited
	p.exited.pushFront(w)
	p.totalThreads--
}

func (p *Pool) active2exited(w *Worker) {
	p.active.remove(w)
	w.status = WorkerExited
	p.exited.pushFront(w)
	p.totalThreads--
}
