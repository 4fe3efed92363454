// Package dispatch is this service's concrete Request and the
// process(request, action) handler the scheduler treats as an opaque
// callable (spec §1 "out of scope: the per-request processing function").
// A Job is either an SMS send or an accounting operation (a delivery
// receipt / billing capture), adapted from internal/messages.Message and
// internal/queue/nats.SendJob.
package dispatch

import (
	"sync"
	"time"

	"aaad/internal/scheduler"

	"github.com/google/uuid"
)

// Kind distinguishes a plain send from an accounting request — the latter
// is what auto_limit_acct's probabilistic drop targets (§4.1 step 3).
type Kind int

const (
	KindSend Kind = iota
	KindAccounting
)

// Job implements scheduler.Request.
type Job struct {
	JobID      uuid.UUID
	ClientID   uuid.UUID
	Kind       Kind
	ToMSISDN        string
	FromSender      string
	Text            string
	ClientReference string // DLR/billing correlation for accounting jobs
	Arrival         time.Time
	Prio       int
	Attempt    int // the delivery-attempt round; this domain's EAP analogue
	Deadline   time.Duration
	Proxied    bool

	mu        sync.Mutex
	state     scheduler.MasterState
	heapIndex int

	// Control attributes attached by the worker loop for accounting
	// requests under auto_limit_acct (§4.2 step 3).
	ppsIn, ppsOut, queueFreePct float64
}

func NewSendJob(clientID uuid.UUID, to, from, text string, priority int, maxRequestTime time.Duration) *Job {
	return &Job{
		JobID:      uuid.New(),
		ClientID:   clientID,
		Kind:       KindSend,
		ToMSISDN:   to,
		FromSender: from,
		Text:       text,
		Arrival:    time.Now(),
		Prio:       priority,
		Deadline:   maxRequestTime,
		heapIndex:  -1,
	}
}

func NewAccountingJob(clientID uuid.UUID, reference string, priority int, maxRequestTime time.Duration) *Job {
	return &Job{
		JobID:      uuid.New(),
		ClientID:   clientID,
		Kind:       KindAccounting,
		ClientReference: reference,
		Arrival:    time.Now(),
		Prio:       priority,
		Deadline:   maxRequestTime,
		heapIndex:  -1,
	}
}

func (j *Job) ID() string                    { return j.JobID.String() }
func (j *Job) ArrivalTime() time.Time        { return j.Arrival }
func (j *Job) Priority() int                 { return j.Prio }
func (j *Job) Rounds() int                   { return j.Attempt }
func (j *Job) MaxRequestTime() time.Duration { return j.Deadline }
func (j *Job) IsAccounting() bool            { return j.Kind == KindAccounting }
func (j *Job) IsProxied() bool               { return j.Proxied }

func (j *Job) SetControlAttrs(ppsIn, ppsOut, queueFreePct float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ppsIn, j.ppsOut, j.queueFreePct = ppsIn, ppsOut, queueFreePct
}

func (j *Job) MasterState() scheduler.MasterState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) SetMasterState(s scheduler.MasterState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = s
}

func (j *Job) HeapIndex() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.heapIndex
}

func (j *Job) SetHeapIndex(i int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.heapIndex = i
}

var _ scheduler.Request = (*Job)(nil)
