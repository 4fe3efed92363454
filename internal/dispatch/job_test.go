package dispatch

import (
	"testing"
	"time"

	"aaad/internal/scheduler"

	"github.com/google/uuid"
)

func TestNewSendJob(t *testing.T) {
	clientID := uuid.New()
	job := NewSendJob(clientID, "+15550001111", "ACME", "hello", 5, 30*time.Second)

	if job.Kind != KindSend {
		t.Errorf("Kind = %v, want KindSend", job.Kind)
	}
	if job.IsAccounting() {
		t.Error("IsAccounting() = true for a send job")
	}
	if job.ClientID != clientID {
		t.Errorf("ClientID = %v, want %v", job.ClientID, clientID)
	}
	if job.Priority() != 5 {
		t.Errorf("Priority() = %d, want 5", job.Priority())
	}
	if job.MaxRequestTime() != 30*time.Second {
		t.Errorf("MaxRequestTime() = %v, want 30s", job.MaxRequestTime())
	}
	if job.HeapIndex() != -1 {
		t.Errorf("HeapIndex() = %d, want -1 before insertion", job.HeapIndex())
	}
	if job.ID() == "" {
		t.Error("ID() returned empty string")
	}
}

func TestNewAccountingJob(t *testing.T) {
	clientID := uuid.New()
	job := NewAccountingJob(clientID, "ref-123", 0, 10*time.Second)

	if !job.IsAccounting() {
		t.Error("IsAccounting() = false for an accounting job")
	}
	if job.ClientReference != "ref-123" {
		t.Errorf("ClientReference = %q, want %q", job.ClientReference, "ref-123")
	}
}

func TestJobMasterStateRoundTrip(t *testing.T) {
	job := NewSendJob(uuid.New(), "+1", "A", "t", 0, time.Second)

	if job.MasterState() != scheduler.MasterState(0) {
		t.Errorf("zero-value MasterState() = %v, want 0", job.MasterState())
	}

	job.SetMasterState(scheduler.StateDone)
	if job.MasterState() != scheduler.StateDone {
		t.Errorf("MasterState() = %v, want StateDone", job.MasterState())
	}
}

func TestJobHeapIndexRoundTrip(t *testing.T) {
	job := NewSendJob(uuid.New(), "+1", "A", "t", 0, time.Second)
	job.SetHeapIndex(3)
	if job.HeapIndex() != 3 {
		t.Errorf("HeapIndex() = %d, want 3", job.HeapIndex())
	}
}

func TestJobSetControlAttrsIsConcurrencySafe(t *testing.T) {
	job := NewAccountingJob(uuid.New(), "ref", 0, time.Second)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			job.SetControlAttrs(float64(i), float64(i), 0.5)
		}
		close(done)
	}()
	for i := 0; i < 100; i++ {
		job.SetControlAttrs(float64(i), float64(i), 0.5)
	}
	<-done
}
