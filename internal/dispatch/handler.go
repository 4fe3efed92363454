package dispatch

import (
	"context"
	"time"

	"aaad/internal/billing"
	"aaad/internal/observability"
	provider "aaad/internal/provider/mock"
	"aaad/internal/scheduler"

	"go.uber.org/zap"
)

// Service is the opaque process(request, action) callable the scheduler
// invokes (spec §1). A send job is handed to the provider once, with no
// retry and no billing; an accounting job goes through the billing
// hold/capture/release triad instead — this module's concrete stand-in
// for "accounting request" admission control.
type Service struct {
	logger   *zap.Logger
	provider *provider.Provider
	billing  *billing.Service
	metrics  *observability.Metrics
}

func NewService(logger *zap.Logger, prov *provider.Provider, billingSvc *billing.Service, metrics *observability.Metrics) *Service {
	return &Service{logger: logger, provider: prov, billing: billingSvc, metrics: metrics}
}

// Process implements scheduler.ProcessFunc.
func (s *Service) Process(ctx context.Context, req scheduler.Request, action scheduler.Action) {
	job, ok := req.(*Job)
	if !ok {
		s.logger.Error("dispatch: process called with unknown request type")
		return
	}

	if action == scheduler.ActionDone {
		s.finish(ctx, job, false)
		return
	}

	switch job.Kind {
	case KindSend:
		s.processSend(ctx, job)
	case KindAccounting:
		s.processAccounting(ctx, job)
	}
}

func (s *Service) processSend(ctx context.Context, job *Job) {
	result := s.provider.SendSMS(ctx, &provider.Message{
		ID:         job.JobID,
		ToMSISDN:   job.ToMSISDN,
		FromSender: job.FromSender,
		Text:       job.Text,
	})

	success := result.Error == nil
	s.finish(ctx, job, success)

	if s.metrics != nil {
		s.metrics.MessagesProcessedTotal.WithLabelValues(string(result.Status)).Inc()
	}

	s.logger.Info("dispatch job processed",
		zap.String("job_id", job.ID()),
		zap.String("kind", "send"),
		zap.Bool("success", success))
}

func (s *Service) processAccounting(ctx context.Context, job *Job) {
	// An accounting job represents a delivery-receipt/billing-capture
	// operation: hold one credit, capture it straight away, and release
	// the hold if the capture fails. The provider is never called for an
	// accounting job; HoldCredits failing marks the job done at once.
	if _, err := s.billing.HoldCredits(ctx, job.ClientID, job.JobID, 1); err != nil {
		s.logger.Warn("accounting job: insufficient credits, dropping", zap.String("job_id", job.ID()), zap.Error(err))
		s.finish(ctx, job, false)
		return
	}

	if err := s.billing.CaptureCredits(ctx, job.JobID); err != nil {
		s.logger.Error("accounting job: capture failed", zap.String("job_id", job.ID()), zap.Error(err))
		_ = s.billing.ReleaseCredits(ctx, job.JobID)
		s.finish(ctx, job, false)
		return
	}

	s.finish(ctx, job, true)
}

// finish marks job DONE unless the scheduler has already marked it
// STOP_PROCESSING, which is kept whether or not the job succeeded.
func (s *Service) finish(_ context.Context, job *Job, success bool) {
	if job.MasterState() != scheduler.StateStopProcessing {
		job.SetMasterState(scheduler.StateDone)
	}
}

// RetryDelay is a linear backoff schedule: 30s per attempt, halved for
// express jobs, capped at 10 minutes. Nothing in this module calls it.
func RetryDelay(attempt int, express bool) time.Duration {
	delay := time.Duration(attempt) * 30 * time.Second
	if express {
		delay /= 2
	}
	if delay > 10*time.Minute {
		delay = 10 * time.Minute
	}
	return delay
}
