package observability

import "go.uber.org/zap"

// Trigger implements scheduler.Triggers: named scheduler events (e.g.
// "server.thread.start", "server.thread.stop", "server.thread.unresponsive")
// are logged structurally and counted, so an operator can both read a log
// line and alert on a rate. Grounded on threads.c's trigger_exec calls,
// which fire the same named events against FreeRADIUS's own trigger
// subsystem.
type Trigger struct {
	logger  *zap.Logger
	metrics *Metrics
}

func NewTrigger(logger *zap.Logger, metrics *Metrics) *Trigger {
	return &Trigger{logger: logger, metrics: metrics}
}

func (t *Trigger) Fire(name string, fields ...zap.Field) {
	t.logger.Info(name, fields...)
	if t.metrics != nil {
		t.metrics.SchedulerTriggersTotal.WithLabelValues(name).Inc()
	}
}
