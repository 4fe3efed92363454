package config

import (
	"fmt"
	"time"
)

// ThreadConfig is the `thread` subsection (spec §6): the request-dispatch
// worker pool's tunables. Parsed with the same envconfig mechanism as the
// rest of Config, under the THREAD_ prefix.
type ThreadConfig struct {
	StartServers         int           `envconfig:"THREAD_START_SERVERS" default:"5"`
	MaxServers           int           `envconfig:"THREAD_MAX_SERVERS" default:"32"`
	MinSpareServers      int           `envconfig:"THREAD_MIN_SPARE_SERVERS" default:"3"`
	MaxSpareServers      int           `envconfig:"THREAD_MAX_SPARE_SERVERS" default:"10"`
	MaxRequestsPerServer int           `envconfig:"THREAD_MAX_REQUESTS_PER_SERVER" default:"0"`
	CleanupDelay         time.Duration `envconfig:"THREAD_CLEANUP_DELAY" default:"5s"`
	MaxQueueSize         int           `envconfig:"THREAD_MAX_QUEUE_SIZE" default:"65536"`
	QueuePriority        string        `envconfig:"THREAD_QUEUE_PRIORITY" default:"default"`
	AutoLimitAcct        bool          `envconfig:"THREAD_AUTO_LIMIT_ACCT" default:"false"`
}

// minQueueSize and maxQueueSize are the §6 clamp bounds for MaxQueueSize.
const (
	minQueueSize = 2
	maxQueueSize = 1048575
)

// Validate enforces the §6 bounds table. MaxQueueSize is clamped into
// [minQueueSize, maxQueueSize] per §6 ("admission cap (clamped to
// [2, 1048575])") rather than rejected; every other bound is a genuine
// configuration error and is fatal at startup (§7 "configuration error").
func (t *ThreadConfig) Validate() error {
	if t.MaxSpareServers < t.MinSpareServers {
		return fmt.Errorf("thread.max_spare_servers (%d) must be >= thread.min_spare_servers (%d)", t.MaxSpareServers, t.MinSpareServers)
	}
	if t.StartServers > t.MaxServers {
		return fmt.Errorf("thread.start_servers (%d) must be <= thread.max_servers (%d)", t.StartServers, t.MaxServers)
	}
	if t.MaxQueueSize < minQueueSize {
		t.MaxQueueSize = minQueueSize
	} else if t.MaxQueueSize > maxQueueSize {
		t.MaxQueueSize = maxQueueSize
	}
	switch t.QueuePriority {
	case "default", "time", "eap":
	default:
		return fmt.Errorf("thread.queue_priority %q is not one of default, time, eap", t.QueuePriority)
	}
	return nil
}
