package scheduler

import "time"

// PPSCounter is a smoothed packets(requests)-per-second estimator (§4.8),
// grounded on rad_pps: it keeps the prior whole second's count and the
// current, in-progress second's count, and blends them weighted by how far
// into the current second the caller is. Used only for admission control
// and stat reporting, never as an exact counter.
type PPSCounter struct {
	ppsOld  uint64
	ppsNow  uint64
	timeOld int64 // unix seconds of the bucket ppsNow belongs to
}

// Sample records one event at now and returns the smoothed rate.
func (c *PPSCounter) Sample(now time.Time) uint64 {
	sec := now.Unix()
	if sec != c.timeOld {
		c.ppsOld = c.ppsNow
		c.ppsNow = 0
		c.timeOld = sec
	}
	c.ppsNow++
	return c.rate(now)
}

// Rate returns the current smoothed estimate without recording an event.
func (c *PPSCounter) Rate(now time.Time) uint64 {
	if now.Unix() != c.timeOld {
		// the bucket is stale; ppsNow hasn't seen an event this second
		return c.ppsOld
	}
	return c.rate(now)
}

func (c *PPSCounter) rate(now time.Time) uint64 {
	const billion = uint64(1_000_000_000)
	nsec := uint64(now.Nanosecond())
	return (c.ppsOld*(billion-nsec) + c.ppsNow*nsec) / billion
}
