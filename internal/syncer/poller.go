package syncer

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollInterval is how often the pending count is refreshed.
const DefaultPollInterval = 2 * time.Second

// Poller reports Status changes at a fixed interval.
type Poller struct {
	coord    *Coordinator
	interval time.Duration
	report   func(Status)
}

// NewPoller creates a Poller calling report whenever the status changes.
func NewPoller(c *Coordinator, interval time.Duration, report func(Status)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{coord: c, interval: interval, report: report}
}

// Run polls until ctx is cancelled. The first status is always reported.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last Status
	first := true
	for {
		st, err := p.coord.Status(ctx)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				slog.Warn("status poll failed", "error", err)
			}
		case first || st != last:
			p.report(st)
			last, first = st, false
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
