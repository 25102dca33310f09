package cron

import (
	"context"
	"time"
)

// Tick runs one scheduling pass at now.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.tick(ctx, now)
}
