package service

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// sweepInterval is how often the IdleFlusher evicts finished runs and stops
// idle save slot writers.
const sweepInterval = time.Minute

// IdleFlusher applies objective writes that have sat in a batch past its idle
// window when no further call arrives to trigger the flush. It also sweeps
// finished runs out of memory.
type IdleFlusher struct {
	stages   *StageService
	clock    clockwork.Clock
	interval time.Duration
}

// NewIdleFlusher creates an IdleFlusher polling at interval.
func NewIdleFlusher(stages *StageService, clock clockwork.Clock, interval time.Duration) *IdleFlusher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = stages.opts.BatchIdle
	}
	return &IdleFlusher{stages: stages, clock: clock, interval: interval}
}

// Start polls until ctx is cancelled.
func (f *IdleFlusher) Start(ctx context.Context) {
	ticker := f.clock.NewTicker(f.interval)
	defer ticker.Stop()
	sweep := f.clock.NewTicker(sweepInterval)
	defer sweep.Stop()

	log.Info().Dur("interval", f.interval).Msg("Idle batch flusher started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Idle batch flusher stopped")
			return
		case <-ticker.Chan():
			if n := f.stages.FlushIdle(ctx); n > 0 {
				log.Debug().Int("runs", n).Msg("Flushed idle objective batches")
			}
		case <-sweep.Chan():
			if runs, writers := f.stages.Sweep(); runs+writers > 0 {
				log.Debug().Int("runs", runs).Int("writers", writers).Msg("Swept finished runs")
			}
		}
	}
}

// FlushIdle flushes every active run whose batch is due and re-checks its
// outcome. It returns the number of runs flushed.
func (s *StageService) FlushIdle(ctx context.Context) int {
	var ids []string
	s.sessions.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})

	flushed := 0
	for _, id := range ids {
		sess, unlock, err := s.lockActive(id)
		if err != nil {
			continue
		}
		if n, changes := s.flushIfDue(sess); n > 0 {
			s.settle(ctx, sess, changes)
			flushed++
		}
		unlock()
	}
	return flushed
}

// EvictFinished forgets runs that finished at least FinishedTTL before now,
// along with their locks. It returns the number of runs dropped.
func (s *StageService) EvictFinished(now time.Time) int {
	var ids []string
	s.sessions.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})

	evicted := 0
	for _, id := range ids {
		sess, unlock, err := s.lock(id)
		if err != nil {
			continue
		}
		if sess.status != StatusActive && !now.Before(sess.finishedAt.Add(s.opts.FinishedTTL)) {
			s.sessions.Delete(id)
			s.locks.Delete(id)
			evicted++
		}
		unlock()
	}
	return evicted
}

// Sweep evicts expired finished runs and stops save slot writers with
// nothing queued.
func (s *StageService) Sweep() (runs, writers int) {
	return s.EvictFinished(s.opts.Clock.Now()), s.persister.Retire()
}
