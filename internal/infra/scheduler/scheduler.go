package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"mediscout/internal/domain/appointment"
	idb "mediscout/internal/infra/database" // For ErrStore
)

// State is the scheduler's position in its polling loop.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateSleeping
	StateShutdownRequested
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateSleeping:
		return "sleeping"
	case StateShutdownRequested:
		return "shutdown_requested"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// WatchPoller is what one polling pass needs from the application layer.
type WatchPoller interface {
	ListWatches(ctx context.Context) ([]appointment.Watch, error)
	PollWatch(ctx context.Context, w appointment.Watch) error
}

// Schedule builds the poll schedule: a standard cron expression when cronSpec
// is set, otherwise a constant delay of interval.
func Schedule(cronSpec string, interval time.Duration) (cron.Schedule, error) {
	if cronSpec != "" {
		s, err := cron.ParseStandard(cronSpec)
		if err != nil {
			return nil, fmt.Errorf("invalid poll cron spec %q: %w", cronSpec, err)
		}
		return s, nil
	}
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	return cron.Every(interval), nil
}

// WatchScheduler polls every watch, sleeps until the next scheduled time and
// repeats until its context is cancelled or the ledger fails.
type WatchScheduler struct {
	poller   WatchPoller
	schedule cron.Schedule
	logger   *logrus.Entry
	now      func() time.Time
	state    atomic.Int32
}

func NewWatchScheduler(poller WatchPoller, schedule cron.Schedule, logger *logrus.Entry) *WatchScheduler {
	return &WatchScheduler{
		poller:   poller,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
	}
}

// State returns the current loop state.
func (s *WatchScheduler) State() State {
	return State(s.state.Load())
}

func (s *WatchScheduler) setState(st State) {
	if prev := State(s.state.Swap(int32(st))); prev != st {
		s.logger.WithFields(logrus.Fields{"from": prev, "to": st}).Debug("Scheduler state change")
	}
}

// Run loops until ctx is cancelled (returns nil) or a store error occurs
// (returns it).
func (s *WatchScheduler) Run(ctx context.Context) error {
	s.logger.Info("Starting watch scheduler...")

	for {
		if err := s.RunCycle(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				break
			}
			s.setState(StateIdle)
			s.logger.WithError(err).Error("Watch scheduler stopped on ledger failure")
			return err
		}

		now := s.now()
		next := s.schedule.Next(now)
		s.setState(StateSleeping)
		s.logger.WithField("next_poll", next.Format(time.RFC3339)).Debug("Sleeping until next poll")

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}
	}

	s.setState(StateShutdownRequested)
	s.logger.Info("Watch scheduler gracefully stopped.")
	return nil
}

// RunCycle performs one pass over all watches. Failures of a single watch are
// logged and the pass continues; a store failure or cancellation ends it.
func (s *WatchScheduler) RunCycle(ctx context.Context) error {
	s.setState(StatePolling)
	start := s.now()

	watches, err := s.poller.ListWatches(ctx)
	if err != nil {
		return fmt.Errorf("list watches: %w", err)
	}

	var failed int
	for _, w := range watches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.poller.PollWatch(ctx, w); err != nil {
			if errors.Is(err, idb.ErrStore) || ctx.Err() != nil {
				return err
			}
			failed++
			s.logger.WithError(err).WithField("watch_id", w.ID).Error("Watch poll failed")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"watches":  len(watches),
		"errors":   failed,
		"duration": s.now().Sub(start).Round(time.Millisecond),
	}).Info("Poll cycle complete")
	return nil
}
