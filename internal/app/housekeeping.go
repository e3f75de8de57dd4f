package app

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper deletes lapsed entries from a store that does not expire them
// on its own.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// HousekeepingService periodically sweeps server-side session entries so
// abandoned sessions do not pile up.
type HousekeepingService struct {
	Sweeper  Sweeper
	Logger   *slog.Logger
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService sweeps every interval. A non-positive interval
// means 15 minutes.
func NewHousekeepingService(sweeper Sweeper, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	return &HousekeepingService{
		Sweeper:  sweeper,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs one sweep straight away and then one per interval until Stop.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop waits for an in-progress sweep to finish.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *HousekeepingService) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.Interval)
	defer cancel()

	n, err := s.Sweeper.DeleteExpired(ctx)
	if err != nil {
		s.Logger.Error("failed to delete expired session entries", "error", err)
		return
	}
	s.Logger.Debug("housekeeping sweep completed", "deleted", n)
}
