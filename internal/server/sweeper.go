package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ralphctl/ralph/internal/db"
	"github.com/ralphctl/ralph/internal/logging"
)

// Sweeper periodically purges expired recommendation dismissals. Expiry
// is also applied on read, so the sweeper only reclaims storage.
type Sweeper struct {
	dismissals *db.DismissalRepository
	interval   time.Duration
	logger     zerolog.Logger
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool

	lastSweep    time.Time
	totalDeleted int64
}

// NewSweeper creates a dismissal sweeper.
func NewSweeper(dismissals *db.DismissalRepository, interval time.Duration) *Sweeper {
	return &Sweeper{
		dismissals: dismissals,
		interval:   interval,
		logger:     logging.Component("sweeper"),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the background sweep job.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().
		Dur("sweep_interval", s.interval).
		Msg("starting dismissal sweeper")

	// Run initial sweep
	if err := s.RunSweep(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("initial sweep failed")
	}

	s.wg.Add(1)
	go s.sweepLoop(ctx)

	return nil
}

// Stop stops the background sweep job.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info().Msg("dismissal sweeper stopped")
}

// RunSweep runs a single sweep cycle.
func (s *Sweeper) RunSweep(ctx context.Context) error {
	deleted, err := s.dismissals.DeleteExpired(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	s.mu.Lock()
	s.lastSweep = time.Now()
	s.totalDeleted += int64(deleted)
	s.mu.Unlock()

	if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Msg("swept expired dismissals")
	} else {
		s.logger.Debug().Msg("sweep completed, nothing expired")
	}

	return nil
}

func (s *Sweeper) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.RunSweep(ctx); err != nil {
				s.logger.Error().Err(err).Msg("sweep cycle failed")
			}
		}
	}
}
