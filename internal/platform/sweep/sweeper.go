package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Task expires whatever is overdue at now and reports how many records it
// changed.
type Task struct {
	Name string
	Run  func(ctx context.Context, now time.Time) (int, error)
}

// Sweeper runs its tasks together on a fixed interval.
type Sweeper struct {
	tasks    []Task
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func New(interval time.Duration, logger zerolog.Logger, tasks ...Task) *Sweeper {
	return &Sweeper{
		tasks:    tasks,
		interval: interval,
		logger:   logger.With().Str("component", "sweeper").Logger(),
		now:      time.Now,
	}
}

func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// RunOnce runs every task concurrently against the same instant. The first
// failure cancels the others.
func (s *Sweeper) RunOnce(ctx context.Context) (map[string]int, error) {
	now := s.now()
	var mu sync.Mutex
	counts := make(map[string]int, len(s.tasks))

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range s.tasks {
		task := task
		g.Go(func() error {
			n, err := task.Run(gctx, now)
			mu.Lock()
			counts[task.Name] = n
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("sweep %s: %w", task.Name, err)
			}
			return nil
		})
	}
	err := g.Wait()
	return counts, err
}

// Run sweeps immediately and then on every tick until ctx is done. Failed
// sweeps are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("sweeper started")
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	start := time.Now()
	counts, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error().Err(err).Msg("sweep failed")
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	evt := s.logger.Debug()
	if total > 0 {
		evt = s.logger.Info()
	}
	for name, n := range counts {
		evt = evt.Int(name, n)
	}
	evt.Dur("took", time.Since(start)).Msg("sweep finished")
}
