package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wishary/wishary-auth-api/pkg/jobs"
)

type cleanupTokenRepository interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// CleanupService prunes expired refresh-token rows in the background. The
// session store self-evicts by TTL; the relational trail needs this janitor.
type CleanupService struct {
	tokens   cleanupTokenRepository
	queue    *jobs.Queue
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCleanupService constructs the janitor with the given sweep interval.
func NewCleanupService(tokens cleanupTokenRepository, logger *zap.Logger, interval time.Duration) *CleanupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}

	s := &CleanupService{
		tokens:   tokens,
		interval: interval,
		logger:   logger,
	}
	s.queue = jobs.NewQueue("token-cleanup", s.prune, jobs.QueueConfig{
		Workers: 1,
		Logger:  logger,
	})
	return s
}

// Start launches the queue workers and the interval ticker.
func (s *CleanupService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.queue.Start(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: "prune"}); err != nil {
					s.logger.Warn("failed to enqueue cleanup job", zap.Error(err))
				}
			}
		}
	}()
}

// Stop halts the ticker and drains the workers.
func (s *CleanupService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.queue.Stop()
}

func (s *CleanupService) prune(ctx context.Context, _ jobs.Job) error {
	deleted, err := s.tokens.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.logger.Info("pruned expired refresh tokens", zap.Int64("deleted", deleted))
	}
	return nil
}
