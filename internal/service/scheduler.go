package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs the sync cycle on a fixed interval.
type Scheduler struct {
	cron     *cron.Cron
	service  *SyncService
	interval time.Duration
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(service *SyncService, interval time.Duration, logger *zap.Logger) *Scheduler {
	cronLogger := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		service:  service,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start registers the periodic job and starts the cron runner. With
// syncNow a cycle is also run immediately in the background.
func (s *Scheduler) Start(syncNow bool) error {
	if s.interval <= 0 {
		return fmt.Errorf("sync interval must be positive")
	}
	seconds := int(s.interval.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	spec := fmt.Sprintf("@every %ds", seconds)
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return fmt.Errorf("failed to schedule sync: %w", err)
	}
	s.cron.Start()
	s.logger.Info("Sync scheduler started", zap.Duration("interval", s.interval))

	if syncNow {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run()
		}()
	}
	return nil
}

// Stop stops scheduling and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.wg.Wait()
	s.cancel()
	s.logger.Info("Sync scheduler stopped")
}

func (s *Scheduler) run() {
	result := s.service.SyncAll(s.ctx)
	if result.Skipped {
		s.logger.Debug("Scheduled sync skipped, previous cycle still running")
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
