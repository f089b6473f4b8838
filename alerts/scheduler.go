// Package alerts runs the periodic expiry scan over the inventory, logging
// batches that are expired or approaching their expiration date so operators
// can consume or retire them before they spoil.
package alerts

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/feedlot-engine/inventory"
)

// Scheduler manages the recurring expiry scan.
type Scheduler struct {
	cron       *cron.Cron
	view       *inventory.View
	schedule   string
	windowDays int
	logger     *zap.Logger
}

// NewScheduler creates a scheduler running the expiry scan on the given
// standard 5-field cron schedule, looking windowDays ahead.
func NewScheduler(view *inventory.View, schedule string, windowDays int, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:       cron.New(),
		view:       view,
		schedule:   schedule,
		windowDays: windowDays,
		logger:     logger,
	}
}

// Start registers the scan job and starts the cron loop.
func (s *Scheduler) Start() error {
	s.logger.Info("starting expiry alert scheduler",
		zap.String("schedule", s.schedule),
		zap.Int("window_days", s.windowDays))

	if _, err := s.cron.AddFunc(s.schedule, s.Scan); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop stops the cron loop. Running jobs complete.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping expiry alert scheduler")
	s.cron.Stop()
}

// Scan performs one pass over the inventory, logging expired batches and
// batches expiring within the configured window. Exported so the scan can be
// triggered outside the cron schedule.
func (s *Scheduler) Scan() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	expired, err := s.view.GetExpired(ctx, nil)
	if err != nil {
		s.logger.Error("expiry scan failed", zap.Error(err))
		return
	}
	for _, b := range expired {
		s.logger.Warn("batch expired with remaining stock",
			zap.String("batch_id", string(b.ID)),
			zap.String("product_id", string(b.ProductID)),
			zap.String("batch_code", b.BatchCode),
			zap.String("remaining", b.Remaining.Value.String()),
			zap.Time("expired_at", *b.ExpiresAt))
	}

	expiring, err := s.view.GetExpiring(ctx, nil, s.windowDays)
	if err != nil {
		s.logger.Error("expiry scan failed", zap.Error(err))
		return
	}
	for _, b := range expiring {
		s.logger.Info("batch approaching expiration",
			zap.String("batch_id", string(b.ID)),
			zap.String("product_id", string(b.ProductID)),
			zap.String("batch_code", b.BatchCode),
			zap.String("remaining", b.Remaining.Value.String()),
			zap.Time("expires_at", *b.ExpiresAt))
	}

	s.logger.Info("expiry scan complete",
		zap.Int("expired", len(expired)),
		zap.Int("expiring", len(expiring)))
}
