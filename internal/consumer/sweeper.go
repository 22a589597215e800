package consumer

import (
	"context"
	"sync"
	"time"

	"campus-dispatch/internal/dispatch"
	"campus-dispatch/internal/models"

	"go.uber.org/zap"
)

// OverdueLister pages overdue SENT alerts for the sweeper. Satisfied by
// *repository.AlertRepository.
type OverdueLister interface {
	ListOverdueSent(ctx context.Context, now time.Time, limit int) ([]models.GuardAlert, error)
}

// ExpirySweeper periodically expires SENT alerts whose response
// deadline has passed, driving escalation for incidents whose guards
// never answered. Expiry is idempotent, so overlapping sweeps across
// instances are harmless.
type ExpirySweeper struct {
	alerts       OverdueLister
	orchestrator *dispatch.Orchestrator
	logger       *zap.Logger

	interval  time.Duration
	batchSize int

	wg sync.WaitGroup
}

// NewExpirySweeper creates an expiry sweeper.
func NewExpirySweeper(
	alerts OverdueLister,
	orchestrator *dispatch.Orchestrator,
	interval time.Duration,
	batchSize int,
	logger *zap.Logger,
) *ExpirySweeper {
	return &ExpirySweeper{
		alerts:       alerts,
		orchestrator: orchestrator,
		logger:       logger,
		interval:     interval,
		batchSize:    batchSize,
	}
}

// Start begins sweeping until the context is cancelled.
func (s *ExpirySweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("Expiry sweeper started",
		zap.Duration("interval", s.interval),
		zap.Int("batch_size", s.batchSize),
	)
}

// Wait blocks until the sweep loop has exited.
func (s *ExpirySweeper) Wait() {
	s.wg.Wait()
}

func (s *ExpirySweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Expiry sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ExpirySweeper) sweep(ctx context.Context) {
	overdue, err := s.alerts.ListOverdueSent(ctx, time.Now().UTC(), s.batchSize)
	if err != nil {
		s.logger.Error("Failed to list overdue alerts", zap.Error(err))
		return
	}
	if len(overdue) == 0 {
		return
	}

	expired := 0
	escalated := 0
	for _, alert := range overdue {
		result, err := s.orchestrator.ExpireAlert(ctx, alert.AlertID)
		if err != nil {
			s.logger.Error("Failed to expire alert",
				zap.String("alert_id", alert.AlertID),
				zap.String("incident_id", alert.IncidentID),
				zap.Error(err),
			)
			continue
		}
		if result.Stale {
			// Another instance or a guard response got there first.
			continue
		}
		expired++
		if result.Escalated != nil {
			escalated++
		}
	}

	s.logger.Info("Expiry sweep finished",
		zap.Int("overdue", len(overdue)),
		zap.Int("expired", expired),
		zap.Int("escalated", escalated),
	)
}
