package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"campus-dispatch/internal/audit"
	"campus-dispatch/internal/config"
	"campus-dispatch/internal/consumer"
	"campus-dispatch/internal/database"
	"campus-dispatch/internal/dispatch"
	"campus-dispatch/internal/notifier"
	"campus-dispatch/internal/repository"
	"campus-dispatch/internal/streams"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DispatchService assembles and runs the dispatch engine: postgres,
// redis streams, the notifier backend, both consumers and the expiry
// sweeper. Lifetime is Start then Stop; Stop waits for the consume
// loops to drain.
type DispatchService struct {
	cfg    *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	notifier    notifier.Notifier

	orchestrator     *dispatch.Orchestrator
	signalConsumer   *consumer.SignalConsumer
	responseConsumer *consumer.ResponseConsumer
	sweeper          *consumer.ExpirySweeper

	cancel context.CancelFunc
}

// NewDispatchService wires the full engine from configuration.
func NewDispatchService(cfg *config.Config, logger *zap.Logger) (*DispatchService, error) {
	db, err := database.NewPostgresDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := streams.NewRedisClient(cfg)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	notif, err := buildNotifier(cfg, logger)
	if err != nil {
		db.Close()
		redisClient.Close()
		return nil, err
	}

	beaconRepo := repository.NewBeaconRepository(db, logger)
	guardRepo := repository.NewGuardRepository(db, logger)
	incidentRepo := repository.NewIncidentRepository(db, logger)
	alertRepo := repository.NewAlertRepository(db, logger)
	assignmentRepo := repository.NewAssignmentRepository(db, logger)

	recorder := audit.NewStreamRecorder(redisClient, cfg.Dispatch.AuditStream, logger)
	searcher := dispatch.NewSearcher(beaconRepo, guardRepo, logger)

	lifecycle := dispatch.NewLifecycleManager(
		incidentRepo,
		alertRepo,
		searcher,
		notif,
		recorder,
		cfg.Dispatch.MaxGuards,
		time.Duration(cfg.Dispatch.ResponseDeadlineSec)*time.Second,
		logger,
	)
	orchestrator := dispatch.NewOrchestrator(incidentRepo, guardRepo, assignmentRepo, lifecycle, recorder, logger)

	signalConsumer := consumer.NewSignalConsumer(
		redisClient, orchestrator,
		cfg.Dispatch.SignalStream, cfg.Dispatch.ConsumerGroup, cfg.Dispatch.ConsumerName,
		logger,
	)
	responseConsumer := consumer.NewResponseConsumer(
		redisClient, orchestrator,
		cfg.Dispatch.ResponseStream, cfg.Dispatch.ConsumerGroup, cfg.Dispatch.ConsumerName,
		logger,
	)
	sweeper := consumer.NewExpirySweeper(
		alertRepo, orchestrator,
		time.Duration(cfg.Dispatch.SweepIntervalSec)*time.Second,
		cfg.Dispatch.SweepBatchSize,
		logger,
	)

	return &DispatchService{
		cfg:              cfg,
		logger:           logger,
		db:               db,
		redisClient:      redisClient,
		notifier:         notif,
		orchestrator:     orchestrator,
		signalConsumer:   signalConsumer,
		responseConsumer: responseConsumer,
		sweeper:          sweeper,
	}, nil
}

func buildNotifier(cfg *config.Config, logger *zap.Logger) (notifier.Notifier, error) {
	switch cfg.Notifier.Backend {
	case "webhook":
		return notifier.NewWebhookNotifier(
			cfg.Notifier.WebhookURL,
			time.Duration(cfg.Notifier.TimeoutSec)*time.Second,
			logger,
		), nil
	case "mqtt":
		n, err := notifier.NewMQTTNotifier(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create MQTT notifier: %w", err)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unknown notifier backend: %s", cfg.Notifier.Backend)
	}
}

// Orchestrator exposes the engine for embedding callers (HTTP handlers,
// admin tools) that bypass the streams.
func (s *DispatchService) Orchestrator() *dispatch.Orchestrator {
	return s.orchestrator
}

// Start launches the consumers and the sweeper.
func (s *DispatchService) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.signalConsumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start signal consumer: %w", err)
	}
	if err := s.responseConsumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start response consumer: %w", err)
	}
	s.sweeper.Start(ctx)

	s.logger.Info("Dispatch service started",
		zap.String("signal_stream", s.cfg.Dispatch.SignalStream),
		zap.String("response_stream", s.cfg.Dispatch.ResponseStream),
		zap.String("notifier_backend", s.cfg.Notifier.Backend),
	)

	return nil
}

// Stop cancels the consume loops, waits for them to drain, and releases
// the connections.
func (s *DispatchService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	s.signalConsumer.Wait()
	s.responseConsumer.Wait()
	s.sweeper.Wait()

	if err := s.notifier.Close(); err != nil {
		s.logger.Warn("Failed to close notifier", zap.Error(err))
	}
	if err := s.redisClient.Close(); err != nil {
		s.logger.Warn("Failed to close redis client", zap.Error(err))
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("Failed to close database", zap.Error(err))
	}

	s.logger.Info("Dispatch service stopped")
}
