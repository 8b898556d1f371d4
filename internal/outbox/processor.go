package outbox

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"elepay-bridge/internal/domain"
	kafka_infra "elepay-bridge/internal/infrastructure/kafka"
	"elepay-bridge/internal/repository/outbox_repo"
)

// Processor relays pending completion notifications from the outbox table to
// Kafka. Rows are claimed with FOR UPDATE SKIP LOCKED, so multiple bridge
// instances can poll concurrently without double-publishing.
type Processor struct {
	db            *sql.DB
	outboxRepo    outbox_repo.OutboxRepository
	kafkaProducer kafka_infra.Producer
	pollInterval  time.Duration
	pollTimeout   time.Duration
	logger        *zap.Logger
}

func NewProcessor(
	db *sql.DB,
	outboxRepo outbox_repo.OutboxRepository,
	kafkaProducer kafka_infra.Producer,
	pollInterval time.Duration,
	pollTimeout time.Duration,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		db:            db,
		outboxRepo:    outboxRepo,
		kafkaProducer: kafkaProducer,
		pollInterval:  pollInterval,
		pollTimeout:   pollTimeout,
		logger:        logger,
	}
}

// Start polls until the context is cancelled.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("Starting outbox processor...")
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox processor stopping.")
			return
		case <-ticker.C:
			p.processOutboxMessages(ctx)
		}
	}
}

func (p *Processor) processOutboxMessages(ctx context.Context) {
	p.logger.Debug("Polling for outbox messages...")

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		p.logger.Error("Failed to begin transaction for outbox poll", zap.Error(err))
		return
	}
	defer tx.Rollback()

	queryCtx, cancel := context.WithTimeout(ctx, p.pollTimeout)
	defer cancel()

	messages, err := p.outboxRepo.GetPendingMessages(queryCtx, tx, 10)
	if err != nil {
		p.logger.Error("Failed to get pending outbox messages", zap.Error(err))
		return
	}

	if len(messages) == 0 {
		p.logger.Debug("No pending outbox messages found.")
		return
	}

	p.logger.Info("Found pending outbox messages", zap.Int("count", len(messages)))

	for _, msg := range messages {
		if err := p.kafkaProducer.Produce(ctx, msg.ID, msg.Payload); err != nil {
			p.logger.Error("Failed to send completion notification to Kafka",
				zap.String("message_id", msg.ID),
				zap.Int64("order_id", msg.OrderID),
				zap.Error(err))
			continue
		}

		if err := p.outboxRepo.UpdateMessageStatusTx(ctx, tx, msg.ID, domain.OutboxStatusSent); err != nil {
			p.logger.Error("Failed to mark outbox message as sent", zap.String("message_id", msg.ID), zap.Error(err))
			continue
		}
		p.logger.Info("Completion notification published",
			zap.String("message_id", msg.ID),
			zap.Int64("order_id", msg.OrderID))
	}

	if err := tx.Commit(); err != nil {
		p.logger.Error("Failed to commit outbox poll transaction", zap.Error(err))
	}
}
