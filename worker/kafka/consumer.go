package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// BatchHandler processes a batch and names the messages that need more work.
type BatchHandler func(ctx context.Context, batch []Message) BatchResult

type ConsumerConfig struct {
	Brokers         []string
	Topic           string
	GroupID         string
	BatchSize       int
	BatchWait       time.Duration
	MaxReceiveCount int
}

type Consumer struct {
	consumer    sarama.ConsumerGroup
	producer    sarama.SyncProducer
	redeliverer *Redeliverer
	cfg         ConsumerConfig
	logger      *zap.Logger
}

func NewConsumer(cfg ConsumerConfig, logger *zap.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	c, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, err
	}

	p, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		c.Close()
		return nil, err
	}

	return &Consumer{
		consumer:    c,
		producer:    p,
		redeliverer: NewRedeliverer(p, cfg.Topic, cfg.MaxReceiveCount, logger),
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// Consume joins the group and hands batches to handler until ctx ends.
func (c *Consumer) Consume(ctx context.Context, handler BatchHandler) error {
	h := newConsumerHandler(handler, c.redeliverer, c.cfg.BatchSize, c.cfg.BatchWait, c.logger)
	for {
		if err := c.consumer.Consume(ctx, []string{c.cfg.Topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("Consumer group session failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	return errors.Join(c.consumer.Close(), c.producer.Close())
}

type consumerHandler struct {
	fn          BatchHandler
	redeliverer *Redeliverer
	batchSize   int
	batchWait   time.Duration
	logger      *zap.Logger
}

func newConsumerHandler(fn BatchHandler, r *Redeliverer, batchSize int, batchWait time.Duration, logger *zap.Logger) *consumerHandler {
	if batchSize < 1 {
		batchSize = 1
	}
	if batchWait <= 0 {
		batchWait = time.Second
	}
	return &consumerHandler{fn: fn, redeliverer: r, batchSize: batchSize, batchWait: batchWait, logger: logger}
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ticker := time.NewTicker(h.batchWait)
	defer ticker.Stop()

	batch := make([]*sarama.ConsumerMessage, 0, h.batchSize)
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return h.flush(session, batch)
			}
			batch = append(batch, msg)
			if len(batch) < h.batchSize {
				continue
			}
		case <-ticker.C:
			if len(batch) == 0 {
				continue
			}
		case <-session.Context().Done():
			// unmarked messages are delivered again after the rebalance
			return nil
		}

		if err := h.flush(session, batch); err != nil {
			return err
		}
		batch = batch[:0]
	}
}

// flush runs the batch, routes what needs more work and marks every message.
// Nothing is marked if routing fails, so the whole batch comes back.
func (h *consumerHandler) flush(session sarama.ConsumerGroupSession, batch []*sarama.ConsumerMessage) error {
	if len(batch) == 0 {
		return nil
	}

	msgs := make([]Message, len(batch))
	for i, m := range batch {
		msgs[i] = fromConsumerMessage(m)
	}

	result := h.fn(session.Context(), msgs)
	if session.Context().Err() != nil {
		return nil
	}
	if err := h.redeliverer.Route(msgs, result); err != nil {
		h.logger.Error("Failed to route batch results", zap.Error(err))
		return err
	}

	for _, m := range batch {
		session.MarkMessage(m, "")
	}
	return nil
}
