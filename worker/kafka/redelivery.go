package kafka

import (
	"fmt"
	"strconv"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

const DefaultMaxReceiveCount = 5

// Redeliverer routes the failed and rejected messages of a batch: failed
// ones back onto the topic with an incremented receive count, exhausted and
// rejected ones onto the dead-letter topic.
type Redeliverer struct {
	producer   sarama.SyncProducer
	topic      string
	dlqTopic   string
	maxReceive int
	logger     *zap.Logger
}

func NewRedeliverer(producer sarama.SyncProducer, topic string, maxReceive int, logger *zap.Logger) *Redeliverer {
	if maxReceive < 1 {
		maxReceive = DefaultMaxReceiveCount
	}
	return &Redeliverer{
		producer:   producer,
		topic:      topic,
		dlqTopic:   DeadLetterTopic(topic),
		maxReceive: maxReceive,
		logger:     logger,
	}
}

func DeadLetterTopic(topic string) string {
	return topic + ".dlq"
}

// Route publishes the follow-up records for result. Messages not named in
// result need nothing.
func (r *Redeliverer) Route(batch []Message, result BatchResult) error {
	byID := make(map[string]Message, len(batch))
	for _, m := range batch {
		byID[m.ID] = m
	}

	var out []*sarama.ProducerMessage
	for _, id := range result.Rejected {
		m, ok := byID[id]
		if !ok {
			continue
		}
		r.logger.Warn("Message rejected, dead-lettering", zap.String("message_id", id))
		out = append(out, r.record(r.dlqTopic, m, m.ReceiveCount, "rejected"))
	}
	for _, id := range result.FailedItems {
		m, ok := byID[id]
		if !ok {
			continue
		}
		if m.ReceiveCount >= r.maxReceive {
			r.logger.Warn("Receive limit reached, dead-lettering",
				zap.String("message_id", id),
				zap.Int("receive_count", m.ReceiveCount),
			)
			out = append(out, r.record(r.dlqTopic, m, m.ReceiveCount, "receive_limit"))
			continue
		}
		out = append(out, r.record(r.topic, m, m.ReceiveCount+1, ""))
	}

	if len(out) == 0 {
		return nil
	}
	if err := r.producer.SendMessages(out); err != nil {
		return fmt.Errorf("route %d messages: %w", len(out), err)
	}
	return nil
}

func (r *Redeliverer) record(topic string, m Message, count int, reason string) *sarama.ProducerMessage {
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderReceiveCount), Value: []byte(strconv.Itoa(count))},
	}
	if reason != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte("x-dead-letter-reason"), Value: []byte(reason)})
	}
	return &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.ByteEncoder(m.Key),
		Value:   sarama.ByteEncoder(m.Value),
		Headers: headers,
	}
}
