package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/IBM/sarama"
)

const (
	// HeaderReceiveCount carries how many times a message has been delivered.
	HeaderReceiveCount = "x-receive-count"

	TypeGeneratePresentation = "generate_presentation"
)

var ErrMalformedMessage = errors.New("malformed task message")

type TaskMessage struct {
	TaskID  string          `json:"task_id"`
	Type    string          `json:"type"`
	TraceID string          `json:"trace_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Message is one delivered record, independent of the consumer group
// session that delivered it.
type Message struct {
	ID           string
	Key          []byte
	Value        []byte
	ReceiveCount int
}

// BatchResult names the messages of a batch that need more work. Failed
// messages are delivered again until the receive limit; rejected ones go
// straight to the dead-letter topic.
type BatchResult struct {
	FailedItems []string
	Rejected    []string
}

func ParseTaskMessage(value []byte) (*TaskMessage, error) {
	var msg TaskMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.TaskID == "" {
		return nil, fmt.Errorf("%w: missing task_id", ErrMalformedMessage)
	}
	return &msg, nil
}

func messageID(m *sarama.ConsumerMessage) string {
	return fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
}

func fromConsumerMessage(m *sarama.ConsumerMessage) Message {
	return Message{
		ID:           messageID(m),
		Key:          m.Key,
		Value:        m.Value,
		ReceiveCount: receiveCount(m.Headers),
	}
}

func receiveCount(headers []*sarama.RecordHeader) int {
	for _, h := range headers {
		if h == nil || string(h.Key) != HeaderReceiveCount {
			continue
		}
		if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
			return n
		}
	}
	return 1
}
