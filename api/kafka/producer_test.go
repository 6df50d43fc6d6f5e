package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_SendTaskMessage(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "presentation_tasks" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "task-1" {
			return errors.New("wrong key " + string(key))
		}
		value, _ := msg.Value.Encode()
		var got TaskMessage
		if err := json.Unmarshal(value, &got); err != nil {
			return err
		}
		if got.Type != TypeGeneratePresentation {
			return errors.New("wrong type " + got.Type)
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "trace-1" {
			return errors.New("missing trace header")
		}
		return nil
	})

	p := NewProducerWithClient(mock)
	err := p.SendTaskMessage(context.Background(), "presentation_tasks", &TaskMessage{
		TaskID:  "task-1",
		Type:    TypeGeneratePresentation,
		TraceID: "trace-1",
		Payload: json.RawMessage(`{"topic":"Go","slide_count":3}`),
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestProducer_SendTaskMessageFailure(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducerWithClient(mock)
	err := p.SendTaskMessage(context.Background(), "presentation_tasks", &TaskMessage{TaskID: "task-1", Type: TypeGeneratePresentation})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestProducer_CancelledContext(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	p := NewProducerWithClient(mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.SendTaskMessage(ctx, "presentation_tasks", &TaskMessage{TaskID: "task-1"})
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, p.Close())
}
