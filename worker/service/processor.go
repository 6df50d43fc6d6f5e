package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"presentationGenerator/besteffort"
	"presentationGenerator/models"
	"presentationGenerator/repository"
	"presentationGenerator/worker/kafka"
	"presentationGenerator/worker/metrics"
	"presentationGenerator/worker/pool"
)

// errRejected marks messages that can never succeed.
var errRejected = errors.New("message rejected")

// Runner executes the workflow of one task.
type Runner interface {
	Run(ctx context.Context, taskID string, req models.Request) error
}

type StatusMirror interface {
	Set(ctx context.Context, taskID string, status models.TaskStatus, stage models.Stage, progress int) error
}

type Processor struct {
	tasks      *repository.TaskRepository
	engine     Runner
	pool       *pool.WorkerPool
	mirror     StatusMirror
	bestEffort *besteffort.Runner
	logger     *zap.Logger
}

// NewProcessor builds the queue-side processor. mirror may be nil.
func NewProcessor(tasks *repository.TaskRepository, engine Runner, workers int, mirror StatusMirror, logger *zap.Logger) *Processor {
	return &Processor{
		tasks:      tasks,
		engine:     engine,
		pool:       pool.NewWorkerPool(workers),
		mirror:     mirror,
		bestEffort: besteffort.New(logger),
		logger:     logger,
	}
}

// HandleBatch processes the messages of a batch concurrently and reports the
// ones to deliver again and the ones to dead-letter.
func (p *Processor) HandleBatch(ctx context.Context, batch []kafka.Message) kafka.BatchResult {
	var (
		mu     sync.Mutex
		result kafka.BatchResult
	)

	runs := make([]<-chan bool, len(batch))
	for i, msg := range batch {
		runs[i] = p.pool.Submit(ctx, func(ctx context.Context) {
			err := p.Process(ctx, msg)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				metrics.Messages.WithLabelValues("processed").Inc()
			case errors.Is(err, errRejected):
				metrics.Messages.WithLabelValues("rejected").Inc()
				result.Rejected = append(result.Rejected, msg.ID)
			default:
				metrics.Messages.WithLabelValues("failed").Inc()
				result.FailedItems = append(result.FailedItems, msg.ID)
			}
		})
	}

	for i, ran := range runs {
		if !<-ran {
			mu.Lock()
			result.FailedItems = append(result.FailedItems, batch[i].ID)
			mu.Unlock()
		}
	}

	mu.Lock()
	defer mu.Unlock()
	return result
}

// Wait blocks until every submitted message finished.
func (p *Processor) Wait() {
	p.pool.Wait()
}

// Process handles a single message. Errors wrapping errRejected are final;
// any other error asks for redelivery.
func (p *Processor) Process(ctx context.Context, msg kafka.Message) error {
	taskMsg, err := kafka.ParseTaskMessage(msg.Value)
	if err != nil {
		p.logger.Warn("Unparsable message", zap.String("message_id", msg.ID), zap.Error(err))
		return fmt.Errorf("%w: %v", errRejected, err)
	}

	log := p.logger.With(
		zap.String("task_id", taskMsg.TaskID),
		zap.String("trace_id", taskMsg.TraceID),
		zap.String("message_id", msg.ID),
		zap.Int("receive_count", msg.ReceiveCount),
	)

	switch taskMsg.Type {
	case kafka.TypeGeneratePresentation:
		return p.generate(ctx, taskMsg, log)
	default:
		log.Warn("Unknown message type", zap.String("type", taskMsg.Type))
		return fmt.Errorf("%w: %s: %q", errRejected, models.CodeUnknownMessageType, taskMsg.Type)
	}
}

func (p *Processor) generate(ctx context.Context, msg *kafka.TaskMessage, log *zap.Logger) error {
	var req models.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		log.Warn("Invalid generate payload", zap.Error(err))
		return fmt.Errorf("%w: %s: %v", errRejected, models.CodeInvalidRequest, err)
	}

	task, err := p.tasks.GetFields(ctx, msg.TaskID, repository.AttrStatus)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			log.Warn("Task record missing")
			return fmt.Errorf("%w: %s", errRejected, models.CodeTaskNotFound)
		}
		return err
	}

	if task.Status.IsTerminal() {
		log.Info("Task already terminal, acknowledging", zap.String("status", string(task.Status)))
		return nil
	}

	if task.Status == models.StatusPending || task.Status == models.StatusProcessing {
		p.markProcessing(ctx, msg.TaskID, log)
	}

	log.Info("Processing task")
	if err := p.engine.Run(ctx, msg.TaskID, req); err != nil {
		log.Error("Workflow run failed", zap.Error(err))
		return err
	}
	return nil
}

func (p *Processor) markProcessing(ctx context.Context, taskID string, log *zap.Logger) {
	var task *models.Task
	ok := p.bestEffort.Do(ctx, "mark_processing", func(ctx context.Context) error {
		var err error
		task, err = p.tasks.Transition(ctx, taskID, models.StatusProcessing, "", nil)
		return err
	}, zap.String("task_id", taskID))
	if !ok {
		metrics.StateWriteFailures.WithLabelValues("mark_processing").Inc()
		return
	}
	log.Debug("Task marked processing", zap.Int("progress", task.Progress))

	if p.mirror != nil {
		p.bestEffort.Do(ctx, "mirror_status", func(ctx context.Context) error {
			return p.mirror.Set(ctx, taskID, task.Status, "", task.Progress)
		}, zap.String("task_id", taskID))
	}
}
