package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"presentationGenerator/api/dto"
	"presentationGenerator/api/kafka"
	"presentationGenerator/api/validation"
	"presentationGenerator/besteffort"
	"presentationGenerator/models"
	"presentationGenerator/repository"
)

// ErrTaskTerminated is returned when cancelling a task that already finished.
var ErrTaskTerminated = models.NewError(models.KindValidation, models.CodeTaskAlreadyTerminated, "task already reached a terminal status", nil)

// ViewCache stores projected views of terminal tasks.
type ViewCache interface {
	Get(ctx context.Context, taskID string) (*dto.StatusView, error)
	Set(ctx context.Context, view *dto.StatusView) error
	Delete(ctx context.Context, taskID string) error
}

type TaskService struct {
	tasks      *repository.TaskRepository
	cache      ViewCache
	producer   kafka.Producer
	topic      string
	bestEffort *besteffort.Runner
	logger     *zap.Logger
}

func NewTaskService(tasks *repository.TaskRepository, cache ViewCache, producer kafka.Producer, topic string, logger *zap.Logger) *TaskService {
	return &TaskService{
		tasks:      tasks,
		cache:      cache,
		producer:   producer,
		topic:      topic,
		bestEffort: besteffort.New(logger),
		logger:     logger,
	}
}

// CreateTask stores a pending task and enqueues it for generation.
func (s *TaskService) CreateTask(ctx context.Context, traceID string, req *dto.CreateTaskRequest) (*dto.TaskResponse, error) {
	request := req.ToModel()
	if err := validation.NormalizeRequest(&request); err != nil {
		return nil, err
	}
	if len(request.Formats) == 0 {
		request.Formats = []string{models.FormatJSON}
	}

	task := &models.Task{
		ID:       uuid.New().String(),
		Metadata: request,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	msg := &kafka.TaskMessage{
		TaskID:  task.ID,
		Type:    kafka.TypeGeneratePresentation,
		TraceID: traceID,
		Payload: payload,
	}
	if err := s.producer.SendTaskMessage(ctx, s.topic, msg); err != nil {
		return nil, fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}

	s.logger.Info("Task created",
		zap.String("trace_id", traceID),
		zap.String("task_id", task.ID),
		zap.Int("slide_count", request.SlideCount),
	)

	return &dto.TaskResponse{
		TaskID:    task.ID,
		TraceID:   traceID,
		Status:    string(task.Status),
		Progress:  task.Progress,
		CreatedAt: task.CreatedAt,
		Links:     taskLinks(task.ID),
	}, nil
}

// Cancel marks a running task cancelled. The engine notices between stages.
func (s *TaskService) Cancel(ctx context.Context, taskID string) (*dto.TaskResponse, error) {
	task, err := s.tasks.Cancel(ctx, taskID)
	switch {
	case errors.Is(err, repository.ErrTaskNotFound):
		return nil, models.NotFoundError(models.CodeTaskNotFound, "task not found")
	case errors.Is(err, repository.ErrConditionFailed):
		return nil, ErrTaskTerminated
	case err != nil:
		return nil, err
	}

	s.bestEffort.Do(ctx, "invalidate_view", func(ctx context.Context) error {
		return s.cache.Delete(ctx, taskID)
	}, zap.String("task_id", taskID))

	s.logger.Info("Task cancelled", zap.String("task_id", taskID))

	return &dto.TaskResponse{
		TaskID:    task.ID,
		Status:    string(task.Status),
		Progress:  models.Progress(task.Status, task.Stage, 0, 0),
		CreatedAt: task.CreatedAt,
		Links:     taskLinks(task.ID),
	}, nil
}

// Presentation returns the slides and the version to send back on edits.
func (s *TaskService) Presentation(ctx context.Context, taskID string) (*dto.PresentationView, error) {
	task, err := s.tasks.GetFields(ctx, taskID,
		repository.AttrTaskID, repository.AttrStatus, repository.AttrMetadata,
		repository.AttrSlides, repository.AttrVersion)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return nil, models.NotFoundError(models.CodeTaskNotFound, "task not found")
		}
		return nil, err
	}

	slides := task.Slides
	if slides == nil {
		slides = []models.Slide{}
	}
	return &dto.PresentationView{
		TaskID:  task.ID,
		Status:  string(task.Status),
		Version: task.Version,
		Request: task.Metadata,
		Slides:  slides,
		Links:   taskLinks(task.ID),
	}, nil
}
